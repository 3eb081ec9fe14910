package textvideo

import (
	"testing"
)

func TestParseModelJSONPlain(t *testing.T) {
	out, err := ParseModelJSON(`{"description": "a dog", "keywords": ["dog"]}`)
	if err != nil {
		t.Fatalf("ParseModelJSON: %v", err)
	}
	if out["description"] != "a dog" {
		t.Fatalf("description = %v", out["description"])
	}
}

func TestParseModelJSONMarkdownFence(t *testing.T) {
	text := "```json\n{\"title\": \"hello\"}\n```"
	out, err := ParseModelJSON(text)
	if err != nil {
		t.Fatalf("ParseModelJSON: %v", err)
	}
	if out["title"] != "hello" {
		t.Fatalf("title = %v", out["title"])
	}
}

func TestParseModelJSONLeadingProse(t *testing.T) {
	text := "Sure, here is the analysis you asked for:\n{\"title\": \"x\", \"tags\": [\"a\", \"b\"]}"
	out, err := ParseModelJSON(text)
	if err != nil {
		t.Fatalf("ParseModelJSON: %v", err)
	}
	if out["title"] != "x" {
		t.Fatalf("title = %v", out["title"])
	}
}

func TestParseModelJSONTruncatedString(t *testing.T) {
	// Cut off mid-string literal: repair closes the string, then the
	// brace.
	text := `{"narration": "the story begins`
	out, err := ParseModelJSON(text)
	if err != nil {
		t.Fatalf("ParseModelJSON: %v", err)
	}
	if out["narration"] != "the story begins" {
		t.Fatalf("narration = %v", out["narration"])
	}
}

func TestParseModelJSONTruncatedArray(t *testing.T) {
	text := `{"titles": ["one", "two"`
	out, err := ParseModelJSON(text)
	if err != nil {
		t.Fatalf("ParseModelJSON: %v", err)
	}
	titles, ok := out["titles"].([]any)
	if !ok || len(titles) != 2 {
		t.Fatalf("titles = %v", out["titles"])
	}
}

func TestParseModelJSONEmpty(t *testing.T) {
	if _, err := ParseModelJSON("   "); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestApplyFieldAliases(t *testing.T) {
	parsed := map[string]any{
		"visual_description": "desc",
		"contextual_meaning": "meaning",
		"keywords":           []any{"k1"},
	}
	applyFieldAliases(parsed)
	if parsed["description"] != "desc" {
		t.Fatalf("description alias not applied: %v", parsed["description"])
	}
	if parsed["contextual_description"] != "meaning" {
		t.Fatalf("contextual alias not applied: %v", parsed["contextual_description"])
	}
	if _, ok := parsed["tags"]; !ok {
		t.Fatal("keywords alias not applied")
	}
}

func TestApplyFieldAliasesKeepsCanonical(t *testing.T) {
	parsed := map[string]any{
		"description":        "canonical",
		"visual_description": "alias",
	}
	applyFieldAliases(parsed)
	if parsed["description"] != "canonical" {
		t.Fatalf("canonical field overwritten: %v", parsed["description"])
	}
}
