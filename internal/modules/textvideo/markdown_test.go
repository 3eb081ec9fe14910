package textvideo

import (
	"strings"
	"testing"
)

func TestExtractMediaRefsForms(t *testing.T) {
	content := strings.Join([]string{
		"# Product update",
		"",
		"The launch went well.",
		"",
		"![launch photo](https://cdn.example/a.jpg)",
		"",
		"Attendees loved the demo.",
		"",
		`<img src="https://cdn.example/b.png" alt="booth">`,
		"",
		`<video src="https://cdn.example/c.mp4"></video>`,
		"",
		"Raw clip at https://cdn.example/d.mov for reference.",
		"",
		`<audio src="https://cdn.example/e.mp3"></audio>`,
	}, "\n")

	images, videos, audios := ExtractMediaRefs(content)
	if len(images) != 2 {
		t.Fatalf("images = %d, want 2", len(images))
	}
	if len(videos) != 2 {
		t.Fatalf("videos = %d, want 2", len(videos))
	}
	if len(audios) != 1 {
		t.Fatalf("audios = %d, want 1", len(audios))
	}

	first := images[0]
	if first.URL != "https://cdn.example/a.jpg" {
		t.Fatalf("first image url = %q", first.URL)
	}
	if first.Caption != "launch photo" {
		t.Fatalf("caption = %q", first.Caption)
	}
	if first.ContextBefore != "The launch went well." {
		t.Fatalf("context_before = %q", first.ContextBefore)
	}
	if first.ContextAfter != "Attendees loved the demo." {
		t.Fatalf("context_after = %q", first.ContextAfter)
	}
}

func TestExtractMediaRefsFallbackWindow(t *testing.T) {
	// A lone reference with no surrounding paragraphs and no caption
	// falls back to the fixed character window.
	content := "xxxxxxxxxx ![](https://cdn.example/solo.jpg) yyyyyyyyyy"
	images, _, _ := ExtractMediaRefs(content)
	if len(images) != 1 {
		t.Fatalf("images = %d, want 1", len(images))
	}
	if images[0].ContextBefore == "" && images[0].ContextAfter == "" {
		t.Fatal("expected fallback window context")
	}
	if !strings.Contains(images[0].ContextBefore, "xxxxxxxxxx") {
		t.Fatalf("context_before = %q", images[0].ContextBefore)
	}
}

func TestExtractMediaRefsDedup(t *testing.T) {
	content := strings.Join([]string{
		"![first](https://cdn.example/dup.jpg)",
		"",
		"Paragraph between.",
		"",
		"![second](https://cdn.example/dup.jpg)",
	}, "\n")
	images, _, _ := ExtractMediaRefs(content)
	if len(images) != 1 {
		t.Fatalf("images = %d, want 1 after dedup", len(images))
	}
	if images[0].Caption != "first" {
		t.Fatalf("dedup should keep first occurrence, got caption %q", images[0].Caption)
	}
}

func TestExtractMediaRefsDirectVideoQueryString(t *testing.T) {
	content := "See https://cdn.example/clip.mp4?sig=abc123 today."
	_, videos, _ := ExtractMediaRefs(content)
	if len(videos) != 1 {
		t.Fatalf("videos = %d, want 1", len(videos))
	}
	if videos[0].URL != "https://cdn.example/clip.mp4?sig=abc123" {
		t.Fatalf("url = %q", videos[0].URL)
	}
}

func TestValidateManifestEmpty(t *testing.T) {
	if err := ValidateManifest("   \n \n"); err == nil {
		t.Fatal("expected error for whitespace-only manifest")
	}
}

func TestValidateManifestCommentOnly(t *testing.T) {
	content := "<!-- Unavailable markdown: https://x -->\n<!-- Unavailable markdown: https://y -->"
	if err := ValidateManifest(content); err == nil {
		t.Fatal("expected error for comment-only manifest")
	}
}

func TestValidateManifestTooShort(t *testing.T) {
	if err := ValidateManifest("hi"); err == nil {
		t.Fatal("expected error for too-short manifest")
	}
}

func TestValidateManifestOK(t *testing.T) {
	if err := ValidateManifest("# A real document\n\nWith some content."); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
