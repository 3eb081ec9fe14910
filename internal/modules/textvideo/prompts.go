package textvideo

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/solocore/textloom/internal/types"
)

// Vision analysis prompt. The AI client is a thin forwarder; all prompt
// content is assembled here, deterministically, from the media item and
// its sandwich context.

const visionRoleBlock = `# Role
You are a senior AI media analyst and short-video content strategist. Your job is to deeply
understand the given visual material and its text context, and output a structured JSON
analysis report directly usable for video script writing.

# Workflow (follow strictly)
1. Analyze the visual: describe content, composition, style and emotional tone objectively.
   If the material contains legible text, extract it via OCR in full.
2. Analyze the context: read the provided text context and answer the core question: why did
   the author place this material here? Summarize its deeper meaning and role in the article.
3. Suggest the narrative function: based on the two steps above, pick 1-3 best-matching roles
   from ["opening_hook", "data_evidence", "b_roll_material", "product_showcase",
   "concept_explanation", "emotional_highlight", "conclusion_summary"].
4. Format the output: integrate everything into one strict JSON object.`

const visionOutputBlock = `# Output
Respond with exactly one JSON object and nothing else:

{
  "material_id": "%s",
  "material_type": "%s",
  "visual_description": "...",
  "contextual_meaning": "...",
  "extracted_text_ocr": "...",
  "suggested_narrative_functions": ["...", "..."],
  "keywords": ["...", "..."]
}`

// BuildVisionPrompt bundles the inspection instructions, the sandwich
// context, the caption, the material id and the strict output schema.
func BuildVisionPrompt(item *types.MediaItem, materialID string, resolution string, materialType string) string {
	var sandwich []string
	if item.SurroundingParagraph != "" {
		sandwich = append(sandwich, "[Containing paragraph]\n"+item.SurroundingParagraph)
	}
	if item.ContextBefore != "" {
		sandwich = append(sandwich, "[Preceding text]\n"+item.ContextBefore)
	}
	if item.Caption != "" {
		sandwich = append(sandwich, "[Caption]\n"+item.Caption)
	}
	if item.ContextAfter != "" {
		sandwich = append(sandwich, "[Following text]\n"+item.ContextAfter)
	}
	sandwichBlock := "(none)"
	if len(sandwich) > 0 {
		sandwichBlock = strings.Join(sandwich, "\n\n")
	}

	parts := []string{
		visionRoleBlock,
		"# Input\n1. Visual material: (attached image)\n2. Text context (context sandwich):\n" + sandwichBlock,
		fmt.Sprintf("3. Resolution: %s\n4. material_id: %s\n5. material_type: %s", resolution, materialID, materialType),
		fmt.Sprintf(visionOutputBlock, materialID, materialType),
	}
	return strings.Join(parts, "\n\n---\n")
}

// Script generation prompt assembly.

// scriptStyleConfig is the built-in fallback used when no prompt template
// row exists for the style.
type scriptStyleConfig struct {
	RoleDescription string
	CoreTask        string
	Methodology     string
}

var scriptStyles = map[string]scriptStyleConfig{
	types.ScriptStyleDefault: {
		RoleDescription: `## System role
You are a professional short-video scriptwriter. You turn long-form articles and their media
materials into tight, engaging narrated video scripts.`,
		CoreTask: `## Core task
Produce a complete narration plus a scene-by-scene plan that covers the article's key points
and maps each scene to exactly one of the provided materials.`,
		Methodology: `## Methodology
Open with a hook, keep sentences short and spoken-language, order scenes to follow the
article's argument, and close with a crisp takeaway.`,
	},
	types.ScriptStyleProductGeek: {
		RoleDescription: `## System role
You are a product-geek tech reviewer. Your scripts are enthusiastic, spec-literate and
benefit-driven, aimed at viewers who love product detail.`,
		CoreTask: `## Core task
Produce a product-focused narration plus a scene plan: lead with what is new, prove it with
the provided materials, and map each scene to exactly one material.`,
		Methodology: `## Methodology
Hook with the single most surprising capability, walk through concrete specs and use cases,
compare against the obvious alternative, end with who should buy it.`,
	},
}

const scriptOutputBlock = `## Output format
Respond strictly with one JSON object in this shape; scenes must reference real material ids:
{
    "titles": ["title 1", "title 2", "title 3"],
    "narration": "the complete narration text",
    "scenes": [
        {
            "scene_id": 1,
            "timing": "0-5s",
            "narration": "narration for this scene",
            "material_id": "material_id_1",
            "description": "scene description"
        }
    ],
    "description": "overall video description",
    "tags": ["tag1", "tag2", "tag3"],
    "estimated_duration": 60
}

Important:
1. material_id in scenes must be one of the provided material ids.
2. Pick the material whose description best matches each scene.
3. material_id may be null when a scene needs no material.
4. Never reference a material id that was not declared.`

// MaterialContextEntry is one completed analysis exposed to the LLM.
type MaterialContextEntry struct {
	MaterialID  string
	Type        string // image|video
	Description string
	URL         string
}

// ScriptPromptInput is everything the prompt builder needs.
type ScriptPromptInput struct {
	Topic            string
	UserRequirements string
	SourceContent    string
	Style            string
	Persona          *types.Persona
	Materials        []MaterialContextEntry

	// DB-backed template overrides; empty falls back to the built-ins.
	SystemTemplate  string
	ContentTemplate string
}

const maxSourceChars = 20000

// BuildScriptPrompt assembles the full generation prompt: system role,
// persona, topic and requirements, truncated source text, the material
// context with hard constraints, and the strict output schema.
func BuildScriptPrompt(in ScriptPromptInput) string {
	var parts []string

	if in.SystemTemplate != "" {
		parts = append(parts, "## System role\n"+in.SystemTemplate)
	} else {
		style, ok := scriptStyles[in.Style]
		if !ok {
			style = scriptStyles[types.ScriptStyleDefault]
		}
		parts = append(parts, style.RoleDescription, style.CoreTask, style.Methodology)
	}

	if in.Persona != nil {
		parts = append(parts, personaBlock(in.Persona))
	}

	requirements := in.UserRequirements
	if requirements == "" {
		requirements = "none"
	}
	parts = append(parts, fmt.Sprintf("## Generation request\n- Topic: %s\n- User requirements: %s", in.Topic, requirements))

	if in.SourceContent != "" {
		source := in.SourceContent
		if len(source) > maxSourceChars {
			source = source[:maxSourceChars] + "..."
		}
		parts = append(parts, "## Source text\n"+source)
	}

	if len(in.Materials) > 0 {
		parts = append(parts, materialContextBlock(in.Materials))
	}

	if in.ContentTemplate != "" {
		parts = append(parts, "## Generation instructions\n"+in.ContentTemplate)
	}

	parts = append(parts, scriptOutputBlock)
	return strings.Join(parts, "\n\n")
}

func personaBlock(p *types.Persona) string {
	keywords := "none"
	if len(p.Keywords) > 0 {
		var kw []string
		_ = jsonUnmarshalLenient(p.Keywords, &kw)
		if len(kw) > 0 {
			keywords = strings.Join(kw, ", ")
		}
	}
	return fmt.Sprintf(`## Persona
- Name: %s
- Type: %s
- Style: %s
- Target audience: %s
- Characteristics: %s
- Tone: %s
- Keywords: %s`,
		orUnknown(p.Name), orUnknown(p.PersonaType), orUnknown(p.Style),
		orUnknown(p.TargetAudience), orUnknown(p.Characteristics), orUnknown(p.Tone), keywords)
}

// materialContextBlock enumerates the available materials and appends the
// hard constraints: one material per scene, the coverage target, video
// materials first and in full, adaptive scene count, declared ids only.
func materialContextBlock(materials []MaterialContextEntry) string {
	typeSet := map[string]bool{}
	var videoIDs []string
	var b strings.Builder

	b.WriteString("## Material context\n")
	fmt.Fprintf(&b, "- Available materials: %d\n", len(materials))

	for _, m := range materials {
		typeSet[m.Type] = true
		if m.Type == types.MediaTypeVideo {
			videoIDs = append(videoIDs, m.MaterialID)
		}
	}
	typeNames := make([]string, 0, len(typeSet))
	for t := range typeSet {
		typeNames = append(typeNames, t)
	}
	sort.Strings(typeNames)
	fmt.Fprintf(&b, "- Material types: %s\n", strings.Join(typeNames, ", "))

	b.WriteString("\n## Available materials\n")
	for _, m := range materials {
		desc := m.Description
		if desc == "" {
			desc = "no description"
		}
		fmt.Fprintf(&b, "- Material ID: %s\n  Type: %s\n  Description: %s\n  URL: %s\n\n",
			m.MaterialID, m.Type, desc, m.URL)
	}

	coverageMin := int(math.Round(float64(len(materials)) * 0.8))
	if coverageMin < 1 {
		coverageMin = 1
	}
	videoPriority := "no video materials"
	if len(videoIDs) > 0 {
		videoPriority = strings.Join(videoIDs, ", ")
	}

	fmt.Fprintf(&b, `## Hard constraints (follow strictly)
- Scene-material mapping: each scene references exactly one material (material_id must not be an array or multiple ids).
- Coverage target: use at least 80%% of the completed materials (>= %d); every scene is bound to exactly one material.
- Video priority: the following video material ids MUST be used first and in their entirety (if any): %s.
- Scene count: adapt the number of scenes to the material count (equal or slightly fewer, merging is fine as long as the coverage target holds).
- Material usage: only use declared material ids, never invent one.`, coverageMin, videoPriority)

	return b.String()
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}
