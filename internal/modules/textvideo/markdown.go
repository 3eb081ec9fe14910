package textvideo

import (
	"fmt"
	"regexp"
	"strings"
)

// MediaRef is one media reference found in the source manifest, together
// with its sandwich context: the previous non-empty paragraph, the
// caption/alt text, and the next non-empty paragraph.
type MediaRef struct {
	URL                  string
	MediaType            string // image|video|audio
	Position             int    // byte offset of the match in the full document
	ContextBefore        string
	Caption              string
	ContextAfter         string
	SurroundingParagraph string
	ExtractionMethod     string
}

var (
	mdImageRe    = regexp.MustCompile(`!\[(?P<alt>.*?)\]\((?P<url>[^)]+)\)`)
	htmlImageRe  = regexp.MustCompile(`(?i)<img[^>]*src=["'](?P<url>.*?)["'][^>]*?(?:alt=["'](?P<alt>.*?)["'])?[^>]*?>`)
	htmlVideoRe  = regexp.MustCompile(`(?i)<(?:video|source)[^>]*src=["'](?P<url>.*?)["'][^>]*?>`)
	htmlAudioRe  = regexp.MustCompile(`(?i)<audio[^>]*src=["'](?P<url>.*?)["'][^>]*?>`)
	directVideoRe = regexp.MustCompile(`(?i)https?://[^\s<>"\)]+?\.(?:mp4|mov|avi|mkv|wmv|flv|webm)(?:\?[^\s<>"\)]*)?`)
	directAudioRe = regexp.MustCompile(`(?i)https?://[^\s<>"\)]+?\.(?:mp3|wav|flac|aac|ogg|m4a)(?:\?[^\s<>"\)]*)?`)
)

const contextWindow = 50

type block struct {
	text  string
	start int
	end   int
}

// splitBlocks splits the document on blank lines, preserving each block's
// offset in the original text.
func splitBlocks(content string) []block {
	var blocks []block
	offset := 0
	for _, chunk := range strings.Split(content, "\n\n") {
		idx := strings.Index(content[offset:], chunk)
		if idx < 0 {
			idx = 0
		}
		start := offset + idx
		blocks = append(blocks, block{
			text:  strings.TrimSpace(chunk),
			start: start,
			end:   start + len(chunk),
		})
		offset = start + len(chunk)
	}
	return blocks
}

func prevParagraph(blocks []block, i int) string {
	for j := i - 1; j >= 0; j-- {
		if blocks[j].text != "" {
			return blocks[j].text
		}
	}
	return ""
}

func nextParagraph(blocks []block, i int) string {
	for j := i + 1; j < len(blocks); j++ {
		if blocks[j].text != "" {
			return blocks[j].text
		}
	}
	return ""
}

// ExtractMediaRefs walks the manifest block by block and extracts media
// references with sandwich context. When the previous paragraph, caption
// and next paragraph are all empty it falls back to a fixed character
// window around the reference. Within each media type, references are
// de-duplicated by URL preserving first occurrence.
func ExtractMediaRefs(content string) (images, videos, audios []MediaRef) {
	blocks := splitBlocks(content)

	appendRef := func(dst *[]MediaRef, blocks []block, i int, matchStart, matchLen int, url, caption, mediaType, method string) {
		blk := blocks[i]
		pos := blk.start + matchStart
		before := prevParagraph(blocks, i)
		after := nextParagraph(blocks, i)
		if before == "" && caption == "" && after == "" {
			lo := pos - contextWindow
			if lo < 0 {
				lo = 0
			}
			hi := pos + matchLen + contextWindow
			if hi > len(content) {
				hi = len(content)
			}
			before = strings.TrimSpace(content[lo:pos])
			after = strings.TrimSpace(content[pos+matchLen : hi])
		}
		*dst = append(*dst, MediaRef{
			URL:                  url,
			MediaType:            mediaType,
			Position:             pos,
			ContextBefore:        before,
			Caption:              caption,
			ContextAfter:         after,
			SurroundingParagraph: blk.text,
			ExtractionMethod:     method,
		})
	}

	for i, blk := range blocks {
		text := blk.text
		if text == "" {
			continue
		}

		for _, m := range mdImageRe.FindAllStringSubmatchIndex(text, -1) {
			url := text[m[4]:m[5]]
			alt := strings.TrimSpace(text[m[2]:m[3]])
			appendRef(&images, blocks, i, m[0], m[1]-m[0], url, alt, "image", "markdown image")
		}
		for _, m := range htmlImageRe.FindAllStringSubmatchIndex(text, -1) {
			url := text[m[2]:m[3]]
			alt := ""
			if m[4] >= 0 {
				alt = strings.TrimSpace(text[m[4]:m[5]])
			}
			appendRef(&images, blocks, i, m[0], m[1]-m[0], url, alt, "image", "html image")
		}
		for _, m := range htmlVideoRe.FindAllStringSubmatchIndex(text, -1) {
			url := text[m[2]:m[3]]
			appendRef(&videos, blocks, i, m[0], m[1]-m[0], url, "", "video", "html video")
		}
		for _, m := range directVideoRe.FindAllStringIndex(text, -1) {
			url := text[m[0]:m[1]]
			appendRef(&videos, blocks, i, m[0], m[1]-m[0], url, "", "video", "direct video url")
		}
		for _, m := range htmlAudioRe.FindAllStringSubmatchIndex(text, -1) {
			url := text[m[2]:m[3]]
			appendRef(&audios, blocks, i, m[0], m[1]-m[0], url, "", "audio", "html audio")
		}
		for _, m := range directAudioRe.FindAllStringIndex(text, -1) {
			url := text[m[0]:m[1]]
			appendRef(&audios, blocks, i, m[0], m[1]-m[0], url, "", "audio", "direct audio url")
		}
	}

	images = dedupeByURL(images)
	videos = dedupeByURL(videos)
	audios = dedupeByURL(audios)
	return images, videos, audios
}

func dedupeByURL(refs []MediaRef) []MediaRef {
	seen := make(map[string]bool, len(refs))
	out := refs[:0]
	for _, ref := range refs {
		if seen[ref.URL] {
			continue
		}
		seen[ref.URL] = true
		out = append(out, ref)
	}
	return out
}

// ValidateManifest rejects sources with no effective content: empty or
// whitespace-only documents, comment-only documents (every line starting
// with "<!--", the marker used for failed downloads), or fewer than 10
// effective characters.
func ValidateManifest(content string) error {
	if strings.TrimSpace(content) == "" {
		return &MaterialError{Msg: "source file is empty"}
	}
	var effective []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "<!--") {
			continue
		}
		effective = append(effective, line)
	}
	if len(effective) == 0 {
		return &MaterialError{Msg: "no effective source content"}
	}
	if len(strings.TrimSpace(strings.Join(effective, "\n"))) < 10 {
		return &MaterialError{Msg: fmt.Sprintf("effective source content too short (%d lines)", len(effective))}
	}
	return nil
}
