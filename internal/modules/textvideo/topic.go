package textvideo

import (
	"regexp"
	"strings"
)

var (
	headingRe    = regexp.MustCompile(`(?m)^#\s+(.+)$`)
	mdPunctRe    = regexp.MustCompile(`[#*\-\[\](){}]`)
	defaultTopic = "Video highlights"
)

// ExtractTopic pulls a short topic out of the manifest: the first level-1
// heading if present, otherwise the first non-empty line stripped of
// markdown punctuation and truncated to 50 characters.
func ExtractTopic(content string) string {
	if m := headingRe.FindStringSubmatch(content); m != nil {
		return strings.TrimSpace(m[1])
	}
	clean := mdPunctRe.ReplaceAllString(content, "")
	for _, line := range strings.Split(clean, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		runes := []rune(line)
		if len(runes) > 50 {
			return string(runes[:50]) + "..."
		}
		return line
	}
	return defaultTopic
}
