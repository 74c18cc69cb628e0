// Package parser turns a raw model completion into a typed Artifact using
// the ===NAME_START=== / ===NAME_END=== marker protocol.
package parser

import (
	"regexp"
	"strings"
)

// Section names of the marker protocol.
const (
	SectionBlocks = "BLOCKS"
	SectionCSS    = "CSS"
	SectionJS     = "JS"
	SectionImages = "IMAGES"
	SectionSEO    = "SEO"
)

// Parse error messages.
const (
	ErrBlocksMissing = "blocks section missing: expected ===BLOCKS_START=== and ===BLOCKS_END=== markers"
	ErrBlocksEmpty   = "blocks section is empty"
)

// SEO holds the recognised SEO fields; absent keys stay empty.
type SEO struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Keywords    string `json:"keywords"`
}

// Artifact is the parsed form of one completion. It is never nil-valued:
// absent optional sections yield empty fields.
type Artifact struct {
	Markup       string            `json:"markup"`
	CSS          string            `json:"css"`
	JS           string            `json:"js"`
	Images       map[string]string `json:"images"`
	Placeholders []string          `json:"placeholders"`
	SEO          SEO               `json:"seo"`
	Errors       []string          `json:"errors"`
}

// Degraded reports whether parsing recorded any error.
func (a Artifact) Degraded() bool {
	return len(a.Errors) > 0
}

// ImageDescription returns the IMAGES description for a placeholder, or the
// fallback's value when the model referenced it without describing it.
func (a Artifact) ImageDescription(name string, fallback func(string) string) string {
	if desc := strings.TrimSpace(a.Images[name]); desc != "" {
		return desc
	}
	if fallback == nil {
		return ""
	}
	return fallback(name)
}

// Parse extracts every section from raw. It never fails; a missing or empty
// BLOCKS section is reported through Artifact.Errors.
func Parse(raw string) Artifact {
	art := Artifact{
		Images:       map[string]string{},
		Placeholders: []string{},
		Errors:       []string{},
	}

	blocks, ok := ExtractSection(raw, SectionBlocks)
	switch {
	case !ok:
		art.Errors = append(art.Errors, ErrBlocksMissing)
	default:
		art.Markup = CleanMarkup(blocks)
		if art.Markup == "" {
			art.Errors = append(art.Errors, ErrBlocksEmpty)
		}
	}

	if css, ok := ExtractSection(raw, SectionCSS); ok {
		art.CSS = CleanCSS(css)
	}
	if js, ok := ExtractSection(raw, SectionJS); ok {
		art.JS = CleanJS(js)
	}
	if images, ok := extractWithLegacy(raw, SectionImages); ok {
		art.Images = ParseImages(images)
	}
	if seo, ok := extractWithLegacy(raw, SectionSEO); ok {
		art.SEO = ParseSEO(seo)
	}
	art.Placeholders = ImagePlaceholders(art.Markup)
	return art
}

// ExtractSection returns the text between the first ===NAME_START=== and the
// first ===NAME_END=== after it.
func ExtractSection(content, name string) (string, bool) {
	return between(content, "==="+name+"_START===", "==="+name+"_END===")
}

// extractWithLegacy also accepts the bare ===NAME=== opening marker.
func extractWithLegacy(content, name string) (string, bool) {
	if s, ok := ExtractSection(content, name); ok {
		return s, true
	}
	return between(content, "==="+name+"===", "==="+name+"_END===")
}

func between(content, start, end string) (string, bool) {
	i := strings.Index(content, start)
	if i < 0 {
		return "", false
	}
	rest := content[i+len(start):]
	j := strings.Index(rest, end)
	if j < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:j]), true
}

var (
	fenceRe        = regexp.MustCompile("(?m)^[ \t]*```[A-Za-z0-9_+-]*[ \t]*$\n?")
	inlineFenceRe  = regexp.MustCompile("```[A-Za-z0-9_+-]*")
	htmlCommentRe  = regexp.MustCompile(`(?s)<!--.*?-->`)
	blockMarkerRe  = regexp.MustCompile(`^<!--\s*/?wp:`)
	blockCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
	lineCommentRe  = regexp.MustCompile(`(?m)(^|[ \t])//.*$`)
	blankLinesRe   = regexp.MustCompile(`\n\s*\n`)
	placeholderRe  = regexp.MustCompile(`\[([A-Z0-9_]+_IMAGE)\]`)
	imageLineRe    = regexp.MustCompile(`^\s*\[([A-Z0-9_]+)\]\s*:\s*(.+?)\s*$`)
	seoLineRe      = regexp.MustCompile(`^\s*([A-Za-z_]+)\s*:\s*(.*?)\s*$`)
)

func stripFences(s string) string {
	s = fenceRe.ReplaceAllString(s, "")
	return inlineFenceRe.ReplaceAllString(s, "")
}

// CleanMarkup removes code fences and every HTML comment that is not a
// block open/close marker (<!-- wp:... --> or <!-- /wp:... -->).
func CleanMarkup(s string) string {
	s = stripFences(s)
	s = htmlCommentRe.ReplaceAllStringFunc(s, func(c string) string {
		if blockMarkerRe.MatchString(c) {
			return c
		}
		return ""
	})
	return strings.TrimSpace(s)
}

// CleanCSS removes code fences and comments, then collapses blank lines.
func CleanCSS(s string) string {
	return cleanCode(s)
}

// CleanJS removes code fences and comments, then collapses blank lines.
// A // sequence directly after a non-space character (as in a URL scheme)
// is kept.
func CleanJS(s string) string {
	return cleanCode(s)
}

func cleanCode(s string) string {
	s = stripFences(s)
	s = blockCommentRe.ReplaceAllString(s, "")
	s = lineCommentRe.ReplaceAllString(s, "$1")
	s = blankLinesRe.ReplaceAllString(s, "\n")
	return strings.TrimSpace(s)
}

// ParseImages reads "[NAME]: description" lines; other lines are ignored.
func ParseImages(s string) map[string]string {
	out := map[string]string{}
	for _, line := range strings.Split(s, "\n") {
		m := imageLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		out[m[1]] = m[2]
	}
	return out
}

// ParseSEO reads "key: value" lines into the fixed SEO field set.
func ParseSEO(s string) SEO {
	var seo SEO
	for _, line := range strings.Split(s, "\n") {
		m := seoLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		switch strings.ToLower(m[1]) {
		case "title":
			seo.Title = m[2]
		case "description":
			seo.Description = m[2]
		case "keywords":
			seo.Keywords = m[2]
		}
	}
	return seo
}

// ImagePlaceholders lists [NAME_IMAGE] tokens in order of first appearance.
func ImagePlaceholders(markup string) []string {
	out := []string{}
	seen := map[string]struct{}{}
	for _, m := range placeholderRe.FindAllStringSubmatch(markup, -1) {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		out = append(out, m[1])
	}
	return out
}

// ReplacePlaceholders substitutes [NAME] tokens with the mapped URLs.
func ReplacePlaceholders(markup string, urls map[string]string) string {
	if len(urls) == 0 {
		return markup
	}
	pairs := make([]string, 0, len(urls)*2)
	for name, url := range urls {
		pairs = append(pairs, "["+name+"]", url)
	}
	return strings.NewReplacer(pairs...).Replace(markup)
}
