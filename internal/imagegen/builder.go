// Package imagegen builds deterministic image-generation URLs for the
// [NAME_IMAGE] placeholders a completion references.
package imagegen

import (
	"fmt"
	"hash/crc32"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://image.pollinations.ai/prompt/"
	DefaultModel   = "flux"

	maxDescription = 500
	qualitySuffix  = ", high quality, professional photography, detailed"
	fallbackPrompt = "Professional business image, modern, high quality"
)

// Size is an image width and height in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DefaultSize applies when no size rule matches the placeholder name.
var DefaultSize = Size{Width: 1200, Height: 800}

// Rules are checked in order; the first fragment contained in the name wins.
var sizeRules = []struct {
	fragment string
	size     Size
}{
	{"HERO", Size{1920, 1080}},
	{"FEATURE", Size{800, 600}},
	{"ABOUT", Size{1200, 800}},
	{"TESTIMONIAL", Size{400, 400}},
	{"ICON", Size{256, 256}},
	{"LOGO", Size{512, 512}},
	{"BACKGROUND", Size{1920, 1080}},
	{"PRODUCT", Size{800, 800}},
	{"TEAM", Size{600, 600}},
	{"GALLERY", Size{1200, 800}},
}

var defaultDescriptions = map[string]string{
	"HERO_IMAGE":       "Modern business hero image, professional team working, bright office, natural lighting",
	"FEATURE_1_IMAGE":  "Abstract technology concept, modern minimalist style, blue gradient",
	"FEATURE_2_IMAGE":  "Business innovation concept, clean design, professional",
	"FEATURE_3_IMAGE":  "Customer service excellence, friendly professional, modern office",
	"ABOUT_IMAGE":      "Professional team photo, modern office environment, natural lighting",
	"CTA_IMAGE":        "Inspiring business success image, modern aesthetic",
	"BACKGROUND_IMAGE": "Abstract gradient background, modern, professional, subtle pattern",
}

var (
	tagRe            = regexp.MustCompile(`<[^>]*>`)
	qualityKeywordRe = regexp.MustCompile(`(?i)high quality|4k|professional|detailed`)
)

// Image is a resolved placeholder.
type Image struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Size        Size   `json:"size"`
	Seed        uint32 `json:"seed"`
	URL         string `json:"url"`
}

// Option customises a Builder.
type Option func(*Builder)

// WithBaseURL overrides the image endpoint prefix.
func WithBaseURL(base string) Option {
	return func(b *Builder) {
		if base != "" {
			b.baseURL = base
		}
	}
}

// WithModel overrides the image model parameter.
func WithModel(model string) Option {
	return func(b *Builder) {
		if model != "" {
			b.model = model
		}
	}
}

// WithClock overrides the time source used for seeds.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// Builder produces image URLs.
type Builder struct {
	baseURL string
	model   string
	now     func() time.Time
}

// New constructs a Builder.
func New(opts ...Option) Builder {
	b := Builder{baseURL: DefaultBaseURL, model: DefaultModel, now: time.Now}
	for _, opt := range opts {
		opt(&b)
	}
	if !strings.HasSuffix(b.baseURL, "/") {
		b.baseURL += "/"
	}
	return b
}

// URL returns the generation URL for a description.
func (b Builder) URL(description string, width, height int, seed uint32) string {
	prompt := url.PathEscape(PreparePrompt(description))
	params := make([]string, 0, 5)
	if width > 0 {
		params = append(params, fmt.Sprintf("width=%d", width))
	}
	if height > 0 {
		params = append(params, fmt.Sprintf("height=%d", height))
	}
	if seed > 0 {
		params = append(params, fmt.Sprintf("seed=%d", seed))
	}
	if b.model != "" {
		params = append(params, "model="+url.QueryEscape(b.model))
	}
	params = append(params, "nologo=true")
	return b.baseURL + prompt + "?" + strings.Join(params, "&")
}

// Resolve builds an Image for every placeholder. describe returns the
// model-supplied description, or "" when the model gave none.
func (b Builder) Resolve(placeholders []string, describe func(string) string) []Image {
	out := make([]Image, 0, len(placeholders))
	for _, name := range placeholders {
		desc := ""
		if describe != nil {
			desc = strings.TrimSpace(describe(name))
		}
		if desc == "" {
			desc = DefaultDescription(name)
		}
		size := SizeFor(name)
		seed := Seed(name, b.now())
		out = append(out, Image{
			Name:        name,
			Description: desc,
			Size:        size,
			Seed:        seed,
			URL:         b.URL(desc, size.Width, size.Height, seed),
		})
	}
	return out
}

// SizeFor maps a placeholder name to its image size.
func SizeFor(name string) Size {
	for _, rule := range sizeRules {
		if strings.Contains(name, rule.fragment) {
			return rule.size
		}
	}
	return DefaultSize
}

// DefaultDescription is used for placeholders the model did not describe.
func DefaultDescription(name string) string {
	if desc, ok := defaultDescriptions[name]; ok {
		return desc
	}
	return fallbackPrompt
}

// Seed is stable for a placeholder within one calendar day.
func Seed(name string, day time.Time) uint32 {
	return crc32.ChecksumIEEE([]byte(name + day.Format("2006-01-02")))
}

// PreparePrompt strips markup, appends the quality suffix when no quality
// keyword is present, and caps the result.
func PreparePrompt(description string) string {
	prompt := strings.TrimSpace(tagRe.ReplaceAllString(description, ""))
	if !qualityKeywordRe.MatchString(prompt) {
		prompt += qualitySuffix
	}
	if len(prompt) > maxDescription {
		prompt = truncate(prompt, maxDescription-3) + "..."
	}
	return prompt
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8Start(s[n]) {
		n--
	}
	return s[:n]
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}
