// Package generate turns a site description into a parsed, image-resolved
// project by way of the model client.
package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/splax/pagesmith/internal/apperr"
	"github.com/splax/pagesmith/internal/domain"
	"github.com/splax/pagesmith/internal/imagegen"
	"github.com/splax/pagesmith/internal/llm"
	"github.com/splax/pagesmith/internal/parser"
	"github.com/splax/pagesmith/internal/repository"
	"github.com/splax/pagesmith/internal/service/logs"
)

// Frameworks and languages.
const (
	FrameworkTailwind  = "tailwind"
	FrameworkBootstrap = "bootstrap"
	FrameworkVanilla   = "vanilla"
	FrameworkPanda     = "panda"
	FrameworkUno       = "uno"

	LanguageIndonesian = "id"
	LanguageEnglish    = "en"
)

const (
	// historyKeep is how many generations per project are retained.
	historyKeep     = 4
	maxNameWords    = 5
	maxNameLength   = 50
	untitledProject = "Untitled Project"
	maxSlugLength   = 80
)

// DefaultSections is used when Options.Sections is empty.
var DefaultSections = []string{"hero", "features", "about", "cta", "footer"}

var (
	errEmptyPrompt   = apperr.New(apperr.KindInvalid, "prompt is required")
	errEmptyResponse = apperr.New(apperr.KindUpstream, "model returned an empty response")

	tagPattern = regexp.MustCompile(`<[^>]*>`)
)

// Completer issues chat completions.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Completion, error)
}

// ImageMirror copies generated images into object storage.
type ImageMirror interface {
	MirrorAll(ctx context.Context, images []imagegen.Image) map[string]string
}

// EventSink receives pipeline progress for a project.
type EventSink interface {
	Emit(ctx context.Context, projectID, source, level, message string, metadata map[string]any)
}

// Options tunes one generation.
type Options struct {
	ProjectID    string   `json:"project_id,omitempty"`
	Name         string   `json:"name,omitempty"`
	Framework    string   `json:"framework,omitempty"`
	Language     string   `json:"language,omitempty"`
	StyleHints   string   `json:"style_hints,omitempty"`
	BusinessType string   `json:"business_type,omitempty"`
	Sections     []string `json:"sections,omitempty"`
	Model        string   `json:"model,omitempty"`
	MirrorImages bool     `json:"mirror_images,omitempty"`
	PWA          bool     `json:"pwa,omitempty"`
	Subdomain    string   `json:"subdomain,omitempty"`
}

// Result is the outcome of Generate or Preview.
type Result struct {
	Project     *domain.Project   `json:"project,omitempty"`
	Artifact    parser.Artifact   `json:"artifact"`
	Images      []imagegen.Image  `json:"images"`
	ImageURLs   map[string]string `json:"image_urls"`
	ParseErrors []string          `json:"parse_errors"`
	Model       string            `json:"model"`
	TokensUsed  int               `json:"tokens_used"`
	Duration    time.Duration     `json:"duration"`
	Preview     bool              `json:"preview"`
}

// Service coordinates prompt rendering, completion, parsing, image
// resolution and persistence.
type Service struct {
	projects repository.ProjectRepository
	history  repository.HistoryRepository
	model    Completer
	images   imagegen.Builder
	mirror   ImageMirror
	events   EventSink
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// New constructs a generation service. mirror and events may be nil.
func New(projects repository.ProjectRepository, history repository.HistoryRepository, model Completer, images imagegen.Builder, mirror ImageMirror, events EventSink, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return Service{
		projects: projects,
		history:  history,
		model:    model,
		images:   images,
		mirror:   mirror,
		events:   events,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Generate produces a site from prompt and saves it as a new project, or
// into Options.ProjectID when set.
func (s Service) Generate(ctx context.Context, prompt string, opts Options) (*Result, error) {
	return s.run(ctx, prompt, opts, false)
}

// Preview produces a site without persisting anything. Images are never
// mirrored for previews.
func (s Service) Preview(ctx context.Context, prompt string, opts Options) (*Result, error) {
	opts.MirrorImages = false
	return s.run(ctx, prompt, opts, true)
}

func (s Service) run(ctx context.Context, prompt string, opts Options, preview bool) (*Result, error) {
	start := s.now()
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, errEmptyPrompt
	}
	opts = normalize(opts)

	var existing *domain.Project
	if opts.ProjectID != "" && !preview {
		project, err := s.projects.GetProjectByID(ctx, opts.ProjectID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, apperr.Wrap(apperr.KindNotFound, err, "project not found")
			}
			return nil, err
		}
		existing = project
	}

	system, err := SystemPrompt(opts.Framework)
	if err != nil {
		return nil, err
	}
	user, err := UserPrompt(prompt, opts)
	if err != nil {
		return nil, err
	}

	s.logger.Info("generation started", "framework", opts.Framework, "language", opts.Language, "preview", preview)
	completion, err := s.model.Complete(ctx, llm.Request{
		Model: opts.Model,
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: llm.Float(llm.DefaultTemperature),
		MaxTokens:   llm.DefaultMaxTokens,
	})
	if err != nil {
		s.logger.Error("model completion failed", "error", err)
		return nil, err
	}
	content := completion.Content()
	if strings.TrimSpace(content) == "" {
		return nil, errEmptyResponse
	}

	art := parser.Parse(content)
	if art.Degraded() {
		s.logger.Warn("completion parsed with errors", "errors", strings.Join(art.Errors, "; "))
	}

	images := s.images.Resolve(art.Placeholders, func(name string) string {
		return art.ImageDescription(name, nil)
	})
	urls := make(map[string]string, len(images))
	if opts.MirrorImages && s.mirror != nil {
		urls = s.mirror.MirrorAll(ctx, images)
	} else {
		for _, img := range images {
			urls[img.Name] = img.URL
		}
	}
	art.Markup = parser.ReplacePlaceholders(art.Markup, urls)

	result := &Result{
		Artifact:    art,
		Images:      images,
		ImageURLs:   urls,
		ParseErrors: art.Errors,
		Model:       firstNonEmpty(completion.Model, "unknown"),
		TokensUsed:  completion.Usage.TotalTokens,
		Preview:     preview,
	}
	if preview {
		result.Duration = s.now().Sub(start)
		return result, nil
	}

	project, err := s.save(ctx, existing, prompt, opts, art, urls)
	if err != nil {
		return nil, err
	}
	result.Project = project
	result.Duration = s.now().Sub(start)

	entry := &domain.GenerationHistory{
		ProjectID:    project.ID,
		Prompt:       prompt,
		Markup:       art.Markup,
		CSS:          art.CSS,
		JS:           art.JS,
		ImagePrompts: art.Images,
		Model:        result.Model,
		DurationMS:   result.Duration.Milliseconds(),
		TokensUsed:   result.TokensUsed,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.history.AddHistory(ctx, entry, historyKeep); err != nil {
		s.logger.Warn("failed to record generation history", "project_id", project.ID, "error", err)
	}

	for _, msg := range art.Errors {
		s.emit(ctx, project.ID, logs.LevelWarn, msg, nil)
	}
	s.emit(ctx, project.ID, logs.LevelInfo, "generation complete", map[string]any{
		"model":       result.Model,
		"tokens_used": result.TokensUsed,
		"duration_ms": result.Duration.Milliseconds(),
		"images":      len(images),
	})
	s.logger.Info("generation complete", "project_id", project.ID, "model", result.Model, "tokens_used", result.TokensUsed, "duration", result.Duration)
	return result, nil
}

func (s Service) save(ctx context.Context, existing *domain.Project, prompt string, opts Options, art parser.Artifact, urls map[string]string) (*domain.Project, error) {
	if existing != nil {
		applyContent(existing, prompt, opts, art, urls)
		if err := s.projects.UpdateProjectContent(ctx, existing); err != nil {
			return nil, fmt.Errorf("update project: %w", err)
		}
		return existing, nil
	}

	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = ProjectName(prompt)
	}
	slug, err := s.uniqueSlug(ctx, Slugify(name))
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	project := &domain.Project{
		ID:        s.newID(),
		Name:      name,
		Slug:      slug,
		Subdomain: strings.ToLower(strings.TrimSpace(opts.Subdomain)),
		Status:    domain.ProjectStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	applyContent(project, prompt, opts, art, urls)
	if err := s.projects.CreateProject(ctx, project); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	return project, nil
}

func applyContent(p *domain.Project, prompt string, opts Options, art parser.Artifact, urls map[string]string) {
	p.Prompt = prompt
	p.Markup = art.Markup
	p.CSS = art.CSS
	p.JS = art.JS
	p.Images = urls
	p.SEOTitle = art.SEO.Title
	p.SEODescription = art.SEO.Description
	p.SEOKeywords = art.SEO.Keywords
	p.Framework = opts.Framework
	p.Language = opts.Language
	p.PWAEnabled = opts.PWA
}

func (s Service) uniqueSlug(ctx context.Context, base string) (string, error) {
	candidate := base
	for i := 2; i <= 100; i++ {
		exists, err := s.projects.SlugExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("check slug: %w", err)
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
	return base + "-" + strings.ReplaceAll(s.newID(), "-", "")[:8], nil
}

func (s Service) emit(ctx context.Context, projectID, level, message string, metadata map[string]any) {
	if s.events == nil {
		return
	}
	s.events.Emit(ctx, projectID, logs.SourceGenerate, level, message, metadata)
}

func normalize(opts Options) Options {
	opts.Framework = strings.ToLower(strings.TrimSpace(opts.Framework))
	if _, ok := frameworkInstructions[opts.Framework]; !ok {
		opts.Framework = FrameworkTailwind
	}
	opts.Language = strings.ToLower(strings.TrimSpace(opts.Language))
	if opts.Language != LanguageEnglish {
		opts.Language = LanguageIndonesian
	}
	sections := make([]string, 0, len(opts.Sections))
	for _, section := range opts.Sections {
		if section = strings.TrimSpace(section); section != "" {
			sections = append(sections, section)
		}
	}
	if len(sections) == 0 {
		sections = DefaultSections
	}
	opts.Sections = sections
	return opts
}

// ProjectName derives a title from the first words of prompt.
func ProjectName(prompt string) string {
	words := strings.Fields(tagPattern.ReplaceAllString(prompt, " "))
	if len(words) > maxNameWords {
		words = words[:maxNameWords]
	}
	for i, w := range words {
		words[i] = titleWord(w)
	}
	name := strings.Join(words, " ")
	if utf8.RuneCountInString(name) > maxNameLength {
		runes := []rune(name)
		name = string(runes[:maxNameLength-3]) + "..."
	}
	if name == "" {
		return untitledProject
	}
	return name
}

func titleWord(w string) string {
	runes := []rune(strings.ToLower(w))
	if len(runes) > 0 {
		runes[0] = unicode.ToUpper(runes[0])
	}
	return string(runes)
}

// Slugify lowercases name and folds everything outside [a-z0-9] into dashes.
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "-")
	}
	if slug == "" {
		return "project"
	}
	return slug
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
