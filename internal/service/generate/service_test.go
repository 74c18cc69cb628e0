package generate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/splax/pagesmith/internal/apperr"
	"github.com/splax/pagesmith/internal/domain"
	"github.com/splax/pagesmith/internal/imagegen"
	"github.com/splax/pagesmith/internal/llm"
	"github.com/splax/pagesmith/internal/repository"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

const completionText = `Here is your site!
===BLOCKS_START===
<!-- wp:cover {"className":"hero"} -->
<div class="hero"><img src="[HERO_IMAGE]" alt="hero"/><!-- chatty aside --></div>
<!-- /wp:cover -->
<!-- wp:group --><section><img src="[TEAM_IMAGE]"/></section><!-- /wp:group -->
===BLOCKS_END===
===CSS_START===
.hero { min-height: 100vh; }
===CSS_END===
===JS_START===
===JS_END===
===IMAGES===
[HERO_IMAGE]: warm bakery counter with fresh bread
===IMAGES_END===
===SEO===
title: Acme Bakery
description: Fresh bread every morning
keywords: bakery, bread
===SEO_END===`

type fakeCompleter struct {
	mu       sync.Mutex
	content  string
	err      error
	requests []llm.Request
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.Request) (*llm.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Completion{
		Model:   "llama-3.3-70b-versatile",
		Choices: []llm.Choice{{Message: llm.Message{Role: "assistant", Content: f.content}}},
		Usage:   llm.Usage{TotalTokens: 1234},
	}, nil
}

type memoryStore struct {
	mu       sync.Mutex
	projects map[string]*domain.Project
	history  []domain.GenerationHistory
	keep     int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{projects: make(map[string]*domain.Project)}
}

func (m *memoryStore) CreateProject(_ context.Context, p *domain.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.projects[p.ID] = &cp
	return nil
}

func (m *memoryStore) UpdateProjectContent(_ context.Context, p *domain.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[p.ID]; !ok {
		return repository.ErrNotFound
	}
	cp := *p
	m.projects[p.ID] = &cp
	return nil
}

func (m *memoryStore) GetProjectByID(_ context.Context, id string) (*domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memoryStore) ListProjects(context.Context, int, int) ([]domain.Project, error) {
	return nil, nil
}

func (m *memoryStore) SlugExists(_ context.Context, slug string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.projects {
		if p.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryStore) UpdateProjectDeploy(context.Context, domain.ProjectDeployUpdate) error {
	return nil
}

func (m *memoryStore) SetProjectDomain(context.Context, string, string) error {
	return nil
}

func (m *memoryStore) AddHistory(_ context.Context, entry *domain.GenerationHistory, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keep = keep
	m.history = append(m.history, *entry)
	return nil
}

func (m *memoryStore) ListHistory(context.Context, string, int) ([]domain.GenerationHistory, error) {
	return nil, nil
}

type fakeMirror struct {
	calls int
}

func (f *fakeMirror) MirrorAll(_ context.Context, images []imagegen.Image) map[string]string {
	f.calls++
	out := make(map[string]string, len(images))
	for _, img := range images {
		out[img.Name] = "https://cdn.example.com/" + strings.ToLower(img.Name) + ".jpg"
	}
	return out
}

func newTestService(store *memoryStore, model Completer, mirror ImageMirror) Service {
	day := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := New(store, store, model, imagegen.New(imagegen.WithClock(func() time.Time { return day })), mirror, nil, testLogger)
	svc.now = func() time.Time { return day }
	ids := 0
	svc.newID = func() string {
		ids++
		return "project-" + string(rune('0'+ids))
	}
	return svc
}

func TestGenerateSavesProjectAndHistory(t *testing.T) {
	store := newMemoryStore()
	model := &fakeCompleter{content: completionText}
	svc := newTestService(store, model, nil)

	res, err := svc.Generate(context.Background(), "Website for Acme bakery in Jakarta with online orders", Options{Framework: "Bootstrap", Language: "en"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	p := res.Project
	if p == nil || p.Name != "Website For Acme Bakery In" || p.Slug != "website-for-acme-bakery-in" {
		t.Fatalf("unexpected project %+v", p)
	}
	if p.Framework != FrameworkBootstrap || p.Language != LanguageEnglish || p.Status != domain.ProjectStatusDraft {
		t.Fatalf("unexpected options on project %+v", p)
	}
	if p.SEOTitle != "Acme Bakery" || p.SEOKeywords != "bakery, bread" {
		t.Fatalf("seo not applied: %+v", p)
	}
	if strings.Contains(p.Markup, "[HERO_IMAGE]") || strings.Contains(p.Markup, "chatty aside") {
		t.Fatalf("markup not cleaned: %s", p.Markup)
	}
	hero := res.ImageURLs["HERO_IMAGE"]
	if !strings.HasPrefix(hero, "https://image.pollinations.ai/prompt/warm%20bakery") || !strings.Contains(hero, "width=1920&height=1080") {
		t.Fatalf("unexpected hero url %s", hero)
	}
	if !strings.Contains(res.ImageURLs["TEAM_IMAGE"], "width=600&height=600") {
		t.Fatalf("team image should use default description and team size: %s", res.ImageURLs["TEAM_IMAGE"])
	}
	if !strings.Contains(p.Markup, hero) {
		t.Fatal("markup should reference the resolved hero url")
	}

	if len(store.history) != 1 || store.keep != historyKeep {
		t.Fatalf("expected one history entry kept to %d, got %d (keep %d)", historyKeep, len(store.history), store.keep)
	}
	h := store.history[0]
	if h.Model != "llama-3.3-70b-versatile" || h.TokensUsed != 1234 || h.ImagePrompts["HERO_IMAGE"] == "" {
		t.Fatalf("unexpected history %+v", h)
	}

	req := model.requests[0]
	if len(req.Messages) != 2 || req.MaxTokens != llm.DefaultMaxTokens || *req.Temperature != llm.DefaultTemperature {
		t.Fatalf("unexpected request %+v", req)
	}
	if !strings.Contains(req.Messages[0].Content, "Bootstrap 5") {
		t.Fatal("system prompt should carry the framework instructions")
	}
	if !strings.Contains(req.Messages[1].Content, "Generate all text content in English.") {
		t.Fatalf("user prompt should carry the language instruction: %s", req.Messages[1].Content)
	}
}

func TestGenerateMakesSlugsUnique(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, &fakeCompleter{content: completionText}, nil)

	first, err := svc.Generate(context.Background(), "Acme bakery", Options{})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := svc.Generate(context.Background(), "Acme bakery", Options{})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.Project.Slug != "acme-bakery" || second.Project.Slug != "acme-bakery-2" {
		t.Fatalf("unexpected slugs %s, %s", first.Project.Slug, second.Project.Slug)
	}
}

func TestGenerateIntoExistingProject(t *testing.T) {
	store := newMemoryStore()
	_ = store.CreateProject(context.Background(), &domain.Project{ID: "p1", Name: "Keep Me", Slug: "keep-me", Markup: "old"})
	svc := newTestService(store, &fakeCompleter{content: completionText}, nil)

	res, err := svc.Generate(context.Background(), "new look", Options{ProjectID: "p1", PWA: true})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	stored, _ := store.GetProjectByID(context.Background(), "p1")
	if stored.Name != "Keep Me" || stored.Slug != "keep-me" || stored.Markup == "old" || !stored.PWAEnabled {
		t.Fatalf("unexpected stored project %+v", stored)
	}
	if res.Project.ID != "p1" {
		t.Fatalf("expected existing project returned, got %s", res.Project.ID)
	}

	_, err = svc.Generate(context.Background(), "new look", Options{ProjectID: "missing"})
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPreviewDoesNotPersistOrMirror(t *testing.T) {
	store := newMemoryStore()
	mirror := &fakeMirror{}
	svc := newTestService(store, &fakeCompleter{content: completionText}, mirror)

	res, err := svc.Preview(context.Background(), "Acme bakery", Options{MirrorImages: true})
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if !res.Preview || res.Project != nil {
		t.Fatalf("unexpected preview result %+v", res)
	}
	if len(store.projects) != 0 || len(store.history) != 0 {
		t.Fatal("preview must not persist")
	}
	if mirror.calls != 0 {
		t.Fatal("preview must not mirror images")
	}
}

func TestGenerateMirrorsImagesWhenAsked(t *testing.T) {
	store := newMemoryStore()
	mirror := &fakeMirror{}
	svc := newTestService(store, &fakeCompleter{content: completionText}, mirror)

	res, err := svc.Generate(context.Background(), "Acme bakery", Options{MirrorImages: true})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if mirror.calls != 1 || res.ImageURLs["HERO_IMAGE"] != "https://cdn.example.com/hero_image.jpg" {
		t.Fatalf("expected mirrored urls, got %v", res.ImageURLs)
	}
	if res.Project.Images["HERO_IMAGE"] != "https://cdn.example.com/hero_image.jpg" {
		t.Fatal("project should store mirrored urls")
	}
}

func TestGenerateMissingBlocksStillSucceeds(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, &fakeCompleter{content: "Sorry, I cannot help with that."}, nil)

	res, err := svc.Generate(context.Background(), "Acme bakery", Options{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(res.ParseErrors) != 1 {
		t.Fatalf("expected one parse error, got %v", res.ParseErrors)
	}
}

func TestGenerateErrors(t *testing.T) {
	store := newMemoryStore()

	svc := newTestService(store, &fakeCompleter{content: "   "}, nil)
	if _, err := svc.Generate(context.Background(), "Acme", Options{}); apperr.KindOf(err) != apperr.KindUpstream {
		t.Fatalf("expected upstream error for empty completion, got %v", err)
	}

	if _, err := svc.Generate(context.Background(), "  ", Options{}); apperr.KindOf(err) != apperr.KindInvalid {
		t.Fatalf("expected invalid argument, got %v", err)
	}

	upstream := apperr.New(apperr.KindRateLimited, "all model API credentials are rate limited")
	svc = newTestService(store, &fakeCompleter{err: upstream}, nil)
	if _, err := svc.Generate(context.Background(), "Acme", Options{}); !errors.Is(err, upstream) {
		t.Fatalf("expected model error propagated, got %v", err)
	}
	if len(store.projects) != 0 {
		t.Fatal("failed generations must not persist")
	}
}

func TestProjectName(t *testing.T) {
	cases := map[string]string{
		"website untuk TOKO kue di jakarta selatan": "Website Untuk Toko Kue Di",
		"<b>Bold</b> idea":                          "Bold Idea",
		"   ":                                       "Untitled Project",
		"Supercalifragilisticexpialidocious Antidisestablishmentarianism": "Supercalifragilisticexpialidocious Antidisestab...",
	}
	for in, want := range cases {
		if got := ProjectName(in); got != want {
			t.Fatalf("ProjectName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Acme Bakery":        "acme-bakery",
		"  Café & Co.  ":     "caf-co",
		"Untitled Project":   "untitled-project",
		"***":                "project",
		"Multiple   Spaces!": "multiple-spaces",
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Fatalf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestUserPromptDefaults(t *testing.T) {
	out, err := UserPrompt("toko kue", normalize(Options{BusinessType: "bakery"}))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{"toko kue", "Business Type: bakery", "Sections to include: hero, features, about, cta, footer", "Bahasa Indonesia"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in prompt:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Style Preferences") {
		t.Fatal("empty style hints should be omitted")
	}
}
