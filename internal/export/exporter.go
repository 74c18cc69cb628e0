// Package export renders a project into a static file tree ready for upload.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/splax/pagesmith/internal/domain"
	"github.com/splax/pagesmith/internal/workspace"
)

// Framework identifiers accepted on projects.
const (
	FrameworkTailwind  = "tailwind"
	FrameworkBootstrap = "bootstrap"
	FrameworkVanilla   = "vanilla"
	FrameworkPanda     = "panda"
	FrameworkUno       = "uno"
)

const themeColor = "#6366f1"

// Bundle describes one materialised export.
type Bundle struct {
	Slug    string    `json:"slug"`
	Dir     string    `json:"dir"`
	BaseURL string    `json:"base_url"`
	Files   []string  `json:"files"`
	Created time.Time `json:"created_at"`
}

// Exporter writes project exports into a workspace.
type Exporter struct {
	workspace *workspace.Manager
	logger    *slog.Logger
	now       func() time.Time
}

// New constructs an Exporter.
func New(ws *workspace.Manager, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{workspace: ws, logger: logger, now: time.Now}
}

// SiteURL returns the public base URL of a project: its bound hostname,
// else the provider default for remoteName.
func SiteURL(p domain.Project, remoteName, siteDomain string) string {
	if host := p.Hostname(siteDomain); host != "" {
		return "https://" + host
	}
	if remoteName != "" {
		return "https://" + remoteName + ".pages.dev"
	}
	return ""
}

// Export overwrites the project's export directory with a fresh render.
func (e *Exporter) Export(p domain.Project, baseURL string) (*Bundle, error) {
	if p.Slug == "" {
		return nil, fmt.Errorf("project %s has no slug", p.ID)
	}
	if strings.TrimSpace(p.Markup) == "" {
		return nil, fmt.Errorf("project %s has no markup to export", p.ID)
	}
	baseURL = strings.TrimRight(baseURL, "/")

	dir, err := e.workspace.Prepare(p.Slug)
	if err != nil {
		return nil, err
	}

	index, err := RenderIndex(p, baseURL)
	if err != nil {
		return nil, err
	}
	sitemap, err := renderSitemap(baseURL, p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	files := map[string][]byte{
		"index.html":  []byte(Minify(index)),
		"sitemap.xml": sitemap,
		"robots.txt":  renderRobots(baseURL),
	}
	if p.PWAEnabled {
		manifest, err := renderManifest(p)
		if err != nil {
			return nil, err
		}
		files["manifest.json"] = manifest
		files["sw.js"] = renderServiceWorker(p.Slug, e.now())
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", name, err)
		}
	}

	list, err := e.workspace.Files(p.Slug)
	if err != nil {
		return nil, err
	}
	e.logger.Info("project exported", "project_id", p.ID, "slug", p.Slug, "files", len(list))
	return &Bundle{Slug: p.Slug, Dir: dir, BaseURL: baseURL, Files: list, Created: e.now().UTC()}, nil
}

// Remove deletes the export for slug.
func (e *Exporter) Remove(slug string) error {
	return e.workspace.Remove(slug)
}

// Dir returns the export directory for slug.
func (e *Exporter) Dir(slug string) (string, error) {
	return e.workspace.Path(slug)
}

type pageData struct {
	Lang          string
	Title         string
	Description   string
	Keywords      string
	BaseURL       string
	OGImage       string
	FrameworkHead template.HTML
	FrameworkFoot template.HTML
	PWA           bool
	ThemeColor    string
	CSS           template.CSS
	JS            template.JS
	Markup        template.HTML
	BeaconToken   string
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="{{.Lang}}">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <meta name="description" content="{{.Description}}">
    {{- if .Keywords}}
    <meta name="keywords" content="{{.Keywords}}">
    {{- end}}
    {{- if .BaseURL}}
    <link rel="canonical" href="{{.BaseURL}}/">
    {{- end}}
    <meta property="og:type" content="website">
    <meta property="og:title" content="{{.Title}}">
    <meta property="og:description" content="{{.Description}}">
    {{- if .BaseURL}}
    <meta property="og:url" content="{{.BaseURL}}/">
    {{- end}}
    {{- if .OGImage}}
    <meta property="og:image" content="{{.OGImage}}">
    {{- end}}
    <meta name="twitter:card" content="summary_large_image">
    <meta name="twitter:title" content="{{.Title}}">
    <meta name="twitter:description" content="{{.Description}}">
    <link rel="preconnect" href="https://fonts.googleapis.com">
    <link rel="preconnect" href="https://fonts.gstatic.com" crossorigin>
    <link href="https://fonts.googleapis.com/css2?family=Inter:wght@300;400;500;600;700;800&display=swap" rel="stylesheet">
    <link href="https://unpkg.com/aos@2.3.1/dist/aos.css" rel="stylesheet">
    {{.FrameworkHead}}
    {{- if .PWA}}
    <link rel="manifest" href="/manifest.json">
    <meta name="theme-color" content="{{.ThemeColor}}">
    {{- end}}
    <style>
        * { box-sizing: border-box; }
        body { margin: 0; font-family: 'Inter', -apple-system, BlinkMacSystemFont, sans-serif; -webkit-font-smoothing: antialiased; }
        img { max-width: 100%; height: auto; }
        {{.CSS}}
    </style>
</head>
<body>
    {{.Markup}}
    <script src="https://unpkg.com/aos@2.3.1/dist/aos.js"></script>
    {{.FrameworkFoot}}
    <script>
        document.addEventListener('DOMContentLoaded', function() {
            AOS.init({ duration: 800, once: true, offset: 50 });
            {{.JS}}
        });
    </script>
    {{- if .PWA}}
    <script>
        if ('serviceWorker' in navigator) { navigator.serviceWorker.register('/sw.js'); }
    </script>
    {{- end}}
    {{- if .BeaconToken}}
    <script defer src="https://static.cloudflareinsights.com/beacon.min.js" data-cf-beacon='{"token": "{{.BeaconToken}}"}'></script>
    {{- end}}
</body>
</html>
`))

// RenderIndex renders the unminified index.html for a project.
func RenderIndex(p domain.Project, baseURL string) (string, error) {
	head, foot := frameworkAssets(p.Framework)
	title := p.SEOTitle
	if title == "" {
		title = p.Name
	}
	lang := p.Language
	if lang == "" {
		lang = "en"
	}
	data := pageData{
		Lang:          lang,
		Title:         title,
		Description:   p.SEODescription,
		Keywords:      p.SEOKeywords,
		BaseURL:       strings.TrimRight(baseURL, "/"),
		OGImage:       ogImage(p.Images),
		FrameworkHead: head,
		FrameworkFoot: foot,
		PWA:           p.PWAEnabled,
		ThemeColor:    themeColor,
		CSS:           template.CSS(p.CSS),
		JS:            template.JS(p.JS),
		Markup:        template.HTML(p.Markup),
		BeaconToken:   p.BeaconToken(),
	}
	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render index: %w", err)
	}
	return buf.String(), nil
}

func frameworkAssets(framework string) (template.HTML, template.HTML) {
	switch framework {
	case FrameworkTailwind, FrameworkPanda, FrameworkUno, "":
		return `<script src="https://cdn.tailwindcss.com"></script>`, ""
	case FrameworkBootstrap:
		return `<link href="https://cdn.jsdelivr.net/npm/bootstrap@5.3.3/dist/css/bootstrap.min.css" rel="stylesheet">`,
			`<script src="https://cdn.jsdelivr.net/npm/bootstrap@5.3.3/dist/js/bootstrap.bundle.min.js"></script>`
	default:
		return "", ""
	}
}

// ogImage prefers the hero image for link previews, else the first image by name.
func ogImage(images map[string]string) string {
	if u := images["HERO_IMAGE"]; u != "" {
		return u
	}
	best := ""
	for name := range images {
		if best == "" || name < best {
			best = name
		}
	}
	return images[best]
}

type manifestIcon struct {
	Src   string `json:"src"`
	Sizes string `json:"sizes"`
	Type  string `json:"type"`
}

type webManifest struct {
	Name            string         `json:"name"`
	ShortName       string         `json:"short_name"`
	StartURL        string         `json:"start_url"`
	Display         string         `json:"display"`
	BackgroundColor string         `json:"background_color"`
	ThemeColor      string         `json:"theme_color"`
	Icons           []manifestIcon `json:"icons"`
}

func renderManifest(p domain.Project) ([]byte, error) {
	short := []rune(p.Name)
	if len(short) > 12 {
		short = short[:12]
	}
	m := webManifest{
		Name:            p.Name,
		ShortName:       string(short),
		StartURL:        "/",
		Display:         "standalone",
		BackgroundColor: "#ffffff",
		ThemeColor:      themeColor,
		Icons: []manifestIcon{
			{Src: "/icon-192.png", Sizes: "192x192", Type: "image/png"},
			{Src: "/icon-512.png", Sizes: "512x512", Type: "image/png"},
		},
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return buf.Bytes(), nil
}

func renderServiceWorker(slug string, now time.Time) []byte {
	cache := fmt.Sprintf("%s-%d", slug, now.Unix())
	return []byte(fmt.Sprintf(`const CACHE = %q;
const ASSETS = ['/', '/index.html', '/manifest.json'];
self.addEventListener('install', (event) => {
  event.waitUntil(caches.open(CACHE).then((cache) => cache.addAll(ASSETS)));
});
self.addEventListener('activate', (event) => {
  event.waitUntil(caches.keys().then((keys) => Promise.all(keys.filter((k) => k !== CACHE).map((k) => caches.delete(k)))));
});
self.addEventListener('fetch', (event) => {
  event.respondWith(caches.match(event.request).then((hit) => hit || fetch(event.request)));
});
`, cache))
}
