package parser

import (
	"reflect"
	"strings"
	"testing"
)

const fullCompletion = "Sure! Here is your site.\n" +
	"===BLOCKS_START===\n" +
	"```html\n" +
	"<!-- wp:cover {\"className\":\"hero\"} -->\n" +
	"<div class=\"wp-block-cover hero\"><img src=\"[HERO_IMAGE]\" alt=\"\"/>\n" +
	"<!-- the model explaining itself -->\n" +
	"<h1>Fresh bread daily</h1></div>\n" +
	"<!-- /wp:cover -->\n" +
	"<!-- wp:image --><img src=\"[ABOUT_IMAGE]\"/><!-- /wp:image -->\n" +
	"<img src=\"[HERO_IMAGE]\"/>\n" +
	"```\n" +
	"===BLOCKS_END===\n" +
	"===CSS_START===\n" +
	"```css\n" +
	"/* hero styling */\n" +
	".hero { background: url(https://cdn.example.com/bg.png); }\n" +
	"\n\n\n" +
	".cta { color: red; } // inline note\n" +
	"```\n" +
	"===CSS_END===\n" +
	"===JS_START===\n" +
	"// animate on scroll\n" +
	"document.querySelectorAll('.cta').forEach(el => el.classList.add('ready'));\n" +
	"===JS_END===\n" +
	"===IMAGES_START===\n" +
	"Here are the images:\n" +
	"[HERO_IMAGE]: warm bakery interior, morning light\n" +
	"[ABOUT_IMAGE]: baker kneading dough\n" +
	"===IMAGES_END===\n" +
	"===SEO_START===\n" +
	"title: Sunrise Bakery\n" +
	"description: Artisan bread baked fresh every morning\n" +
	"author: ignored\n" +
	"===SEO_END===\n"

func TestParseFullCompletion(t *testing.T) {
	art := Parse(fullCompletion)

	if len(art.Errors) != 0 {
		t.Fatalf("expected no parse errors, got %v", art.Errors)
	}
	if strings.Contains(art.Markup, "explaining itself") {
		t.Fatalf("non-block comments must be stripped: %q", art.Markup)
	}
	for _, keep := range []string{`<!-- wp:cover {"className":"hero"} -->`, "<!-- /wp:cover -->", "<!-- wp:image -->", "<!-- /wp:image -->"} {
		if !strings.Contains(art.Markup, keep) {
			t.Fatalf("expected block marker %q in markup %q", keep, art.Markup)
		}
	}
	if strings.Contains(art.Markup, "```") {
		t.Fatalf("code fences must be stripped: %q", art.Markup)
	}
	wantCSS := ".hero { background: url(https://cdn.example.com/bg.png); }\n.cta { color: red; }"
	if art.CSS != wantCSS {
		t.Fatalf("unexpected css:\n%q\nwant\n%q", art.CSS, wantCSS)
	}
	if art.JS != "document.querySelectorAll('.cta').forEach(el => el.classList.add('ready'));" {
		t.Fatalf("unexpected js %q", art.JS)
	}
	wantImages := map[string]string{
		"HERO_IMAGE":  "warm bakery interior, morning light",
		"ABOUT_IMAGE": "baker kneading dough",
	}
	if !reflect.DeepEqual(art.Images, wantImages) {
		t.Fatalf("unexpected images %v", art.Images)
	}
	if !reflect.DeepEqual(art.Placeholders, []string{"HERO_IMAGE", "ABOUT_IMAGE"}) {
		t.Fatalf("unexpected placeholders %v", art.Placeholders)
	}
	want := SEO{Title: "Sunrise Bakery", Description: "Artisan bread baked fresh every morning"}
	if art.SEO != want {
		t.Fatalf("unexpected seo %+v", art.SEO)
	}
}

func TestParseBlocksOnly(t *testing.T) {
	art := Parse("===BLOCKS_START===X===BLOCKS_END===")

	if art.Markup != "X" {
		t.Fatalf("expected markup X, got %q", art.Markup)
	}
	if art.CSS != "" || art.JS != "" {
		t.Fatalf("expected empty css/js, got %q %q", art.CSS, art.JS)
	}
	if art.SEO != (SEO{}) {
		t.Fatalf("expected empty seo, got %+v", art.SEO)
	}
	if len(art.Images) != 0 {
		t.Fatalf("expected no images, got %v", art.Images)
	}
	if len(art.Errors) != 0 {
		t.Fatalf("absent optional sections are not errors, got %v", art.Errors)
	}
}

func TestParseMissingBlocks(t *testing.T) {
	art := Parse("===CSS_START===body{}===CSS_END===\nI could not build that.")

	if len(art.Errors) != 1 {
		t.Fatalf("expected exactly one error, got %v", art.Errors)
	}
	if !strings.Contains(strings.ToLower(art.Errors[0]), "blocks") {
		t.Fatalf("expected error to reference blocks section, got %q", art.Errors[0])
	}
	if art.Markup != "" {
		t.Fatalf("expected empty markup, got %q", art.Markup)
	}
	if art.CSS != "body{}" {
		t.Fatalf("other sections still parse, got css %q", art.CSS)
	}
	if !art.Degraded() {
		t.Fatalf("expected degraded artifact")
	}
}

func TestParseUnterminatedBlocks(t *testing.T) {
	art := Parse("===BLOCKS_START===<p>cut off mid-stream")
	if len(art.Errors) != 1 || art.Markup != "" {
		t.Fatalf("a start marker without end marker counts as missing, got %+v", art)
	}
}

func TestParseEndMarkerBeforeStartIsIgnored(t *testing.T) {
	art := Parse("===CSS_END=== junk ===CSS_START===a{}===CSS_END===")
	if art.CSS != "a{}" {
		t.Fatalf("expected first end marker after start, got %q", art.CSS)
	}
}

func TestParseLegacyMarkers(t *testing.T) {
	raw := "===BLOCKS_START===<p>[LOGO_IMAGE]</p>===BLOCKS_END===\n" +
		"===IMAGES===\n[LOGO_IMAGE]: minimalist wheat logo\n===IMAGES_END===\n" +
		"===SEO===\ntitle: Legacy\nkeywords: bread, bakery\n===SEO_END==="
	art := Parse(raw)
	if art.Images["LOGO_IMAGE"] != "minimalist wheat logo" {
		t.Fatalf("expected legacy images section parsed, got %v", art.Images)
	}
	if art.SEO.Title != "Legacy" || art.SEO.Keywords != "bread, bakery" {
		t.Fatalf("expected legacy seo section parsed, got %+v", art.SEO)
	}
}

func TestImagePlaceholdersDeduplicated(t *testing.T) {
	got := ImagePlaceholders(`<img src="[HERO_IMAGE]"><img src="[HERO_IMAGE]">`)
	if !reflect.DeepEqual(got, []string{"HERO_IMAGE"}) {
		t.Fatalf("expected [HERO_IMAGE], got %v", got)
	}
	if got := ImagePlaceholders("[hero_image] [HERO] plain"); len(got) != 0 {
		t.Fatalf("expected no placeholders, got %v", got)
	}
}

func TestCleanersAreIdempotent(t *testing.T) {
	inputs := []string{
		"```css\n/* a */\n.a{color:red}\n\n\n// note\n.b{background:url(http://x.test/i.png)}\n```",
		"```js\nconst u = 'https://example.com'; // trailing\n\n\n\nfunction f(){ /* inner */ return 1 }\n```",
		"  \n\n .x{}\t// c\n\n  \n.y{} ",
		"/* only a comment */",
	}
	for _, in := range inputs {
		once := CleanCSS(in)
		if twice := CleanCSS(once); twice != once {
			t.Fatalf("CleanCSS not idempotent:\nonce  %q\ntwice %q", once, twice)
		}
		onceJS := CleanJS(in)
		if twice := CleanJS(onceJS); twice != onceJS {
			t.Fatalf("CleanJS not idempotent:\nonce  %q\ntwice %q", onceJS, twice)
		}
	}
	markup := "```html\n<!-- wp:group --><div><!-- aside --></div><!-- /wp:group -->\n```"
	once := CleanMarkup(markup)
	if CleanMarkup(once) != once {
		t.Fatalf("CleanMarkup not idempotent: %q", once)
	}
	if once != "<!-- wp:group --><div></div><!-- /wp:group -->" {
		t.Fatalf("unexpected markup %q", once)
	}
}

func TestParseNeverPanicsOnOddInput(t *testing.T) {
	inputs := []string{"", "===", "===BLOCKS_START======BLOCKS_END===", strings.Repeat("===SEO_START===", 3)}
	for _, in := range inputs {
		art := Parse(in)
		if art.Images == nil || art.Placeholders == nil || art.Errors == nil {
			t.Fatalf("artifact collections must be non-nil for %q", in)
		}
	}
}

func TestReplacePlaceholders(t *testing.T) {
	markup := `<img src="[HERO_IMAGE]"><img src="[HERO_IMAGE]"><img src="[TEAM_IMAGE]">`
	got := ReplacePlaceholders(markup, map[string]string{"HERO_IMAGE": "https://img/h.jpg"})
	want := `<img src="https://img/h.jpg"><img src="https://img/h.jpg"><img src="[TEAM_IMAGE]">`
	if got != want {
		t.Fatalf("unexpected replacement %q", got)
	}
}

func TestImageDescriptionFallback(t *testing.T) {
	art := Artifact{Images: map[string]string{"HERO_IMAGE": "sunrise"}}
	fallback := func(name string) string { return "default for " + name }
	if got := art.ImageDescription("HERO_IMAGE", fallback); got != "sunrise" {
		t.Fatalf("expected described image, got %q", got)
	}
	if got := art.ImageDescription("TEAM_IMAGE", fallback); got != "default for TEAM_IMAGE" {
		t.Fatalf("expected fallback description, got %q", got)
	}
}
