package generate

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

var frameworkInstructions = map[string]string{
	"tailwind": `Use Tailwind CSS classes for styling.
- Utility-first approach
- Common classes: flex, grid, p-*, m-*, text-*, bg-*, rounded-*, shadow-*
- Responsive: sm:, md:, lg:, xl:
- Animations: transition, duration-*, ease-*, hover:*, transform
Example: class="flex items-center justify-center p-8 bg-gradient-to-r from-indigo-500 to-purple-600 rounded-2xl shadow-xl"`,
	"bootstrap": `Use Bootstrap 5 classes for styling.
- Grid system: container, row, col-*
- Spacing: p-*, m-*, py-*, px-*
- Components: btn, card, navbar
- Utilities: d-flex, align-items-center, justify-content-center
Example: class="container py-5 bg-light rounded shadow"`,
	"vanilla": `Use custom CSS classes and define every style in the CSS section.
- Semantic class names: .hero-section, .features-grid, .cta-button
- BEM naming where it helps
- CSS custom properties for colors and spacing
Example: class="hero-section hero-section--gradient"`,
	"panda": `Use PandaCSS compatible utility classes with Tailwind syntax.
The page is served with the Tailwind CDN as a fallback.
Use standard utility classes: flex, grid, p-*, m-*, text-*, bg-*`,
	"uno": `Use UnoCSS utility classes with Tailwind compatible syntax.
The page is served with the Tailwind CDN as a fallback.
Use standard utility classes: flex, grid, p-*, m-*, text-*, bg-*`,
}

var systemTemplate = template.Must(template.New("system").Parse(`You are Pagesmith, an expert WordPress developer and modern web designer. You generate production-ready one-page websites in WordPress Block Editor (Gutenberg) markup.

## DESIGN PRINCIPLES
- Mobile-first responsive design
- Modern aesthetics: gradients, glassmorphism, subtle micro-animations
- Clear visual hierarchy with generous whitespace
- Accessible, semantic HTML with proper contrast

## CSS FRAMEWORK
{{.Framework}}

## OUTPUT FORMAT
Respond with exactly this structure:

===BLOCKS_START===
[WordPress Block markup]
===BLOCKS_END===

===CSS_START===
[Custom CSS, no comments]
===CSS_END===

===JS_START===
[JavaScript if needed, no comments, may be empty]
===JS_END===

===IMAGES_START===
[HERO_IMAGE]: english description for AI image generation
[ABOUT_IMAGE]: english description
===IMAGES_END===

===SEO_START===
title: page title, at most 60 characters
description: meta description, at most 160 characters
keywords: comma separated keywords
===SEO_END===

## BLOCK RULES
1. Use wp:cover for the hero, wp:group for sections, wp:columns for grids, wp:heading, wp:paragraph, wp:buttons, wp:image and wp:spacer.
2. Block comments carry attributes: <!-- wp:group {"className":"features"} --> ... <!-- /wp:group -->
3. Reference generated images as [NAME_IMAGE] placeholders, for example [HERO_IMAGE] or [FEATURE_1_IMAGE].
4. No other HTML comments, no markdown code fences and no text outside the format.

## LANGUAGE
Understand Indonesian and English requests. Image descriptions are always in English.`))

var userTemplate = template.Must(template.New("user").Parse(`## USER REQUEST
{{.Prompt}}

## ADDITIONAL CONTEXT
{{- if .BusinessType}}
Business Type: {{.BusinessType}}
{{- end}}
{{- if .StyleHints}}
Style Preferences: {{.StyleHints}}
{{- end}}
Sections to include: {{.Sections}}

## LANGUAGE
{{.LanguageInstruction}}

Generate the complete website now following all the rules in your system instructions.`))

// SystemPrompt renders the instructions for framework. Unknown frameworks
// use the Tailwind instructions.
func SystemPrompt(framework string) (string, error) {
	instruction, ok := frameworkInstructions[framework]
	if !ok {
		instruction = frameworkInstructions[FrameworkTailwind]
	}
	var buf bytes.Buffer
	if err := systemTemplate.Execute(&buf, struct{ Framework string }{instruction}); err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}
	return buf.String(), nil
}

// UserPrompt renders the per-request message.
func UserPrompt(prompt string, opts Options) (string, error) {
	language := "Generate all text content in Indonesian (Bahasa Indonesia)."
	if opts.Language == LanguageEnglish {
		language = "Generate all text content in English."
	}
	data := struct {
		Prompt              string
		BusinessType        string
		StyleHints          string
		Sections            string
		LanguageInstruction string
	}{
		Prompt:              strings.TrimSpace(prompt),
		BusinessType:        strings.TrimSpace(opts.BusinessType),
		StyleHints:          strings.TrimSpace(opts.StyleHints),
		Sections:            strings.Join(opts.Sections, ", "),
		LanguageInstruction: language,
	}
	var buf bytes.Buffer
	if err := userTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render user prompt: %w", err)
	}
	return buf.String(), nil
}
