package export

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var (
	preservedRe   = regexp.MustCompile(`(?is)<pre\b.*?</pre>|<textarea\b.*?</textarea>|<script\b.*?</script>`)
	commentRe     = regexp.MustCompile(`(?s)<!--.*?-->`)
	betweenTagsRe = regexp.MustCompile(`>\s+<`)
	spaceRunRe    = regexp.MustCompile(`\s+`)
)

// Minify collapses whitespace conservatively. Comments other than IE
// conditionals are dropped, while pre, textarea and script blocks are kept
// byte for byte.
func Minify(html string) string {
	var kept []string
	html = preservedRe.ReplaceAllStringFunc(html, func(block string) string {
		kept = append(kept, block)
		return fmt.Sprintf("<\x00%d\x00>", len(kept)-1)
	})
	html = commentRe.ReplaceAllStringFunc(html, func(c string) string {
		if strings.HasPrefix(c, "<!--[if") {
			return c
		}
		return ""
	})
	html = betweenTagsRe.ReplaceAllString(html, "><")
	html = spaceRunRe.ReplaceAllString(html, " ")
	html = strings.TrimSpace(html)
	for i, block := range kept {
		html = strings.Replace(html, fmt.Sprintf("<\x00%d\x00>", i), block, 1)
	}
	return html
}

type sitemapURL struct {
	Loc        string `xml:"loc"`
	LastMod    string `xml:"lastmod,omitempty"`
	ChangeFreq string `xml:"changefreq"`
	Priority   string `xml:"priority"`
}

type urlSet struct {
	XMLName xml.Name     `xml:"urlset"`
	XMLNS   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

func renderSitemap(baseURL string, updated time.Time) ([]byte, error) {
	entry := sitemapURL{Loc: baseURL + "/", ChangeFreq: "weekly", Priority: "1.0"}
	if !updated.IsZero() {
		entry.LastMod = updated.UTC().Format(time.RFC3339)
	}
	set := urlSet{XMLNS: "http://www.sitemaps.org/schemas/sitemap/0.9", URLs: []sitemapURL{entry}}
	out, err := xml.MarshalIndent(set, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("encode sitemap: %w", err)
	}
	return append([]byte(xml.Header), append(out, '\n')...), nil
}

func renderRobots(baseURL string) []byte {
	return []byte(fmt.Sprintf("User-agent: *\nAllow: /\n\nSitemap: %s/sitemap.xml\n", baseURL))
}

// Archive writes a zip of every regular file under dir to w, with
// slash-separated paths relative to dir.
func Archive(dir string, w io.Writer) error {
	zw := zip.NewWriter(w)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		header.Method = zip.Deflate
		dst, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(dst, src)
		return err
	})
	if err != nil {
		_ = zw.Close()
		return fmt.Errorf("archive %s: %w", dir, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}
	return nil
}
