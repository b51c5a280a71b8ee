package handler

import (
	"context"
	"encoding/xml"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/moviehunt-blog/internal/model"
)

const sitemapNamespace = "http://www.sitemaps.org/schemas/sitemap/0.9"

// SitemapSource はサイトマップに載せる公開記事を返すインターフェース。
type SitemapSource interface {
	SitemapEntries(ctx context.Context) ([]model.SitemapEntry, error)
}

// SitemapHandler は公開記事のsitemap.xmlを返すHTTPハンドラー。
type SitemapHandler struct {
	source  SitemapSource
	siteURL string
	opts    Options
	now     func() time.Time
}

// NewSitemapHandler はSitemapHandlerを生成する。siteURLは末尾のスラッシュを除いて扱う。
func NewSitemapHandler(source SitemapSource, siteURL string, opts Options) *SitemapHandler {
	return &SitemapHandler{
		source:  source,
		siteURL: strings.TrimRight(siteURL, "/"),
		opts:    opts,
		now:     time.Now,
	}
}

type sitemapURLSet struct {
	XMLName xml.Name     `xml:"urlset"`
	Xmlns   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc        string `xml:"loc"`
	LastMod    string `xml:"lastmod"`
	ChangeFreq string `xml:"changefreq"`
	Priority   string `xml:"priority"`
}

// Sitemap はトップページと公開記事（/article/{slug}）を列挙する。
// GET /sitemap.xml
func (h *SitemapHandler) Sitemap(w http.ResponseWriter, r *http.Request) {
	entries, err := h.source.SitemapEntries(r.Context())
	if err != nil {
		h.opts.logger().Error("サイトマップの生成に失敗しました", slog.String("error", err.Error()))
		http.Error(w, "failed to build sitemap", http.StatusInternalServerError)
		return
	}

	set := sitemapURLSet{
		Xmlns: sitemapNamespace,
		URLs: []sitemapURL{{
			Loc:        h.siteURL + "/",
			LastMod:    h.now().UTC().Format(time.RFC3339),
			ChangeFreq: "daily",
			Priority:   "1.0",
		}},
	}
	for _, e := range entries {
		set.URLs = append(set.URLs, sitemapURL{
			Loc:        h.siteURL + "/article/" + e.Slug,
			LastMod:    lastModified(e).UTC().Format(time.RFC3339),
			ChangeFreq: "weekly",
			Priority:   "0.8",
		})
	}

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(xml.Header))
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(set); err != nil {
		h.opts.logger().Error("サイトマップの書き込みに失敗しました", slog.String("error", err.Error()))
	}
}

// lastModified は更新日時を優先し、なければ公開日時を返す。
func lastModified(e model.SitemapEntry) time.Time {
	if !e.UpdatedAt.IsZero() {
		return e.UpdatedAt
	}
	if e.PublishedAt != nil {
		return *e.PublishedAt
	}
	return time.Time{}
}
