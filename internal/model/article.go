package model

import (
	"encoding/json"
	"time"
)

// ArticleStatus は記事のライフサイクル状態を表す。
type ArticleStatus string

const (
	// ArticleStatusDraft はパイプラインが生成した直後の下書き状態。
	ArticleStatusDraft ArticleStatus = "draft"
	// ArticleStatusPublished は公開状態。
	ArticleStatusPublished ArticleStatus = "published"
	// ArticleStatusArchived はアーカイブ状態。
	ArticleStatusArchived ArticleStatus = "archived"
)

// Valid は定義済みのステータスかを返す。
func (s ArticleStatus) Valid() bool {
	switch s {
	case ArticleStatusDraft, ArticleStatusPublished, ArticleStatusArchived:
		return true
	}
	return false
}

// ArticleCategory は記事の分類を表す。
type ArticleCategory string

const (
	ArticleCategoryReview ArticleCategory = "review"
	ArticleCategoryList   ArticleCategory = "list"
)

// Valid は定義済みのカテゴリかを返す。
func (c ArticleCategory) Valid() bool {
	return c == ArticleCategoryReview || c == ArticleCategoryList
}

// SEO は記事のSEOメタ情報。
type SEO struct {
	MetaTitle       string   `json:"metaTitle"`
	MetaDescription string   `json:"metaDescription"`
	Keywords        []string `json:"keywords"`
}

// ArticleMetadata は記事に紐づく作品のメタデータ。
type ArticleMetadata struct {
	MovieTitle  string   `json:"movieTitle,omitempty"`
	ReleaseYear string   `json:"releaseYear,omitempty"`
	Genre       []string `json:"genre,omitempty"`
	Director    string   `json:"director,omitempty"`
	Actors      []string `json:"actors,omitempty"`
	Score       *float64 `json:"score,omitempty"`
	Hunted      bool     `json:"hunted"`
	HiddenGem   bool     `json:"hiddenGem"`
}

// Article はブログ記事を表す。
// SourceURLは空でない限り全記事で一意（DBの部分ユニークインデックスで保証）。
type Article struct {
	ID          string          `json:"id"`
	Slug        string          `json:"slug"`
	Title       string          `json:"title"`
	Excerpt     string          `json:"excerpt"`
	Content     string          `json:"content"`
	Tags        []string        `json:"tags"`
	CoverImage  string          `json:"coverImage,omitempty"`
	SourceURL   string          `json:"sourceUrl,omitempty"`
	ScrapedData json.RawMessage `json:"scrapedData,omitempty"`
	Category    ArticleCategory `json:"category"`
	Status      ArticleStatus   `json:"status"`
	SEO         SEO             `json:"seo"`
	Metadata    ArticleMetadata `json:"metadata"`
	GeneratedBy string          `json:"generatedBy,omitempty"`
	PublishedAt *time.Time      `json:"publishedAt"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// ArticleFilter は記事一覧の絞り込み条件。
// Statusが空の場合はステータスで絞り込まない。
type ArticleFilter struct {
	Status   ArticleStatus
	Category ArticleCategory
	Search   string
	Page     int
	Limit    int
}

// Offset はページ番号からオフセットを算出する。
func (f ArticleFilter) Offset() int {
	if f.Page < 1 {
		return 0
	}
	return (f.Page - 1) * f.Limit
}

// ArticlePatch は記事の部分更新内容。nilのフィールドは変更しない。
type ArticlePatch struct {
	Title      *string
	Excerpt    *string
	Content    *string
	Tags       []string
	CoverImage *string
	Category   *ArticleCategory
	Status     *ArticleStatus
	SEO        *SEO
	Metadata   *ArticleMetadata
	Slug       *string
}

// Apply はパッチ内容を記事に反映する。
func (p ArticlePatch) Apply(a *Article) {
	if p.Title != nil {
		a.Title = *p.Title
	}
	if p.Excerpt != nil {
		a.Excerpt = *p.Excerpt
	}
	if p.Content != nil {
		a.Content = *p.Content
	}
	if p.Tags != nil {
		a.Tags = p.Tags
	}
	if p.CoverImage != nil {
		a.CoverImage = *p.CoverImage
	}
	if p.Category != nil {
		a.Category = *p.Category
	}
	if p.Status != nil {
		a.Status = *p.Status
	}
	if p.SEO != nil {
		a.SEO = *p.SEO
	}
	if p.Metadata != nil {
		a.Metadata = *p.Metadata
	}
	if p.Slug != nil {
		a.Slug = *p.Slug
	}
}

// Pagination は一覧APIのページ情報。
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// NewPagination は総件数からページ数を算出する。
func NewPagination(page, limit, total int) Pagination {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return Pagination{Page: page, Limit: limit, Total: total, Pages: pages}
}

// SitemapEntry はサイトマップ出力用の公開記事情報。
type SitemapEntry struct {
	Slug        string
	PublishedAt *time.Time
	UpdatedAt   time.Time
}

// Stats は管理画面向けの集計値。
type Stats struct {
	Articles ArticleStats `json:"articles"`
	Queue    QueueStats   `json:"queue"`
}

// ArticleStats は記事件数の集計。
type ArticleStats struct {
	Total     int `json:"total"`
	Published int `json:"published"`
	Draft     int `json:"draft"`
	Archived  int `json:"archived"`
}

// QueueStats はキュー件数の集計。
type QueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}
