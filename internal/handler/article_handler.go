package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/moviehunt-blog/internal/model"
	"github.com/hitoshi/moviehunt-blog/internal/pipeline"
)

// 記事一覧のページサイズ
const (
	defaultArticlesPerPage = 10
	maxArticlesPerPage     = 100
)

// ArticleServiceInterface は記事ハンドラーが必要とするサービスインターフェース。
type ArticleServiceInterface interface {
	ListArticles(ctx context.Context, filter model.ArticleFilter) ([]*model.Article, model.Pagination, error)
	GetArticle(ctx context.Context, id string) (*model.Article, error)
	GetArticleBySlug(ctx context.Context, slug string) (*model.Article, error)
	UpdateArticle(ctx context.Context, id string, patch model.ArticlePatch) (*model.Article, error)
	PublishArticle(ctx context.Context, id string) (*model.Article, error)
	DeleteArticle(ctx context.Context, id string) error
	// GenerateFromURL はソースURLから記事を同期的に生成する。既存記事があればそれを返す。
	GenerateFromURL(ctx context.Context, rawURL, addedBy string) (*pipeline.GenerateResult, error)
	RegenerateArticle(ctx context.Context, id string) (*model.Article, error)
	ListTags(ctx context.Context) ([]string, error)
	Stats(ctx context.Context) (*model.Stats, error)
}

// ArticleHandler は記事管理のHTTPハンドラー。
type ArticleHandler struct {
	service ArticleServiceInterface
	opts    Options
}

// NewArticleHandler はArticleHandlerを生成する。
func NewArticleHandler(service ArticleServiceInterface, opts Options) *ArticleHandler {
	return &ArticleHandler{service: service, opts: opts}
}

// --- リクエスト・レスポンス型 ---

// generateRequest は記事生成リクエストのボディ。
type generateRequest struct {
	URL string `json:"url" validate:"required,url"`
}

// updateArticleRequest は記事更新リクエストのボディ。省略したフィールドは変更しない。
type updateArticleRequest struct {
	Title      *string                `json:"title" validate:"omitnil,min=3,max=200"`
	Excerpt    *string                `json:"excerpt" validate:"omitnil,max=1000"`
	Content    *string                `json:"content" validate:"omitnil,min=50"`
	Tags       []string               `json:"tags" validate:"omitempty,max=30,dive,min=1,max=60"`
	CoverImage *string                `json:"coverImage" validate:"omitempty,url"`
	Category   *string                `json:"category" validate:"omitnil,oneof=review list"`
	Status     *string                `json:"status" validate:"omitnil,oneof=draft published archived"`
	Slug       *string                `json:"slug" validate:"omitnil,min=1,max=200"`
	SEO        *model.SEO             `json:"seo"`
	Metadata   *model.ArticleMetadata `json:"metadata"`
}

// toPatch はリクエストをドメインのパッチに変換する。
func (req updateArticleRequest) toPatch() model.ArticlePatch {
	patch := model.ArticlePatch{
		Title:      req.Title,
		Excerpt:    req.Excerpt,
		Content:    req.Content,
		Tags:       req.Tags,
		CoverImage: req.CoverImage,
		SEO:        req.SEO,
		Metadata:   req.Metadata,
		Slug:       req.Slug,
	}
	if req.Category != nil {
		c := model.ArticleCategory(*req.Category)
		patch.Category = &c
	}
	if req.Status != nil {
		s := model.ArticleStatus(*req.Status)
		patch.Status = &s
	}
	return patch
}

// trim は文字列フィールドの前後の空白を取り除く。
func (req *updateArticleRequest) trim() {
	for _, p := range []*string{req.Title, req.Excerpt, req.Content, req.CoverImage, req.Slug} {
		if p != nil {
			*p = strings.TrimSpace(*p)
		}
	}
}

// articleListResponse は記事一覧のレスポンス。
type articleListResponse struct {
	Articles   []*model.Article `json:"articles"`
	Pagination model.Pagination `json:"pagination"`
}

// --- ハンドラー ---

// ListArticles は記事一覧を返す。scrapedDataは含めない。
// GET /api/articles?page=&limit=&status=&category=&search=
func (h *ArticleHandler) ListArticles(w http.ResponseWriter, r *http.Request) {
	filter, apiErr := parseArticleFilter(r)
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	articles, pagination, err := h.service.ListArticles(r.Context(), filter)
	if err != nil {
		h.opts.handleServiceError(w, r, err)
		return
	}

	summaries := make([]*model.Article, 0, len(articles))
	for _, a := range articles {
		summaries = append(summaries, withoutScrapedData(a))
	}
	writeData(w, http.StatusOK, articleListResponse{
		Articles:   summaries,
		Pagination: pagination,
	}, "")
}

// GetArticle はIDで記事を返す。
// GET /api/articles/{id}
func (h *ArticleHandler) GetArticle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if apiErr := validateID(id); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	article, err := h.service.GetArticle(r.Context(), id)
	if err != nil {
		h.opts.handleServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, article, "")
}

// GetArticleBySlug はスラッグで記事を返す。
// GET /api/articles/slug/{slug}
func (h *ArticleHandler) GetArticleBySlug(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	article, err := h.service.GetArticleBySlug(r.Context(), slug)
	if err != nil {
		h.opts.handleServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, article, "")
}

// GenerateArticle はソースURLから記事を同期的に生成する。
// 既存記事を返した場合もステータスは201で、messageで区別する。
// POST /api/articles/generate
func (h *ArticleHandler) GenerateArticle(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if apiErr := decodeJSON(w, r, &req, false); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if apiErr := validateStruct(req); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	res, err := h.service.GenerateFromURL(r.Context(), req.URL, model.AddedByManual)
	if err != nil {
		h.opts.handleServiceError(w, r, err)
		return
	}

	message := "article generated"
	if !res.Created {
		message = "article already exists for this url"
	}
	writeData(w, http.StatusCreated, res.Article, message)
}

// RegenerateArticle は記事の内容を再生成して上書きする。
// POST /api/articles/{id}/regenerate
func (h *ArticleHandler) RegenerateArticle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if apiErr := validateID(id); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	article, err := h.service.RegenerateArticle(r.Context(), id)
	if err != nil {
		h.opts.handleServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, article, "article regenerated")
}

// UpdateArticle は記事を部分更新する。
// PUT /api/articles/{id}, PATCH /api/articles/{id}
func (h *ArticleHandler) UpdateArticle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if apiErr := validateID(id); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	var req updateArticleRequest
	if apiErr := decodeJSON(w, r, &req, false); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}
	req.trim()
	if apiErr := validateStruct(req); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	article, err := h.service.UpdateArticle(r.Context(), id, req.toPatch())
	if err != nil {
		h.opts.handleServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, article, "article updated")
}

// PublishArticle は下書きの記事を公開する。
// POST /api/articles/{id}/publish
func (h *ArticleHandler) PublishArticle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if apiErr := validateID(id); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	article, err := h.service.PublishArticle(r.Context(), id)
	if err != nil {
		h.opts.handleServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, article, "article published")
}

// DeleteArticle は記事を削除する。参照しているキューレコードは残る。
// DELETE /api/articles/{id}
func (h *ArticleHandler) DeleteArticle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if apiErr := validateID(id); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	if err := h.service.DeleteArticle(r.Context(), id); err != nil {
		h.opts.handleServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, nil, "article deleted")
}

// ListTags は公開記事のタグ一覧を返す。
// GET /api/articles/tags/all
func (h *ArticleHandler) ListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.service.ListTags(r.Context())
	if err != nil {
		h.opts.handleServiceError(w, r, err)
		return
	}
	if tags == nil {
		tags = []string{}
	}
	writeData(w, http.StatusOK, tags, "")
}

// Stats は記事とキューの件数を返す。
// GET /api/articles/stats
func (h *ArticleHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.opts.handleServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, stats, "")
}

// --- ヘルパー関数 ---

// parseArticleFilter はクエリパラメータから一覧条件を組み立てる。
// statusの既定値はpublishedで、allを指定すると絞り込まない。
func parseArticleFilter(r *http.Request) (model.ArticleFilter, *model.APIError) {
	q := r.URL.Query()
	filter := model.ArticleFilter{
		Page:   1,
		Limit:  defaultArticlesPerPage,
		Status: model.ArticleStatusPublished,
		Search: strings.TrimSpace(q.Get("search")),
	}

	if v := q.Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Page = n
		}
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = min(n, maxArticlesPerPage)
		}
	}

	switch status := q.Get("status"); status {
	case "":
	case "all":
		filter.Status = ""
	default:
		if !model.ArticleStatus(status).Valid() {
			return filter, model.NewValidationError(map[string]string{
				"status": "must be one of: draft, published, archived, all",
			})
		}
		filter.Status = model.ArticleStatus(status)
	}

	if category := q.Get("category"); category != "" {
		if !model.ArticleCategory(category).Valid() {
			return filter, model.NewValidationError(map[string]string{
				"category": "must be one of: review, list",
			})
		}
		filter.Category = model.ArticleCategory(category)
	}
	return filter, nil
}

// withoutScrapedData は一覧用にscrapedDataを除いたコピーを返す。
func withoutScrapedData(a *model.Article) *model.Article {
	c := *a
	c.ScrapedData = nil
	return &c
}
