package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/moviehunt-blog/internal/model"
	"github.com/hitoshi/moviehunt-blog/internal/pipeline"
)

// ImportServiceInterface はインポートハンドラーが必要とするサービスインターフェース。
type ImportServiceInterface interface {
	AvailableFilms(ctx context.Context) ([]model.FilmSummary, error)
	ImportFilms(ctx context.Context, slugs []string, limit int) (*pipeline.ImportResult, error)
	ImportFilm(ctx context.Context, slug string, generateNow bool) (*pipeline.GenerateResult, *model.QueueRecord, error)
}

// ImportHandler はソースサイトからの作品インポートのHTTPハンドラー。
type ImportHandler struct {
	service ImportServiceInterface
	opts    Options
}

// NewImportHandler はImportHandlerを生成する。
func NewImportHandler(service ImportServiceInterface, opts Options) *ImportHandler {
	return &ImportHandler{service: service, opts: opts}
}

// bulkImportRequest は一括インポートリクエストのボディ。
// slugsが空の場合はソースの作品一覧を対象にする。
type bulkImportRequest struct {
	Slugs []string `json:"slugs" validate:"omitempty,max=500,dive,required,max=200"`
	Limit int      `json:"limit" validate:"gte=0,lte=500"`
}

// importFilmRequest は単体インポートリクエストのボディ。
type importFilmRequest struct {
	GenerateNow bool `json:"generateNow"`
}

// availableFilmsResponse は取り込み可能な作品一覧のレスポンス。
type availableFilmsResponse struct {
	Films []model.FilmSummary `json:"films"`
	Total int                 `json:"total"`
}

// AvailableFilms はソースで公開されている作品一覧を返す。
// GET /api/import/films/available
func (h *ImportHandler) AvailableFilms(w http.ResponseWriter, r *http.Request) {
	films, err := h.service.AvailableFilms(r.Context())
	if err != nil {
		h.opts.handleServiceError(w, r, err)
		return
	}
	if films == nil {
		films = []model.FilmSummary{}
	}
	writeData(w, http.StatusOK, availableFilmsResponse{Films: films, Total: len(films)}, "")
}

// ImportFilms は作品をaddedBy=autoでまとめてキューに追加する。
// POST /api/import/films/bulk
func (h *ImportHandler) ImportFilms(w http.ResponseWriter, r *http.Request) {
	var req bulkImportRequest
	if apiErr := decodeJSON(w, r, &req, true); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}
	for i := range req.Slugs {
		req.Slugs[i] = strings.TrimSpace(req.Slugs[i])
	}
	if apiErr := validateStruct(req); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	res, err := h.service.ImportFilms(r.Context(), req.Slugs, req.Limit)
	if err != nil {
		h.opts.handleServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res, fmt.Sprintf("%d films queued, %d already known", len(res.Added), len(res.Existing)))
}

// ImportFilm は1作品をインポートする。generateNowなら同期生成して201、
// そうでなければキューに追加して202を返す。
// POST /api/import/film/{slug}
func (h *ImportHandler) ImportFilm(w http.ResponseWriter, r *http.Request) {
	slug := strings.TrimSpace(chi.URLParam(r, "slug"))
	if slug == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError(map[string]string{
			"slug": "is required",
		}))
		return
	}

	var req importFilmRequest
	if apiErr := decodeJSON(w, r, &req, true); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	res, rec, err := h.service.ImportFilm(r.Context(), slug, req.GenerateNow)
	if err != nil {
		h.opts.handleServiceError(w, r, err)
		return
	}
	if res != nil {
		writeData(w, http.StatusCreated, res.Article, "article generated")
		return
	}
	writeData(w, http.StatusAccepted, rec, "film queued for generation")
}
