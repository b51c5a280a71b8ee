package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/moviehunt-blog/internal/model"
	"github.com/hitoshi/moviehunt-blog/internal/pipeline"
)

const (
	testArticleID = "5b0f4c2e-8d3a-4f4e-9a51-2c7e0b6d9f10"
	testQueueID   = "0c9e7d7a-1f2b-4c3d-8e9f-a0b1c2d3e4f5"
)

// --- モック定義 ---

// mockArticleService はArticleServiceInterfaceのモック実装。
type mockArticleService struct {
	listArticlesFn      func(ctx context.Context, filter model.ArticleFilter) ([]*model.Article, model.Pagination, error)
	getArticleFn        func(ctx context.Context, id string) (*model.Article, error)
	getArticleBySlugFn  func(ctx context.Context, slug string) (*model.Article, error)
	updateArticleFn     func(ctx context.Context, id string, patch model.ArticlePatch) (*model.Article, error)
	publishArticleFn    func(ctx context.Context, id string) (*model.Article, error)
	deleteArticleFn     func(ctx context.Context, id string) error
	generateFromURLFn   func(ctx context.Context, rawURL, addedBy string) (*pipeline.GenerateResult, error)
	regenerateArticleFn func(ctx context.Context, id string) (*model.Article, error)
	listTagsFn          func(ctx context.Context) ([]string, error)
	statsFn             func(ctx context.Context) (*model.Stats, error)
}

func (m *mockArticleService) ListArticles(ctx context.Context, filter model.ArticleFilter) ([]*model.Article, model.Pagination, error) {
	if m.listArticlesFn != nil {
		return m.listArticlesFn(ctx, filter)
	}
	return nil, model.Pagination{}, nil
}

func (m *mockArticleService) GetArticle(ctx context.Context, id string) (*model.Article, error) {
	if m.getArticleFn != nil {
		return m.getArticleFn(ctx, id)
	}
	return nil, nil
}

func (m *mockArticleService) GetArticleBySlug(ctx context.Context, slug string) (*model.Article, error) {
	if m.getArticleBySlugFn != nil {
		return m.getArticleBySlugFn(ctx, slug)
	}
	return nil, nil
}

func (m *mockArticleService) UpdateArticle(ctx context.Context, id string, patch model.ArticlePatch) (*model.Article, error) {
	if m.updateArticleFn != nil {
		return m.updateArticleFn(ctx, id, patch)
	}
	return nil, nil
}

func (m *mockArticleService) PublishArticle(ctx context.Context, id string) (*model.Article, error) {
	if m.publishArticleFn != nil {
		return m.publishArticleFn(ctx, id)
	}
	return nil, nil
}

func (m *mockArticleService) DeleteArticle(ctx context.Context, id string) error {
	if m.deleteArticleFn != nil {
		return m.deleteArticleFn(ctx, id)
	}
	return nil
}

func (m *mockArticleService) GenerateFromURL(ctx context.Context, rawURL, addedBy string) (*pipeline.GenerateResult, error) {
	if m.generateFromURLFn != nil {
		return m.generateFromURLFn(ctx, rawURL, addedBy)
	}
	return nil, nil
}

func (m *mockArticleService) RegenerateArticle(ctx context.Context, id string) (*model.Article, error) {
	if m.regenerateArticleFn != nil {
		return m.regenerateArticleFn(ctx, id)
	}
	return nil, nil
}

func (m *mockArticleService) ListTags(ctx context.Context) ([]string, error) {
	if m.listTagsFn != nil {
		return m.listTagsFn(ctx)
	}
	return nil, nil
}

func (m *mockArticleService) Stats(ctx context.Context) (*model.Stats, error) {
	if m.statsFn != nil {
		return m.statsFn(ctx)
	}
	return &model.Stats{}, nil
}

// mockQueueService はQueueServiceInterfaceのモック実装。
type mockQueueService struct {
	listQueueFn        func(ctx context.Context, status model.QueueStatus, limit int) ([]*model.QueueRecord, error)
	deleteQueueRecord  func(ctx context.Context, id string) error
	resetQueueRecordFn func(ctx context.Context, id string, status model.QueueStatus) (*model.QueueRecord, error)
	resetStuckFn       func(ctx context.Context) (int64, error)
	processQueueFn     func(ctx context.Context, limit int) ([]pipeline.ItemResult, error)
	retryFailedFn      func(ctx context.Context, maxRetries int) ([]pipeline.ItemResult, error)
}

func (m *mockQueueService) ListQueue(ctx context.Context, status model.QueueStatus, limit int) ([]*model.QueueRecord, error) {
	if m.listQueueFn != nil {
		return m.listQueueFn(ctx, status, limit)
	}
	return nil, nil
}

func (m *mockQueueService) DeleteQueueRecord(ctx context.Context, id string) error {
	if m.deleteQueueRecord != nil {
		return m.deleteQueueRecord(ctx, id)
	}
	return nil
}

func (m *mockQueueService) ResetQueueRecord(ctx context.Context, id string, status model.QueueStatus) (*model.QueueRecord, error) {
	if m.resetQueueRecordFn != nil {
		return m.resetQueueRecordFn(ctx, id, status)
	}
	return &model.QueueRecord{ID: id, Status: model.QueueStatusPending}, nil
}

func (m *mockQueueService) ResetStuck(ctx context.Context) (int64, error) {
	if m.resetStuckFn != nil {
		return m.resetStuckFn(ctx)
	}
	return 0, nil
}

func (m *mockQueueService) ProcessQueue(ctx context.Context, limit int) ([]pipeline.ItemResult, error) {
	if m.processQueueFn != nil {
		return m.processQueueFn(ctx, limit)
	}
	return nil, nil
}

func (m *mockQueueService) RetryFailed(ctx context.Context, maxRetries int) ([]pipeline.ItemResult, error) {
	if m.retryFailedFn != nil {
		return m.retryFailedFn(ctx, maxRetries)
	}
	return nil, nil
}

// mockImportService はImportServiceInterfaceのモック実装。
type mockImportService struct {
	availableFilmsFn func(ctx context.Context) ([]model.FilmSummary, error)
	importFilmsFn    func(ctx context.Context, slugs []string, limit int) (*pipeline.ImportResult, error)
	importFilmFn     func(ctx context.Context, slug string, generateNow bool) (*pipeline.GenerateResult, *model.QueueRecord, error)
}

func (m *mockImportService) AvailableFilms(ctx context.Context) ([]model.FilmSummary, error) {
	if m.availableFilmsFn != nil {
		return m.availableFilmsFn(ctx)
	}
	return nil, nil
}

func (m *mockImportService) ImportFilms(ctx context.Context, slugs []string, limit int) (*pipeline.ImportResult, error) {
	if m.importFilmsFn != nil {
		return m.importFilmsFn(ctx, slugs, limit)
	}
	return &pipeline.ImportResult{}, nil
}

func (m *mockImportService) ImportFilm(ctx context.Context, slug string, generateNow bool) (*pipeline.GenerateResult, *model.QueueRecord, error) {
	if m.importFilmFn != nil {
		return m.importFilmFn(ctx, slug, generateNow)
	}
	return nil, &model.QueueRecord{ID: testQueueID, Status: model.QueueStatusPending}, nil
}

// mockAsyncGenerator はAsyncGeneratorのモック実装。
type mockAsyncGenerator struct {
	acceptFn func(ctx context.Context, rawURL, addedBy string) (*model.QueueRecord, bool, error)
}

func (m *mockAsyncGenerator) Accept(ctx context.Context, rawURL, addedBy string) (*model.QueueRecord, bool, error) {
	if m.acceptFn != nil {
		return m.acceptFn(ctx, rawURL, addedBy)
	}
	return &model.QueueRecord{ID: testQueueID, URL: rawURL, Status: model.QueueStatusPending}, true, nil
}

// mockSitemapSource はSitemapSourceのモック実装。
type mockSitemapSource struct {
	entriesFn func(ctx context.Context) ([]model.SitemapEntry, error)
}

func (m *mockSitemapSource) SitemapEntries(ctx context.Context) ([]model.SitemapEntry, error) {
	if m.entriesFn != nil {
		return m.entriesFn(ctx)
	}
	return nil, nil
}

// mockPinger はPingerのモック実装。
type mockPinger struct {
	err error
}

func (m *mockPinger) PingContext(ctx context.Context) error {
	return m.err
}

// --- テストヘルパー ---

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// apiErrorEnvelope はエラーレスポンスのデコード先。
type apiErrorEnvelope struct {
	Success bool `json:"success"`
	Error   struct {
		Code     string            `json:"code"`
		Message  string            `json:"message"`
		Category string            `json:"category"`
		Action   string            `json:"action"`
		Fields   map[string]string `json:"fields"`
		Detail   string            `json:"detail"`
	} `json:"error"`
}

// parseAPIErrorResponse はレスポンスボディからエラーエンベロープをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) apiErrorEnvelope {
	t.Helper()
	var result apiErrorEnvelope
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

// dataEnvelope は成功レスポンスのデコード先。dataは呼び出し側の型で受ける。
type dataEnvelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Message string `json:"message"`
}

// parseDataResponse はレスポンスボディから成功エンベロープをパースするヘルパー。
func parseDataResponse[T any](t *testing.T, w *httptest.ResponseRecorder) dataEnvelope[T] {
	t.Helper()
	var result dataEnvelope[T]
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return result
}

func ptr[T any](v T) *T { return &v }
