package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/moviehunt-blog/internal/middleware"
	"github.com/hitoshi/moviehunt-blog/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	StatusRecorder    middleware.StatusRecorder

	// サービス
	Articles ArticleServiceInterface
	Queue    QueueServiceInterface
	Import   ImportServiceInterface
	Webhook  AsyncGenerator
	Sitemap  SitemapSource
	DB       Pinger

	// SiteURL はサイトマップに載せる公開サイトのURL。
	SiteURL string
	// MetricsHandler がnilでなければ/metricsに公開する。
	MetricsHandler http.Handler

	Options Options
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	CORS → Logging → Recovery → SecurityHeaders → RateLimit(General)
//
// 記事生成・再生成・Webhookには生成専用のレート制限を追加する。
// /health と /metrics はレート制限の外に置く。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()
	logger := deps.Options.logger()

	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusRecorder))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeAPIErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     "ROUTE_NOT_FOUND",
			Message:  "route not found",
			Category: model.CategorySystem,
			Action:   "Check the request path.",
		})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeAPIErrorResponse(w, http.StatusMethodNotAllowed, &model.APIError{
			Code:     "METHOD_NOT_ALLOWED",
			Message:  "method not allowed",
			Category: model.CategorySystem,
			Action:   "Check the request method.",
		})
	})

	articleHandler := NewArticleHandler(deps.Articles, deps.Options)
	queueHandler := NewQueueHandler(deps.Queue, deps.Options)
	importHandler := NewImportHandler(deps.Import, deps.Options)
	webhookHandler := NewWebhookHandler(deps.Webhook, deps.Options)
	sitemapHandler := NewSitemapHandler(deps.Sitemap, deps.SiteURL, deps.Options)
	healthHandler := NewHealthHandler(deps.DB, deps.Options)

	// --- レート制限の外 ---
	r.Get("/health", healthHandler.Health)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- レート制限の内側 ---
	r.Group(func(r chi.Router) {
		generateLimit := passThrough
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
			generateLimit = deps.RateLimiter.GenerateMiddleware()
		}

		r.Get("/sitemap.xml", sitemapHandler.Sitemap)

		// 記事
		r.Route("/api/articles", func(r chi.Router) {
			r.Get("/", articleHandler.ListArticles)
			r.Get("/stats", articleHandler.Stats)
			r.Get("/tags/all", articleHandler.ListTags)
			r.Get("/slug/{slug}", articleHandler.GetArticleBySlug)
			r.With(generateLimit).Post("/generate", articleHandler.GenerateArticle)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", articleHandler.GetArticle)
				r.Put("/", articleHandler.UpdateArticle)
				r.Patch("/", articleHandler.UpdateArticle)
				r.Delete("/", articleHandler.DeleteArticle)
				r.Post("/publish", articleHandler.PublishArticle)
				r.With(generateLimit).Post("/regenerate", articleHandler.RegenerateArticle)
			})
		})

		// 生成キュー
		r.Route("/api/queue", func(r chi.Router) {
			r.Get("/", queueHandler.ListQueue)
			r.Post("/process", queueHandler.ProcessQueue)
			r.Post("/retry", queueHandler.RetryFailed)
			r.Post("/reset-stuck", queueHandler.ResetStuck)

			r.Route("/{id}", func(r chi.Router) {
				r.Delete("/", queueHandler.DeleteQueueRecord)
				r.Post("/reset", queueHandler.ResetQueueRecord)
			})
		})

		// Webhook
		r.Route("/api/webhook", func(r chi.Router) {
			r.Get("/health", webhookHandler.Health)
			r.With(generateLimit).Post("/moviehunt", webhookHandler.Receive)
		})

		// インポート
		r.Route("/api/import", func(r chi.Router) {
			r.Get("/films/available", importHandler.AvailableFilms)
			r.Post("/films/bulk", importHandler.ImportFilms)
			r.With(generateLimit).Post("/film/{slug}", importHandler.ImportFilm)
		})
	})

	return r
}

func passThrough(next http.Handler) http.Handler { return next }
