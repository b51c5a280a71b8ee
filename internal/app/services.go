package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/moviehunt-blog/internal/config"
	"github.com/hitoshi/moviehunt-blog/internal/database"
	"github.com/hitoshi/moviehunt-blog/internal/generator"
	"github.com/hitoshi/moviehunt-blog/internal/llm"
	"github.com/hitoshi/moviehunt-blog/internal/metrics"
	"github.com/hitoshi/moviehunt-blog/internal/pipeline"
	"github.com/hitoshi/moviehunt-blog/internal/repository"
	"github.com/hitoshi/moviehunt-blog/internal/security"
	"github.com/hitoshi/moviehunt-blog/internal/source"
	"github.com/hitoshi/moviehunt-blog/internal/tmdb"
)

// services はサーバー、ワーカー、CLIで共有する組み立て済みの依存関係。
type services struct {
	pipeline   *pipeline.Service
	source     *source.Fetcher
	httpClient *http.Client
	llm        llm.Client
}

// Close は保持しているクライアントを解放する。
func (s *services) Close() {
	if s.llm == nil {
		return
	}
	if err := s.llm.Close(); err != nil {
		slog.Warn("LLMクライアントの解放に失敗しました", slog.String("error", err.Error()))
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := database.Open(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return db, nil
}

// buildServices は設定から生成パイプラインを組み立てる。
// 外部への通信はすべてSSRF対策済みのHTTPクライアントを経由する。
// recorderがnilの場合はメトリクスを記録しない。
func buildServices(ctx context.Context, cfg *config.Config, db *sql.DB, recorder metrics.MetricsCollector) (*services, error) {
	logger := slog.Default()

	ssrfGuard := security.NewSSRFGuard()
	httpClient := ssrfGuard.NewSafeClient(cfg.FetchTimeout, cfg.FetchMaxSize)
	sanitizer := security.NewContentSanitizer()

	fetcher := source.NewFetcher(httpClient, logger, source.Options{
		APIBaseURL:   cfg.SourceAPIBaseURL,
		SiteURL:      cfg.SourceSiteURL,
		AllowedHosts: cfg.SourceAllowedHost,
	})

	llmClient, err := llm.NewClient(ctx, llm.Config{
		Provider: cfg.LLMProvider,
		APIKey:   cfg.LLMAPIKey,
		Model:    cfg.LLMModel,
		Endpoint: cfg.LLMEndpoint,
		Timeout:  cfg.LLMTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	gen, err := generator.New(llmClient, sanitizer, nil, logger, generator.Options{
		Temperature: cfg.LLMTemperature,
		MaxTokens:   cfg.LLMMaxTokens,
	})
	if err != nil {
		llmClient.Close()
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}

	deps := pipeline.Deps{
		Articles:  repository.NewPostgresArticleRepo(db),
		Queue:     repository.NewPostgresQueueRepo(db),
		Source:    fetcher,
		Generator: gen,
		Sanitizer: sanitizer,
		Logger:    logger,
	}
	if recorder != nil {
		deps.Metrics = recorder
	}

	enricher := tmdb.NewClient(httpClient, logger, tmdb.Options{
		APIKey:       cfg.TMDBAPIKey,
		BaseURL:      cfg.TMDBBaseURL,
		ImageBaseURL: cfg.TMDBImageBaseURL,
		Language:     cfg.TMDBLanguage,
	})
	if enricher.Enabled() {
		deps.Enricher = enricher
	} else {
		logger.Info("TMDB_API_KEYが未設定のためメタデータ補完を無効にします")
	}

	svc := pipeline.NewService(deps, pipeline.Config{
		ItemDelay:    cfg.PipelineItemDelay,
		ProcessLimit: cfg.QueueProcessLimit,
		MaxRetries:   cfg.QueueMaxRetries,
		RetryBatch:   cfg.QueueRetryBatch,
	})

	return &services{
		pipeline:   svc,
		source:     fetcher,
		httpClient: httpClient,
		llm:        llmClient,
	}, nil
}
