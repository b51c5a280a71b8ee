// Package pipeline は記事生成パイプラインと、記事・生成キューの操作をまとめたサービス層を提供する。
//
// 1回の生成は「重複確認 → キュー確保 → 取得 → 補完 → 生成 → 保存 → キュー状態遷移」の順に進む。
// キュー確保後の失敗は必ずキューレコードに記録してから呼び出し元へ返す。
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/moviehunt-blog/internal/metrics"
	"github.com/hitoshi/moviehunt-blog/internal/model"
	"github.com/hitoshi/moviehunt-blog/internal/repository"
	"github.com/hitoshi/moviehunt-blog/internal/security"
)

// SourceFetcher は作品ソースの取得インターフェース。
type SourceFetcher interface {
	IsValidSourceURL(rawURL string) bool
	Scrape(ctx context.Context, rawURL string) (*model.ScrapedFilm, error)
	ListFilms(ctx context.Context) ([]model.FilmSummary, error)
	BuildFilmURL(slug string) string
}

// Enricher はメタデータ補完のインターフェース。失敗時はnilを返し、エラーは返さない。
type Enricher interface {
	Enrich(ctx context.Context, title, year string) *model.Enrichment
}

// ContentGenerator は記事本文の生成インターフェース。
type ContentGenerator interface {
	Generate(ctx context.Context, film *model.ScrapedFilm, sourceURL string) (*model.GeneratedArticle, error)
}

// Config はバッチ処理の設定。
type Config struct {
	// ItemDelay はバッチ処理で生成と生成の間に空ける時間。
	ItemDelay time.Duration
	// ProcessLimit はProcessQueueでlimit未指定時の件数。
	ProcessLimit int
	// MaxRetries はRetryFailedでmaxRetries未指定時の上限。
	MaxRetries int
	// RetryBatch はRetryFailedが1回に扱う最大件数。
	RetryBatch int
}

// DefaultConfig はデフォルト設定を返す。
func DefaultConfig() Config {
	return Config{
		ItemDelay:    2 * time.Second,
		ProcessLimit: 5,
		MaxRetries:   3,
		RetryBatch:   10,
	}
}

// Service は生成パイプラインと記事・キュー操作のサービス。
type Service struct {
	articles  repository.ArticleRepository
	queue     repository.QueueRepository
	source    SourceFetcher
	enricher  Enricher
	generator ContentGenerator
	sanitizer security.ContentSanitizerService
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	cfg       Config

	inflight singleflight.Group
	flightMu sync.Mutex
	flights  map[string]*flight

	// テスト用に差し替え可能
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Deps はServiceの依存関係。EnricherとSanitizerとMetricsは省略できる。
type Deps struct {
	Articles  repository.ArticleRepository
	Queue     repository.QueueRepository
	Source    SourceFetcher
	Enricher  Enricher
	Generator ContentGenerator
	Sanitizer security.ContentSanitizerService
	Metrics   metrics.MetricsCollector
	Logger    *slog.Logger
}

// NewService はServiceを生成する。
func NewService(deps Deps, cfg Config) *Service {
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.ProcessLimit <= 0 {
		cfg.ProcessLimit = def.ProcessLimit
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RetryBatch <= 0 {
		cfg.RetryBatch = def.RetryBatch
	}
	return &Service{
		articles:  deps.Articles,
		queue:     deps.Queue,
		source:    deps.Source,
		enricher:  deps.Enricher,
		generator: deps.Generator,
		sanitizer: deps.Sanitizer,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		cfg:       cfg,
		flights:   make(map[string]*flight),
		now:       func() time.Time { return time.Now().UTC() },
		sleep:     sleepContext,
	}
}

// sleepContext はdの間待機する。コンテキストがキャンセルされた場合はその時点で戻る。
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// errorMessage はキューレコードに保存するエラーメッセージを返す。
// APIErrorの場合はコードを除いたメッセージを使う。
func errorMessage(err error) string {
	if apiErr, ok := model.AsAPIError(err); ok {
		return apiErr.Message
	}
	return err.Error()
}
