package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/moviehunt-blog/internal/config"
	"github.com/hitoshi/moviehunt-blog/internal/database"
	"github.com/hitoshi/moviehunt-blog/internal/handler"
	"github.com/hitoshi/moviehunt-blog/internal/logger"
	"github.com/hitoshi/moviehunt-blog/internal/metrics"
	"github.com/hitoshi/moviehunt-blog/internal/middleware"
	"github.com/hitoshi/moviehunt-blog/internal/pipeline"
	"github.com/hitoshi/moviehunt-blog/internal/worker/cleanup"
	"github.com/hitoshi/moviehunt-blog/internal/worker/discovery"
	queueworker "github.com/hitoshi/moviehunt-blog/internal/worker/queue"
)

const (
	// shutdownTimeout はグレースフルシャットダウンの待ち時間。
	shutdownTimeout = 30 * time.Second
	// cleanupInterval はリーパーと保持期間切れ削除の実行間隔。
	cleanupInterval = 15 * time.Minute
	// dispatchBuffer はWebhook由来のバックグラウンド生成の待ち行列の長さ。
	dispatchBuffer = 32
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定値のレベルとフォーマットで再設定する
	logger.SetupDefaultWithOptions(w, logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。SIGINTまたはSIGTERMでコンテキストがキャンセルされる。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// commandContext はサブコマンド間で共有する実行時の状態。
type commandContext struct {
	out io.Writer
	cfg *config.Config
}

// init は設定とロガーを初期化する。healthcheck以外のサブコマンドの前に呼ばれる。
func (c *commandContext) init() error {
	cfg, err := Init(c.out)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	c.cfg = cfg
	return nil
}

// serve はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// コンテキストがキャンセルされるとグレースフルシャットダウンを行う。
func (c *commandContext) serve(ctx context.Context) error {
	cfg := c.cfg
	slog.Info("starting application",
		slog.String("command", string(CommandServe)),
		slog.String("port", cfg.ServerPort),
		slog.String("env", cfg.AppEnv),
	)

	// 1. DB接続
	db, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. メトリクスとサービスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	svc, err := buildServices(ctx, cfg, db, collector)
	if err != nil {
		return err
	}
	defer svc.Close()

	// 3. Webhook用のバックグラウンド生成
	dispatcher := pipeline.NewDispatcher(svc.pipeline, slog.Default(), dispatchBuffer, cfg.PipelineItemDelay)
	dispatcher.Start(ctx)

	// 4. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitGenerate),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		StatusRecorder:    collector,

		Articles: svc.pipeline,
		Queue:    svc.pipeline,
		Import:   svc.pipeline,
		Webhook:  handler.NewAsyncGenerationAdapter(svc.pipeline, dispatcher),
		Sitemap:  svc.pipeline,
		DB:       db,

		SiteURL:        cfg.SiteURL,
		MetricsHandler: metrics.Handler(registry),

		Options: handler.Options{
			Logger:            slog.Default(),
			ExposeErrorDetail: !cfg.IsProduction(),
			Batch: handler.BatchBudget{
				PerItem:      singleGenerationTimeout(cfg) + cfg.PipelineItemDelay,
				ProcessLimit: cfg.QueueProcessLimit,
				RetryBatch:   cfg.QueueRetryBatch,
			},
		},
	})

	// 5. HTTPサーバーの起動
	// 同期生成はLLM呼び出しを含むため、書き込みタイムアウトはLLMとソース取得の合計より長くとる。
	// キューのバッチ処理はハンドラーが件数に応じて期限を延ばす
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: singleGenerationTimeout(cfg) + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	dispatcher.Wait()

	slog.Info("API server stopped gracefully")
	return nil
}

// worker はワーカーモードで起動する。
// 同一ホストで1プロセスだけが動くようにファイルロックを取り、
// キュースケジューラ、クリーンアップ、新着検出をコンテキストのキャンセルまで実行する。
func (c *commandContext) worker(ctx context.Context) error {
	cfg := c.cfg
	slog.Info("starting application",
		slog.String("command", string(CommandWorker)),
		slog.String("lock_path", cfg.WorkerLockPath),
	)

	// 1. 多重起動の防止
	lock := flock.New(cfg.WorkerLockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("ワーカーロックの取得に失敗しました: %w", err)
	}
	if !locked {
		return fmt.Errorf("別のワーカーが実行中です (lock: %s)", cfg.WorkerLockPath)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			slog.Warn("ワーカーロックの解放に失敗しました", slog.String("error", err.Error()))
		}
	}()

	// 2. DB接続
	db, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	// 3. サービスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	svc, err := buildServices(ctx, cfg, db, collector)
	if err != nil {
		return err
	}
	defer svc.Close()

	logger := slog.Default()
	scheduler := queueworker.NewScheduler(svc.pipeline, logger, cfg.QueueProcessLimit, cfg.QueueMaxRetries)

	cleanupJob := cleanup.NewCleanupJob(db, logger, collector)
	cleanupJob.StaleTimeout = cfg.StaleProcessingTimeout
	cleanupJob.RetentionDays = cfg.CompletedRetentionDays

	slog.Info("worker starting",
		slog.Duration("worker_interval", cfg.WorkerInterval),
		slog.Duration("discovery_interval", cfg.DiscoveryInterval),
		slog.Duration("stale_timeout", cfg.StaleProcessingTimeout),
	)

	g, ctx := errgroup.WithContext(ctx)

	// キュースケジューラ
	g.Go(func() error {
		scheduler.Start(ctx, cfg.WorkerInterval)
		return nil
	})

	// クリーンアップ（起動直後に1回、以降は定期実行）
	g.Go(func() error {
		runCleanupLoop(ctx, cleanupJob, cleanupInterval)
		return nil
	})

	// 新着作品の検出（DISCOVERY_INTERVAL=0で無効）
	if cfg.DiscoveryInterval > 0 {
		var feed discovery.LinkReader
		if cfg.SourceFeedURL != "" {
			feed = discovery.NewFeedReader(svc.httpClient, logger, cfg.SourceFeedURL, cfg.FetchMaxSize)
		}
		job := discovery.NewJob(svc.source, feed, svc.pipeline, logger, discovery.Config{
			Interval: cfg.DiscoveryInterval,
		})
		g.Go(func() error {
			job.Start(ctx)
			return nil
		})
	} else {
		slog.Info("新着作品の検出は無効です")
	}

	// メトリクス公開（WORKER_METRICS_PORT指定時のみ）
	if cfg.WorkerMetricsPort != "" {
		metricsServer := &http.Server{
			Addr:              ":" + cfg.WorkerMetricsPort,
			Handler:           metrics.SetupMetricsRoute(registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server error: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("worker stopped gracefully")
	return nil
}

// runCleanupLoop はクリーンアップジョブを即時に1回実行し、その後interval間隔で実行する。
func runCleanupLoop(ctx context.Context, job *cleanup.CleanupJob, interval time.Duration) {
	run := func() {
		if err := job.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("cleanup job failed", slog.String("error", err.Error()))
		}
	}
	run()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}

// migrateUp は未適用のマイグレーションをすべて適用する。
func (c *commandContext) migrateUp() error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(c.cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(c.cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// migrateDown は直近steps件のマイグレーションを取り消す。
func (c *commandContext) migrateDown(steps int) error {
	slog.Info("rolling back database migrations",
		slog.String("database_url", maskDatabaseURL(c.cfg.DatabaseURL)),
		slog.Int("steps", steps),
	)

	if err := database.RollbackMigrations(c.cfg.DatabaseURL, steps); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}

	slog.Info("database rollback completed successfully")
	return nil
}

// migrateVersion は適用済みのスキーマバージョンを出力する。
func (c *commandContext) migrateVersion(w io.Writer) error {
	version, dirty, err := database.MigrationVersion(c.cfg.DatabaseURL)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "version: %d (dirty: %t)\n", version, dirty)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(ctx context.Context, port string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://localhost:%s/health", port), nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
// 解析できないURLは全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}

// singleGenerationTimeout は1件の同期生成にかかる時間の上限。取得、補完、LLM呼び出しを含む。
func singleGenerationTimeout(cfg *config.Config) time.Duration {
	return cfg.LLMTimeout + 2*cfg.FetchTimeout
}
