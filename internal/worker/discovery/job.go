// Package discovery はソースサイトの新着作品を検出してキューに追加するジョブを提供する。
// 作品一覧APIと、設定されていればRSS/Atomフィードの両方を参照する。
package discovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/moviehunt-blog/internal/model"
)

// FilmSource は作品一覧の取得インターフェース。
type FilmSource interface {
	ListFilms(ctx context.Context) ([]model.FilmSummary, error)
	BuildFilmURL(slug string) string
	IsValidSourceURL(rawURL string) bool
}

// Enqueuer は検出したURLをキューへ追加するインターフェース。
type Enqueuer interface {
	EnqueueDiscovered(ctx context.Context, url string) (bool, error)
}

// LinkReader はフィードからリンクを読み取るインターフェース。
type LinkReader interface {
	Links(ctx context.Context) ([]string, error)
}

// Config はジョブの設定パラメータ。
type Config struct {
	// Interval はジョブの実行間隔（デフォルト: 1時間）。
	Interval time.Duration
	// MaxPerCycle は1サイクルでキューに追加する最大件数（デフォルト: 50）。
	MaxPerCycle int
}

// DefaultConfig はデフォルトの設定を返す。
func DefaultConfig() Config {
	return Config{
		Interval:    time.Hour,
		MaxPerCycle: 50,
	}
}

// Result は1サイクルの結果。
type Result struct {
	Discovered int
	Added      int
}

// Job は新着作品の検出ジョブ。
type Job struct {
	source   FilmSource
	feed     LinkReader
	enqueuer Enqueuer
	logger   *slog.Logger
	config   Config

	consecutiveErrors int
	backoffUntil      time.Time
	now               func() time.Time
}

// NewJob はJobを生成する。feedがnilの場合は作品一覧APIのみを参照する。
func NewJob(source FilmSource, feed LinkReader, enqueuer Enqueuer, logger *slog.Logger, config Config) *Job {
	def := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.MaxPerCycle <= 0 {
		config.MaxPerCycle = def.MaxPerCycle
	}
	return &Job{
		source:   source,
		feed:     feed,
		enqueuer: enqueuer,
		logger:   logger,
		config:   config,
		now:      time.Now,
	}
}

// Start はジョブをティッカーで定期実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *Job) Start(ctx context.Context) {
	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	j.logger.Info("新着作品の検出ジョブを開始しました",
		slog.Duration("interval", j.config.Interval),
		slog.Bool("feed_enabled", j.feed != nil),
	)

	// 起動直後に1回実行
	j.runLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("新着作品の検出ジョブを停止しました")
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

func (j *Job) runLogged(ctx context.Context) {
	if _, err := j.RunOnce(ctx); err != nil {
		j.logger.Error("新着作品の検出サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は1回の検出サイクルを実行する。
// 取得元の片方が失敗しても、もう片方の結果はキューに追加する。
func (j *Job) RunOnce(ctx context.Context) (*Result, error) {
	start := j.now()
	res := &Result{}

	// バックオフ中の場合はスキップ
	if !j.backoffUntil.IsZero() && start.Before(j.backoffUntil) {
		j.logger.Info("検出ジョブはバックオフ中のためスキップします",
			slog.Time("backoff_until", j.backoffUntil),
		)
		return res, nil
	}

	urls, hadError := j.collect(ctx)
	res.Discovered = len(urls)

	for _, url := range urls {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if res.Added >= j.config.MaxPerCycle {
			j.logger.Info("1サイクルあたりの追加上限に達しました",
				slog.Int("max_per_cycle", j.config.MaxPerCycle),
			)
			break
		}
		created, err := j.enqueuer.EnqueueDiscovered(ctx, url)
		if err != nil {
			j.logger.Error("検出したURLのキュー追加に失敗しました",
				slog.String("url", url),
				slog.String("error", err.Error()),
			)
			hadError = true
			continue
		}
		if created {
			res.Added++
		}
	}

	if hadError {
		j.consecutiveErrors++
		if backoff := calculateErrorBackoff(j.consecutiveErrors); backoff > 0 {
			j.backoffUntil = j.now().Add(backoff)
			j.logger.Warn("連続エラーによりバックオフを適用します",
				slog.Int("consecutive_errors", j.consecutiveErrors),
				slog.Duration("backoff_duration", backoff),
			)
		}
	} else {
		j.consecutiveErrors = 0
		j.backoffUntil = time.Time{}
	}

	j.logger.Info("新着作品の検出サイクルが完了しました",
		slog.Int("discovered", res.Discovered),
		slog.Int("added", res.Added),
		slog.Float64("duration_ms", float64(j.now().Sub(start).Milliseconds())),
	)
	return res, nil
}

// collect は作品一覧APIとフィードから重複を除いたURLを集める。
func (j *Job) collect(ctx context.Context) ([]string, bool) {
	var urls []string
	seen := make(map[string]bool)
	hadError := false
	add := func(u string) {
		if u == "" || seen[u] || !j.source.IsValidSourceURL(u) {
			return
		}
		seen[u] = true
		urls = append(urls, u)
	}

	films, err := j.source.ListFilms(ctx)
	if err != nil {
		j.logger.Error("作品一覧の取得に失敗しました", slog.String("error", err.Error()))
		hadError = true
	}
	for _, f := range films {
		add(j.source.BuildFilmURL(f.Slug))
	}

	if j.feed != nil {
		links, err := j.feed.Links(ctx)
		if err != nil {
			j.logger.Error("フィードの読み取りに失敗しました", slog.String("error", err.Error()))
			hadError = true
		}
		for _, l := range links {
			add(l)
		}
	}
	return urls, hadError
}

// calculateErrorBackoff は連続エラー回数に基づくバックオフ時間を計算する。
// 3回連続: 30分、5回連続: 1時間、10回連続: 6時間。
func calculateErrorBackoff(consecutiveErrors int) time.Duration {
	switch {
	case consecutiveErrors >= 10:
		return 6 * time.Hour
	case consecutiveErrors >= 5:
		return 1 * time.Hour
	case consecutiveErrors >= 3:
		return 30 * time.Minute
	default:
		return 0
	}
}
