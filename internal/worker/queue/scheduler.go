// Package queue は生成キューのバックグラウンド処理を提供する。
// 定期的にpendingレコードを処理し、上限未満のfailedレコードを再実行する。
package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/moviehunt-blog/internal/pipeline"
)

// Runner はキュー処理の実行インターフェース。
type Runner interface {
	ProcessQueue(ctx context.Context, limit int) ([]pipeline.ItemResult, error)
	RetryFailed(ctx context.Context, maxRetries int) ([]pipeline.ItemResult, error)
}

// Scheduler はキュー処理の定期実行を行う。
// 生成は外部APIのレート制限があるため、1サイクル内の処理は逐次で行う。
type Scheduler struct {
	runner       Runner
	logger       *slog.Logger
	processLimit int
	maxRetries   int
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// processLimitとmaxRetriesが0以下の場合はRunner側の設定値が使われる。
func NewScheduler(runner Runner, logger *slog.Logger, processLimit, maxRetries int) *Scheduler {
	return &Scheduler{
		runner:       runner,
		logger:       logger,
		processLimit: processLimit,
		maxRetries:   maxRetries,
	}
}

// Start はinterval間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("キュースケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("process_limit", s.processLimit),
		slog.Int("max_retries", s.maxRetries),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("キュー処理サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("キュースケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("キュー処理サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce はpendingの処理とfailedの再実行を1回ずつ行う。
// pendingの処理に失敗しても再実行は試みる。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()

	processed, processErr := s.runner.ProcessQueue(ctx, s.processLimit)
	if processErr != nil {
		s.logger.Error("pendingレコードの処理に失敗しました",
			slog.String("error", processErr.Error()),
		)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	retried, retryErr := s.runner.RetryFailed(ctx, s.maxRetries)
	if retryErr != nil {
		s.logger.Error("failedレコードの再実行に失敗しました",
			slog.String("error", retryErr.Error()),
		)
	}

	s.logger.Info("キュー処理サイクルが完了しました",
		slog.Int("processed", len(processed)),
		slog.Int("processed_succeeded", countSucceeded(processed)),
		slog.Int("retried", len(retried)),
		slog.Int("retried_succeeded", countSucceeded(retried)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	if processErr != nil {
		return processErr
	}
	return retryErr
}

func countSucceeded(results []pipeline.ItemResult) int {
	n := 0
	for _, r := range results {
		if r.Success {
			n++
		}
	}
	return n
}
