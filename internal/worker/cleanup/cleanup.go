// Package cleanup は生成キューの後片付けジョブを提供する。
// processingのまま放置されたレコードをfailedへ倒すリーパーと、
// 保持期間を過ぎたcompletedレコードの削除を行う。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// StaleErrorMessage はリーパーがfailedへ倒したレコードに記録するエラー。
const StaleErrorMessage = "stale processing record reaped"

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// ReapRecorder はリーパーが倒した件数を記録する。
type ReapRecorder interface {
	RecordQueueReaped(count int)
}

// CleanupJob はキューの後片付けジョブ。何度実行しても結果は変わらない。
type CleanupJob struct {
	db       Executor
	logger   *slog.Logger
	recorder ReapRecorder

	// StaleTimeout はprocessingのまま更新がないレコードをfailedとみなすまでの時間。0以下で無効。
	StaleTimeout time.Duration
	// RetentionDays はcompletedレコードの保持日数。0以下で削除しない。
	RetentionDays int
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトはStaleTimeout=30分、RetentionDays=90日。
func NewCleanupJob(db Executor, logger *slog.Logger, recorder ReapRecorder) *CleanupJob {
	return &CleanupJob{
		db:            db,
		logger:        logger,
		recorder:      recorder,
		StaleTimeout:  30 * time.Minute,
		RetentionDays: 90,
	}
}

// Run はリーパーと保持期間切れの削除を順に実行する。
func (j *CleanupJob) Run(ctx context.Context) error {
	if _, err := j.ReapStale(ctx); err != nil {
		return err
	}
	if _, err := j.PurgeCompleted(ctx); err != nil {
		return err
	}
	return nil
}

// ReapStale はupdated_atがStaleTimeoutより古いprocessingレコードをfailedにする。
// retry_countを1増やすため、RetryFailedの対象として扱われる。
func (j *CleanupJob) ReapStale(ctx context.Context) (int64, error) {
	if j.StaleTimeout <= 0 {
		return 0, nil
	}
	start := time.Now()
	interval := fmt.Sprintf("%d seconds", int64(j.StaleTimeout.Seconds()))

	query := `UPDATE url_queue
		SET status = 'failed', error = $2, retry_count = retry_count + 1, updated_at = now()
		WHERE status = 'processing' AND updated_at < now() - $1::interval`
	result, err := j.db.ExecContext(ctx, query, interval, StaleErrorMessage)
	if err != nil {
		j.logger.Error("滞留レコードの回収に失敗しました",
			slog.String("error", err.Error()),
			slog.Duration("stale_timeout", j.StaleTimeout),
		)
		return 0, fmt.Errorf("滞留レコードの回収に失敗: %w", err)
	}

	reaped, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("回収件数の取得に失敗: %w", err)
	}
	if j.recorder != nil && reaped > 0 {
		j.recorder.RecordQueueReaped(int(reaped))
	}

	level := slog.LevelInfo
	if reaped > 0 {
		level = slog.LevelWarn
	}
	j.logger.Log(ctx, level, "滞留レコードの回収が完了しました",
		slog.Int64("reaped_count", reaped),
		slog.Duration("stale_timeout", j.StaleTimeout),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return reaped, nil
}

// PurgeCompleted はupdated_atがRetentionDays日より古いcompletedレコードを削除する。
func (j *CleanupJob) PurgeCompleted(ctx context.Context) (int64, error) {
	if j.RetentionDays <= 0 {
		return 0, nil
	}
	start := time.Now()
	interval := fmt.Sprintf("%d days", j.RetentionDays)

	query := `DELETE FROM url_queue WHERE status = 'completed' AND updated_at < now() - $1::interval`
	result, err := j.db.ExecContext(ctx, query, interval)
	if err != nil {
		j.logger.Error("完了レコードの削除に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return 0, fmt.Errorf("完了レコードの削除に失敗: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	j.logger.Info("完了レコードの削除が完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return deleted, nil
}
