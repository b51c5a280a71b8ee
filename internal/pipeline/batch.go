package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/moviehunt-blog/internal/model"
)

// ItemResult はバッチ処理の1件分の結果。
type ItemResult struct {
	QueueID   string `json:"queueId"`
	URL       string `json:"url"`
	Success   bool   `json:"success"`
	ArticleID string `json:"articleId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ProcessQueue はpendingのレコードを古い順に最大limit件、1件ずつ生成する。
// 外部APIのレート制限に配慮し、生成の間にItemDelayだけ待機する。
// 個々の失敗は結果に記録して次へ進む。limitが0以下の場合は設定値を使う。
func (s *Service) ProcessQueue(ctx context.Context, limit int) ([]ItemResult, error) {
	if limit <= 0 {
		limit = s.cfg.ProcessLimit
	}
	recs, err := s.queue.ListPending(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("処理対象のキューレコードの取得に失敗しました: %w", err)
	}
	return s.runBatch(ctx, "process", recs)
}

// RetryFailed はretry_countがmaxRetries未満のfailedレコードを再実行する。
// 上限に達したレコードは対象外のまま残る。maxRetriesが0以下の場合は設定値を使う。
func (s *Service) RetryFailed(ctx context.Context, maxRetries int) ([]ItemResult, error) {
	if maxRetries <= 0 {
		maxRetries = s.cfg.MaxRetries
	}
	recs, err := s.queue.ListRetryable(ctx, maxRetries, s.cfg.RetryBatch)
	if err != nil {
		return nil, fmt.Errorf("再試行対象のキューレコードの取得に失敗しました: %w", err)
	}
	return s.runBatch(ctx, "retry", recs)
}

func (s *Service) runBatch(ctx context.Context, kind string, recs []*model.QueueRecord) ([]ItemResult, error) {
	start := time.Now()
	results := make([]ItemResult, 0, len(recs))
	if len(recs) == 0 {
		s.logger.Info("バッチ処理の対象はありません", slog.String("kind", kind))
		return results, nil
	}

	s.logger.Info("バッチ処理を開始します",
		slog.String("kind", kind),
		slog.Int("count", len(recs)),
	)

	succeeded := 0
	for i, rec := range recs {
		if i > 0 {
			if err := s.sleep(ctx, s.cfg.ItemDelay); err != nil {
				return results, err
			}
		}

		res := ItemResult{QueueID: rec.ID, URL: rec.URL}
		out, err := s.GenerateFromURL(ctx, rec.URL, rec.AddedBy)
		if err != nil {
			res.Error = errorMessage(err)
		} else {
			res.Success = true
			res.ArticleID = out.Article.ID
			succeeded++
		}
		results = append(results, res)
	}

	s.logger.Info("バッチ処理が完了しました",
		slog.String("kind", kind),
		slog.Int("count", len(results)),
		slog.Int("succeeded", succeeded),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return results, nil
}
