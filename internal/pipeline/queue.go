package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/moviehunt-blog/internal/model"
)

// Enqueue はURLを生成キューに追加する。既にレコードがある場合はそれを返す。
func (s *Service) Enqueue(ctx context.Context, rawURL, addedBy string) (*model.QueueRecord, bool, error) {
	url := strings.TrimSpace(rawURL)
	if !s.source.IsValidSourceURL(url) {
		return nil, false, model.NewInvalidSourceError(url)
	}
	rec, created, err := s.queue.FindOrCreate(ctx, url, addedBy)
	if err != nil {
		return nil, false, fmt.Errorf("キューへの追加に失敗しました: %w", err)
	}
	if created {
		s.logger.Info("キューに追加しました",
			slog.String("url", url),
			slog.String("queue_id", rec.ID),
			slog.String("added_by", addedBy),
		)
	}
	return rec, created, nil
}

// EnqueueDiscovered は自動検出したURLをキューに追加する。
// 記事が既にあるURLとキューにあるURLは追加せずfalseを返す。
func (s *Service) EnqueueDiscovered(ctx context.Context, rawURL string) (bool, error) {
	url := strings.TrimSpace(rawURL)
	if !s.source.IsValidSourceURL(url) {
		return false, model.NewInvalidSourceError(url)
	}
	existing, err := s.articles.FindBySourceURL(ctx, url)
	if err != nil {
		return false, fmt.Errorf("既存記事の確認に失敗しました: %w", err)
	}
	if existing != nil {
		return false, nil
	}
	_, created, err := s.Enqueue(ctx, url, model.AddedByAuto)
	return created, err
}

// ImportResult は一括インポートの結果。
type ImportResult struct {
	Added    []string `json:"added"`
	Existing []string `json:"existing"`
	Total    int      `json:"total"`
}

// AvailableFilms はソース側で公開されている作品一覧を返す。
func (s *Service) AvailableFilms(ctx context.Context) ([]model.FilmSummary, error) {
	return s.source.ListFilms(ctx)
}

// ImportFilms はスラッグ群をaddedBy=autoでキューに追加する。
// slugsが空の場合はソースの作品一覧を対象にし、limitが正ならその件数までに絞る。
// 既にキューにあるURLはスキップする。
func (s *Service) ImportFilms(ctx context.Context, slugs []string, limit int) (*ImportResult, error) {
	if len(slugs) == 0 {
		films, err := s.source.ListFilms(ctx)
		if err != nil {
			return nil, err
		}
		for _, f := range films {
			slugs = append(slugs, f.Slug)
		}
		if limit > 0 && len(slugs) > limit {
			slugs = slugs[:limit]
		}
	}

	res := &ImportResult{Added: []string{}, Existing: []string{}, Total: len(slugs)}
	for _, sl := range slugs {
		_, created, err := s.Enqueue(ctx, s.source.BuildFilmURL(sl), model.AddedByAuto)
		if err != nil {
			return nil, err
		}
		if created {
			res.Added = append(res.Added, sl)
		} else {
			res.Existing = append(res.Existing, sl)
		}
	}
	s.logger.Info("作品を一括インポートしました",
		slog.Int("added", len(res.Added)),
		slog.Int("existing", len(res.Existing)),
	)
	return res, nil
}

// ImportFilm は1作品をインポートする。generateNowがtrueなら即時生成し、falseならキューに追加する。
func (s *Service) ImportFilm(ctx context.Context, slug string, generateNow bool) (*GenerateResult, *model.QueueRecord, error) {
	url := s.source.BuildFilmURL(slug)
	if generateNow {
		res, err := s.GenerateFromURL(ctx, url, model.AddedByManual)
		return res, nil, err
	}
	rec, _, err := s.Enqueue(ctx, url, model.AddedByManual)
	return nil, rec, err
}

// ListQueue はキューレコードを新しい順に返す。statusが空なら全件が対象。
func (s *Service) ListQueue(ctx context.Context, status model.QueueStatus, limit int) ([]*model.QueueRecord, error) {
	recs, err := s.queue.List(ctx, status, limit)
	if err != nil {
		return nil, fmt.Errorf("キュー一覧の取得に失敗しました: %w", err)
	}
	return recs, nil
}

// DeleteQueueRecord はキューレコードを削除する。
func (s *Service) DeleteQueueRecord(ctx context.Context, id string) error {
	deleted, err := s.queue.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("キューレコードの削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewQueueRecordNotFoundError(id)
	}
	return nil
}

// ResetQueueRecord は運用者がレコードをpendingまたはfailedへ戻す。
func (s *Service) ResetQueueRecord(ctx context.Context, id string, status model.QueueStatus) (*model.QueueRecord, error) {
	if status == "" {
		status = model.QueueStatusPending
	}
	if status != model.QueueStatusPending && status != model.QueueStatusFailed {
		return nil, model.NewValidationError(map[string]string{
			"status": "must be pending or failed",
		})
	}
	rec, err := s.queue.Reset(ctx, id, status)
	if err != nil {
		return nil, fmt.Errorf("キューレコードのリセットに失敗しました: %w", err)
	}
	if rec == nil {
		return nil, model.NewQueueRecordNotFoundError(id)
	}
	s.logger.Info("キューレコードをリセットしました",
		slog.String("queue_id", id),
		slog.String("status", string(status)),
	)
	return rec, nil
}

// ResetStuck はprocessingのまま残ったレコードをすべてpendingへ戻す。
func (s *Service) ResetStuck(ctx context.Context) (int64, error) {
	n, err := s.queue.ResetStuck(ctx)
	if err != nil {
		return 0, fmt.Errorf("滞留レコードのリセットに失敗しました: %w", err)
	}
	s.logger.Info("滞留レコードをpendingへ戻しました", slog.Int64("count", n))
	return n, nil
}
