package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/moviehunt-blog/internal/metrics"
	"github.com/hitoshi/moviehunt-blog/internal/model"
	"github.com/hitoshi/moviehunt-blog/internal/repository"
	"github.com/hitoshi/moviehunt-blog/internal/slug"
)

// maxSlugAttempts は連番サフィックスを試す上限。超えた場合はランダムなサフィックスを使う。
const maxSlugAttempts = 20

// 失敗段階のラベル
const (
	stageFetch    = "fetch"
	stageGenerate = "generate"
	stagePersist  = "persist"
)

// GenerateResult はGenerateFromURLの結果。
type GenerateResult struct {
	Article *model.Article
	// Created は今回の呼び出しで記事を作成した場合にtrue。既存記事を返した場合はfalse。
	Created bool
}

// GenerateFromURL はソースURLから記事を1本生成する。
//
// 同じURLの記事が既にあればそれを返し、取得も生成も行わない。
// キュー確保後の失敗はキューレコードをfailedにしてからエラーを返す。
// 同一プロセス内での同じURLの同時呼び出しは1回の実行にまとめる。
// 呼び出し元がキャンセルしても、同じURLを待つ他の呼び出し元がいる間は実行を続ける。
func (s *Service) GenerateFromURL(ctx context.Context, rawURL, addedBy string) (*GenerateResult, error) {
	url := strings.TrimSpace(rawURL)
	if !s.source.IsValidSourceURL(url) {
		return nil, model.NewInvalidSourceError(url)
	}
	if addedBy == "" {
		addedBy = model.AddedByManual
	}

	return s.awaitFlight(ctx, url, addedBy)
}

func (s *Service) generate(ctx context.Context, url, addedBy string) (*GenerateResult, error) {
	start := time.Now()

	existing, err := s.articles.FindBySourceURL(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("既存記事の確認に失敗しました: %w", err)
	}
	if existing != nil {
		s.logger.Info("記事は既に存在するため生成をスキップします",
			slog.String("url", url),
			slog.String("article_id", existing.ID),
		)
		s.metrics.RecordGeneration(metrics.OutcomeExisting)
		s.settleQueue(ctx, url, existing.ID)
		return &GenerateResult{Article: existing}, nil
	}

	rec, created, err := s.queue.FindOrCreate(ctx, url, addedBy)
	if err != nil {
		return nil, fmt.Errorf("キューレコードの確保に失敗しました: %w", err)
	}
	claimed, err := s.queue.Claim(ctx, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("キューレコードの更新に失敗しました: %w", err)
	}
	if claimed == nil {
		s.logger.Warn("同じURLの生成が実行中です",
			slog.String("url", url),
			slog.String("queue_id", rec.ID),
		)
		return nil, model.NewGenerationInProgressError(url)
	}
	s.logger.Info("記事生成を開始します",
		slog.String("url", url),
		slog.String("queue_id", claimed.ID),
		slog.String("stage", "processing"),
		slog.Bool("queue_created", created),
		slog.Int("retry_count", claimed.RetryCount),
	)

	article, adopted, stage, err := s.run(ctx, url, addedBy)
	if err != nil {
		s.markFailed(ctx, claimed, stage, err)
		return nil, err
	}

	// 呼び出し元がキャンセルしてもキュー状態は確定させる
	if err := s.queue.MarkCompleted(context.WithoutCancel(ctx), claimed.ID, article.ID, s.now()); err != nil {
		s.logger.Error("キューレコードの完了更新に失敗しました",
			slog.String("queue_id", claimed.ID),
			slog.String("article_id", article.ID),
			slog.String("error", err.Error()),
		)
		// processingのまま残さない。記事は保存済みなので次回の実行で完了になる
		err = fmt.Errorf("キューレコードの完了更新に失敗しました: %w", err)
		s.markFailed(ctx, claimed, stagePersist, err)
		return nil, err
	}

	if adopted {
		s.metrics.RecordGeneration(metrics.OutcomeExisting)
		return &GenerateResult{Article: article}, nil
	}

	elapsed := time.Since(start)
	s.metrics.RecordGeneration(metrics.OutcomeCreated)
	s.metrics.RecordGenerationLatency(elapsed)
	s.logger.Info("記事生成が完了しました",
		slog.String("url", url),
		slog.String("queue_id", claimed.ID),
		slog.String("article_id", article.ID),
		slog.String("stage", "completed"),
		slog.Int64("duration_ms", elapsed.Milliseconds()),
	)
	return &GenerateResult{Article: article, Created: true}, nil
}

// settleQueue は記事が既にあるURLのキューレコードが未完了のまま残っていれば完了にする。
// 記事だけが残ってキューレコードが後から作り直された場合に、pendingのまま滞留させない。
func (s *Service) settleQueue(ctx context.Context, url, articleID string) {
	rec, err := s.queue.FindByURL(ctx, url)
	if err != nil || rec == nil {
		return
	}
	if rec.Status != model.QueueStatusPending && rec.Status != model.QueueStatusFailed {
		return
	}
	if err := s.queue.MarkCompleted(context.WithoutCancel(ctx), rec.ID, articleID, s.now()); err != nil {
		s.logger.Error("キューレコードの完了更新に失敗しました",
			slog.String("queue_id", rec.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Info("既存記事に合わせてキューレコードを完了にしました",
		slog.String("url", url),
		slog.String("queue_id", rec.ID),
		slog.String("article_id", articleID),
	)
}

// run は取得・補完・生成・保存を順に実行する。失敗時は失敗した段階も返す。
// adoptedは並行して作成された既存記事を採用したことを示す。
func (s *Service) run(ctx context.Context, url, addedBy string) (article *model.Article, adopted bool, stage string, err error) {
	film, gen, stage, err := s.produce(ctx, url)
	if err != nil {
		return nil, false, stage, err
	}

	scraped, err := json.Marshal(film)
	if err != nil {
		return nil, false, stagePersist, fmt.Errorf("取得データのエンコードに失敗しました: %w", err)
	}
	article = &model.Article{
		Title:       gen.Title,
		Excerpt:     gen.Excerpt,
		Content:     gen.Content,
		Tags:        gen.Tags,
		CoverImage:  gen.CoverImage,
		SourceURL:   url,
		ScrapedData: scraped,
		Category:    model.ArticleCategoryReview,
		Status:      model.ArticleStatusDraft,
		SEO:         gen.SEO,
		Metadata:    gen.Metadata,
		GeneratedBy: addedBy,
	}
	saved, adopted, err := s.persist(ctx, article, film.Title)
	if err != nil {
		return nil, false, stagePersist, err
	}
	return saved, adopted, "", nil
}

// produce は取得・補完・生成を実行する。再生成でも同じ手順を使う。
func (s *Service) produce(ctx context.Context, url string) (*model.ScrapedFilm, *model.GeneratedArticle, string, error) {
	stageStart := time.Now()
	film, err := s.source.Scrape(ctx, url)
	if err != nil {
		return nil, nil, stageFetch, err
	}
	s.logger.Debug("作品データを取得しました",
		slog.String("url", url),
		slog.String("stage", stageFetch),
		slog.Int64("duration_ms", time.Since(stageStart).Milliseconds()),
	)

	s.enrich(ctx, film)

	stageStart = time.Now()
	gen, err := s.generator.Generate(ctx, film, url)
	if err != nil {
		return nil, nil, stageGenerate, err
	}
	s.logger.Debug("記事本文を生成しました",
		slog.String("url", url),
		slog.String("stage", stageGenerate),
		slog.Int64("duration_ms", time.Since(stageStart).Milliseconds()),
	)
	return film, gen, "", nil
}

// enrich はTMDBの補完データを取得データにマージする。失敗しても処理は続ける。
func (s *Service) enrich(ctx context.Context, film *model.ScrapedFilm) {
	if s.enricher == nil {
		return
	}
	title := film.Metadata.MovieTitle
	if title == "" {
		title = film.Title
	}
	e := s.enricher.Enrich(ctx, title, film.Metadata.ReleaseYear)
	s.metrics.RecordEnrichment(e != nil)
	if e == nil {
		s.logger.Warn("メタデータ補完なしで生成を続行します",
			slog.String("title", title),
			slog.String("stage", "enrich"),
		)
		return
	}
	e.Apply(film)
}

// persist は一意なスラッグを割り当てて記事を保存する。
// 同じsource_urlの記事が並行して作成されていた場合はその記事を返し、adoptedをtrueにする。
func (s *Service) persist(ctx context.Context, article *model.Article, fallbackTitle string) (saved *model.Article, adopted bool, err error) {
	base := slug.Make(article.Title)
	if base == "" {
		base = slug.Make(fallbackTitle)
	}
	if base == "" {
		base = "article"
	}

	for attempt := 0; attempt < 3; attempt++ {
		candidate, err := s.uniqueSlug(ctx, base)
		if err != nil {
			return nil, false, err
		}
		article.Slug = candidate

		err = s.articles.Create(ctx, article)
		switch {
		case err == nil:
			return article, false, nil
		case errors.Is(err, repository.ErrDuplicateSlug):
			continue
		case errors.Is(err, repository.ErrDuplicateSourceURL):
			existing, findErr := s.articles.FindBySourceURL(ctx, article.SourceURL)
			if findErr != nil {
				return nil, false, fmt.Errorf("既存記事の取得に失敗しました: %w", findErr)
			}
			if existing == nil {
				return nil, false, fmt.Errorf("記事の作成に失敗しました: %w", err)
			}
			s.logger.Info("並行して作成された記事を採用します",
				slog.String("url", article.SourceURL),
				slog.String("article_id", existing.ID),
			)
			return existing, true, nil
		default:
			return nil, false, fmt.Errorf("記事の作成に失敗しました: %w", err)
		}
	}
	return nil, false, fmt.Errorf("記事の作成に失敗しました: %w", repository.ErrDuplicateSlug)
}

// uniqueSlug は未使用のスラッグを探す。base, base-2, base-3 ... の順に試す。
func (s *Service) uniqueSlug(ctx context.Context, base string) (string, error) {
	for n := 1; n <= maxSlugAttempts; n++ {
		candidate := slug.WithSuffix(base, n)
		exists, err := s.articles.SlugExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("スラッグの確認に失敗しました: %w", err)
		}
		if !exists {
			return candidate, nil
		}
	}
	return base + "-" + uuid.NewString()[:8], nil
}

// markFailed はキューレコードを失敗状態にする。記録に失敗してもログのみ残す。
func (s *Service) markFailed(ctx context.Context, rec *model.QueueRecord, stage string, cause error) {
	s.metrics.RecordGeneration(metrics.OutcomeFailed)
	if stage != "" {
		s.metrics.RecordStageFailure(stage)
	}

	msg := errorMessage(cause)
	if err := s.queue.MarkFailed(context.WithoutCancel(ctx), rec.ID, msg); err != nil {
		s.logger.Error("キューレコードの失敗記録に失敗しました",
			slog.String("queue_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
	s.logger.Error("記事生成に失敗しました",
		slog.String("url", rec.URL),
		slog.String("queue_id", rec.ID),
		slog.String("stage", stage),
		slog.Int("retry_count", rec.RetryCount+1),
		slog.String("error", msg),
	)
}
