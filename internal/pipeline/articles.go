package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/moviehunt-blog/internal/model"
	"github.com/hitoshi/moviehunt-blog/internal/repository"
	"github.com/hitoshi/moviehunt-blog/internal/slug"
)

// GetArticle はIDで記事を取得する。
func (s *Service) GetArticle(ctx context.Context, id string) (*model.Article, error) {
	a, err := s.articles.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("記事の取得に失敗しました: %w", err)
	}
	if a == nil {
		return nil, model.NewArticleNotFoundError(id)
	}
	return a, nil
}

// GetArticleBySlug はスラッグで記事を取得する。
func (s *Service) GetArticleBySlug(ctx context.Context, slug string) (*model.Article, error) {
	a, err := s.articles.FindBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("記事の取得に失敗しました: %w", err)
	}
	if a == nil {
		return nil, model.NewArticleNotFoundError(slug)
	}
	return a, nil
}

// ListArticles は条件に一致する記事をページ単位で返す。
func (s *Service) ListArticles(ctx context.Context, filter model.ArticleFilter) ([]*model.Article, model.Pagination, error) {
	articles, total, err := s.articles.List(ctx, filter)
	if err != nil {
		return nil, model.Pagination{}, fmt.Errorf("記事一覧の取得に失敗しました: %w", err)
	}
	return articles, model.NewPagination(filter.Page, filter.Limit, total), nil
}

// UpdateArticle は記事を部分更新する。
// 本文はサニタイズしてから保存し、publishedへ変更した場合は公開日時を設定する。
func (s *Service) UpdateArticle(ctx context.Context, id string, patch model.ArticlePatch) (*model.Article, error) {
	a, err := s.GetArticle(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.Content != nil && s.sanitizer != nil {
		clean := s.sanitizer.Sanitize(*patch.Content)
		patch.Content = &clean
	}
	if patch.Slug != nil {
		normalized := slug.Make(*patch.Slug)
		if normalized == "" {
			return nil, model.NewValidationError(map[string]string{"slug": "must contain at least one letter or digit"})
		}
		patch.Slug = &normalized
	}
	patch.Apply(a)
	if a.Status == model.ArticleStatusPublished && a.PublishedAt == nil {
		now := s.now()
		a.PublishedAt = &now
	}

	if err := s.articles.Update(ctx, a); err != nil {
		if errors.Is(err, repository.ErrDuplicateSlug) {
			return nil, model.NewValidationError(map[string]string{"slug": "already in use"})
		}
		return nil, fmt.Errorf("記事の更新に失敗しました: %w", err)
	}
	return a, nil
}

// PublishArticle は下書きの記事を公開する。下書き以外はInvalidStatusTransitionになる。
func (s *Service) PublishArticle(ctx context.Context, id string) (*model.Article, error) {
	a, err := s.GetArticle(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != model.ArticleStatusDraft {
		return nil, model.NewInvalidStatusTransitionError(a.Status, model.ArticleStatusPublished)
	}
	now := s.now()
	a.Status = model.ArticleStatusPublished
	a.PublishedAt = &now

	if err := s.articles.Update(ctx, a); err != nil {
		return nil, fmt.Errorf("記事の公開に失敗しました: %w", err)
	}
	s.logger.Info("記事を公開しました",
		slog.String("article_id", a.ID),
		slog.String("slug", a.Slug),
	)
	return a, nil
}

// DeleteArticle は記事を削除する。参照しているキューレコードのarticle_idはNULLになる。
func (s *Service) DeleteArticle(ctx context.Context, id string) error {
	deleted, err := s.articles.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("記事の削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewArticleNotFoundError(id)
	}
	s.logger.Info("記事を削除しました", slog.String("article_id", id))
	return nil
}

// RegenerateArticle は記事のソースURLから取得と生成をやり直し、内容を上書きする。
// 新しい記事やキューレコードは作らず、ステータスとスラッグは変更しない。
func (s *Service) RegenerateArticle(ctx context.Context, id string) (*model.Article, error) {
	a, err := s.GetArticle(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.source.IsValidSourceURL(a.SourceURL) {
		return nil, model.NewInvalidSourceError(a.SourceURL)
	}

	s.logger.Info("記事を再生成します",
		slog.String("article_id", a.ID),
		slog.String("url", a.SourceURL),
	)
	film, gen, stage, err := s.produce(ctx, a.SourceURL)
	if err != nil {
		s.metrics.RecordStageFailure(stage)
		return nil, err
	}
	scraped, err := json.Marshal(film)
	if err != nil {
		return nil, fmt.Errorf("取得データのエンコードに失敗しました: %w", err)
	}

	a.Title = gen.Title
	a.Content = gen.Content
	a.Excerpt = gen.Excerpt
	a.ScrapedData = scraped
	a.CoverImage = gen.CoverImage
	a.Tags = gen.Tags
	a.Metadata = gen.Metadata
	a.SEO = gen.SEO

	if err := s.articles.Update(ctx, a); err != nil {
		return nil, fmt.Errorf("記事の更新に失敗しました: %w", err)
	}
	return a, nil
}

// ListTags は公開記事のタグ一覧を返す。
func (s *Service) ListTags(ctx context.Context) ([]string, error) {
	tags, err := s.articles.ListPublishedTags(ctx)
	if err != nil {
		return nil, fmt.Errorf("タグ一覧の取得に失敗しました: %w", err)
	}
	return tags, nil
}

// SitemapEntries はサイトマップに載せる公開記事を返す。
func (s *Service) SitemapEntries(ctx context.Context) ([]model.SitemapEntry, error) {
	entries, err := s.articles.ListPublishedForSitemap(ctx)
	if err != nil {
		return nil, fmt.Errorf("サイトマップ対象の取得に失敗しました: %w", err)
	}
	return entries, nil
}

// Stats は記事とキューの件数を並行して集計する。
func (s *Service) Stats(ctx context.Context) (*model.Stats, error) {
	var (
		articleCounts map[model.ArticleStatus]int
		queueCounts   map[model.QueueStatus]int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		articleCounts, err = s.articles.CountByStatus(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		queueCounts, err = s.queue.CountByStatus(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("統計の取得に失敗しました: %w", err)
	}

	stats := &model.Stats{
		Articles: model.ArticleStats{
			Published: articleCounts[model.ArticleStatusPublished],
			Draft:     articleCounts[model.ArticleStatusDraft],
			Archived:  articleCounts[model.ArticleStatusArchived],
		},
		Queue: model.QueueStats{
			Pending:    queueCounts[model.QueueStatusPending],
			Processing: queueCounts[model.QueueStatusProcessing],
			Completed:  queueCounts[model.QueueStatusCompleted],
			Failed:     queueCounts[model.QueueStatusFailed],
		},
	}
	for _, n := range articleCounts {
		stats.Articles.Total += n
	}
	return stats, nil
}
