// Package repository は記事と生成キューの永続化インターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/moviehunt-blog/internal/model"
)

// 一意制約違反を表すセンチネルエラー。
var (
	// ErrDuplicateSourceURL は同じsource_urlの記事が既に存在する場合に返す。
	ErrDuplicateSourceURL = errors.New("source_urlが重複しています")
	// ErrDuplicateSlug は同じslugの記事が既に存在する場合に返す。
	ErrDuplicateSlug = errors.New("slugが重複しています")
)

// ArticleRepository は記事の永続化インターフェース。
// Find系は見つからない場合にnil, nilを返す。
type ArticleRepository interface {
	FindByID(ctx context.Context, id string) (*model.Article, error)
	FindBySlug(ctx context.Context, slug string) (*model.Article, error)
	// FindBySourceURL はパイプラインの重複排除に使う。
	FindBySourceURL(ctx context.Context, sourceURL string) (*model.Article, error)

	SlugExists(ctx context.Context, slug string) (bool, error)

	// Create はIDとタイムスタンプを採番して記事を作成する。
	// 一意制約違反はErrDuplicateSourceURLまたはErrDuplicateSlugを返す。
	Create(ctx context.Context, article *model.Article) error

	// Update は記事の内容フィールドを上書きし、updated_atを更新する。
	Update(ctx context.Context, article *model.Article) error

	// Delete は記事を削除し、参照しているキューレコードのarticle_idをNULLにする。
	// 削除対象がなかった場合はfalseを返す。
	Delete(ctx context.Context, id string) (bool, error)

	// List は条件に一致する記事と総件数を返す。scraped_dataは読み込まない。
	List(ctx context.Context, filter model.ArticleFilter) ([]*model.Article, int, error)

	CountByStatus(ctx context.Context) (map[model.ArticleStatus]int, error)

	// ListPublishedTags は公開記事のタグを重複なしで昇順に返す。
	ListPublishedTags(ctx context.Context) ([]string, error)

	ListPublishedForSitemap(ctx context.Context) ([]model.SitemapEntry, error)
}

// QueueRepository は生成キューの永続化インターフェース。
// url列の一意制約により1URLにつき1レコードとなる。
type QueueRepository interface {
	FindByID(ctx context.Context, id string) (*model.QueueRecord, error)
	FindByURL(ctx context.Context, url string) (*model.QueueRecord, error)

	// FindOrCreate はURLのレコードを返し、なければpendingで作成する。
	// createdは今回の呼び出しで作成した場合にtrueとなる。
	FindOrCreate(ctx context.Context, url, addedBy string) (rec *model.QueueRecord, created bool, err error)

	// Claim はprocessing以外のレコードを原子的にprocessingへ遷移させる。
	// 既にprocessingの場合はnil, nilを返し、レコードは変更しない。
	Claim(ctx context.Context, id string) (*model.QueueRecord, error)

	MarkCompleted(ctx context.Context, id, articleID string, processedAt time.Time) error

	// MarkFailed はエラーメッセージを記録し、retry_countを1増やす。
	MarkFailed(ctx context.Context, id, message string) error

	// ListPending はpendingのレコードを作成日時の古い順に最大limit件返す。
	ListPending(ctx context.Context, limit int) ([]*model.QueueRecord, error)

	// ListRetryable はretry_count < maxRetriesのfailedレコードを最大limit件返す。
	ListRetryable(ctx context.Context, maxRetries, limit int) ([]*model.QueueRecord, error)

	// List は作成日時の新しい順にレコードを返す。statusが空なら全件が対象。
	List(ctx context.Context, status model.QueueStatus, limit int) ([]*model.QueueRecord, error)

	Delete(ctx context.Context, id string) (bool, error)

	// Reset は運用者の手動復旧用。レコードを指定状態へ戻す。
	// 見つからない場合はnil, nilを返す。
	Reset(ctx context.Context, id string, status model.QueueStatus) (*model.QueueRecord, error)

	// ResetStuck はprocessingのレコードをすべてpendingへ戻し、件数を返す。
	ResetStuck(ctx context.Context) (int64, error)

	CountByStatus(ctx context.Context) (map[model.QueueStatus]int, error)
}
