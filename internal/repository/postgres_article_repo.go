package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/moviehunt-blog/internal/model"
)

// psql はPostgreSQLのプレースホルダ($1, $2, ...)を使うステートメントビルダー。
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const uniqueViolation = "23505"

// 一覧取得ではscraped_dataを読み込まない。
var articleListColumns = []string{
	"id", "slug", "title", "excerpt", "content", "tags", "cover_image", "source_url",
	"category", "status", "seo", "metadata", "generated_by",
	"published_at", "created_at", "updated_at",
}

const articleColumns = `id, slug, title, excerpt, content, tags, cover_image, source_url,
		        category, status, seo, metadata, generated_by,
		        published_at, created_at, updated_at, scraped_data`

// PostgresArticleRepo はPostgreSQLを使用した記事リポジトリ。
type PostgresArticleRepo struct {
	db *sql.DB
}

// NewPostgresArticleRepo はPostgresArticleRepoを生成する。
func NewPostgresArticleRepo(db *sql.DB) *PostgresArticleRepo {
	return &PostgresArticleRepo{db: db}
}

// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
func (r *PostgresArticleRepo) FindByID(ctx context.Context, id string) (*model.Article, error) {
	return r.findOne(ctx, "id", id)
}

// FindBySlug はslugで記事を取得する。見つからない場合はnilを返す。
func (r *PostgresArticleRepo) FindBySlug(ctx context.Context, slug string) (*model.Article, error) {
	return r.findOne(ctx, "slug", slug)
}

// FindBySourceURL はsource_urlで記事を取得する。見つからない場合はnilを返す。
func (r *PostgresArticleRepo) FindBySourceURL(ctx context.Context, sourceURL string) (*model.Article, error) {
	if sourceURL == "" {
		return nil, nil
	}
	return r.findOne(ctx, "source_url", sourceURL)
}

func (r *PostgresArticleRepo) findOne(ctx context.Context, column, value string) (*model.Article, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+articleColumns+` FROM articles WHERE `+column+` = $1`,
		value,
	)
	article, err := scanArticle(row, true)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("記事の取得に失敗しました(%s): %w", column, err)
	}
	return article, nil
}

// SlugExists は指定slugの記事が存在するかを返す。
func (r *PostgresArticleRepo) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM articles WHERE slug = $1)`,
		slug,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("slugの存在確認に失敗しました: %w", err)
	}
	return exists, nil
}

// Create は記事を作成する。ID・created_at・updated_atはここで設定する。
func (r *PostgresArticleRepo) Create(ctx context.Context, article *model.Article) error {
	if article.ID == "" {
		article.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	article.CreatedAt = now
	article.UpdatedAt = now

	seo, metadata, err := marshalArticleJSON(article)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO articles (id, slug, title, excerpt, content, tags, cover_image, source_url,
		                       scraped_data, category, status, seo, metadata, generated_by,
		                       published_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		article.ID, article.Slug, article.Title, article.Excerpt, article.Content,
		pq.Array(nonNilStrings(article.Tags)), nullString(article.CoverImage), nullString(article.SourceURL),
		nullJSON(article.ScrapedData), article.Category, article.Status, seo, metadata,
		nullString(article.GeneratedBy), article.PublishedAt, article.CreatedAt, article.UpdatedAt,
	)
	if err != nil {
		if dup := duplicateArticleError(err); dup != nil {
			return dup
		}
		return fmt.Errorf("記事の作成に失敗しました: %w", err)
	}
	return nil
}

// Update は記事の内容フィールドを上書きする。updated_atは現在時刻になる。
func (r *PostgresArticleRepo) Update(ctx context.Context, article *model.Article) error {
	seo, metadata, err := marshalArticleJSON(article)
	if err != nil {
		return err
	}

	err = r.db.QueryRowContext(ctx,
		`UPDATE articles SET
		    slug = $2, title = $3, excerpt = $4, content = $5, tags = $6,
		    cover_image = $7, source_url = $8, scraped_data = $9, category = $10,
		    status = $11, seo = $12, metadata = $13, published_at = $14,
		    updated_at = now()
		 WHERE id = $1
		 RETURNING updated_at`,
		article.ID, article.Slug, article.Title, article.Excerpt, article.Content,
		pq.Array(nonNilStrings(article.Tags)), nullString(article.CoverImage), nullString(article.SourceURL),
		nullJSON(article.ScrapedData), article.Category, article.Status, seo, metadata,
		article.PublishedAt,
	).Scan(&article.UpdatedAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("更新対象の記事が存在しません: %s", article.ID)
	}
	if err != nil {
		if dup := duplicateArticleError(err); dup != nil {
			return dup
		}
		return fmt.Errorf("記事の更新に失敗しました: %w", err)
	}
	return nil
}

// Delete は記事を削除する。キューレコードの参照解除と削除を同一トランザクションで行う。
func (r *PostgresArticleRepo) Delete(ctx context.Context, id string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE url_queue SET article_id = NULL, updated_at = now() WHERE article_id = $1`,
		id,
	); err != nil {
		return false, fmt.Errorf("キューレコードの参照解除に失敗しました: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM articles WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("記事の削除に失敗しました: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return true, nil
}

// List は絞り込み条件に一致する記事の1ページ分と総件数を返す。
func (r *PostgresArticleRepo) List(ctx context.Context, filter model.ArticleFilter) ([]*model.Article, int, error) {
	countSQL, countArgs, err := buildArticleCountQuery(filter).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("件数クエリの構築に失敗しました: %w", err)
	}
	var total int
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("記事件数の取得に失敗しました: %w", err)
	}

	listSQL, listArgs, err := buildArticleListQuery(filter).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("一覧クエリの構築に失敗しました: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, listSQL, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("記事一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	articles := make([]*model.Article, 0, filter.Limit)
	for rows.Next() {
		article, err := scanArticle(rows, false)
		if err != nil {
			return nil, 0, fmt.Errorf("記事一覧の読み取りに失敗しました: %w", err)
		}
		articles = append(articles, article)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("記事一覧の走査に失敗しました: %w", err)
	}
	return articles, total, nil
}

// CountByStatus はステータスごとの記事件数を返す。
func (r *PostgresArticleRepo) CountByStatus(ctx context.Context) (map[model.ArticleStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, count(*) FROM articles GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("記事件数の集計に失敗しました: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.ArticleStatus]int)
	for rows.Next() {
		var status model.ArticleStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("記事件数の読み取りに失敗しました: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ListPublishedTags は公開記事に付いたタグの一覧を返す。
func (r *PostgresArticleRepo) ListPublishedTags(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT tag FROM articles, unnest(tags) AS tag
		 WHERE status = 'published' AND tag <> ''
		 ORDER BY tag`,
	)
	if err != nil {
		return nil, fmt.Errorf("タグ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	tags := []string{}
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("タグの読み取りに失敗しました: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// ListPublishedForSitemap はサイトマップに載せる公開記事を新しい順に返す。
func (r *PostgresArticleRepo) ListPublishedForSitemap(ctx context.Context) ([]model.SitemapEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT slug, published_at, updated_at FROM articles
		 WHERE status = 'published'
		 ORDER BY published_at DESC NULLS LAST`,
	)
	if err != nil {
		return nil, fmt.Errorf("サイトマップ用記事の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var entries []model.SitemapEntry
	for rows.Next() {
		var e model.SitemapEntry
		var publishedAt sql.NullTime
		if err := rows.Scan(&e.Slug, &publishedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("サイトマップ用記事の読み取りに失敗しました: %w", err)
		}
		e.PublishedAt = nullTimePtr(publishedAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// applyArticleFilter は一覧と件数で共通の絞り込み条件を付与する。
func applyArticleFilter(b sq.SelectBuilder, filter model.ArticleFilter) sq.SelectBuilder {
	if filter.Status != "" {
		b = b.Where(sq.Eq{"status": string(filter.Status)})
	}
	if filter.Category != "" {
		b = b.Where(sq.Eq{"category": string(filter.Category)})
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		pattern := "%" + escapeLike(s) + "%"
		b = b.Where(sq.Or{
			sq.ILike{"title": pattern},
			sq.ILike{"excerpt": pattern},
		})
	}
	return b
}

func buildArticleListQuery(filter model.ArticleFilter) sq.SelectBuilder {
	b := psql.Select(articleListColumns...).From("articles")
	b = applyArticleFilter(b, filter)
	b = b.OrderBy("published_at DESC NULLS LAST", "created_at DESC")
	if filter.Limit > 0 {
		b = b.Limit(uint64(filter.Limit)).Offset(uint64(filter.Offset()))
	}
	return b
}

func buildArticleCountQuery(filter model.ArticleFilter) sq.SelectBuilder {
	return applyArticleFilter(psql.Select("count(*)").From("articles"), filter)
}

// escapeLike はLIKEのメタ文字をエスケープする。
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanArticle(row rowScanner, withScraped bool) (*model.Article, error) {
	a := &model.Article{}
	var coverImage, sourceURL, generatedBy sql.NullString
	var seo, metadata, scraped []byte
	var publishedAt sql.NullTime

	dest := []any{
		&a.ID, &a.Slug, &a.Title, &a.Excerpt, &a.Content, pq.Array(&a.Tags),
		&coverImage, &sourceURL, &a.Category, &a.Status, &seo, &metadata, &generatedBy,
		&publishedAt, &a.CreatedAt, &a.UpdatedAt,
	}
	if withScraped {
		dest = append(dest, &scraped)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	a.CoverImage = nullStringValue(coverImage)
	a.SourceURL = nullStringValue(sourceURL)
	a.GeneratedBy = nullStringValue(generatedBy)
	a.PublishedAt = nullTimePtr(publishedAt)
	if a.Tags == nil {
		a.Tags = []string{}
	}
	if len(scraped) > 0 {
		a.ScrapedData = json.RawMessage(scraped)
	}
	if len(seo) > 0 {
		if err := json.Unmarshal(seo, &a.SEO); err != nil {
			return nil, fmt.Errorf("seoのデコードに失敗しました: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &a.Metadata); err != nil {
			return nil, fmt.Errorf("metadataのデコードに失敗しました: %w", err)
		}
	}
	return a, nil
}

func marshalArticleJSON(article *model.Article) ([]byte, []byte, error) {
	seo, err := json.Marshal(article.SEO)
	if err != nil {
		return nil, nil, fmt.Errorf("seoのエンコードに失敗しました: %w", err)
	}
	metadata, err := json.Marshal(article.Metadata)
	if err != nil {
		return nil, nil, fmt.Errorf("metadataのエンコードに失敗しました: %w", err)
	}
	return seo, metadata, nil
}

// duplicateArticleError は一意制約違反を制約名に応じたセンチネルエラーに変換する。
func duplicateArticleError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return nil
	}
	switch pqErr.Constraint {
	case "articles_source_url_key":
		return ErrDuplicateSourceURL
	case "articles_slug_key":
		return ErrDuplicateSlug
	}
	return nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// nullJSON は空のJSONをNULLとして扱う。
func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func nonNilStrings(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
