package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/hitoshi/moviehunt-blog/internal/model"
)

const queueColumns = `id, url, status, added_by, article_id, error, retry_count,
		        processed_at, created_at, updated_at`

// PostgresQueueRepo はPostgreSQLを使用した生成キューリポジトリ。
type PostgresQueueRepo struct {
	db *sql.DB
}

// NewPostgresQueueRepo はPostgresQueueRepoを生成する。
func NewPostgresQueueRepo(db *sql.DB) *PostgresQueueRepo {
	return &PostgresQueueRepo{db: db}
}

// FindByID は指定IDのキューレコードを取得する。見つからない場合はnilを返す。
func (r *PostgresQueueRepo) FindByID(ctx context.Context, id string) (*model.QueueRecord, error) {
	rec, err := scanQueueRecord(r.db.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM url_queue WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("キューレコードの取得に失敗しました: %w", err)
	}
	return rec, nil
}

// FindByURL はURLでキューレコードを取得する。見つからない場合はnilを返す。
func (r *PostgresQueueRepo) FindByURL(ctx context.Context, url string) (*model.QueueRecord, error) {
	rec, err := scanQueueRecord(r.db.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM url_queue WHERE url = $1`, url,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("URLによるキューレコードの検索に失敗しました: %w", err)
	}
	return rec, nil
}

// FindOrCreate はURLのレコードを返し、存在しなければpendingで作成する。
// 同時に同じURLが投入されてもON CONFLICTにより1行しか作られない。
func (r *PostgresQueueRepo) FindOrCreate(ctx context.Context, url, addedBy string) (*model.QueueRecord, bool, error) {
	now := time.Now().UTC()
	rec, err := scanQueueRecord(r.db.QueryRowContext(ctx,
		`INSERT INTO url_queue (id, url, status, added_by, retry_count, created_at, updated_at)
		 VALUES ($1, $2, 'pending', $3, 0, $4, $4)
		 ON CONFLICT (url) DO NOTHING
		 RETURNING `+queueColumns,
		uuid.NewString(), url, addedBy, now,
	))
	if err == nil {
		return rec, true, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("キューレコードの作成に失敗しました: %w", err)
	}

	rec, err = r.FindByURL(ctx, url)
	if err != nil {
		return nil, false, err
	}
	if rec == nil {
		return nil, false, fmt.Errorf("競合後のキューレコードが見つかりません: %s", url)
	}
	return rec, false, nil
}

// Claim はprocessing以外のレコードをprocessingへ遷移させる。
// 他のプロセスが処理中の場合は更新せずnilを返す。
func (r *PostgresQueueRepo) Claim(ctx context.Context, id string) (*model.QueueRecord, error) {
	rec, err := scanQueueRecord(r.db.QueryRowContext(ctx,
		`UPDATE url_queue SET status = 'processing', updated_at = now()
		 WHERE id = $1 AND status <> 'processing'
		 RETURNING `+queueColumns,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("キューレコードの処理開始に失敗しました: %w", err)
	}
	return rec, nil
}

// MarkCompleted はレコードを完了にし、生成した記事を紐付ける。
func (r *PostgresQueueRepo) MarkCompleted(ctx context.Context, id, articleID string, processedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE url_queue SET status = 'completed', article_id = $2, error = NULL,
		        processed_at = $3, updated_at = now()
		 WHERE id = $1`,
		id, articleID, processedAt,
	)
	if err != nil {
		return fmt.Errorf("キューレコードの完了更新に失敗しました: %w", err)
	}
	return nil
}

// MarkFailed はレコードを失敗にし、retry_countを1増やす。
func (r *PostgresQueueRepo) MarkFailed(ctx context.Context, id, message string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE url_queue SET status = 'failed', error = $2,
		        retry_count = retry_count + 1, updated_at = now()
		 WHERE id = $1`,
		id, message,
	)
	if err != nil {
		return fmt.Errorf("キューレコードの失敗更新に失敗しました: %w", err)
	}
	return nil
}

// ListPending はpendingのレコードを古い順に返す。
func (r *PostgresQueueRepo) ListPending(ctx context.Context, limit int) ([]*model.QueueRecord, error) {
	return r.query(ctx, "pendingレコード",
		`SELECT `+queueColumns+` FROM url_queue
		 WHERE status = 'pending'
		 ORDER BY created_at ASC
		 LIMIT $1`,
		limit,
	)
}

// ListRetryable は再試行上限に達していないfailedレコードを古い順に返す。
func (r *PostgresQueueRepo) ListRetryable(ctx context.Context, maxRetries, limit int) ([]*model.QueueRecord, error) {
	return r.query(ctx, "再試行対象レコード",
		`SELECT `+queueColumns+` FROM url_queue
		 WHERE status = 'failed' AND retry_count < $1
		 ORDER BY created_at ASC
		 LIMIT $2`,
		maxRetries, limit,
	)
}

// List はレコードを新しい順に返す。statusが空の場合は全ステータスが対象。
func (r *PostgresQueueRepo) List(ctx context.Context, status model.QueueStatus, limit int) ([]*model.QueueRecord, error) {
	query, args, err := buildQueueListQuery(status, limit).ToSql()
	if err != nil {
		return nil, fmt.Errorf("キュー一覧クエリの構築に失敗しました: %w", err)
	}
	return r.query(ctx, "キュー一覧", query, args...)
}

func buildQueueListQuery(status model.QueueStatus, limit int) sq.SelectBuilder {
	b := psql.Select(queueColumns).From("url_queue")
	if status != "" {
		b = b.Where(sq.Eq{"status": string(status)})
	}
	b = b.OrderBy("created_at DESC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	return b
}

// Delete はキューレコードを削除する。対象がなかった場合はfalseを返す。
func (r *PostgresQueueRepo) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM url_queue WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("キューレコードの削除に失敗しました: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return affected > 0, nil
}

// Reset はレコードを指定状態へ戻す。pendingへ戻す場合はエラーも消去する。
func (r *PostgresQueueRepo) Reset(ctx context.Context, id string, status model.QueueStatus) (*model.QueueRecord, error) {
	rec, err := scanQueueRecord(r.db.QueryRowContext(ctx,
		`UPDATE url_queue SET status = $2,
		        error = CASE WHEN $2 = 'pending' THEN NULL ELSE COALESCE(error, 'manually reset') END,
		        updated_at = now()
		 WHERE id = $1
		 RETURNING `+queueColumns,
		id, string(status),
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("キューレコードのリセットに失敗しました: %w", err)
	}
	return rec, nil
}

// ResetStuck はprocessingのまま残ったレコードをpendingへ戻す。
func (r *PostgresQueueRepo) ResetStuck(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE url_queue SET status = 'pending', updated_at = now() WHERE status = 'processing'`,
	)
	if err != nil {
		return 0, fmt.Errorf("処理中レコードのリセットに失敗しました: %w", err)
	}
	return result.RowsAffected()
}

// CountByStatus はステータスごとのレコード件数を返す。
func (r *PostgresQueueRepo) CountByStatus(ctx context.Context) (map[model.QueueStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, count(*) FROM url_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("キュー件数の集計に失敗しました: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.QueueStatus]int)
	for rows.Next() {
		var status model.QueueStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("キュー件数の読み取りに失敗しました: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *PostgresQueueRepo) query(ctx context.Context, what, query string, args ...any) ([]*model.QueueRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%sの取得に失敗しました: %w", what, err)
	}
	defer rows.Close()

	var records []*model.QueueRecord
	for rows.Next() {
		rec, err := scanQueueRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%sの読み取りに失敗しました: %w", what, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%sの走査に失敗しました: %w", what, err)
	}
	return records, nil
}

func scanQueueRecord(row rowScanner) (*model.QueueRecord, error) {
	rec := &model.QueueRecord{}
	var articleID, errMsg sql.NullString
	var processedAt sql.NullTime
	if err := row.Scan(
		&rec.ID, &rec.URL, &rec.Status, &rec.AddedBy, &articleID, &errMsg,
		&rec.RetryCount, &processedAt, &rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rec.ArticleID = nullStringValue(articleID)
	rec.Error = nullStringValue(errMsg)
	rec.ProcessedAt = nullTimePtr(processedAt)
	return rec, nil
}
