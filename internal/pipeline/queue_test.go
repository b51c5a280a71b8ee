package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/moviehunt-blog/internal/model"
)

// 同じURLは1レコードだけ。
func TestEnqueue_OneRecordPerURL(t *testing.T) {
	f := newFixture()
	url := f.source.BuildFilmURL("inception")

	first, created, err := f.svc.Enqueue(context.Background(), url, model.AddedByWebhook)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, model.QueueStatusPending, first.Status)

	second, created, err := f.svc.Enqueue(context.Background(), url+" ", model.AddedByManual)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, model.AddedByWebhook, second.AddedBy, "最初の投入元を保持する")
	assert.Equal(t, 1, f.queue.count())

	_, _, err = f.svc.Enqueue(context.Background(), "ftp://moviehunt.example/films/x", model.AddedByManual)
	assert.True(t, model.HasCode(err, model.ErrCodeInvalidSource))
}

func TestImportFilms(t *testing.T) {
	t.Run("指定スラッグを追加し既存はスキップする", func(t *testing.T) {
		f := newFixture()
		_, _, err := f.svc.Enqueue(context.Background(), f.source.BuildFilmURL("b"), model.AddedByManual)
		require.NoError(t, err)

		res, err := f.svc.ImportFilms(context.Background(), []string{"a", "b", "c"}, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "c"}, res.Added)
		assert.Equal(t, []string{"b"}, res.Existing)
		assert.Equal(t, 3, res.Total)
		assert.Equal(t, model.AddedByAuto, f.queue.byURL(f.source.BuildFilmURL("a")).AddedBy)
	})

	t.Run("未指定ならソースの一覧をlimit件まで", func(t *testing.T) {
		f := newFixture()
		f.source.list = []model.FilmSummary{{Slug: "x"}, {Slug: "y"}, {Slug: "z"}}

		res, err := f.svc.ImportFilms(context.Background(), nil, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"x", "y"}, res.Added)
		assert.Equal(t, 2, f.queue.count())
	})

	t.Run("一覧取得の失敗はそのまま返す", func(t *testing.T) {
		f := newFixture()
		f.source.listFn = func() ([]model.FilmSummary, error) {
			return nil, model.NewFetchError("source api returned status 503")
		}

		_, err := f.svc.ImportFilms(context.Background(), nil, 0)
		assert.True(t, model.HasCode(err, model.ErrCodeFetch))
	})
}

func TestImportFilm(t *testing.T) {
	f := newFixture()
	f.addFilm("now", "Now")

	res, rec, err := f.svc.ImportFilm(context.Background(), "now", true)
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.True(t, res.Created)

	res, rec, err = f.svc.ImportFilm(context.Background(), "later", false)
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, model.QueueStatusPending, rec.Status)
	assert.Equal(t, 1, f.source.scrapeCalls(), "キュー追加だけなら取得しない")
}

func TestResetQueueRecord(t *testing.T) {
	f := newFixture()
	url := f.source.BuildFilmURL("missing")
	_, err := f.svc.GenerateFromURL(context.Background(), url, model.AddedByManual)
	require.Error(t, err)
	rec := f.queue.byURL(url)

	t.Run("pendingへ戻すとエラーを消す", func(t *testing.T) {
		got, err := f.svc.ResetQueueRecord(context.Background(), rec.ID, "")
		require.NoError(t, err)
		assert.Equal(t, model.QueueStatusPending, got.Status)
		assert.Empty(t, got.Error)
	})

	t.Run("completedへは戻せない", func(t *testing.T) {
		_, err := f.svc.ResetQueueRecord(context.Background(), rec.ID, model.QueueStatusCompleted)
		var apiErr *model.APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, model.ErrCodeValidation, apiErr.Code)
		assert.Contains(t, apiErr.Fields, "status")
	})

	t.Run("存在しないID", func(t *testing.T) {
		_, err := f.svc.ResetQueueRecord(context.Background(), "missing", model.QueueStatusFailed)
		assert.True(t, model.HasCode(err, model.ErrCodeQueueRecordNotFound))
	})
}

func TestResetStuck(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	rec, _, err := f.queue.FindOrCreate(ctx, f.source.BuildFilmURL("stuck"), model.AddedByAuto)
	require.NoError(t, err)
	_, err = f.queue.Claim(ctx, rec.ID)
	require.NoError(t, err)

	n, err := f.svc.ResetStuck(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, model.QueueStatusPending, f.queue.byURL(rec.URL).Status)
}

func TestDeleteQueueRecord(t *testing.T) {
	f := newFixture()
	rec, _, err := f.svc.Enqueue(context.Background(), f.source.BuildFilmURL("x"), model.AddedByManual)
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteQueueRecord(context.Background(), rec.ID))
	assert.Equal(t, 0, f.queue.count())

	err = f.svc.DeleteQueueRecord(context.Background(), rec.ID)
	assert.True(t, model.IsNotFound(err))
}

// 状態で絞り込む。
func TestListQueue_FiltersByStatus(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	generateOne(t, f, "done", "Done")
	_, _, err := f.svc.Enqueue(ctx, f.source.BuildFilmURL("todo"), model.AddedByAuto)
	require.NoError(t, err)

	all, err := f.svc.ListQueue(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := f.svc.ListQueue(ctx, model.QueueStatusPending, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, f.source.BuildFilmURL("todo"), pending[0].URL)
}

// 記事があるURLは追加しない。
func TestEnqueueDiscovered_SkipsExistingArticles(t *testing.T) {
	f := newFixture()
	a := generateOne(t, f, "done", "Done")
	require.NoError(t, f.svc.DeleteQueueRecord(context.Background(), f.queue.byURL(a.SourceURL).ID))

	created, err := f.svc.EnqueueDiscovered(context.Background(), a.SourceURL)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 0, f.queue.count())

	created, err = f.svc.EnqueueDiscovered(context.Background(), f.source.BuildFilmURL("new"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, model.AddedByAuto, f.queue.byURL(f.source.BuildFilmURL("new")).AddedBy)
}
