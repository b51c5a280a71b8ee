package handler

import (
	"context"

	"github.com/hitoshi/moviehunt-blog/internal/model"
)

// Enqueuer はURLをキューへ登録するインターフェース。pipeline.Serviceが満たす。
type Enqueuer interface {
	Enqueue(ctx context.Context, rawURL, addedBy string) (*model.QueueRecord, bool, error)
}

// Submitter はバックグラウンド生成へURLを渡すインターフェース。pipeline.Dispatcherが満たす。
type Submitter interface {
	Submit(url, addedBy string) bool
}

// AsyncGenerationAdapter はキュー登録とバックグラウンド実行を組み合わせてAsyncGeneratorを満たすアダプタ。
// 先にpendingで永続化してからディスパッチするため、プロセスが落ちても次回のキュー処理で回収される。
type AsyncGenerationAdapter struct {
	enqueuer  Enqueuer
	submitter Submitter
}

// NewAsyncGenerationAdapter はAsyncGenerationAdapterを生成する。
// submitterがnilの場合はキュー登録のみを行う。
func NewAsyncGenerationAdapter(enqueuer Enqueuer, submitter Submitter) *AsyncGenerationAdapter {
	return &AsyncGenerationAdapter{enqueuer: enqueuer, submitter: submitter}
}

// Accept はURLをキューに登録し、未完了ならバックグラウンド生成へ渡す。
// 完了済みや処理中のレコードはディスパッチしない。
func (a *AsyncGenerationAdapter) Accept(ctx context.Context, rawURL, addedBy string) (*model.QueueRecord, bool, error) {
	rec, _, err := a.enqueuer.Enqueue(ctx, rawURL, addedBy)
	if err != nil {
		return nil, false, err
	}
	if a.submitter == nil {
		return rec, false, nil
	}
	switch rec.Status {
	case model.QueueStatusPending, model.QueueStatusFailed:
		return rec, a.submitter.Submit(rec.URL, addedBy), nil
	default:
		return rec, false, nil
	}
}
