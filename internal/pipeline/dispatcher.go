package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// URLGenerator はDispatcherが呼び出す生成処理。
type URLGenerator interface {
	GenerateFromURL(ctx context.Context, rawURL, addedBy string) (*GenerateResult, error)
}

type dispatchJob struct {
	url     string
	addedBy string
}

// Dispatcher はWebhookで受け付けたURLをバックグラウンドで1件ずつ生成する。
// 呼び出し元はキューにpendingで登録してからSubmitする。
// バッファが一杯の場合は受け付けず、レコードは次回のProcessQueueで処理される。
type Dispatcher struct {
	gen    URLGenerator
	logger *slog.Logger
	delay  time.Duration
	jobs   chan dispatchJob

	wg    sync.WaitGroup
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDispatcher はDispatcherを生成する。bufferが0以下の場合は16を使う。
func NewDispatcher(gen URLGenerator, logger *slog.Logger, buffer int, delay time.Duration) *Dispatcher {
	if buffer <= 0 {
		buffer = 16
	}
	return &Dispatcher{
		gen:    gen,
		logger: logger,
		delay:  delay,
		jobs:   make(chan dispatchJob, buffer),
		sleep:  sleepContext,
	}
}

// Submit はURLを非同期生成の待ち行列に積む。積めなかった場合はfalseを返す。
func (d *Dispatcher) Submit(url, addedBy string) bool {
	select {
	case d.jobs <- dispatchJob{url: url, addedBy: addedBy}:
		return true
	default:
		d.logger.Warn("非同期生成の待ち行列が一杯のため次回のキュー処理に回します",
			slog.String("url", url),
		)
		return false
	}
}

// Start はコンテキストがキャンセルされるまでジョブを順に処理するgoroutineを起動する。
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(ctx)
	}()
}

// Wait は処理goroutineの終了を待つ。
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context) {
	first := true
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-d.jobs:
			if !first {
				if err := d.sleep(ctx, d.delay); err != nil {
					return
				}
			}
			first = false

			res, err := d.gen.GenerateFromURL(ctx, job.url, job.addedBy)
			if err != nil {
				d.logger.Error("非同期生成に失敗しました",
					slog.String("url", job.url),
					slog.String("added_by", job.addedBy),
					slog.String("error", err.Error()),
				)
				continue
			}
			d.logger.Info("非同期生成が完了しました",
				slog.String("url", job.url),
				slog.String("article_id", res.Article.ID),
				slog.Bool("created", res.Created),
			)
		}
	}
}
