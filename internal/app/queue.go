package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/hitoshi/moviehunt-blog/internal/model"
	"github.com/hitoshi/moviehunt-blog/internal/pipeline"
)

// queueListLimit はqueue listで表示する最大件数。
const queueListLimit = 100

// queueOperator はqueueサブコマンドが使うキュー操作。
type queueOperator interface {
	ListQueue(ctx context.Context, status model.QueueStatus, limit int) ([]*model.QueueRecord, error)
	ResetQueueRecord(ctx context.Context, id string, status model.QueueStatus) (*model.QueueRecord, error)
	ResetStuck(ctx context.Context) (int64, error)
	ProcessQueue(ctx context.Context, limit int) ([]pipeline.ItemResult, error)
	RetryFailed(ctx context.Context, maxRetries int) ([]pipeline.ItemResult, error)
}

// withQueue はDB接続とサービスを用意してfnを実行する。
func (c *commandContext) withQueue(ctx context.Context, fn func(queueOperator) error) error {
	db, err := openDatabase(ctx, c.cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	svc, err := buildServices(ctx, c.cfg, db, nil)
	if err != nil {
		return err
	}
	defer svc.Close()

	return fn(svc.pipeline)
}

func (c *commandContext) queueList(ctx context.Context, w io.Writer, status string) error {
	return c.withQueue(ctx, func(q queueOperator) error {
		return listQueue(ctx, w, q, status)
	})
}

func (c *commandContext) queueReset(ctx context.Context, w io.Writer, id, status string) error {
	return c.withQueue(ctx, func(q queueOperator) error {
		return resetQueueRecord(ctx, w, q, id, status)
	})
}

func (c *commandContext) queueResetStuck(ctx context.Context, w io.Writer) error {
	return c.withQueue(ctx, func(q queueOperator) error {
		n, err := q.ResetStuck(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%d stuck records reset\n", n)
		return nil
	})
}

func (c *commandContext) queueProcess(ctx context.Context, w io.Writer, limit int) error {
	return c.withQueue(ctx, func(q queueOperator) error {
		results, err := q.ProcessQueue(ctx, limit)
		return writeBatchResults(w, results, err)
	})
}

func (c *commandContext) queueRetry(ctx context.Context, w io.Writer, maxRetries int) error {
	return c.withQueue(ctx, func(q queueOperator) error {
		results, err := q.RetryFailed(ctx, maxRetries)
		return writeBatchResults(w, results, err)
	})
}

func listQueue(ctx context.Context, w io.Writer, q queueOperator, status string) error {
	st := model.QueueStatus(status)
	if st != "" && !st.Valid() {
		return fmt.Errorf("invalid status: %s", status)
	}

	recs, err := q.ListQueue(ctx, st, queueListLimit)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(w, "No queue records")
		return nil
	}

	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, []string{
			r.ID,
			string(r.Status),
			r.AddedBy,
			strconv.Itoa(r.RetryCount),
			r.URL,
			truncate(r.Error, 60),
			r.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	fmt.Fprintln(w, renderTable(w,
		[]string{"ID", "Status", "Added By", "Retries", "URL", "Error", "Updated"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
	))
	return nil
}

func resetQueueRecord(ctx context.Context, w io.Writer, q queueOperator, id, status string) error {
	rec, err := q.ResetQueueRecord(ctx, id, model.QueueStatus(status))
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "queue record %s reset to %s\n", rec.ID, rec.Status)
	return nil
}

// writeBatchResults はバッチ処理の結果を表で出力する。
// キャンセルで途中終了した場合も処理済みの結果を出力してからエラーを返す。
func writeBatchResults(w io.Writer, results []pipeline.ItemResult, err error) error {
	if len(results) == 0 && err == nil {
		fmt.Fprintln(w, "Nothing to process")
		return nil
	}

	succeeded := 0
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		outcome := "failed"
		if r.Success {
			outcome = "ok"
			succeeded++
		}
		rows = append(rows, []string{r.QueueID, outcome, r.URL, r.ArticleID, truncate(r.Error, 60)})
	}
	if len(rows) > 0 {
		fmt.Fprintln(w, renderTable(w,
			[]string{"Queue ID", "Result", "URL", "Article ID", "Error"},
			rows,
			nil,
		))
	}
	fmt.Fprintf(w, "%d processed, %d succeeded, %d failed\n", len(results), succeeded, len(results)-succeeded)
	return err
}

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

// renderTable は表を描画する。端末への出力のみ罫線を丸角にする。
func renderTable(w io.Writer, headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	if isTerminal(w) {
		tw.SetStyle(table.StyleRounded)
	}

	header := make(table.Row, columns)
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
