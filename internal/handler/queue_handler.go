package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/moviehunt-blog/internal/model"
	"github.com/hitoshi/moviehunt-blog/internal/pipeline"
)

// queueListLimit はキュー一覧の最大件数。
const queueListLimit = 100

// batchDeadlineMargin はバッチ処理の見積もりに加える余裕。
const batchDeadlineMargin = 15 * time.Second

// BatchBudget はキューの同期処理にかかる時間の見積もり。
// PerItemが0の場合はサーバーの書き込みタイムアウトをそのまま使う。
type BatchBudget struct {
	// PerItem は1件の生成と次の項目までの待機にかかる時間の上限。
	PerItem time.Duration
	// ProcessLimit はlimit省略時に処理する件数。
	ProcessLimit int
	// RetryBatch は1回の再実行で処理する最大件数。
	RetryBatch int
}

// QueueServiceInterface はキューハンドラーが必要とするサービスインターフェース。
type QueueServiceInterface interface {
	ListQueue(ctx context.Context, status model.QueueStatus, limit int) ([]*model.QueueRecord, error)
	DeleteQueueRecord(ctx context.Context, id string) error
	ResetQueueRecord(ctx context.Context, id string, status model.QueueStatus) (*model.QueueRecord, error)
	ResetStuck(ctx context.Context) (int64, error)
	ProcessQueue(ctx context.Context, limit int) ([]pipeline.ItemResult, error)
	RetryFailed(ctx context.Context, maxRetries int) ([]pipeline.ItemResult, error)
}

// QueueHandler は生成キュー管理のHTTPハンドラー。
type QueueHandler struct {
	service QueueServiceInterface
	opts    Options
}

// NewQueueHandler はQueueHandlerを生成する。
func NewQueueHandler(service QueueServiceInterface, opts Options) *QueueHandler {
	return &QueueHandler{service: service, opts: opts}
}

// processRequest はキュー処理リクエストのボディ。limitが0なら設定値を使う。
type processRequest struct {
	Limit int `json:"limit" validate:"gte=0,lte=50"`
}

// retryRequest は再実行リクエストのボディ。maxRetriesが0なら設定値を使う。
type retryRequest struct {
	MaxRetries int `json:"maxRetries" validate:"gte=0,lte=20"`
}

// resetRequest はキューレコードのリセットリクエストのボディ。
type resetRequest struct {
	Status string `json:"status" validate:"omitempty,oneof=pending failed"`
}

// resetStuckResponse は滞留レコードのリセット結果。
type resetStuckResponse struct {
	Reset int64 `json:"reset"`
}

// ListQueue はキューレコードを新しい順に返す。
// GET /api/queue?status=
func (h *QueueHandler) ListQueue(w http.ResponseWriter, r *http.Request) {
	status := model.QueueStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError(map[string]string{
			"status": "must be one of: pending, processing, completed, failed",
		}))
		return
	}

	recs, err := h.service.ListQueue(r.Context(), status, queueListLimit)
	if err != nil {
		h.opts.handleServiceError(w, r, err)
		return
	}
	if recs == nil {
		recs = []*model.QueueRecord{}
	}
	writeData(w, http.StatusOK, recs, "")
}

// ProcessQueue はpendingのレコードを同期的に処理し、1件ごとの結果を返す。
// POST /api/queue/process
func (h *QueueHandler) ProcessQueue(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if apiErr := decodeJSON(w, r, &req, true); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}
	if apiErr := validateStruct(req); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	items := req.Limit
	if items == 0 {
		items = h.opts.Batch.ProcessLimit
	}
	h.extendWriteDeadline(w, r, items)

	results, err := h.service.ProcessQueue(r.Context(), req.Limit)
	if err != nil && results == nil {
		h.opts.handleServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, nonNilResults(results), fmt.Sprintf("%d urls processed", len(results)))
}

// RetryFailed は上限未満のfailedレコードを再実行する。
// POST /api/queue/retry
func (h *QueueHandler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	var req retryRequest
	if apiErr := decodeJSON(w, r, &req, true); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}
	if apiErr := validateStruct(req); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	h.extendWriteDeadline(w, r, h.opts.Batch.RetryBatch)

	results, err := h.service.RetryFailed(r.Context(), req.MaxRetries)
	if err != nil && results == nil {
		h.opts.handleServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, nonNilResults(results), fmt.Sprintf("%d failed urls retried", len(results)))
}

// ResetQueueRecord はレコードをpending（既定）またはfailedへ戻す。
// POST /api/queue/{id}/reset
func (h *QueueHandler) ResetQueueRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if apiErr := validateID(id); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	var req resetRequest
	if apiErr := decodeJSON(w, r, &req, true); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}
	if apiErr := validateStruct(req); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	rec, err := h.service.ResetQueueRecord(r.Context(), id, model.QueueStatus(req.Status))
	if err != nil {
		h.opts.handleServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, rec, "queue record reset")
}

// ResetStuck はprocessingのまま残ったレコードをすべてpendingへ戻す。
// POST /api/queue/reset-stuck
func (h *QueueHandler) ResetStuck(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.ResetStuck(r.Context())
	if err != nil {
		h.opts.handleServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, resetStuckResponse{Reset: n}, strconv.FormatInt(n, 10)+" stuck records reset")
}

// DeleteQueueRecord はキューレコードを削除する。
// DELETE /api/queue/{id}
func (h *QueueHandler) DeleteQueueRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if apiErr := validateID(id); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	if err := h.service.DeleteQueueRecord(r.Context(), id); err != nil {
		h.opts.handleServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, nil, "queue record deleted")
}

// extendWriteDeadline は件数に応じてレスポンスの書き込み期限を延ばす。
// サーバーのWriteTimeoutは1件の同期生成に合わせてあるため、バッチ処理では足りない。
func (h *QueueHandler) extendWriteDeadline(w http.ResponseWriter, r *http.Request, items int) {
	budget := h.opts.Batch.PerItem
	if budget <= 0 || items <= 0 {
		return
	}
	deadline := time.Now().Add(time.Duration(items)*budget + batchDeadlineMargin)
	if err := http.NewResponseController(w).SetWriteDeadline(deadline); err != nil {
		h.opts.logger().LogAttrs(r.Context(), slog.LevelDebug, "書き込み期限を延長できません",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
}

func nonNilResults(results []pipeline.ItemResult) []pipeline.ItemResult {
	if results == nil {
		return []pipeline.ItemResult{}
	}
	return results
}
