package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/moviehunt-blog/internal/model"
)

// 受け付けるWebhookイベント
const (
	webhookEventPageCreated = "page.created"
	webhookEventPageUpdated = "page.updated"
)

// AsyncGenerator はWebhookで受けたURLを非同期生成に回すインターフェース。
// 戻り値のdispatchedは即時実行のキューに載った場合にtrue。
// falseでもレコードはpendingで永続化されており、次回のキュー処理で生成される。
type AsyncGenerator interface {
	Accept(ctx context.Context, rawURL, addedBy string) (rec *model.QueueRecord, dispatched bool, err error)
}

// WebhookHandler はソースサイトからのWebhookを受けるHTTPハンドラー。
type WebhookHandler struct {
	generator AsyncGenerator
	opts      Options
	now       func() time.Time
}

// NewWebhookHandler はWebhookHandlerを生成する。
func NewWebhookHandler(generator AsyncGenerator, opts Options) *WebhookHandler {
	return &WebhookHandler{generator: generator, opts: opts, now: time.Now}
}

// webhookRequest はWebhookのボディ。
type webhookRequest struct {
	URL       string `json:"url" validate:"required,url"`
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`
}

// webhookAcceptedResponse は受付結果。
type webhookAcceptedResponse struct {
	QueueID    string            `json:"queueId"`
	Status     model.QueueStatus `json:"status"`
	Dispatched bool              `json:"dispatched"`
}

// webhookHealthResponse はWebhookの死活確認レスポンス。
type webhookHealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Receive はページ作成・更新のWebhookを受け、記事生成を非同期で開始して202を返す。
// POST /api/webhook/moviehunt
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if apiErr := decodeJSON(w, r, &req, false); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if apiErr := validateStruct(req); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}
	if req.Event != webhookEventPageCreated && req.Event != webhookEventPageUpdated {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewUnsupportedEventError(req.Event))
		return
	}

	rec, dispatched, err := h.generator.Accept(r.Context(), req.URL, model.AddedByWebhook)
	if err != nil {
		h.opts.handleServiceError(w, r, err)
		return
	}

	h.opts.logger().Info("Webhookを受け付けました",
		slog.String("event", req.Event),
		slog.String("url", req.URL),
		slog.String("queue_id", rec.ID),
		slog.Bool("dispatched", dispatched),
	)
	writeData(w, http.StatusAccepted, webhookAcceptedResponse{
		QueueID:    rec.ID,
		Status:     rec.Status,
		Dispatched: dispatched,
	}, "webhook received, generation in progress")
}

// Health はWebhookエンドポイントの死活確認に応答する。
// GET /api/webhook/health
func (h *WebhookHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, webhookHealthResponse{
		Status:    "ok",
		Timestamp: h.now().UTC(),
	}, "webhook operational")
}
