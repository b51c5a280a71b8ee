package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/moviehunt-blog/internal/model"
)

// healthCheckTimeout はDB疎通確認のタイムアウト。
const healthCheckTimeout = 3 * time.Second

// Pinger はDB疎通確認のインターフェース。*sql.DBが満たす。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler はAPIサーバーの死活確認ハンドラー。
type HealthHandler struct {
	db   Pinger
	opts Options
}

// NewHealthHandler はHealthHandlerを生成する。
func NewHealthHandler(db Pinger, opts Options) *HealthHandler {
	return &HealthHandler{db: db, opts: opts}
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// Health はDBに疎通できれば200、できなければ503を返す。
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		h.opts.logger().Error("ヘルスチェックでDBに接続できませんでした", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusServiceUnavailable, &model.APIError{
			Code:     "DATABASE_UNAVAILABLE",
			Message:  "database is unreachable",
			Category: model.CategorySystem,
			Action:   "Check the database connection.",
		})
		return
	}
	writeData(w, http.StatusOK, healthResponse{Status: "ok", Database: "ok"}, "")
}
