package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/moviehunt-blog/internal/middleware"
	"github.com/hitoshi/moviehunt-blog/internal/model"
)

// successResponse は成功時の統一エンベロープ。
type successResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// Options はハンドラー共通の設定。
type Options struct {
	Logger *slog.Logger
	// ExposeErrorDetail がtrueの場合、500レスポンスに内部エラーの文字列を含める。
	// 本番環境では必ずfalseにする。
	ExposeErrorDetail bool
	// Batch はキューの同期処理で書き込み期限を延ばすための見積もり。
	Batch BatchBudget
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// writeData はdataを統一エンベロープで書き込む。
func writeData(w http.ResponseWriter, statusCode int, data any, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(successResponse{
		Success: true,
		Data:    data,
		Message: message,
	})
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func (o Options) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	o.logger().Error("internal server error",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	detail := ""
	if o.ExposeErrorDetail {
		detail = err.Error()
	}
	middleware.WriteErrorResponseWithDetail(w, http.StatusInternalServerError, model.NewInternalError(), detail)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidSource, model.ErrCodeValidation, model.ErrCodeInvalidRequest, model.ErrCodeUnsupportedEvent:
		return http.StatusBadRequest
	case model.ErrCodeArticleNotFound, model.ErrCodeQueueRecordNotFound, model.ErrCodeSourceRecordNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidStatusTransition, model.ErrCodeGenerationInProgress:
		return http.StatusConflict
	case model.ErrCodeExtraction, model.ErrCodeMalformedRecord, model.ErrCodeIncompleteSourceData:
		return http.StatusUnprocessableEntity
	case model.ErrCodeFetch, model.ErrCodeGeneration:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
