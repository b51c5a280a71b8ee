package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/moviehunt-blog/internal/model"
)

// ErrorBody はAPIエラーの詳細部分。
// 原因カテゴリと対処方法を含む。
type ErrorBody struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Category string            `json:"category"`
	Action   string            `json:"action"`
	Fields   map[string]string `json:"fields,omitempty"`
	Detail   string            `json:"detail,omitempty"`
}

// ErrorResponseBody はAPIエラーレスポンスの統一エンベロープ。
type ErrorResponseBody struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	WriteErrorResponseWithDetail(w, statusCode, apiErr, "")
}

// WriteErrorResponseWithDetail は内部エラーの詳細を付与してエラーレスポンスを書き込む。
// detailは本番環境以外でのみ渡すこと。
func WriteErrorResponseWithDetail(w http.ResponseWriter, statusCode int, apiErr *model.APIError, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Success: false,
		Error: ErrorBody{
			Code:     apiErr.Code,
			Message:  apiErr.Message,
			Category: apiErr.Category,
			Action:   apiErr.Action,
			Fields:   apiErr.Fields,
			Detail:   detail,
		},
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}
