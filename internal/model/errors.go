// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string            // エラーコード
	Message  string            // エラーメッセージ
	Category string            // カテゴリ: validation, source, generation, article, queue, system
	Action   string            // ユーザー向け対処方法
	Fields   map[string]string // フィールド単位のバリデーションエラー（任意）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// エラーカテゴリ
const (
	CategoryValidation = "validation"
	CategorySource     = "source"
	CategoryGeneration = "generation"
	CategoryArticle    = "article"
	CategoryQueue      = "queue"
	CategorySystem     = "system"
)

// 定義済みエラーコード
const (
	ErrCodeInvalidSource           = "INVALID_SOURCE"
	ErrCodeArticleNotFound         = "ARTICLE_NOT_FOUND"
	ErrCodeQueueRecordNotFound     = "QUEUE_RECORD_NOT_FOUND"
	ErrCodeSourceRecordNotFound    = "SOURCE_RECORD_NOT_FOUND"
	ErrCodeExtraction              = "EXTRACTION_FAILED"
	ErrCodeMalformedRecord         = "MALFORMED_RECORD"
	ErrCodeIncompleteSourceData    = "INCOMPLETE_SOURCE_DATA"
	ErrCodeGeneration              = "GENERATION_FAILED"
	ErrCodeFetch                   = "FETCH_FAILED"
	ErrCodeValidation              = "VALIDATION_FAILED"
	ErrCodeInvalidRequest          = "INVALID_REQUEST"
	ErrCodeUnsupportedEvent        = "UNSUPPORTED_EVENT"
	ErrCodeInvalidStatusTransition = "INVALID_STATUS_TRANSITION"
	ErrCodeGenerationInProgress    = "GENERATION_IN_PROGRESS"
	ErrCodeInternal                = "INTERNAL_ERROR"
)

// NewInvalidSourceError は許可されていないソースURLのエラーを生成する。
func NewInvalidSourceError(url string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSource,
		Message:  fmt.Sprintf("invalid source url: %s", url),
		Category: CategoryValidation,
		Action:   "Submit a film page URL from an allowed source domain.",
	}
}

// NewArticleNotFoundError は記事未検出エラーを生成する。
func NewArticleNotFoundError(key string) *APIError {
	return &APIError{
		Code:     ErrCodeArticleNotFound,
		Message:  fmt.Sprintf("article not found: %s", key),
		Category: CategoryArticle,
		Action:   "Check the article id or slug.",
	}
}

// NewQueueRecordNotFoundError はキューレコード未検出エラーを生成する。
func NewQueueRecordNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeQueueRecordNotFound,
		Message:  fmt.Sprintf("queue record not found: %s", id),
		Category: CategoryQueue,
		Action:   "Check the queue record id.",
	}
}

// NewSourceRecordNotFoundError は上流APIに作品が存在しない場合のエラーを生成する。
func NewSourceRecordNotFoundError(slug string) *APIError {
	return &APIError{
		Code:     ErrCodeSourceRecordNotFound,
		Message:  fmt.Sprintf("record not found for slug %q", slug),
		Category: CategorySource,
		Action:   "Check that the film page still exists on the source site.",
	}
}

// NewExtractionError はURLからスラッグを抽出できない場合のエラーを生成する。
func NewExtractionError(url string) *APIError {
	return &APIError{
		Code:     ErrCodeExtraction,
		Message:  fmt.Sprintf("could not extract an identifier from url: %s", url),
		Category: CategorySource,
		Action:   "Submit the URL of a film page, not a listing or home page.",
	}
}

// NewMalformedRecordError は上流レコードが想定形式でない場合のエラーを生成する。
func NewMalformedRecordError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeMalformedRecord,
		Message:  fmt.Sprintf("malformed source record: %s", reason),
		Category: CategorySource,
		Action:   "The source record is incomplete. Retry once the film page is complete.",
	}
}

// NewIncompleteSourceDataError は生成に必要な項目が欠けている場合のエラーを生成する。
func NewIncompleteSourceDataError(field string) *APIError {
	return &APIError{
		Code:     ErrCodeIncompleteSourceData,
		Message:  fmt.Sprintf("source data is missing required field: %s", field),
		Category: CategoryGeneration,
		Action:   "Complete the film record on the source site before generating.",
	}
}

// NewGenerationError は生成モデル呼び出しの失敗エラーを生成する。
func NewGenerationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeGeneration,
		Message:  fmt.Sprintf("article generation failed: %s", reason),
		Category: CategoryGeneration,
		Action:   "Retry later. The queue keeps the failed attempt for retry.",
	}
}

// NewFetchError は外部依存への通信失敗エラーを生成する。
func NewFetchError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeFetch,
		Message:  fmt.Sprintf("fetch failed: %s", reason),
		Category: CategorySource,
		Action:   "Retry later. The queue keeps the failed attempt for retry.",
	}
}

// NewValidationError はフィールド単位のバリデーションエラーを生成する。
func NewValidationError(fields map[string]string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  "request validation failed",
		Category: CategoryValidation,
		Action:   "Fix the listed fields and resend the request.",
		Fields:   fields,
	}
}

// NewInvalidRequestError はリクエストボディ解析失敗エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("invalid request: %s", reason),
		Category: CategoryValidation,
		Action:   "Send a well-formed JSON body.",
	}
}

// NewUnsupportedEventError はWebhookの未対応イベントエラーを生成する。
func NewUnsupportedEventError(event string) *APIError {
	return &APIError{
		Code:     ErrCodeUnsupportedEvent,
		Message:  fmt.Sprintf("unsupported event type: %q", event),
		Category: CategoryValidation,
		Action:   "Use page.created or page.updated.",
	}
}

// NewInvalidStatusTransitionError は記事ステータスの不正遷移エラーを生成する。
func NewInvalidStatusTransitionError(from, to ArticleStatus) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidStatusTransition,
		Message:  fmt.Sprintf("cannot move article from %s to %s", from, to),
		Category: CategoryArticle,
		Action:   "Only draft articles can be published.",
	}
}

// NewGenerationInProgressError は同一URLの生成が別プロセスで実行中の場合のエラーを生成する。
func NewGenerationInProgressError(url string) *APIError {
	return &APIError{
		Code:     ErrCodeGenerationInProgress,
		Message:  fmt.Sprintf("generation already in progress for %s", url),
		Category: CategoryQueue,
		Action:   "Wait for the running attempt to finish.",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "internal server error",
		Category: CategorySystem,
		Action:   "Retry later.",
	}
}

// AsAPIError はエラーチェーンからAPIErrorを取り出す。
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// HasCode はエラーチェーンに指定コードのAPIErrorが含まれるかを返す。
func HasCode(err error, code string) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Code == code
}

// IsNotFound は記事・キュー・上流レコードのいずれかの未検出エラーかを返す。
func IsNotFound(err error) bool {
	apiErr, ok := AsAPIError(err)
	if !ok {
		return false
	}
	switch apiErr.Code {
	case ErrCodeArticleNotFound, ErrCodeQueueRecordNotFound, ErrCodeSourceRecordNotFound:
		return true
	}
	return false
}

// IsCategory はエラーチェーンに指定カテゴリのAPIErrorが含まれるかを返す。
func IsCategory(err error, category string) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Category == category
}
