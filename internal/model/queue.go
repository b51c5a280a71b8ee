package model

import "time"

// QueueStatus は生成キューレコードの状態を表す。
type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusCompleted  QueueStatus = "completed"
	QueueStatusFailed     QueueStatus = "failed"
)

// Valid は定義済みの状態かを返す。
func (s QueueStatus) Valid() bool {
	switch s {
	case QueueStatusPending, QueueStatusProcessing, QueueStatusCompleted, QueueStatusFailed:
		return true
	}
	return false
}

// 投入元タグ
const (
	AddedByManual  = "manual"
	AddedByWebhook = "webhook"
	AddedByAuto    = "auto"
)

// QueueRecord はURL単位の生成試行を追跡するレコード。
// urlはDBのユニーク制約で1URL1レコードが保証される。
type QueueRecord struct {
	ID          string      `json:"id"`
	URL         string      `json:"url"`
	Status      QueueStatus `json:"status"`
	AddedBy     string      `json:"addedBy"`
	ArticleID   string      `json:"articleId,omitempty"`
	Error       string      `json:"error,omitempty"`
	RetryCount  int         `json:"retryCount"`
	ProcessedAt *time.Time  `json:"processedAt"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}
