package model

import "time"

// Notification はアラートのユーザーごとのアプリ内表示。
// (UserID, Metadata.AlertID) ごとに1件だけ作成される。
type Notification struct {
	ID        string
	UserID    string
	Title     string
	Message   string
	Type      AlertType
	Metadata  NotificationMetadata
	Read      bool
	CreatedAt time.Time
}

// NotificationMetadata は通知に付随するアラート情報。JSONBとして保存される。
type NotificationMetadata struct {
	AlertID  string   `json:"alertId"`
	SourceID string   `json:"sourceId,omitempty"`
	Severity Severity `json:"severity"`
	Category string   `json:"category"`
}

// NewNotificationForAlert はアラートから通知を組み立てる。IDと作成日時は呼び出し側で設定する。
func NewNotificationForAlert(userID string, a *Alert) *Notification {
	return &Notification{
		UserID:  userID,
		Title:   a.Title,
		Message: a.Description,
		Type:    a.Type,
		Metadata: NotificationMetadata{
			AlertID:  a.ID,
			SourceID: a.SourceIDString(),
			Severity: a.Severity,
			Category: a.Category,
		},
	}
}

// Acknowledgement はユーザーがアラートを確認・却下した記録。
// ダイジェストからの除外と未読数の算出に使われる。
type Acknowledgement struct {
	UserID      string
	AlertID     string
	ReadAt      time.Time
	DismissedAt *time.Time
}
