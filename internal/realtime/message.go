package realtime

import (
	"time"

	"github.com/hitoshi/mentorlink/internal/model"
)

// MessageType はライブ接続へ送るメッセージの種別。
type MessageType string

const (
	// MessageNewNotification は通知の新規作成。
	MessageNewNotification MessageType = "new_notification"
	// MessageNotificationUpdated は既読・未読の切り替え。
	MessageNotificationUpdated MessageType = "notification_updated"
	// MessageNotificationsBulkUpdated は全件既読化・既読一括削除などの一括更新。
	MessageNotificationsBulkUpdated MessageType = "notifications_bulk_updated"
	// MessageNotificationDeleted は通知1件の削除。
	MessageNotificationDeleted MessageType = "notification_deleted"
	// MessageUnreadCount は未読数のみの同期（接続直後など）。
	MessageUnreadCount MessageType = "unread_count"
)

// Message はライブ接続へプッシュされるペイロード。
// クライアントはNotification.IDで重複を除去する（at-least-once配信）。
type Message struct {
	Type           MessageType          `json:"type"`
	Notification   *NotificationPayload `json:"notification,omitempty"`
	NotificationID string               `json:"notification_id,omitempty"`
	Bulk           *BulkUpdate          `json:"bulk,omitempty"`
	UnreadCount    *int                 `json:"unread_count,omitempty"`
	SentAt         time.Time            `json:"sent_at"`
}

// NotificationPayload は通知レコードのJSON表現。
type NotificationPayload struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	ActionRef string     `json:"action_ref,omitempty"`
	IsRead    bool       `json:"is_read"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// BulkUpdate は一括更新の内容を表すマーカー。
type BulkUpdate struct {
	MarkAllAsRead bool `json:"mark_all_as_read,omitempty"`
	DeletedRead   bool `json:"deleted_read,omitempty"`
}

// ToPayload は通知レコードをJSON表現に変換する。
func ToPayload(n *model.Notification) *NotificationPayload {
	return &NotificationPayload{
		ID:        n.ID,
		Type:      string(n.Type),
		Title:     n.Title,
		Message:   n.Message,
		ActionRef: n.ActionRef,
		IsRead:    n.IsRead,
		ReadAt:    n.ReadAt,
		CreatedAt: n.CreatedAt,
	}
}

// NewNotificationMessage はnew_notificationメッセージを生成する。
func NewNotificationMessage(n *model.Notification, unread int) Message {
	return Message{
		Type:         MessageNewNotification,
		Notification: ToPayload(n),
		UnreadCount:  &unread,
		SentAt:       time.Now().UTC(),
	}
}

// NotificationUpdatedMessage はnotification_updatedメッセージを生成する。
func NotificationUpdatedMessage(n *model.Notification, unread int) Message {
	return Message{
		Type:         MessageNotificationUpdated,
		Notification: ToPayload(n),
		UnreadCount:  &unread,
		SentAt:       time.Now().UTC(),
	}
}

// BulkUpdatedMessage はnotifications_bulk_updatedメッセージを生成する。
func BulkUpdatedMessage(bulk BulkUpdate, unread int) Message {
	return Message{
		Type:        MessageNotificationsBulkUpdated,
		Bulk:        &bulk,
		UnreadCount: &unread,
		SentAt:      time.Now().UTC(),
	}
}

// NotificationDeletedMessage はnotification_deletedメッセージを生成する。
func NotificationDeletedMessage(id string, unread int) Message {
	return Message{
		Type:           MessageNotificationDeleted,
		NotificationID: id,
		UnreadCount:    &unread,
		SentAt:         time.Now().UTC(),
	}
}

// UnreadCountMessage はunread_countメッセージを生成する。
func UnreadCountMessage(unread int) Message {
	return Message{
		Type:        MessageUnreadCount,
		UnreadCount: &unread,
		SentAt:      time.Now().UTC(),
	}
}
