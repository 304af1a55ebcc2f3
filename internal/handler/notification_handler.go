package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/mentorlink/internal/model"
	"github.com/hitoshi/mentorlink/internal/notification"
	"github.com/hitoshi/mentorlink/internal/realtime"
)

// NotificationService は通知ハンドラーとライブ接続のコマンドが必要とするサービスインターフェース。
type NotificationService interface {
	List(ctx context.Context, userID string, filter model.NotificationFilter) (*notification.ListResult, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, userID, notificationID string) (*notification.MutationResult, error)
	MarkUnread(ctx context.Context, userID, notificationID string) (*notification.MutationResult, error)
	MarkAllRead(ctx context.Context, userID string) (*notification.BulkResult, error)
	DeleteAllRead(ctx context.Context, userID string) (*notification.BulkResult, error)
	Delete(ctx context.Context, userID, notificationID string) (int, error)
}

// NotificationHandler は通知のHTTPハンドラー。
type NotificationHandler struct {
	service NotificationService
}

// NewNotificationHandler はNotificationHandlerを生成する。
func NewNotificationHandler(service NotificationService) *NotificationHandler {
	return &NotificationHandler{service: service}
}

// --- レスポンス型 ---

type notificationListResponse struct {
	Items       []*realtime.NotificationPayload `json:"items"`
	Total       int                             `json:"total"`
	UnreadCount int                             `json:"unread_count"`
	Page        int                             `json:"page"`
	Limit       int                             `json:"limit"`
	HasMore     bool                            `json:"has_more"`
}

type unreadCountResponse struct {
	UnreadCount *int `json:"unread_count,omitempty"`
}

type notificationMutationResponse struct {
	Notification *realtime.NotificationPayload `json:"notification"`
	UnreadCount  *int                          `json:"unread_count,omitempty"`
}

type bulkMutationResponse struct {
	Affected    int  `json:"affected"`
	UnreadCount *int `json:"unread_count,omitempty"`
}

// knownCount は未読数が取得できた場合のみ値を返す。
// 書き込み自体は成功しているため、未読数が不明でもエラーにはしない。
func knownCount(n int) *int {
	if n < 0 {
		return nil
	}
	return &n
}

// List は通知一覧を返す。
// GET /api/notifications?is_read=true|false&type=xxx&page=1&limit=20
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	filter, page, err := parseNotificationQuery(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	result, err := h.service.List(r.Context(), userID, filter)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	items := make([]*realtime.NotificationPayload, 0, len(result.Items))
	for _, n := range result.Items {
		items = append(items, realtime.ToPayload(n))
	}
	writeJSON(w, http.StatusOK, notificationListResponse{
		Items:       items,
		Total:       result.Total,
		UnreadCount: result.UnreadCount,
		Page:        page,
		Limit:       result.Limit,
		HasMore:     result.HasMore(),
	})
}

// parseNotificationQuery はクエリパラメータからフィルタとページ番号を組み立てる。
func parseNotificationQuery(r *http.Request) (model.NotificationFilter, int, error) {
	q := r.URL.Query()
	var filter model.NotificationFilter

	switch v := q.Get("is_read"); v {
	case "":
	case "true", "false":
		isRead := v == "true"
		filter.IsRead = &isRead
	default:
		return filter, 0, model.NewInvalidFilterError("is_read=" + v)
	}
	filter.Type = model.NotificationType(q.Get("type"))

	page, err := queryInt(r, "page", 1)
	if err != nil {
		return filter, 0, err
	}
	limit, err := queryInt(r, "limit", notification.DefaultPageLimit)
	if err != nil {
		return filter, 0, err
	}
	if limit > notification.MaxPageLimit {
		limit = notification.MaxPageLimit
	}
	filter.Limit = limit
	filter.Offset = (page - 1) * limit
	return filter, page, nil
}

// UnreadCount は未読数を返す。
// GET /api/notifications/unread-count
func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	n, err := h.service.UnreadCount(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, unreadCountResponse{UnreadCount: &n})
}

// MarkRead は通知を既読にする。
// PUT /api/notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.service.MarkRead)
}

// MarkUnread は通知を未読に戻す。
// PUT /api/notifications/{id}/unread
func (h *NotificationHandler) MarkUnread(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.service.MarkUnread)
}

func (h *NotificationHandler) mutate(
	w http.ResponseWriter,
	r *http.Request,
	apply func(ctx context.Context, userID, notificationID string) (*notification.MutationResult, error),
) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	result, err := apply(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, notificationMutationResponse{
		Notification: realtime.ToPayload(result.Notification),
		UnreadCount:  knownCount(result.UnreadCount),
	})
}

// MarkAllRead は未読通知を全て既読にする。
// PUT /api/notifications/read-all
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	h.bulk(w, r, h.service.MarkAllRead)
}

// DeleteAllRead は既読通知を全て削除する。
// DELETE /api/notifications/read
func (h *NotificationHandler) DeleteAllRead(w http.ResponseWriter, r *http.Request) {
	h.bulk(w, r, h.service.DeleteAllRead)
}

func (h *NotificationHandler) bulk(
	w http.ResponseWriter,
	r *http.Request,
	apply func(ctx context.Context, userID string) (*notification.BulkResult, error),
) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	result, err := apply(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bulkMutationResponse{
		Affected:    result.Affected,
		UnreadCount: knownCount(result.UnreadCount),
	})
}

// Delete は通知を1件削除する。
// DELETE /api/notifications/{id}
func (h *NotificationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	unread, err := h.service.Delete(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, unreadCountResponse{UnreadCount: knownCount(unread)})
}
