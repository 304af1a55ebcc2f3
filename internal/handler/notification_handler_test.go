package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/hitoshi/mentorlink/internal/model"
	"github.com/hitoshi/mentorlink/internal/notification"
)

const testNotificationID = "3f2b8c1e-5d6a-4e7f-9a0b-1c2d3e4f5a6b"

func sampleNotification() *model.Notification {
	return &model.Notification{
		ID:        testNotificationID,
		UserID:    testUserID,
		Type:      model.NotificationTypeNewConnection,
		Title:     "新しいつながり",
		Message:   "山田さんとつながりました",
		CreatedAt: time.Date(2026, 10, 12, 9, 0, 0, 0, time.UTC),
	}
}

func TestListNotifications_ParsesQuery(t *testing.T) {
	f := newFixture(t)
	var got model.NotificationFilter
	f.notifications.listFn = func(ctx context.Context, userID string, filter model.NotificationFilter) (*notification.ListResult, error) {
		if userID != testUserID {
			t.Errorf("userID = %q, want %q", userID, testUserID)
		}
		got = filter
		return &notification.ListResult{
			Items:       []*model.Notification{sampleNotification()},
			Total:       25,
			UnreadCount: 4,
			Limit:       filter.Limit,
			Offset:      filter.Offset,
		}, nil
	}

	w := do(f.router(), apiRequest(http.MethodGet, "/api/notifications?is_read=false&type=new_connection&page=2&limit=10", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got.IsRead == nil || *got.IsRead {
		t.Errorf("IsRead = %v, want false", got.IsRead)
	}
	if got.Type != model.NotificationTypeNewConnection {
		t.Errorf("Type = %q", got.Type)
	}
	if got.Limit != 10 || got.Offset != 10 {
		t.Errorf("Limit/Offset = %d/%d, want 10/10", got.Limit, got.Offset)
	}

	resp := decode[notificationListResponse](t, w)
	if len(resp.Items) != 1 || resp.Items[0].ID != testNotificationID {
		t.Errorf("items = %+v", resp.Items)
	}
	if resp.Total != 25 || resp.UnreadCount != 4 || resp.Page != 2 || resp.Limit != 10 {
		t.Errorf("resp = %+v", resp)
	}
	if !resp.HasMore {
		t.Error("2ページ目(11〜11件目)の後にも通知があるためhas_moreはtrue")
	}
}

func TestListNotifications_CapsLimitAndDefaults(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"指定なし", "", notification.DefaultPageLimit, 0},
		{"上限超過", "?limit=500", notification.MaxPageLimit, 0},
		{"3ページ目", "?page=3&limit=5", 5, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			var got model.NotificationFilter
			f.notifications.listFn = func(ctx context.Context, userID string, filter model.NotificationFilter) (*notification.ListResult, error) {
				got = filter
				return &notification.ListResult{Limit: filter.Limit, Offset: filter.Offset}, nil
			}

			w := do(f.router(), apiRequest(http.MethodGet, "/api/notifications"+tt.query, nil))

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d", w.Code)
			}
			if got.Limit != tt.wantLimit || got.Offset != tt.wantOffset {
				t.Errorf("Limit/Offset = %d/%d, want %d/%d", got.Limit, got.Offset, tt.wantLimit, tt.wantOffset)
			}
			if items := decode[notificationListResponse](t, w).Items; items == nil {
				t.Error("itemsは空でもnullではなく[]で返す")
			}
		})
	}
}

func TestListNotifications_InvalidQuery(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		wantCode string
	}{
		{"is_readが不正", "?is_read=maybe", model.ErrCodeInvalidFilter},
		{"pageが0", "?page=0", model.ErrCodeInvalidRequest},
		{"limitが数値でない", "?limit=ten", model.ErrCodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.notifications.listFn = func(ctx context.Context, userID string, filter model.NotificationFilter) (*notification.ListResult, error) {
				t.Error("不正なクエリでサービスを呼んではならない")
				return nil, nil
			}

			w := do(f.router(), apiRequest(http.MethodGet, "/api/notifications"+tt.query, nil))

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if code := errorCode(t, w); code != tt.wantCode {
				t.Errorf("code = %q, want %q", code, tt.wantCode)
			}
		})
	}
}

func TestUnreadCount(t *testing.T) {
	f := newFixture(t)
	f.notifications.unreadCountFn = func(ctx context.Context, userID string) (int, error) {
		return 7, nil
	}

	w := do(f.router(), apiRequest(http.MethodGet, "/api/notifications/unread-count", nil))

	resp := decode[unreadCountResponse](t, w)
	if resp.UnreadCount == nil || *resp.UnreadCount != 7 {
		t.Errorf("unread_count = %v, want 7", resp.UnreadCount)
	}
}

func TestMarkReadAndUnread(t *testing.T) {
	f := newFixture(t)
	var calls []string
	f.notifications.markReadFn = func(ctx context.Context, userID, id string) (*notification.MutationResult, error) {
		calls = append(calls, "read:"+id)
		n := sampleNotification()
		n.IsRead = true
		return &notification.MutationResult{Notification: n, UnreadCount: 2}, nil
	}
	f.notifications.markUnreadFn = func(ctx context.Context, userID, id string) (*notification.MutationResult, error) {
		calls = append(calls, "unread:"+id)
		return &notification.MutationResult{Notification: sampleNotification(), UnreadCount: 3}, nil
	}
	h := f.router()

	w := do(h, apiRequest(http.MethodPut, "/api/notifications/"+testNotificationID+"/read", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("read: status = %d", w.Code)
	}
	resp := decode[notificationMutationResponse](t, w)
	if !resp.Notification.IsRead || resp.UnreadCount == nil || *resp.UnreadCount != 2 {
		t.Errorf("read: resp = %+v", resp)
	}

	w = do(h, apiRequest(http.MethodPut, "/api/notifications/"+testNotificationID+"/unread", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("unread: status = %d", w.Code)
	}

	want := []string{"read:" + testNotificationID, "unread:" + testNotificationID}
	if len(calls) != 2 || calls[0] != want[0] || calls[1] != want[1] {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestMarkRead_UnknownUnreadCountIsOmitted(t *testing.T) {
	f := newFixture(t)
	f.notifications.markReadFn = func(ctx context.Context, userID, id string) (*notification.MutationResult, error) {
		return &notification.MutationResult{Notification: sampleNotification(), UnreadCount: -1}, nil
	}

	w := do(f.router(), apiRequest(http.MethodPut, "/api/notifications/"+testNotificationID+"/read", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if resp := decode[notificationMutationResponse](t, w); resp.UnreadCount != nil {
		t.Errorf("未読数が不明な場合は省略する: %v", *resp.UnreadCount)
	}
}

func TestNotificationMutation_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"他人の通知", model.NewForbiddenError("通知"), http.StatusForbidden},
		{"存在しない通知", model.NewNotificationNotFoundError("x"), http.StatusNotFound},
		{"一時的な障害", model.NewTransientStoreError(errors.New("timeout")), http.StatusServiceUnavailable},
		{"想定外のエラー", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.notifications.deleteFn = func(ctx context.Context, userID, id string) (int, error) {
				return 0, tt.err
			}

			w := do(f.router(), apiRequest(http.MethodDelete, "/api/notifications/"+testNotificationID, nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestBulkEndpoints(t *testing.T) {
	f := newFixture(t)
	f.notifications.markAllReadFn = func(ctx context.Context, userID string) (*notification.BulkResult, error) {
		return &notification.BulkResult{Affected: 5, UnreadCount: 0}, nil
	}
	f.notifications.deleteAllReadFn = func(ctx context.Context, userID string) (*notification.BulkResult, error) {
		return &notification.BulkResult{Affected: 3, UnreadCount: 1}, nil
	}
	h := f.router()

	tests := []struct {
		method       string
		path         string
		wantAffected int
		wantUnread   int
	}{
		{http.MethodPut, "/api/notifications/read-all", 5, 0},
		{http.MethodDelete, "/api/notifications/read", 3, 1},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := do(h, apiRequest(tt.method, tt.path, nil))

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d", w.Code)
			}
			resp := decode[bulkMutationResponse](t, w)
			if resp.Affected != tt.wantAffected || resp.UnreadCount == nil || *resp.UnreadCount != tt.wantUnread {
				t.Errorf("resp = %+v", resp)
			}
		})
	}
}

func TestDeleteNotification(t *testing.T) {
	f := newFixture(t)
	var deleted string
	f.notifications.deleteFn = func(ctx context.Context, userID, id string) (int, error) {
		deleted = id
		return 6, nil
	}

	w := do(f.router(), apiRequest(http.MethodDelete, "/api/notifications/"+testNotificationID, nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if deleted != testNotificationID {
		t.Errorf("deleted = %q", deleted)
	}
	if resp := decode[unreadCountResponse](t, w); resp.UnreadCount == nil || *resp.UnreadCount != 6 {
		t.Errorf("unread_count = %v, want 6", resp.UnreadCount)
	}
}
