package notification

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hitoshi/mentorlink/internal/model"
	"github.com/hitoshi/mentorlink/internal/realtime"
	"github.com/hitoshi/mentorlink/internal/repository"
)

const (
	// DefaultPageLimit は通知一覧の1ページあたりのデフォルト件数。
	DefaultPageLimit = 20
	// MaxPageLimit は通知一覧の1ページあたりの最大件数。
	MaxPageLimit = 100
)

// ListResult は通知一覧の取得結果。
type ListResult struct {
	Items       []*model.Notification
	Total       int
	UnreadCount int
	Limit       int
	Offset      int
}

// HasMore は次のページが存在するかを返す。
func (r *ListResult) HasMore() bool {
	return r.Offset+len(r.Items) < r.Total
}

// MutationResult は通知1件の変更結果。
type MutationResult struct {
	Notification *model.Notification
	UnreadCount  int
}

// BulkResult は一括変更の結果。
type BulkResult struct {
	Affected    int
	UnreadCount int
}

// Service は通知の参照・既読管理を提供する。
// RESTハンドラーとライブ接続のコマンドはどちらもこのServiceを経由するため、
// 経路によって未読数が食い違うことはない。
type Service struct {
	repo   repository.NotificationRepository
	router *Router
	logger *slog.Logger
}

// NewService はServiceを生成する。routerはプッシュと受信者ロックを共有するために使う。
func NewService(repo repository.NotificationRepository, router *Router, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, router: router, logger: logger}
}

// List はユーザーの通知一覧を返す。
func (s *Service) List(ctx context.Context, userID string, filter model.NotificationFilter) (*ListResult, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, model.NewInvalidFilterError(string(filter.Type))
	}
	if filter.Limit <= 0 {
		filter.Limit = DefaultPageLimit
	}
	if filter.Limit > MaxPageLimit {
		filter.Limit = MaxPageLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	page, err := s.repo.List(ctx, userID, filter)
	if err != nil {
		return nil, toServiceError(err)
	}
	unread, err := s.router.counter.Get(ctx, userID)
	if err != nil {
		return nil, toServiceError(err)
	}

	return &ListResult{
		Items:       page.Items,
		Total:       page.Total,
		UnreadCount: unread,
		Limit:       filter.Limit,
		Offset:      filter.Offset,
	}, nil
}

// UnreadCount はユーザーの未読数を返す。
func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	unread, err := s.router.counter.Get(ctx, userID)
	if err != nil {
		return 0, toServiceError(err)
	}
	return unread, nil
}

// MarkRead は通知を既読にする。
func (s *Service) MarkRead(ctx context.Context, userID, notificationID string) (*MutationResult, error) {
	return s.setRead(ctx, userID, notificationID, true)
}

// MarkUnread は通知を未読に戻す。
func (s *Service) MarkUnread(ctx context.Context, userID, notificationID string) (*MutationResult, error) {
	return s.setRead(ctx, userID, notificationID, false)
}

func (s *Service) setRead(ctx context.Context, userID, notificationID string, isRead bool) (*MutationResult, error) {
	if err := s.checkOwner(ctx, userID, notificationID); err != nil {
		return nil, err
	}

	unlock := s.router.locks.lock(userID)
	defer unlock()

	var updated *model.Notification
	err := s.router.counter.Mutate(ctx, userID, func(ctx context.Context) error {
		n, err := s.repo.SetRead(ctx, userID, notificationID, isRead)
		if err != nil {
			return err
		}
		if n == nil {
			// 所有者確認の後に削除された
			return model.NewNotificationNotFoundError(notificationID)
		}
		updated = n
		return nil
	})
	if err != nil {
		return nil, toServiceError(err)
	}

	msg := s.router.withUnreadCount(ctx, userID, func(unread int) realtime.Message {
		return realtime.NotificationUpdatedMessage(updated, unread)
	})
	s.router.deliverLocked(userID, msg)

	return &MutationResult{Notification: updated, UnreadCount: unreadOf(msg)}, nil
}

// MarkAllRead はユーザーの未読通知を全て既読にする。
func (s *Service) MarkAllRead(ctx context.Context, userID string) (*BulkResult, error) {
	return s.bulk(ctx, userID, realtime.BulkUpdate{MarkAllAsRead: true}, s.repo.MarkAllRead)
}

// DeleteAllRead はユーザーの既読通知を全て削除する。
func (s *Service) DeleteAllRead(ctx context.Context, userID string) (*BulkResult, error) {
	return s.bulk(ctx, userID, realtime.BulkUpdate{DeletedRead: true}, s.repo.DeleteRead)
}

// bulk は一括変更と未読数の再計算を受信者ロック内で実行する。
// 同時に届いた単一の変更は一括変更の前後どちらかに直列化され、取りこぼされない。
func (s *Service) bulk(
	ctx context.Context,
	userID string,
	marker realtime.BulkUpdate,
	apply func(ctx context.Context, userID string) (int, error),
) (*BulkResult, error) {
	unlock := s.router.locks.lock(userID)
	defer unlock()

	var affected int
	err := s.router.counter.Mutate(ctx, userID, func(ctx context.Context) error {
		n, err := apply(ctx, userID)
		affected = n
		return err
	})
	if err != nil {
		return nil, toServiceError(err)
	}

	msg := s.router.withUnreadCount(ctx, userID, func(unread int) realtime.Message {
		return realtime.BulkUpdatedMessage(marker, unread)
	})
	s.router.deliverLocked(userID, msg)

	s.logger.Info("通知を一括更新しました",
		slog.String("user_id", userID),
		slog.Bool("mark_all_as_read", marker.MarkAllAsRead),
		slog.Bool("deleted_read", marker.DeletedRead),
		slog.Int("affected", affected),
	)
	return &BulkResult{Affected: affected, UnreadCount: unreadOf(msg)}, nil
}

// Delete は通知を1件削除する。
func (s *Service) Delete(ctx context.Context, userID, notificationID string) (int, error) {
	if err := s.checkOwner(ctx, userID, notificationID); err != nil {
		return 0, err
	}

	unlock := s.router.locks.lock(userID)
	defer unlock()

	err := s.router.counter.Mutate(ctx, userID, func(ctx context.Context) error {
		deleted, err := s.repo.Delete(ctx, userID, notificationID)
		if err != nil {
			return err
		}
		if !deleted {
			return model.NewNotificationNotFoundError(notificationID)
		}
		return nil
	})
	if err != nil {
		return 0, toServiceError(err)
	}

	msg := s.router.withUnreadCount(ctx, userID, func(unread int) realtime.Message {
		return realtime.NotificationDeletedMessage(notificationID, unread)
	})
	s.router.deliverLocked(userID, msg)

	return unreadOf(msg), nil
}

// checkOwner は通知の存在と所有者を確認する。
// 他人の通知はFORBIDDEN、存在しない通知はNOTIFICATION_NOT_FOUNDとする。
func (s *Service) checkOwner(ctx context.Context, userID, notificationID string) error {
	if _, err := uuid.Parse(notificationID); err != nil {
		return model.NewNotificationNotFoundError(notificationID)
	}
	n, err := s.repo.FindByID(ctx, notificationID)
	if err != nil {
		return toServiceError(err)
	}
	if n == nil {
		return model.NewNotificationNotFoundError(notificationID)
	}
	if n.UserID != userID {
		return model.NewForbiddenError("通知")
	}
	return nil
}

// unreadOf はメッセージに含めた未読数を返す。取得できなかった場合は-1を返す。
func unreadOf(msg realtime.Message) int {
	if msg.UnreadCount == nil {
		return -1
	}
	return *msg.UnreadCount
}
