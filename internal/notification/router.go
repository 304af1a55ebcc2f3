// Package notification はドメインイベントを通知として保存し、受信者のライブ接続へ配信する。
//
// 配信の順序は「永続化 → 未読数の再計算 → プッシュ」で固定する。
// 受信者ごとにロックを取り、同一受信者へのpublishは呼び出し順に配信される。
package notification

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/mentorlink/internal/event"
	"github.com/hitoshi/mentorlink/internal/metrics"
	"github.com/hitoshi/mentorlink/internal/model"
	"github.com/hitoshi/mentorlink/internal/realtime"
	"github.com/hitoshi/mentorlink/internal/security"
)

// Store は通知の作成インターフェース。repository.NotificationRepositoryが実装する。
type Store interface {
	Create(ctx context.Context, n *model.Notification) error
}

// Pusher はライブ接続への配信インターフェース。realtime.Registryが実装する。
type Pusher interface {
	Deliver(userID string, msg realtime.Message) realtime.DeliveryResult
}

// UnreadCounter は未読数の再計算インターフェース。unread.Reconcilerが実装する。
type UnreadCounter interface {
	Get(ctx context.Context, userID string) (int, error)
	Mutate(ctx context.Context, userID string, mutate func(ctx context.Context) error) error
}

// Recorder は配信結果を記録するインターフェース。metrics.Collectorが実装する。
type Recorder interface {
	RecordNotificationPublished(notificationType string)
	RecordPush(result string, count int)
}

// DeliveryOutcome はpublish1回分の結果。診断用であり、再送の判断には使わない。
type DeliveryOutcome struct {
	Notification *model.Notification
	Live         int // publish時点のライブ接続数
	Delivered    int
	Dropped      int
}

// Pushed は少なくとも1接続へプッシュできたかを返す。
func (o *DeliveryOutcome) Pushed() bool {
	return o.Delivered > 0
}

// Router はイベントを通知として永続化し、受信者の全ライブ接続へプッシュする。
type Router struct {
	store     Store
	pusher    Pusher
	counter   UnreadCounter
	recorder  Recorder
	sanitizer security.TextSanitizerService
	logger    *slog.Logger
	now       func() time.Time

	locks *recipientLocks
}

// NewRouter はRouterを生成する。recorderはnilでもよい。
func NewRouter(
	store Store,
	pusher Pusher,
	counter UnreadCounter,
	recorder Recorder,
	sanitizer security.TextSanitizerService,
	logger *slog.Logger,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if sanitizer == nil {
		sanitizer = security.NewTextSanitizer()
	}
	return &Router{
		store:     store,
		pusher:    pusher,
		counter:   counter,
		recorder:  recorder,
		sanitizer: sanitizer,
		logger:    logger,
		now:       time.Now,
		locks:     newRecipientLocks(),
	}
}

// Publish はイベントを受信者宛ての通知として保存し、ライブ接続へプッシュする。
// 保存はオンライン状態に関係なく必ず行い、保存に失敗した場合はプッシュしない。
// プッシュの失敗はエラーとして返さない（クライアントは次回の一覧・未読数取得で回復する）。
func (r *Router) Publish(ctx context.Context, recipient string, e event.Event) (*DeliveryOutcome, error) {
	if recipient == "" {
		return nil, model.NewInvalidRequestError("受信者が指定されていません。")
	}
	if e == nil {
		return nil, model.NewInvalidRequestError("イベントが指定されていません。")
	}

	content := e.Content()
	n := &model.Notification{
		ID:        uuid.New().String(),
		UserID:    recipient,
		Type:      e.Type(),
		Title:     r.sanitizer.SanitizeText(content.Title, security.MaxTitleLength),
		Message:   r.sanitizer.SanitizeText(content.Message, security.MaxMessageLength),
		ActionRef: r.sanitizer.SanitizeActionRef(content.ActionRef),
		CreatedAt: r.now().UTC(),
	}

	unlock := r.locks.lock(recipient)
	defer unlock()

	err := r.counter.Mutate(ctx, recipient, func(ctx context.Context) error {
		return r.store.Create(ctx, n)
	})
	if err != nil {
		r.logger.Error("通知の保存に失敗しました",
			slog.String("user_id", recipient),
			slog.String("type", string(n.Type)),
			slog.String("error", err.Error()),
		)
		return nil, model.NewTransientStoreError(err)
	}
	if r.recorder != nil {
		r.recorder.RecordNotificationPublished(string(n.Type))
	}

	msg := r.withUnreadCount(ctx, recipient, func(unread int) realtime.Message {
		return realtime.NewNotificationMessage(n, unread)
	})
	result := r.deliverLocked(recipient, msg)

	r.logger.Debug("通知を配信しました",
		slog.String("user_id", recipient),
		slog.String("notification_id", n.ID),
		slog.String("type", string(n.Type)),
		slog.Int("live", result.Live),
		slog.Int("delivered", result.Delivered),
	)

	return &DeliveryOutcome{
		Notification: n,
		Live:         result.Live,
		Delivered:    result.Delivered,
		Dropped:      result.Dropped,
	}, nil
}

// withUnreadCount は現在の未読数でメッセージを組み立てる。
// 未読数を取得できない場合は未読数を含めずに送る（クライアントは次回のREST取得で補正する）。
func (r *Router) withUnreadCount(ctx context.Context, userID string, build func(unread int) realtime.Message) realtime.Message {
	unread, err := r.counter.Get(ctx, userID)
	if err != nil {
		r.logger.Warn("未読数を取得できないため未読数なしで配信します",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		msg := build(0)
		msg.UnreadCount = nil
		return msg
	}
	return build(unread)
}

// deliverLocked は受信者のロックを保持した状態で呼び出すこと。
func (r *Router) deliverLocked(userID string, msg realtime.Message) realtime.DeliveryResult {
	result := r.pusher.Deliver(userID, msg)
	if r.recorder != nil {
		r.recorder.RecordPush(metrics.PushDelivered, result.Delivered)
		r.recorder.RecordPush(metrics.PushDropped, result.Dropped)
		if result.Live == 0 {
			r.recorder.RecordPush(metrics.PushOffline, 1)
		}
	}
	return result
}

// toServiceError はAPIError以外のエラーを一時的な保存失敗として扱う。
func toServiceError(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return model.NewTransientStoreError(err)
}

// recipientLocks は受信者ごとのミューテックス。
// 参照がなくなったエントリは削除し、長時間稼働でもマップが肥大化しないようにする。
type recipientLocks struct {
	mu sync.Mutex
	m  map[string]*recipientLock
}

type recipientLock struct {
	mu   sync.Mutex
	refs int
}

func newRecipientLocks() *recipientLocks {
	return &recipientLocks{m: make(map[string]*recipientLock)}
}

func (l *recipientLocks) lock(userID string) (unlock func()) {
	l.mu.Lock()
	e, ok := l.m[userID]
	if !ok {
		e = &recipientLock{}
		l.m[userID] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.m, userID)
		}
		l.mu.Unlock()
	}
}
