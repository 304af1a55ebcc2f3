package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrConnClosed は切断済みの接続への送信を表す。
	ErrConnClosed = errors.New("realtime: connection closed")
	// ErrSlowConsumer は送信バッファが満杯で受け取れない接続への送信を表す。
	ErrSlowConsumer = errors.New("realtime: consumer buffer full")
)

// Conn はライブ接続1本を表す。
// Sendはブロックしてはならず、送れない場合は即座にエラーを返す。
// Closeは何度呼んでもよい。
type Conn interface {
	ID() string
	Send(msg Message) error
	Close()
}

// Subscription はチャネルで配信を受け取るライブ接続。
// WebSocket・SSEなどのトランスポートはEvents()を読み出して回線へ書き込む。
type Subscription struct {
	id          string
	userID      string
	connectedAt time.Time

	mu     sync.Mutex
	closed bool
	events chan Message
	done   chan struct{}

	once    sync.Once
	onClose func(*Subscription)
}

// NewSubscription はバッファサイズbufferの購読を生成する。
// レジストリを介さずに使う場合（テストなど）はonCloseにnilを渡す。
func NewSubscription(userID string, buffer int, onClose func(*Subscription)) *Subscription {
	if buffer <= 0 {
		buffer = 1
	}
	return &Subscription{
		id:          uuid.New().String(),
		userID:      userID,
		connectedAt: time.Now(),
		events:      make(chan Message, buffer),
		done:        make(chan struct{}),
		onClose:     onClose,
	}
}

// ID は接続IDを返す。
func (s *Subscription) ID() string { return s.id }

// UserID は接続の所有者を返す。
func (s *Subscription) UserID() string { return s.userID }

// ConnectedAt は接続時刻を返す。
func (s *Subscription) ConnectedAt() time.Time { return s.connectedAt }

// Events は配信メッセージのストリームを返す。Close後にクローズされる。
func (s *Subscription) Events() <-chan Message { return s.events }

// Done はClose時にクローズされるチャネルを返す。
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Send はメッセージをバッファへ積む。ブロックしない。
func (s *Subscription) Send(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrConnClosed
	}
	select {
	case s.events <- msg:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close は購読を終了する。2回目以降の呼び出しは何もしない。
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.done)
		close(s.events)
		s.mu.Unlock()

		if s.onClose != nil {
			s.onClose(s)
		}
	})
}
