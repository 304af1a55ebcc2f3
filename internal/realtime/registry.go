// Package realtime はユーザーごとのライブ接続の管理と配信を提供する。
//
// Registryはプロセス内メモリのみで保持し、再起動後はクライアントの再接続によって再構築される。
// 複数プロセス間での接続共有は行わない（水平スケール時は外部のブロードキャスト層が必要）。
package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// defaultBufferSize は購読ごとの送信バッファのデフォルトサイズ。
const defaultBufferSize = 64

// ConnectionObserver は接続数の変化を受け取るインターフェース。
// metrics.Collectorが実装する。
type ConnectionObserver interface {
	SetLiveConnections(n int)
}

// DeliveryResult は1ユーザーへの配信結果。
type DeliveryResult struct {
	Live      int // 配信時点のライブ接続数
	Delivered int // バッファへ積めた接続数
	Dropped   int // 送信に失敗し登録を解除した接続数
}

type entry struct {
	conn        Conn
	userID      string
	connectedAt time.Time
}

// Registry はユーザーIDとライブ接続の対応を保持する。
// 1ユーザーが複数の接続（複数デバイス）を持てる。
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[string]*entry
	byConn map[string]*entry

	logger     *slog.Logger
	observer   ConnectionObserver
	bufferSize int
}

// NewRegistry はRegistryを生成する。
// bufferSizeが0以下の場合はデフォルト値64を使用する。observerはnilでもよい。
func NewRegistry(logger *slog.Logger, observer ConnectionObserver, bufferSize int) *Registry {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byUser:     make(map[string]map[string]*entry),
		byConn:     make(map[string]*entry),
		logger:     logger,
		observer:   observer,
		bufferSize: bufferSize,
	}
}

// Register は接続をユーザーに紐付ける。
// 同じ接続の重複登録は何もしない。別ユーザーで登録済みの接続は付け替える。
func (r *Registry) Register(userID string, c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byConn[c.ID()]; ok {
		if existing.userID == userID {
			return
		}
		r.removeLocked(existing)
	}

	e := &entry{conn: c, userID: userID, connectedAt: time.Now()}
	conns, ok := r.byUser[userID]
	if !ok {
		conns = make(map[string]*entry)
		r.byUser[userID] = conns
	}
	conns[c.ID()] = e
	r.byConn[c.ID()] = e
	r.observeLocked()
}

// Unregister は接続の登録を解除する。未登録の接続に対しては何もしない。
// ユーザーの最後の接続が外れた時点でユーザーのエントリも削除する。
func (r *Registry) Unregister(c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byConn[c.ID()]
	if !ok {
		return
	}
	r.removeLocked(e)
	r.observeLocked()
}

func (r *Registry) removeLocked(e *entry) {
	delete(r.byConn, e.conn.ID())
	if conns, ok := r.byUser[e.userID]; ok {
		delete(conns, e.conn.ID())
		if len(conns) == 0 {
			delete(r.byUser, e.userID)
		}
	}
}

func (r *Registry) observeLocked() {
	if r.observer != nil {
		r.observer.SetLiveConnections(len(r.byConn))
	}
}

// ConnectionsFor はユーザーのライブ接続のスナップショットを返す。
// 返却後に切断される可能性があるため、呼び出し側は送信失敗を前提に扱うこと。
func (r *Registry) ConnectionsFor(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.byUser[userID]
	out := make([]Conn, 0, len(conns))
	for _, e := range conns {
		out = append(out, e.conn)
	}
	return out
}

// IsOnline はユーザーがライブ接続を1本以上持つかを返す。
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// ConnectionCount は全ユーザーのライブ接続数を返す。
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

// Deliver はユーザーの全ライブ接続へメッセージを送る。
// 送信に失敗した接続はエラーを呼び出し元へ返さず、登録を解除して閉じる。
// 送信はブロックしないため、遅い接続が他ユーザーへの配信を遅らせることはない。
func (r *Registry) Deliver(userID string, msg Message) DeliveryResult {
	conns := r.ConnectionsFor(userID)
	result := DeliveryResult{Live: len(conns)}

	for _, c := range conns {
		if err := c.Send(msg); err != nil {
			r.logger.Debug("切断済みのライブ接続を削除します",
				slog.String("user_id", userID),
				slog.String("conn_id", c.ID()),
				slog.String("error", err.Error()),
			)
			r.Unregister(c)
			c.Close()
			result.Dropped++
			continue
		}
		result.Delivered++
	}
	return result
}

// Subscribe はユーザーの新しい購読を生成して登録する。
// ctxがキャンセルされるかSubscription.Closeが呼ばれると登録は解除される。
func (r *Registry) Subscribe(ctx context.Context, userID string) *Subscription {
	sub := NewSubscription(userID, r.bufferSize, func(s *Subscription) {
		r.Unregister(s)
	})
	r.Register(userID, sub)

	stop := context.AfterFunc(ctx, sub.Close)
	go func() {
		<-sub.Done()
		stop()
	}()

	r.logger.Info("ライブ接続を開始しました",
		slog.String("user_id", userID),
		slog.String("conn_id", sub.ID()),
	)
	return sub
}
