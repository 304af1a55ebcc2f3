// Package unread はユーザーごとの未読通知数のキャッシュと再計算を提供する。
//
// 未読数の正は常に通知ストアであり、キャッシュはその従属コピーにすぎない。
// 既読状態を変更する全ての経路（REST・ライブ接続・通知作成）はMutateまたはOnMutationを通す。
package unread

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Counter は未読数をストアから数えるインターフェース。
// repository.NotificationRepositoryの部分集合として定義する。
type Counter interface {
	CountUnread(ctx context.Context, userID string) (int, error)
}

// Recorder は再計算の結果を記録するインターフェース。metrics.Collectorが実装する。
type Recorder interface {
	RecordUnreadRecompute(ok bool)
}

// DefaultMaxEntries はキャッシュを保持するユーザー数の既定の上限。
const DefaultMaxEntries = 10000

type cacheEntry struct {
	mu    sync.Mutex
	count int
	valid bool

	refs int // Reconciler.muで保護する
}

// Reconciler はユーザーごとの未読数キャッシュを管理する。
// ユーザー単位のロックで変更と再計算を直列化するため、
// 並行する読み手がストアと食い違うキャッシュ値を観測することはない。
//
// 誰も参照していないエントリは、無効化済みか上限を超えている場合に削除する。
// 削除されたユーザーは次のGetでストアから再計算される。
type Reconciler struct {
	counter  Counter
	recorder Recorder
	logger   *slog.Logger

	// MaxEntries はキャッシュを保持するユーザー数の上限。0以下は上限なし。
	MaxEntries int

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

// NewReconciler はReconcilerを生成する。recorderはnilでもよい。
func NewReconciler(counter Counter, recorder Recorder, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		counter:    counter,
		recorder:   recorder,
		logger:     logger,
		MaxEntries: DefaultMaxEntries,
		entries:    make(map[string]*cacheEntry),
	}
}

// acquire はユーザーのエントリをロックして返す。呼び出し側は必ずreleaseを呼ぶ。
func (r *Reconciler) acquire(userID string) (e *cacheEntry, release func()) {
	r.mu.Lock()
	e, ok := r.entries[userID]
	if !ok {
		e = &cacheEntry{}
		r.entries[userID] = e
	}
	e.refs++
	r.mu.Unlock()

	e.mu.Lock()
	return e, func() {
		e.mu.Unlock()

		r.mu.Lock()
		e.refs--
		// refsが0なら他に保持者はいないため、e.muなしでvalidを読める
		if e.refs == 0 && (!e.valid || (r.MaxEntries > 0 && len(r.entries) > r.MaxEntries)) {
			delete(r.entries, userID)
		}
		r.mu.Unlock()
	}
}

// Len はキャッシュ中のユーザー数を返す。
func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Get は現在の未読数を返す。無効化後の最初の呼び出しではストアから再計算する。
func (r *Reconciler) Get(ctx context.Context, userID string) (int, error) {
	e, release := r.acquire(userID)
	defer release()

	if e.valid {
		return e.count, nil
	}
	if err := r.recomputeLocked(ctx, userID, e); err != nil {
		return 0, err
	}
	return e.count, nil
}

// OnMutation はユーザーの未読数をストアから再計算してキャッシュする。
// 再計算に失敗した場合はキャッシュを無効化したままエラーを返す（次のGetで再計算される）。
func (r *Reconciler) OnMutation(ctx context.Context, userID string) error {
	e, release := r.acquire(userID)
	defer release()

	return r.recomputeLocked(ctx, userID, e)
}

// Mutate はユーザーのロックを保持したままmutateを実行し、続けて未読数を再計算する。
// mutateが成功し再計算だけが失敗した場合は、キャッシュを無効化して成功として扱う。
// 変更は永続化済みであり、次のGetがストアから正しい値を得るため。
func (r *Reconciler) Mutate(ctx context.Context, userID string, mutate func(ctx context.Context) error) error {
	e, release := r.acquire(userID)
	defer release()

	if err := mutate(ctx); err != nil {
		// 部分的に反映された可能性があるため、キャッシュは信用しない
		e.valid = false
		return err
	}

	if err := r.recomputeLocked(ctx, userID, e); err != nil {
		r.logger.Warn("変更後の未読数の再計算に失敗したためキャッシュを無効化しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// Invalidate はキャッシュを無効化する。次のGetでストアから再計算される。
func (r *Reconciler) Invalidate(userID string) {
	e, release := r.acquire(userID)
	e.valid = false
	release()
}

func (r *Reconciler) recomputeLocked(ctx context.Context, userID string, e *cacheEntry) error {
	count, err := r.counter.CountUnread(ctx, userID)
	if err != nil {
		e.valid = false
		r.record(false)
		return fmt.Errorf("未読数の再計算に失敗しました: %w", err)
	}
	e.count = count
	e.valid = true
	r.record(true)
	return nil
}

func (r *Reconciler) record(ok bool) {
	if r.recorder != nil {
		r.recorder.RecordUnreadRecompute(ok)
	}
}
