// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/mentorlink/internal/model"
)

var (
	// ErrAlreadyVoted は同一(投票, 投票者)の投票が既に存在することを表す。
	ErrAlreadyVoted = errors.New("vote already exists")
	// ErrPollClosed は投票が受付状態でないか締め切り時刻を過ぎていることを表す。
	ErrPollClosed = errors.New("poll is not accepting votes")
	// ErrInvalidOption は存在しない選択肢への投票を表す。
	ErrInvalidOption = errors.New("option index out of range")
	// ErrNotEligible は投票者が投票開始時点の有権者に含まれないことを表す。
	ErrNotEligible = errors.New("voter is not eligible for this poll")
	// ErrStatusConflict は期待した状態と現在の状態が異なるため遷移できなかったことを表す。
	ErrStatusConflict = errors.New("poll status changed concurrently")
	// ErrPollExists は同じ開始時刻の投票が既に作成済みであることを表す。
	ErrPollExists = errors.New("poll for this cycle already exists")
)

// SessionRepository はセッションデータの参照インターフェース。
// セッションの発行・削除は認証コンポーネントが担う。
type SessionRepository interface {
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// NotificationRepository は通知レコードの永続化インターフェース。
// 全ての変更系クエリはuser_id条件を伴い、受信者以外のレコードには影響しない。
type NotificationRepository interface {
	// Create は通知を作成する。
	Create(ctx context.Context, n *model.Notification) error

	// FindByID は指定IDの通知を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Notification, error)

	// List はユーザーの通知をcreated_at降順でフィルタ・ページネーション付きで返す。
	List(ctx context.Context, userID string, filter model.NotificationFilter) (*model.NotificationPage, error)

	// CountUnread はユーザーの未読通知数を返す。
	CountUnread(ctx context.Context, userID string) (int, error)

	// SetRead は通知の既読状態を設定し、更新後のレコードを返す。
	// 通知が存在しないかuserIDの所有でない場合はnilを返す。
	SetRead(ctx context.Context, userID, id string, isRead bool) (*model.Notification, error)

	// MarkAllRead はユーザーの未読通知を単一の文で全て既読にし、更新件数を返す。
	MarkAllRead(ctx context.Context, userID string) (int, error)

	// Delete は通知を削除する。削除できた場合はtrueを返す。
	Delete(ctx context.Context, userID, id string) (bool, error)

	// DeleteRead はユーザーの既読通知を全て削除し、削除件数を返す。
	DeleteRead(ctx context.Context, userID string) (int, error)
}

// PollRepository は週次投票の永続化インターフェース。
type PollRepository interface {
	// Create は投票と選択肢を作成し、元になったテーマ提案を使用済みにする（単一トランザクション）。
	// 同じ開始時刻の投票が既に存在する場合はErrPollExistsを返す。
	Create(ctx context.Context, draft *model.PollDraft) (*model.Poll, error)

	// FindByID は指定IDの投票を選択肢付きで取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Poll, error)

	// FindByOpensAt は指定の開始時刻を持つ投票を取得する。見つからない場合はnilを返す。
	// 週次サイクルごとの重複作成を防ぐために使う。
	FindByOpensAt(ctx context.Context, opensAt time.Time) (*model.Poll, error)

	// FindCurrent は受付中の投票のうち最も新しいものを返す。見つからない場合はnilを返す。
	FindCurrent(ctx context.Context, now time.Time) (*model.Poll, error)

	// List は投票をopens_at降順で返す。
	List(ctx context.Context, limit int) ([]*model.Poll, error)

	// HasVoted は投票者が既に投票したかを返す。
	HasVoted(ctx context.Context, pollID, voterID string) (bool, error)

	// CastVote は投票を記録し、選択肢と投票の総数を同一トランザクションで加算する。
	// 投票が存在しない場合はnilとnilを返す。
	// 締め切り後はErrPollClosed、有権者以外はErrNotEligible、
	// 二重投票はErrAlreadyVoted、範囲外はErrInvalidOptionを返す。
	CastVote(ctx context.Context, pollID, voterID string, optionIndex int, now time.Time) (*model.Poll, error)

	// ListDueForClose は締め切り時刻を過ぎたopen状態の投票を返す。
	ListDueForClose(ctx context.Context, now time.Time) ([]*model.Poll, error)

	// MarkClosed は投票をopenからclosed_pending_tallyへ遷移させる。
	// 既に遷移済みの場合はErrStatusConflictを返す。
	MarkClosed(ctx context.Context, pollID string) error

	// ListPendingTally はclosed_pending_tally状態の投票を返す。
	ListPendingTally(ctx context.Context) ([]*model.Poll, error)

	// CountVotesByOption は投票テーブルから選択肢ごとの票数を数える。
	// 戻り値の長さは選択肢数と一致する。
	CountVotesByOption(ctx context.Context, pollID string, optionCount int) ([]int, error)

	// Announce は集計結果と勝者を保存してannouncedへ遷移させ、
	// 作成時に記録した有権者ごとの結果発表をキューに積む（単一トランザクション）。
	// 戻り値はキューに積んだ件数。
	// closed_pending_tally以外の状態の場合はErrStatusConflictを返す。
	Announce(ctx context.Context, pollID string, counts []int, winnerIndex int, now time.Time) (int, error)

	// ListPendingAnnouncements は未配信の結果発表を最大limit件返す。
	ListPendingAnnouncements(ctx context.Context, limit int) ([]*model.PendingAnnouncement, error)

	// MarkAnnouncementPublished は結果発表を配信済みにする。
	MarkAnnouncementPublished(ctx context.Context, pollID, userID string, now time.Time) error
}

// EligibleVoterSource は投票資格を持つユーザーの参照インターフェース。
type EligibleVoterSource interface {
	// ListEligibleVoterIDs は投票資格を持つ全ユーザーのIDを返す。
	ListEligibleVoterIDs(ctx context.Context) ([]string, error)
}

// SubjectSource は投票の選択肢となるテーマ提案の参照インターフェース。
type SubjectSource interface {
	// ListPendingProposals は未使用のテーマ提案を提出順に最大limit件返す。
	ListPendingProposals(ctx context.Context, limit int) ([]*model.SubjectProposal, error)
}
