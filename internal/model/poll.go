package model

import "time"

// PollStatus は週次投票のライフサイクル状態を表す。
// open → closed_pending_tally → announced の一方向にのみ遷移する。
type PollStatus string

const (
	// PollStatusOpen は投票受付中を表す。
	PollStatusOpen PollStatus = "open"
	// PollStatusClosedPendingTally は締め切り後、集計待ちを表す。
	PollStatusClosedPendingTally PollStatus = "closed_pending_tally"
	// PollStatusAnnounced は集計済みで結果発表がキューに積まれたことを表す。
	PollStatusAnnounced PollStatus = "announced"
)

// SubjectOption は投票の選択肢（勉強会のテーマ候補）を表す。
type SubjectOption struct {
	Position   int // 表示順。同数時はこの順で先のものが勝つ
	Name       string
	Code       string
	ProposedAt time.Time // 開催予定日時
	Presenter  string
	Votes      int
}

// Poll は週次のテーマ投票を表す。
type Poll struct {
	ID             string
	Title          string
	Description    string
	Options        []SubjectOption
	OpensAt        time.Time
	ClosesAt       time.Time
	Status         PollStatus
	WinnerIndex    *int
	EligibleVoters int
	TotalVotes     int
	AnnouncedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AcceptsVotesAt は指定時刻に投票を受け付けられるかを返す。
// 状態遷移が未実行でも締め切り時刻を過ぎていれば受け付けない。
func (p *Poll) AcceptsVotesAt(now time.Time) bool {
	return p.Status == PollStatusOpen && now.Before(p.ClosesAt)
}

// ParticipationRate は投票率（総投票数 / 有資格者数）を返す。
// 保存せず常に現在の集計値から算出する表示用の値。
func (p *Poll) ParticipationRate() float64 {
	if p.EligibleVoters <= 0 {
		return 0
	}
	return float64(p.TotalVotes) / float64(p.EligibleVoters)
}

// Winner は発表済みの勝者の選択肢を返す。未発表の場合はnilを返す。
func (p *Poll) Winner() *SubjectOption {
	if p.WinnerIndex == nil {
		return nil
	}
	i := *p.WinnerIndex
	if i < 0 || i >= len(p.Options) {
		return nil
	}
	return &p.Options[i]
}

// Vote は(投票ID, 投票者, 選択肢)の組を表す。作成後は変更されない。
type Vote struct {
	PollID      string
	VoterID     string
	OptionIndex int
	CreatedAt   time.Time
}

// PollDraft は週次サイクル開始時に作成する投票の内容を表す。
type PollDraft struct {
	Title       string
	Description string
	Options     []SubjectOption
	OpensAt     time.Time
	ClosesAt    time.Time
	VoterIDs    []string // 開始時点の有権者。投票資格と結果発表の宛先はこの集合に固定される
	ProposalIDs []string // 選択肢の元になったテーマ提案。作成と同時に使用済みにする
}

// SubjectProposal はメンターから提出されたテーマ提案を表す。
type SubjectProposal struct {
	ID         string
	Name       string
	Code       string
	ProposedAt time.Time
	Presenter  string
	CreatedAt  time.Time
}

// PendingAnnouncement は未配信の結果発表（受信者1人分）を表す。
type PendingAnnouncement struct {
	PollID      string
	UserID      string
	PollTitle   string
	WinnerName  string
	WinnerCode  string
	ProposedAt  time.Time
	Presenter   string
	TotalVotes  int
	WinnerVotes int
}
