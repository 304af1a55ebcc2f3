package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/mentorlink/internal/event"
	"github.com/hitoshi/mentorlink/internal/metrics"
	"github.com/hitoshi/mentorlink/internal/model"
	"github.com/hitoshi/mentorlink/internal/notification"
	"github.com/hitoshi/mentorlink/internal/repository"
)

const (
	// DefaultListLimit は投票一覧のデフォルト件数。
	DefaultListLimit = 20
	// MaxListLimit は投票一覧の最大件数。
	MaxListLimit = 50
)

// Publisher は結果発表の配信インターフェース。notification.Routerが実装する。
type Publisher interface {
	Publish(ctx context.Context, recipient string, e event.Event) (*notification.DeliveryOutcome, error)
}

// Recorder は投票とライフサイクルのメトリクスを記録するインターフェース。
type Recorder interface {
	RecordVote(result string)
	RecordPollTransition(status string)
	RecordAnnouncementsPublished(count int)
	RecordTickDuration(duration time.Duration)
}

// Config はManagerの設定。
type Config struct {
	Schedule      Schedule
	MaxOptions    int // 1投票あたりの選択肢の上限
	AnnounceBatch int // 1回の読み出しで配信する結果発表の件数
}

// View は投票と、閲覧者が投票済みかどうかを表す。
type View struct {
	Poll     *model.Poll
	HasVoted bool
}

// Manager は週次投票の作成・締め切り・集計・結果発表を管理する。
type Manager struct {
	polls     repository.PollRepository
	voters    repository.EligibleVoterSource
	subjects  repository.SubjectSource
	publisher Publisher
	recorder  Recorder
	logger    *slog.Logger
	cfg       Config
	now       func() time.Time

	running atomic.Bool
}

// NewManager はManagerを生成する。recorderはnilでもよい。
func NewManager(
	polls repository.PollRepository,
	voters repository.EligibleVoterSource,
	subjects repository.SubjectSource,
	publisher Publisher,
	recorder Recorder,
	cfg Config,
	logger *slog.Logger,
) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxOptions < 2 {
		cfg.MaxOptions = 5
	}
	if cfg.AnnounceBatch <= 0 {
		cfg.AnnounceBatch = 500
	}
	return &Manager{
		polls:     polls,
		voters:    voters,
		subjects:  subjects,
		publisher: publisher,
		recorder:  recorder,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Start は指定間隔でTickを実行する。コンテキストがキャンセルされるまで実行を継続する。
func (m *Manager) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("投票マネージャーを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行し、停止中に積み残した遷移と結果発表を回復する
	m.runTick(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("投票マネージャーを停止しました")
			return
		case <-ticker.C:
			m.runTick(ctx)
		}
	}
}

func (m *Manager) runTick(ctx context.Context) {
	if _, err := m.Tick(ctx); err != nil {
		m.logger.Error("投票サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// Tick は投票の作成・締め切り・集計・結果発表を1回ずつ実行する。
// 前回のTickが実行中の場合は何もせずfalseを返す。
// 各段階は独立しており、ある段階の失敗は後続の段階を止めない。
func (m *Manager) Tick(ctx context.Context) (bool, error) {
	if !m.running.CompareAndSwap(false, true) {
		m.logger.Warn("前回の投票サイクルが実行中のためスキップします")
		return false, nil
	}
	defer m.running.Store(false)

	start := time.Now()
	now := m.now()

	err := errors.Join(
		m.openCycle(ctx, now),
		m.closeDue(ctx, now),
		m.tallyPending(ctx, now),
		m.drainAnnouncements(ctx),
	)

	if m.recorder != nil {
		m.recorder.RecordTickDuration(time.Since(start))
	}
	return true, err
}

// openCycle は現在のサイクルの投票が未作成であれば作成する。
func (m *Manager) openCycle(ctx context.Context, now time.Time) error {
	s := m.cfg.Schedule
	opensAt := s.CycleStart(now)
	closesAt := s.ClosesAt(opensAt)
	if !now.Before(closesAt) {
		// 投票期間を過ぎたサイクルは作成しない
		return nil
	}

	existing, err := m.polls.FindByOpensAt(ctx, opensAt)
	if err != nil {
		return fmt.Errorf("今サイクルの投票の取得に失敗しました: %w", err)
	}
	if existing != nil {
		return nil
	}

	proposals, err := m.subjects.ListPendingProposals(ctx, m.cfg.MaxOptions)
	if err != nil {
		return fmt.Errorf("テーマ提案の取得に失敗しました: %w", err)
	}
	if len(proposals) < 2 {
		m.logger.Warn("テーマ提案が2件未満のため今サイクルの投票を作成しません",
			slog.Time("opens_at", opensAt),
			slog.Int("proposals", len(proposals)),
		)
		return nil
	}

	voters, err := m.voters.ListEligibleVoterIDs(ctx)
	if err != nil {
		return fmt.Errorf("投票資格者の取得に失敗しました: %w", err)
	}

	draft := &model.PollDraft{
		Title:       fmt.Sprintf("%s 勉強会テーマ投票", opensAt.Format("2006-01-02")),
		Description: "次回の勉強会で扱うテーマを1つ選んでください。",
		OpensAt:     opensAt,
		ClosesAt:    closesAt,
		VoterIDs:    voters,
	}
	for i, p := range proposals {
		draft.Options = append(draft.Options, model.SubjectOption{
			Position:   i,
			Name:       p.Name,
			Code:       p.Code,
			ProposedAt: p.ProposedAt,
			Presenter:  p.Presenter,
		})
		draft.ProposalIDs = append(draft.ProposalIDs, p.ID)
	}

	created, err := m.polls.Create(ctx, draft)
	if errors.Is(err, repository.ErrPollExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("投票の作成に失敗しました: %w", err)
	}

	m.recordTransition(model.PollStatusOpen)
	m.logger.Info("週次投票を作成しました",
		slog.String("poll_id", created.ID),
		slog.Time("opens_at", created.OpensAt),
		slog.Time("closes_at", created.ClosesAt),
		slog.Int("options", len(created.Options)),
		slog.Int("eligible_voters", created.EligibleVoters),
	)
	return nil
}

// closeDue は締め切りを過ぎた投票をclosed_pending_tallyへ遷移させる。
func (m *Manager) closeDue(ctx context.Context, now time.Time) error {
	due, err := m.polls.ListDueForClose(ctx, now)
	if err != nil {
		return fmt.Errorf("締め切り対象の投票の取得に失敗しました: %w", err)
	}

	var errs []error
	for _, p := range due {
		err := m.polls.MarkClosed(ctx, p.ID)
		if errors.Is(err, repository.ErrStatusConflict) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("投票 %s の締め切りに失敗しました: %w", p.ID, err))
			continue
		}
		m.recordTransition(model.PollStatusClosedPendingTally)
		m.logger.Info("投票を締め切りました",
			slog.String("poll_id", p.ID),
			slog.Int("total_votes", p.TotalVotes),
		)
	}
	return errors.Join(errs...)
}

// tallyPending は集計待ちの投票を集計し、結果発表をキューに積む。
// 失敗した投票はclosed_pending_tallyのまま残り、次のTickで再試行される。
func (m *Manager) tallyPending(ctx context.Context, now time.Time) error {
	pending, err := m.polls.ListPendingTally(ctx)
	if err != nil {
		return fmt.Errorf("集計待ちの投票の取得に失敗しました: %w", err)
	}

	var errs []error
	for _, p := range pending {
		if err := m.tally(ctx, p, now); err != nil {
			m.logger.Warn("投票の集計に失敗しました。次のサイクルで再試行します",
				slog.String("poll_id", p.ID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) tally(ctx context.Context, p *model.Poll, now time.Time) error {
	counts, err := m.polls.CountVotesByOption(ctx, p.ID, len(p.Options))
	if err != nil {
		return fmt.Errorf("投票 %s の集計に失敗しました: %w", p.ID, err)
	}
	winner := SelectWinner(counts)
	if winner < 0 {
		return fmt.Errorf("投票 %s に選択肢がありません", p.ID)
	}

	// 宛先は投票開始時点の有権者。集計時点の一覧は使わない
	recipients, err := m.polls.Announce(ctx, p.ID, counts, winner, now)
	if errors.Is(err, repository.ErrStatusConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("投票 %s の結果の保存に失敗しました: %w", p.ID, err)
	}

	m.recordTransition(model.PollStatusAnnounced)
	m.logger.Info("投票を集計しました",
		slog.String("poll_id", p.ID),
		slog.Int("winner_index", winner),
		slog.Int("winner_votes", counts[winner]),
		slog.Int("recipients", recipients),
	)
	return nil
}

// drainAnnouncements は未配信の結果発表を配信し、配信済みとして記録する。
// 配信後に記録できなかった分は次のTickで再配信される（受信側は通知IDで重複を除去する）。
func (m *Manager) drainAnnouncements(ctx context.Context) error {
	total := 0
	defer func() {
		if total > 0 {
			if m.recorder != nil {
				m.recorder.RecordAnnouncementsPublished(total)
			}
			m.logger.Info("結果発表を配信しました", slog.Int("count", total))
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		pending, err := m.polls.ListPendingAnnouncements(ctx, m.cfg.AnnounceBatch)
		if err != nil {
			return fmt.Errorf("未配信の結果発表の取得に失敗しました: %w", err)
		}
		for _, a := range pending {
			if _, err := m.publisher.Publish(ctx, a.UserID, announcementEvent(a)); err != nil {
				return fmt.Errorf("結果発表の配信に失敗しました (poll_id=%s, user_id=%s): %w", a.PollID, a.UserID, err)
			}
			if err := m.polls.MarkAnnouncementPublished(ctx, a.PollID, a.UserID, m.now()); err != nil {
				return fmt.Errorf("結果発表の配信記録に失敗しました (poll_id=%s, user_id=%s): %w", a.PollID, a.UserID, err)
			}
			total++
		}
		if len(pending) < m.cfg.AnnounceBatch {
			return nil
		}
	}
}

func announcementEvent(a *model.PendingAnnouncement) event.PollResultAnnouncement {
	return event.PollResultAnnouncement{
		PollID:      a.PollID,
		PollTitle:   a.PollTitle,
		WinnerName:  a.WinnerName,
		WinnerCode:  a.WinnerCode,
		ProposedAt:  a.ProposedAt,
		Presenter:   a.Presenter,
		WinnerVotes: a.WinnerVotes,
		TotalVotes:  a.TotalVotes,
	}
}

// CastVote は投票を受け付け、更新後の投票を返す。
// 締め切り時刻を過ぎた投票は状態遷移の実行前でもPOLL_CLOSEDとする。
func (m *Manager) CastVote(ctx context.Context, pollID, voterID string, optionIndex int) (*model.Poll, error) {
	if voterID == "" {
		return nil, model.NewUnauthorizedError()
	}

	p, err := m.find(ctx, pollID)
	if err != nil {
		m.recordVote(metrics.VoteError)
		return nil, err
	}
	now := m.now()
	if !p.AcceptsVotesAt(now) {
		m.recordVote(metrics.VoteClosed)
		return nil, model.NewPollClosedError(pollID)
	}
	if optionIndex < 0 || optionIndex >= len(p.Options) {
		m.recordVote(metrics.VoteInvalid)
		return nil, model.NewInvalidOptionError(optionIndex)
	}

	updated, err := m.polls.CastVote(ctx, pollID, voterID, optionIndex, now)
	switch {
	case errors.Is(err, repository.ErrAlreadyVoted):
		m.recordVote(metrics.VoteAlreadyVoted)
		return nil, model.NewAlreadyVotedError(pollID)
	case errors.Is(err, repository.ErrPollClosed):
		m.recordVote(metrics.VoteClosed)
		return nil, model.NewPollClosedError(pollID)
	case errors.Is(err, repository.ErrInvalidOption):
		m.recordVote(metrics.VoteInvalid)
		return nil, model.NewInvalidOptionError(optionIndex)
	case errors.Is(err, repository.ErrNotEligible):
		m.recordVote(metrics.VoteInvalid)
		return nil, model.NewNotEligibleVoterError(pollID)
	case err != nil:
		m.recordVote(metrics.VoteError)
		m.logger.Error("投票の保存に失敗しました",
			slog.String("poll_id", pollID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewTransientStoreError(err)
	case updated == nil:
		m.recordVote(metrics.VoteError)
		return nil, model.NewPollNotFoundError(pollID)
	}

	m.recordVote(metrics.VoteAccepted)
	return updated, nil
}

// List は投票を新しい順に返す。
func (m *Manager) List(ctx context.Context, limit int) ([]*model.Poll, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	polls, err := m.polls.List(ctx, limit)
	if err != nil {
		return nil, model.NewTransientStoreError(err)
	}
	return polls, nil
}

// Current は受付中の最新の投票を返す。存在しない場合はPOLL_NOT_FOUNDを返す。
func (m *Manager) Current(ctx context.Context, voterID string) (*View, error) {
	p, err := m.polls.FindCurrent(ctx, m.now())
	if err != nil {
		return nil, model.NewTransientStoreError(err)
	}
	if p == nil {
		return nil, model.NewPollNotFoundError("current")
	}
	return m.view(ctx, p, voterID)
}

// Get は投票の現在の集計・状態・勝者を返す。
func (m *Manager) Get(ctx context.Context, pollID, voterID string) (*View, error) {
	p, err := m.find(ctx, pollID)
	if err != nil {
		return nil, err
	}
	return m.view(ctx, p, voterID)
}

func (m *Manager) view(ctx context.Context, p *model.Poll, voterID string) (*View, error) {
	v := &View{Poll: p}
	if voterID == "" {
		return v, nil
	}
	voted, err := m.polls.HasVoted(ctx, p.ID, voterID)
	if err != nil {
		return nil, model.NewTransientStoreError(err)
	}
	v.HasVoted = voted
	return v, nil
}

func (m *Manager) find(ctx context.Context, pollID string) (*model.Poll, error) {
	if _, err := uuid.Parse(pollID); err != nil {
		return nil, model.NewPollNotFoundError(pollID)
	}
	p, err := m.polls.FindByID(ctx, pollID)
	if err != nil {
		return nil, model.NewTransientStoreError(err)
	}
	if p == nil {
		return nil, model.NewPollNotFoundError(pollID)
	}
	return p, nil
}

func (m *Manager) recordVote(result string) {
	if m.recorder != nil {
		m.recorder.RecordVote(result)
	}
}

func (m *Manager) recordTransition(status model.PollStatus) {
	if m.recorder != nil {
		m.recorder.RecordPollTransition(string(status))
	}
}
