package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/mentorlink/internal/model"
	"github.com/lib/pq"
)

const pollColumns = `id, title, description, opens_at, closes_at, status, winner_index,
	eligible_voters, total_votes, announced_at, created_at, updated_at`

// pqUniqueViolation はPostgreSQLの一意制約違反のエラーコード。
const pqUniqueViolation = "23505"

// PostgresPollRepo はPostgreSQLを使用した週次投票リポジトリ。
type PostgresPollRepo struct {
	db *sql.DB
}

// NewPostgresPollRepo はPostgresPollRepoを生成する。
func NewPostgresPollRepo(db *sql.DB) *PostgresPollRepo {
	return &PostgresPollRepo{db: db}
}

// Create は投票と選択肢を作成し、有権者を記録して、元になったテーマ提案を使用済みにする。
func (r *PostgresPollRepo) Create(ctx context.Context, draft *model.PollDraft) (*model.Poll, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	pollID := uuid.New().String()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO polls (id, title, description, opens_at, closes_at, status, eligible_voters)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		pollID, draft.Title, draft.Description, draft.OpensAt, draft.ClosesAt,
		string(model.PollStatusOpen), len(draft.VoterIDs),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrPollExists
		}
		return nil, fmt.Errorf("投票の作成に失敗しました: %w", err)
	}

	for i, opt := range draft.Options {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO poll_options (poll_id, position, name, code, proposed_at, presenter)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			pollID, i, opt.Name, opt.Code, opt.ProposedAt, opt.Presenter,
		)
		if err != nil {
			return nil, fmt.Errorf("選択肢の作成に失敗しました: %w", err)
		}
	}

	if len(draft.VoterIDs) > 0 {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO poll_eligible_voters (poll_id, user_id)
			 SELECT $1, u FROM unnest($2::uuid[]) AS u
			 ON CONFLICT DO NOTHING`,
			pollID, pq.Array(draft.VoterIDs),
		)
		if err != nil {
			return nil, fmt.Errorf("有権者の記録に失敗しました: %w", err)
		}
	}

	if len(draft.ProposalIDs) > 0 {
		_, err = tx.ExecContext(ctx,
			`UPDATE subject_proposals SET poll_id = $1
			 WHERE id = ANY($2::uuid[]) AND poll_id IS NULL`,
			pollID, pq.Array(draft.ProposalIDs),
		)
		if err != nil {
			return nil, fmt.Errorf("テーマ提案の更新に失敗しました: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return r.FindByID(ctx, pollID)
}

// FindByID は指定IDの投票を選択肢付きで取得する。見つからない場合はnilを返す。
func (r *PostgresPollRepo) FindByID(ctx context.Context, id string) (*model.Poll, error) {
	return r.findOne(ctx, `SELECT `+pollColumns+` FROM polls WHERE id = $1`, id)
}

// FindByOpensAt は指定の開始時刻を持つ投票を取得する。見つからない場合はnilを返す。
func (r *PostgresPollRepo) FindByOpensAt(ctx context.Context, opensAt time.Time) (*model.Poll, error) {
	return r.findOne(ctx, `SELECT `+pollColumns+` FROM polls WHERE opens_at = $1`, opensAt)
}

// FindCurrent は受付中の投票のうち最も新しいものを返す。見つからない場合はnilを返す。
func (r *PostgresPollRepo) FindCurrent(ctx context.Context, now time.Time) (*model.Poll, error) {
	return r.findOne(ctx,
		`SELECT `+pollColumns+` FROM polls
		 WHERE status = $1 AND opens_at <= $2 AND closes_at > $2
		 ORDER BY opens_at DESC LIMIT 1`,
		string(model.PollStatusOpen), now,
	)
}

// List は投票をopens_at降順で返す。
func (r *PostgresPollRepo) List(ctx context.Context, limit int) ([]*model.Poll, error) {
	return r.queryPolls(ctx,
		`SELECT `+pollColumns+` FROM polls ORDER BY opens_at DESC LIMIT $1`,
		limit,
	)
}

// HasVoted は投票者が既に投票したかを返す。
func (r *PostgresPollRepo) HasVoted(ctx context.Context, pollID, voterID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM votes WHERE poll_id = $1 AND voter_id = $2)`,
		pollID, voterID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("投票済み確認に失敗しました: %w", err)
	}
	return exists, nil
}

// CastVote は投票を記録し、選択肢と投票の総数を同一トランザクションで加算する。
// 投票行をFOR UPDATEでロックするため、締め切り遷移と投票は直列化される。
func (r *PostgresPollRepo) CastVote(
	ctx context.Context,
	pollID, voterID string,
	optionIndex int,
	now time.Time,
) (*model.Poll, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var status string
	var closesAt time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT status, closes_at FROM polls WHERE id = $1 FOR UPDATE`,
		pollID,
	).Scan(&status, &closesAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("投票のロック取得に失敗しました: %w", err)
	}

	if model.PollStatus(status) != model.PollStatusOpen || !now.Before(closesAt) {
		return nil, ErrPollClosed
	}

	var eligible bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM poll_eligible_voters WHERE poll_id = $1 AND user_id = $2)`,
		pollID, voterID,
	).Scan(&eligible); err != nil {
		return nil, fmt.Errorf("投票資格の確認に失敗しました: %w", err)
	}
	if !eligible {
		return nil, ErrNotEligible
	}

	var optionCount int
	if err := tx.QueryRowContext(ctx,
		`SELECT count(*) FROM poll_options WHERE poll_id = $1`,
		pollID,
	).Scan(&optionCount); err != nil {
		return nil, fmt.Errorf("選択肢数の取得に失敗しました: %w", err)
	}
	if optionIndex < 0 || optionIndex >= optionCount {
		return nil, ErrInvalidOption
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO votes (poll_id, voter_id, option_index, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (poll_id, voter_id) DO NOTHING`,
		pollID, voterID, optionIndex, now,
	)
	if err != nil {
		return nil, fmt.Errorf("投票の記録に失敗しました: %w", err)
	}
	inserted, err := rowsAffected(result)
	if err != nil {
		return nil, err
	}
	if inserted == 0 {
		return nil, ErrAlreadyVoted
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE poll_options SET votes = votes + 1 WHERE poll_id = $1 AND position = $2`,
		pollID, optionIndex,
	); err != nil {
		return nil, fmt.Errorf("選択肢の票数更新に失敗しました: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE polls SET total_votes = total_votes + 1, updated_at = $2 WHERE id = $1`,
		pollID, now,
	); err != nil {
		return nil, fmt.Errorf("総投票数の更新に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return r.FindByID(ctx, pollID)
}

// ListDueForClose は締め切り時刻を過ぎたopen状態の投票を返す。
func (r *PostgresPollRepo) ListDueForClose(ctx context.Context, now time.Time) ([]*model.Poll, error) {
	return r.queryPolls(ctx,
		`SELECT `+pollColumns+` FROM polls
		 WHERE status = $1 AND closes_at <= $2
		 ORDER BY closes_at`,
		string(model.PollStatusOpen), now,
	)
}

// MarkClosed は投票をopenからclosed_pending_tallyへ遷移させる。
func (r *PostgresPollRepo) MarkClosed(ctx context.Context, pollID string) error {
	return r.transition(ctx,
		`UPDATE polls SET status = $2, updated_at = now()
		 WHERE id = $1 AND status = $3`,
		pollID, string(model.PollStatusClosedPendingTally), string(model.PollStatusOpen),
	)
}

// ListPendingTally はclosed_pending_tally状態の投票を返す。
func (r *PostgresPollRepo) ListPendingTally(ctx context.Context) ([]*model.Poll, error) {
	return r.queryPolls(ctx,
		`SELECT `+pollColumns+` FROM polls WHERE status = $1 ORDER BY closes_at`,
		string(model.PollStatusClosedPendingTally),
	)
}

// CountVotesByOption は投票テーブルから選択肢ごとの票数を数える。
// 加算済みのカウンタではなく投票行そのものを正とする。
func (r *PostgresPollRepo) CountVotesByOption(ctx context.Context, pollID string, optionCount int) ([]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT option_index, count(*) FROM votes WHERE poll_id = $1 GROUP BY option_index`,
		pollID,
	)
	if err != nil {
		return nil, fmt.Errorf("票数の集計に失敗しました: %w", err)
	}
	defer rows.Close()

	counts := make([]int, optionCount)
	for rows.Next() {
		var index, count int
		if err := rows.Scan(&index, &count); err != nil {
			return nil, fmt.Errorf("集計行の読み取りに失敗しました: %w", err)
		}
		if index >= 0 && index < optionCount {
			counts[index] = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("集計結果の走査に失敗しました: %w", err)
	}
	return counts, nil
}

// Announce は集計結果と勝者を保存してannouncedへ遷移させ、作成時の有権者ごとの結果発表をキューに積む。
// 作成後に有権者となったユーザーには発表しない。
func (r *PostgresPollRepo) Announce(
	ctx context.Context,
	pollID string,
	counts []int,
	winnerIndex int,
	now time.Time,
) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	total := 0
	for _, c := range counts {
		total += c
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE polls
		 SET status = $2, winner_index = $3, total_votes = $4, announced_at = $5, updated_at = $5
		 WHERE id = $1 AND status = $6`,
		pollID, string(model.PollStatusAnnounced), winnerIndex, total, now,
		string(model.PollStatusClosedPendingTally),
	)
	if err != nil {
		return 0, fmt.Errorf("投票結果の保存に失敗しました: %w", err)
	}
	n, err := rowsAffected(result)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrStatusConflict
	}

	for i, c := range counts {
		if _, err := tx.ExecContext(ctx,
			`UPDATE poll_options SET votes = $3 WHERE poll_id = $1 AND position = $2`,
			pollID, i, c,
		); err != nil {
			return 0, fmt.Errorf("選択肢の票数保存に失敗しました: %w", err)
		}
	}

	result, err = tx.ExecContext(ctx,
		`INSERT INTO poll_announcements (poll_id, user_id, created_at)
		 SELECT poll_id, user_id, $2 FROM poll_eligible_voters WHERE poll_id = $1
		 ON CONFLICT (poll_id, user_id) DO NOTHING`,
		pollID, now,
	)
	if err != nil {
		return 0, fmt.Errorf("結果発表のキュー登録に失敗しました: %w", err)
	}
	queued, err := rowsAffected(result)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return queued, nil
}

// ListPendingAnnouncements は未配信の結果発表を古い順に最大limit件返す。
func (r *PostgresPollRepo) ListPendingAnnouncements(ctx context.Context, limit int) ([]*model.PendingAnnouncement, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT a.poll_id, a.user_id, p.title, o.name, o.code, o.proposed_at, o.presenter,
		        p.total_votes, o.votes
		 FROM poll_announcements a
		 JOIN polls p ON p.id = a.poll_id
		 JOIN poll_options o ON o.poll_id = p.id AND o.position = p.winner_index
		 WHERE a.published_at IS NULL
		 ORDER BY a.created_at, a.poll_id, a.user_id
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("未配信の結果発表の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	pending := []*model.PendingAnnouncement{}
	for rows.Next() {
		a := &model.PendingAnnouncement{}
		if err := rows.Scan(
			&a.PollID, &a.UserID, &a.PollTitle, &a.WinnerName, &a.WinnerCode,
			&a.ProposedAt, &a.Presenter, &a.TotalVotes, &a.WinnerVotes,
		); err != nil {
			return nil, fmt.Errorf("結果発表行の読み取りに失敗しました: %w", err)
		}
		pending = append(pending, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("結果発表の走査に失敗しました: %w", err)
	}
	return pending, nil
}

// MarkAnnouncementPublished は結果発表を配信済みにする。既に配信済みの場合は何もしない。
func (r *PostgresPollRepo) MarkAnnouncementPublished(ctx context.Context, pollID, userID string, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE poll_announcements SET published_at = $3
		 WHERE poll_id = $1 AND user_id = $2 AND published_at IS NULL`,
		pollID, userID, now,
	)
	if err != nil {
		return fmt.Errorf("結果発表の配信済み更新に失敗しました: %w", err)
	}
	return nil
}

func (r *PostgresPollRepo) transition(ctx context.Context, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("投票の状態遷移に失敗しました: %w", err)
	}
	n, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (r *PostgresPollRepo) findOne(ctx context.Context, query string, args ...interface{}) (*model.Poll, error) {
	polls, err := r.queryPolls(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(polls) == 0 {
		return nil, nil
	}
	return polls[0], nil
}

// queryPolls は投票行を取得し、選択肢をまとめて読み込んで付与する。
func (r *PostgresPollRepo) queryPolls(ctx context.Context, query string, args ...interface{}) ([]*model.Poll, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("投票の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	polls := []*model.Poll{}
	byID := make(map[string]*model.Poll)
	ids := []string{}
	for rows.Next() {
		p, err := scanPoll(rows)
		if err != nil {
			return nil, fmt.Errorf("投票行の読み取りに失敗しました: %w", err)
		}
		polls = append(polls, p)
		byID[p.ID] = p
		ids = append(ids, p.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("投票の走査に失敗しました: %w", err)
	}
	if len(ids) == 0 {
		return polls, nil
	}

	optRows, err := r.db.QueryContext(ctx,
		`SELECT poll_id, position, name, code, proposed_at, presenter, votes
		 FROM poll_options
		 WHERE poll_id = ANY($1::uuid[])
		 ORDER BY poll_id, position`,
		pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("選択肢の取得に失敗しました: %w", err)
	}
	defer optRows.Close()

	for optRows.Next() {
		var pollID string
		var opt model.SubjectOption
		if err := optRows.Scan(
			&pollID, &opt.Position, &opt.Name, &opt.Code, &opt.ProposedAt, &opt.Presenter, &opt.Votes,
		); err != nil {
			return nil, fmt.Errorf("選択肢行の読み取りに失敗しました: %w", err)
		}
		if p, ok := byID[pollID]; ok {
			p.Options = append(p.Options, opt)
		}
	}
	if err := optRows.Err(); err != nil {
		return nil, fmt.Errorf("選択肢の走査に失敗しました: %w", err)
	}

	return polls, nil
}

func scanPoll(s rowScanner) (*model.Poll, error) {
	p := &model.Poll{}
	var status string
	var winnerIndex sql.NullInt64
	var announcedAt sql.NullTime

	if err := s.Scan(
		&p.ID, &p.Title, &p.Description, &p.OpensAt, &p.ClosesAt, &status, &winnerIndex,
		&p.EligibleVoters, &p.TotalVotes, &announcedAt, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}

	p.Status = model.PollStatus(status)
	if winnerIndex.Valid {
		i := int(winnerIndex.Int64)
		p.WinnerIndex = &i
	}
	if announcedAt.Valid {
		p.AnnouncedAt = &announcedAt.Time
	}
	return p, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation
}

// compile-time interface check
var _ PollRepository = (*PostgresPollRepo)(nil)
