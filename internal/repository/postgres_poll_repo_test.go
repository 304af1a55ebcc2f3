package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/mentorlink/internal/model"
)

func TestPostgresPollRepo_ImplementsInterface(t *testing.T) {
	var _ PollRepository = (*PostgresPollRepo)(nil)
	var _ EligibleVoterSource = (*PostgresUserRepo)(nil)
	var _ SubjectSource = (*PostgresSubjectRepo)(nil)
}

func createTestPoll(t *testing.T, repo *PostgresPollRepo, opensAt time.Time, voters []string, options ...string) *model.Poll {
	t.Helper()
	draft := &model.PollDraft{
		Title:    "週次テーマ投票",
		OpensAt:  opensAt,
		ClosesAt: opensAt.Add(72 * time.Hour),
		VoterIDs: voters,
	}
	for _, name := range options {
		draft.Options = append(draft.Options, model.SubjectOption{
			Name:       name,
			Code:       "CODE-" + name,
			ProposedAt: opensAt.Add(7 * 24 * time.Hour),
			Presenter:  "presenter",
		})
	}
	poll, err := repo.Create(context.Background(), draft)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return poll
}

func TestPostgresPollRepo_Create_RejectsDuplicateCycle(t *testing.T) {
	db := openTestDB(t)
	repo := NewPostgresPollRepo(db)
	opensAt := time.Date(2026, 10, 12, 9, 0, 0, 0, time.UTC)

	poll := createTestPoll(t, repo, opensAt, nil, "A", "B")
	if len(poll.Options) != 2 || poll.Options[1].Name != "B" {
		t.Fatalf("選択肢が順序通り保存されること: %+v", poll.Options)
	}
	if poll.Status != model.PollStatusOpen {
		t.Errorf("Status = %q, want open", poll.Status)
	}

	_, err := repo.Create(context.Background(), &model.PollDraft{
		Title: "dup", OpensAt: opensAt, ClosesAt: opensAt.Add(time.Hour),
	})
	if !errors.Is(err, ErrPollExists) {
		t.Errorf("err = %v, want ErrPollExists", err)
	}
}

func TestPostgresPollRepo_Create_MarksProposalsUsed(t *testing.T) {
	db := openTestDB(t)
	repo := NewPostgresPollRepo(db)
	subjects := NewPostgresSubjectRepo(db)
	ctx := context.Background()

	var proposalID string
	err := db.QueryRow(
		`INSERT INTO subject_proposals (name, code, proposed_at, presenter) VALUES ('Go', 'GO1', now(), 'p') RETURNING id`,
	).Scan(&proposalID)
	if err != nil {
		t.Fatalf("提案挿入に失敗: %v", err)
	}

	pending, err := subjects.ListPendingProposals(ctx, 10)
	if err != nil || len(pending) != 1 {
		t.Fatalf("ListPendingProposals = %v, %v", pending, err)
	}

	opensAt := time.Date(2026, 10, 12, 9, 0, 0, 0, time.UTC)
	_, err = repo.Create(ctx, &model.PollDraft{
		Title:       "t",
		OpensAt:     opensAt,
		ClosesAt:    opensAt.Add(time.Hour),
		Options:     []model.SubjectOption{{Name: "Go", ProposedAt: opensAt}},
		ProposalIDs: []string{proposalID},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	pending, _ = subjects.ListPendingProposals(ctx, 10)
	if len(pending) != 0 {
		t.Errorf("使用済みの提案は返さないこと: %d件", len(pending))
	}
}

func TestPostgresPollRepo_CastVote(t *testing.T) {
	db := openTestDB(t)
	repo := NewPostgresPollRepo(db)
	ctx := context.Background()
	voter := insertUser(t, db, "voter", true)
	other := insertUser(t, db, "other", true)
	opensAt := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	poll := createTestPoll(t, repo, opensAt, []string{voter, other}, "A", "B", "C")
	now := opensAt.Add(time.Minute)

	if poll.EligibleVoters != 2 {
		t.Errorf("EligibleVoters = %d, want 2", poll.EligibleVoters)
	}

	updated, err := repo.CastVote(ctx, poll.ID, voter, 1, now)
	if err != nil {
		t.Fatalf("CastVote: %v", err)
	}
	if updated.TotalVotes != 1 || updated.Options[1].Votes != 1 {
		t.Errorf("TotalVotes=%d Options[1].Votes=%d, want 1/1", updated.TotalVotes, updated.Options[1].Votes)
	}

	if _, err := repo.CastVote(ctx, poll.ID, voter, 2, now); !errors.Is(err, ErrAlreadyVoted) {
		t.Errorf("2票目: err = %v, want ErrAlreadyVoted", err)
	}
	if voted, _ := repo.HasVoted(ctx, poll.ID, voter); !voted {
		t.Error("HasVoted = false, want true")
	}

	stranger := insertUser(t, db, "stranger", true)
	if _, err := repo.CastVote(ctx, poll.ID, stranger, 0, now); !errors.Is(err, ErrNotEligible) {
		t.Errorf("有権者以外: err = %v, want ErrNotEligible", err)
	}
	if voted, _ := repo.HasVoted(ctx, poll.ID, stranger); voted {
		t.Error("有権者以外の投票は記録しないこと")
	}

	if _, err := repo.CastVote(ctx, poll.ID, other, 3, now); !errors.Is(err, ErrInvalidOption) {
		t.Errorf("範囲外: err = %v, want ErrInvalidOption", err)
	}
	if _, err := repo.CastVote(ctx, poll.ID, other, 0, poll.ClosesAt); !errors.Is(err, ErrPollClosed) {
		t.Errorf("締め切り時刻ちょうど: err = %v, want ErrPollClosed", err)
	}

	missing, err := repo.CastVote(ctx, "00000000-0000-0000-0000-000000000000", other, 0, now)
	if err != nil || missing != nil {
		t.Errorf("存在しない投票: %v, %v", missing, err)
	}
}

func TestPostgresPollRepo_CastVote_ConcurrentSameVoterCountsOnce(t *testing.T) {
	db := openTestDB(t)
	repo := NewPostgresPollRepo(db)
	voter := insertUser(t, db, "voter", true)
	opensAt := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	poll := createTestPoll(t, repo, opensAt, []string{voter}, "A", "B")

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.CastVote(context.Background(), poll.ID, voter, 0, opensAt.Add(time.Minute)); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Errorf("成功した投票 = %d, want 1", succeeded)
	}
	got, _ := repo.FindByID(context.Background(), poll.ID)
	if got.TotalVotes != 1 {
		t.Errorf("TotalVotes = %d, want 1", got.TotalVotes)
	}
}

func TestPostgresPollRepo_CloseTallyAnnounce(t *testing.T) {
	db := openTestDB(t)
	repo := NewPostgresPollRepo(db)
	ctx := context.Background()
	voters := []string{
		insertUser(t, db, "v1", true),
		insertUser(t, db, "v2", true),
		insertUser(t, db, "v3", true),
	}
	opensAt := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	poll := createTestPoll(t, repo, opensAt, voters, "A", "B")
	// 投票開始後に加わったユーザーには発表しない
	late := insertUser(t, db, "late", true)
	for i, v := range voters {
		if _, err := repo.CastVote(ctx, poll.ID, v, i%2, opensAt.Add(time.Minute)); err != nil {
			t.Fatalf("CastVote: %v", err)
		}
	}

	due, err := repo.ListDueForClose(ctx, poll.ClosesAt)
	if err != nil || len(due) != 1 {
		t.Fatalf("ListDueForClose = %d, %v", len(due), err)
	}
	if err := repo.MarkClosed(ctx, poll.ID); err != nil {
		t.Fatalf("MarkClosed: %v", err)
	}
	if err := repo.MarkClosed(ctx, poll.ID); !errors.Is(err, ErrStatusConflict) {
		t.Errorf("二重遷移: err = %v, want ErrStatusConflict", err)
	}

	counts, err := repo.CountVotesByOption(ctx, poll.ID, 2)
	if err != nil {
		t.Fatalf("CountVotesByOption: %v", err)
	}
	if counts[0] != 2 || counts[1] != 1 {
		t.Fatalf("counts = %v, want [2 1]", counts)
	}

	now := poll.ClosesAt.Add(time.Minute)
	queued, err := repo.Announce(ctx, poll.ID, counts, 0, now)
	if err != nil {
		t.Fatalf("Announce: %v", err)
	}
	if queued != len(voters) {
		t.Errorf("queued = %d, want %d", queued, len(voters))
	}
	if _, err := repo.Announce(ctx, poll.ID, counts, 0, now); !errors.Is(err, ErrStatusConflict) {
		t.Errorf("二重発表: err = %v, want ErrStatusConflict", err)
	}

	pending, err := repo.ListPendingAnnouncements(ctx, 10)
	if err != nil {
		t.Fatalf("ListPendingAnnouncements: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("pending = %d, want 3", len(pending))
	}
	if pending[0].WinnerName != "A" || pending[0].WinnerVotes != 2 || pending[0].TotalVotes != 3 {
		t.Errorf("pending[0] = %+v", pending[0])
	}
	for _, a := range pending {
		if a.UserID == late {
			t.Error("投票開始後に加わったユーザーに発表しないこと")
		}
	}

	if err := repo.MarkAnnouncementPublished(ctx, pending[0].PollID, pending[0].UserID, now); err != nil {
		t.Fatalf("MarkAnnouncementPublished: %v", err)
	}
	pending, _ = repo.ListPendingAnnouncements(ctx, 10)
	if len(pending) != 2 {
		t.Errorf("配信済みを除いた件数 = %d, want 2", len(pending))
	}

	got, _ := repo.FindByID(ctx, poll.ID)
	if got.Status != model.PollStatusAnnounced || got.Winner() == nil || got.Winner().Name != "A" {
		t.Errorf("発表後の状態が不正: %+v", got)
	}
}
