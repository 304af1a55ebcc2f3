package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/mentorlink/internal/model"
)

// PostgresSubjectRepo はPostgreSQLを使用したテーマ提案リポジトリ。
type PostgresSubjectRepo struct {
	db *sql.DB
}

// NewPostgresSubjectRepo はPostgresSubjectRepoを生成する。
func NewPostgresSubjectRepo(db *sql.DB) *PostgresSubjectRepo {
	return &PostgresSubjectRepo{db: db}
}

// ListPendingProposals は未使用のテーマ提案を提出順に最大limit件返す。
func (r *PostgresSubjectRepo) ListPendingProposals(ctx context.Context, limit int) ([]*model.SubjectProposal, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, code, proposed_at, presenter, created_at
		 FROM subject_proposals
		 WHERE poll_id IS NULL
		 ORDER BY created_at, id
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("テーマ提案の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	proposals := []*model.SubjectProposal{}
	for rows.Next() {
		p := &model.SubjectProposal{}
		if err := rows.Scan(&p.ID, &p.Name, &p.Code, &p.ProposedAt, &p.Presenter, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("テーマ提案行の読み取りに失敗しました: %w", err)
		}
		proposals = append(proposals, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("テーマ提案の走査に失敗しました: %w", err)
	}
	return proposals, nil
}

// compile-time interface check
var _ SubjectSource = (*PostgresSubjectRepo)(nil)
