package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
// 投票資格者の参照元（EligibleVoterSource）として使用する。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// ListEligibleVoterIDs は有効なユーザー全員のIDを返す。
func (r *PostgresUserRepo) ListEligibleVoterIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM users WHERE is_active = true ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible voters: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan voter id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate voters: %w", err)
	}
	return ids, nil
}

// compile-time interface check
var _ EligibleVoterSource = (*PostgresUserRepo)(nil)
