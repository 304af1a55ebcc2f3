package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/mentorlink/internal/model"
)

const notificationColumns = `id, user_id, type, title, message, action_ref, is_read, read_at, created_at`

// PostgresNotificationRepo はPostgreSQLを使用した通知リポジトリ。
type PostgresNotificationRepo struct {
	db *sql.DB
}

// NewPostgresNotificationRepo はPostgresNotificationRepoを生成する。
func NewPostgresNotificationRepo(db *sql.DB) *PostgresNotificationRepo {
	return &PostgresNotificationRepo{db: db}
}

// Create は通知を作成する。ID・作成日時が未設定の場合はここで採番する。
func (r *PostgresNotificationRepo) Create(ctx context.Context, n *model.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, type, title, message, action_ref, is_read, read_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		n.ID, n.UserID, string(n.Type), n.Title, n.Message, n.ActionRef,
		n.IsRead, n.ReadAt, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("通知の作成に失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDの通知を取得する。見つからない場合はnilを返す。
func (r *PostgresNotificationRepo) FindByID(ctx context.Context, id string) (*model.Notification, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = $1`,
		id,
	)
	n, err := scanNotification(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("通知の取得に失敗しました: %w", err)
	}
	return n, nil
}

// List はユーザーの通知をcreated_at降順でフィルタ・ページネーション付きで返す。
func (r *PostgresNotificationRepo) List(
	ctx context.Context,
	userID string,
	filter model.NotificationFilter,
) (*model.NotificationPage, error) {
	where := " WHERE user_id = $1"
	args := []interface{}{userID}
	argIndex := 2

	if filter.IsRead != nil {
		where += fmt.Sprintf(" AND is_read = $%d", argIndex)
		args = append(args, *filter.IsRead)
		argIndex++
	}
	if filter.Type != "" {
		where += fmt.Sprintf(" AND type = $%d", argIndex)
		args = append(args, string(filter.Type))
		argIndex++
	}

	page := &model.NotificationPage{Items: []*model.Notification{}}
	if err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM notifications`+where, args...,
	).Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("通知件数の取得に失敗しました: %w", err)
	}

	query := `SELECT ` + notificationColumns + ` FROM notifications` + where +
		fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("通知行の読み取りに失敗しました: %w", err)
		}
		page.Items = append(page.Items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("通知一覧の走査に失敗しました: %w", err)
	}

	return page, nil
}

// CountUnread はユーザーの未読通知数を返す。
func (r *PostgresNotificationRepo) CountUnread(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM notifications WHERE user_id = $1 AND is_read = false`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("未読数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// SetRead は通知の既読状態を設定し、更新後のレコードを返す。
// 既に同じ状態の場合もread_atを変えずに現在のレコードを返す。
func (r *PostgresNotificationRepo) SetRead(
	ctx context.Context,
	userID, id string,
	isRead bool,
) (*model.Notification, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE notifications
		 SET is_read = $3,
		     read_at = CASE
		         WHEN $3 AND is_read THEN read_at
		         WHEN $3 THEN now()
		         ELSE NULL
		     END
		 WHERE id = $1 AND user_id = $2
		 RETURNING `+notificationColumns,
		id, userID, isRead,
	)
	n, err := scanNotification(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("既読状態の更新に失敗しました: %w", err)
	}
	return n, nil
}

// MarkAllRead はユーザーの未読通知を単一の文で全て既読にし、更新件数を返す。
func (r *PostgresNotificationRepo) MarkAllRead(ctx context.Context, userID string) (int, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = true, read_at = now()
		 WHERE user_id = $1 AND is_read = false`,
		userID,
	)
	if err != nil {
		return 0, fmt.Errorf("一括既読に失敗しました: %w", err)
	}
	return rowsAffected(result)
}

// Delete は通知を削除する。削除できた場合はtrueを返す。
func (r *PostgresNotificationRepo) Delete(ctx context.Context, userID, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("通知の削除に失敗しました: %w", err)
	}
	n, err := rowsAffected(result)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteRead はユーザーの既読通知を全て削除し、削除件数を返す。
func (r *PostgresNotificationRepo) DeleteRead(ctx context.Context, userID string) (int, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE user_id = $1 AND is_read = true`,
		userID,
	)
	if err != nil {
		return 0, fmt.Errorf("既読通知の削除に失敗しました: %w", err)
	}
	return rowsAffected(result)
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNotification(s rowScanner) (*model.Notification, error) {
	n := &model.Notification{}
	var notificationType string
	var readAt sql.NullTime

	if err := s.Scan(
		&n.ID, &n.UserID, &notificationType, &n.Title, &n.Message, &n.ActionRef,
		&n.IsRead, &readAt, &n.CreatedAt,
	); err != nil {
		return nil, err
	}

	n.Type = model.NotificationType(notificationType)
	if readAt.Valid {
		n.ReadAt = &readAt.Time
	}
	return n, nil
}

func rowsAffected(result sql.Result) (int, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// compile-time interface check
var _ NotificationRepository = (*PostgresNotificationRepo)(nil)
