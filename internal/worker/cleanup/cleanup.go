// Package cleanup は不要になった行を定期的に削除する保守ジョブを提供する。
// 期限切れのセッションと、配信済みになってから保持期間を超えた結果発表の送信記録を削除する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const (
	deleteExpiredSessionsQuery = `DELETE FROM sessions WHERE expires_at < now()`

	// 未配信の行は再送に必要なため、published_atが入ったものだけを対象にする
	deletePublishedAnnouncementsQuery = `DELETE FROM poll_announcements
		WHERE published_at IS NOT NULL AND published_at < now() - $1::interval`
)

// Result は1回の実行で削除した件数。
type Result struct {
	Sessions      int64
	Announcements int64
}

// Job は保持期間を超過した行の削除ジョブ。
// 何度実行しても同じ結果になる。
type Job struct {
	db            Executor
	logger        *slog.Logger
	RetentionDays int // 配信済み結果発表の保持日数（デフォルト: 30）
}

// NewJob は新しいJobを生成する。
func NewJob(db Executor, logger *slog.Logger) *Job {
	return &Job{
		db:            db,
		logger:        logger,
		RetentionDays: 30,
	}
}

// Start はintervalごとにRunを実行する。起動直後にも1回実行する。
// ctxがキャンセルされると戻る。失敗はログに記録して次回に持ち越す。
func (j *Job) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		_, _ = j.Run(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Run は期限切れセッションと古い送信記録を削除する。
func (j *Job) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	sessions, err := j.exec(ctx, "sessions", deleteExpiredSessionsQuery)
	if err != nil {
		return nil, err
	}

	interval := fmt.Sprintf("%d days", j.RetentionDays)
	announcements, err := j.exec(ctx, "poll_announcements", deletePublishedAnnouncementsQuery, interval)
	if err != nil {
		return nil, err
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_sessions", sessions),
		slog.Int64("deleted_announcements", announcements),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return &Result{Sessions: sessions, Announcements: announcements}, nil
}

func (j *Job) exec(ctx context.Context, table, query string, args ...any) (int64, error) {
	result, err := j.db.ExecContext(ctx, query, args...)
	if err != nil {
		j.logger.Error("クリーンアップジョブの実行に失敗しました",
			slog.String("table", table),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("%sのクリーンアップに失敗: %w", table, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("table", table),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	return n, nil
}
