// Package database はデータベース接続とマイグレーション管理を提供する。
package database

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrDirtyMigration は前回のマイグレーションが途中で失敗したまま残っていることを表す。
var ErrDirtyMigration = errors.New("database is in a dirty migration state")

// MigrationStatus はマイグレーション適用後のスキーマの状態。
type MigrationStatus struct {
	Version uint // 適用済みの最新バージョン。未適用なら0
	Applied bool // 今回の実行で新たに適用したか
}

// NewMigrator はマイグレーション実行用のmigrateインスタンスを生成する。
// databaseURLはPostgreSQLの接続URLを指定する。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// RunMigrations は未適用のマイグレーションを順番に適用し、適用後の状態を返す。
// すでに最新の場合はApplied=falseで返る。
// 前回の適用が途中で失敗している場合は何もせずErrDirtyMigrationを返す。
func RunMigrations(databaseURL string) (*MigrationStatus, error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return nil, err
	}
	defer m.Close()

	before, err := currentVersion(m)
	if err != nil {
		return nil, err
	}

	err = m.Up()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		slog.Info("適用するマイグレーションはありません", slog.Uint64("version", uint64(before)))
		return &MigrationStatus{Version: before}, nil
	case err != nil:
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	after, err := currentVersion(m)
	if err != nil {
		return nil, err
	}
	slog.Info("マイグレーションを適用しました",
		slog.Uint64("from_version", uint64(before)),
		slog.Uint64("to_version", uint64(after)),
	)
	return &MigrationStatus{Version: after, Applied: true}, nil
}

// currentVersion は適用済みのバージョンを返す。一度も適用していない場合は0を返す。
func currentVersion(m *migrate.Migrate) (uint, error) {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read migration version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("%w: version %d", ErrDirtyMigration, version)
	}
	return version, nil
}
