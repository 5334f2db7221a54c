// Package database はデータベース接続とスキーマのマイグレーションを提供する。
package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrDirtySchema は前回のマイグレーションが途中で失敗したままであることを示す。
// 手動で修正してから `migrate force` で状態を戻す必要がある。
var ErrDirtySchema = errors.New("database schema is dirty")

// SchemaStatus はマイグレーションの適用状態。
type SchemaStatus struct {
	Version uint
	// Applied はマイグレーションが1つ以上適用済みかどうか。
	Applied bool
	Dirty   bool
}

// NewMigrator は埋め込みSQLを元にmigrateインスタンスを生成する。
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

// RunMigrations は未適用のマイグレーションをすべて適用し、適用前後の状態を返す。
// スキーマがdirtyの場合は何もせずErrDirtySchemaを返す。
func RunMigrations(databaseURL string) (before, after SchemaStatus, err error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return before, after, err
	}
	defer m.Close()

	before, err = status(m)
	if err != nil {
		return before, after, err
	}
	if before.Dirty {
		return before, before, fmt.Errorf("%w at version %d", ErrDirtySchema, before.Version)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return before, after, fmt.Errorf("failed to run migrations: %w", err)
	}

	after, err = status(m)
	return before, after, err
}

func status(m *migrate.Migrate) (SchemaStatus, error) {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return SchemaStatus{}, nil
	}
	if err != nil {
		return SchemaStatus{}, fmt.Errorf("failed to read schema version: %w", err)
	}
	return SchemaStatus{Version: version, Applied: true, Dirty: dirty}, nil
}
