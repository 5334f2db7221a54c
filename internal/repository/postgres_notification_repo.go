package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/regwatch/internal/model"
)

// PostgresNotificationRepo はPostgreSQLを使用したアプリ内通知リポジトリ。
type PostgresNotificationRepo struct {
	db *sql.DB
}

// NewPostgresNotificationRepo はPostgresNotificationRepoを生成する。
func NewPostgresNotificationRepo(db *sql.DB) *PostgresNotificationRepo {
	return &PostgresNotificationRepo{db: db}
}

// CreateIfAbsent は通知を冪等に作成する。
// UNIQUE(user_id, alert_id)制約を利用したINSERT ON CONFLICT DO NOTHINGで実装し、
// 重複書き込みはエラーにしない。
func (r *PostgresNotificationRepo) CreateIfAbsent(ctx context.Context, n *model.Notification) (bool, error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	metadata, err := json.Marshal(n.Metadata)
	if err != nil {
		return false, fmt.Errorf("通知メタデータのエンコードに失敗しました: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, alert_id, title, message, type, metadata, read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (user_id, alert_id) DO NOTHING`,
		n.ID, n.UserID, n.Metadata.AlertID, n.Title, n.Message, n.Type, metadata, n.Read, n.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("通知の作成に失敗しました: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// compile-time interface check
var _ NotificationRepository = (*PostgresNotificationRepo)(nil)
