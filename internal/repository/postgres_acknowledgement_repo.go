package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/regwatch/internal/model"
)

// PostgresAcknowledgementRepo はPostgreSQLを使用したアラート確認記録リポジトリ。
type PostgresAcknowledgementRepo struct {
	db *sql.DB
}

// NewPostgresAcknowledgementRepo はPostgresAcknowledgementRepoを生成する。
func NewPostgresAcknowledgementRepo(db *sql.DB) *PostgresAcknowledgementRepo {
	return &PostgresAcknowledgementRepo{db: db}
}

// Upsert は確認記録を作成または更新する。
// 初回のread_atは維持し、dismissed_atは新しい値がある場合のみ上書きする。
func (r *PostgresAcknowledgementRepo) Upsert(ctx context.Context, ack *model.Acknowledgement) error {
	if ack.ReadAt.IsZero() {
		ack.ReadAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO alert_acknowledgements (user_id, alert_id, read_at, dismissed_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, alert_id) DO UPDATE SET
		     dismissed_at = COALESCE(EXCLUDED.dismissed_at, alert_acknowledgements.dismissed_at)`,
		ack.UserID, ack.AlertID, ack.ReadAt, ack.DismissedAt,
	)
	if err != nil {
		return fmt.Errorf("確認記録の保存に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ AcknowledgementRepository = (*PostgresAcknowledgementRepo)(nil)
