package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresDeliveryRepo はPostgreSQLを使用した即時メール送信権リポジトリ。
type PostgresDeliveryRepo struct {
	db *sql.DB
}

// NewPostgresDeliveryRepo はPostgresDeliveryRepoを生成する。
func NewPostgresDeliveryRepo(db *sql.DB) *PostgresDeliveryRepo {
	return &PostgresDeliveryRepo{db: db}
}

// Claim は送信権を確保する。
// 新規INSERT、または未送信のままstaleAfter以上経過した確保の取り直しに成功した場合のみtrueを返す。
// 送信結果が不明な確保は取り直さない。
func (r *PostgresDeliveryRepo) Claim(ctx context.Context, userID, alertID string, staleAfter time.Duration) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO alert_email_deliveries (user_id, alert_id, claimed_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (user_id, alert_id) DO UPDATE SET claimed_at = now()
		 WHERE alert_email_deliveries.sent_at IS NULL
		   AND alert_email_deliveries.outcome_unknown_at IS NULL
		   AND alert_email_deliveries.claimed_at < now() - $3::interval`,
		userID, alertID, fmt.Sprintf("%d seconds", int64(staleAfter.Seconds())),
	)
	if err != nil {
		return false, fmt.Errorf("送信権の確保に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// MarkSent は送信完了を記録する。
func (r *PostgresDeliveryRepo) MarkSent(ctx context.Context, userID, alertID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE alert_email_deliveries SET sent_at = now() WHERE user_id = $1 AND alert_id = $2`,
		userID, alertID,
	)
	if err != nil {
		return fmt.Errorf("送信完了の記録に失敗しました: %w", err)
	}
	return nil
}

// MarkOutcomeUnknown は送信結果が不明であることを記録し、確保を恒久化する。
func (r *PostgresDeliveryRepo) MarkOutcomeUnknown(ctx context.Context, userID, alertID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE alert_email_deliveries SET outcome_unknown_at = now()
		 WHERE user_id = $1 AND alert_id = $2 AND sent_at IS NULL`,
		userID, alertID,
	)
	if err != nil {
		return fmt.Errorf("送信結果不明の記録に失敗しました: %w", err)
	}
	return nil
}

// Release は未送信の確保を削除する。送信済みと送信結果不明の行は削除しない。
func (r *PostgresDeliveryRepo) Release(ctx context.Context, userID, alertID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM alert_email_deliveries
		 WHERE user_id = $1 AND alert_id = $2 AND sent_at IS NULL AND outcome_unknown_at IS NULL`,
		userID, alertID,
	)
	if err != nil {
		return fmt.Errorf("送信権の解放に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ DeliveryRepository = (*PostgresDeliveryRepo)(nil)
