package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/regwatch/internal/model"
)

// PostgresPreferenceRepo はPostgreSQLを使用した配信設定リポジトリ。
type PostgresPreferenceRepo struct {
	db *sql.DB
}

// NewPostgresPreferenceRepo はPostgresPreferenceRepoを生成する。
func NewPostgresPreferenceRepo(db *sql.DB) *PostgresPreferenceRepo {
	return &PostgresPreferenceRepo{db: db}
}

const preferenceColumns = `p.user_id, p.email_enabled, p.in_app_enabled,
	p.fee_change_alerts, p.requirement_alerts, p.deadline_alerts, p.policy_alerts, p.system_alerts,
	p.immediate_alerts, p.daily_digest, p.min_severity, p.source_ids, p.created_at, p.updated_at`

// scanPreference は配信設定の列とdestの追加列を読み取る。
// Sourceフィルタはここで正規化され、以降の読み取り箇所では検証しない。
func scanPreference(row rowScanner, extra ...interface{}) (*model.AlertPreference, error) {
	p := &model.AlertPreference{}
	var minSeverity sql.NullString
	var sourceIDs pq.StringArray

	dest := []interface{}{
		&p.UserID, &p.EmailEnabled, &p.InAppEnabled,
		&p.FeeChangeAlerts, &p.RequirementAlerts, &p.DeadlineAlerts, &p.PolicyAlerts, &p.SystemAlerts,
		&p.ImmediateAlerts, &p.DailyDigest, &minSeverity, &sourceIDs, &p.CreatedAt, &p.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	if minSeverity.Valid {
		sev, err := model.ParseSeverity(minSeverity.String)
		if err != nil {
			return nil, fmt.Errorf("preference %s: %w", p.UserID, err)
		}
		p.MinSeverity = &sev
	}
	p.Sources = model.NewSourceSet(sourceIDs...)
	return p, nil
}

// ListWithUsers はすべての配信設定を送信先ユーザーの情報付きで返す。
func (r *PostgresPreferenceRepo) ListWithUsers(ctx context.Context) ([]PreferenceWithUser, error) {
	return r.listWithUsers(ctx, `SELECT `+preferenceColumns+`, u.email, u.name
		 FROM alert_preferences p
		 INNER JOIN users u ON u.id = p.user_id
		 ORDER BY p.user_id ASC`)
}

// ListDigestSubscribers はdaily_digestが有効な配信設定をユーザー情報付きで返す。
func (r *PostgresPreferenceRepo) ListDigestSubscribers(ctx context.Context) ([]PreferenceWithUser, error) {
	return r.listWithUsers(ctx, `SELECT `+preferenceColumns+`, u.email, u.name
		 FROM alert_preferences p
		 INNER JOIN users u ON u.id = p.user_id
		 WHERE p.daily_digest
		 ORDER BY p.user_id ASC`)
}

func (r *PostgresPreferenceRepo) listWithUsers(ctx context.Context, query string) ([]PreferenceWithUser, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("配信設定一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var prefs []PreferenceWithUser
	for rows.Next() {
		var email, name string
		p, err := scanPreference(rows, &email, &name)
		if err != nil {
			return nil, fmt.Errorf("配信設定の読み取りに失敗しました: %w", err)
		}
		prefs = append(prefs, PreferenceWithUser{AlertPreference: *p, Email: email, Name: name})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("配信設定一覧の走査に失敗しました: %w", err)
	}
	return prefs, nil
}

// FindByUserID は指定ユーザーの配信設定を取得する。見つからない場合はnilを返す。
func (r *PostgresPreferenceRepo) FindByUserID(ctx context.Context, userID string) (*model.AlertPreference, error) {
	p, err := scanPreference(r.db.QueryRowContext(ctx,
		`SELECT `+preferenceColumns+` FROM alert_preferences p WHERE p.user_id = $1`,
		userID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("配信設定の取得に失敗しました: %w", err)
	}
	return p, nil
}

// Upsert は配信設定を作成または上書きする。
// UNIQUE(user_id)を利用したINSERT ON CONFLICTで実装する。
func (r *PostgresPreferenceRepo) Upsert(ctx context.Context, pref *model.AlertPreference) error {
	if err := pref.Validate(); err != nil {
		return model.NewInvalidPreferenceError(err.Error())
	}

	now := time.Now().UTC()
	if pref.CreatedAt.IsZero() {
		pref.CreatedAt = now
	}
	pref.UpdatedAt = now

	var minSeverity sql.NullString
	if pref.MinSeverity != nil {
		minSeverity = sql.NullString{String: pref.MinSeverity.String(), Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO alert_preferences (user_id, email_enabled, in_app_enabled,
		     fee_change_alerts, requirement_alerts, deadline_alerts, policy_alerts, system_alerts,
		     immediate_alerts, daily_digest, min_severity, source_ids, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (user_id) DO UPDATE SET
		     email_enabled = EXCLUDED.email_enabled,
		     in_app_enabled = EXCLUDED.in_app_enabled,
		     fee_change_alerts = EXCLUDED.fee_change_alerts,
		     requirement_alerts = EXCLUDED.requirement_alerts,
		     deadline_alerts = EXCLUDED.deadline_alerts,
		     policy_alerts = EXCLUDED.policy_alerts,
		     system_alerts = EXCLUDED.system_alerts,
		     immediate_alerts = EXCLUDED.immediate_alerts,
		     daily_digest = EXCLUDED.daily_digest,
		     min_severity = EXCLUDED.min_severity,
		     source_ids = EXCLUDED.source_ids,
		     updated_at = EXCLUDED.updated_at`,
		pref.UserID, pref.EmailEnabled, pref.InAppEnabled,
		pref.FeeChangeAlerts, pref.RequirementAlerts, pref.DeadlineAlerts, pref.PolicyAlerts, pref.SystemAlerts,
		pref.ImmediateAlerts, pref.DailyDigest, minSeverity, pq.Array(pref.Sources.IDs()),
		pref.CreatedAt, pref.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("配信設定の保存に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ PreferenceRepository = (*PostgresPreferenceRepo)(nil)
