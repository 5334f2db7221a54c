package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/regwatch/internal/model"
)

// PostgresAlertRepo はPostgreSQLを使用したアラートリポジトリ。
type PostgresAlertRepo struct {
	db *sql.DB
}

// NewPostgresAlertRepo はPostgresAlertRepoを生成する。
func NewPostgresAlertRepo(db *sql.DB) *PostgresAlertRepo {
	return &PostgresAlertRepo{db: db}
}

const alertColumns = `a.id, a.source_id, a.type, a.category, a.title, a.description,
	a.effective_date, a.expiry_date, a.severity, a.priority, a.status,
	a.source_url, a.view_count, a.created_at, a.updated_at`

// scanAlert は1行をmodel.Alertに変換する。
func scanAlert(row rowScanner) (*model.Alert, error) {
	a := &model.Alert{}
	var sourceID sql.NullString
	var expiry sql.NullTime
	var severity string

	if err := row.Scan(
		&a.ID, &sourceID, &a.Type, &a.Category, &a.Title, &a.Description,
		&a.EffectiveDate, &expiry, &severity, &a.Priority, &a.Status,
		&a.SourceURL, &a.ViewCount, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}

	sev, err := model.ParseSeverity(severity)
	if err != nil {
		return nil, fmt.Errorf("alert %s: %w", a.ID, err)
	}
	a.Severity = sev

	if sourceID.Valid {
		id := sourceID.String
		a.SourceID = &id
	}
	if expiry.Valid {
		t := expiry.Time
		a.ExpiryDate = &t
	}
	return a, nil
}

// insertAlert はアラートを1件INSERTする。SaveScrapeのトランザクション内からも使用する。
func insertAlert(ctx context.Context, db execer, a *model.Alert) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO alerts (id, source_id, type, category, title, description,
		                     effective_date, expiry_date, severity, priority, status,
		                     source_url, view_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		a.ID, nullStringPtr(a.SourceID), a.Type, a.Category, a.Title, a.Description,
		a.EffectiveDate, a.ExpiryDate, a.Severity.String(), a.Priority, a.Status,
		a.SourceURL, a.ViewCount, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("アラートの作成に失敗しました: %w", err)
	}
	return nil
}

// Create はアラートを作成する。
func (r *PostgresAlertRepo) Create(ctx context.Context, alert *model.Alert) error {
	return insertAlert(ctx, r.db, alert)
}

// FindByID は指定IDのアラートを取得する。見つからない場合はnilを返す。
func (r *PostgresAlertRepo) FindByID(ctx context.Context, id string) (*model.Alert, error) {
	a, err := scanAlert(r.db.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM alerts a WHERE a.id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("アラートの取得に失敗しました: %w", err)
	}
	return a, nil
}

// ListForDigest はダイジェスト対象のアラートを返す。
// システム全体のアラート（source_idがNULL）はSourceフィルタに関係なく含める。
func (r *PostgresAlertRepo) ListForDigest(ctx context.Context, userID string, since time.Time, sources model.SourceSet) ([]*model.Alert, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+alertColumns+`
		 FROM alerts a
		 WHERE a.status = 'ACTIVE'
		   AND a.created_at >= $2
		   AND (cardinality($3::text[]) = 0 OR a.source_id IS NULL OR a.source_id = ANY($3::text[]))
		   AND NOT EXISTS (
		       SELECT 1 FROM alert_acknowledgements ack
		       WHERE ack.alert_id = a.id AND ack.user_id = $1
		   )
		 ORDER BY a.priority DESC, a.created_at DESC`,
		userID, since, pq.Array(sources.IDs()),
	)
	if err != nil {
		return nil, fmt.Errorf("ダイジェスト対象アラートの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var alerts []*model.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("アラートの読み取りに失敗しました: %w", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("アラートの走査に失敗しました: %w", err)
	}
	return alerts, nil
}

// Archive はアラートをARCHIVEDに遷移させる。
// 行ロックを取得してから現在の状態を検証し、許可されない遷移は*model.APIErrorを返す。
func (r *PostgresAlertRepo) Archive(ctx context.Context, id string) (*model.Alert, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current model.AlertStatus
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM alerts WHERE id = $1 FOR UPDATE`,
		id,
	).Scan(&current)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("アラートの取得に失敗しました: %w", err)
	}

	if !current.CanTransitionTo(model.AlertStatusArchived) {
		return nil, model.NewInvalidStatusChangeError(current, model.AlertStatusArchived)
	}

	a, err := scanAlert(tx.QueryRowContext(ctx,
		`UPDATE alerts a SET status = 'ARCHIVED', updated_at = now()
		 WHERE a.id = $1
		 RETURNING `+alertColumns,
		id,
	))
	if err != nil {
		return nil, fmt.Errorf("アラートのアーカイブに失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return a, nil
}

// compile-time interface check
var _ AlertRepository = (*PostgresAlertRepo)(nil)
