package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/regwatch/internal/model"
)

// PostgresSourceRepo はPostgreSQLを使用したSourceリポジトリ。
type PostgresSourceRepo struct {
	db *sql.DB
}

// NewPostgresSourceRepo はPostgresSourceRepoを生成する。
func NewPostgresSourceRepo(db *sql.DB) *PostgresSourceRepo {
	return &PostgresSourceRepo{db: db}
}

const sourceColumns = `id, name, url, feed_url,
	registration_fee_pence, renewal_fee_pence, processing_days, contact_email, contact_phone,
	last_feed_item_guid, consecutive_errors, last_error, last_scraped_at, created_at, updated_at`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanSource は1行をmodel.Sourceに変換する。
func scanSource(row rowScanner) (*model.Source, error) {
	src := &model.Source{}
	var feedURL, email, phone, guid, lastError sql.NullString
	var regFee, renFee sql.NullInt64
	var days sql.NullInt32
	var lastScrapedAt sql.NullTime

	if err := row.Scan(
		&src.ID, &src.Name, &src.URL, &feedURL,
		&regFee, &renFee, &days, &email, &phone,
		&guid, &src.ConsecutiveErrors, &lastError, &lastScrapedAt,
		&src.CreatedAt, &src.UpdatedAt,
	); err != nil {
		return nil, err
	}

	src.FeedURL = nullStringValue(feedURL)
	src.LastFeedItemGUID = nullStringValue(guid)
	src.LastError = nullStringValue(lastError)
	if lastScrapedAt.Valid {
		t := lastScrapedAt.Time
		src.LastScrapedAt = &t
	}

	if regFee.Valid {
		p := model.Pence(regFee.Int64)
		src.Facts.RegistrationFee = &p
	}
	if renFee.Valid {
		p := model.Pence(renFee.Int64)
		src.Facts.RenewalFee = &p
	}
	if days.Valid {
		d := int(days.Int32)
		src.Facts.ProcessingDays = &d
	}
	if email.Valid {
		e := email.String
		src.Facts.ContactEmail = &e
	}
	if phone.Valid {
		p := phone.String
		src.Facts.ContactPhone = &p
	}

	return src, nil
}

// FindByID は指定IDのSourceを取得する。見つからない場合はnilを返す。
func (r *PostgresSourceRepo) FindByID(ctx context.Context, id string) (*model.Source, error) {
	src, err := scanSource(r.db.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Sourceの取得に失敗しました: %w", err)
	}
	return src, nil
}

// ListAll はすべてのSourceをID順で返す。
func (r *PostgresSourceRepo) ListAll(ctx context.Context) ([]*model.Source, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sourceColumns+` FROM sources ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("Source一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var sources []*model.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("Sourceの読み取りに失敗しました: %w", err)
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Source一覧の走査に失敗しました: %w", err)
	}
	return sources, nil
}

// SaveScrape はアラートの作成とSourceの事実・取得状態の更新を同一トランザクションで行う。
// どちらかが失敗した場合はすべてロールバックされ、次回のスイープで同じ変更が再検知される。
func (r *PostgresSourceRepo) SaveScrape(ctx context.Context, src *model.Source, alerts []*model.Alert) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, a := range alerts {
		if err := insertAlert(ctx, tx, a); err != nil {
			return err
		}
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE sources SET
		    registration_fee_pence = $2,
		    renewal_fee_pence = $3,
		    processing_days = $4,
		    contact_email = $5,
		    contact_phone = $6,
		    last_feed_item_guid = $7,
		    consecutive_errors = $8,
		    last_error = $9,
		    last_scraped_at = $10,
		    updated_at = now()
		 WHERE id = $1`,
		src.ID,
		nullPence(src.Facts.RegistrationFee),
		nullPence(src.Facts.RenewalFee),
		nullInt(src.Facts.ProcessingDays),
		nullStringPtr(src.Facts.ContactEmail),
		nullStringPtr(src.Facts.ContactPhone),
		nullString(src.LastFeedItemGUID),
		src.ConsecutiveErrors,
		nullString(src.LastError),
		src.LastScrapedAt,
	)
	if err != nil {
		return fmt.Errorf("Sourceの更新に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("source not found: %s", src.ID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RecordFailure は抽出失敗時の取得状態を更新する。事実とフィードGUIDは変更しない。
func (r *PostgresSourceRepo) RecordFailure(ctx context.Context, src *model.Source) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sources SET
		    consecutive_errors = $2,
		    last_error = $3,
		    last_scraped_at = $4,
		    updated_at = now()
		 WHERE id = $1`,
		src.ID,
		src.ConsecutiveErrors,
		nullString(src.LastError),
		src.LastScrapedAt,
	)
	if err != nil {
		return fmt.Errorf("取得状態の更新に失敗しました: %w", err)
	}
	return nil
}

// nullString は空文字列をNULLに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullPence(p *model.Pence) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullInt(v *int) sql.NullInt32 {
	if v == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(*v), Valid: true}
}

// compile-time interface check
var _ SourceRepository = (*PostgresSourceRepo)(nil)
