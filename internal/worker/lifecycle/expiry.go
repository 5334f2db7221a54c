// Package lifecycle はアラートの有効期限切れスイープを提供する。
// 期限を過ぎたACTIVEのアラートをEXPIREDへ遷移させる。通知やメールは送らない。
package lifecycle

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/regwatch/internal/metrics"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

const expireQuery = `UPDATE alerts SET status = 'EXPIRED', updated_at = now()
	WHERE status = 'ACTIVE' AND expiry_date IS NOT NULL AND expiry_date < $1`

// ExpiryJob は有効期限切れアラートのスイープジョブ。
// 単一のUPDATE文で処理するため冪等で、並行実行されても同じ行を二重に遷移させない。
type ExpiryJob struct {
	db      Executor
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	now     func() time.Time
}

// NewExpiryJob は新しいExpiryJobを生成する。collectorがnilの場合はメトリクスを記録しない。
func NewExpiryJob(db Executor, collector metrics.MetricsCollector, logger *slog.Logger) *ExpiryJob {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &ExpiryJob{
		db:      db,
		metrics: collector,
		logger:  logger,
		now:     time.Now,
	}
}

// Run は期限切れのACTIVEアラートをEXPIREDに更新し、更新件数を返す。
// ARCHIVEDやEXPIREDの行、expiry_dateがNULLの行には触れない。
func (j *ExpiryJob) Run(ctx context.Context) (int64, error) {
	start := time.Now()
	cutoff := j.now().UTC()

	result, err := j.db.ExecContext(ctx, expireQuery, cutoff)
	if err != nil {
		j.logger.Error("アラート期限切れスイープの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("アラート期限切れスイープの実行に失敗: %w", err)
	}

	expired, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("更新件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("更新件数の取得に失敗: %w", err)
	}

	j.metrics.RecordAlertsExpired(expired)
	j.logger.Info("アラート期限切れスイープが完了しました",
		slog.Int64("expired_count", expired),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return expired, nil
}
