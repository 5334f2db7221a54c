// Package digest は日次ダイジェストメールの集約と送信を提供する。
package digest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/regwatch/internal/metrics"
	"github.com/hitoshi/regwatch/internal/model"
	"github.com/hitoshi/regwatch/internal/notify"
	"github.com/hitoshi/regwatch/internal/repository"
)

// Config はダイジェストジョブの設定パラメータ。
// 環境変数から設定可能。
type Config struct {
	// Window は集約対象とする期間（デフォルト: 24時間）。
	Window time.Duration
	// EmailTimeout は1通あたりの送信タイムアウト（デフォルト: 15秒）。
	EmailTimeout time.Duration
	// DashboardURL はメール本文に載せる設定画面のURL。
	DashboardURL string
}

// DefaultConfig はデフォルトのダイジェスト設定を返す。
func DefaultConfig() Config {
	return Config{
		Window:       24 * time.Hour,
		EmailTimeout: 15 * time.Second,
	}
}

// Result は1回のダイジェスト実行の集計。
type Result struct {
	Subscribers int `json:"subscribers"` // daily_digestが有効なユーザー数
	Sent        int `json:"sent"`
	Empty       int `json:"empty"` // 対象アラートがなく送らなかった数
	Failed      int `json:"failed"`
}

// Aggregator はユーザーごとに期間内のアラートをまとめて1通のメールを送る。
type Aggregator struct {
	prefs   repository.PreferenceRepository
	alerts  repository.AlertRepository
	mailer  notify.Mailer
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	config  Config
	now     func() time.Time
}

// NewAggregator はAggregatorの新しいインスタンスを生成する。
func NewAggregator(
	prefs repository.PreferenceRepository,
	alerts repository.AlertRepository,
	mailer notify.Mailer,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	config Config,
) *Aggregator {
	defaults := DefaultConfig()
	if config.Window <= 0 {
		config.Window = defaults.Window
	}
	if config.EmailTimeout <= 0 {
		config.EmailTimeout = defaults.EmailTimeout
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Aggregator{
		prefs:   prefs,
		alerts:  alerts,
		mailer:  mailer,
		metrics: collector,
		logger:  logger,
		config:  config,
		now:     time.Now,
	}
}

// Run は1回のダイジェスト集約を実行する。
// 購読者一覧の取得失敗のみをエラーとし、ユーザー単位の失敗は集計して次のユーザーへ進む。
func (a *Aggregator) Run(ctx context.Context) (Result, error) {
	start := a.now()
	since := start.Add(-a.config.Window)
	var result Result

	subscribers, err := a.prefs.ListDigestSubscribers(ctx)
	if err != nil {
		return result, fmt.Errorf("ダイジェスト購読者の取得に失敗しました: %w", err)
	}

	for _, sub := range subscribers {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if !sub.DailyDigest {
			continue
		}
		result.Subscribers++

		switch a.sendDigest(ctx, sub, since) {
		case outcomeSent:
			result.Sent++
		case outcomeEmpty:
			result.Empty++
		case outcomeFailed:
			result.Failed++
		}
	}

	a.logger.Info("ダイジェストジョブが完了しました",
		slog.Int("subscribers", result.Subscribers),
		slog.Int("sent", result.Sent),
		slog.Int("empty", result.Empty),
		slog.Int("failed", result.Failed),
		slog.Float64("duration_ms", float64(a.now().Sub(start).Milliseconds())),
	)

	return result, nil
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeEmpty
	outcomeFailed
)

func (a *Aggregator) sendDigest(ctx context.Context, sub repository.PreferenceWithUser, since time.Time) outcome {
	logger := a.logger.With(slog.String("user_id", sub.UserID))

	alerts, err := a.alerts.ListForDigest(ctx, sub.UserID, since, sub.Sources)
	if err != nil {
		logger.Error("ダイジェスト対象アラートの取得に失敗しました", slog.String("error", err.Error()))
		return outcomeFailed
	}
	if len(alerts) == 0 {
		return outcomeEmpty
	}

	msg, err := notify.RenderDigestEmail(sub.Email, sub.Name, alerts, since, a.config.DashboardURL)
	if err != nil {
		logger.Error("ダイジェストメールの生成に失敗しました", slog.String("error", err.Error()))
		return outcomeFailed
	}

	sendCtx, cancel := context.WithTimeout(ctx, a.config.EmailTimeout)
	defer cancel()
	if err := a.mailer.Send(sendCtx, msg); err != nil {
		logger.Warn("ダイジェストメールの送信に失敗しました",
			slog.Int("alerts", len(alerts)),
			slog.String("error", err.Error()),
		)
		a.metrics.RecordEmailFailed(metrics.EmailKindDigest)
		return outcomeFailed
	}

	logger.Debug("ダイジェストメールを送信しました",
		slog.Int("alerts", len(alerts)),
		slog.String("top_severity", topSeverity(alerts).String()),
	)
	a.metrics.RecordEmailSent(metrics.EmailKindDigest)
	return outcomeSent
}

// topSeverity はアラート群の最大重要度を返す。
func topSeverity(alerts []*model.Alert) model.Severity {
	var top model.Severity
	for _, a := range alerts {
		if a.Severity > top {
			top = a.Severity
		}
	}
	return top
}
