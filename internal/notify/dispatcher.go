package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/regwatch/internal/metrics"
	"github.com/hitoshi/regwatch/internal/model"
	"github.com/hitoshi/regwatch/internal/repository"
)

// デフォルト設定値
const (
	defaultMaxConcurrent   = 8
	defaultEmailTimeout    = 15 * time.Second
	defaultClaimStaleAfter = 30 * time.Minute
)

// DispatcherConfig はディスパッチャーの設定。
type DispatcherConfig struct {
	// MaxConcurrent はメール送信の最大並行数。
	MaxConcurrent int
	// EmailTimeout は1通あたりの送信タイムアウト。
	EmailTimeout time.Duration
	// ClaimStaleAfter は未送信の確保を放棄されたとみなすまでの時間。
	ClaimStaleAfter time.Duration
	// DashboardURL はメール本文に載せる設定画面のURL。
	DashboardURL string
}

// DispatchResult は1アラートの配信結果。
type DispatchResult struct {
	Matched              int // 関心対象と判定されたユーザー数
	NotificationsCreated int // 新規作成したアプリ内通知数
	NotificationErrors   int
	EmailsSent           int
	EmailsSkipped        int // 送信済み・送信中のため送らなかった数
	EmailsFailed         int
	EmailsUnknown        int // タイムアウトで配送の有無が分からず、再送しない数
}

// Dispatcher はアラートを関心のあるユーザーへ配信する。
type Dispatcher struct {
	prefs         repository.PreferenceRepository
	notifications repository.NotificationRepository
	deliveries    repository.DeliveryRepository
	mailer        Mailer
	metrics       metrics.MetricsCollector
	logger        *slog.Logger
	cfg           DispatcherConfig
}

// NewDispatcher はDispatcherを生成する。collectorがnilの場合はメトリクスを記録しない。
func NewDispatcher(
	prefs repository.PreferenceRepository,
	notifications repository.NotificationRepository,
	deliveries repository.DeliveryRepository,
	mailer Mailer,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	cfg DispatcherConfig,
) *Dispatcher {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.EmailTimeout <= 0 {
		cfg.EmailTimeout = defaultEmailTimeout
	}
	if cfg.ClaimStaleAfter <= 0 {
		cfg.ClaimStaleAfter = defaultClaimStaleAfter
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Dispatcher{
		prefs:         prefs,
		notifications: notifications,
		deliveries:    deliveries,
		mailer:        mailer,
		metrics:       collector,
		logger:        logger,
		cfg:           cfg,
	}
}

// Dispatch はアラートを配信する。
// 配信設定の読み込み失敗のみをエラーとして返し、ユーザー単位の失敗はログと結果の集計に留める。
// 同じアラートで再実行しても通知とメールは重複しない。
func (d *Dispatcher) Dispatch(ctx context.Context, alert *model.Alert) (DispatchResult, error) {
	var result DispatchResult

	prefs, err := d.prefs.ListWithUsers(ctx)
	if err != nil {
		return result, fmt.Errorf("配信設定の読み込みに失敗しました: %w", err)
	}

	var emailTargets []repository.PreferenceWithUser
	for _, p := range prefs {
		if !p.Matches(alert) {
			continue
		}
		result.Matched++

		if p.InAppEnabled {
			d.createNotification(ctx, p.UserID, alert, &result)
		}
		if p.WantsImmediateEmail(alert) && p.Email != "" {
			emailTargets = append(emailTargets, p)
		}
	}

	d.sendEmails(ctx, alert, emailTargets, &result)

	d.logger.Info("アラートを配信しました",
		slog.String("alert_id", alert.ID),
		slog.String("severity", alert.Severity.String()),
		slog.Int("matched", result.Matched),
		slog.Int("notifications_created", result.NotificationsCreated),
		slog.Int("emails_sent", result.EmailsSent),
		slog.Int("emails_skipped", result.EmailsSkipped),
		slog.Int("emails_failed", result.EmailsFailed),
		slog.Int("emails_unknown", result.EmailsUnknown),
	)

	return result, nil
}

func (d *Dispatcher) createNotification(ctx context.Context, userID string, alert *model.Alert, result *DispatchResult) {
	created, err := d.notifications.CreateIfAbsent(ctx, model.NewNotificationForAlert(userID, alert))
	if err != nil {
		result.NotificationErrors++
		d.logger.Error("通知の作成に失敗しました",
			slog.String("alert_id", alert.ID),
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return
	}
	if created {
		result.NotificationsCreated++
		d.metrics.RecordNotificationsCreated(1)
	}
}

// sendEmails はセマフォで並行数を制限してメールを送信する。
func (d *Dispatcher) sendEmails(ctx context.Context, alert *model.Alert, targets []repository.PreferenceWithUser, result *DispatchResult) {
	if len(targets) == 0 {
		return
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	sem := make(chan struct{}, d.cfg.MaxConcurrent)

	for _, target := range targets {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(p repository.PreferenceWithUser) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := d.sendOne(ctx, alert, p)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case emailSent:
				result.EmailsSent++
			case emailSkipped:
				result.EmailsSkipped++
			case emailFailed:
				result.EmailsFailed++
			case emailUnknown:
				result.EmailsUnknown++
			}
		}(target)
	}

	wg.Wait()
}

type emailOutcome int

const (
	emailSent emailOutcome = iota
	emailSkipped
	emailFailed
	emailUnknown
)

// sendOne は送信権を確保してから1通送る。
// 送信が確実に失敗した場合は確保を解放し、次回の実行で再送できるようにする。
// タイムアウトやキャンセルではSMTP送信が裏で完了している可能性があるため、確保を残して再送しない。
func (d *Dispatcher) sendOne(ctx context.Context, alert *model.Alert, p repository.PreferenceWithUser) emailOutcome {
	logger := d.logger.With(
		slog.String("alert_id", alert.ID),
		slog.String("user_id", p.UserID),
	)

	claimed, err := d.deliveries.Claim(ctx, p.UserID, alert.ID, d.cfg.ClaimStaleAfter)
	if err != nil {
		logger.Error("送信権の確保に失敗しました", slog.String("error", err.Error()))
		d.metrics.RecordEmailFailed(metrics.EmailKindImmediate)
		return emailFailed
	}
	if !claimed {
		logger.Debug("送信済みまたは送信中のためスキップします")
		return emailSkipped
	}

	msg, err := RenderAlertEmail(p.Email, p.Name, alert, d.cfg.DashboardURL)
	if err == nil {
		sendCtx, cancel := context.WithTimeout(ctx, d.cfg.EmailTimeout)
		err = d.mailer.Send(sendCtx, msg)
		cancel()
		if isOutcomeUnknown(err) {
			return d.keepClaim(logger, p.UserID, alert.ID, err)
		}
	}
	if err != nil {
		logger.Warn("アラートメールの送信に失敗しました", slog.String("error", err.Error()))
		d.metrics.RecordEmailFailed(metrics.EmailKindImmediate)
		// 呼び出し元のctxが終了していても解放できるよう独立したctxを使う
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if relErr := d.deliveries.Release(releaseCtx, p.UserID, alert.ID); relErr != nil {
			logger.Error("送信権の解放に失敗しました", slog.String("error", relErr.Error()))
		}
		return emailFailed
	}

	if err := d.deliveries.MarkSent(ctx, p.UserID, alert.ID); err != nil {
		// メールは送信済みなので成功として数える
		logger.Error("送信完了の記録に失敗しました", slog.String("error", err.Error()))
	}
	d.metrics.RecordEmailSent(metrics.EmailKindImmediate)
	return emailSent
}

// isOutcomeUnknown は送信が完了したかどうか判別できないエラーかを返す。
func isOutcomeUnknown(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// keepClaim は送信結果不明を記録し、確保を解放せずに残す。
func (d *Dispatcher) keepClaim(logger *slog.Logger, userID, alertID string, sendErr error) emailOutcome {
	logger.Warn("アラートメールの送信結果が不明なため再送しません", slog.String("error", sendErr.Error()))
	d.metrics.RecordEmailFailed(metrics.EmailKindImmediate)

	markCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.deliveries.MarkOutcomeUnknown(markCtx, userID, alertID); err != nil {
		// 記録できなくても確保は残るため、staleAfter経過までは再送されない
		logger.Error("送信結果不明の記録に失敗しました", slog.String("error", err.Error()))
	}
	return emailUnknown
}
