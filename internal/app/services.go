package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/regwatch/internal/config"
	"github.com/hitoshi/regwatch/internal/database"
	"github.com/hitoshi/regwatch/internal/digest"
	"github.com/hitoshi/regwatch/internal/joblock"
	"github.com/hitoshi/regwatch/internal/metrics"
	"github.com/hitoshi/regwatch/internal/notify"
	"github.com/hitoshi/regwatch/internal/repository"
	"github.com/hitoshi/regwatch/internal/scraper"
	"github.com/hitoshi/regwatch/internal/security"
	"github.com/hitoshi/regwatch/internal/worker/lifecycle"
	"github.com/hitoshi/regwatch/internal/worker/scrape"
)

// renderSettleDelay はDOM準備完了後にスクリプト描画を待つ時間。
const renderSettleDelay = 1500 * time.Millisecond

// services はserve・worker・単発ジョブで共有する依存関係一式。
type services struct {
	db       *sql.DB
	registry *prometheus.Registry
	locker   joblock.Locker

	users       *repository.PostgresUserRepo
	alerts      *repository.PostgresAlertRepo
	preferences *repository.PostgresPreferenceRepo
	acks        *repository.PostgresAcknowledgementRepo

	processor  *scrape.Processor
	scheduler  *scrape.Scheduler
	aggregator *digest.Aggregator
	expiry     *lifecycle.ExpiryJob

	closers []func() error
}

// newServices はDB接続を開き、パイプライン全体をワイヤリングする。
func newServices(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*services, error) {
	db, err := database.Connect(ctx, cfg.DatabaseURL, database.PoolConfigFor(cfg.ScrapeMaxConcurrent, cfg.DispatchMaxConcurrent))
	if err != nil {
		return nil, err
	}
	logger.Info("database connection established")
	s := &services{db: db, closers: []func() error{db.Close}}

	// 1. ジョブロック
	locker, err := newLocker(ctx, cfg, logger)
	if err != nil {
		s.close()
		return nil, err
	}
	s.locker = locker
	if rl, ok := locker.(*joblock.RedisLocker); ok {
		s.closers = append(s.closers, rl.Close)
	}

	// 2. メトリクス
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(s.registry)

	// 3. リポジトリ
	sourceRepo := repository.NewPostgresSourceRepo(db)
	s.users = repository.NewPostgresUserRepo(db)
	s.alerts = repository.NewPostgresAlertRepo(db)
	s.preferences = repository.NewPostgresPreferenceRepo(db)
	s.acks = repository.NewPostgresAcknowledgementRepo(db)
	notificationRepo := repository.NewPostgresNotificationRepo(db)
	deliveryRepo := repository.NewPostgresDeliveryRepo(db)

	// 4. セキュリティサービス
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewContentSanitizer()

	// 5. 配信
	mailer := notify.NewSMTPMailer(notify.SMTPConfig{
		Host:        cfg.SMTPHost,
		Port:        cfg.SMTPPort,
		Username:    cfg.SMTPUsername,
		Password:    cfg.SMTPPassword,
		From:        cfg.MailFrom,
		FromName:    cfg.MailFromName,
		ImplicitTLS: cfg.SMTPImplicitTLS,
	})
	dispatcher := notify.NewDispatcher(
		s.preferences, notificationRepo, deliveryRepo, mailer, collector, logger,
		notify.DispatcherConfig{
			MaxConcurrent: cfg.DispatchMaxConcurrent,
			EmailTimeout:  cfg.EmailTimeout,
			DashboardURL:  cfg.DashboardURL,
		},
	)

	// 6. スクレイプ
	renderer := scraper.NewChromeRenderer(scraper.ChromeRendererConfig{
		ExecPath:    cfg.ChromePath,
		UserAgent:   cfg.ScrapeUserAgent,
		SettleDelay: renderSettleDelay,
	}, logger)
	extractor := scraper.NewHTMLExtractor(renderer, ssrfGuard, logger)
	feeds := scraper.NewFeedWatcher(ssrfGuard, sanitizer, logger, cfg.ScrapeTimeout, cfg.FeedMaxSize, cfg.ScrapeUserAgent)

	s.processor = scrape.NewProcessor(
		sourceRepo, s.alerts, extractor, feeds, dispatcher, collector, logger,
		cfg.AlertDefaultTTL, cfg.ScrapeTimeout,
	)
	s.scheduler = scrape.NewScheduler(
		sourceRepo, s.processor, logger, cfg.ScrapeMaxConcurrent, cfg.ScrapeRatePerMinute,
	)

	// 7. ダイジェストとライフサイクル
	s.aggregator = digest.NewAggregator(s.preferences, s.alerts, mailer, collector, logger, digest.Config{
		Window:       cfg.DigestWindow,
		EmailTimeout: cfg.EmailTimeout,
		DashboardURL: cfg.DashboardURL,
	})
	s.expiry = lifecycle.NewExpiryJob(db, collector, logger)

	return s, nil
}

// newLocker はREDIS_URLが設定されていればRedisLockerを、なければNoopLockerを返す。
func newLocker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (joblock.Locker, error) {
	if cfg.RedisURL == "" {
		logger.Info("REDIS_URLが未設定のためプロセス間のジョブロックを無効にします")
		return joblock.NoopLocker{}, nil
	}

	locker, err := joblock.NewRedisLockerFromURL(cfg.RedisURL, cfg.JobLockTTL)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := locker.Ping(pingCtx); err != nil {
		locker.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("redis connection established", slog.Duration("lock_ttl", cfg.JobLockTTL))
	return locker, nil
}

// close は開いたリソースを逆順に閉じる。
func (s *services) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			slog.Warn("リソースのクローズに失敗しました", slog.String("error", err.Error()))
		}
	}
}
