package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/regwatch/internal/config"
)

// runWorker はワーカーモードで起動する。
// スクレイプ・ダイジェスト・期限切れスイープをそれぞれのティッカーで実行し、
// ctxがキャンセルされると停止する。各実行はAPI/CLIと同じジョブロックを取得する。
func runWorker(ctx context.Context, cfg *config.Config, svc *services) error {
	slog.Info("worker starting",
		slog.Duration("scrape_interval", cfg.ScrapeInterval),
		slog.Int("max_concurrent", cfg.ScrapeMaxConcurrent),
		slog.Duration("digest_interval", cfg.DigestInterval),
		slog.Duration("lifecycle_interval", cfg.LifecycleInterval),
	)

	jobs := svc.jobs()
	var wg sync.WaitGroup
	start := func(cmd Command, interval time.Duration, immediate bool) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runTicker(ctx, jobs, cmd, interval, immediate)
		}()
	}
	start(CommandScrape, cfg.ScrapeInterval, true)
	start(CommandLifecycle, cfg.LifecycleInterval, true)
	// ダイジェストは再起動のたびに送られないよう初回ティックまで待つ
	start(CommandDigest, cfg.DigestInterval, false)

	wg.Wait()

	slog.Info("worker stopped gracefully")
	return nil
}

// runTicker はintervalごとにcmdをrunJob経由で実行する。
// immediateがtrueの場合は起動直後にも1回実行する。ctxがキャンセルされると戻る。
func runTicker(ctx context.Context, jobs jobSet, cmd Command, interval time.Duration, immediate bool) {
	logger := slog.With(slog.String("job", string(cmd)))
	if interval <= 0 {
		logger.Warn("実行間隔が不正なためティッカーを起動しません", slog.Duration("interval", interval))
		return
	}

	run := func() {
		if err := runJob(ctx, jobs, cmd, ""); err != nil {
			logger.Error("定期ジョブの実行に失敗しました", slog.String("error", err.Error()))
		}
	}

	if immediate {
		run()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("ticker stopped")
			return
		case <-ticker.C:
			run()
		}
	}
}
