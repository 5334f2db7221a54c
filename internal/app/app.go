// Package app はプロセスの起動とサブコマンドごとの依存関係の組み立てを行う。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/regwatch/internal/config"
	"github.com/hitoshi/regwatch/internal/database"
	"github.com/hitoshi/regwatch/internal/handler"
	"github.com/hitoshi/regwatch/internal/joblock"
	"github.com/hitoshi/regwatch/internal/logger"
	"github.com/hitoshi/regwatch/internal/metrics"
	"github.com/hitoshi/regwatch/internal/middleware"
)

// jobWriteTimeout はジョブ起動APIを同期実行するためのHTTP書き込みタイムアウト。
const jobWriteTimeout = 15 * time.Minute

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. .envで指定されたログレベルを反映する
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	// SIGINTまたはSIGTERMでキャンセルされるコンテキスト
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cmd == CommandMigrate {
		return runMigrate(cfg)
	}

	svc, err := newServices(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer svc.close()

	switch {
	case cmd == CommandWorker:
		return runWorker(ctx, cfg, svc)
	case cmd.isOneShot():
		return runJob(ctx, svc.jobs(), cmd, scrapeSourceID(args))
	default:
		return runServe(ctx, cfg, svc)
	}
}

// newRouter は運用APIのルーターを構成する。
func newRouter(cfg *config.Config, svc *services, limiter *middleware.RateLimiter) http.Handler {
	return handler.NewRouter(&handler.RouterDeps{
		Logger:      slog.Default(),
		AdminToken:  cfg.AdminToken,
		RateLimiter: limiter,

		HealthChecker:  svc.db,
		MetricsHandler: metrics.Handler(svc.registry),

		Scraper: svc.scheduler,
		Digest:  svc.aggregator,
		Expiry:  svc.expiry,
		Locker:  svc.locker,

		ChangeIngester: svc.processor,

		Alerts:           svc.alerts,
		Acknowledgements: svc.acks,
		Preferences:      svc.preferences,
		Users:            svc.users,
	})
}

// runServe は運用APIサーバーモードで起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config, svc *services) error {
	if cfg.AdminToken == "" {
		slog.Warn("ADMIN_TOKENが未設定のため /api/* はすべて401を返します")
	}

	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(cfg.RateLimitAPI), slog.Default())
	defer limiter.Stop()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      newRouter(cfg, svc, limiter),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: jobWriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// jobSet は単発ジョブの実行に必要な依存関係。
type jobSet struct {
	scraper handler.ScrapeRunner
	digest  handler.DigestRunner
	expiry  handler.ExpiryRunner
	locker  joblock.Locker
}

func (s *services) jobs() jobSet {
	return jobSet{
		scraper: s.scheduler,
		digest:  s.aggregator,
		expiry:  s.expiry,
		locker:  s.locker,
	}
}

// runJob は単発ジョブを実行する。外部スケジューラからの起動を想定する。
// 同じジョブが他のプロセスで実行中の場合は何もせずに正常終了する。
func runJob(ctx context.Context, jobs jobSet, cmd Command, sourceID string) error {
	job := string(cmd)
	err := joblock.Do(ctx, jobs.locker, job, func(ctx context.Context) error {
		switch cmd {
		case CommandScrape:
			summary, err := jobs.scraper.RunOnce(ctx, sourceID)
			if err != nil {
				return err
			}
			if summary.Failed > 0 {
				slog.Warn("一部のSourceのスクレイプに失敗しました",
					slog.Int("failed", summary.Failed),
					slog.Int("sources", summary.Sources),
				)
			}
			return nil
		case CommandDigest:
			_, err := jobs.digest.Run(ctx)
			return err
		case CommandLifecycle:
			_, err := jobs.expiry.Run(ctx)
			return err
		default:
			return fmt.Errorf("unknown job: %s", job)
		}
	})
	if errors.Is(err, joblock.ErrLocked) {
		slog.Info("ジョブは他のプロセスで実行中のためスキップしました", slog.String("job", job))
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s job failed: %w", job, err)
	}
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	before, after, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("from_version", uint64(before.Version)),
		slog.Uint64("to_version", uint64(after.Version)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// DockerのHEALTHCHECKから呼ばれるサブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
