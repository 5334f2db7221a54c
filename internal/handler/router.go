package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/regwatch/internal/joblock"
	"github.com/hitoshi/regwatch/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	AdminToken  string
	RateLimiter *middleware.RateLimiter

	// 公開エンドポイント
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// ジョブ
	Scraper ScrapeRunner
	Digest  DigestRunner
	Expiry  ExpiryRunner
	Locker  joblock.Locker

	// 変更取り込み
	ChangeIngester ChangeIngester

	// アラート・配信設定
	Alerts           AlertStore
	Acknowledgements AcknowledgementStore
	Preferences      PreferenceStore
	Users            UserChecker
}

// NewRouter は運用APIのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → SecurityHeaders → (/api/*のみ) AdminToken → RateLimit
//
// /health と /metrics は認証なしで公開する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	jobHandler := NewJobHandler(deps.Scraper, deps.Digest, deps.Expiry, deps.Locker, logger)
	changeHandler := NewChangeHandler(deps.ChangeIngester, logger)
	alertHandler := NewAlertHandler(deps.Alerts, deps.Acknowledgements, deps.Users, logger)
	prefHandler := NewPreferenceHandler(deps.Preferences, deps.Users, logger)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- 管理トークンが必要なルート ---
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewAdminTokenMiddleware(deps.AdminToken))
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/scrape", jobHandler.RunScrape)
			r.Post("/digest", jobHandler.RunDigest)
			r.Post("/lifecycle", jobHandler.RunLifecycle)
		})

		r.Post("/changes", changeHandler.Ingest)

		r.Route("/alerts/{id}", func(r chi.Router) {
			r.Post("/archive", alertHandler.Archive)
			r.Post("/acknowledgements", alertHandler.Acknowledge)
		})

		r.Route("/users/{id}/preferences", func(r chi.Router) {
			r.Get("/", prefHandler.Get)
			r.Put("/", prefHandler.Update)
		})
	})

	return r
}
