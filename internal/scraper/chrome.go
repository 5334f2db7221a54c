package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/chromedp"
)

// ChromeRendererConfig はヘッドレスChromeの起動設定。
type ChromeRendererConfig struct {
	// ExecPath はChrome実行ファイルのパス。空の場合はPATHから探索する。
	ExecPath string
	// UserAgent はナビゲーション時のUser-Agent。空の場合はChromeのデフォルト。
	UserAgent string
	// SettleDelay はDOM準備完了後、スクリプトによる描画を待つ時間。
	SettleDelay time.Duration
}

// ChromeRenderer はchromedpでヘッドレスChromeを駆動し、描画後のHTMLを返す。
// 呼び出しごとにブラウザを起動し、ctxのキャンセル時にプロセスごと解放する。
type ChromeRenderer struct {
	cfg    ChromeRendererConfig
	logger *slog.Logger
}

// NewChromeRenderer はChromeRendererの新しいインスタンスを生成する。
func NewChromeRenderer(cfg ChromeRendererConfig, logger *slog.Logger) *ChromeRenderer {
	return &ChromeRenderer{cfg: cfg, logger: logger}
}

// Render はURLへナビゲートし、body要素の準備完了を待ってからHTMLを取得する。
// タイムアウトはctxで制御する（呼び出し側でSource単位のタイムアウトを設定すること）。
func (r *ChromeRenderer) Render(ctx context.Context, url string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1366, 900),
	)
	if r.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(r.cfg.UserAgent))
	}
	if r.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(r.cfg.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	start := time.Now()

	actions := []chromedp.Action{
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if r.cfg.SettleDelay > 0 {
		actions = append(actions, chromedp.Sleep(r.cfg.SettleDelay))
	}

	var page string
	actions = append(actions, chromedp.OuterHTML("html", &page, chromedp.ByQuery))

	if err := chromedp.Run(browserCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("ページ描画が中断されました: %w", ctxErr)
		}
		return "", fmt.Errorf("ページ描画に失敗: %w", err)
	}

	r.logger.Debug("ページを描画しました",
		slog.String("url", url),
		slog.Int("html_bytes", len(page)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return page, nil
}
