package scrape

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/regwatch/internal/model"
	"github.com/hitoshi/regwatch/internal/scraper"
)

// 失敗理由のラベル値（メトリクスとログで使う）
const (
	ReasonTimeout    = "timeout"
	ReasonBlocked    = "blocked"
	ReasonNavigation = "navigation"
	ReasonPersist    = "persist"
)

// ErrPersist はスクレイプ結果の保存に失敗したことを示す。
var ErrPersist = errors.New("failed to persist scrape result")

// maxErrorMessageLen はlast_errorに保存するメッセージの最大長。
const maxErrorMessageLen = 500

// ClassifyFailure は抽出エラーを失敗理由に分類する。
func ClassifyFailure(err error) string {
	switch {
	case errors.Is(err, ErrPersist):
		return ReasonPersist
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, scraper.ErrBlocked):
		return ReasonBlocked
	default:
		return ReasonNavigation
	}
}

// ApplyScrapeSuccess は抽出成功時にSourceの取得状態をリセットする。
// 連続エラー回数を0にし、エラーメッセージをクリアする。
func ApplyScrapeSuccess(src *model.Source, now time.Time) {
	t := now.UTC()
	src.ConsecutiveErrors = 0
	src.LastError = ""
	src.LastScrapedAt = &t
}

// ApplyScrapeFailure は抽出失敗時に連続エラー回数をインクリメントし、理由を記録する。
// 事実とフィードGUIDは変更しない。再試行は次回のスイープで行う。
func ApplyScrapeFailure(src *model.Source, err error, now time.Time) {
	t := now.UTC()
	src.ConsecutiveErrors++
	msg := fmt.Sprintf("%s (%d回連続): %s", ClassifyFailure(err), src.ConsecutiveErrors, err.Error())
	if len(msg) > maxErrorMessageLen {
		msg = strings.ToValidUTF8(msg[:maxErrorMessageLen], "")
	}
	src.LastError = msg
	src.LastScrapedAt = &t
}
