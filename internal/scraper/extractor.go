// Package scraper は規制当局のページから型付きの事実を抽出する。
// ヘッドレスブラウザでページを描画し、キーワードを手がかりにした
// パターンマッチで料金・処理期間・連絡先を取り出す。
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/regwatch/internal/model"
)

// ErrExtractionFailed はナビゲーション失敗・タイムアウト・描画エラー・ボット対策による
// ブロックなど、ページを確認できなかったことを示す。
// 「確認できたが何も見つからなかった」場合はこのエラーにならない。
var ErrExtractionFailed = errors.New("extraction failed")

// ErrBlocked はボット対策ページが返されたことを示す。
var ErrBlocked = errors.New("blocked by anti-automation check")

// ExtractionError はSource単位の抽出失敗を表す。
// errors.Is(err, ErrExtractionFailed) は常にtrueになる。
type ExtractionError struct {
	URL    string
	Reason string
	Err    error
}

// Error はerrorインターフェースを実装する。
func (e *ExtractionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("extraction failed for %s: %s", e.URL, e.Reason)
	}
	return fmt.Sprintf("extraction failed for %s: %s: %v", e.URL, e.Reason, e.Err)
}

// Unwrap はErrExtractionFailedと原因エラーの両方を返す。
func (e *ExtractionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrExtractionFailed}
	}
	return []error{ErrExtractionFailed, e.Err}
}

// IsTimeout は抽出失敗がタイムアウトによるものかを返す。
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// Extractor はURLから事実を抽出するインターフェース。
// ヒューリスティックな実装を差し替えたり、テストでモックしたりできるよう分離している。
type Extractor interface {
	Extract(ctx context.Context, url string) (*model.ScrapedFacts, error)
}

// Renderer はページを描画してHTMLを返すインターフェース。
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// URLValidator はナビゲーション前のURL検証インターフェース。
// security.SSRFGuardServiceを抽象化する。
type URLValidator interface {
	ValidateNavigation(ctx context.Context, rawURL string) error
}

// HTMLExtractor はRendererで描画したHTMLからParseFactsで事実を抽出する。
type HTMLExtractor struct {
	renderer  Renderer
	validator URLValidator
	logger    *slog.Logger
}

// NewHTMLExtractor はHTMLExtractorの新しいインスタンスを生成する。
func NewHTMLExtractor(renderer Renderer, validator URLValidator, logger *slog.Logger) *HTMLExtractor {
	return &HTMLExtractor{
		renderer:  renderer,
		validator: validator,
		logger:    logger,
	}
}

// Extract はページを描画して事実を抽出する。
// 描画できなかった場合は*ExtractionErrorを返す。
// 描画できたがどのフィールドも一致しなかった場合は、全フィールド未設定の結果を返す（エラーではない）。
func (e *HTMLExtractor) Extract(ctx context.Context, url string) (*model.ScrapedFacts, error) {
	start := time.Now()

	if err := e.validator.ValidateNavigation(ctx, url); err != nil {
		return nil, &ExtractionError{URL: url, Reason: "URL検証に失敗", Err: err}
	}

	page, err := e.renderer.Render(ctx, url)
	if err != nil {
		reason := "ページ描画に失敗"
		if IsTimeout(err) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			reason = "ページ描画がタイムアウト"
			if !IsTimeout(err) {
				err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
			}
		}
		return nil, &ExtractionError{URL: url, Reason: reason, Err: err}
	}

	if marker, blocked := DetectBlockPage(page); blocked {
		return nil, &ExtractionError{
			URL:    url,
			Reason: fmt.Sprintf("ボット対策ページを検出 (%s)", marker),
			Err:    ErrBlocked,
		}
	}

	facts, err := ParseFacts(page)
	if err != nil {
		return nil, &ExtractionError{URL: url, Reason: "HTMLの解析に失敗", Err: err}
	}

	e.logger.Debug("事実の抽出が完了しました",
		slog.String("url", url),
		slog.Int("fields_found", facts.Count()),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return facts, nil
}

// blockMarkers はボット対策のインタースティシャルページに現れる文字列。
var blockMarkers = []string{
	"just a moment...",
	"attention required!",
	"access denied",
	"verify you are human",
	"checking your browser",
	"cf-browser-verification",
	"captcha-delivery",
	"request unsuccessful. incapsula",
}

// DetectBlockPage はHTMLがボット対策ページかどうかを判定する。
// 先頭16KBのみを検査する。
func DetectBlockPage(page string) (string, bool) {
	head := page
	if len(head) > 16384 {
		head = head[:16384]
	}
	lower := strings.ToLower(head)
	for _, marker := range blockMarkers {
		if strings.Contains(lower, marker) {
			return marker, true
		}
	}
	return "", false
}
