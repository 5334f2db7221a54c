package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// ErrEmptyFeed はフィードにエントリが1件もないことを示す。
var ErrEmptyFeed = errors.New("feed has no entries")

// FeedEntry はお知らせフィードの最新エントリ。
type FeedEntry struct {
	GUID        string
	Title       string
	Link        string
	PublishedAt *time.Time
}

// SafeHTTPClient はSSRF防止機能付きHTTPクライアントの生成と事前検証のインターフェース。
// security.SSRFGuardServiceを抽象化する。
type SafeHTTPClient interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// TextSanitizer はフィード由来の文字列からマークアップを除去するインターフェース。
type TextSanitizer interface {
	PlainText(raw string) string
}

// FeedWatcher はSourceのお知らせフィード（RSS/Atom）を取得し、最新エントリを返す。
type FeedWatcher struct {
	guard       SafeHTTPClient
	sanitizer   TextSanitizer
	logger      *slog.Logger
	timeout     time.Duration
	maxBodySize int64
	userAgent   string
}

// NewFeedWatcher はFeedWatcherの新しいインスタンスを生成する。
func NewFeedWatcher(
	guard SafeHTTPClient,
	sanitizer TextSanitizer,
	logger *slog.Logger,
	timeout time.Duration,
	maxBodySize int64,
	userAgent string,
) *FeedWatcher {
	if userAgent == "" {
		userAgent = "Regwatch/1.0 (+regulatory change monitor)"
	}
	return &FeedWatcher{
		guard:       guard,
		sanitizer:   sanitizer,
		logger:      logger,
		timeout:     timeout,
		maxBodySize: maxBodySize,
		userAgent:   userAgent,
	}
}

// Latest はフィードを取得して最新のエントリを返す。
// 取得・パースに失敗した場合はエラーを返す。エントリが0件の場合はErrEmptyFeedを返す。
func (w *FeedWatcher) Latest(ctx context.Context, feedURL string) (*FeedEntry, error) {
	start := time.Now()

	if err := w.guard.ValidateURL(feedURL); err != nil {
		return nil, fmt.Errorf("SSRF検証に失敗: %w", err)
	}

	client := w.guard.NewSafeClient(w.timeout, w.maxBodySize)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", w.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("予期しないHTTPステータス: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, w.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("レスポンス読み取り失敗: %w", err)
	}

	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("フィードのパースに失敗: %w", err)
	}

	entry := w.newestEntry(parsed.Items)
	if entry == nil {
		return nil, ErrEmptyFeed
	}

	w.logger.Debug("お知らせフィードを取得しました",
		slog.String("feed_url", feedURL),
		slog.Int("items_total", len(parsed.Items)),
		slog.String("newest_guid", entry.GUID),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return entry, nil
}

// newestEntry は公開日時が最も新しいエントリを返す。
// 公開日時を持たないフィードでは先頭のエントリを最新とみなす。
func (w *FeedWatcher) newestEntry(items []*gofeed.Item) *FeedEntry {
	var newest *gofeed.Item
	var newestAt *time.Time
	for _, item := range items {
		if item == nil || entryGUID(item) == "" {
			continue
		}
		at := item.PublishedParsed
		if at == nil {
			at = item.UpdatedParsed
		}
		if newest == nil {
			newest, newestAt = item, at
			continue
		}
		if at != nil && (newestAt == nil || at.After(*newestAt)) {
			newest, newestAt = item, at
		}
	}
	if newest == nil {
		return nil
	}

	entry := &FeedEntry{
		GUID:  entryGUID(newest),
		Title: strings.TrimSpace(w.sanitizer.PlainText(newest.Title)),
		Link:  newest.Link,
	}
	if entry.Link == "" && (strings.HasPrefix(entry.GUID, "http://") || strings.HasPrefix(entry.GUID, "https://")) {
		entry.Link = entry.GUID
	}
	if newestAt != nil {
		t := newestAt.UTC()
		entry.PublishedAt = &t
	}
	return entry
}

// entryGUID はGUID、なければリンクをエントリの識別子として返す。
func entryGUID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	return item.Link
}
