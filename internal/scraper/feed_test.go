package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/regwatch/internal/security"
)

// mockSSRFGuard はSafeHTTPClientのテスト用モック。httptestサーバーへの接続を許可する。
type mockSSRFGuard struct {
	validateErr error
}

func (m *mockSSRFGuard) NewSafeClient(timeout time.Duration, _ int64) *http.Client {
	return &http.Client{Timeout: timeout}
}

func (m *mockSSRFGuard) ValidateURL(_ string) error {
	return m.validateErr
}

const announcementsRSS = `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>Council housing news</title>
    <item>
      <title>Older notice</title>
      <guid>notice-41</guid>
      <link>https://council.example.gov.uk/news/41</link>
      <pubDate>Mon, 06 Jan 2025 09:00:00 GMT</pubDate>
    </item>
    <item>
      <title>New HMO fees from &lt;b&gt;April&lt;/b&gt;</title>
      <guid>notice-42</guid>
      <link>https://council.example.gov.uk/news/42</link>
      <pubDate>Mon, 03 Mar 2025 09:00:00 GMT</pubDate>
    </item>
  </channel>
</rss>`

func newFeedServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestFeedWatcher_Latest_ReturnsNewestEntry(t *testing.T) {
	server := newFeedServer(t, http.StatusOK, announcementsRSS)

	var buf bytes.Buffer
	w := NewFeedWatcher(&mockSSRFGuard{}, security.NewContentSanitizer(), newTestLogger(&buf), 5*time.Second, 1<<20, "")

	entry, err := w.Latest(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Latest returned error: %v", err)
	}
	if entry.GUID != "notice-42" {
		t.Errorf("GUID = %q, want notice-42", entry.GUID)
	}
	if entry.Title != "New HMO fees from April" {
		t.Errorf("Title = %q, want sanitized title", entry.Title)
	}
	if entry.Link != "https://council.example.gov.uk/news/42" {
		t.Errorf("Link = %q", entry.Link)
	}
	if entry.PublishedAt == nil || entry.PublishedAt.Month() != time.March {
		t.Errorf("PublishedAt = %v", entry.PublishedAt)
	}
}

func TestFeedWatcher_Latest_EmptyFeed(t *testing.T) {
	server := newFeedServer(t, http.StatusOK, `<?xml version="1.0"?><rss version="2.0"><channel><title>x</title></channel></rss>`)

	var buf bytes.Buffer
	w := NewFeedWatcher(&mockSSRFGuard{}, security.NewContentSanitizer(), newTestLogger(&buf), 5*time.Second, 1<<20, "")

	_, err := w.Latest(context.Background(), server.URL)
	if !errors.Is(err, ErrEmptyFeed) {
		t.Errorf("expected ErrEmptyFeed, got %v", err)
	}
}

func TestFeedWatcher_Latest_HTTPError(t *testing.T) {
	server := newFeedServer(t, http.StatusServiceUnavailable, "")

	var buf bytes.Buffer
	w := NewFeedWatcher(&mockSSRFGuard{}, security.NewContentSanitizer(), newTestLogger(&buf), 5*time.Second, 1<<20, "")

	if _, err := w.Latest(context.Background(), server.URL); err == nil {
		t.Fatal("503応答でエラーが返されませんでした")
	}
}

func TestFeedWatcher_Latest_SSRFRejected(t *testing.T) {
	var buf bytes.Buffer
	guard := &mockSSRFGuard{validateErr: errors.New("blocked IP address")}
	w := NewFeedWatcher(guard, security.NewContentSanitizer(), newTestLogger(&buf), 5*time.Second, 1<<20, "")

	if _, err := w.Latest(context.Background(), "http://10.0.0.1/feed"); err == nil {
		t.Fatal("SSRF検証失敗でエラーが返されませんでした")
	}
}
