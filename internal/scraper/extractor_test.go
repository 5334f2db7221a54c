package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// fakeRenderer はRendererのテスト用実装。固定のHTMLまたはエラーを返す。
type fakeRenderer struct {
	page  string
	err   error
	calls int
}

func (r *fakeRenderer) Render(_ context.Context, _ string) (string, error) {
	r.calls++
	return r.page, r.err
}

// fakeValidator はURLValidatorのテスト用実装。
type fakeValidator struct {
	err error
}

func (v *fakeValidator) ValidateNavigation(_ context.Context, _ string) error {
	return v.err
}

func TestHTMLExtractor_Extract_Success(t *testing.T) {
	var buf bytes.Buffer
	renderer := &fakeRenderer{page: councilPage}
	ext := NewHTMLExtractor(renderer, &fakeValidator{}, newTestLogger(&buf))

	facts, err := ext.Extract(context.Background(), "https://council.example.gov.uk/hmo")
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if facts.Count() != 5 {
		t.Errorf("fields found = %d, want 5", facts.Count())
	}
}

func TestHTMLExtractor_Extract_EmptyPageIsNotAnError(t *testing.T) {
	var buf bytes.Buffer
	renderer := &fakeRenderer{page: `<html><body><p>Under maintenance</p></body></html>`}
	ext := NewHTMLExtractor(renderer, &fakeValidator{}, newTestLogger(&buf))

	facts, err := ext.Extract(context.Background(), "https://council.example.gov.uk/hmo")
	if err != nil {
		t.Fatalf("一致なしはエラーであってはならない: %v", err)
	}
	if facts == nil || !facts.IsEmpty() {
		t.Errorf("expected empty facts, got %+v", facts)
	}
}

func TestHTMLExtractor_Extract_Timeout(t *testing.T) {
	var buf bytes.Buffer
	renderer := &fakeRenderer{err: fmt.Errorf("navigate: %w", context.DeadlineExceeded)}
	ext := NewHTMLExtractor(renderer, &fakeValidator{}, newTestLogger(&buf))

	facts, err := ext.Extract(context.Background(), "https://slow.example.gov.uk")
	if facts != nil {
		t.Errorf("タイムアウト時に事実が返されました: %+v", facts)
	}
	if !errors.Is(err, ErrExtractionFailed) {
		t.Fatalf("expected ErrExtractionFailed, got %v", err)
	}
	if !IsTimeout(err) {
		t.Errorf("IsTimeout(%v) = false, want true", err)
	}

	var extErr *ExtractionError
	if !errors.As(err, &extErr) {
		t.Fatalf("expected *ExtractionError, got %T", err)
	}
	if extErr.URL != "https://slow.example.gov.uk" {
		t.Errorf("URL = %q", extErr.URL)
	}
}

func TestHTMLExtractor_Extract_ContextDeadlineWithoutWrappedCause(t *testing.T) {
	var buf bytes.Buffer
	renderer := &fakeRenderer{err: errors.New("target closed")}
	ext := NewHTMLExtractor(renderer, &fakeValidator{}, newTestLogger(&buf))

	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	<-ctx.Done()

	_, err := ext.Extract(ctx, "https://slow.example.gov.uk")
	if !IsTimeout(err) {
		t.Errorf("期限切れのctxでの描画失敗はタイムアウトとして扱われるべき: %v", err)
	}
}

func TestHTMLExtractor_Extract_BlockedPage(t *testing.T) {
	var buf bytes.Buffer
	renderer := &fakeRenderer{page: `<html><head><title>Just a moment...</title></head><body>Checking your browser</body></html>`}
	ext := NewHTMLExtractor(renderer, &fakeValidator{}, newTestLogger(&buf))

	_, err := ext.Extract(context.Background(), "https://council.example.gov.uk")
	if !errors.Is(err, ErrExtractionFailed) {
		t.Fatalf("expected ErrExtractionFailed, got %v", err)
	}
	if !errors.Is(err, ErrBlocked) {
		t.Errorf("expected ErrBlocked, got %v", err)
	}
}

func TestHTMLExtractor_Extract_ValidationFailureSkipsRender(t *testing.T) {
	var buf bytes.Buffer
	renderer := &fakeRenderer{page: councilPage}
	ext := NewHTMLExtractor(renderer, &fakeValidator{err: errors.New("blocked IP address")}, newTestLogger(&buf))

	_, err := ext.Extract(context.Background(), "http://10.0.0.1/")
	if !errors.Is(err, ErrExtractionFailed) {
		t.Fatalf("expected ErrExtractionFailed, got %v", err)
	}
	if renderer.calls != 0 {
		t.Errorf("検証失敗時に描画が呼ばれました: %d", renderer.calls)
	}
}

func TestDetectBlockPage(t *testing.T) {
	tests := []struct {
		name    string
		page    string
		blocked bool
	}{
		{name: "Cloudflare", page: `<title>Attention Required! | Cloudflare</title>`, blocked: true},
		{name: "captcha", page: `<div id="captcha-delivery"></div>`, blocked: true},
		{name: "通常ページ", page: councilPage, blocked: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, got := DetectBlockPage(tt.page)
			if got != tt.blocked {
				t.Errorf("DetectBlockPage = %v, want %v", got, tt.blocked)
			}
		})
	}
}
