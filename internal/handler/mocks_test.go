package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/regwatch/internal/digest"
	"github.com/hitoshi/regwatch/internal/joblock"
	"github.com/hitoshi/regwatch/internal/middleware"
	"github.com/hitoshi/regwatch/internal/model"
	"github.com/hitoshi/regwatch/internal/worker/scrape"
)

const testToken = "test-admin-token"

// --- モック ---

type mockScrapeRunner struct {
	runOnceFn func(ctx context.Context, sourceID string) (scrape.Summary, error)
}

func (m *mockScrapeRunner) RunOnce(ctx context.Context, sourceID string) (scrape.Summary, error) {
	return m.runOnceFn(ctx, sourceID)
}

type mockDigestRunner struct {
	runFn func(ctx context.Context) (digest.Result, error)
}

func (m *mockDigestRunner) Run(ctx context.Context) (digest.Result, error) {
	return m.runFn(ctx)
}

type mockExpiryRunner struct {
	runFn func(ctx context.Context) (int64, error)
}

func (m *mockExpiryRunner) Run(ctx context.Context) (int64, error) {
	return m.runFn(ctx)
}

type mockLocker struct {
	tryLockFn func(ctx context.Context, job string) (joblock.UnlockFunc, error)
}

func (m *mockLocker) TryLock(ctx context.Context, job string) (joblock.UnlockFunc, error) {
	return m.tryLockFn(ctx, job)
}

type mockIngester struct {
	ingestFn func(ctx context.Context, c model.Change) (*model.Alert, error)
}

func (m *mockIngester) Ingest(ctx context.Context, c model.Change) (*model.Alert, error) {
	return m.ingestFn(ctx, c)
}

type mockAlertStore struct {
	findByIDFn func(ctx context.Context, id string) (*model.Alert, error)
	archiveFn  func(ctx context.Context, id string) (*model.Alert, error)
}

func (m *mockAlertStore) FindByID(ctx context.Context, id string) (*model.Alert, error) {
	return m.findByIDFn(ctx, id)
}

func (m *mockAlertStore) Archive(ctx context.Context, id string) (*model.Alert, error) {
	return m.archiveFn(ctx, id)
}

type mockAckStore struct {
	upsertFn func(ctx context.Context, ack *model.Acknowledgement) error
}

func (m *mockAckStore) Upsert(ctx context.Context, ack *model.Acknowledgement) error {
	return m.upsertFn(ctx, ack)
}

type mockUserChecker struct {
	existsFn func(ctx context.Context, id string) (bool, error)
}

func (m *mockUserChecker) Exists(ctx context.Context, id string) (bool, error) {
	return m.existsFn(ctx, id)
}

type mockPreferenceStore struct {
	findByUserIDFn func(ctx context.Context, userID string) (*model.AlertPreference, error)
	upsertFn       func(ctx context.Context, pref *model.AlertPreference) error
}

func (m *mockPreferenceStore) FindByUserID(ctx context.Context, userID string) (*model.AlertPreference, error) {
	return m.findByUserIDFn(ctx, userID)
}

func (m *mockPreferenceStore) Upsert(ctx context.Context, pref *model.AlertPreference) error {
	return m.upsertFn(ctx, pref)
}

// --- ヘルパー ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func knownUsers(ids ...string) *mockUserChecker {
	return &mockUserChecker{
		existsFn: func(ctx context.Context, id string) (bool, error) {
			for _, known := range ids {
				if known == id {
					return true, nil
				}
			}
			return false, nil
		},
	}
}

// newTestRouter はデフォルトのモックでルーターを構成する。overrideで一部の依存を差し替える。
func newTestRouter(override func(d *RouterDeps)) http.Handler {
	deps := &RouterDeps{
		Logger:     discardLogger(),
		AdminToken: testToken,
		Scraper: &mockScrapeRunner{runOnceFn: func(ctx context.Context, sourceID string) (scrape.Summary, error) {
			return scrape.Summary{Failures: []scrape.Failure{}}, nil
		}},
		Digest: &mockDigestRunner{runFn: func(ctx context.Context) (digest.Result, error) {
			return digest.Result{}, nil
		}},
		Expiry: &mockExpiryRunner{runFn: func(ctx context.Context) (int64, error) {
			return 0, nil
		}},
		Locker: joblock.NoopLocker{},
		ChangeIngester: &mockIngester{ingestFn: func(ctx context.Context, c model.Change) (*model.Alert, error) {
			return &model.Alert{ID: "alert-1", Severity: model.SeverityInfo}, nil
		}},
		Alerts: &mockAlertStore{
			findByIDFn: func(ctx context.Context, id string) (*model.Alert, error) { return nil, nil },
			archiveFn:  func(ctx context.Context, id string) (*model.Alert, error) { return nil, nil },
		},
		Acknowledgements: &mockAckStore{upsertFn: func(ctx context.Context, ack *model.Acknowledgement) error { return nil }},
		Preferences: &mockPreferenceStore{
			findByUserIDFn: func(ctx context.Context, userID string) (*model.AlertPreference, error) { return nil, nil },
			upsertFn:       func(ctx context.Context, pref *model.AlertPreference) error { return nil },
		},
		Users: knownUsers("user-1"),
	}
	if override != nil {
		override(deps)
	}
	return NewRouter(deps)
}

// doRequest は管理トークン付きでリクエストを送り、レスポンスを返す。
func doRequest(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.NewDecoder(bytes.NewReader(w.Body.Bytes())).Decode(dst); err != nil {
		t.Fatalf("failed to decode response: %v\nraw: %s", err, w.Body.String())
	}
}

func assertErrorCode(t *testing.T, w *httptest.ResponseRecorder, wantStatus int, wantCode string) {
	t.Helper()
	if w.Code != wantStatus {
		t.Errorf("status = %d, want %d (body: %s)", w.Code, wantStatus, w.Body.String())
	}
	var body middleware.ErrorResponseBody
	decodeBody(t, w, &body)
	if body.Code != wantCode {
		t.Errorf("code = %q, want %q", body.Code, wantCode)
	}
}
