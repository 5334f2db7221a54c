package scrape

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/regwatch/internal/model"
	"github.com/hitoshi/regwatch/internal/notify"
	"github.com/hitoshi/regwatch/internal/repository"
	"github.com/hitoshi/regwatch/internal/scraper"
)

// --- モック定義 ---

// mockSourceRepo はSourceRepositoryのテスト用モック。
type mockSourceRepo struct {
	findByIDFunc      func(ctx context.Context, id string) (*model.Source, error)
	listAllFunc       func(ctx context.Context) ([]*model.Source, error)
	saveScrapeFunc    func(ctx context.Context, src *model.Source, alerts []*model.Alert) error
	recordFailureFunc func(ctx context.Context, src *model.Source) error

	mu       sync.Mutex
	saved    []*model.Source
	alerts   []*model.Alert
	failures []*model.Source
}

func (m *mockSourceRepo) FindByID(ctx context.Context, id string) (*model.Source, error) {
	if m.findByIDFunc != nil {
		return m.findByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *mockSourceRepo) ListAll(ctx context.Context) ([]*model.Source, error) {
	if m.listAllFunc != nil {
		return m.listAllFunc(ctx)
	}
	return nil, nil
}

func (m *mockSourceRepo) SaveScrape(ctx context.Context, src *model.Source, alerts []*model.Alert) error {
	if m.saveScrapeFunc != nil {
		if err := m.saveScrapeFunc(ctx, src, alerts); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := *src
	m.saved = append(m.saved, &saved)
	m.alerts = append(m.alerts, alerts...)
	return nil
}

func (m *mockSourceRepo) RecordFailure(ctx context.Context, src *model.Source) error {
	if m.recordFailureFunc != nil {
		if err := m.recordFailureFunc(ctx, src); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	failed := *src
	m.failures = append(m.failures, &failed)
	return nil
}

// mockAlertRepo はAlertRepositoryのテスト用モック。
type mockAlertRepo struct {
	createFunc func(ctx context.Context, alert *model.Alert) error
	created    []*model.Alert
}

func (m *mockAlertRepo) Create(ctx context.Context, alert *model.Alert) error {
	if m.createFunc != nil {
		if err := m.createFunc(ctx, alert); err != nil {
			return err
		}
	}
	m.created = append(m.created, alert)
	return nil
}

func (m *mockAlertRepo) FindByID(ctx context.Context, id string) (*model.Alert, error) {
	return nil, nil
}

func (m *mockAlertRepo) ListForDigest(ctx context.Context, userID string, since time.Time, sources model.SourceSet) ([]*model.Alert, error) {
	return nil, nil
}

func (m *mockAlertRepo) Archive(ctx context.Context, id string) (*model.Alert, error) {
	return nil, nil
}

// mockExtractor はscraper.Extractorのテスト用モック。
type mockExtractor struct {
	extractFunc func(ctx context.Context, url string) (*model.ScrapedFacts, error)
}

func (m *mockExtractor) Extract(ctx context.Context, url string) (*model.ScrapedFacts, error) {
	if m.extractFunc != nil {
		return m.extractFunc(ctx, url)
	}
	return &model.ScrapedFacts{}, nil
}

// mockFeedReader はFeedReaderのテスト用モック。
type mockFeedReader struct {
	latestFunc func(ctx context.Context, feedURL string) (*scraper.FeedEntry, error)
}

func (m *mockFeedReader) Latest(ctx context.Context, feedURL string) (*scraper.FeedEntry, error) {
	return m.latestFunc(ctx, feedURL)
}

// recordingDispatcher は配信されたアラートを記録するAlertDispatcher。
type recordingDispatcher struct {
	mu         sync.Mutex
	dispatched []*model.Alert
	err        error
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, alert *model.Alert) (notify.DispatchResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dispatched = append(d.dispatched, alert)
	return notify.DispatchResult{}, d.err
}

// --- notify.Dispatcherを実際に動かすためのインメモリ実装 ---

type memPreferenceRepo struct {
	prefs []repository.PreferenceWithUser
}

func (m *memPreferenceRepo) ListWithUsers(ctx context.Context) ([]repository.PreferenceWithUser, error) {
	return m.prefs, nil
}

func (m *memPreferenceRepo) ListDigestSubscribers(ctx context.Context) ([]repository.PreferenceWithUser, error) {
	return nil, nil
}

func (m *memPreferenceRepo) FindByUserID(ctx context.Context, userID string) (*model.AlertPreference, error) {
	return nil, nil
}

func (m *memPreferenceRepo) Upsert(ctx context.Context, pref *model.AlertPreference) error {
	return nil
}

type memNotificationRepo struct {
	mu      sync.Mutex
	byUser  map[string][]*model.Notification
	created int
}

func (m *memNotificationRepo) CreateIfAbsent(ctx context.Context, n *model.Notification) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byUser == nil {
		m.byUser = make(map[string][]*model.Notification)
	}
	for _, existing := range m.byUser[n.UserID] {
		if existing.Metadata.AlertID == n.Metadata.AlertID {
			return false, nil
		}
	}
	m.byUser[n.UserID] = append(m.byUser[n.UserID], n)
	m.created++
	return true, nil
}

type memDeliveryRepo struct {
	mu     sync.Mutex
	claims map[string]bool
}

func (m *memDeliveryRepo) Claim(ctx context.Context, userID, alertID string, staleAfter time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claims == nil {
		m.claims = make(map[string]bool)
	}
	key := userID + "/" + alertID
	if m.claims[key] {
		return false, nil
	}
	m.claims[key] = true
	return true, nil
}

func (m *memDeliveryRepo) MarkSent(ctx context.Context, userID, alertID string) error { return nil }

func (m *memDeliveryRepo) MarkOutcomeUnknown(ctx context.Context, userID, alertID string) error {
	return nil
}

func (m *memDeliveryRepo) Release(ctx context.Context, userID, alertID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, userID+"/"+alertID)
	return nil
}

type memMailer struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (m *memMailer) Send(ctx context.Context, msg notify.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

// --- ヘルパー ---

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func pounds(n int64) *model.Pence {
	p := model.PenceFromPounds(n, 0)
	return &p
}

func intPtr(v int) *int { return &v }

func strPtr(s string) *string { return &s }
