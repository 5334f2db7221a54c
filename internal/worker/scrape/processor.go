package scrape

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/regwatch/internal/classify"
	"github.com/hitoshi/regwatch/internal/detect"
	"github.com/hitoshi/regwatch/internal/metrics"
	"github.com/hitoshi/regwatch/internal/model"
	"github.com/hitoshi/regwatch/internal/notify"
	"github.com/hitoshi/regwatch/internal/repository"
	"github.com/hitoshi/regwatch/internal/scraper"
)

// FeedReader はお知らせフィードの最新エントリを取得するインターフェース。
// scraper.FeedWatcherが実装する。
type FeedReader interface {
	Latest(ctx context.Context, feedURL string) (*scraper.FeedEntry, error)
}

// AlertDispatcher はアラート配信のインターフェース。notify.Dispatcherが実装する。
type AlertDispatcher interface {
	Dispatch(ctx context.Context, alert *model.Alert) (notify.DispatchResult, error)
}

// Processor は1つのSourceに対して抽出・変更検知・分類・保存・配信を行う。
type Processor struct {
	sources    repository.SourceRepository
	alerts     repository.AlertRepository
	extractor  scraper.Extractor
	feeds      FeedReader
	dispatcher AlertDispatcher
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
	alertTTL   time.Duration
	timeout    time.Duration
	now        func() time.Time
}

// NewProcessor はProcessorの新しいインスタンスを生成する。
// feedsがnilの場合はお知らせフィードを確認しない。
// timeoutはページ抽出とフィード取得に適用し、保存と配信には適用しない。
func NewProcessor(
	sources repository.SourceRepository,
	alerts repository.AlertRepository,
	extractor scraper.Extractor,
	feeds FeedReader,
	dispatcher AlertDispatcher,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	alertTTL time.Duration,
	timeout time.Duration,
) *Processor {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Processor{
		sources:    sources,
		alerts:     alerts,
		extractor:  extractor,
		feeds:      feeds,
		dispatcher: dispatcher,
		metrics:    collector,
		logger:     logger,
		alertTTL:   alertTTL,
		timeout:    timeout,
		now:        time.Now,
	}
}

// Process はSourceをスクレイプし、作成したアラート数を返す。
// 抽出に失敗した場合は取得状態だけを記録し、事実は変更しない。
// アラートとマージ済みの事実は同一トランザクションで保存し、コミット後に配信する。
func (p *Processor) Process(ctx context.Context, src *model.Source) (int, error) {
	start := time.Now()
	logger := p.logger.With(
		slog.String("source_id", src.ID),
		slog.String("source_url", src.URL),
	)

	fetchCtx, cancel := p.withTimeout(ctx)
	defer cancel()

	facts, err := p.extractor.Extract(fetchCtx, src.URL)
	p.metrics.RecordScrapeLatency(time.Since(start))
	if err != nil {
		return 0, p.recordFailure(ctx, src, err, logger)
	}

	changes := detect.Detect(src, src.Facts, *facts)

	updated := *src
	updated.Facts = detect.Merge(src.Facts, *facts)

	if src.FeedURL != "" && p.feeds != nil {
		if entry, ok := p.latestFeedEntry(fetchCtx, src, logger); ok {
			if c, changed := detect.DetectFeed(src, entry); changed {
				changes = append(changes, c)
			}
			updated.LastFeedItemGUID = entry.GUID
		}
	}

	now := p.now()
	alerts := make([]*model.Alert, 0, len(changes))
	for _, c := range changes {
		alerts = append(alerts, classify.NewAlert(classify.Classify(c), c, now, p.alertTTL))
	}
	ApplyScrapeSuccess(&updated, now)

	if err := p.sources.SaveScrape(ctx, &updated, alerts); err != nil {
		logger.Error("スクレイプ結果の保存に失敗しました",
			slog.Int("alerts", len(alerts)),
			slog.String("error", err.Error()),
		)
		p.metrics.RecordScrapeFailure(src.ID, ReasonPersist)
		return 0, fmt.Errorf("%w: %w", ErrPersist, err)
	}
	*src = updated

	p.metrics.RecordScrapeSuccess(src.ID)
	for i, c := range changes {
		p.metrics.RecordChangeDetected(string(c.Type))
		p.metrics.RecordAlertCreated(alerts[i].Severity.String())
	}

	for _, a := range alerts {
		p.dispatch(ctx, a, logger)
	}

	logger.Info("Sourceのスクレイプが完了しました",
		slog.Int("fields_found", facts.Count()),
		slog.Int("changes", len(changes)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return len(alerts), nil
}

// Ingest は上流のプロデューサーから受け取った変更を分類・保存・配信する。
// SourceIDが指定された場合はSourceの存在を確認し、名前とURLを補完する。
func (p *Processor) Ingest(ctx context.Context, c model.Change) (*model.Alert, error) {
	if err := validateChange(c); err != nil {
		return nil, err
	}

	if c.SourceID != "" {
		src, err := p.sources.FindByID(ctx, c.SourceID)
		if err != nil {
			return nil, err
		}
		if src == nil {
			return nil, model.NewSourceNotFoundError(c.SourceID)
		}
		if c.SourceName == "" {
			c.SourceName = src.Name
		}
		if c.SourceURL == "" {
			c.SourceURL = src.URL
		}
	}

	alert := classify.NewAlert(classify.Classify(c), c, p.now(), p.alertTTL)
	if err := p.alerts.Create(ctx, alert); err != nil {
		return nil, err
	}
	p.metrics.RecordChangeDetected(string(c.Type))
	p.metrics.RecordAlertCreated(alert.Severity.String())

	logger := p.logger.With(slog.String("source_id", c.SourceID))
	logger.Info("変更を登録しました",
		slog.String("alert_id", alert.ID),
		slog.String("change_type", string(c.Type)),
		slog.String("severity", alert.Severity.String()),
	)
	p.dispatch(ctx, alert, logger)

	return alert, nil
}

func (p *Processor) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.timeout)
}

func validateChange(c model.Change) error {
	switch {
	case c.Type == "":
		return model.NewInvalidChangeError("type is required")
	case c.Field == "":
		return model.NewInvalidChangeError("field is required")
	case c.OldValue == "" && c.NewValue == "":
		return model.NewInvalidChangeError("oldValue or newValue is required")
	}
	return nil
}

// recordFailure は抽出失敗を記録する。記録自体の失敗はログのみ残す。
func (p *Processor) recordFailure(ctx context.Context, src *model.Source, err error, logger *slog.Logger) error {
	reason := ClassifyFailure(err)
	ApplyScrapeFailure(src, err, p.now())

	logger.Warn("Sourceの抽出に失敗しました",
		slog.String("reason", reason),
		slog.Int("consecutive_errors", src.ConsecutiveErrors),
		slog.String("error", err.Error()),
	)
	p.metrics.RecordScrapeFailure(src.ID, reason)

	if recErr := p.sources.RecordFailure(ctx, src); recErr != nil {
		logger.Error("取得状態の更新に失敗しました",
			slog.String("error", recErr.Error()),
		)
	}
	return err
}

// latestFeedEntry はお知らせフィードを確認する。フィードの失敗はページの抽出結果に影響させない。
func (p *Processor) latestFeedEntry(ctx context.Context, src *model.Source, logger *slog.Logger) (*scraper.FeedEntry, bool) {
	entry, err := p.feeds.Latest(ctx, src.FeedURL)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, scraper.ErrEmptyFeed) {
			level = slog.LevelDebug
		}
		logger.Log(ctx, level, "お知らせフィードの取得に失敗しました",
			slog.String("feed_url", src.FeedURL),
			slog.String("error", err.Error()),
		)
		return nil, false
	}
	return entry, true
}

// dispatch はアラートを配信する。配信の失敗はアラートの保存を取り消さない。
func (p *Processor) dispatch(ctx context.Context, a *model.Alert, logger *slog.Logger) {
	if p.dispatcher == nil {
		return
	}
	if _, err := p.dispatcher.Dispatch(ctx, a); err != nil {
		logger.Error("アラートの配信に失敗しました",
			slog.String("alert_id", a.ID),
			slog.String("error", err.Error()),
		)
	}
}
