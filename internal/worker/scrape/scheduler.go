// Package scrape は監視対象Sourceのスクレイプスイープを提供する。
// スケジューラ、Source単位のプロセッサ、取得状態の更新を含む。
package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/regwatch/internal/model"
	"github.com/hitoshi/regwatch/internal/repository"
)

// SourceProcessor はSource単位のスクレイプ処理のインターフェース。
type SourceProcessor interface {
	// Process はSourceをスクレイプし、作成したアラート数を返す。
	Process(ctx context.Context, src *model.Source) (int, error)
}

// Failure は1つのSourceの失敗。
type Failure struct {
	SourceID string `json:"sourceId"`
	Reason   string `json:"reason"`
	Error    string `json:"error"`
}

// Summary は1回のスイープの集計。
type Summary struct {
	Sources       int       `json:"sources"`
	Succeeded     int       `json:"succeeded"`
	Failed        int       `json:"failed"`
	AlertsCreated int       `json:"alertsCreated"`
	Failures      []Failure `json:"failures"`
}

// Scheduler はスクレイプスイープのスケジューリングと並列制御を行う。
// semaphoreパターンでブラウザの同時起動数を制限し、rate.Limiterでナビゲーションの間隔を空ける。
type Scheduler struct {
	sources        repository.SourceRepository
	processor      SourceProcessor
	limiter        *rate.Limiter
	logger         *slog.Logger
	maxConcurrency int
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値3を使用する。
// ratePerMinuteが0以下の場合はナビゲーション間隔を制限しない。
func NewScheduler(
	sources repository.SourceRepository,
	processor SourceProcessor,
	logger *slog.Logger,
	maxConcurrency int,
	ratePerMinute int,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 3
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if ratePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(ratePerMinute)), 1)
	}
	return &Scheduler{
		sources:        sources,
		processor:      processor,
		limiter:        limiter,
		logger:         logger,
		maxConcurrency: maxConcurrency,
	}
}

// RunOnce はスクレイプスイープを1回実行する。
// sourceIDが空の場合は全Source、指定された場合はそのSourceだけを対象にする。
// Source単位の失敗はSummary.Failuresに集約し、Source一覧の取得失敗のみをエラーとして返す。
func (s *Scheduler) RunOnce(ctx context.Context, sourceID string) (Summary, error) {
	start := time.Now()

	sources, err := s.targets(ctx, sourceID)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{Sources: len(sources), Failures: []Failure{}}
	if len(sources) == 0 {
		s.logger.Info("スクレイプ対象のSourceはありません")
		return summary, nil
	}

	s.logger.Info("スクレイプスイープを開始します",
		slog.Int("source_count", len(sources)),
	)

	// semaphoreパターンで並列数を制御
	sem := make(chan struct{}, s.maxConcurrency)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for _, src := range sources {
		if err := s.limiter.Wait(ctx); err != nil {
			s.addFailure(&mu, &summary, src.ID, err)
			continue
		}

		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(src *model.Source) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			created, err := s.processor.Process(ctx, src)
			if err != nil {
				s.addFailure(&mu, &summary, src.ID, err)
				return
			}

			mu.Lock()
			summary.Succeeded++
			summary.AlertsCreated += created
			mu.Unlock()
		}(src)
	}

	wg.Wait()

	s.logger.Info("スクレイプスイープが完了しました",
		slog.Int("source_count", summary.Sources),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("failed", summary.Failed),
		slog.Int("alerts_created", summary.AlertsCreated),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return summary, nil
}

func (s *Scheduler) targets(ctx context.Context, sourceID string) ([]*model.Source, error) {
	if sourceID == "" {
		sources, err := s.sources.ListAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("Source一覧の取得に失敗しました: %w", err)
		}
		return sources, nil
	}

	src, err := s.sources.FindByID(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("Sourceの取得に失敗しました: %w", err)
	}
	if src == nil {
		return nil, model.NewSourceNotFoundError(sourceID)
	}
	return []*model.Source{src}, nil
}

func (s *Scheduler) addFailure(mu *sync.Mutex, summary *Summary, sourceID string, err error) {
	s.logger.Error("Sourceのスクレイプに失敗しました",
		slog.String("source_id", sourceID),
		slog.String("error", err.Error()),
	)

	mu.Lock()
	defer mu.Unlock()
	summary.Failed++
	summary.Failures = append(summary.Failures, Failure{
		SourceID: sourceID,
		Reason:   ClassifyFailure(err),
		Error:    err.Error(),
	})
}
