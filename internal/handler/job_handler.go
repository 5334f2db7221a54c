package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/regwatch/internal/digest"
	"github.com/hitoshi/regwatch/internal/joblock"
	"github.com/hitoshi/regwatch/internal/middleware"
	"github.com/hitoshi/regwatch/internal/model"
	"github.com/hitoshi/regwatch/internal/worker/scrape"
)

// ジョブ名。ジョブロックのキーにも使う。
const (
	JobScrape    = "scrape"
	JobDigest    = "digest"
	JobLifecycle = "lifecycle"
)

// ScrapeRunner はスクレイプスイープを1回実行する。sourceIDが空の場合は全Sourceが対象。
type ScrapeRunner interface {
	RunOnce(ctx context.Context, sourceID string) (scrape.Summary, error)
}

// DigestRunner はダイジェスト集約を1回実行する。
type DigestRunner interface {
	Run(ctx context.Context) (digest.Result, error)
}

// ExpiryRunner はアラートの期限切れスイープを1回実行する。
type ExpiryRunner interface {
	Run(ctx context.Context) (int64, error)
}

// JobHandler はバッチジョブを外部スケジューラから起動するためのHTTPハンドラー。
// 同じジョブの多重実行はジョブロックで防ぐ。
type JobHandler struct {
	scraper ScrapeRunner
	digest  DigestRunner
	expiry  ExpiryRunner
	locker  joblock.Locker
	logger  *slog.Logger
}

// NewJobHandler はJobHandlerを生成する。lockerがnilの場合はプロセス間の排他を行わない。
func NewJobHandler(scraper ScrapeRunner, digest DigestRunner, expiry ExpiryRunner, locker joblock.Locker, logger *slog.Logger) *JobHandler {
	if locker == nil {
		locker = joblock.NoopLocker{}
	}
	return &JobHandler{
		scraper: scraper,
		digest:  digest,
		expiry:  expiry,
		locker:  locker,
		logger:  logger,
	}
}

// lifecycleResponse は期限切れスイープの結果。
type lifecycleResponse struct {
	Expired int64 `json:"expired"`
}

// RunScrape はスクレイプスイープを実行する。
// POST /api/jobs/scrape[?source_id=]
func (h *JobHandler) RunScrape(w http.ResponseWriter, r *http.Request) {
	sourceID := r.URL.Query().Get("source_id")
	h.run(w, r, JobScrape, func(ctx context.Context) (interface{}, error) {
		return h.scraper.RunOnce(ctx, sourceID)
	})
}

// RunDigest はダイジェスト集約を実行する。
// POST /api/jobs/digest
func (h *JobHandler) RunDigest(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, JobDigest, func(ctx context.Context) (interface{}, error) {
		return h.digest.Run(ctx)
	})
}

// RunLifecycle はアラートの期限切れスイープを実行する。
// POST /api/jobs/lifecycle
func (h *JobHandler) RunLifecycle(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, JobLifecycle, func(ctx context.Context) (interface{}, error) {
		n, err := h.expiry.Run(ctx)
		return lifecycleResponse{Expired: n}, err
	})
}

// run はジョブロックを取得してジョブを同期実行し、結果をJSONで返す。
func (h *JobHandler) run(w http.ResponseWriter, r *http.Request, job string, fn func(ctx context.Context) (interface{}, error)) {
	var result interface{}
	err := joblock.Do(r.Context(), h.locker, job, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	if errors.Is(err, joblock.ErrLocked) {
		h.logger.Warn("ジョブは実行中のためスキップしました", slog.String("job", job))
		middleware.WriteErrorResponse(w, http.StatusConflict, model.NewJobAlreadyRunningError(job))
		return
	}
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
