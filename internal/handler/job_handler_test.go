package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/hitoshi/regwatch/internal/digest"
	"github.com/hitoshi/regwatch/internal/joblock"
	"github.com/hitoshi/regwatch/internal/model"
	"github.com/hitoshi/regwatch/internal/worker/scrape"
)

func TestJobHandler_RunScrape_AllSources(t *testing.T) {
	var gotSourceID = "unset"
	router := newTestRouter(func(d *RouterDeps) {
		d.Scraper = &mockScrapeRunner{runOnceFn: func(ctx context.Context, sourceID string) (scrape.Summary, error) {
			gotSourceID = sourceID
			return scrape.Summary{
				Sources:       2,
				Succeeded:     1,
				Failed:        1,
				AlertsCreated: 3,
				Failures:      []scrape.Failure{{SourceID: "src-2", Reason: scrape.ReasonTimeout, Error: "deadline exceeded"}},
			}, nil
		}}
	})

	w := doRequest(t, router, http.MethodPost, "/api/jobs/scrape", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body: %s)", w.Code, http.StatusOK, w.Body.String())
	}
	if gotSourceID != "" {
		t.Errorf("sourceID = %q, want empty", gotSourceID)
	}

	var summary scrape.Summary
	decodeBody(t, w, &summary)
	if summary.Sources != 2 || summary.Succeeded != 1 || summary.Failed != 1 || summary.AlertsCreated != 3 {
		t.Errorf("summary = %+v", summary)
	}
	if len(summary.Failures) != 1 || summary.Failures[0].Reason != scrape.ReasonTimeout {
		t.Errorf("failures = %+v", summary.Failures)
	}
}

func TestJobHandler_RunScrape_SingleSource(t *testing.T) {
	var gotSourceID string
	router := newTestRouter(func(d *RouterDeps) {
		d.Scraper = &mockScrapeRunner{runOnceFn: func(ctx context.Context, sourceID string) (scrape.Summary, error) {
			gotSourceID = sourceID
			return scrape.Summary{Sources: 1, Succeeded: 1, Failures: []scrape.Failure{}}, nil
		}}
	})

	w := doRequest(t, router, http.MethodPost, "/api/jobs/scrape?source_id=src-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotSourceID != "src-1" {
		t.Errorf("sourceID = %q, want %q", gotSourceID, "src-1")
	}
}

func TestJobHandler_RunScrape_UnknownSource(t *testing.T) {
	router := newTestRouter(func(d *RouterDeps) {
		d.Scraper = &mockScrapeRunner{runOnceFn: func(ctx context.Context, sourceID string) (scrape.Summary, error) {
			return scrape.Summary{}, model.NewSourceNotFoundError(sourceID)
		}}
	})

	w := doRequest(t, router, http.MethodPost, "/api/jobs/scrape?source_id=missing", "")
	assertErrorCode(t, w, http.StatusNotFound, model.ErrCodeSourceNotFound)
}

func TestJobHandler_RunScrape_InternalError(t *testing.T) {
	router := newTestRouter(func(d *RouterDeps) {
		d.Scraper = &mockScrapeRunner{runOnceFn: func(ctx context.Context, sourceID string) (scrape.Summary, error) {
			return scrape.Summary{}, errors.New("db down")
		}}
	})

	w := doRequest(t, router, http.MethodPost, "/api/jobs/scrape", "")
	assertErrorCode(t, w, http.StatusInternalServerError, model.ErrCodeInternal)
	if strings.Contains(w.Body.String(), "db down") {
		t.Error("internal error details should not be exposed")
	}
}

func TestJobHandler_RunDigest(t *testing.T) {
	router := newTestRouter(func(d *RouterDeps) {
		d.Digest = &mockDigestRunner{runFn: func(ctx context.Context) (digest.Result, error) {
			return digest.Result{Subscribers: 3, Sent: 2, Empty: 1}, nil
		}}
	})

	w := doRequest(t, router, http.MethodPost, "/api/jobs/digest", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var result digest.Result
	decodeBody(t, w, &result)
	if result.Subscribers != 3 || result.Sent != 2 || result.Empty != 1 || result.Failed != 0 {
		t.Errorf("result = %+v", result)
	}
}

func TestJobHandler_RunLifecycle(t *testing.T) {
	router := newTestRouter(func(d *RouterDeps) {
		d.Expiry = &mockExpiryRunner{runFn: func(ctx context.Context) (int64, error) {
			return 4, nil
		}}
	})

	w := doRequest(t, router, http.MethodPost, "/api/jobs/lifecycle", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body lifecycleResponse
	decodeBody(t, w, &body)
	if body.Expired != 4 {
		t.Errorf("expired = %d, want 4", body.Expired)
	}
}

func TestJobHandler_LockedJobReturnsConflict(t *testing.T) {
	tests := []struct {
		path string
		job  string
	}{
		{"/api/jobs/scrape", JobScrape},
		{"/api/jobs/digest", JobDigest},
		{"/api/jobs/lifecycle", JobLifecycle},
	}

	for _, tt := range tests {
		t.Run(tt.job, func(t *testing.T) {
			var lockedJob string
			ran := false
			router := newTestRouter(func(d *RouterDeps) {
				d.Locker = &mockLocker{tryLockFn: func(ctx context.Context, job string) (joblock.UnlockFunc, error) {
					lockedJob = job
					return nil, joblock.ErrLocked
				}}
				d.Scraper = &mockScrapeRunner{runOnceFn: func(ctx context.Context, sourceID string) (scrape.Summary, error) {
					ran = true
					return scrape.Summary{}, nil
				}}
				d.Digest = &mockDigestRunner{runFn: func(ctx context.Context) (digest.Result, error) {
					ran = true
					return digest.Result{}, nil
				}}
				d.Expiry = &mockExpiryRunner{runFn: func(ctx context.Context) (int64, error) {
					ran = true
					return 0, nil
				}}
			})

			w := doRequest(t, router, http.MethodPost, tt.path, "")
			assertErrorCode(t, w, http.StatusConflict, model.ErrCodeJobAlreadyRunning)
			if lockedJob != tt.job {
				t.Errorf("lock key = %q, want %q", lockedJob, tt.job)
			}
			if ran {
				t.Error("job should not run when lock is held")
			}
		})
	}
}

func TestJobHandler_ReleasesLockAfterRun(t *testing.T) {
	released := false
	router := newTestRouter(func(d *RouterDeps) {
		d.Locker = &mockLocker{tryLockFn: func(ctx context.Context, job string) (joblock.UnlockFunc, error) {
			return func(ctx context.Context) error {
				released = true
				return nil
			}, nil
		}}
	})

	w := doRequest(t, router, http.MethodPost, "/api/jobs/digest", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !released {
		t.Error("lock should be released after the job")
	}
}

func TestJobHandler_LockErrorIsInternal(t *testing.T) {
	router := newTestRouter(func(d *RouterDeps) {
		d.Locker = &mockLocker{tryLockFn: func(ctx context.Context, job string) (joblock.UnlockFunc, error) {
			return nil, errors.New("redis unavailable")
		}}
	})

	w := doRequest(t, router, http.MethodPost, "/api/jobs/lifecycle", "")
	assertErrorCode(t, w, http.StatusInternalServerError, model.ErrCodeInternal)
}

func TestNewJobHandler_NilLockerUsesNoop(t *testing.T) {
	h := NewJobHandler(nil, nil, nil, nil, discardLogger())
	if _, ok := h.locker.(joblock.NoopLocker); !ok {
		t.Errorf("locker = %T, want joblock.NoopLocker", h.locker)
	}
}
