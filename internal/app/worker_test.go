package app

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/regwatch/internal/digest"
	"github.com/hitoshi/regwatch/internal/joblock"
)

// countingDigest はgoroutineから呼ばれても安全なDigestRunner。
type countingDigest struct {
	calls  atomic.Int32
	called chan struct{}
}

func newCountingDigest() *countingDigest {
	return &countingDigest{called: make(chan struct{}, 16)}
}

func (c *countingDigest) Run(ctx context.Context) (digest.Result, error) {
	c.calls.Add(1)
	select {
	case c.called <- struct{}{}:
	default:
	}
	return digest.Result{}, nil
}

// syncLocker はジョブ名を記録し、blockedに含まれるジョブのロック取得を拒否する。
type syncLocker struct {
	mu      sync.Mutex
	jobs    []string
	blocked map[string]bool
}

func (l *syncLocker) TryLock(ctx context.Context, job string) (joblock.UnlockFunc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.jobs = append(l.jobs, job)
	if l.blocked[job] {
		return nil, joblock.ErrLocked
	}
	return func(context.Context) error { return nil }, nil
}

func (l *syncLocker) lockedJobs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.jobs...)
}

func runTickerAsync(ctx context.Context, jobs jobSet, cmd Command, interval time.Duration, immediate bool) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		runTicker(ctx, jobs, cmd, interval, immediate)
	}()
	return done
}

func TestRunTicker_RunsImmediatelyThroughJobLock(t *testing.T) {
	restoreDefaultLogger(t)

	dg := newCountingDigest()
	locker := &syncLocker{}
	jobs := jobSet{digest: dg, locker: locker}

	ctx, cancel := context.WithCancel(context.Background())
	done := runTickerAsync(ctx, jobs, CommandDigest, time.Hour, true)

	select {
	case <-dg.called:
	case <-time.After(2 * time.Second):
		t.Fatal("起動直後に実行されるべき")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("キャンセル後にティッカーが停止しない")
	}

	got := locker.lockedJobs()
	if len(got) != 1 || got[0] != "digest" {
		t.Errorf("locked jobs = %v, want [digest]", got)
	}
}

func TestRunTicker_TickRunsTakeJobLock(t *testing.T) {
	restoreDefaultLogger(t)

	dg := newCountingDigest()
	locker := &syncLocker{}
	jobs := jobSet{digest: dg, locker: locker}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runTickerAsync(ctx, jobs, CommandDigest, 10*time.Millisecond, false)

	for i := 0; i < 2; i++ {
		select {
		case <-dg.called:
		case <-time.After(2 * time.Second):
			t.Fatalf("ティックで実行されるべき (%d回目)", i+1)
		}
	}
	cancel()
	<-done

	runs := int(dg.calls.Load())
	got := locker.lockedJobs()
	if len(got) != runs {
		t.Errorf("lock attempts = %d, runs = %d: すべての実行でロックを取得すべき", len(got), runs)
	}
	for _, job := range got {
		if job != "digest" {
			t.Errorf("locked job = %q, want digest", job)
		}
	}
}

func TestRunTicker_SkipsWhileLockedElsewhere(t *testing.T) {
	restoreDefaultLogger(t)

	dg := newCountingDigest()
	locker := &syncLocker{blocked: map[string]bool{"digest": true}}
	jobs := jobSet{digest: dg, locker: locker}

	ctx, cancel := context.WithCancel(context.Background())
	done := runTickerAsync(ctx, jobs, CommandDigest, 5*time.Millisecond, true)

	deadline := time.After(2 * time.Second)
	for len(locker.lockedJobs()) < 3 {
		select {
		case <-deadline:
			t.Fatal("ロック取得が試行されない")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	if n := dg.calls.Load(); n != 0 {
		t.Errorf("digest calls = %d, want 0 while another process holds the lock", n)
	}
}

func TestRunTicker_InvalidIntervalReturns(t *testing.T) {
	restoreDefaultLogger(t)

	dg := newCountingDigest()
	jobs := jobSet{digest: dg, locker: joblock.NoopLocker{}}

	done := runTickerAsync(context.Background(), jobs, CommandDigest, 0, true)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("不正な間隔では即座に戻るべき")
	}
	if n := dg.calls.Load(); n != 0 {
		t.Errorf("digest calls = %d, want 0", n)
	}
}
