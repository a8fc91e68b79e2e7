package service_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/evetabi/resolution/internal/domain"
)

// TestConcurrentStakeCommits simulates 50 goroutines simultaneously committing
// stake from a shared balance — protected by a mutex. This test verifies our
// concurrency guard pattern compiles and passes -race.
//
// In the real distributor, the serializable ledger transaction provides this
// guarantee.  Here we replicate the same guard with sync primitives so the
// race detector can confirm the pattern is sound.
func TestConcurrentStakeCommits(t *testing.T) {
	const workers = 50
	const stakeEach = 10 // tokens per commitment

	bal := &domain.UserBalance{Available: workers * stakeEach} // exact total
	var mu sync.Mutex
	var rejected int64 // commits that were refused (zero is expected here)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			d, err := domain.Deltas(domain.TxCommit, -stakeEach, 0)
			if err != nil {
				atomic.AddInt64(&rejected, 1)
				return
			}

			mu.Lock()
			defer mu.Unlock()

			if err := bal.Apply(d); err != nil {
				atomic.AddInt64(&rejected, 1)
			}
		}()
	}
	wg.Wait()

	// All commits should succeed: no rejections expected.
	if rejected > 0 {
		t.Errorf("expected 0 rejected commits, got %d", rejected)
	}
	// Available should be exactly 0 after exactly 50 × 10 commits.
	if bal.Available != 0 {
		t.Errorf("final available should be 0, got %d", bal.Available)
	}
	if bal.Committed != workers*stakeEach {
		t.Errorf("final committed = %d, want %d", bal.Committed, workers*stakeEach)
	}
}

// TestConcurrentRollbackGuard verifies that double-rollback protection works
// under concurrent access: only one of N goroutines succeeds at reversing a
// distribution.
func TestConcurrentRollbackGuard(t *testing.T) {
	const workers = 20
	type distState struct {
		mu         sync.Mutex
		rolledBack bool
	}

	var (
		d        distState
		applied  int64
		rejected int64
		wg       sync.WaitGroup
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			d.mu.Lock()
			defer d.mu.Unlock()

			if d.rolledBack {
				// Second+ call: should be rejected
				atomic.AddInt64(&rejected, 1)
				return
			}
			d.rolledBack = true
			atomic.AddInt64(&applied, 1)
		}()
	}
	wg.Wait()

	if applied != 1 {
		t.Errorf("exactly 1 goroutine should have reversed the distribution, got %d", applied)
	}
	if rejected != workers-1 {
		t.Errorf("expected %d rejections, got %d", workers-1, rejected)
	}
}
