package queue

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestSameKeyRunsInOrder(t *testing.T) {
	q := New()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			q.Submit("main", func() error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				time.Sleep(5 * time.Millisecond)
				return nil
			})
		}()
		// Stagger submissions so queue order matches loop order.
		time.Sleep(2 * time.Millisecond)
	}
	wg.Wait()

	if len(order) != 5 {
		t.Fatalf("expected 5 completions, got %d", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("expected FIFO order, got %v", order)
		}
	}
}

func TestSameKeyNeverOverlaps(t *testing.T) {
	q := New()

	var mu sync.Mutex
	running := 0
	maxRunning := 0
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Submit("serial", func() error {
				mu.Lock()
				running++
				if running > maxRunning {
					maxRunning = running
				}
				mu.Unlock()
				time.Sleep(3 * time.Millisecond)
				mu.Lock()
				running--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	if maxRunning != 1 {
		t.Fatalf("expected at most one task in flight per key, saw %d", maxRunning)
	}
}

func TestDifferentKeysRunConcurrently(t *testing.T) {
	q := New()

	release := make(chan struct{})
	started := make(chan string, 2)
	var wg sync.WaitGroup

	for _, key := range []string{"alpha", "beta"} {
		wg.Add(1)
		key := key
		go func() {
			defer wg.Done()
			q.Submit(key, func() error {
				started <- key
				<-release
				return nil
			})
		}()
	}

	// Both must start without either finishing.
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("expected both keys to start concurrently")
		}
	}
	close(release)
	wg.Wait()
}

func TestFailureDoesNotAbortChain(t *testing.T) {
	q := New()

	boom := errors.New("boom")
	if err := q.Submit("main", func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected submitter to receive its own error, got %v", err)
	}

	ran := false
	if err := q.Submit("main", func() error { ran = true; return nil }); err != nil {
		t.Fatalf("expected successor to run cleanly, got %v", err)
	}
	if !ran {
		t.Fatal("expected successor to run after a failed predecessor")
	}
}

func TestKeyCleanupAfterDrain(t *testing.T) {
	q := New()

	q.Submit("main", func() error { return nil })
	if q.PendingKeys() != 0 {
		t.Fatalf("expected no pending keys after drain, got %d", q.PendingKeys())
	}
}

func TestStatelessKeysAreUnique(t *testing.T) {
	a, b := StatelessKey(), StatelessKey()
	if a == b {
		t.Fatal("expected distinct stateless keys")
	}
	if !strings.HasPrefix(a, "stateless:") {
		t.Fatalf("unexpected key shape %q", a)
	}
}
