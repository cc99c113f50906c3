// Package queue provides per-key FIFO serialization with cross-key
// parallelism. Work submitted under the same key runs strictly one at a
// time, in submission order; unrelated keys run concurrently.
package queue

import (
	"sync"

	"github.com/google/uuid"
)

// Queue maps each key to the tail of its pending work chain.
type Queue struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{tails: make(map[string]chan struct{})}
}

// StatelessKey mints a key that serializes against nothing, including other
// stateless work.
func StatelessKey() string {
	return "stateless:" + uuid.NewString()
}

// Submit appends task to the chain for key and blocks until it settles.
// The task starts only after every previously submitted task for the same
// key has finished; a failed predecessor does not abort it. The task's own
// error is returned to this caller only.
func (q *Queue) Submit(key string, task func() error) error {
	done := make(chan struct{})

	q.mu.Lock()
	prev := q.tails[key]
	q.tails[key] = done
	q.mu.Unlock()

	if prev != nil {
		<-prev
	}

	defer func() {
		close(done)
		q.mu.Lock()
		// Only the last link in the chain removes the key.
		if q.tails[key] == done {
			delete(q.tails, key)
		}
		q.mu.Unlock()
	}()

	return task()
}

// PendingKeys returns the number of keys with in-flight or queued work.
func (q *Queue) PendingKeys() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tails)
}
