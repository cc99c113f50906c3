package scheduler

// Semaphore caps how many jobs of one category run at once. Agent invocations
// are minutes-long, so the cap is enforced with TryAcquire: a tick that finds
// the category full skips the job rather than queuing it, and the next
// matching tick tries again. Ordering within a session group is the execution
// queue's concern, not the semaphore's.
type Semaphore struct {
	ch chan struct{}
}

// NewSemaphore creates a semaphore with the given capacity, floored at 1.
func NewSemaphore(cap int) *Semaphore {
	if cap <= 0 {
		cap = 1
	}
	return &Semaphore{ch: make(chan struct{}, cap)}
}

// TryAcquire claims a slot without blocking. Returns false when the category
// is at capacity.
func (s *Semaphore) TryAcquire() bool {
	select {
	case s.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees a slot. Must pair with a successful TryAcquire.
func (s *Semaphore) Release() {
	<-s.ch
}

// Available returns the number of free slots.
func (s *Semaphore) Available() int {
	return cap(s.ch) - len(s.ch)
}
