package session

import (
	"fmt"
	"log/slog"
)

// Rotator archives a group's conversation once its transcript crosses the
// token threshold. The old transcript is never discarded; only the group's
// pointer to it is severed.
type Rotator struct {
	store     *Store
	estimator *Estimator
	threshold int
}

// NewRotator creates a rotation policy over a registry and estimator.
func NewRotator(store *Store, estimator *Estimator, threshold int) *Rotator {
	if threshold <= 0 {
		threshold = 120000
	}
	return &Rotator{store: store, estimator: estimator, threshold: threshold}
}

// Threshold returns the configured rotation threshold.
func (r *Rotator) Threshold() int { return r.threshold }

// MaybeRotate refreshes the token estimate for a group's live entry and
// archives it if the estimate is at or above the threshold. Callers must
// invoke this before every persistent invocation for the group, inside the
// same queued task, so rotation and invocation never interleave.
func (r *Rotator) MaybeRotate(group string) error {
	entry, ok := r.store.Get(group)
	if !ok {
		return nil
	}

	tokens := r.estimator.Estimate(entry.SessionID)
	if err := r.store.UpdateTokenCount(group, tokens); err != nil {
		return fmt.Errorf("update token count for %s: %w", group, err)
	}
	if tokens < r.threshold {
		return nil
	}

	summary := fmt.Sprintf("auto-rotated at %d tokens", tokens)
	if old, archived := r.store.Archive(group, summary); archived {
		slog.Info("Session rotated", "group", group, "tokens", tokens, "old_session", old)
	}
	return nil
}
