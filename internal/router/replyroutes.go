// Package router decides which session group a chat message belongs to:
// reply continuity first, then a stateless classification call, then the
// fixed default group.
package router

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ReplyRoute maps an outgoing message identifier to the session group that
// produced it.
type ReplyRoute struct {
	MessageID string `json:"message_id"`
	Group     string `json:"group"`
}

// ReplyRoutes is a persisted, bounded map of the most recent outgoing
// messages. Eviction is FIFO by insertion; the bound is enforced after every
// write, not lazily.
type ReplyRoutes struct {
	path   string
	max    int
	mu     sync.Mutex
	routes []ReplyRoute
	loaded bool
}

// NewReplyRoutes creates a route map backed by the given JSON file.
func NewReplyRoutes(path string, max int) *ReplyRoutes {
	if max <= 0 {
		max = 500
	}
	return &ReplyRoutes{path: path, max: max}
}

// Record notes that messageID was produced by group, evicting the oldest
// entries beyond the bound.
func (r *ReplyRoutes) Record(messageID, group string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.loadLocked()
	r.routes = append(r.routes, ReplyRoute{MessageID: messageID, Group: group})
	if len(r.routes) > r.max {
		r.routes = r.routes[len(r.routes)-r.max:]
	}
	return r.persistLocked()
}

// Lookup returns the group recorded for a message id.
func (r *ReplyRoutes) Lookup(messageID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.loadLocked()
	// Scan newest-first so a re-used id resolves to its latest group.
	for i := len(r.routes) - 1; i >= 0; i-- {
		if r.routes[i].MessageID == messageID {
			return r.routes[i].Group, true
		}
	}
	return "", false
}

// Len returns the number of retained routes.
func (r *ReplyRoutes) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadLocked()
	return len(r.routes)
}

func (r *ReplyRoutes) loadLocked() {
	if r.loaded {
		return
	}
	r.loaded = true
	r.routes = nil

	data, err := os.ReadFile(r.path)
	if err != nil {
		return
	}
	var routes []ReplyRoute
	if err := json.Unmarshal(data, &routes); err != nil {
		// Corrupt state loads as empty; routing degrades to classification.
		return
	}
	r.routes = routes
}

func (r *ReplyRoutes) persistLocked() error {
	data, err := json.Marshal(r.routes)
	if err != nil {
		return fmt.Errorf("marshal reply routes: %w", err)
	}
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".replyroutes-*.json")
	if err != nil {
		return fmt.Errorf("create temp route file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp route file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp route file: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace route file: %w", err)
	}
	return nil
}
