// Package session provides the durable session registry, the transcript
// token estimator, and the rotation policy that retires oversized
// conversations.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultGroup is the reserved group for untagged persistent work.
const DefaultGroup = "main"

// Status discriminates live entries from archived history.
type Status string

const (
	StatusLive     Status = "live"
	StatusArchived Status = "archived"
)

// Entry binds a session group to the agent's opaque conversation identifier.
type Entry struct {
	SessionID     string    `json:"session_id"`
	Group         string    `json:"group"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	LastUsedAt    time.Time `json:"last_used_at"`
	ArchivedAt    time.Time `json:"archived_at,omitempty"`
	ContentTokens int       `json:"content_tokens"`
	Summary       string    `json:"summary,omitempty"`
}

// Store is the durable session registry. All mutations go through
// load → mutate → atomic persist; a crash mid-write never leaves a torn file.
type Store struct {
	path    string
	mu      sync.Mutex
	entries []Entry
	loaded  bool
}

// NewStore creates a registry backed by the given JSON file.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Invalidate drops the in-memory cache so the next operation reloads from
// disk. Used when an external collaborator mutates the file.
func (s *Store) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = false
	s.entries = nil
}

// Get returns the live entry for a group, refreshing its LastUsedAt.
// Returns false with no error when the group has no live entry.
func (s *Store) Get(group string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loadLocked()
	idx := s.liveIndexLocked(group)
	if idx < 0 {
		return Entry{}, false
	}
	s.entries[idx].LastUsedAt = time.Now()
	if err := s.persistLocked(); err != nil {
		// The read itself still succeeds; the refreshed timestamp is lost.
		fmt.Fprintf(os.Stderr, "session: persist after get failed: %v\n", err)
	}
	return s.entries[idx], true
}

// Create creates the live entry for a group with a freshly issued session id.
// A still-live prior entry is replaced; normal operation archives first.
func (s *Store) Create(group, sessionID string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loadLocked()
	now := time.Now()
	entry := Entry{
		SessionID:  sessionID,
		Group:      group,
		Status:     StatusLive,
		CreatedAt:  now,
		LastUsedAt: now,
	}

	if idx := s.liveIndexLocked(group); idx >= 0 {
		s.entries[idx] = entry
	} else {
		s.entries = append(s.entries, entry)
	}
	if err := s.persistLocked(); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// UpdateTokenCount overwrites ContentTokens on the live entry for a group.
// No-op if the group has no live entry.
func (s *Store) UpdateTokenCount(group string, tokens int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loadLocked()
	idx := s.liveIndexLocked(group)
	if idx < 0 {
		return nil
	}
	s.entries[idx].ContentTokens = tokens
	return s.persistLocked()
}

// Archive retires the live entry for a group, preserving it as history.
// Returns the archived entry's session id, or false if nothing was live.
func (s *Store) Archive(group, summary string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loadLocked()
	idx := s.liveIndexLocked(group)
	if idx < 0 {
		return "", false
	}
	s.entries[idx].Status = StatusArchived
	s.entries[idx].ArchivedAt = time.Now()
	s.entries[idx].Summary = summary
	if err := s.persistLocked(); err != nil {
		fmt.Fprintf(os.Stderr, "session: persist after archive failed: %v\n", err)
	}
	return s.entries[idx].SessionID, true
}

// ListLive returns all live entries.
func (s *Store) ListLive() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loadLocked()
	var out []Entry
	for _, e := range s.entries {
		if e.Status == StatusLive {
			out = append(out, e)
		}
	}
	return out
}

// ListAll returns live and archived entries, for audit and debugging.
func (s *Store) ListAll() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loadLocked()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *Store) liveIndexLocked(group string) int {
	for i := range s.entries {
		if s.entries[i].Group == group && s.entries[i].Status == StatusLive {
			return i
		}
	}
	return -1
}

// loadLocked populates the cache from disk. Unreadable or corrupt state is
// treated as empty; the registry self-heals as new invocations occur.
func (s *Store) loadLocked() {
	if s.loaded {
		return
	}
	s.loaded = true
	s.entries = nil

	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		fmt.Fprintf(os.Stderr, "session: registry unreadable, starting empty: %v\n", err)
		return
	}
	// Legacy records without a status are live.
	for i := range entries {
		if entries[i].Status == "" {
			entries[i].Status = StatusLive
		}
	}
	s.entries = entries
}

// persistLocked writes the registry atomically (temp file + rename).
func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".sessions-*.json")
	if err != nil {
		return fmt.Errorf("create temp registry: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp registry: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace registry: %w", err)
	}
	return nil
}
