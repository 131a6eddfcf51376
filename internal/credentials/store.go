// Package credentials caches per-target secrets for the current session and
// decides which secret a fetch should use.
package credentials

import (
	"fmt"
	"log/slog"
	"sync"
)

// Entry is a cached secret for one target
type Entry struct {
	Secret string
	Port   int // 0 means the target default
}

type sealedEntry struct {
	secret []byte
	port   int
}

// Store is a session-scoped cache of target secrets.
// Entries are sealed in memory and die with the Store; nothing is written to disk.
type Store struct {
	mu      sync.RWMutex
	entries map[string]sealedEntry
	sealer  *sealer
	logger  *slog.Logger
}

// NewStore creates an empty store with its own session key
func NewStore(logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s, err := newSealer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential store: %w", err)
	}
	return &Store{
		entries: make(map[string]sealedEntry),
		sealer:  s,
		logger:  logger.With("component", "credential_store"),
	}, nil
}

// Get returns the cached entry for a target. The bool is false when absent.
func (s *Store) Get(targetID string) (Entry, bool) {
	s.mu.RLock()
	sealed, ok := s.entries[targetID]
	s.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}

	plaintext, err := s.sealer.Open(targetID, sealed.secret)
	if err != nil {
		// Unreadable entries are treated as absent so the caller re-prompts
		s.logger.Warn("dropping unreadable credential entry", "target_id", targetID, "error", err)
		s.Clear(targetID)
		return Entry{}, false
	}

	return Entry{Secret: string(plaintext), Port: sealed.port}, true
}

// Set caches a secret (and optional port override) for a target
func (s *Store) Set(targetID, secret string, port int) {
	sealed, err := s.sealer.Seal(targetID, []byte(secret))
	if err != nil {
		s.logger.Error("failed to seal credential", "target_id", targetID, "error", err)
		return
	}

	s.mu.Lock()
	s.entries[targetID] = sealedEntry{secret: sealed, port: port}
	s.mu.Unlock()

	s.logger.Debug("credential cached", "target_id", targetID, "port", port)
}

// Clear removes the cached secret for a target, if any
func (s *Store) Clear(targetID string) {
	s.mu.Lock()
	_, existed := s.entries[targetID]
	delete(s.entries, targetID)
	s.mu.Unlock()

	if existed {
		s.logger.Debug("credential cleared", "target_id", targetID)
	}
}

// Len returns the number of cached entries
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
