// Package store holds the latest dashboard state: the most recent metrics
// sample and the latest entry per queue. A background loop evicts queue
// entries that have gone idle, so queues that drained and disappeared from
// the upstream stop showing on the dashboard.
package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/kumodash/kumodash/internal/kumo"
)

// QueueEntry is a queue sample together with the time it was last received.
type QueueEntry struct {
	Update    kumo.QueueUpdate
	UpdatedAt time.Time
}

// Store is a thread-safe in-memory dashboard state store.
type Store struct {
	mu      sync.RWMutex
	metrics *kumo.MetricsUpdate
	queues  map[string]*QueueEntry
	ttl     time.Duration
	now     func() time.Time // injectable for deterministic tests
}

// New creates a Store with the given queue-entry TTL.
func New(ttl time.Duration) *Store {
	return &Store{
		queues: make(map[string]*QueueEntry),
		ttl:    ttl,
		now:    time.Now,
	}
}

// TTL returns the configured queue-entry TTL.
func (s *Store) TTL() time.Duration { return s.ttl }

// PutMetrics stores the latest metrics sample.
func (s *Store) PutMetrics(m kumo.MetricsUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = &m
}

// Metrics returns the latest metrics sample and whether one has been seen.
func (s *Store) Metrics() (kumo.MetricsUpdate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.metrics == nil {
		return kumo.MetricsUpdate{}, false
	}
	return *s.metrics, true
}

// PutQueue stores or replaces the entry for q.QueueName.
func (s *Store) PutQueue(q kumo.QueueUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[q.QueueName] = &QueueEntry{
		Update:    q,
		UpdatedAt: s.now(),
	}
}

// Queues returns all entries updated within the TTL, sorted by queue name.
// Stale entries that have not yet been evicted are excluded.
func (s *Store) Queues() []QueueEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := s.now().Add(-s.ttl)
	out := make([]QueueEntry, 0, len(s.queues))
	for _, e := range s.queues {
		if e.UpdatedAt.After(cutoff) {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Update.QueueName < out[j].Update.QueueName
	})
	return out
}

// Count returns the total number of queue entries held, including stale ones.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.queues)
}

// Evict removes queue entries whose UpdatedAt is older than now minus TTL.
// It returns the number of entries removed.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.ttl)
	removed := 0
	for name, e := range s.queues {
		if !e.UpdatedAt.After(cutoff) {
			delete(s.queues, name)
			removed++
		}
	}
	return removed
}

// Run starts the background TTL eviction loop. It ticks at half the TTL
// interval (minimum 1 second). Run blocks until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted idle queues", "count", n)
			}
		}
	}
}
