// Package memory keeps TTL-evicted conversation state for multi-step
// workflows. Threads are keyed by an opaque id; the store exclusively owns
// entries and hands out copies only.
package memory

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/quorumlabs/quorum/internal/models"
)

const DefaultTTL = 6 * time.Hour

var ErrThreadNotFound = errors.New("thread not found")

type thread struct {
	mu           sync.Mutex
	id           string
	createdAt    time.Time
	lastAccessed time.Time
	entries      []models.ThreadEntry
}

// Store is the only cross-request shared mutable state in the engine.
// The map lock is held only for lookup and insert; appends serialize on
// the per-thread mutex, so unrelated thread ids never contend.
type Store struct {
	mu      sync.RWMutex
	threads map[string]*thread

	ttl     time.Duration
	logger  *slog.Logger
	persist Persister
	now     func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

type Option func(*Store)

// WithPersister attaches durable thread snapshots; existing records are
// loaded eagerly so threads survive a restart.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persist = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(ttl time.Duration, logger *slog.Logger, opts ...Option) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		threads: make(map[string]*thread),
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.persist != nil {
		s.restore()
	}
	return s
}

func (s *Store) restore() {
	records, err := s.persist.LoadThreads()
	if err != nil {
		s.logger.Warn("failed to restore persisted threads", slog.Any("error", err))
		return
	}
	now := s.now()
	restored := 0
	for _, rec := range records {
		last := time.Unix(0, rec.LastAccessedAt)
		if now.Sub(last) > s.ttl {
			_ = s.persist.DeleteThread(rec.ID)
			continue
		}
		s.threads[rec.ID] = &thread{
			id:           rec.ID,
			createdAt:    time.Unix(0, rec.CreatedAt),
			lastAccessed: last,
			entries:      append([]models.ThreadEntry(nil), rec.Entries...),
		}
		restored++
	}
	if restored > 0 {
		s.logger.Info("restored persisted threads", slog.Int("count", restored))
	}
}

// CreateOrGet returns the thread for id, creating it if absent or expired.
// Repeated calls with the same id return the same logical thread.
func (s *Store) CreateOrGet(id string) models.ThreadInfo {
	now := s.now()
	s.mu.Lock()
	t := s.lookupLocked(id, now)
	if t == nil {
		t = &thread{id: id, createdAt: now, lastAccessed: now}
		s.threads[id] = t
	}
	s.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastAccessed = now
	return t.infoLocked()
}

// Append adds an entry and refreshes the thread's idle clock. With
// autoCreate false an absent (or expired) id is ErrThreadNotFound.
func (s *Store) Append(id string, entry models.ThreadEntry, autoCreate bool) error {
	now := s.now()
	s.mu.Lock()
	t := s.lookupLocked(id, now)
	if t == nil {
		if !autoCreate {
			s.mu.Unlock()
			return ErrThreadNotFound
		}
		t = &thread{id: id, createdAt: now, lastAccessed: now}
		s.threads[id] = t
	}
	s.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if entry.Timestamp == 0 {
		entry.Timestamp = now.UnixMilli()
	}
	t.entries = append(t.entries, entry)
	t.lastAccessed = now
	// The snapshot is saved while the thread lock is held so concurrent
	// appends can never persist a stale record over a newer one. Only
	// appends to the same thread id serialize on this.
	if s.persist != nil {
		if err := s.persist.SaveThread(t.recordLocked()); err != nil {
			s.logger.Warn("failed to persist thread", slog.String("thread_id", id), slog.Any("error", err))
		}
	}
	return nil
}

// History returns a copy of the thread's entries. Expired threads are
// absent; reading a live thread counts as an access.
func (s *Store) History(id string) ([]models.ThreadEntry, error) {
	now := s.now()
	s.mu.Lock()
	t := s.lookupLocked(id, now)
	s.mu.Unlock()
	if t == nil {
		return nil, ErrThreadNotFound
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastAccessed = now
	out := make([]models.ThreadEntry, len(t.entries))
	copy(out, t.entries)
	return out, nil
}

// Info reports thread metadata without touching the idle clock.
func (s *Store) Info(id string) (models.ThreadInfo, error) {
	s.mu.RLock()
	t, ok := s.threads[id]
	s.mu.RUnlock()
	if !ok {
		return models.ThreadInfo{}, ErrThreadNotFound
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if s.now().Sub(t.lastAccessed) > s.ttl {
		return models.ThreadInfo{}, ErrThreadNotFound
	}
	return t.infoLocked(), nil
}

// EvictExpired removes every thread idle longer than the ttl and returns
// how many were dropped. Eviction is lazy elsewhere; this is the sweep.
func (s *Store) EvictExpired(now time.Time) int {
	s.mu.Lock()
	var expired []*thread
	for id, t := range s.threads {
		t.mu.Lock()
		idle := now.Sub(t.lastAccessed)
		t.mu.Unlock()
		if idle > s.ttl {
			delete(s.threads, id)
			expired = append(expired, t)
		}
	}
	s.mu.Unlock()

	for _, t := range expired {
		if s.persist != nil {
			_ = s.persist.DeleteThread(t.id)
		}
	}
	if len(expired) > 0 {
		s.logger.Info("evicted expired threads", slog.Int("count", len(expired)))
	}
	return len(expired)
}

// StartSweeper runs EvictExpired periodically until Close.
func (s *Store) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.EvictExpired(s.now())
			case <-s.stopCh:
				return
			}
		}
	}()
}

func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// lookupLocked returns the live thread for id, discarding it lazily when
// its idle time exceeded the ttl. Caller holds the map write lock.
func (s *Store) lookupLocked(id string, now time.Time) *thread {
	t, ok := s.threads[id]
	if !ok {
		return nil
	}
	t.mu.Lock()
	idle := now.Sub(t.lastAccessed)
	t.mu.Unlock()
	if idle > s.ttl {
		delete(s.threads, id)
		if s.persist != nil {
			_ = s.persist.DeleteThread(id)
		}
		return nil
	}
	return t
}

func (t *thread) infoLocked() models.ThreadInfo {
	return models.ThreadInfo{
		ID:             t.id,
		CreatedAt:      t.createdAt.UnixMilli(),
		LastAccessedAt: t.lastAccessed.UnixMilli(),
		Entries:        len(t.entries),
	}
}

func (t *thread) recordLocked() ThreadRecord {
	return ThreadRecord{
		ID:             t.id,
		CreatedAt:      t.createdAt.UnixNano(),
		LastAccessedAt: t.lastAccessed.UnixNano(),
		Entries:        append([]models.ThreadEntry(nil), t.entries...),
	}
}
