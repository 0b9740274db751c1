// Package nonce holds login challenges. Each address owns a single slot:
// issuing a new challenge replaces the old one, and a challenge is consumed
// at most once.
package nonce

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"sentinel-sos/pkg/domain"
	"sentinel-sos/pkg/platform/sentinel"
)

type slot struct {
	message   string
	expiresAt time.Time
}

// MemoryStore keeps challenges in process memory. Expired slots are rejected
// on read and removed by a periodic sweep.
type MemoryStore struct {
	mu    sync.Mutex
	slots map[domain.Address]slot
	now   func() time.Time
}

type MemoryOption func(*MemoryStore)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		slots: make(map[domain.Address]slot),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Put(_ context.Context, address domain.Address, message string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[address] = slot{message: message, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, address domain.Address) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.slots[address]
	if !ok {
		return "", sentinel.ErrNotFound
	}
	if !s.now().Before(current.expiresAt) {
		delete(s.slots, address)
		return "", sentinel.ErrExpired
	}
	return current.message, nil
}

// Consume deletes the slot only if it still holds message.
func (s *MemoryStore) Consume(_ context.Context, address domain.Address, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.slots[address]
	if !ok {
		return sentinel.ErrNotFound
	}
	if !s.now().Before(current.expiresAt) {
		delete(s.slots, address)
		return sentinel.ErrExpired
	}
	if current.message != message {
		return sentinel.ErrAlreadyUsed
	}
	delete(s.slots, address)
	return nil
}

// Sweep drops expired slots and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for address, current := range s.slots {
		if !now.Before(current.expiresAt) {
			delete(s.slots, address)
			removed++
		}
	}
	return removed
}

// Len reports the number of live or not yet swept slots.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

// StartSweeper runs Sweep on a cron schedule such as "@every 1m". The
// returned function stops the scheduler and waits for a running sweep.
func (s *MemoryStore) StartSweeper(schedule string, logger *slog.Logger) (func(), error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if removed := s.Sweep(); removed > 0 {
			logger.Debug("swept expired login challenges", "removed", removed)
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return func() { <-c.Stop().Done() }, nil
}
