// Package store persists registered subjects. Addresses are unique across
// every backend.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"sentinel-sos/internal/subject/models"
	"sentinel-sos/pkg/domain"
	"sentinel-sos/pkg/platform/sentinel"
)

// InMemoryStore keeps subjects in process memory.
type InMemoryStore struct {
	mu        sync.RWMutex
	byID      map[domain.SubjectID]*models.Subject
	byAddress map[domain.Address]domain.SubjectID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:      make(map[domain.SubjectID]*models.Subject),
		byAddress: make(map[domain.Address]domain.SubjectID),
	}
}

func (s *InMemoryStore) Create(ctx context.Context, subject *models.Subject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := s.byAddress[subject.Address]; ok {
		return sentinel.ErrConflict
	}
	if _, ok := s.byID[subject.ID]; ok {
		return sentinel.ErrConflict
	}
	stored := *subject
	s.byID[stored.ID] = &stored
	s.byAddress[stored.Address] = stored.ID
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id domain.SubjectID) (*models.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subject, ok := s.byID[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := *subject
	return &out, nil
}

func (s *InMemoryStore) FindByAddress(_ context.Context, address domain.Address) (*models.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byAddress[address]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := *s.byID[id]
	return &out, nil
}

// List returns subjects oldest first.
func (s *InMemoryStore) List(_ context.Context) ([]*models.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Subject, 0, len(s.byID))
	for _, subject := range s.byID {
		c := *subject
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID), nil
}

func (s *InMemoryStore) UpdateLocation(_ context.Context, id domain.SubjectID, loc domain.Location, at time.Time) (*models.Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subject, ok := s.byID[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	subject.LastLocation = loc
	subject.UpdatedAt = at
	out := *subject
	return &out, nil
}
