// Package store persists incidents. Every backend enforces the same
// uniqueness rules (one incident per tx ref and per ledger incident id) and
// writes a new incident in a single atomic step.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"sentinel-sos/internal/incident/models"
	"sentinel-sos/pkg/domain"
	"sentinel-sos/pkg/platform/sentinel"
)

// InMemoryStore keeps incidents in process memory, with a per-subject count
// of active incidents so status lookups never scan.
type InMemoryStore struct {
	mu              sync.RWMutex
	byID            map[domain.IncidentID]*models.Incident
	byTxRef         map[string]domain.IncidentID
	byLedgerID      map[string]domain.IncidentID
	activeBySubject map[domain.SubjectID]int
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:            make(map[domain.IncidentID]*models.Incident),
		byTxRef:         make(map[string]domain.IncidentID),
		byLedgerID:      make(map[string]domain.IncidentID),
		activeBySubject: make(map[domain.SubjectID]int),
	}
}

func (s *InMemoryStore) Create(ctx context.Context, incident *models.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := s.byID[incident.ID]; ok {
		return sentinel.ErrConflict
	}
	if _, ok := s.byTxRef[txKey(incident.LedgerProof.TxRef)]; ok {
		return sentinel.ErrConflict
	}
	if _, ok := s.byLedgerID[incident.LedgerProof.IncidentID]; ok {
		return sentinel.ErrConflict
	}

	stored := clone(incident)
	s.byID[stored.ID] = stored
	s.byTxRef[txKey(stored.LedgerProof.TxRef)] = stored.ID
	s.byLedgerID[stored.LedgerProof.IncidentID] = stored.ID
	if stored.IsActive() {
		s.activeBySubject[stored.SubjectID]++
	}
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id domain.IncidentID) (*models.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	incident, ok := s.byID[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(incident), nil
}

func (s *InMemoryStore) FindByTxRef(_ context.Context, txRef string) (*models.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byTxRef[txKey(txRef)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(s.byID[id]), nil
}

func (s *InMemoryStore) ListBySubject(_ context.Context, subjectID domain.SubjectID) ([]*models.Incident, error) {
	return s.collect(func(i *models.Incident) bool { return i.SubjectID == subjectID }), nil
}

// List returns incidents newest first, optionally filtered by status.
func (s *InMemoryStore) List(_ context.Context, filter models.ListFilter) ([]*models.Incident, error) {
	return s.collect(func(i *models.Incident) bool {
		return filter.Status == nil || i.Status == *filter.Status
	}), nil
}

// Resolve marks an incident resolved. Resolving twice keeps the first
// resolution and reports changed=false.
func (s *InMemoryStore) Resolve(_ context.Context, id domain.IncidentID, at time.Time, note string) (*models.Incident, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	incident, ok := s.byID[id]
	if !ok {
		return nil, false, sentinel.ErrNotFound
	}
	changed := incident.Resolve(at, note)
	if changed {
		s.activeBySubject[incident.SubjectID]--
		if s.activeBySubject[incident.SubjectID] <= 0 {
			delete(s.activeBySubject, incident.SubjectID)
		}
	}
	return clone(incident), changed, nil
}

func (s *InMemoryStore) CountActive(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, n := range s.activeBySubject {
		total += n
	}
	return total, nil
}

func (s *InMemoryStore) HasActive(_ context.Context, subjectID domain.SubjectID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeBySubject[subjectID] > 0, nil
}

// ActiveSubjects returns every subject with at least one active incident.
func (s *InMemoryStore) ActiveSubjects(_ context.Context) (map[domain.SubjectID]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.SubjectID]struct{}, len(s.activeBySubject))
	for id := range s.activeBySubject {
		out[id] = struct{}{}
	}
	return out, nil
}

func (s *InMemoryStore) collect(match func(*models.Incident) bool) []*models.Incident {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Incident, 0)
	for _, incident := range s.byID {
		if match(incident) {
			out = append(out, clone(incident))
		}
	}
	sortNewestFirst(out)
	return out
}

func sortNewestFirst(incidents []*models.Incident) {
	sort.SliceStable(incidents, func(a, b int) bool {
		if incidents[a].CreatedAt.Equal(incidents[b].CreatedAt) {
			return incidents[a].ID.String() > incidents[b].ID.String()
		}
		return incidents[a].CreatedAt.After(incidents[b].CreatedAt)
	})
}

func clone(incident *models.Incident) *models.Incident {
	c := *incident
	if incident.ResolvedAt != nil {
		at := *incident.ResolvedAt
		c.ResolvedAt = &at
	}
	return &c
}
