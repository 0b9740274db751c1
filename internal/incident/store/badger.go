package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"sentinel-sos/internal/incident/models"
	"sentinel-sos/pkg/domain"
	"sentinel-sos/pkg/platform/sentinel"
)

const (
	prefixIncident = "incident:"
	prefixTxRef    = "incident-tx:"
	prefixLedgerID = "incident-ledger:"
)

// OpenBadger opens an embedded store at path. An empty path opens an
// in-memory instance.
func OpenBadger(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return db, nil
}

// BadgerStore keeps incidents in an embedded key-value store for single-node
// deployments. Records are JSON; the tx ref and ledger id indexes are written
// in the same transaction as the record.
type BadgerStore struct {
	db *badger.DB
}

func NewBadger(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func incidentKey(id domain.IncidentID) []byte { return []byte(prefixIncident + id.String()) }
func txRefKey(txRef string) []byte            { return []byte(prefixTxRef + txKey(txRef)) }
func ledgerIDKey(id string) []byte            { return []byte(prefixLedgerID + id) }

func (s *BadgerStore) Create(ctx context.Context, incident *models.Incident) error {
	payload, err := json.Marshal(incident)
	if err != nil {
		return fmt.Errorf("encode incident: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		for _, key := range [][]byte{incidentKey(incident.ID), txRefKey(incident.LedgerProof.TxRef), ledgerIDKey(incident.LedgerProof.IncidentID)} {
			_, err := txn.Get(key)
			if err == nil {
				return sentinel.ErrConflict
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		id := []byte(incident.ID.String())
		if err := txn.Set(incidentKey(incident.ID), payload); err != nil {
			return err
		}
		if err := txn.Set(txRefKey(incident.LedgerProof.TxRef), id); err != nil {
			return err
		}
		return txn.Set(ledgerIDKey(incident.LedgerProof.IncidentID), id)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrConflict), errors.Is(err, badger.ErrConflict):
		return sentinel.ErrConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("insert incident: %w", err)
	}
}

func (s *BadgerStore) FindByID(_ context.Context, id domain.IncidentID) (*models.Incident, error) {
	var incident *models.Incident
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		incident, err = getIncident(txn, incidentKey(id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return incident, nil
}

func (s *BadgerStore) FindByTxRef(_ context.Context, txRef string) (*models.Incident, error) {
	var incident *models.Incident
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(txRefKey(txRef))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return sentinel.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("read tx index: %w", err)
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("read tx index: %w", err)
		}
		incident, err = getIncident(txn, []byte(prefixIncident+string(id)))
		return err
	})
	if err != nil {
		return nil, err
	}
	return incident, nil
}

func (s *BadgerStore) ListBySubject(_ context.Context, subjectID domain.SubjectID) ([]*models.Incident, error) {
	return s.scan(func(i *models.Incident) bool { return i.SubjectID == subjectID })
}

func (s *BadgerStore) List(_ context.Context, filter models.ListFilter) ([]*models.Incident, error) {
	return s.scan(func(i *models.Incident) bool {
		return filter.Status == nil || i.Status == *filter.Status
	})
}

func (s *BadgerStore) Resolve(_ context.Context, id domain.IncidentID, at time.Time, note string) (*models.Incident, bool, error) {
	var (
		incident *models.Incident
		changed  bool
	)
	err := s.db.Update(func(txn *badger.Txn) error {
		var err error
		incident, err = getIncident(txn, incidentKey(id))
		if err != nil {
			return err
		}
		changed = incident.Resolve(at, note)
		if !changed {
			return nil
		}
		payload, err := json.Marshal(incident)
		if err != nil {
			return fmt.Errorf("encode incident: %w", err)
		}
		return txn.Set(incidentKey(id), payload)
	})
	if err != nil {
		return nil, false, err
	}
	return incident, changed, nil
}

func (s *BadgerStore) CountActive(ctx context.Context) (int, error) {
	active, err := s.List(ctx, models.ListFilter{Status: statusPtr(models.StatusActive)})
	if err != nil {
		return 0, err
	}
	return len(active), nil
}

func (s *BadgerStore) HasActive(ctx context.Context, subjectID domain.SubjectID) (bool, error) {
	incidents, err := s.ListBySubject(ctx, subjectID)
	if err != nil {
		return false, err
	}
	for _, incident := range incidents {
		if incident.IsActive() {
			return true, nil
		}
	}
	return false, nil
}

func (s *BadgerStore) ActiveSubjects(ctx context.Context) (map[domain.SubjectID]struct{}, error) {
	active, err := s.List(ctx, models.ListFilter{Status: statusPtr(models.StatusActive)})
	if err != nil {
		return nil, err
	}
	out := make(map[domain.SubjectID]struct{}, len(active))
	for _, incident := range active {
		out[incident.SubjectID] = struct{}{}
	}
	return out, nil
}

func (s *BadgerStore) scan(match func(*models.Incident) bool) ([]*models.Incident, error) {
	out := make([]*models.Incident, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(prefixIncident)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var incident models.Incident
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &incident)
			}); err != nil {
				return fmt.Errorf("decode incident %s: %w", it.Item().Key(), err)
			}
			if match(&incident) {
				out = append(out, &incident)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(out)
	return out, nil
}

func getIncident(txn *badger.Txn, key []byte) (*models.Incident, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read incident: %w", err)
	}
	var incident models.Incident
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &incident)
	}); err != nil {
		return nil, fmt.Errorf("decode incident: %w", err)
	}
	return &incident, nil
}

func statusPtr(s models.Status) *models.Status { return &s }

func txKey(txRef string) string { return strings.ToLower(strings.TrimSpace(txRef)) }
