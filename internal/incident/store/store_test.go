package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"sentinel-sos/internal/incident/models"
	"sentinel-sos/pkg/domain"
	"sentinel-sos/pkg/platform/sentinel"
)

// incidentStore is the behaviour every backend must share.
type incidentStore interface {
	Create(ctx context.Context, incident *models.Incident) error
	FindByID(ctx context.Context, id domain.IncidentID) (*models.Incident, error)
	FindByTxRef(ctx context.Context, txRef string) (*models.Incident, error)
	ListBySubject(ctx context.Context, subjectID domain.SubjectID) ([]*models.Incident, error)
	List(ctx context.Context, filter models.ListFilter) ([]*models.Incident, error)
	Resolve(ctx context.Context, id domain.IncidentID, at time.Time, note string) (*models.Incident, bool, error)
	CountActive(ctx context.Context) (int, error)
	HasActive(ctx context.Context, subjectID domain.SubjectID) (bool, error)
	ActiveSubjects(ctx context.Context) (map[domain.SubjectID]struct{}, error)
}

var (
	_ incidentStore = (*InMemoryStore)(nil)
	_ incidentStore = (*BadgerStore)(nil)
	_ incidentStore = (*PostgresStore)(nil)
)

type StoreContractSuite struct {
	suite.Suite
	newStore func() (incidentStore, func())
	store    incidentStore
	cleanup  func()
	seq      int

	// ensureSubject creates the parent row for backends with foreign keys.
	ensureSubject func(domain.SubjectID)
}

func TestInMemoryStore(t *testing.T) {
	suite.Run(t, &StoreContractSuite{newStore: func() (incidentStore, func()) {
		return NewInMemoryStore(), func() {}
	}})
}

func TestBadgerStore(t *testing.T) {
	suite.Run(t, &StoreContractSuite{newStore: func() (incidentStore, func()) {
		db, err := OpenBadger("")
		if err != nil {
			t.Fatalf("open badger: %v", err)
		}
		return NewBadger(db), func() { _ = db.Close() }
	}})
}

func (s *StoreContractSuite) SetupTest() {
	s.store, s.cleanup = s.newStore()
	s.seq = 0
}

func (s *StoreContractSuite) TearDownTest() {
	s.cleanup()
}

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func (s *StoreContractSuite) newIncident(subject domain.SubjectID) *models.Incident {
	s.seq++
	if s.ensureSubject != nil {
		s.ensureSubject(subject)
	}
	return &models.Incident{
		ID:           domain.NewIncidentID(),
		SubjectID:    subject,
		Location:     domain.Location{Latitude: 26.9, Longitude: 75.8},
		IncidentType: "medical",
		Description:  "fell on the trail",
		Status:       models.StatusActive,
		SealedPacket: `{"encryptedKey":"a","iv":"b","encryptedData":"c"}`,
		LedgerProof: models.LedgerProof{
			IncidentID:  fmt.Sprintf("%d", s.seq),
			TxRef:       fmt.Sprintf("0x%064x", s.seq),
			PayloadHash: "0xfeed",
		},
		CreatedAt: base.Add(time.Duration(s.seq) * time.Minute),
	}
}

func (s *StoreContractSuite) TestCreateAndFind() {
	ctx := context.Background()
	incident := s.newIncident(domain.NewSubjectID())
	s.Require().NoError(s.store.Create(ctx, incident))

	byID, err := s.store.FindByID(ctx, incident.ID)
	s.Require().NoError(err)
	s.Equal(incident.SealedPacket, byID.SealedPacket)
	s.Equal(incident.LedgerProof, byID.LedgerProof)
	s.True(incident.CreatedAt.Equal(byID.CreatedAt))

	byTx, err := s.store.FindByTxRef(ctx, incident.LedgerProof.TxRef)
	s.Require().NoError(err)
	s.Equal(incident.ID, byTx.ID)
}

func (s *StoreContractSuite) TestFindMissing() {
	_, err := s.store.FindByID(context.Background(), domain.NewIncidentID())
	s.ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.store.FindByTxRef(context.Background(), "0xdead")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *StoreContractSuite) TestDuplicateTxRefOrLedgerIDConflicts() {
	ctx := context.Background()
	first := s.newIncident(domain.NewSubjectID())
	s.Require().NoError(s.store.Create(ctx, first))

	sameTx := s.newIncident(first.SubjectID)
	sameTx.LedgerProof.TxRef = first.LedgerProof.TxRef
	s.ErrorIs(s.store.Create(ctx, sameTx), sentinel.ErrConflict)

	sameLedgerID := s.newIncident(first.SubjectID)
	sameLedgerID.LedgerProof.IncidentID = first.LedgerProof.IncidentID
	s.ErrorIs(s.store.Create(ctx, sameLedgerID), sentinel.ErrConflict)

	all, err := s.store.List(ctx, models.ListFilter{})
	s.Require().NoError(err)
	s.Len(all, 1)
}

func (s *StoreContractSuite) TestConcurrentDuplicateCreatesOnlyOne() {
	ctx := context.Background()
	template := s.newIncident(domain.NewSubjectID())

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := *template
			c.ID = domain.NewIncidentID()
			errs <- s.store.Create(ctx, &c)
		}()
	}
	wg.Wait()
	close(errs)

	created := 0
	for err := range errs {
		if err == nil {
			created++
			continue
		}
		s.ErrorIs(err, sentinel.ErrConflict)
	}
	s.Equal(1, created)
}

func (s *StoreContractSuite) TestCancelledCreateWritesNothing() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	incident := s.newIncident(domain.NewSubjectID())

	s.Error(s.store.Create(ctx, incident))
	_, err := s.store.FindByID(context.Background(), incident.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.store.FindByTxRef(context.Background(), incident.LedgerProof.TxRef)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *StoreContractSuite) TestListNewestFirstAndFilter() {
	ctx := context.Background()
	subject := domain.NewSubjectID()
	older := s.newIncident(subject)
	newer := s.newIncident(subject)
	s.Require().NoError(s.store.Create(ctx, older))
	s.Require().NoError(s.store.Create(ctx, newer))
	_, _, err := s.store.Resolve(ctx, older.ID, base.Add(time.Hour), "")
	s.Require().NoError(err)

	all, err := s.store.List(ctx, models.ListFilter{})
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal(newer.ID, all[0].ID)
	s.Equal(older.ID, all[1].ID)

	resolved := models.StatusResolved
	onlyResolved, err := s.store.List(ctx, models.ListFilter{Status: &resolved})
	s.Require().NoError(err)
	s.Require().Len(onlyResolved, 1)
	s.Equal(older.ID, onlyResolved[0].ID)

	mine, err := s.store.ListBySubject(ctx, subject)
	s.Require().NoError(err)
	s.Len(mine, 2)
	others, err := s.store.ListBySubject(ctx, domain.NewSubjectID())
	s.Require().NoError(err)
	s.Empty(others)
}

func (s *StoreContractSuite) TestResolveIsOneWayAndIdempotent() {
	ctx := context.Background()
	incident := s.newIncident(domain.NewSubjectID())
	s.Require().NoError(s.store.Create(ctx, incident))

	first, changed, err := s.store.Resolve(ctx, incident.ID, base.Add(time.Hour), "EFIR-7")
	s.Require().NoError(err)
	s.True(changed)
	s.Equal(models.StatusResolved, first.Status)
	s.Require().NotNil(first.ResolvedAt)

	second, changed, err := s.store.Resolve(ctx, incident.ID, base.Add(2*time.Hour), "other")
	s.Require().NoError(err)
	s.False(changed)
	s.Equal("EFIR-7", second.ResolutionNote)
	s.True(first.ResolvedAt.Equal(*second.ResolvedAt))
	s.Equal(incident.SealedPacket, second.SealedPacket)
	s.Equal(incident.LedgerProof, second.LedgerProof)

	_, _, err = s.store.Resolve(ctx, domain.NewIncidentID(), base, "")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *StoreContractSuite) TestActiveTracking() {
	ctx := context.Background()
	a, b := domain.NewSubjectID(), domain.NewSubjectID()
	a1, a2, b1 := s.newIncident(a), s.newIncident(a), s.newIncident(b)
	for _, incident := range []*models.Incident{a1, a2, b1} {
		s.Require().NoError(s.store.Create(ctx, incident))
	}

	count, err := s.store.CountActive(ctx)
	s.Require().NoError(err)
	s.Equal(3, count)

	_, _, err = s.store.Resolve(ctx, a1.ID, base, "")
	s.Require().NoError(err)
	has, err := s.store.HasActive(ctx, a)
	s.Require().NoError(err)
	s.True(has, "a2 is still active")

	_, _, err = s.store.Resolve(ctx, a2.ID, base, "")
	s.Require().NoError(err)
	has, err = s.store.HasActive(ctx, a)
	s.Require().NoError(err)
	s.False(has)

	active, err := s.store.ActiveSubjects(ctx)
	s.Require().NoError(err)
	s.Equal(map[domain.SubjectID]struct{}{b: {}}, active)

	count, err = s.store.CountActive(ctx)
	s.Require().NoError(err)
	s.Equal(1, count)
}

func (s *StoreContractSuite) TestReturnedRecordsAreCopies() {
	ctx := context.Background()
	incident := s.newIncident(domain.NewSubjectID())
	s.Require().NoError(s.store.Create(ctx, incident))

	got, err := s.store.FindByID(ctx, incident.ID)
	s.Require().NoError(err)
	got.SealedPacket = "tampered"
	got.Status = models.StatusResolved

	again, err := s.store.FindByID(ctx, incident.ID)
	s.Require().NoError(err)
	s.Equal(incident.SealedPacket, again.SealedPacket)
	s.Equal(models.StatusActive, again.Status)
}
