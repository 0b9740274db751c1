package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"sentinel-sos/internal/incident/models"
	"sentinel-sos/pkg/domain"
	"sentinel-sos/pkg/platform/sentinel"
	txcontext "sentinel-sos/pkg/platform/tx"
)

const uniqueViolation = "23505"

const incidentColumns = `
	i.id, i.subject_id, s.address, i.latitude, i.longitude, i.incident_type, i.description,
	i.status, i.sealed_packet, i.ledger_incident_id, i.tx_ref, i.payload_hash,
	i.created_at, i.resolved_at, i.resolution_note`

// PostgresStore persists incidents in PostgreSQL. The subject address is
// joined in on read so history rows carry it.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Create inserts the incident in one statement; the unique constraints on
// tx_ref and ledger_incident_id turn duplicates into ErrConflict.
func (s *PostgresStore) Create(ctx context.Context, incident *models.Incident) error {
	query := `
		INSERT INTO incidents (
			id, subject_id, latitude, longitude, incident_type, description, status,
			sealed_packet, ledger_incident_id, tx_ref, payload_hash, created_at,
			resolved_at, resolution_note
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(incident.ID),
		uuid.UUID(incident.SubjectID),
		incident.Location.Latitude,
		incident.Location.Longitude,
		incident.IncidentType,
		incident.Description,
		string(incident.Status),
		incident.SealedPacket,
		incident.LedgerProof.IncidentID,
		txKey(incident.LedgerProof.TxRef),
		incident.LedgerProof.PayloadHash,
		incident.CreatedAt,
		incident.ResolvedAt,
		incident.ResolutionNote,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id domain.IncidentID) (*models.Incident, error) {
	return s.findOne(ctx, "i.id = $1", uuid.UUID(id))
}

func (s *PostgresStore) FindByTxRef(ctx context.Context, txRef string) (*models.Incident, error) {
	return s.findOne(ctx, "i.tx_ref = $1", txKey(txRef))
}

func (s *PostgresStore) ListBySubject(ctx context.Context, subjectID domain.SubjectID) ([]*models.Incident, error) {
	return s.list(ctx, "WHERE i.subject_id = $1", uuid.UUID(subjectID))
}

func (s *PostgresStore) List(ctx context.Context, filter models.ListFilter) ([]*models.Incident, error) {
	if filter.Status == nil {
		return s.list(ctx, "")
	}
	return s.list(ctx, "WHERE i.status = ANY($1::text[])", pq.Array([]string{string(*filter.Status)}))
}

// Resolve flips status only while the incident is still active. A no-op
// update on an already resolved row returns the row unchanged.
func (s *PostgresStore) Resolve(ctx context.Context, id domain.IncidentID, at time.Time, note string) (*models.Incident, bool, error) {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE incidents
		SET status = 'resolved', resolved_at = $2, resolution_note = $3
		WHERE id = $1 AND status = 'active'
	`, uuid.UUID(id), at, note)
	if err != nil {
		return nil, false, fmt.Errorf("resolve incident: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("resolve incident rows affected: %w", err)
	}
	incident, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return incident, affected == 1, nil
}

func (s *PostgresStore) CountActive(ctx context.Context) (int, error) {
	var n int
	err := s.execer(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM incidents WHERE status = 'active'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active incidents: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) HasActive(ctx context.Context, subjectID domain.SubjectID) (bool, error) {
	var exists bool
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM incidents WHERE subject_id = $1 AND status = 'active')`,
		uuid.UUID(subjectID),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check active incidents: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ActiveSubjects(ctx context.Context) (map[domain.SubjectID]struct{}, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `SELECT DISTINCT subject_id FROM incidents WHERE status = 'active'`)
	if err != nil {
		return nil, fmt.Errorf("list active subjects: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.SubjectID]struct{})
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan active subject: %w", err)
		}
		out[domain.SubjectID(id)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active subjects: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) findOne(ctx context.Context, where string, arg any) (*models.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents i JOIN subjects s ON s.id = i.subject_id WHERE ` + where
	incident, err := scanIncident(s.execer(ctx).QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find incident: %w", err)
	}
	return incident, nil
}

func (s *PostgresStore) list(ctx context.Context, where string, args ...any) ([]*models.Incident, error) {
	query := strings.Join([]string{
		`SELECT ` + incidentColumns + ` FROM incidents i JOIN subjects s ON s.id = i.subject_id`,
		where,
		`ORDER BY i.created_at DESC, i.id DESC`,
	}, " ")
	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Incident, 0)
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		out = append(out, incident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (*models.Incident, error) {
	var (
		id, subjectID uuid.UUID
		address       string
		status        string
		resolvedAt    sql.NullTime
		incident      models.Incident
	)
	err := row.Scan(
		&id, &subjectID, &address,
		&incident.Location.Latitude, &incident.Location.Longitude,
		&incident.IncidentType, &incident.Description, &status,
		&incident.SealedPacket,
		&incident.LedgerProof.IncidentID, &incident.LedgerProof.TxRef, &incident.LedgerProof.PayloadHash,
		&incident.CreatedAt, &resolvedAt, &incident.ResolutionNote,
	)
	if err != nil {
		return nil, err
	}
	incident.ID = domain.IncidentID(id)
	incident.SubjectID = domain.SubjectID(subjectID)
	incident.SubjectAddress = domain.Address(address)
	incident.Status = models.Status(status)
	incident.CreatedAt = incident.CreatedAt.UTC()
	if resolvedAt.Valid {
		at := resolvedAt.Time.UTC()
		incident.ResolvedAt = &at
	}
	return &incident, nil
}
