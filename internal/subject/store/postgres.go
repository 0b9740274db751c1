package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"sentinel-sos/internal/subject/models"
	"sentinel-sos/pkg/domain"
	"sentinel-sos/pkg/platform/sentinel"
	txcontext "sentinel-sos/pkg/platform/tx"
)

const uniqueViolation = "23505"

const subjectColumns = `id, address, encrypted_credentials, credential_hash,
	last_latitude, last_longitude, created_at, updated_at`

// PostgresStore persists subjects in PostgreSQL.
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

func (s *PostgresStore) Create(ctx context.Context, subject *models.Subject) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO subjects (`+subjectColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		uuid.UUID(subject.ID),
		subject.Address.String(),
		subject.EncryptedCredentials,
		subject.CredentialHash,
		subject.LastLocation.Latitude,
		subject.LastLocation.Longitude,
		subject.CreatedAt,
		subject.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert subject: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id domain.SubjectID) (*models.Subject, error) {
	return s.findOne(ctx, "id = $1", uuid.UUID(id))
}

func (s *PostgresStore) FindByAddress(ctx context.Context, address domain.Address) (*models.Subject, error) {
	return s.findOne(ctx, "address = $1", address.String())
}

func (s *PostgresStore) List(ctx context.Context) ([]*models.Subject, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT `+subjectColumns+` FROM subjects ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Subject, 0)
	for rows.Next() {
		subject, err := scanSubject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		out = append(out, subject)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subjects: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.execer(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM subjects`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count subjects: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) UpdateLocation(ctx context.Context, id domain.SubjectID, loc domain.Location, at time.Time) (*models.Subject, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		UPDATE subjects
		SET last_latitude = $2, last_longitude = $3, updated_at = $4
		WHERE id = $1
		RETURNING `+subjectColumns,
		uuid.UUID(id), loc.Latitude, loc.Longitude, at,
	)
	subject, err := scanSubject(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("update subject location: %w", err)
	}
	return subject, nil
}

func (s *PostgresStore) findOne(ctx context.Context, where string, arg any) (*models.Subject, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `SELECT `+subjectColumns+` FROM subjects WHERE `+where, arg)
	subject, err := scanSubject(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find subject: %w", err)
	}
	return subject, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubject(row rowScanner) (*models.Subject, error) {
	var (
		id      uuid.UUID
		address string
		subject models.Subject
	)
	if err := row.Scan(
		&id, &address, &subject.EncryptedCredentials, &subject.CredentialHash,
		&subject.LastLocation.Latitude, &subject.LastLocation.Longitude,
		&subject.CreatedAt, &subject.UpdatedAt,
	); err != nil {
		return nil, err
	}
	subject.ID = domain.SubjectID(id)
	subject.Address = domain.Address(address)
	subject.CreatedAt = subject.CreatedAt.UTC()
	subject.UpdatedAt = subject.UpdatedAt.UTC()
	return &subject, nil
}
