package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"fundgate/internal/verification"
	id "fundgate/pkg/domain"
	"fundgate/pkg/platform/sentinel"
	txcontext "fundgate/pkg/platform/tx"
)

// PostgresStore persists verification profiles keyed by user id.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const profileColumns = `
	user_id, status, kyc_status, provider_process_id, provider_entity_id,
	journey_id, completed_at, kyc_checked_at, created_at, updated_at
`

func (s *PostgresStore) Create(ctx context.Context, profile *verification.Profile) error {
	query := `
		INSERT INTO verification_profiles (` + profileColumns + `)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(profile.UserID),
		string(profile.Status),
		string(profile.KYCStatus),
		profile.ProviderProcessID,
		profile.ProviderEntityID,
		profile.JourneyID,
		profile.CompletedAt,
		profile.KYCCheckedAt,
		profile.CreatedAt,
		profile.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create verification profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByUserID(ctx context.Context, userID id.UserID) (*verification.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM verification_profiles WHERE user_id = $1`
	return scanProfile(s.db.QueryRowContext(ctx, query, uuid.UUID(userID)))
}

func (s *PostgresStore) FindByProcessID(ctx context.Context, processID string) (*verification.Profile, error) {
	if processID == "" {
		return nil, sentinel.ErrNotFound
	}
	query := `SELECT ` + profileColumns + ` FROM verification_profiles WHERE provider_process_id = $1`
	return scanProfile(s.db.QueryRowContext(ctx, query, processID))
}

// Execute locks the profile row, validates against current state, applies
// the mutation and writes it back in one transaction. Only one concurrent
// completion can pass validate.
func (s *PostgresStore) Execute(ctx context.Context, userID id.UserID, validate func(*verification.Profile) error, mutate func(*verification.Profile)) (*verification.Profile, error) {
	run := func(ctx context.Context, sqlTx *sql.Tx) (*verification.Profile, error) {
		query := `SELECT ` + profileColumns + ` FROM verification_profiles WHERE user_id = $1 FOR UPDATE`
		profile, err := scanProfile(sqlTx.QueryRowContext(ctx, query, uuid.UUID(userID)))
		if err != nil {
			return nil, err
		}
		if err := validate(profile); err != nil {
			return nil, err
		}
		mutate(profile)

		update := `
			UPDATE verification_profiles
			SET status = $2, kyc_status = $3, provider_process_id = NULLIF($4, ''),
			    provider_entity_id = NULLIF($5, ''), journey_id = NULLIF($6, ''),
			    completed_at = $7, kyc_checked_at = $8, updated_at = $9
			WHERE user_id = $1
		`
		if _, err := sqlTx.ExecContext(ctx, update,
			uuid.UUID(profile.UserID),
			string(profile.Status),
			string(profile.KYCStatus),
			profile.ProviderProcessID,
			profile.ProviderEntityID,
			profile.JourneyID,
			profile.CompletedAt,
			profile.KYCCheckedAt,
			profile.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("update verification profile: %w", err)
		}
		return profile, nil
	}

	if sqlTx, ok := txcontext.From(ctx); ok {
		return run(ctx, sqlTx)
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	profile, err := run(ctx, sqlTx)
	if err != nil {
		_ = sqlTx.Rollback()
		return nil, err
	}
	if err := sqlTx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return profile, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*verification.Profile, error) {
	var (
		profile   verification.Profile
		userID    uuid.UUID
		processID sql.NullString
		entityID  sql.NullString
		journeyID sql.NullString
		completed sql.NullTime
		checked   sql.NullTime
	)
	err := row.Scan(
		&userID,
		&profile.Status,
		&profile.KYCStatus,
		&processID,
		&entityID,
		&journeyID,
		&completed,
		&checked,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan verification profile: %w", err)
	}

	profile.UserID = id.UserID(userID)
	profile.ProviderProcessID = processID.String
	profile.ProviderEntityID = entityID.String
	profile.JourneyID = journeyID.String
	if completed.Valid {
		t := completed.Time
		profile.CompletedAt = &t
	}
	if checked.Valid {
		t := checked.Time
		profile.KYCCheckedAt = &t
	}
	return &profile, nil
}
