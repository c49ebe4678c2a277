package event

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"fundgate/internal/integration"
	id "fundgate/pkg/domain"
	"fundgate/pkg/platform/sentinel"
	txcontext "fundgate/pkg/platform/tx"
)

// PostgresStore persists integration events in PostgreSQL. This store is
// pure I/O; retry policy and transition rules live in the service and the
// model.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const eventColumns = `
	id, subject_type, subject_id, target, provider_process_id, status,
	retry_count, last_attempted_at, payload, response, created_at, updated_at
`

func (s *PostgresStore) Create(ctx context.Context, event *integration.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	query := `
		INSERT INTO integration_events (` + eventColumns + `)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = s.db.ExecContext(ctx, query,
		uuid.UUID(event.ID),
		string(event.SubjectType),
		event.SubjectID,
		string(event.Target),
		event.ProviderProcessID,
		string(event.Status),
		event.RetryCount,
		event.LastAttemptedAt,
		payload,
		nullableJSON(event.Response),
		event.CreatedAt,
		event.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create integration event: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, eventID id.EventID) (*integration.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM integration_events WHERE id = $1`
	return scanEvent(s.db.QueryRowContext(ctx, query, uuid.UUID(eventID)))
}

func (s *PostgresStore) FindByProviderProcessID(ctx context.Context, processID string) (*integration.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM integration_events WHERE provider_process_id = $1`
	return scanEvent(s.db.QueryRowContext(ctx, query, processID))
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status integration.Status, limit int) ([]*integration.Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM integration_events
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list integration events: %w", err)
	}
	defer rows.Close()

	var events []*integration.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate integration events: %w", err)
	}
	return events, nil
}

// Execute locks the row with SELECT ... FOR UPDATE, runs validate against
// the current state and applies mutate in the same transaction, so
// concurrent transitions serialize and losers observe the winner's state.
func (s *PostgresStore) Execute(ctx context.Context, eventID id.EventID, validate func(*integration.Event) error, mutate func(*integration.Event)) (*integration.Event, error) {
	run := func(ctx context.Context, sqlTx *sql.Tx) (*integration.Event, error) {
		query := `SELECT ` + eventColumns + ` FROM integration_events WHERE id = $1 FOR UPDATE`
		event, err := scanEvent(sqlTx.QueryRowContext(ctx, query, uuid.UUID(eventID)))
		if err != nil {
			return nil, err
		}
		if err := validate(event); err != nil {
			return nil, err
		}
		mutate(event)

		update := `
			UPDATE integration_events
			SET provider_process_id = NULLIF($2, ''), status = $3, retry_count = $4,
			    last_attempted_at = $5, response = $6, updated_at = $7
			WHERE id = $1
		`
		if _, err := sqlTx.ExecContext(ctx, update,
			uuid.UUID(event.ID),
			event.ProviderProcessID,
			string(event.Status),
			event.RetryCount,
			event.LastAttemptedAt,
			nullableJSON(event.Response),
			event.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("update integration event: %w", err)
		}
		return event, nil
	}

	// Join a caller transaction when one is in flight.
	if sqlTx, ok := txcontext.From(ctx); ok {
		return run(ctx, sqlTx)
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	event, err := run(ctx, sqlTx)
	if err != nil {
		_ = sqlTx.Rollback()
		return nil, err
	}
	if err := sqlTx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return event, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*integration.Event, error) {
	var (
		event     integration.Event
		rawID     uuid.UUID
		processID sql.NullString
		attempted sql.NullTime
		payload   []byte
		response  []byte
	)
	err := row.Scan(
		&rawID,
		&event.SubjectType,
		&event.SubjectID,
		&event.Target,
		&processID,
		&event.Status,
		&event.RetryCount,
		&attempted,
		&payload,
		&response,
		&event.CreatedAt,
		&event.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan integration event: %w", err)
	}

	event.ID = id.EventID(rawID)
	if processID.Valid {
		event.ProviderProcessID = processID.String
	}
	if attempted.Valid {
		t := attempted.Time
		event.LastAttemptedAt = &t
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &event.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal event payload: %w", err)
		}
	}
	if len(response) > 0 {
		event.Response = json.RawMessage(response)
	}
	return &event, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
