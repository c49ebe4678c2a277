package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"fundgate/internal/application"
	id "fundgate/pkg/domain"
	"fundgate/pkg/platform/sentinel"
	txcontext "fundgate/pkg/platform/tx"
)

// PostgresStore persists applications with the status timeline as a JSONB
// document. The timeline is only ever appended to, so document storage
// beats a join table here.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const appColumns = `
	id, developer_id, assigned_broker_id, title, status, timeline,
	submitted_at, completed_at, created_at, updated_at
`

func (s *PostgresStore) Create(ctx context.Context, app *application.Application) error {
	timeline, err := json.Marshal(app.Timeline)
	if err != nil {
		return fmt.Errorf("marshal timeline: %w", err)
	}

	query := `
		INSERT INTO applications (` + appColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = s.db.ExecContext(ctx, query,
		uuid.UUID(app.ID),
		uuid.UUID(app.DeveloperID),
		brokerValue(app.AssignedBrokerID),
		app.Title,
		string(app.Status),
		timeline,
		app.SubmittedAt,
		app.CompletedAt,
		app.CreatedAt,
		app.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create application: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, appID id.ApplicationID) (*application.Application, error) {
	query := `SELECT ` + appColumns + ` FROM applications WHERE id = $1`
	return scanApp(s.db.QueryRowContext(ctx, query, uuid.UUID(appID)))
}

func (s *PostgresStore) ListByDeveloper(ctx context.Context, developerID id.UserID) ([]*application.Application, error) {
	query := `
		SELECT ` + appColumns + `
		FROM applications
		WHERE developer_id = $1
		ORDER BY created_at DESC
	`
	return s.queryApps(ctx, query, uuid.UUID(developerID))
}

func (s *PostgresStore) ListByBroker(ctx context.Context, brokerID id.UserID) ([]*application.Application, error) {
	query := `
		SELECT ` + appColumns + `
		FROM applications
		WHERE assigned_broker_id = $1
		ORDER BY created_at DESC
	`
	return s.queryApps(ctx, query, uuid.UUID(brokerID))
}

func (s *PostgresStore) queryApps(ctx context.Context, query string, arg any) ([]*application.Application, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()

	var apps []*application.Application
	for rows.Next() {
		app, err := scanApp(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applications: %w", err)
	}
	return apps, nil
}

// Execute locks the application row, validates the current state and
// applies the mutation in one transaction.
func (s *PostgresStore) Execute(ctx context.Context, appID id.ApplicationID, validate func(*application.Application) error, mutate func(*application.Application)) (*application.Application, error) {
	run := func(ctx context.Context, sqlTx *sql.Tx) (*application.Application, error) {
		query := `SELECT ` + appColumns + ` FROM applications WHERE id = $1 FOR UPDATE`
		app, err := scanApp(sqlTx.QueryRowContext(ctx, query, uuid.UUID(appID)))
		if err != nil {
			return nil, err
		}
		if err := validate(app); err != nil {
			return nil, err
		}
		mutate(app)

		timeline, err := json.Marshal(app.Timeline)
		if err != nil {
			return nil, fmt.Errorf("marshal timeline: %w", err)
		}

		update := `
			UPDATE applications
			SET assigned_broker_id = $2, status = $3, timeline = $4,
			    submitted_at = $5, completed_at = $6, updated_at = $7
			WHERE id = $1
		`
		if _, err := sqlTx.ExecContext(ctx, update,
			uuid.UUID(app.ID),
			brokerValue(app.AssignedBrokerID),
			string(app.Status),
			timeline,
			app.SubmittedAt,
			app.CompletedAt,
			app.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("update application: %w", err)
		}
		return app, nil
	}

	if sqlTx, ok := txcontext.From(ctx); ok {
		return run(ctx, sqlTx)
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	app, err := run(ctx, sqlTx)
	if err != nil {
		_ = sqlTx.Rollback()
		return nil, err
	}
	if err := sqlTx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return app, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApp(row rowScanner) (*application.Application, error) {
	var (
		app      application.Application
		appID    uuid.UUID
		devID    uuid.UUID
		brokerID uuid.NullUUID
		timeline []byte
	)
	err := row.Scan(
		&appID,
		&devID,
		&brokerID,
		&app.Title,
		&app.Status,
		&timeline,
		&app.SubmittedAt,
		&app.CompletedAt,
		&app.CreatedAt,
		&app.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan application: %w", err)
	}

	app.ID = id.ApplicationID(appID)
	app.DeveloperID = id.UserID(devID)
	if brokerID.Valid {
		app.AssignedBrokerID = id.UserID(brokerID.UUID)
	}
	if len(timeline) > 0 {
		if err := json.Unmarshal(timeline, &app.Timeline); err != nil {
			return nil, fmt.Errorf("unmarshal timeline: %w", err)
		}
	}
	return &app, nil
}

func brokerValue(brokerID id.UserID) any {
	if brokerID.IsNil() {
		return nil
	}
	return uuid.UUID(brokerID)
}
