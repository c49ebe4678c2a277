package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"fundgate/internal/audit"
	id "fundgate/pkg/domain"
	txcontext "fundgate/pkg/platform/tx"
)

// Store persists audit entries in PostgreSQL. Append joins a caller
// transaction when one travels in the context, so the ledger write lands in
// the same transaction as the domain mutation where the storage supports it.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Store) Append(ctx context.Context, entry audit.Entry) error {
	query := `
		INSERT INTO audit_logs (id, actor_id, action, resource_type, resource_id, details, ip_address, device, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9)
	`
	var actorID any
	if !entry.ActorID.IsNil() {
		actorID = uuid.UUID(entry.ActorID).String()
	}
	_, err := s.execer(ctx).ExecContext(ctx, query,
		entry.ID,
		actorID,
		string(entry.Action),
		entry.ResourceType,
		entry.ResourceID,
		entry.Details,
		entry.IPAddress,
		entry.Device,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, q audit.Query) ([]audit.Entry, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !q.ActorID.IsNil() {
		conds = append(conds, "actor_id = "+arg(uuid.UUID(q.ActorID).String()))
	}
	if q.Action != "" {
		conds = append(conds, "action = "+arg(string(q.Action)))
	}
	if q.ResourceType != "" {
		conds = append(conds, "resource_type = "+arg(q.ResourceType))
	}
	if !q.From.IsZero() {
		conds = append(conds, "created_at >= "+arg(q.From))
	}
	if !q.To.IsZero() {
		conds = append(conds, "created_at <= "+arg(q.To))
	}

	query := `
		SELECT id, actor_id, action, resource_type, resource_id, details, ip_address, device, created_at
		FROM audit_logs
	`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	query += " LIMIT " + arg(q.Limit) + " OFFSET " + arg(q.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var (
			e       audit.Entry
			actorID sql.NullString
			ip      sql.NullString
			device  sql.NullString
		)
		if err := rows.Scan(&e.ID, &actorID, &e.Action, &e.ResourceType, &e.ResourceID, &e.Details, &ip, &device, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.IPAddress = ip.String
		e.Device = device.String
		if actorID.Valid {
			parsed, err := uuid.Parse(actorID.String)
			if err != nil {
				return nil, fmt.Errorf("parse actor id: %w", err)
			}
			e.ActorID = id.UserID(parsed)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}
