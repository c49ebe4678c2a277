// Package contact resolves user contact details for verification invites.
package contact

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"fundgate/internal/verification"
	id "fundgate/pkg/domain"
	"fundgate/pkg/platform/sentinel"
)

// PostgresDirectory reads contact details from the users table.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) Contact(ctx context.Context, userID id.UserID) (verification.Contact, error) {
	var contact verification.Contact
	query := `SELECT email, first_name, last_name FROM users WHERE id = $1`
	err := d.db.QueryRowContext(ctx, query, uuid.UUID(userID)).
		Scan(&contact.Email, &contact.FirstName, &contact.Surname)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return verification.Contact{}, sentinel.ErrNotFound
		}
		return verification.Contact{}, fmt.Errorf("load contact details: %w", err)
	}
	return contact, nil
}

// InMemoryDirectory serves fixed contacts; used in development mode and
// tests.
type InMemoryDirectory struct {
	mu       sync.RWMutex
	contacts map[id.UserID]verification.Contact
}

func NewInMemory() *InMemoryDirectory {
	return &InMemoryDirectory{
		contacts: make(map[id.UserID]verification.Contact),
	}
}

func (d *InMemoryDirectory) Put(userID id.UserID, contact verification.Contact) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.contacts[userID] = contact
}

func (d *InMemoryDirectory) Contact(ctx context.Context, userID id.UserID) (verification.Contact, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	contact, ok := d.contacts[userID]
	if !ok {
		return verification.Contact{}, sentinel.ErrNotFound
	}
	return contact, nil
}
