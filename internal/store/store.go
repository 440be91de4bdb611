// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/avetisov/honeyshell/internal/domain"
)

// CredentialCount is an aggregated view of submitted credentials.
type CredentialCount struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Count    int64  `json:"count"`
}

// Repository defines the interface for persisting finalized session logs.
// Persistence is best effort: callers log failures and drop the record, a
// session must never be affected by a storage error.
type Repository interface {
	// SaveSession persists a finalized session log. Saving the same
	// session twice replaces the stored record.
	SaveSession(ctx context.Context, log *domain.SessionLog) error

	// GetSession retrieves a full session log by ID, or nil if unknown.
	GetSession(ctx context.Context, sessionID string) (*domain.SessionLog, error)

	// ListSessions returns session summaries (no event lists), newest
	// first.
	ListSessions(ctx context.Context, limit, offset int) ([]*domain.SessionLog, error)

	// CountSessions returns the total number of stored sessions.
	CountSessions(ctx context.Context) (int64, error)

	// TopCredentials returns the most frequently submitted credential
	// pairs across all stored sessions.
	TopCredentials(ctx context.Context, limit int) ([]CredentialCount, error)

	// Ping verifies connectivity to the backing database.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
