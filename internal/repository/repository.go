package repository

import (
	"context"

	"github.com/vendasys/pos-service/internal/domain"
)

// SessionRepository defines the interface for session persistence operations.
type SessionRepository interface {
	// Get retrieves the in-progress session for a terminal.
	Get(ctx context.Context, terminalID string) (*domain.Session, error)

	// SaveIfVersion persists the session only if the stored version still
	// matches expectedVersion (0 for a session that does not exist yet).
	// It returns false when the version check fails, in which case the
	// caller lost a concurrent update and must reload.
	SaveIfVersion(ctx context.Context, session *domain.Session, expectedVersion int) (bool, error)

	// Delete discards the session for a terminal. Deleting a terminal with
	// no session is not an error.
	Delete(ctx context.Context, terminalID string) error
}
