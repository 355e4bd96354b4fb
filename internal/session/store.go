package session

import (
	"context"
	"time"
)

// Patch describes a partial update to a persisted Record; nil fields are
// left unchanged. Modeled on the teacher's SessionData mutation style in
// internal/auth/session_store.go, generalized to a field-level patch so
// callers don't need to re-supply the whole record to change one column.
type Patch struct {
	ExpiresAt    *time.Time
	HashedToken  *string
	AntiCSRF     *string
	PublicDataJ  *string
	PrivateDataJ *string
}

// Store is the pluggable persistence boundary for authenticated session
// records (spec.md §4.3 "Session Store Adapter", C3). Implementations must
// be safe for concurrent use. internal/sessionredis provides the default
// production implementation; memoryStore in this package backs unit tests.
type Store interface {
	// Create persists a new Record, returning an error on failure (Engine
	// wraps such errors as ErrCodeStoreError where it propagates them).
	Create(ctx context.Context, rec *Record) error
	// Get returns the Record for handle, or a not-found error if absent.
	Get(ctx context.Context, handle string) (*Record, error)
	// Update applies patch to the Record at handle.
	Update(ctx context.Context, handle string, patch Patch) error
	// Delete removes the Record at handle.
	Delete(ctx context.Context, handle string) error
	// DeleteAllForUser removes every Record owned by userID (spec.md §4.3
	// "revoke all sessions"), returning the number removed.
	DeleteAllForUser(ctx context.Context, userID string) (int, error)
	// HandlesForUser lists every live handle owned by userID, used by the
	// public-data propagator (C7) to push an updated PublicData snapshot to
	// every one of a user's active sessions.
	HandlesForUser(ctx context.Context, userID string) ([]string, error)
}

// ErrRecordNotFound is returned by Store.Get/Update when handle has no
// corresponding record (expired, revoked, or never created). The Store
// implementations in this module return nil from Delete for such a handle.
type ErrRecordNotFound struct{ Handle string }

func (e *ErrRecordNotFound) Error() string {
	return "session: no record for handle " + e.Handle
}
