package cache

import "fmt"

// Key prefixes used by the session store.
const (
	PrefixSession     = "session"
	PrefixUserHandles = "session:user"
)

// SessionKey is the Redis key holding a single session record, keyed by
// its handle.
func SessionKey(handle string) string {
	return fmt.Sprintf("%s:%s", PrefixSession, handle)
}

// UserHandlesKey is the Redis key holding the set of session handles owned
// by a given userId, used to enumerate and revoke a user's sessions without
// a full key scan.
func UserHandlesKey(userID string) string {
	return fmt.Sprintf("%s:%s", PrefixUserHandles, userID)
}
