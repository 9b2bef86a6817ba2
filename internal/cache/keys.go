package cache

import (
	"fmt"

	"github.com/google/uuid"
)

// RateLimitKey counts requests from subject in the window starting at
// windowStart (unix seconds).
func RateLimitKey(subject string, windowStart int64) string {
	return fmt.Sprintf("ratelimit:%s:%d", subject, windowStart)
}

// AuthFailureKey counts failed credential checks from a client address in
// the window starting at windowStart.
func AuthFailureKey(addr string, windowStart int64) string {
	return fmt.Sprintf("authfail:%s:%d", addr, windowStart)
}

// AccessibleProjectsKey holds the cached result of a user's access-scoped
// project query, valid only while generation is the user's current one.
func AccessibleProjectsKey(userID uuid.UUID, generation string) string {
	return fmt.Sprintf("access:projects:%s:%s", userID, generation)
}

// AccessGenerationKey holds the token that names a user's live access cache
// entry. Replacing it orphans every entry written under the old token.
func AccessGenerationKey(userID uuid.UUID) string {
	return fmt.Sprintf("access:gen:%s", userID)
}
