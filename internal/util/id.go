package util

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// NewID returns a random 32-character hex id for request correlation and
// event message ids. It is a v4 UUID without dashes, so it fits in headers
// and log fields unquoted.
func NewID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}
