package auth

import (
	"time"

	"github.com/google/uuid"
)

// UserClaims describes the validated identity extracted from an access token.
type UserClaims struct {
	UserID    uuid.UUID
	Email     string
	IsAdmin   bool
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// Preferences holds the per-user switches the media pipeline honours.
type Preferences struct {
	SanitizeMetadata bool `json:"sanitizeMetadata"`
}
