// Package session records which browser sessions are live.
//
// The session cookie itself is a signed token (see auth.TokenService); the
// store only answers "has this session id been revoked or expired?", so
// sign-out takes effect immediately instead of at cookie expiry.
package session

import (
	"context"
	"time"

	"github.com/rs/xid"
)

// Session binds a session id to one LinkedIn member.
type Session struct {
	ID        string    `json:"id"`
	SubjectID string    `json:"subjectId"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// New returns a session for subjectID that expires ttl after now.
func New(subjectID string, now time.Time, ttl time.Duration) Session {
	return Session{
		ID:        xid.NewWithTime(now).String(),
		SubjectID: subjectID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// Store persists live sessions.
//
// Get returns (nil, nil) for an unknown or expired id. Driver failures are
// returned as apperror.ErrStorageUnavailable.
type Store interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
}
