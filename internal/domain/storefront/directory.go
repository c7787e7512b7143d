// Package storefront holds read-only views of data owned by other storefront
// services: registered users, login sessions and the product catalog.
package storefront

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// User is a registered storefront account.
type User struct {
	ID    uuid.UUID
	Email string
}

// Session is an authenticated browsing session.
type Session struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	LastSeenAt time.Time
}

// UserDirectory looks up registered users. Lookups return (nil, nil) when no
// user matches.
type UserDirectory interface {
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
}

// SessionDirectory looks up login sessions.
type SessionDirectory interface {
	// MostRecentActive returns the unrevoked session seen most recently within
	// window of at, or (nil, nil).
	MostRecentActive(ctx context.Context, at time.Time, window time.Duration) (*Session, error)
}

// ProductDirectory resolves product categories.
type ProductDirectory interface {
	// CategoryOf returns the product's category id, or "" when the product is
	// unknown or uncategorised.
	CategoryOf(ctx context.Context, productID uuid.UUID) (string, error)
}
