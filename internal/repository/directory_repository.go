package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/storefront/service-coupon/internal/domain/storefront"
	"github.com/storefront/service-coupon/internal/platform/database"
)

// The models below map tables owned by the account and catalog services.
// This service only reads them and never migrates them.

// UserModel maps the users table.
type UserModel struct {
	ID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	Email string    `gorm:"type:varchar(255);not null;index"`
}

// TableName sets the table name.
func (UserModel) TableName() string { return "users" }

// SessionModel maps the sessions table.
type SessionModel struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID     uuid.UUID `gorm:"type:uuid;not null;index"`
	LastSeenAt time.Time `gorm:"not null;index"`
	RevokedAt  *time.Time
}

// TableName sets the table name.
func (SessionModel) TableName() string { return "sessions" }

// ProductModel maps the products table.
type ProductModel struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	CategoryID *string   `gorm:"type:varchar(64)"`
}

// TableName sets the table name.
func (ProductModel) TableName() string { return "products" }

// UserDirectory implements storefront.UserDirectory.
type UserDirectory struct {
	db      *gorm.DB
	retrier *database.Retrier
}

// NewUserDirectory creates a new UserDirectory.
func NewUserDirectory(db *gorm.DB, retrier *database.Retrier) *UserDirectory {
	return &UserDirectory{db: db, retrier: retrier}
}

// FindByID returns the user with id, or nil.
func (d *UserDirectory) FindByID(ctx context.Context, id uuid.UUID) (*storefront.User, error) {
	return d.find(ctx, "user.find_by_id", "id = ?", id)
}

// FindByEmail matches the email case-insensitively, or returns nil.
func (d *UserDirectory) FindByEmail(ctx context.Context, email string) (*storefront.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, nil
	}
	return d.find(ctx, "user.find_by_email", "LOWER(email) = ?", email)
}

func (d *UserDirectory) find(ctx context.Context, operation, query string, args ...interface{}) (*storefront.User, error) {
	model, err := database.Do(ctx, d.retrier, operation, func(ctx context.Context) (*UserModel, error) {
		var m UserModel
		err := d.db.WithContext(ctx).Where(query, args...).First(&m).Error
		return &m, err
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &storefront.User{ID: model.ID, Email: model.Email}, nil
}

// SessionDirectory implements storefront.SessionDirectory.
type SessionDirectory struct {
	db      *gorm.DB
	retrier *database.Retrier
}

// NewSessionDirectory creates a new SessionDirectory.
func NewSessionDirectory(db *gorm.DB, retrier *database.Retrier) *SessionDirectory {
	return &SessionDirectory{db: db, retrier: retrier}
}

// MostRecentActive returns the unrevoked session last seen closest before
// at+window and no earlier than at-window.
func (d *SessionDirectory) MostRecentActive(ctx context.Context, at time.Time, window time.Duration) (*storefront.Session, error) {
	model, err := database.Do(ctx, d.retrier, "session.most_recent_active", func(ctx context.Context) (*SessionModel, error) {
		var m SessionModel
		err := d.db.WithContext(ctx).
			Where("revoked_at IS NULL").
			Where("last_seen_at BETWEEN ? AND ?", at.Add(-window), at.Add(window)).
			Order("last_seen_at DESC").
			First(&m).Error
		return &m, err
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find recent session: %w", err)
	}
	return &storefront.Session{ID: model.ID, UserID: model.UserID, LastSeenAt: model.LastSeenAt}, nil
}

// ProductDirectory implements storefront.ProductDirectory.
type ProductDirectory struct {
	db      *gorm.DB
	retrier *database.Retrier
}

// NewProductDirectory creates a new ProductDirectory.
func NewProductDirectory(db *gorm.DB, retrier *database.Retrier) *ProductDirectory {
	return &ProductDirectory{db: db, retrier: retrier}
}

// CategoryOf returns the product's category, or "" if it has none.
func (d *ProductDirectory) CategoryOf(ctx context.Context, productID uuid.UUID) (string, error) {
	model, err := database.Do(ctx, d.retrier, "product.category_of", func(ctx context.Context) (*ProductModel, error) {
		var m ProductModel
		err := d.db.WithContext(ctx).Select("id", "category_id").Where("id = ?", productID).First(&m).Error
		return &m, err
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("find product category: %w", err)
	}
	if model.CategoryID == nil {
		return "", nil
	}
	return *model.CategoryID, nil
}
