package localcloud

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// User account statuses
const (
	UserStatusUnconfirmed = "UNCONFIRMED"
	UserStatusConfirmed   = "CONFIRMED"
)

// BaseModel provides common fields and auto-generated ULID for all models
type BaseModel struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(26)"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// BeforeCreate generates a ULID for the ID field if it's empty
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = ulid.Make().String()
	}
	return nil
}

// Setting is the persisted server state (singleton, only one row should exist)
type Setting struct {
	BaseModel
	JWTSecret string `json:"-" gorm:"type:varchar(64);not null"` // Auto-generated on first boot (64 hex chars)
}

// User represents a registered account
type User struct {
	BaseModel
	Email        string `json:"email" gorm:"unique;not null"`
	PasswordHash string `json:"-" gorm:"not null"`
	Name         string `json:"name"`
	Groups       string `json:"-"` // comma-separated group names
	Status       string `json:"status" gorm:"not null;default:UNCONFIRMED"`

	// Confirmation and password-reset codes (delivered via server log)
	ConfirmationCode   string     `json:"-" gorm:"type:varchar(6)"`
	ResetCode          string     `json:"-" gorm:"type:varchar(6)"`
	ResetCodeExpiresAt *time.Time `json:"-"`

	// Failed sign-in tracking for lockout
	FailedLogins int        `json:"-" gorm:"not null;default:0"`
	LastFailedAt *time.Time `json:"-"`

	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// Confirmed reports whether the account completed sign-up confirmation
func (u *User) Confirmed() bool {
	return u.Status == UserStatusConfirmed
}

// GroupList returns the user's groups as a slice
func (u *User) GroupList() []string {
	if u.Groups == "" {
		return nil
	}
	parts := strings.Split(u.Groups, ",")
	groups := make([]string, 0, len(parts))
	for _, part := range parts {
		if g := strings.TrimSpace(part); g != "" {
			groups = append(groups, g)
		}
	}
	return groups
}

// SetGroups stores group names in the serialized column format
func (u *User) SetGroups(groups []string) {
	u.Groups = strings.Join(groups, ",")
}

// RefreshSession represents one issued refresh token. Only the SHA-256
// hash of the token is persisted; the token itself never touches disk.
type RefreshSession struct {
	BaseModel
	UserID    string     `json:"user_id" gorm:"not null;index"`
	TokenHash string     `json:"-" gorm:"unique;not null;type:varchar(64)"`
	ExpiresAt time.Time  `json:"expires_at" gorm:"not null"`
	RevokedAt *time.Time `json:"revoked_at"`

	User User `json:"-" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

// Active reports whether the session can still be redeemed
func (s *RefreshSession) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// Todo represents a single todo item owned by a user
type Todo struct {
	BaseModel
	OwnerID   string    `json:"-" gorm:"not null;index"`
	Content   string    `json:"content" gorm:"not null"`
	Done      bool      `json:"done" gorm:"not null;default:false"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// AutoMigrate runs database migrations for all models
func AutoMigrate(db *gorm.DB) error {
	models := []interface{}{
		&Setting{}, &User{}, &RefreshSession{}, &Todo{},
	}

	return db.AutoMigrate(models...)
}
