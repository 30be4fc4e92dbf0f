package auth

import (
	"time"

	"github.com/meterline/meterline/internal/types"
)

// Auth holds the credential record of a user for one provider. For the
// local provider Token is the bcrypt password hash; supabase keeps its own
// credentials and Token stays empty.
type Auth struct {
	UserID    string             `db:"user_id" json:"user_id"`
	Provider  types.AuthProvider `db:"provider" json:"provider"`
	Token     string             `db:"token" json:"token"`
	Status    types.Status       `db:"status" json:"status"`
	CreatedAt time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt time.Time          `db:"updated_at" json:"updated_at"`
}

// Claims is what a verified token asserts about the caller
type Claims struct {
	UserID         string
	OrganisationID string
	Role           types.UserRole
}

func NewAuth(userID string, provider types.AuthProvider, token string) *Auth {
	now := time.Now().UTC()
	return &Auth{
		UserID:    userID,
		Provider:  provider,
		Token:     token,
		Status:    types.StatusPublished,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AuthResponse carries a fresh token pair after signup or login
type AuthResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	UserID       string `json:"user_id"`
}
