package auth

import (
	"context"

	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/domain/auth"
	"github.com/meterline/meterline/internal/types"
)

type AuthRequest struct {
	UserID         string
	OrganisationID string
	Email          string
	Password       string
	Role           types.UserRole
}

type AuthResponse struct {
	// ProviderToken is what the auth repository stores for the user; the
	// local provider puts the bcrypt hash here.
	ProviderToken string
	AuthToken     string
	ID            string
}

// Provider issues and verifies admin credentials. The local provider keeps
// bcrypt hashes in the auth table and signs its own JWTs; supabase delegates
// both to the hosted service.
type Provider interface {
	GetProvider() types.AuthProvider
	SignUp(ctx context.Context, req AuthRequest) (*AuthResponse, error)
	Login(ctx context.Context, req AuthRequest, userAuthInfo *auth.Auth) (*AuthResponse, error)
	ValidateToken(ctx context.Context, token string) (*auth.Claims, error)
	AssignUserToOrganisation(ctx context.Context, userID, organisationID string, role types.UserRole) error
}

func NewProvider(cfg *config.Configuration) Provider {
	switch cfg.Auth.Provider {
	case types.AuthProviderSupabase:
		return NewSupabaseAuth(cfg)
	default:
		return NewLocalAuth(cfg)
	}
}
