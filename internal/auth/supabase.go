package auth

import (
	"context"
	"fmt"
	"log"

	"github.com/golang-jwt/jwt/v4"
	"github.com/nedpals/supabase-go"

	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/domain/auth"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

type supabaseAuth struct {
	AuthConfig config.AuthConfig
	client     *supabase.Client
}

func NewSupabaseAuth(cfg *config.Configuration) Provider {
	client := supabase.CreateClient(cfg.Auth.Supabase.BaseURL, cfg.Auth.Supabase.ServiceKey)
	if client == nil {
		log.Fatalf("failed to create supabase client")
	}

	return &supabaseAuth{
		AuthConfig: cfg.Auth,
		client:     client,
	}
}

func (s *supabaseAuth) GetProvider() types.AuthProvider {
	return types.AuthProviderSupabase
}

func (s *supabaseAuth) SignUp(ctx context.Context, req AuthRequest) (*AuthResponse, error) {
	_, err := s.client.Auth.SignUp(ctx, supabase.UserCredentials{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to sign up").
			Mark(ierr.ErrHTTPClient)
	}

	return s.Login(ctx, req, nil)
}

func (s *supabaseAuth) Login(ctx context.Context, req AuthRequest, userAuthInfo *auth.Auth) (*AuthResponse, error) {
	user, err := s.client.Auth.SignIn(ctx, supabase.UserCredentials{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Invalid email or password").
			Mark(ierr.ErrPermissionDenied)
	}

	return &AuthResponse{
		ProviderToken: user.AccessToken,
		AuthToken:     user.AccessToken,
		ID:            user.User.ID,
	}, nil
}

func (s *supabaseAuth) ValidateToken(ctx context.Context, token string) (*auth.Claims, error) {
	parsedToken, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.AuthConfig.Secret), nil
	})
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Token parse error").
			Mark(ierr.ErrPermissionDenied)
	}

	claims, ok := parsedToken.Claims.(jwt.MapClaims)
	if !ok || !parsedToken.Valid {
		return nil, ierr.NewError("invalid token claims").
			WithHint("Invalid token claims").
			Mark(ierr.ErrPermissionDenied)
	}

	userID, userOk := claims["sub"].(string)
	if !userOk {
		return nil, ierr.NewError("token missing user ID").
			WithHint("Token missing user ID").
			Mark(ierr.ErrPermissionDenied)
	}

	// Organisation and role ride in app_metadata, set when the user was
	// assigned to the organisation
	var organisationID string
	role := types.UserRoleViewer
	if appMetadata, ok := claims["app_metadata"].(map[string]interface{}); ok {
		if oid, ok := appMetadata["organisation_id"].(string); ok {
			organisationID = oid
		}
		if r, ok := appMetadata["role"].(string); ok && types.UserRole(r).Validate() == nil {
			role = types.UserRole(r)
		}
	}
	if organisationID == "" {
		return nil, ierr.NewError("token missing organisation ID").
			WithHint("User is not assigned to an organisation").
			Mark(ierr.ErrPermissionDenied)
	}

	return &auth.Claims{
		UserID:         userID,
		OrganisationID: organisationID,
		Role:           role,
	}, nil
}

func (s *supabaseAuth) AssignUserToOrganisation(ctx context.Context, userID, organisationID string, role types.UserRole) error {
	params := supabase.AdminUserParams{
		AppMetadata: map[string]interface{}{
			"organisation_id": organisationID,
			"role":            string(role),
		},
	}

	_, err := s.client.Admin.UpdateUser(ctx, userID, params)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to assign user to organisation").
			WithReportableDetails(map[string]any{
				"user_id":         userID,
				"organisation_id": organisationID,
			}).
			Mark(ierr.ErrHTTPClient)
	}

	return nil
}
