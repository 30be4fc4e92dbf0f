package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/domain/auth"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

const defaultTokenExpiryHours = 720 // 30 days

type localAuth struct {
	AuthConfig config.AuthConfig
}

func NewLocalAuth(cfg *config.Configuration) *localAuth {
	return &localAuth{
		AuthConfig: cfg.Auth,
	}
}

func (l *localAuth) GetProvider() types.AuthProvider {
	return types.AuthProviderLocal
}

func (l *localAuth) SignUp(ctx context.Context, req AuthRequest) (*AuthResponse, error) {
	if req.Password == "" {
		return nil, ierr.NewError("password is required").
			WithHint("Password is required").
			Mark(ierr.ErrValidation)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to hash password").
			Mark(ierr.ErrSystem)
	}

	userID := types.GenerateUUIDWithPrefix(types.UUID_PREFIX_USER)

	authToken, err := l.generateToken(userID, req.OrganisationID, req.Role)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to generate token").
			Mark(ierr.ErrSystem)
	}

	return &AuthResponse{
		ProviderToken: string(hashedPassword),
		AuthToken:     authToken,
		ID:            userID,
	}, nil
}

func (l *localAuth) Login(ctx context.Context, req AuthRequest, userAuthInfo *auth.Auth) (*AuthResponse, error) {
	// The stored token is the bcrypt hash written at signup
	err := bcrypt.CompareHashAndPassword([]byte(userAuthInfo.Token), []byte(req.Password))
	if err != nil {
		return nil, ierr.NewError("invalid password").
			WithHint("Invalid email or password").
			Mark(ierr.ErrPermissionDenied)
	}

	authToken, err := l.generateToken(userAuthInfo.UserID, req.OrganisationID, req.Role)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to generate token").
			Mark(ierr.ErrSystem)
	}

	return &AuthResponse{
		ProviderToken: userAuthInfo.Token,
		AuthToken:     authToken,
		ID:            userAuthInfo.UserID,
	}, nil
}

func (l *localAuth) ValidateToken(ctx context.Context, token string) (*auth.Claims, error) {
	parsedToken, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ierr.NewError("unexpected signing method").
				WithHint(fmt.Sprintf("unexpected signing method: %v", token.Header["alg"])).
				Mark(ierr.ErrPermissionDenied)
		}
		return []byte(l.AuthConfig.Secret), nil
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

	userID, userOk := claims["user_id"].(string)
	if !userOk {
		return nil, ierr.NewError("token missing user ID").
			WithHint("Token missing user ID").
			Mark(ierr.ErrPermissionDenied)
	}

	organisationID, orgOk := claims["organisation_id"].(string)
	if !orgOk {
		return nil, ierr.NewError("token missing organisation ID").
			WithHint("Token missing organisation ID").
			Mark(ierr.ErrPermissionDenied)
	}

	role := types.UserRoleViewer
	if r, ok := claims["role"].(string); ok && types.UserRole(r).Validate() == nil {
		role = types.UserRole(r)
	}

	return &auth.Claims{
		UserID:         userID,
		OrganisationID: organisationID,
		Role:           role,
	}, nil
}

// AssignUserToOrganisation is a no-op for the local provider; organisation
// and role live on the users row and flow into the JWT at the next login.
func (l *localAuth) AssignUserToOrganisation(ctx context.Context, userID, organisationID string, role types.UserRole) error {
	return nil
}

func (l *localAuth) generateToken(userID, organisationID string, role types.UserRole) (string, error) {
	expiryHours := l.AuthConfig.TokenExpiryHours
	if expiryHours <= 0 {
		expiryHours = defaultTokenExpiryHours
	}
	now := time.Now()

	claims := jwt.MapClaims{
		"user_id":         userID,
		"organisation_id": organisationID,
		"role":            string(role),
		"exp":             now.Add(time.Duration(expiryHours) * time.Hour).Unix(),
		"iat":             now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(l.AuthConfig.Secret))
}
