package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/domain/auth"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

type LocalAuthSuite struct {
	suite.Suite
	cfg      *config.Configuration
	provider Provider
}

func TestLocalAuthSuite(t *testing.T) {
	suite.Run(t, new(LocalAuthSuite))
}

func (s *LocalAuthSuite) SetupTest() {
	s.cfg = &config.Configuration{
		Auth: config.AuthConfig{
			Provider:         types.AuthProviderLocal,
			Secret:           "test-secret-for-unit-tests-only",
			TokenExpiryHours: 1,
		},
	}
	s.provider = NewProvider(s.cfg)
}

func (s *LocalAuthSuite) TestSignUpIssuesVerifiableToken() {
	resp, err := s.provider.SignUp(context.Background(), AuthRequest{
		OrganisationID: "org_1",
		Email:          "admin@example.com",
		Password:       "s3cret",
		Role:           types.UserRoleOwner,
	})
	s.NoError(err)
	s.NotEmpty(resp.ID)
	s.NotEmpty(resp.ProviderToken)
	s.NotEqual("s3cret", resp.ProviderToken)

	claims, err := s.provider.ValidateToken(context.Background(), resp.AuthToken)
	s.NoError(err)
	s.Equal(resp.ID, claims.UserID)
	s.Equal("org_1", claims.OrganisationID)
	s.Equal(types.UserRoleOwner, claims.Role)
}

func (s *LocalAuthSuite) TestSignUpRequiresPassword() {
	_, err := s.provider.SignUp(context.Background(), AuthRequest{
		OrganisationID: "org_1",
		Email:          "admin@example.com",
	})
	s.Error(err)
	s.True(ierr.IsValidation(err))
}

func (s *LocalAuthSuite) TestLoginVerifiesStoredHash() {
	signup, err := s.provider.SignUp(context.Background(), AuthRequest{
		OrganisationID: "org_1",
		Email:          "admin@example.com",
		Password:       "s3cret",
		Role:           types.UserRoleAdmin,
	})
	s.Require().NoError(err)

	stored := auth.NewAuth(signup.ID, types.AuthProviderLocal, signup.ProviderToken)

	resp, err := s.provider.Login(context.Background(), AuthRequest{
		OrganisationID: "org_1",
		Email:          "admin@example.com",
		Password:       "s3cret",
		Role:           types.UserRoleAdmin,
	}, stored)
	s.NoError(err)

	claims, err := s.provider.ValidateToken(context.Background(), resp.AuthToken)
	s.NoError(err)
	s.Equal(signup.ID, claims.UserID)
	s.Equal(types.UserRoleAdmin, claims.Role)
}

func (s *LocalAuthSuite) TestLoginRejectsWrongPassword() {
	signup, err := s.provider.SignUp(context.Background(), AuthRequest{
		OrganisationID: "org_1",
		Email:          "admin@example.com",
		Password:       "s3cret",
	})
	s.Require().NoError(err)

	stored := auth.NewAuth(signup.ID, types.AuthProviderLocal, signup.ProviderToken)

	_, err = s.provider.Login(context.Background(), AuthRequest{
		OrganisationID: "org_1",
		Password:       "wrong",
	}, stored)
	s.Error(err)
	s.True(ierr.IsPermissionDenied(err))
}

func (s *LocalAuthSuite) TestValidateTokenRejectsGarbage() {
	_, err := s.provider.ValidateToken(context.Background(), "not-a-jwt")
	s.Error(err)
	s.True(ierr.IsPermissionDenied(err))
}

func (s *LocalAuthSuite) TestValidateTokenRejectsWrongSecret() {
	other := NewLocalAuth(&config.Configuration{
		Auth: config.AuthConfig{Secret: "different-secret", TokenExpiryHours: 1},
	})
	resp, err := other.SignUp(context.Background(), AuthRequest{
		OrganisationID: "org_1",
		Password:       "s3cret",
	})
	s.Require().NoError(err)

	_, err = s.provider.ValidateToken(context.Background(), resp.AuthToken)
	s.Error(err)
}

func (s *LocalAuthSuite) TestAdminAPIKeyLookup() {
	raw := GenerateAPIKey()
	s.cfg.Auth.APIKey = config.APIKeyConfig{
		Header: "x-api-key",
		Keys: map[string]config.APIKeyDetails{
			HashAPIKey(raw): {
				UserID:         "user_1",
				OrganisationID: "org_1",
				Role:           "admin",
			},
		},
	}

	claims, ok := ValidateAdminAPIKey(s.cfg, raw)
	s.True(ok)
	s.Equal("user_1", claims.UserID)
	s.Equal("org_1", claims.OrganisationID)
	s.Equal(types.UserRoleAdmin, claims.Role)

	_, ok = ValidateAdminAPIKey(s.cfg, "unknown-key")
	s.False(ok)
}
