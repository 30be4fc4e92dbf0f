package service

import (
	"context"

	"github.com/meterline/meterline/internal/api/dto"
	authProvider "github.com/meterline/meterline/internal/auth"
	"github.com/meterline/meterline/internal/domain/auditlog"
	"github.com/meterline/meterline/internal/domain/auth"
	"github.com/meterline/meterline/internal/domain/organisation"
	"github.com/meterline/meterline/internal/domain/user"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

// AuthService handles admin signup and login through the configured
// authentication provider.
type AuthService interface {
	SignUp(ctx context.Context, req *dto.SignUpRequest) (*dto.AuthResponse, error)
	Login(ctx context.Context, req *dto.LoginRequest) (*dto.AuthResponse, error)
}

type authService struct {
	ServiceParams
}

func NewAuthService(params ServiceParams) AuthService {
	return &authService{ServiceParams: params}
}

// SignUp creates the organisation and its owner account in one transaction.
func (s *authService) SignUp(ctx context.Context, req *dto.SignUpRequest) (*dto.AuthResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	existing, err := s.UserRepo.GetByEmail(ctx, req.Email)
	if err != nil && !ierr.IsNotFound(err) {
		return nil, err
	}
	if existing != nil {
		return nil, ierr.NewError("user already exists").
			WithHint("An account with this email already exists").
			WithReportableDetails(map[string]any{"email": req.Email}).
			Mark(ierr.ErrAlreadyExists)
	}

	orgName := req.OrganisationName
	if orgName == "" {
		orgName = req.Email
	}
	org := organisation.New(orgName, req.Currency)
	if err := org.Validate(); err != nil {
		return nil, err
	}

	authResponse, err := s.AuthProvider.SignUp(ctx, authProvider.AuthRequest{
		Email:          req.Email,
		Password:       req.Password,
		OrganisationID: org.ID,
		Role:           types.UserRoleOwner,
	})
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to sign up with authentication provider").
			Mark(ierr.ErrSystem)
	}

	err = s.DB.WithTx(ctx, func(ctx context.Context) error {
		if err := s.OrganisationRepo.Create(ctx, org); err != nil {
			return err
		}

		// The provider mints the user ID so the JWT subject and the
		// users row agree.
		owner := user.NewUser(req.Email, org.ID, types.UserRoleOwner)
		owner.ID = authResponse.ID
		if err := s.UserRepo.Create(ctx, owner); err != nil {
			return err
		}

		if s.AuthProvider.GetProvider() == types.AuthProviderLocal {
			record := auth.NewAuth(authResponse.ID, s.AuthProvider.GetProvider(), authResponse.ProviderToken)
			if err := s.AuthRepo.CreateAuth(ctx, record); err != nil {
				return ierr.WithError(err).
					WithHint("Failed to create authentication record").
					Mark(ierr.ErrDatabase)
			}
		}

		if err := s.AuthProvider.AssignUserToOrganisation(ctx, authResponse.ID, org.ID, types.UserRoleOwner); err != nil {
			return ierr.WithError(err).
				WithHint("Unable to assign organisation to user in auth provider").
				Mark(ierr.ErrSystem)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, auditlog.New(auditlog.EntityOrganisation, org.ID, req.Email, auditlog.ActionCreate).
		WithChange(nil, types.Metadata{"name": org.Name, "currency": org.Currency, "owner": req.Email}))

	s.Logger.Infow("organisation signed up",
		"organisation_id", org.ID,
		"user_id", authResponse.ID,
	)

	return &dto.AuthResponse{
		Token:          authResponse.AuthToken,
		UserID:         authResponse.ID,
		OrganisationID: org.ID,
	}, nil
}

// Login authenticates a user and returns a fresh token.
func (s *authService) Login(ctx context.Context, req *dto.LoginRequest) (*dto.AuthResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	u, err := s.UserRepo.GetByEmail(ctx, req.Email)
	if err != nil {
		if ierr.IsNotFound(err) {
			return nil, ierr.NewError("invalid credentials").
				WithHint("Invalid email or password").
				Mark(ierr.ErrPermissionDenied)
		}
		return nil, err
	}

	var record *auth.Auth
	if s.AuthProvider.GetProvider() == types.AuthProviderLocal {
		record, err = s.AuthRepo.GetAuthByUserID(ctx, u.ID)
		if err != nil {
			return nil, err
		}
	}

	authResponse, err := s.AuthProvider.Login(ctx, authProvider.AuthRequest{
		UserID:         u.ID,
		OrganisationID: u.OrganisationID,
		Email:          u.Email,
		Password:       req.Password,
		Role:           u.Role,
	}, record)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to authenticate").
			Mark(ierr.ErrPermissionDenied)
	}

	if authResponse.ID != u.ID {
		return nil, ierr.NewError("user not found").
			WithHint("User not found").
			WithReportableDetails(map[string]any{"user_id": u.ID}).
			Mark(ierr.ErrPermissionDenied)
	}

	return &dto.AuthResponse{
		Token:          authResponse.AuthToken,
		UserID:         authResponse.ID,
		OrganisationID: u.OrganisationID,
	}, nil
}
