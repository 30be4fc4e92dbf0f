package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/meterline/meterline/internal/api/dto"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/testutil"
	"github.com/meterline/meterline/internal/types"
)

type AuthServiceSuite struct {
	testutil.BaseServiceTestSuite
	service AuthService
}

func TestAuthService(t *testing.T) {
	suite.Run(t, new(AuthServiceSuite))
}

func (s *AuthServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.service = NewAuthService(newTestParams(&s.BaseServiceTestSuite))
}

func (s *AuthServiceSuite) TestSignUpOnboardsOrganisationAndOwner() {
	resp, err := s.service.SignUp(s.GetContext(), &dto.SignUpRequest{
		Email:            "founder@acme.test",
		Password:         "correct-horse-battery",
		OrganisationName: "Acme Robotics",
		Currency:         "usd",
	})
	s.Require().NoError(err)
	s.NotEmpty(resp.Token)
	s.True(strings.HasPrefix(resp.UserID, "user_"))
	s.NotEmpty(resp.OrganisationID)

	org, err := s.GetStores().OrganisationRepo.Get(s.GetContext(), resp.OrganisationID)
	s.Require().NoError(err)
	s.Equal("Acme Robotics", org.Name)
	s.Equal("USD", org.Currency)

	owner, err := s.GetStores().UserRepo.GetByEmail(s.GetContext(), "founder@acme.test")
	s.Require().NoError(err)
	s.Equal(resp.UserID, owner.ID)
	s.Equal(resp.OrganisationID, owner.OrganisationID)
	s.Equal(types.UserRoleOwner, owner.Role)

	record, err := s.GetStores().AuthRepo.GetAuthByUserID(s.GetContext(), resp.UserID)
	s.Require().NoError(err)
	s.NotEqual("correct-horse-battery", record.Token, "passwords are stored hashed")
}

func (s *AuthServiceSuite) TestSignUpDefaultsOrganisationNameToEmail() {
	resp, err := s.service.SignUp(s.GetContext(), &dto.SignUpRequest{
		Email:    "solo@acme.test",
		Password: "correct-horse-battery",
	})
	s.Require().NoError(err)

	org, err := s.GetStores().OrganisationRepo.Get(s.GetContext(), resp.OrganisationID)
	s.Require().NoError(err)
	s.Equal("solo@acme.test", org.Name)
	s.Equal("INR", org.Currency)
}

func (s *AuthServiceSuite) TestSignUpRejectsDuplicateEmail() {
	req := &dto.SignUpRequest{Email: "founder@acme.test", Password: "correct-horse-battery"}
	_, err := s.service.SignUp(s.GetContext(), req)
	s.Require().NoError(err)

	_, err = s.service.SignUp(s.GetContext(), req)
	s.Require().Error(err)
	s.True(ierr.IsAlreadyExists(err))
}

func (s *AuthServiceSuite) TestSignUpRequiresPassword() {
	_, err := s.service.SignUp(s.GetContext(), &dto.SignUpRequest{Email: "founder@acme.test"})
	s.Require().Error(err)

	_, uerr := s.GetStores().UserRepo.GetByEmail(s.GetContext(), "founder@acme.test")
	s.True(ierr.IsNotFound(uerr), "nothing is onboarded when the provider rejects the signup")
}

func (s *AuthServiceSuite) TestLoginIssuesFreshToken() {
	signup, err := s.service.SignUp(s.GetContext(), &dto.SignUpRequest{
		Email:    "founder@acme.test",
		Password: "correct-horse-battery",
	})
	s.Require().NoError(err)

	login, err := s.service.Login(s.GetContext(), &dto.LoginRequest{
		Email:    "founder@acme.test",
		Password: "correct-horse-battery",
	})
	s.Require().NoError(err)
	s.NotEmpty(login.Token)
	s.Equal(signup.UserID, login.UserID)
	s.Equal(signup.OrganisationID, login.OrganisationID)
}

func (s *AuthServiceSuite) TestLoginRejectsWrongPassword() {
	_, err := s.service.SignUp(s.GetContext(), &dto.SignUpRequest{
		Email:    "founder@acme.test",
		Password: "correct-horse-battery",
	})
	s.Require().NoError(err)

	_, err = s.service.Login(s.GetContext(), &dto.LoginRequest{
		Email:    "founder@acme.test",
		Password: "wrong-horse-battery",
	})
	s.Require().Error(err)
	s.True(ierr.IsPermissionDenied(err))
}

func (s *AuthServiceSuite) TestLoginUnknownEmailLooksLikeBadCredentials() {
	_, err := s.service.Login(s.GetContext(), &dto.LoginRequest{
		Email:    "nobody@acme.test",
		Password: "correct-horse-battery",
	})
	s.Require().Error(err)
	s.True(ierr.IsPermissionDenied(err), "unknown emails are indistinguishable from bad passwords")
}
