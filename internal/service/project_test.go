package service

import (
	"context"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"

	"github.com/meterline/meterline/internal/api/dto"
	"github.com/meterline/meterline/internal/auth"
	"github.com/meterline/meterline/internal/domain/auditlog"
	"github.com/meterline/meterline/internal/domain/organisation"
	"github.com/meterline/meterline/internal/domain/project"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/testutil"
)

type ProjectServiceSuite struct {
	testutil.BaseServiceTestSuite
	service ProjectService
}

func TestProjectService(t *testing.T) {
	suite.Run(t, new(ProjectServiceSuite))
}

func (s *ProjectServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.service = NewProjectService(newTestParams(&s.BaseServiceTestSuite))

	org := organisation.New("Acme Robotics", "INR")
	org.ID = testutil.TestOrganisationID
	s.Require().NoError(s.GetStores().OrganisationRepo.Create(s.GetContext(), org))
}

func (s *ProjectServiceSuite) TestCreateMintsPlaintextKeyOnce() {
	resp, err := s.service.Create(s.GetContext(), &dto.CreateProjectRequest{Name: "production"})
	s.Require().NoError(err)
	s.Equal("production", resp.Name)
	s.Equal(testutil.TestOrganisationID, resp.OrganisationID)
	s.True(resp.IsActive)
	s.Len(resp.APIKey, 64)
	s.Equal(auth.HashAPIKey(resp.APIKey), resp.APIKeyHash, "only the hash is stored")

	got, err := s.service.Get(s.GetContext(), resp.ID)
	s.Require().NoError(err)
	s.Empty(got.APIKey, "reads never return the plaintext key")
}

func (s *ProjectServiceSuite) TestCreateRequiresOrganisationScope() {
	_, err := s.service.Create(context.Background(), &dto.CreateProjectRequest{Name: "production"})
	s.Require().Error(err)
	s.True(ierr.IsPermissionDenied(err))
}

func (s *ProjectServiceSuite) TestAuthenticateAPIKeyResolvesProject() {
	created, err := s.service.Create(s.GetContext(), &dto.CreateProjectRequest{Name: "production"})
	s.Require().NoError(err)

	p, err := s.service.AuthenticateAPIKey(s.GetContext(), created.APIKey)
	s.Require().NoError(err)
	s.Equal(created.ID, p.ID)
	s.Equal(testutil.TestOrganisationID, p.OrganisationID)
}

func (s *ProjectServiceSuite) TestAuthenticateAPIKeyRejectsUnknownKey() {
	_, err := s.service.AuthenticateAPIKey(s.GetContext(), "not_a_real_key")
	s.Require().Error(err)
	s.True(ierr.IsNotFound(err))

	_, err = s.service.AuthenticateAPIKey(s.GetContext(), "")
	s.Require().Error(err)
	s.True(ierr.IsPermissionDenied(err))
}

func (s *ProjectServiceSuite) TestAuthenticateAPIKeyRejectsDeactivatedProject() {
	created, err := s.service.Create(s.GetContext(), &dto.CreateProjectRequest{Name: "production"})
	s.Require().NoError(err)

	_, err = s.service.Update(s.GetContext(), created.ID, &dto.UpdateProjectRequest{
		IsActive: lo.ToPtr(false),
	})
	s.Require().NoError(err)

	_, err = s.service.AuthenticateAPIKey(s.GetContext(), created.APIKey)
	s.Require().Error(err, "deactivated projects stop ingesting immediately")
}

func (s *ProjectServiceSuite) TestRotateKeyInvalidatesOldKey() {
	created, err := s.service.Create(s.GetContext(), &dto.CreateProjectRequest{Name: "production"})
	s.Require().NoError(err)

	rotated, err := s.service.RotateKey(s.GetContext(), created.ID)
	s.Require().NoError(err)
	s.NotEmpty(rotated.APIKey)
	s.NotEqual(created.APIKey, rotated.APIKey)

	p, err := s.service.AuthenticateAPIKey(s.GetContext(), rotated.APIKey)
	s.Require().NoError(err)
	s.Equal(created.ID, p.ID)

	_, err = s.service.AuthenticateAPIKey(s.GetContext(), created.APIKey)
	s.Require().Error(err)
	s.True(ierr.IsNotFound(err))

	logs, err := s.GetStores().AuditLogRepo.List(s.GetContext(),
		&auditlog.Filter{EntityType: auditlog.EntityProject, Action: "key.rotate", Limit: 10})
	s.Require().NoError(err)
	s.Len(logs, 1)
}

func (s *ProjectServiceSuite) TestAccessScopedToOrganisation() {
	foreign := project.New("org_other", "their-prod", auth.HashAPIKey("their-key"))
	s.Require().NoError(s.GetStores().ProjectRepo.Create(s.GetContext(), foreign))

	_, err := s.service.Get(s.GetContext(), foreign.ID)
	s.Require().Error(err)
	s.True(ierr.IsNotFound(err))

	_, err = s.service.RotateKey(s.GetContext(), foreign.ID)
	s.Require().Error(err)
	s.True(ierr.IsNotFound(err))

	err = s.service.Delete(s.GetContext(), foreign.ID)
	s.Require().Error(err)
	s.True(ierr.IsNotFound(err))
}

func (s *ProjectServiceSuite) TestListReturnsOwnProjectsOnly() {
	_, err := s.service.Create(s.GetContext(), &dto.CreateProjectRequest{Name: "production"})
	s.Require().NoError(err)
	_, err = s.service.Create(s.GetContext(), &dto.CreateProjectRequest{Name: "staging"})
	s.Require().NoError(err)

	foreign := project.New("org_other", "their-prod", auth.HashAPIKey("their-key"))
	s.Require().NoError(s.GetStores().ProjectRepo.Create(s.GetContext(), foreign))

	list, err := s.service.List(s.GetContext())
	s.Require().NoError(err)
	s.Equal(2, list.Total)
}

func (s *ProjectServiceSuite) TestUpdateRenames() {
	created, err := s.service.Create(s.GetContext(), &dto.CreateProjectRequest{Name: "production"})
	s.Require().NoError(err)

	resp, err := s.service.Update(s.GetContext(), created.ID, &dto.UpdateProjectRequest{Name: "prod-eu"})
	s.Require().NoError(err)
	s.Equal("prod-eu", resp.Name)
	s.True(resp.IsActive, "activity flag untouched when not provided")
}
