package service

import (
	"context"
	"strconv"

	"github.com/meterline/meterline/internal/api/dto"
	"github.com/meterline/meterline/internal/auth"
	"github.com/meterline/meterline/internal/domain/auditlog"
	"github.com/meterline/meterline/internal/domain/project"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

// ProjectService manages ingest credentials. The plaintext API key leaves
// the service exactly twice: on create and on rotate.
type ProjectService interface {
	Create(ctx context.Context, req *dto.CreateProjectRequest) (*dto.ProjectResponse, error)
	Get(ctx context.Context, id string) (*dto.ProjectResponse, error)
	List(ctx context.Context) (*dto.ListProjectsResponse, error)
	Update(ctx context.Context, id string, req *dto.UpdateProjectRequest) (*dto.ProjectResponse, error)
	Delete(ctx context.Context, id string) error

	// RotateKey replaces the project's API key and returns the new plaintext
	// once. The old key stops authenticating immediately.
	RotateKey(ctx context.Context, id string) (*dto.ProjectResponse, error)

	// AuthenticateAPIKey resolves an ingest bearer token to its project.
	AuthenticateAPIKey(ctx context.Context, apiKey string) (*project.Project, error)
}

type projectService struct {
	ServiceParams
}

func NewProjectService(params ServiceParams) ProjectService {
	return &projectService{ServiceParams: params}
}

func (s *projectService) Create(ctx context.Context, req *dto.CreateProjectRequest) (*dto.ProjectResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	organisationID := types.GetOrganisationID(ctx)
	if organisationID == "" {
		return nil, ierr.NewError("organisation scope missing").
			WithHint("Authenticate with an organisation-scoped credential").
			Mark(ierr.ErrPermissionDenied)
	}
	if _, err := s.OrganisationRepo.Get(ctx, organisationID); err != nil {
		return nil, err
	}

	apiKey := auth.GenerateAPIKey()
	p := project.New(organisationID, req.Name, auth.HashAPIKey(apiKey))
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := s.ProjectRepo.Create(ctx, p); err != nil {
		return nil, err
	}

	s.audit(ctx, auditlog.New(auditlog.EntityProject, p.ID, types.GetActor(ctx), auditlog.ActionCreate).
		WithChange(nil, types.Metadata{
			"name":            p.Name,
			"organisation_id": p.OrganisationID,
		}))

	s.Logger.Infow("project created",
		"project_id", p.ID,
		"organisation_id", p.OrganisationID,
	)
	return &dto.ProjectResponse{Project: p, APIKey: apiKey}, nil
}

func (s *projectService) Get(ctx context.Context, id string) (*dto.ProjectResponse, error) {
	p, err := s.projectInScope(ctx, id)
	if err != nil {
		return nil, err
	}
	return &dto.ProjectResponse{Project: p}, nil
}

func (s *projectService) List(ctx context.Context) (*dto.ListProjectsResponse, error) {
	organisationID := types.GetOrganisationID(ctx)
	projects, err := s.ProjectRepo.ListByOrganisation(ctx, organisationID)
	if err != nil {
		return nil, err
	}

	resp := &dto.ListProjectsResponse{Items: make([]*dto.ProjectResponse, 0, len(projects)), Total: len(projects)}
	for _, p := range projects {
		resp.Items = append(resp.Items, &dto.ProjectResponse{Project: p})
	}
	return resp, nil
}

func (s *projectService) Update(ctx context.Context, id string, req *dto.UpdateProjectRequest) (*dto.ProjectResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	p, err := s.projectInScope(ctx, id)
	if err != nil {
		return nil, err
	}

	before := types.Metadata{
		"name":      p.Name,
		"is_active": strconv.FormatBool(p.IsActive),
	}
	if req.Name != "" {
		p.Name = req.Name
	}
	if req.IsActive != nil {
		p.IsActive = *req.IsActive
	}

	if err := s.ProjectRepo.Update(ctx, p); err != nil {
		return nil, err
	}
	s.audit(ctx, auditlog.New(auditlog.EntityProject, p.ID, types.GetActor(ctx), auditlog.ActionUpdate).
		WithChange(before, types.Metadata{
			"name":      p.Name,
			"is_active": strconv.FormatBool(p.IsActive),
		}))

	return &dto.ProjectResponse{Project: p}, nil
}

func (s *projectService) Delete(ctx context.Context, id string) error {
	p, err := s.projectInScope(ctx, id)
	if err != nil {
		return err
	}
	if err := s.ProjectRepo.Delete(ctx, p.ID); err != nil {
		return err
	}

	s.audit(ctx, auditlog.New(auditlog.EntityProject, p.ID, types.GetActor(ctx), auditlog.ActionDelete).
		WithChange(types.Metadata{"name": p.Name}, nil))
	return nil
}

func (s *projectService) RotateKey(ctx context.Context, id string) (*dto.ProjectResponse, error) {
	p, err := s.projectInScope(ctx, id)
	if err != nil {
		return nil, err
	}

	apiKey := auth.GenerateAPIKey()
	p.APIKeyHash = auth.HashAPIKey(apiKey)
	if err := s.ProjectRepo.Update(ctx, p); err != nil {
		return nil, err
	}

	s.audit(ctx, auditlog.New(auditlog.EntityProject, p.ID, types.GetActor(ctx), "key.rotate"))

	s.Logger.Infow("project api key rotated",
		"project_id", p.ID,
		"organisation_id", p.OrganisationID,
	)
	return &dto.ProjectResponse{Project: p, APIKey: apiKey}, nil
}

func (s *projectService) AuthenticateAPIKey(ctx context.Context, apiKey string) (*project.Project, error) {
	if apiKey == "" {
		return nil, ierr.NewError("missing API key").
			WithHint("Provide the project API key as a bearer token").
			Mark(ierr.ErrPermissionDenied)
	}

	p, err := s.ProjectRepo.GetByAPIKeyHash(ctx, auth.HashAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, ierr.NewError("project is deactivated").
			Mark(ierr.ErrPermissionDenied)
	}
	return p, nil
}

func (s *projectService) projectInScope(ctx context.Context, id string) (*project.Project, error) {
	p, err := s.ProjectRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if orgID := types.GetOrganisationID(ctx); orgID != "" && p.OrganisationID != orgID {
		return nil, ierr.NewError("project not found").
			Mark(ierr.ErrNotFound)
	}
	return p, nil
}
