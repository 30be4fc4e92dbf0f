package service

import (
	"context"

	"github.com/meterline/meterline/internal/api/dto"
	"github.com/meterline/meterline/internal/domain/auditlog"
	"github.com/meterline/meterline/internal/types"
)

// OrganisationService manages billed tenants.
type OrganisationService interface {
	Create(ctx context.Context, req *dto.CreateOrganisationRequest) (*dto.OrganisationResponse, error)
	Get(ctx context.Context, id string) (*dto.OrganisationResponse, error)
	List(ctx context.Context) (*dto.ListOrganisationsResponse, error)
	Update(ctx context.Context, id string, req *dto.UpdateOrganisationRequest) (*dto.OrganisationResponse, error)
	Delete(ctx context.Context, id string) error
}

type organisationService struct {
	ServiceParams
}

func NewOrganisationService(params ServiceParams) OrganisationService {
	return &organisationService{ServiceParams: params}
}

func (s *organisationService) Create(ctx context.Context, req *dto.CreateOrganisationRequest) (*dto.OrganisationResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	org := req.ToOrganisation()
	if err := org.Validate(); err != nil {
		return nil, err
	}
	if err := s.OrganisationRepo.Create(ctx, org); err != nil {
		return nil, err
	}

	s.audit(ctx, auditlog.New(auditlog.EntityOrganisation, org.ID, types.GetActor(ctx), auditlog.ActionCreate).
		WithChange(nil, types.Metadata{
			"name":     org.Name,
			"currency": org.Currency,
		}))

	s.Logger.Infow("organisation created",
		"organisation_id", org.ID,
		"name", org.Name,
	)
	return &dto.OrganisationResponse{Organisation: org}, nil
}

func (s *organisationService) Get(ctx context.Context, id string) (*dto.OrganisationResponse, error) {
	org, err := s.OrganisationRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &dto.OrganisationResponse{Organisation: org}, nil
}

func (s *organisationService) List(ctx context.Context) (*dto.ListOrganisationsResponse, error) {
	orgs, err := s.OrganisationRepo.List(ctx)
	if err != nil {
		return nil, err
	}

	resp := &dto.ListOrganisationsResponse{Items: make([]*dto.OrganisationResponse, 0, len(orgs)), Total: len(orgs)}
	for _, org := range orgs {
		resp.Items = append(resp.Items, &dto.OrganisationResponse{Organisation: org})
	}
	return resp, nil
}

func (s *organisationService) Update(ctx context.Context, id string, req *dto.UpdateOrganisationRequest) (*dto.OrganisationResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	org, err := s.OrganisationRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	before := types.Metadata{
		"name":     org.Name,
		"currency": org.Currency,
	}
	if req.Name != "" {
		org.Name = req.Name
	}
	if req.Currency != "" {
		org.Currency = types.NormalizeCurrency(req.Currency)
	}
	if err := org.Validate(); err != nil {
		return nil, err
	}

	if err := s.OrganisationRepo.Update(ctx, org); err != nil {
		return nil, err
	}
	s.audit(ctx, auditlog.New(auditlog.EntityOrganisation, org.ID, types.GetActor(ctx), auditlog.ActionUpdate).
		WithChange(before, types.Metadata{
			"name":     org.Name,
			"currency": org.Currency,
		}))

	return &dto.OrganisationResponse{Organisation: org}, nil
}

func (s *organisationService) Delete(ctx context.Context, id string) error {
	org, err := s.OrganisationRepo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.OrganisationRepo.Delete(ctx, org.ID); err != nil {
		return err
	}

	s.audit(ctx, auditlog.New(auditlog.EntityOrganisation, org.ID, types.GetActor(ctx), auditlog.ActionDelete).
		WithChange(types.Metadata{"name": org.Name}, nil))

	s.Logger.Infow("organisation archived",
		"organisation_id", org.ID,
	)
	return nil
}
