package dto

import (
	"github.com/meterline/meterline/internal/domain/organisation"
	"github.com/meterline/meterline/internal/validator"
)

type CreateOrganisationRequest struct {
	Name     string `json:"name" validate:"required" binding:"required" example:"Acme Corp"`
	Currency string `json:"currency" validate:"omitempty,len=3" binding:"omitempty" example:"INR"`
}

func (r *CreateOrganisationRequest) Validate() error {
	return validator.ValidateRequest(r)
}

func (r *CreateOrganisationRequest) ToOrganisation() *organisation.Organisation {
	return organisation.New(r.Name, r.Currency)
}

type UpdateOrganisationRequest struct {
	Name     string `json:"name" validate:"omitempty" binding:"omitempty"`
	Currency string `json:"currency" validate:"omitempty,len=3" binding:"omitempty"`
}

func (r *UpdateOrganisationRequest) Validate() error {
	return validator.ValidateRequest(r)
}

type OrganisationResponse struct {
	*organisation.Organisation
}

type ListOrganisationsResponse struct {
	Items []*OrganisationResponse `json:"items"`
	Total int                     `json:"total"`
}
