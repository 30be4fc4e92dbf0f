package dto

import (
	"github.com/meterline/meterline/internal/domain/project"
	"github.com/meterline/meterline/internal/validator"
)

type CreateProjectRequest struct {
	Name string `json:"name" validate:"required" binding:"required" example:"production"`
}

func (r *CreateProjectRequest) Validate() error {
	return validator.ValidateRequest(r)
}

type UpdateProjectRequest struct {
	Name     string `json:"name" validate:"omitempty" binding:"omitempty"`
	IsActive *bool  `json:"is_active,omitempty" binding:"omitempty"`
}

func (r *UpdateProjectRequest) Validate() error {
	return validator.ValidateRequest(r)
}

// ProjectResponse never carries the key hash. APIKey is set exactly once,
// on create and rotate responses.
type ProjectResponse struct {
	*project.Project
	APIKey string `json:"api_key,omitempty"`
}

type ListProjectsResponse struct {
	Items []*ProjectResponse `json:"items"`
	Total int                `json:"total"`
}
