package dto

import (
	"github.com/meterline/meterline/internal/validator"
)

type SignUpRequest struct {
	Email            string `json:"email" validate:"required,email" binding:"required,email"`
	Password         string `json:"password" validate:"omitempty,min=8" binding:"omitempty,min=8"`
	OrganisationName string `json:"organisation_name" validate:"omitempty" binding:"omitempty"`
	Currency         string `json:"currency" validate:"omitempty,len=3" binding:"omitempty"`
}

func (r *SignUpRequest) Validate() error {
	return validator.ValidateRequest(r)
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email" binding:"required,email"`
	Password string `json:"password" validate:"required,min=8" binding:"required"`
}

func (r *LoginRequest) Validate() error {
	return validator.ValidateRequest(r)
}

type AuthResponse struct {
	Token          string `json:"token"`
	UserID         string `json:"user_id"`
	OrganisationID string `json:"organisation_id"`
}
