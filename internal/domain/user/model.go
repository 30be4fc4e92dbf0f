package user

import (
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

// User is an admin account scoped to one organisation
type User struct {
	ID             string         `db:"id" json:"id"`
	Email          string         `db:"email" json:"email"`
	OrganisationID string         `db:"organisation_id" json:"organisation_id"`
	Role           types.UserRole `db:"role" json:"role"`
	types.BaseModel
}

// NewUser creates a user in the organisation
func NewUser(email, organisationID string, role types.UserRole) *User {
	return &User{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_USER),
		Email:          email,
		OrganisationID: organisationID,
		Role:           role,
	}
}

func (u *User) Validate() error {
	if u.Email == "" {
		return ierr.NewError("email is required").
			Mark(ierr.ErrValidation)
	}
	if u.OrganisationID == "" {
		return ierr.NewError("organisation_id is required").
			Mark(ierr.ErrValidation)
	}
	return u.Role.Validate()
}
