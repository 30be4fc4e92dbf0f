package project

import (
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

// Project is an ingest credential scope inside an organisation. Events are
// authenticated by the project's API key; only the SHA-256 hash is stored.
type Project struct {
	ID             string `db:"id" json:"id"`
	OrganisationID string `db:"organisation_id" json:"organisation_id"`
	Name           string `db:"name" json:"name"`

	// APIKeyHash is the SHA-256 hex digest of the project API key. The
	// plaintext key is returned exactly once, at creation or rotation.
	APIKeyHash string `db:"api_key_hash" json:"-"`

	IsActive bool `db:"is_active" json:"is_active"`

	types.BaseModel
}

// New creates an active project for the organisation
func New(organisationID, name, apiKeyHash string) *Project {
	return &Project{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PROJECT),
		OrganisationID: organisationID,
		Name:           name,
		APIKeyHash:     apiKeyHash,
		IsActive:       true,
	}
}

func (p *Project) Validate() error {
	if p.OrganisationID == "" {
		return ierr.NewError("organisation_id is required").
			Mark(ierr.ErrValidation)
	}
	if p.Name == "" {
		return ierr.NewError("project name is required").
			Mark(ierr.ErrValidation)
	}
	return nil
}
