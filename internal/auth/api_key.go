package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/domain/auth"
	"github.com/meterline/meterline/internal/types"
)

// HashAPIKey creates a SHA-256 hash of the API key. Project keys and admin
// keys are both stored hashed; the plaintext is shown once at creation.
func HashAPIKey(key string) string {
	hasher := sha256.New()
	hasher.Write([]byte(key))
	return hex.EncodeToString(hasher.Sum(nil))
}

// GenerateAPIKey generates a new API key in its raw form; hash it before
// storing.
func GenerateAPIKey() string {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic(err)
	}
	return hex.EncodeToString(key)
}

// ValidateAdminAPIKey checks an admin API key against the configuration and
// returns the claims it maps to.
func ValidateAdminAPIKey(cfg *config.Configuration, key string) (*auth.Claims, bool) {
	details, exists := cfg.Auth.APIKey.Keys[HashAPIKey(key)]
	if !exists {
		return nil, false
	}

	role := types.UserRole(details.Role)
	if role.Validate() != nil {
		role = types.UserRoleViewer
	}

	return &auth.Claims{
		UserID:         details.UserID,
		OrganisationID: details.OrganisationID,
		Role:           role,
	}, true
}
