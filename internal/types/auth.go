package types

import "fmt"

// AuthProvider selects the admin authentication backend.
type AuthProvider string

const (
	AuthProviderLocal    AuthProvider = "local"
	AuthProviderSupabase AuthProvider = "supabase"
)

func (p AuthProvider) Validate() error {
	switch p {
	case AuthProviderLocal, AuthProviderSupabase:
		return nil
	default:
		return fmt.Errorf("invalid auth provider: %s", p)
	}
}

// UserRole gates the admin surface. Owners manage users and keys, admins
// manage billing entities, viewers read.
type UserRole string

const (
	UserRoleOwner  UserRole = "owner"
	UserRoleAdmin  UserRole = "admin"
	UserRoleViewer UserRole = "viewer"
)

func (r UserRole) Validate() error {
	switch r {
	case UserRoleOwner, UserRoleAdmin, UserRoleViewer:
		return nil
	default:
		return fmt.Errorf("invalid user role: %s", r)
	}
}

// CanWrite reports whether the role may mutate billing entities.
func (r UserRole) CanWrite() bool {
	return r == UserRoleOwner || r == UserRoleAdmin
}

// CanManage reports whether the role may manage users and API keys.
func (r UserRole) CanManage() bool {
	return r == UserRoleOwner
}
