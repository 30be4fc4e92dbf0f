package types

import (
	"context"
	"fmt"
)

// ContextKey is a type for the keys of values stored in the context
type ContextKey string

const (
	CtxRequestID      ContextKey = "ctx_request_id"
	CtxOrganisationID ContextKey = "ctx_organisation_id"
	CtxProjectID      ContextKey = "ctx_project_id"
	CtxUserID         ContextKey = "ctx_user_id"
	CtxUserRole       ContextKey = "ctx_user_role"
	CtxJWT            ContextKey = "ctx_jwt"
	CtxDBTransaction  ContextKey = "ctx_db_transaction"

	// Default values
	DefaultUserID = "00000000-0000-0000-0000-000000000000"
	// SystemActor is recorded as created_by/updated_by on rows written by
	// scheduled jobs and webhook handlers.
	SystemActor = "system"
)

func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(CtxRequestID).(string); ok {
		return requestID
	}
	return ""
}

func GetOrganisationID(ctx context.Context) string {
	if orgID, ok := ctx.Value(CtxOrganisationID).(string); ok {
		return orgID
	}
	return ""
}

func GetProjectID(ctx context.Context) string {
	if projectID, ok := ctx.Value(CtxProjectID).(string); ok {
		return projectID
	}
	return ""
}

func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(CtxUserID).(string); ok {
		return userID
	}
	return ""
}

func GetUserRole(ctx context.Context) UserRole {
	if role, ok := ctx.Value(CtxUserRole).(UserRole); ok {
		return role
	}
	return ""
}

func GetJWT(ctx context.Context) string {
	if jwt, ok := ctx.Value(CtxJWT).(string); ok {
		return jwt
	}
	return ""
}

// SetRequestID sets the request ID in the context
func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, CtxRequestID, requestID)
}

// SetOrganisationID sets the organisation ID in the context
func SetOrganisationID(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, CtxOrganisationID, orgID)
}

// SetProjectID sets the project ID in the context
func SetProjectID(ctx context.Context, projectID string) context.Context {
	return context.WithValue(ctx, CtxProjectID, projectID)
}

// SetUserID sets the user ID in the context
func SetUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, CtxUserID, userID)
}

// SetUserRole sets the caller's role in the context
func SetUserRole(ctx context.Context, role UserRole) context.Context {
	return context.WithValue(ctx, CtxUserRole, role)
}

// GetActor returns the identity recorded on audited writes: the
// authenticated user when present, otherwise the system actor.
func GetActor(ctx context.Context) string {
	if userID := GetUserID(ctx); userID != "" {
		return userID
	}
	return SystemActor
}

// ValidateOrganisationContext validates that the organisation scope is present
func ValidateOrganisationContext(ctx context.Context) error {
	if GetOrganisationID(ctx) == "" {
		return fmt.Errorf("organisation ID is required in the context")
	}
	return nil
}
