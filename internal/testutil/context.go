package testutil

import (
	"context"

	"github.com/meterline/meterline/internal/types"
)

// Test identities shared across suites
const (
	TestOrganisationID = "org_test_01"
	TestProjectID      = "proj_test_01"
	TestUserID         = "user_test_01"
)

// SetupContext returns an authenticated owner context for tests, carrying
// the same identity claims the API middleware would set.
func SetupContext() context.Context {
	ctx := context.Background()
	ctx = context.WithValue(ctx, types.CtxOrganisationID, TestOrganisationID)
	ctx = context.WithValue(ctx, types.CtxProjectID, TestProjectID)
	ctx = context.WithValue(ctx, types.CtxUserID, TestUserID)
	ctx = context.WithValue(ctx, types.CtxUserRole, types.UserRoleOwner)
	ctx = context.WithValue(ctx, types.CtxRequestID, types.GenerateUUID())
	return ctx
}
