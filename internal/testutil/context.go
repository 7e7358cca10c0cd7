package testutil

import (
	"context"

	"github.com/tixello/settlement/internal/types"
)

// SetupContext returns a context scoped to the default tenant and user
func SetupContext() context.Context {
	ctx := context.Background()
	ctx = types.SetTenantID(ctx, types.DefaultTenantID)
	ctx = types.SetUserID(ctx, types.DefaultUserID)
	ctx = types.SetRequestID(ctx, types.GenerateUUID())
	return ctx
}
