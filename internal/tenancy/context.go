package tenancy

import (
	"context"
	"errors"
)

type ctxKey string

const tenantKey ctxKey = "dentalogic.tenant_id"

// ErrMissingTenant is returned when an operation needs a tenant and the
// context carries none.
var ErrMissingTenant = errors.New("tenancy: tenant id missing from context")

// WithTenantID stores the clinic tenant id in context.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey, tenantID)
}

// TenantIDFromContext extracts the tenant id if present.
func TenantIDFromContext(ctx context.Context) (string, bool) {
	val := ctx.Value(tenantKey)
	if val == nil {
		return "", false
	}
	tenantID, ok := val.(string)
	return tenantID, ok && tenantID != ""
}

// RequireTenantID is TenantIDFromContext for call sites that cannot proceed
// without one.
func RequireTenantID(ctx context.Context) (string, error) {
	tenantID, ok := TenantIDFromContext(ctx)
	if !ok {
		return "", ErrMissingTenant
	}
	return tenantID, nil
}
