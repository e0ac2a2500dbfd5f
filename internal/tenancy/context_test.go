package tenancy

import (
	"context"
	"errors"
	"testing"
)

func TestWithTenantIDAndTenantIDFromContext(t *testing.T) {
	ctx := WithTenantID(context.Background(), "clinic-123")

	got, ok := TenantIDFromContext(ctx)
	if !ok {
		t.Fatalf("expected tenant id to be present")
	}
	if got != "clinic-123" {
		t.Fatalf("expected clinic-123, got %s", got)
	}
}

func TestTenantIDFromContext_EmptyOrMissing(t *testing.T) {
	ctx := context.Background()
	if _, ok := TenantIDFromContext(ctx); ok {
		t.Fatalf("expected missing tenant id to return false")
	}

	ctx = context.WithValue(ctx, tenantKey, 42)
	if _, ok := TenantIDFromContext(ctx); ok {
		t.Fatalf("expected non-string tenant id to return false")
	}

	ctx = WithTenantID(context.Background(), "")
	if _, ok := TenantIDFromContext(ctx); ok {
		t.Fatalf("expected empty tenant id to return false")
	}
}

func TestRequireTenantID(t *testing.T) {
	if _, err := RequireTenantID(context.Background()); !errors.Is(err, ErrMissingTenant) {
		t.Fatalf("expected ErrMissingTenant, got %v", err)
	}
	got, err := RequireTenantID(WithTenantID(context.Background(), "t1"))
	if err != nil || got != "t1" {
		t.Fatalf("unexpected result %q %v", got, err)
	}
}
