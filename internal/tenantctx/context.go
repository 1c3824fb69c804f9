// Package tenantctx carries the active tenant and acting user through
// request contexts. Every engine operation resolves both from context;
// writes are rejected when the tenant is absent.
package tenantctx

import (
	"context"
	"strings"
)

type keyType string

const (
	tenantIDKey keyType = "tenant_id"
	actorIDKey  keyType = "actor_id"
)

// SystemActor is stamped on writes performed by background jobs.
const SystemActor = "system"

// WithTenant stores the tenant id in the context.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, strings.TrimSpace(tenantID))
}

// TenantID returns the tenant id from context, if set.
func TenantID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(tenantIDKey).(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// WithActor stores the acting user id in the context.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorIDKey, strings.TrimSpace(actorID))
}

// Actor returns the acting user id, defaulting to SystemActor when unset.
func Actor(ctx context.Context) string {
	if id, ok := ctx.Value(actorIDKey).(string); ok && id != "" {
		return id
	}
	return SystemActor
}
