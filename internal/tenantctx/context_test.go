package tenantctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTenantID(t *testing.T) {
	_, ok := TenantID(context.Background())
	assert.False(t, ok)

	ctx := WithTenant(context.Background(), " t1 ")
	id, ok := TenantID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "t1", id)

	_, ok = TenantID(WithTenant(context.Background(), "  "))
	assert.False(t, ok)
}

func TestActor(t *testing.T) {
	assert.Equal(t, SystemActor, Actor(context.Background()))
	assert.Equal(t, "registrar-1", Actor(WithActor(context.Background(), "registrar-1")))
	assert.Equal(t, SystemActor, Actor(WithActor(context.Background(), "")))
}
