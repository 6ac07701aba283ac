package noop

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blogfront/internal/auth/identity"
	"blogfront/internal/auth/models"
)

func TestClient(t *testing.T) {
	ctx := context.Background()
	c := New()

	url, err := c.SignIn(ctx)
	assert.Empty(t, url)
	require.ErrorIs(t, err, identity.ErrNotInteractive)

	tok, err := c.IDToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, tok)

	assert.NoError(t, c.SignOut(ctx))
	assert.Equal(t, models.ProviderState{}, c.State())

	called := false
	unsub := c.Subscribe(func(context.Context, models.ProviderState) { called = true })
	unsub()
	assert.False(t, called)
}
