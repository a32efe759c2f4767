package demo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/stateful"
	"github.com/aretw0/stateful/pkg/domain"
)

func newContainer(t *testing.T) *stateful.Container {
	t.Helper()
	c, err := stateful.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	for _, ct := range Components() {
		require.NoError(t, c.Deploy(ct))
	}
	return c
}

func TestCounter(t *testing.T) {
	ctx := context.Background()
	c := newContainer(t)

	key, err := c.Create(ctx, "counter")
	require.NoError(t, err)

	v, err := c.Call(ctx, "counter", key, "increment")
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	v, err = c.Call(ctx, "counter", key, "increment", float64(2))
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	v, err = c.Call(ctx, "counter", key, "increment", "4")
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	_, err = c.Call(ctx, "counter", key, "increment", "many")
	assert.Equal(t, domain.ExceptionApplication, domain.ClassifyError(err))

	v, err = c.Invoke(ctx, "counter", key, domain.Method{Interface: domain.InterfaceBusinessRemote, Name: "value"})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestCart(t *testing.T) {
	ctx := context.Background()
	c := newContainer(t)
	home := domain.Method{Interface: domain.InterfaceLocalHome, Name: "create"}

	_, err := c.Invoke(ctx, "cart", "", home)
	assert.Equal(t, domain.ExceptionApplication, domain.ClassifyError(err))

	v, err := c.Invoke(ctx, "cart", "", home, "ann")
	require.NoError(t, err)
	key := v.(string)

	_, err = c.Call(ctx, "cart", key, "checkout")
	require.ErrorIs(t, err, ErrEmptyCart)
	assert.Equal(t, domain.ExceptionApplicationRollback, domain.ClassifyError(err))

	_, err = c.Call(ctx, "cart", key, "add", "apple")
	require.NoError(t, err, "a failed checkout keeps the cart")

	receipt, err := c.Call(ctx, "cart", key, "checkout")
	require.NoError(t, err)
	assert.Equal(t, "ann: apple", receipt)

	_, err = c.Call(ctx, "cart", key, "items")
	assert.ErrorIs(t, err, domain.ErrInstanceNotFound)
}
