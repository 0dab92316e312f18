package favorites

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*RedisService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	svc, err := NewRedisService("redis://"+mr.Addr(), "test:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc, mr
}

func TestRedisServiceSetAndList(t *testing.T) {
	svc, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, svc.SetFavorite(ctx, "a1", "c1", true))
	require.NoError(t, svc.SetFavorite(ctx, "a2", "c1", true))
	require.NoError(t, svc.SetFavorite(ctx, "b1", "c2", true))

	members, err := mr.Members("test:category:c1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a1", "a2"}, members)

	got, err := svc.ListFavorites(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a1", "a2"}, got["c1"])
	assert.Equal(t, []string{"b1"}, got["c2"])
}

func TestRedisServiceClearDropsEmptyCategory(t *testing.T) {
	svc, _ := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, svc.SetFavorite(ctx, "a1", "c1", true))
	require.NoError(t, svc.SetFavorite(ctx, "a1", "c1", false))
	require.NoError(t, svc.SetFavorite(ctx, "zz", "c9", false))

	got, err := svc.ListFavorites(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisServiceUnreachable(t *testing.T) {
	svc, mr := setupTestRedis(t)
	mr.Close()

	err := svc.SetFavorite(context.Background(), "a1", "c1", true)
	assert.Error(t, err)
}

func TestNewRedisServiceBadURL(t *testing.T) {
	_, err := NewRedisService("not a url", "")
	assert.Error(t, err)
}

func TestSynchronizerOverRedis(t *testing.T) {
	svc, _ := setupTestRedis(t)
	s := NewSynchronizer(svc, nil)
	ctx := context.Background()
	require.NoError(t, s.ToggleFavorite(ctx, "a1", "c1", true))

	other := NewSynchronizer(svc, nil)
	favs, err := svc.ListFavorites(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, favs["c1"])
	assert.False(t, other.IsFavorite("a1", "c1"))
}
