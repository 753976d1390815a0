package bans

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*Registry, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRegistry(rdb), mr
}

func TestBanAndLookupByIdentity(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	ban, err := registry.Ban(ctx, "alice-key", "spamming", "admin-key", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, ban.ID)
	require.Equal(t, []string{"alice-key"}, ban.Identities)

	found, err := registry.Lookup(ctx, "", "alice-key")
	require.NoError(t, err)
	require.Equal(t, ban.ID, found.ID)
	require.Equal(t, "spamming", found.Reason)
	require.Greater(t, found.Remaining(), 59*time.Minute)
}

func TestLookupIsCaseInsensitive(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := registry.Ban(ctx, "Alice-Key", "spamming", "admin-key", time.Hour)
	require.NoError(t, err)

	_, err = registry.Lookup(ctx, "", "alice-key")
	require.NoError(t, err)
}

func TestLookupNotFound(t *testing.T) {
	registry, _ := newTestRegistry(t)

	_, err := registry.Lookup(context.Background(), "10.0.0.1", "nobody")
	require.ErrorIs(t, err, ErrBanNotFound)
}

func TestDefaultReason(t *testing.T) {
	registry, _ := newTestRegistry(t)

	ban, err := registry.Ban(context.Background(), "alice-key", "", "admin-key", time.Hour)
	require.NoError(t, err)
	require.Equal(t, "No reason given", ban.Reason)
}

func TestExpandTracksEvasion(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	ban, err := registry.Ban(ctx, "alice-key", "spamming", "admin-key", time.Hour)
	require.NoError(t, err)

	// нарушитель пришёл с IP; бан теперь ловится и по нему
	require.NoError(t, registry.Expand(ctx, ban, "10.0.0.1", "alice-key"))
	found, err := registry.Lookup(ctx, "10.0.0.1", "")
	require.NoError(t, err)
	require.Equal(t, ban.ID, found.ID)

	// новая пара ключей с того же IP тоже попадает под бан
	require.NoError(t, registry.Expand(ctx, found, "10.0.0.1", "alice-second-key"))
	found, err = registry.Lookup(ctx, "", "alice-second-key")
	require.NoError(t, err)
	require.Equal(t, ban.ID, found.ID)

	// повторное расширение теми же реквизитами ничего не дублирует
	require.NoError(t, registry.Expand(ctx, found, "10.0.0.1", "alice-key"))
	require.Len(t, found.IPs, 1)
	require.Len(t, found.Identities, 2)
}

func TestBanExpires(t *testing.T) {
	registry, mr := newTestRegistry(t)
	ctx := context.Background()

	_, err := registry.Ban(ctx, "alice-key", "spamming", "admin-key", time.Minute)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = registry.Lookup(ctx, "", "alice-key")
	require.ErrorIs(t, err, ErrBanNotFound)

	list, err := registry.List(ctx)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestUnban(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	ban, err := registry.Ban(ctx, "alice-key", "spamming", "admin-key", time.Hour)
	require.NoError(t, err)
	require.NoError(t, registry.Expand(ctx, ban, "10.0.0.1", ""))

	require.NoError(t, registry.Unban(ctx, ban.ID))

	_, err = registry.Lookup(ctx, "", "alice-key")
	require.ErrorIs(t, err, ErrBanNotFound)
	_, err = registry.Lookup(ctx, "10.0.0.1", "")
	require.ErrorIs(t, err, ErrBanNotFound)

	require.ErrorIs(t, registry.Unban(ctx, ban.ID), ErrBanNotFound)
}

func TestList(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := registry.Ban(ctx, "alice-key", "a", "admin-key", time.Hour)
	require.NoError(t, err)
	_, err = registry.Ban(ctx, "bob-key", "b", "admin-key", time.Hour)
	require.NoError(t, err)

	list, err := registry.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
}

func TestAlreadyExpiredBanRejected(t *testing.T) {
	registry, _ := newTestRegistry(t)

	_, err := registry.Ban(context.Background(), "alice-key", "x", "admin-key", -time.Minute)
	require.Error(t, err)
}
