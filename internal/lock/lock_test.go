package lock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryLockerIsExclusive(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()

	lease, ok, err := l.TryAcquire(ctx, "bounce_processor", false)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryAcquire(ctx, "bounce_processor", false)
	require.NoError(t, err)
	require.False(t, ok, "second acquire must not wait or succeed")

	_, ok, err = l.TryAcquire(ctx, "queue_processor", false)
	require.NoError(t, err)
	require.True(t, ok, "names are independent")

	require.NoError(t, lease.Release(ctx))
	require.False(t, l.Held("bounce_processor"))

	_, ok, err = l.TryAcquire(ctx, "bounce_processor", false)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMemoryLockerForce(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()

	stale, ok, _ := l.TryAcquire(ctx, "bounce_processor", false)
	require.True(t, ok)

	fresh, ok, err := l.TryAcquire(ctx, "bounce_processor", true)
	require.NoError(t, err)
	require.True(t, ok)

	// Releasing the evicted lease leaves the new holder alone.
	require.NoError(t, stale.Release(ctx))
	require.True(t, l.Held("bounce_processor"))

	require.NoError(t, fresh.Release(ctx))
	require.NoError(t, fresh.Release(ctx))
	require.False(t, l.Held("bounce_processor"))
}

func TestCampaignLockName(t *testing.T) {
	require.Equal(t, "campaign_12", CampaignLockName(12))
}
