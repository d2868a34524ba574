package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

func TestKeeperSnapshots(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	mine, err := h.svc.CreatePool(ctx, carol, poolParams())
	require.NoError(t, err)
	theirs, err := h.svc.CreatePool(ctx, alice, poolParams())
	require.NoError(t, err)
	_, err = h.svc.SetPriceFeed(ctx, owner, "ETH/USD", "feed-1")
	require.NoError(t, err)
	_, err = h.svc.PushPrice(ctx, owner, "ETH/USD", 310_000_000_000)
	require.NoError(t, err)

	k := NewKeeper(h.svc, KeeperConfig{Operator: carol}, quietLogger())

	require.NoError(t, k.RunSnapshots(ctx))
	v, err := h.svc.GetPool(ctx, mine.Pool.ID)
	require.NoError(t, err)
	require.False(t, v.Pool.SnapshotTaken, "nothing is due before expiry")

	h.clock.Set(t0 + 86_400)
	require.NoError(t, k.RunSnapshots(ctx))
	require.NoError(t, k.RunSnapshots(ctx))

	v, err = h.svc.GetPool(ctx, mine.Pool.ID)
	require.NoError(t, err)
	require.True(t, v.Pool.SnapshotTaken)
	require.Equal(t, domain.SideBull, v.Pool.Winner)

	v, err = h.svc.GetPool(ctx, theirs.Pool.ID)
	require.NoError(t, err)
	require.False(t, v.Pool.SnapshotTaken, "only the operator's pools are settled")

	events, err := h.svc.Events(ctx, theirs.Pool.ID, 10)
	require.NoError(t, err)
	var announced int
	for _, e := range events {
		if e.Type == domain.EventAwaitingSnapshot {
			announced++
		}
	}
	require.Equal(t, 1, announced, "announced once across runs")
}

func TestKeeperSnapshotFailureIsReported(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.svc.CreatePool(ctx, carol, poolParams())
	require.NoError(t, err)
	h.clock.Set(t0 + 86_400)

	k := NewKeeper(h.svc, KeeperConfig{Operator: carol}, quietLogger())
	err = k.RunSnapshots(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "1 of 1 snapshots failed")
}

func TestKeeperArchive(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	v, err := h.svc.CreatePool(ctx, carol, poolParams())
	require.NoError(t, err)
	id := v.Pool.ID

	h.clock.Set(t0 + 86_400)
	_, err = h.svc.Snapshot(ctx, id, carol, 310_000_000_000)
	require.NoError(t, err)

	k := NewKeeper(h.svc, KeeperConfig{Retention: 7 * 24 * time.Hour}, quietLogger())
	require.NoError(t, k.RunArchive(ctx))
	_, err = h.svc.Registry().Get(id)
	require.NoError(t, err, "still inside the retention window")

	h.clock.Set(t0 + 86_400 + 7*86_400 + 1)
	require.NoError(t, k.RunArchive(ctx))
	_, err = h.svc.Registry().Get(id)
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.Len(t, h.archive.objs, 1)
}

func TestKeeperRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	k := NewKeeper(h.svc, KeeperConfig{SnapshotSpec: "@every 1h", ArchiveSpec: "0 3 * * *"}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- k.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("keeper did not stop")
	}
}

func TestKeeperRejectsBadSchedule(t *testing.T) {
	h := newHarness(t)
	k := NewKeeper(h.svc, KeeperConfig{SnapshotSpec: "every minute"}, quietLogger())
	require.Error(t, k.Run(context.Background()))
}
