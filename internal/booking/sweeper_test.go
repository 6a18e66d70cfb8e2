package booking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeperReleasesExpiredHoldsUntilCancelled(t *testing.T) {
	f := newFixture(Options{HoldTTL: time.Minute})
	sid := f.db.addSchedule(3, fare, f.departsIn(48*time.Hour))
	_, err := f.inventory.TryReserve(context.Background(), sid, 1)
	require.NoError(t, err)
	f.clock.Advance(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- (&Sweeper{Coordinator: f.coordinator, Interval: 5 * time.Millisecond}).Run(ctx) }()

	assert.Eventually(t, func() bool { return f.db.available(sid) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
