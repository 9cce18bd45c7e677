package ring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullhaus/sysmond/internal/core"
)

func snap(at time.Time) *core.Snapshot {
	return &core.Snapshot{Timestamp: at}
}

func TestBuffer_LatestAndWindow(t *testing.T) {
	b := New(3, nil)
	assert.Nil(t, b.Latest())
	assert.Empty(t, b.Window(10))

	base := time.Now()
	b.Publish(snap(base))
	b.Publish(snap(base.Add(time.Second)))
	b.Publish(snap(base.Add(2 * time.Second)))

	require.NotNil(t, b.Latest())
	assert.Equal(t, base.Add(2*time.Second), b.Latest().Timestamp)

	window := b.Window(2)
	require.Len(t, window, 2)
	assert.Equal(t, base.Add(time.Second), window[0].Timestamp)
	assert.Equal(t, base.Add(2*time.Second), window[1].Timestamp)
}

func TestBuffer_OverwritesOldestWhenFull(t *testing.T) {
	b := New(2, nil)
	base := time.Now()
	b.Publish(snap(base))
	b.Publish(snap(base.Add(time.Second)))
	b.Publish(snap(base.Add(2 * time.Second)))

	window := b.Window(10)
	require.Len(t, window, 2)
	assert.Equal(t, base.Add(time.Second), window[0].Timestamp)
	assert.Equal(t, base.Add(2*time.Second), window[1].Timestamp)
}

func TestBuffer_SubscribeReceivesPublishedOrder(t *testing.T) {
	b := New(4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, unsub := b.Subscribe(ctx)
	defer unsub()

	base := time.Now()
	b.Publish(snap(base))
	b.Publish(snap(base.Add(time.Second)))

	select {
	case got := <-ch:
		assert.Equal(t, base, got.Timestamp)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first published snapshot")
	}
	select {
	case got := <-ch:
		assert.Equal(t, base.Add(time.Second), got.Timestamp)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for second published snapshot")
	}
}

func TestBuffer_SubscribeChannelClosesOnCancel(t *testing.T) {
	b := New(4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx)

	cancel()

	require.Eventually(t, func() bool {
		_, ok := <-ch
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestBuffer_SlowSubscriberIsDisconnected(t *testing.T) {
	b := New(4, nil)
	ctx := context.Background()
	ch, _ := b.Subscribe(ctx)

	base := time.Now()
	for i := 0; i < subscriberQueueDepth+5; i++ {
		b.Publish(snap(base.Add(time.Duration(i) * time.Second)))
	}

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond, "slow subscriber channel should eventually close")
}
