package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPublishSubscribe(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	events, cancel, err := m.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, m.Publish(ctx, Event{Type: EventIndexStarted, OpID: "op1", Collection: "demo"}))

	select {
	case e := <-events:
		assert.Equal(t, EventIndexStarted, e.Type)
		assert.Equal(t, "op1", e.OpID)
		assert.False(t, e.Timestamp.IsZero(), "publish stamps the event")
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestMemoryFilterByType(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	events, cancel, err := m.Subscribe(ctx, Filter{Types: []EventType{EventIndexCompleted}})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, m.Publish(ctx, Event{Type: EventIndexProgress, OpID: "op1"}))
	require.NoError(t, m.Publish(ctx, Event{Type: EventIndexCompleted, OpID: "op1"}))

	select {
	case e := <-events:
		assert.Equal(t, EventIndexCompleted, e.Type)
	case <-time.After(time.Second):
		t.Fatal("filtered event not delivered")
	}
	select {
	case e := <-events:
		t.Fatalf("unexpected extra event %v", e.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryFilterByCollection(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	events, cancel, err := m.Subscribe(ctx, Filter{Collection: "demo"})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, m.Publish(ctx, Event{Type: EventIndexStarted, Collection: "other"}))
	require.NoError(t, m.Publish(ctx, Event{Type: EventIndexStarted, Collection: "demo"}))

	e := <-events
	assert.Equal(t, "demo", e.Collection)
}

func TestMemoryOrderingPerPublisher(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	events, cancel, err := m.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	defer cancel()

	for i := 0; i < 10; i++ {
		require.NoError(t, m.Publish(ctx, Event{
			Type:     EventIndexProgress,
			OpID:     "op1",
			Counters: &Counters{FilesIndexed: i},
		}))
	}

	for i := 0; i < 10; i++ {
		e := <-events
		assert.Equal(t, i, e.Counters.FilesIndexed, "events arrive in publish order")
	}
}

func TestMemoryMultipleSubscribersGetCopies(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	a, cancelA, err := m.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	defer cancelA()
	b, cancelB, err := m.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	defer cancelB()

	require.NoError(t, m.Publish(ctx, Event{Type: EventCollectionCleared, Collection: "demo"}))

	ea := <-a
	eb := <-b
	assert.Equal(t, ea.Type, eb.Type)
}

func TestMemoryUnsubscribeStopsDelivery(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	events, cancel, err := m.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	cancel()

	// Publishing after unsubscribe neither blocks nor panics.
	require.NoError(t, m.Publish(ctx, Event{Type: EventIndexStarted}))

	_, open := <-events
	assert.False(t, open, "channel closed after unsubscribe")
}

func TestMemoryCloseClosesSubscribers(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	events, _, err := m.Subscribe(ctx, Filter{})
	require.NoError(t, err)

	require.NoError(t, m.Close())

	_, open := <-events
	assert.False(t, open)

	assert.Error(t, m.Publish(ctx, Event{Type: EventIndexStarted}))
	_, _, err = m.Subscribe(ctx, Filter{})
	assert.Error(t, err)
}
