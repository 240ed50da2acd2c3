package backend

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub Subscription) (Event, bool) {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		return ev, ok
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}, false
	}
}

func TestSubscribeConfig_Matches(t *testing.T) {
	update := Event{Type: EventUpdate, Table: TableOrders, Record: map[string]any{"id": float64(7)}}

	tests := []struct {
		name string
		cfg  SubscribeConfig
		want bool
	}{
		{"table and event", SubscribeConfig{Table: TableOrders, Event: EventUpdate}, true},
		{"all events", SubscribeConfig{Table: TableOrders, Event: EventAll}, true},
		{"other table", SubscribeConfig{Table: TableProducts, Event: EventUpdate}, false},
		{"other event", SubscribeConfig{Table: TableOrders, Event: EventInsert}, false},
		{"filter hit", SubscribeConfig{Table: TableOrders, Event: EventUpdate, Filter: EqFilter("id", 7)}, true},
		{"filter miss", SubscribeConfig{Table: TableOrders, Event: EventUpdate, Filter: EqFilter("id", 8)}, false},
		{"filter column absent", SubscribeConfig{Table: TableOrders, Filter: EqFilter("user_id", "u")}, false},
	}

	resync := ResyncEvent(TableOrders, time.Now())
	assert.True(t, SubscribeConfig{Table: TableOrders, Event: EventInsert}.Matches(resync))
	assert.True(t, SubscribeConfig{Table: TableOrders, Event: EventUpdate, Filter: EqFilter("id", 7)}.Matches(resync))
	assert.False(t, SubscribeConfig{Table: TableProducts}.Matches(resync))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.Matches(update))
		})
	}
}

func TestSubscribeConfig_MatchesDeleteUsesOldRecord(t *testing.T) {
	cfg := SubscribeConfig{Table: TableOrders, Event: EventDelete, Filter: EqFilter("id", 3)}
	ev := Event{Type: EventDelete, Table: TableOrders, OldRecord: map[string]any{"id": int64(3)}}
	assert.True(t, cfg.Matches(ev))
}

func TestFilter_String(t *testing.T) {
	assert.Equal(t, "id=eq.42", EqFilter("id", int64(42)).String())
}

func TestHub_PublishDeliversToMatchingSubscriptions(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()

	inserts, err := hub.Subscribe(ctx, SubscribeConfig{Table: TableOrders, Event: EventInsert})
	require.NoError(t, err)
	updates, err := hub.Subscribe(ctx, SubscribeConfig{Table: TableOrders, Event: EventUpdate, Filter: EqFilter("id", 1)})
	require.NoError(t, err)

	hub.Publish(Event{Type: EventInsert, Table: TableOrders, Record: map[string]any{"id": 1}})
	hub.Publish(Event{Type: EventUpdate, Table: TableOrders, Record: map[string]any{"id": 2}})
	hub.Publish(Event{Type: EventUpdate, Table: TableOrders, Record: map[string]any{"id": 1}})

	ev, ok := receive(t, inserts)
	require.True(t, ok)
	assert.Equal(t, EventInsert, ev.Type)

	ev, ok = receive(t, updates)
	require.True(t, ok)
	assert.Equal(t, 1, ev.Record["id"])

	select {
	case ev := <-updates.Events():
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestHub_CloseStopsDelivery(t *testing.T) {
	hub := NewHub()
	sub, err := hub.Subscribe(context.Background(), SubscribeConfig{Table: TableOrders})
	require.NoError(t, err)
	require.Equal(t, 1, hub.Len())

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.Equal(t, 0, hub.Len())

	hub.Publish(Event{Type: EventInsert, Table: TableOrders})
	_, ok := <-sub.Events()
	assert.False(t, ok)
}

func TestHub_ContextCancelClosesSubscription(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := hub.Subscribe(ctx, SubscribeConfig{Table: TableOrders})
	require.NoError(t, err)

	cancel()
	_, ok := receive(t, sub)
	assert.False(t, ok)
	assert.Eventually(t, func() bool { return hub.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHub_FullBufferDoesNotBlock(t *testing.T) {
	hub := NewHub()
	sub, err := hub.Subscribe(context.Background(), SubscribeConfig{Table: TableOrders})
	require.NoError(t, err)
	defer sub.Close()

	for i := 0; i < subscriptionBuffer*2; i++ {
		hub.Publish(Event{Type: EventInsert, Table: TableOrders})
	}
	assert.Len(t, sub.Events(), subscriptionBuffer)
}
