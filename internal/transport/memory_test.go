package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ndr-chat/groupcrypto/internal/onetomany"
)

func TestMemory_PublishMatchesFilter(t *testing.T) {
	bus := NewMemory()
	ctx := context.Background()

	var received []onetomany.Event
	unsub, err := bus.Subscribe(ctx, Filter{Kinds: []int{1060}, Authors: []string{"alice"}}, func(e onetomany.Event) {
		received = append(received, e)
	})
	require.NoError(t, err)

	_, err = bus.Publish(ctx, onetomany.Event{Kind: 1060, PubKey: "alice", Content: "a"})
	require.NoError(t, err)
	_, err = bus.Publish(ctx, onetomany.Event{Kind: 1060, PubKey: "bob", Content: "b"})
	require.NoError(t, err)
	_, err = bus.Publish(ctx, onetomany.Event{Kind: 14, PubKey: "alice", Content: "c"})
	require.NoError(t, err)

	require.Len(t, received, 1)
	require.Equal(t, "a", received[0].Content)

	unsub()
	_, err = bus.Publish(ctx, onetomany.Event{Kind: 1060, PubKey: "alice", Content: "d"})
	require.NoError(t, err)
	require.Len(t, received, 1)
}

func TestMemory_EmptyFilterMatchesEverything(t *testing.T) {
	bus := NewMemory()
	ctx := context.Background()

	var count int
	_, err := bus.Subscribe(ctx, Filter{}, func(onetomany.Event) { count++ })
	require.NoError(t, err)

	_, _ = bus.Publish(ctx, onetomany.Event{Kind: 1, PubKey: "x"})
	_, _ = bus.Publish(ctx, onetomany.Event{Kind: 2, PubKey: "y"})
	require.Equal(t, 2, count)
}
