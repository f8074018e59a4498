package group

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ndr-chat/groupcrypto/internal/aead"
	"github.com/ndr-chat/groupcrypto/internal/onetomany"
	"github.com/ndr-chat/groupcrypto/internal/storage"
	"github.com/ndr-chat/groupcrypto/internal/transport"
)

func newManagerTestGroup(t *testing.T, id, selfOwner, selfDevice string, members []string) *Group {
	t.Helper()
	var codec aead.Default
	cfg := Config{
		Storage: storage.NewMemory(),
		AEAD:    codec,
		SignerFactory: func() (onetomany.Signer, error) {
			return aead.NewDefaultSigner()
		},
	}
	return New(id, selfOwner, selfDevice, members, nil, true, 0, cfg)
}

func TestManager_BroadcastAndDecrypt(t *testing.T) {
	ctx := context.Background()
	bus := transport.NewMemory()
	members := []string{"alice-owner", "bob-owner"}

	alice := newManagerTestGroup(t, "g1", "alice-owner", "alice-device", members)
	bob := newManagerTestGroup(t, "g1", "bob-owner", "bob-device", members)

	var decrypted []DecryptedEvent
	mgr := NewManager(ManagerConfig{
		Transport: bus,
		OnDecryptedEvent: func(groupID string, ev DecryptedEvent) {
			decrypted = append(decrypted, ev)
		},
	})
	require.NoError(t, mgr.UpsertGroup(ctx, bob))

	// alice rotates and hands bob the distribution directly (modeling an
	// already-established pairwise session), binding it into the manager.
	dist, err := alice.RotateSenderKey(ctx, func(context.Context, string, onetomany.Event) error { return nil }, 1_700_000_000_000)
	require.NoError(t, err)

	distContent, err := distRumorContent(dist)
	require.NoError(t, err)
	_, err = mgr.HandleIncomingSessionEvent(ctx, "g1", onetomany.Event{
		Kind:    onetomany.GroupSenderKeyDistributionKind,
		Content: distContent,
	})
	require.NoError(t, err)

	sent, err := alice.SendEvent(ctx, SendRequest{Kind: onetomany.InnerMessageKind, Content: "hi"}, SendCallbacks{
		SendPairwise: func(context.Context, string, onetomany.Event) error { return nil },
		PublishOuter: func(c context.Context, outer onetomany.Event) (onetomany.Event, error) {
			return bus.Publish(c, outer)
		},
		NowMs: 1_700_000_000_000,
	})
	require.NoError(t, err)
	require.NotEmpty(t, sent.Outer.ID)

	require.Len(t, decrypted, 1)
	require.Equal(t, "hi", decrypted[0].Inner.Content)
}

func TestManager_OuterBeforeDistributionIsQueuedThenDrained(t *testing.T) {
	ctx := context.Background()
	bus := transport.NewMemory()
	members := []string{"alice-owner", "bob-owner"}

	alice := newManagerTestGroup(t, "g1", "alice-owner", "alice-device", members)
	bob := newManagerTestGroup(t, "g1", "bob-owner", "bob-device", members)

	var decrypted []DecryptedEvent
	mgr := NewManager(ManagerConfig{
		Transport: bus,
		OnDecryptedEvent: func(groupID string, ev DecryptedEvent) {
			decrypted = append(decrypted, ev)
		},
	})
	require.NoError(t, mgr.UpsertGroup(ctx, bob))

	dist, err := alice.RotateSenderKey(ctx, func(context.Context, string, onetomany.Event) error { return nil }, 1_700_000_000_000)
	require.NoError(t, err)

	sent, err := alice.SendEvent(ctx, SendRequest{Kind: onetomany.InnerMessageKind, Content: "early"}, SendCallbacks{
		SendPairwise: func(context.Context, string, onetomany.Event) error { return nil },
		PublishOuter: func(c context.Context, outer onetomany.Event) (onetomany.Event, error) {
			return bus.Publish(c, outer)
		},
		NowMs: 1_700_000_000_000,
	})
	require.NoError(t, err)

	// The outer was published before the manager learned alice's
	// sender-event pubkey, so it must not have been delivered yet.
	require.Empty(t, decrypted)

	distContent, err := distRumorContent(dist)
	require.NoError(t, err)
	_, err = mgr.HandleIncomingSessionEvent(ctx, "g1", onetomany.Event{
		Kind:    onetomany.GroupSenderKeyDistributionKind,
		Content: distContent,
	})
	require.NoError(t, err)

	require.Len(t, decrypted, 1)
	require.Equal(t, "early", decrypted[0].Inner.Content)
	require.Equal(t, sent.Outer.ID, decrypted[0].Outer.ID)
}

func TestManager_UnknownGroupReturnsError(t *testing.T) {
	ctx := context.Background()
	bus := transport.NewMemory()
	mgr := NewManager(ManagerConfig{Transport: bus})

	_, err := mgr.HandleIncomingSessionEvent(ctx, "missing", onetomany.Event{Kind: onetomany.GroupSenderKeyDistributionKind})
	require.ErrorIs(t, err, ErrUnknownGroup)
}

func TestManager_SyncOuterSubscriptionIsIdempotentOnUnchangedAuthorSet(t *testing.T) {
	ctx := context.Background()
	bus := transport.NewMemory()
	bob := newManagerTestGroup(t, "g1", "bob-owner", "bob-device", []string{"bob-owner"})

	mgr := NewManager(ManagerConfig{Transport: bus})
	require.NoError(t, mgr.UpsertGroup(ctx, bob))
	keyAfterFirst := mgr.authorsKey

	require.NoError(t, mgr.UpsertGroup(ctx, bob))
	require.Equal(t, keyAfterFirst, mgr.authorsKey)
}

func TestManager_UpsertGroupRemovesStaleSenderEventMappings(t *testing.T) {
	ctx := context.Background()
	bus := transport.NewMemory()

	bob := newManagerTestGroup(t, "g1", "bob-owner", "bob-device", []string{"bob-owner", "alice-owner"})
	mgr := NewManager(ManagerConfig{Transport: bus})
	require.NoError(t, mgr.UpsertGroup(ctx, bob))

	// Install a peer chain directly (as HandleIncomingSessionEvent would)
	// and bind it, simulating a sender-event pubkey bob's group previously
	// tracked.
	_, err := bob.HandleIncomingSessionEvent(ctx, onetomany.Event{
		Kind: onetomany.GroupSenderKeyDistributionKind,
		Content: mustMarshalDistribution(t, SenderKeyDistribution{
			GroupID:           "g1",
			KeyID:             1,
			ChainKey:          "aa000000000000000000000000000000000000000000000000000000000000bb",
			Iteration:         0,
			SenderEventPubkey: "cc000000000000000000000000000000000000000000000000000000000000dd",
		}),
	})
	require.NoError(t, err)
	mgr.bindSenderEventToGroup(ctx, "g1", "cc000000000000000000000000000000000000000000000000000000000000dd")
	require.Equal(t, "g1", mgr.senderEventToGroup["cc000000000000000000000000000000000000000000000000000000000000dd"])

	// Replacing bob's Group with a fresh instance that has no peer states
	// at all must drop the stale mapping, not just stop adding to it.
	freshBob := newManagerTestGroup(t, "g1", "bob-owner", "bob-device", []string{"bob-owner", "alice-owner"})
	require.NoError(t, mgr.UpsertGroup(ctx, freshBob))

	_, stillMapped := mgr.senderEventToGroup["cc000000000000000000000000000000000000000000000000000000000000dd"]
	require.False(t, stillMapped)
}

func mustMarshalDistribution(t *testing.T, dist SenderKeyDistribution) string {
	t.Helper()
	raw, err := json.Marshal(dist)
	require.NoError(t, err)
	return string(raw)
}

func distRumorContent(dist SenderKeyDistribution) (string, error) {
	raw, err := json.Marshal(dist)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
