package group

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ndr-chat/groupcrypto/internal/aead"
	"github.com/ndr-chat/groupcrypto/internal/onetomany"
	"github.com/ndr-chat/groupcrypto/internal/storage"
)

func newRestorableConfig(store storage.Adapter) Config {
	var codec aead.Default
	return Config{
		Storage: store,
		AEAD:    codec,
		SignerFactory: func() (onetomany.Signer, error) {
			return aead.NewDefaultSigner()
		},
		RestoreSigner: func(seed [32]byte) (onetomany.Signer, error) {
			return aead.NewDefaultSignerFromSeed(seed)
		},
	}
}

func TestLoadGroup_RestoresMetaOwnAndPeerState(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	members := []string{"alice-owner", "bob-owner"}

	alice := New("g1", "alice-owner", "alice-device", members, []string{"alice-owner"}, true, 1_700_000_000_000, newRestorableConfig(store))
	bob := newTestGroup(t, "g1", "bob-owner", "bob-device", members)

	peers := map[string]*Group{"bob-owner": bob}
	cb := SendCallbacks{
		SendPairwise: directPairwise(ctx, peers),
		PublishOuter: directPublish(ctx, []*Group{bob}),
		NowMs:        1_700_000_000_000,
	}
	_, err := alice.SendEvent(ctx, SendRequest{Kind: onetomany.InnerMessageKind, Content: "before restart"}, cb)
	require.NoError(t, err)

	// Also give alice a peer chain of her own, so restorePeers has
	// something to exercise — bob rotates and distributes to alice.
	distToAlice, err := bob.RotateSenderKey(ctx, directPairwise(ctx, map[string]*Group{"alice-owner": alice}), 1_700_000_000_000)
	require.NoError(t, err)
	require.NotEmpty(t, distToAlice.SenderEventPubkey)

	reloaded, err := LoadGroup(ctx, "g1", "alice-owner", "alice-device", nil, nil, false, 0, newRestorableConfig(store))
	require.NoError(t, err)

	require.Equal(t, members, reloaded.membership)
	require.Equal(t, []string{"alice-owner"}, reloaded.admins)
	require.True(t, reloaded.accepted)
	require.EqualValues(t, 1_700_000_000_000, reloaded.createdAt)

	require.NotNil(t, reloaded.ownSenderState)
	require.Equal(t, alice.ownSenderState.KeyID(), reloaded.ownSenderState.KeyID())
	require.Equal(t, alice.ownSenderEventSigner.PublicKey(), reloaded.ownSenderEventSigner.PublicKey())

	require.Len(t, reloaded.peerStates, 1)
	require.Contains(t, reloaded.peerStates, distToAlice.SenderEventPubkey)

	// The restored own chain must still be usable: encrypting picks up
	// from where the persisted iteration left off, and bob (an unrelated
	// live peer chain) can decrypt it.
	sent, err := reloaded.SendEvent(ctx, SendRequest{Kind: onetomany.InnerMessageKind, Content: "after restart"}, SendCallbacks{
		SendPairwise: func(context.Context, string, onetomany.Event) error { return nil },
		PublishOuter: directPublish(ctx, []*Group{bob}),
		NowMs:        1_700_000_001_000,
	})
	require.NoError(t, err)
	require.Equal(t, "after restart", sent.Inner.Content)
}

func TestLoadGroup_NeverPersistedComesBackLikeNew(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()

	reloaded, err := LoadGroup(ctx, "g1", "alice-owner", "alice-device", []string{"alice-owner", "bob-owner"}, nil, true, 42, newRestorableConfig(store))
	require.NoError(t, err)

	require.Nil(t, reloaded.ownSenderState)
	require.Empty(t, reloaded.peerStates)
	require.Equal(t, []string{"alice-owner", "bob-owner"}, reloaded.membership)
}
