package senderkey

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ndr-chat/groupcrypto/internal/aead"
)

func freshChainKey(seed byte) [32]byte {
	var k [32]byte
	for i := range k {
		k[i] = seed
	}
	return k
}

func matchedPair(t *testing.T, seed byte) (*State, *State) {
	t.Helper()
	chainKey := freshChainKey(seed)
	var codec aead.Default
	sender := New(7, chainKey, 0, codec)
	receiver := New(7, chainKey, 0, codec)
	return sender, receiver
}

func TestRoundTrip(t *testing.T) {
	sender, receiver := matchedPair(t, 1)

	msgNum, ct, err := sender.Encrypt([]byte("hello group"))
	require.NoError(t, err)

	pt, err := receiver.Decrypt(msgNum, ct)
	require.NoError(t, err)
	require.Equal(t, "hello group", string(pt))

	require.Equal(t, sender.ChainKey(), receiver.ChainKey())
	require.Equal(t, sender.Iteration(), receiver.Iteration())
}

func TestChainAdvanceMonotonicity(t *testing.T) {
	sender, receiver := matchedPair(t, 2)

	before := sender.Iteration()
	_, ct0, err := sender.Encrypt([]byte("m0"))
	require.NoError(t, err)
	require.Equal(t, before+1, sender.Iteration())

	before = receiver.Iteration()
	_, err = receiver.Decrypt(0, ct0)
	require.NoError(t, err)
	require.Equal(t, before+1, receiver.Iteration())

	// A far-ahead decrypt advances iteration to msgNum+1, skipping over the
	// messages in between.
	_, _, err = sender.Encrypt([]byte("later"))
	require.NoError(t, err)
	msgNum, ctLater, err := sender.Encrypt([]byte("even later"))
	require.NoError(t, err)

	before = receiver.Iteration()
	_, err = receiver.Decrypt(msgNum, ctLater)
	require.NoError(t, err)
	require.Equal(t, msgNum+1, receiver.Iteration())
	require.Greater(t, receiver.Iteration(), before)
}

func TestOutOfOrderDecrypt_ThenReplayFails(t *testing.T) {
	sender, receiver := matchedPair(t, 3)

	const n = 20
	plaintexts := make([][]byte, n)
	ciphertexts := make([][]byte, n)
	for i := 0; i < n; i++ {
		plaintexts[i] = []byte{byte(i)}
		_, ct, err := sender.Encrypt(plaintexts[i])
		require.NoError(t, err)
		ciphertexts[i] = ct
	}

	order := rand.Perm(n)
	for _, i := range order {
		pt, err := receiver.Decrypt(uint32(i), ciphertexts[i])
		require.NoError(t, err)
		require.Equal(t, plaintexts[i], pt)
	}

	require.Equal(t, uint32(n), receiver.Iteration())
	require.Equal(t, 0, receiver.SkippedCount())

	// Replaying any number now fails: it was consumed from the skip cache,
	// or (if it was the highest number seen when it arrived) was never
	// cached at all.
	_, err := receiver.Decrypt(0, ciphertexts[0])
	require.ErrorIs(t, err, ErrMissingSkippedKey)
}

func TestTooManySkippedMessages(t *testing.T) {
	_, receiver := matchedPair(t, 4)

	before := receiver.Snapshot()

	_, err := receiver.Decrypt(MaxSkip+1, []byte("doesn't matter, should never reach aead"))
	require.ErrorIs(t, err, ErrTooManySkippedMessages)

	// State must be untouched.
	require.Equal(t, before, receiver.Snapshot())
}

func TestSkipCacheCap(t *testing.T) {
	sender, receiver := matchedPair(t, 5)

	var lastCt []byte
	var lastNum uint32
	for i := 0; i < MaxStoredSkipped+50; i++ {
		num, ct, err := sender.Encrypt([]byte("x"))
		require.NoError(t, err)
		lastCt, lastNum = ct, num
	}

	_, err := receiver.Decrypt(lastNum, lastCt)
	require.NoError(t, err)
	require.LessOrEqual(t, receiver.SkippedCount(), MaxStoredSkipped)
}

func TestFarAheadMessage_ScenarioS5(t *testing.T) {
	_, receiver := matchedPair(t, 6)

	_, err := receiver.Decrypt(10001, []byte("x"))
	require.ErrorIs(t, err, ErrTooManySkippedMessages)
	require.Equal(t, uint32(0), receiver.Iteration())
}

func TestScenarioS6_OutOfOrderWithinWindow(t *testing.T) {
	sender, receiver := matchedPair(t, 7)

	var cts [6][]byte
	for i := 0; i < 6; i++ {
		_, ct, err := sender.Encrypt([]byte{byte(i)})
		require.NoError(t, err)
		cts[i] = ct
	}

	_, err := receiver.Decrypt(5, cts[5])
	require.NoError(t, err)
	_, err = receiver.Decrypt(2, cts[2])
	require.NoError(t, err)
	for _, i := range []int{0, 1, 3, 4} {
		pt, err := receiver.Decrypt(uint32(i), cts[i])
		require.NoError(t, err)
		require.Equal(t, []byte{byte(i)}, pt)
	}

	require.Equal(t, uint32(6), receiver.Iteration())
	require.Equal(t, 0, receiver.SkippedCount())
}

func TestSnapshotRoundTrip(t *testing.T) {
	sender, _ := matchedPair(t, 8)

	_, _, err := sender.Encrypt([]byte("a"))
	require.NoError(t, err)
	_, ct, err := sender.Encrypt([]byte("b"))
	require.NoError(t, err)
	_ = ct

	snap := sender.Snapshot()
	require.NotEmpty(t, snap.ChainKey)

	var codec aead.Default
	restored, err := FromSnapshot(snap, codec)
	require.NoError(t, err)
	require.Equal(t, sender.ChainKey(), restored.ChainKey())
	require.Equal(t, sender.Iteration(), restored.Iteration())
}

func TestSnapshotPreservesSkippedKeys(t *testing.T) {
	sender, receiver := matchedPair(t, 9)

	for i := 0; i < 5; i++ {
		_, ct, err := sender.Encrypt([]byte{byte(i)})
		require.NoError(t, err)
		if i == 4 {
			_, err := receiver.Decrypt(4, ct)
			require.NoError(t, err)
		}
	}
	require.Equal(t, 4, receiver.SkippedCount())

	snap := receiver.Snapshot()
	require.Len(t, snap.SkippedMessageKeys, 4)

	var codec aead.Default
	restored, err := FromSnapshot(snap, codec)
	require.NoError(t, err)
	require.Equal(t, 4, restored.SkippedCount())
}

func TestDistributionIdempotence(t *testing.T) {
	// Installing the same distribution snapshot twice leaves state equal to
	// a single install.
	chainKey := freshChainKey(11)
	var codec aead.Default

	a := New(42, chainKey, 3, codec)
	b := New(42, chainKey, 3, codec)
	b = New(b.KeyID(), b.ChainKey(), b.Iteration(), codec) // reinstall

	require.Equal(t, a.Snapshot(), b.Snapshot())
}

func TestConstructionValidation(t *testing.T) {
	snap := Snapshot{KeyID: 1, ChainKey: "not-hex", Iteration: 0}
	var codec aead.Default
	_, err := FromSnapshot(snap, codec)
	require.ErrorIs(t, err, ErrInvalidKeyMaterial)

	snap2 := Snapshot{KeyID: 1, ChainKey: "aa", Iteration: 0} // too short
	_, err = FromSnapshot(snap2, codec)
	require.ErrorIs(t, err, ErrInvalidKeyMaterial)
}
