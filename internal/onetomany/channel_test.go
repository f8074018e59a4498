package onetomany

import (
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ndr-chat/groupcrypto/internal/aead"
	"github.com/ndr-chat/groupcrypto/internal/senderkey"
)

func TestBuildParseOuterContent_RoundTrip(t *testing.T) {
	for _, tc := range []struct {
		keyID, messageNumber uint32
		ciphertext           []byte
	}{
		{1, 0, []byte("a")},
		{0xFFFFFFFF, 0xFFFFFFFF, []byte("hello ciphertext")},
		{42, 7, make([]byte, 500)},
	} {
		content := BuildOuterContent(tc.keyID, tc.messageNumber, tc.ciphertext)
		msg, err := ParseOuterContent(content)
		require.NoError(t, err)
		require.Equal(t, tc.keyID, msg.KeyID)
		require.Equal(t, tc.messageNumber, msg.MessageNumber)
		require.Equal(t, tc.ciphertext, msg.Ciphertext)
	}
}

func TestParseOuterContent_TooShort(t *testing.T) {
	for _, n := range []int{0, 1, 4, 7, 8} {
		content := base64.StdEncoding.EncodeToString(make([]byte, n))
		_, err := ParseOuterContent(content)
		require.ErrorIs(t, err, ErrPayloadTooShort)
	}
}

func TestParseOuterContent_Malformed(t *testing.T) {
	_, err := ParseOuterContent("not valid base64 !!!")
	require.ErrorIs(t, err, ErrPayloadMalformed)
}

func TestParseOuterContent_MinimumValidSize(t *testing.T) {
	content := base64.StdEncoding.EncodeToString(make([]byte, headerSize+1))
	_, err := ParseOuterContent(content)
	require.NoError(t, err)
}

func TestCanonicalHash_Deterministic(t *testing.T) {
	e := Event{PubKey: "abc", CreatedAt: 1000, Kind: 1060, Content: "x"}
	h1 := CanonicalHash(e)
	h2 := CanonicalHash(e)
	require.Equal(t, h1, h2)

	e.Content = "y"
	h3 := CanonicalHash(e)
	require.NotEqual(t, h1, h3)
}

func TestCanonicalHash_NilTagsMatchesEmptyTags(t *testing.T) {
	a := Event{PubKey: "abc", CreatedAt: 1, Kind: 1, Content: "c", Tags: nil}
	b := Event{PubKey: "abc", CreatedAt: 1, Kind: 1, Content: "c", Tags: Tags{}}
	require.Equal(t, CanonicalHash(a), CanonicalHash(b))
}

func TestEncryptToOuterEvent(t *testing.T) {
	signer, err := aead.NewDefaultSigner()
	require.NoError(t, err)

	var chainKey [32]byte
	var codec aead.Default
	state := senderkey.New(99, chainKey, 0, codec)

	outer, err := EncryptToOuterEvent(signer, state, []byte(`{"kind":14,"content":"hi"}`), 1700000000, 0)
	require.NoError(t, err)

	require.Equal(t, DefaultOuterKind, outer.Kind)
	require.NotEmpty(t, outer.ID)
	require.NotEmpty(t, outer.Sig)
	require.Empty(t, outer.Tags)

	hash := CanonicalHash(Event{
		PubKey:    outer.PubKey,
		CreatedAt: outer.CreatedAt,
		Kind:      outer.Kind,
		Tags:      outer.Tags,
		Content:   outer.Content,
	})

	sigBytes, err := hex.DecodeString(outer.Sig)
	require.NoError(t, err)
	require.True(t, aead.Verify(signer.PublicKey(), hash, sigBytes))

	msg, err := ParseOuterContent(outer.Content)
	require.NoError(t, err)
	require.Equal(t, uint32(99), msg.KeyID)
	require.Equal(t, uint32(0), msg.MessageNumber)

	// The sender's own state keeps no key for a message it already sent, so
	// decrypt with a receiver state seeded from the same chain key.
	receiver := senderkey.New(99, chainKey, 0, codec)
	plaintext, err := receiver.Decrypt(msg.MessageNumber, msg.Ciphertext)
	require.NoError(t, err)
	require.JSONEq(t, `{"kind":14,"content":"hi"}`, string(plaintext))
}

func TestEncryptToOuterEvent_CustomKind(t *testing.T) {
	signer, err := aead.NewDefaultSigner()
	require.NoError(t, err)

	var chainKey [32]byte
	var codec aead.Default
	state := senderkey.New(1, chainKey, 0, codec)

	outer, err := EncryptToOuterEvent(signer, state, []byte("x"), 0, 4242)
	require.NoError(t, err)
	require.Equal(t, 4242, outer.Kind)
}
