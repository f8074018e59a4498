// Package onetomany implements the outer payload codec that turns a single
// sender-key ciphertext into something any number of group members can read
// off the same broadcast event, plus the outer event's NIP-01-shaped
// envelope and its wire-stable kind/tag constants.
package onetomany

import (
	"crypto/sha256"
	"encoding/json"
)

// Event-kind constants, collected here so Group, GroupManager, and any
// caller never hardcode a kind literal.
const (
	// DefaultOuterKind is the outer one-to-many message event kind.
	DefaultOuterKind = 1060

	InnerMessageKind  = 14
	InnerReactionKind = 7
	InnerReceiptKind  = 15
	InnerTypingKind   = 25

	// SharedChannelEnvelopeKind is the shared-channel NIP-44 envelope kind,
	// used outside the sender-key path (e.g. pairwise distribution rumors).
	SharedChannelEnvelopeKind = 4

	// GroupSenderKeyDistributionKind carries a SenderKeyDistribution rumor.
	GroupSenderKeyDistributionKind = 443

	InviteKind       = 30078
	ChatSettingsKind = 10448
	TombstoneKind    = 10449
)

// Tag names.
const (
	GroupTag      = "l"
	ExpirationTag = "expiration"
)

// Tag is a single NIP-01-shaped tag: [name, value, ...].
type Tag []string

// Tags is an ordered list of Tag.
type Tags []Tag

// Find returns the first value for a tag name.
func (tags Tags) Find(name string) (string, bool) {
	for _, t := range tags {
		if len(t) >= 2 && t[0] == name {
			return t[1], true
		}
	}
	return "", false
}

// Event is the NIP-01-shaped envelope both inner rumors and outer
// broadcasts share: id/pubkey/created_at/kind/tags/content/sig.
type Event struct {
	ID        string `json:"id"`
	PubKey    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Kind      int    `json:"kind"`
	Tags      Tags   `json:"tags"`
	Content   string `json:"content"`
	Sig       string `json:"sig,omitempty"`
}

// Signer is a Schnorr-over-secp256k1 signer over a canonical 32-byte event
// hash; internal/aead.DefaultSigner satisfies this.
type Signer interface {
	Sign(hash [32]byte) ([]byte, error)
	PublicKey() [32]byte
}

// SeedSigner is a Signer that can export its private key material, for
// callers that persist and later restore a sender-event signing key;
// internal/aead.DefaultSigner satisfies this too.
type SeedSigner interface {
	Signer
	Seed() [32]byte
}

// CanonicalHash computes the NIP-01 canonical event hash: the SHA-256 of
// the JSON array [0, pubkey, created_at, kind, tags, content]. A nil Tags
// serializes as [] rather than null.
func CanonicalHash(e Event) [32]byte {
	tags := e.Tags
	if tags == nil {
		tags = Tags{}
	}
	serialized, err := json.Marshal([]any{0, e.PubKey, e.CreatedAt, e.Kind, tags, e.Content})
	if err != nil {
		// Only reachable if Event carries non-marshalable content, which its
		// field types never do.
		panic(err)
	}
	return sha256.Sum256(serialized)
}
