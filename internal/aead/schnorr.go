package aead

import (
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
)

// Signer is a Schnorr-over-secp256k1 signer over a canonical 32-byte event
// hash, the signing primitive outer events are authored with.
type Signer interface {
	Sign(hash [32]byte) ([]byte, error)
	PublicKey() [32]byte
}

// VerifyFunc checks a Schnorr signature over an event hash against a
// 32-byte x-only public key.
type VerifyFunc func(pubkey [32]byte, hash [32]byte, sig []byte) bool

// Verify is the default VerifyFunc, grounded on the same secp256k1/schnorr
// package DefaultSigner signs with.
func Verify(pubkey [32]byte, hash [32]byte, sig []byte) bool {
	pk, err := schnorr.ParsePubKey(pubkey[:])
	if err != nil {
		return false
	}
	parsedSig, err := schnorr.ParseSignature(sig)
	if err != nil {
		return false
	}
	return parsedSig.Verify(hash[:], pk)
}

// DefaultSigner is a random per-instance secp256k1 keypair, used as the
// per-group sender-event signing key the spec's Group creates on demand.
type DefaultSigner struct {
	priv *secp256k1.PrivateKey
	pub  [32]byte
}

// NewDefaultSigner generates a fresh random keypair.
func NewDefaultSigner() (*DefaultSigner, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	return signerFromKey(priv), nil
}

// NewDefaultSignerFromSeed constructs a signer from a 32-byte seed, for
// deterministic tests or persisted sender-event keys.
func NewDefaultSignerFromSeed(seed [32]byte) (*DefaultSigner, error) {
	priv := secp256k1.PrivKeyFromBytes(seed[:])
	if priv == nil {
		return nil, errors.New("aead: invalid secp256k1 seed")
	}
	return signerFromKey(priv), nil
}

func signerFromKey(priv *secp256k1.PrivateKey) *DefaultSigner {
	pub := priv.PubKey()
	var xonly [32]byte
	copy(xonly[:], schnorr.SerializePubKey(pub))
	return &DefaultSigner{priv: priv, pub: xonly}
}

// Sign implements Signer.
func (s *DefaultSigner) Sign(hash [32]byte) ([]byte, error) {
	sig, err := schnorr.Sign(s.priv, hash[:])
	if err != nil {
		return nil, err
	}
	return sig.Serialize(), nil
}

// PublicKey implements Signer.
func (s *DefaultSigner) PublicKey() [32]byte {
	return s.pub
}

// Seed returns the 32-byte private scalar backing this signer, for callers
// that persist a sender-event signing key and restore it across a process
// restart via NewDefaultSignerFromSeed.
func (s *DefaultSigner) Seed() [32]byte {
	var seed [32]byte
	copy(seed[:], s.priv.Serialize())
	return seed
}
