// Package senderkey implements the symmetric, forward-secure sender-key
// chain: one publisher encrypts a message once, any holder of the chain
// can decrypt it, and delivery may be lossy or out of order.
package senderkey

import (
	"encoding/hex"
	"fmt"

	"github.com/ndr-chat/groupcrypto/internal/kdf"
)

// MaxSkip is the maximum forward skip a single Decrypt call may derive.
const MaxSkip = 10_000

// MaxStoredSkipped is the ceiling on retained skip-cache entries per chain;
// the oldest (lowest-numbered) entries are evicted once exceeded.
const MaxStoredSkipped = 2_000

// AEAD is the authenticated-encryption primitive a State encrypts message
// keys through. See internal/aead for the default NIP-44-v2-shaped
// implementation.
type AEAD interface {
	Encrypt(plaintext, key []byte) ([]byte, error)
	Decrypt(ciphertext, key []byte) ([]byte, error)
}

// State is one forward-secure symmetric chain: keyId is immutable, chainKey
// advances on every encrypt or advancing decrypt, iteration never
// decreases, and skippedMessageKeys caches derived-but-unconsumed message
// keys for numbers strictly below iteration.
type State struct {
	keyID     uint32
	chainKey  [32]byte
	iteration uint32
	skipped   map[uint32][32]byte
	aead      AEAD
}

// New constructs a State. It performs no validation and cannot fail: the
// uint32 and [32]byte parameter types already bound keyId and iteration and
// fix chainKey's length. Malformed persisted key material is rejected by
// FromSnapshot instead.
func New(keyID uint32, chainKey [32]byte, iteration uint32, aead AEAD) *State {
	return &State{
		keyID:     keyID,
		chainKey:  chainKey,
		iteration: iteration,
		skipped:   make(map[uint32][32]byte),
		aead:      aead,
	}
}

// KeyID returns the chain's immutable identifier.
func (s *State) KeyID() uint32 { return s.keyID }

// Iteration returns the next message number a sender will produce, or the
// first unseen number for a receiver.
func (s *State) Iteration() uint32 { return s.iteration }

// ChainKey returns the current chain key.
func (s *State) ChainKey() [32]byte { return s.chainKey }

// SkippedCount returns the number of cached skipped message keys.
func (s *State) SkippedCount() int { return len(s.skipped) }

// Encrypt derives the next message key, advances the chain, and encrypts
// plaintext under it.
func (s *State) Encrypt(plaintext []byte) (messageNumber uint32, ciphertext []byte, err error) {
	messageNumber = s.iteration

	nextChainKey, messageKey, err := s.advance()
	if err != nil {
		return 0, nil, err
	}

	ciphertext, err = s.aead.Encrypt(plaintext, messageKey)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrAeadFailure, err)
	}

	s.chainKey = nextChainKey
	s.iteration = messageNumber + 1
	return messageNumber, ciphertext, nil
}

// Decrypt recovers the plaintext for msgNum. If msgNum is below the current
// iteration it is served from the skip cache (and the cache entry is
// consumed); otherwise the chain is advanced forward to and past msgNum,
// caching every intermediate message key.
//
// A forward decrypt that fails AEAD verification leaves the chain already
// advanced: per spec, the source chooses simplicity over rollback, so a
// corrupted ciphertext wastes one key slot rather than being retried.
func (s *State) Decrypt(msgNum uint32, ciphertext []byte) ([]byte, error) {
	if msgNum < s.iteration {
		key, ok := s.skipped[msgNum]
		if !ok {
			return nil, ErrMissingSkippedKey
		}
		delete(s.skipped, msgNum)
		plaintext, err := s.aead.Decrypt(ciphertext, key[:])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAeadFailure, err)
		}
		return plaintext, nil
	}

	skipCount := msgNum - s.iteration
	if skipCount > MaxSkip {
		return nil, ErrTooManySkippedMessages
	}

	for s.iteration < msgNum {
		nextChainKey, messageKey, err := s.advance()
		if err != nil {
			return nil, err
		}
		s.storeSkipped(s.iteration, messageKey)
		s.chainKey = nextChainKey
		s.iteration++
	}

	nextChainKey, messageKey, err := s.advance()
	if err != nil {
		return nil, err
	}
	s.chainKey = nextChainKey
	s.iteration = msgNum + 1

	s.pruneSkipped()

	plaintext, err := s.aead.Decrypt(ciphertext, messageKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAeadFailure, err)
	}
	return plaintext, nil
}

// advance derives (nextChainKey, messageKey) from the current chain key
// without mutating state; callers apply the returned chain key themselves
// so intermediate skip derivations and the final derivation share one code
// path.
func (s *State) advance() (nextChainKey [32]byte, messageKey []byte, err error) {
	outputs, err := kdf.Derive(s.chainKey[:], []byte(kdf.SenderKeyChainSalt), 2)
	if err != nil {
		return [32]byte{}, nil, err
	}
	copy(nextChainKey[:], outputs[0])
	return nextChainKey, outputs[1], nil
}

func (s *State) storeSkipped(msgNum uint32, messageKey []byte) {
	var key [32]byte
	copy(key[:], messageKey)
	s.skipped[msgNum] = key
}

// pruneSkipped evicts the lowest-numbered entries until the cache is at or
// under MaxStoredSkipped.
func (s *State) pruneSkipped() {
	for len(s.skipped) > MaxStoredSkipped {
		var lowest uint32
		found := false
		for n := range s.skipped {
			if !found || n < lowest {
				lowest = n
				found = true
			}
		}
		if !found {
			return
		}
		delete(s.skipped, lowest)
	}
}

// Snapshot is the wire/storage form: hex for the 32-byte chain key, decimal
// strings for skipped message numbers (to avoid numeric-key hazards in
// JSON), hex for cached message keys. An absent or empty skipped map is
// elided.
type Snapshot struct {
	KeyID              uint32            `json:"keyId"`
	ChainKey           string            `json:"chainKey"`
	Iteration          uint32            `json:"iteration"`
	SkippedMessageKeys map[string]string `json:"skippedMessageKeys,omitempty"`
}

// Snapshot captures the current state for persistence.
func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		KeyID:     s.keyID,
		ChainKey:  hex.EncodeToString(s.chainKey[:]),
		Iteration: s.iteration,
	}
	if len(s.skipped) > 0 {
		snap.SkippedMessageKeys = make(map[string]string, len(s.skipped))
		for n, key := range s.skipped {
			snap.SkippedMessageKeys[fmt.Sprintf("%d", n)] = hex.EncodeToString(key[:])
		}
	}
	return snap
}

// FromSnapshot reconstructs a State from a Snapshot, validating key
// material. aead is supplied by the caller since it is never persisted.
func FromSnapshot(snap Snapshot, aead AEAD) (*State, error) {
	chainKeyBytes, err := hex.DecodeString(snap.ChainKey)
	if err != nil || len(chainKeyBytes) != 32 {
		return nil, ErrInvalidKeyMaterial
	}

	var chainKey [32]byte
	copy(chainKey[:], chainKeyBytes)

	st := New(snap.KeyID, chainKey, snap.Iteration, aead)

	for numStr, keyHex := range snap.SkippedMessageKeys {
		var n uint32
		if _, err := fmt.Sscanf(numStr, "%d", &n); err != nil {
			return nil, ErrInvalidKeyMaterial
		}
		keyBytes, err := hex.DecodeString(keyHex)
		if err != nil || len(keyBytes) != 32 {
			return nil, ErrInvalidKeyMaterial
		}
		st.storeSkipped(n, keyBytes)
	}

	return st, nil
}
