// Package aead provides the two opaque cryptographic primitives the core
// requires from its host: a public-ciphertext-framing AEAD for message
// keys, and a Schnorr-over-secp256k1 signer for outer events.
//
// The interfaces here are what internal/onetomany and internal/group
// consume; this package additionally ships default implementations so the
// module works without a host-supplied crypto provider.
package aead

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
)

// AEAD is any authenticated encryption scheme with public-ciphertext
// framing. The Default implementation below follows NIP-44 v2's structure
// but its wire format is this module's own (24-byte XChaCha20 nonce, keys
// derived with the nonce as HKDF salt), so it is not byte-compatible with
// other NIP-44 v2 implementations; a host may substitute any other AEAD.
type AEAD interface {
	Encrypt(plaintext, key []byte) (ciphertext []byte, err error)
	Decrypt(ciphertext, key []byte) (plaintext []byte, err error)
}

var (
	// ErrInvalidKey is returned when a 32-byte key is required and not given.
	ErrInvalidKey = errors.New("aead: key must be exactly 32 bytes")
	// ErrCiphertextTooShort is returned when a ciphertext is too short to
	// contain its version byte, nonce, and MAC.
	ErrCiphertextTooShort = errors.New("aead: ciphertext too short")
	// ErrMACMismatch is returned when authentication fails.
	ErrMACMismatch = errors.New("aead: mac mismatch")
)

const (
	version    byte = 2
	nonceSize       = 24 // chacha20 (not -poly1305) uses a 24-byte (xchacha) nonce here
	macSize         = 32
	lenPrefix       = 2
)

// chachaKeySize / hmacKeySize follow NIP-44 v2's two-key derivation: the
// conversation key is expanded into a distinct ChaCha20 key and an
// HMAC-SHA256 key, so a forged MAC can never be replayed as a decryption
// oracle against the cipher key.
const (
	chachaKeySize = 32
	hmacKeySize   = 32
)

// Default implements the NIP-44-v2-shaped construction named in spec §4.1:
// HKDF-expand the 32-byte key into a ChaCha20 key and an HMAC-SHA256 MAC
// key, length-prefix-pad the plaintext into one of NIP-44's fixed buckets,
// encrypt, then MAC the nonce-prefixed ciphertext.
type Default struct{}

// Encrypt implements AEAD.
func (Default) Encrypt(plaintext, key []byte) ([]byte, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	chachaKey, hmacKey, err := deriveKeys(key, nonce)
	if err != nil {
		return nil, err
	}

	padded := pad(plaintext)

	cipher, err := chacha20.NewUnauthenticatedCipher(chachaKey, nonce[:chacha20.NonceSizeX])
	if err != nil {
		return nil, err
	}
	sealed := make([]byte, len(padded))
	cipher.XORKeyStream(sealed, padded)

	mac := computeMAC(hmacKey, nonce, sealed)

	out := make([]byte, 0, 1+nonceSize+len(sealed)+macSize)
	out = append(out, version)
	out = append(out, nonce...)
	out = append(out, sealed...)
	out = append(out, mac...)
	return out, nil
}

// Decrypt implements AEAD.
func (Default) Decrypt(ciphertext, key []byte) ([]byte, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}
	if len(ciphertext) < 1+nonceSize+lenPrefix+macSize {
		return nil, ErrCiphertextTooShort
	}
	if ciphertext[0] != version {
		return nil, errors.New("aead: unsupported version")
	}

	nonce := ciphertext[1 : 1+nonceSize]
	sealed := ciphertext[1+nonceSize : len(ciphertext)-macSize]
	wantMAC := ciphertext[len(ciphertext)-macSize:]

	chachaKey, hmacKey, err := deriveKeys(key, nonce)
	if err != nil {
		return nil, err
	}

	gotMAC := computeMAC(hmacKey, nonce, sealed)
	if !hmac.Equal(gotMAC, wantMAC) {
		return nil, ErrMACMismatch
	}

	cipher, err := chacha20.NewUnauthenticatedCipher(chachaKey, nonce[:chacha20.NonceSizeX])
	if err != nil {
		return nil, err
	}
	padded := make([]byte, len(sealed))
	cipher.XORKeyStream(padded, sealed)

	return unpad(padded)
}

func deriveKeys(key, nonce []byte) (chachaKey, hmacKey []byte, err error) {
	r := hkdf.New(sha256.New, key, nonce, []byte("nip44-v2"))
	chachaKey = make([]byte, chachaKeySize)
	if _, err = io.ReadFull(r, chachaKey); err != nil {
		return nil, nil, err
	}
	hmacKey = make([]byte, hmacKeySize)
	if _, err = io.ReadFull(r, hmacKey); err != nil {
		return nil, nil, err
	}
	return chachaKey, hmacKey, nil
}

func computeMAC(hmacKey, nonce, sealed []byte) []byte {
	h := hmac.New(sha256.New, hmacKey)
	h.Write(nonce)
	h.Write(sealed)
	return h.Sum(nil)
}

// pad length-prefixes the plaintext and zero-pads it to its bucket size
// (see calcPaddedLen: 32 bytes minimum, above that the next multiple of one
// eighth of the next power of two), following NIP-44 v2's padding scheme so
// ciphertext length leaks only a coarse size class.
func pad(plaintext []byte) []byte {
	unpaddedLen := len(plaintext)
	targetLen := calcPaddedLen(unpaddedLen)

	out := make([]byte, lenPrefix+targetLen)
	binary.BigEndian.PutUint16(out[:lenPrefix], uint16(unpaddedLen))
	copy(out[lenPrefix:], plaintext)
	return out
}

func unpad(padded []byte) ([]byte, error) {
	if len(padded) < lenPrefix {
		return nil, errors.New("aead: padded plaintext too short")
	}
	unpaddedLen := int(binary.BigEndian.Uint16(padded[:lenPrefix]))
	rest := padded[lenPrefix:]
	if unpaddedLen > len(rest) {
		return nil, errors.New("aead: invalid padding length")
	}
	if len(rest) != calcPaddedLen(unpaddedLen) {
		return nil, errors.New("aead: inconsistent padding")
	}
	return rest[:unpaddedLen], nil
}

func calcPaddedLen(unpaddedLen int) int {
	if unpaddedLen <= 32 {
		return 32
	}
	nextPower := 1
	for nextPower < unpaddedLen {
		nextPower <<= 1
	}
	chunk := nextPower / 8
	if chunk < 32 {
		chunk = 32
	}
	return ((unpaddedLen-1)/chunk + 1) * chunk
}
