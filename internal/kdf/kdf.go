// Package kdf implements the salted expand-to-N key derivation primitive
// the sender-key chain is built on.
package kdf

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// OutputSize is the length in bytes of every derived output.
const OutputSize = 32

// SenderKeyChainSalt is the fixed salt used when deriving sender-key chain
// and message keys. It is ASCII, not secret, and never changes across
// builds.
const SenderKeyChainSalt = "ndr-sender-key-v1"

// Derive produces n independent 32-byte outputs deterministically from
// input and salt via HKDF-SHA-256. Equal (input, salt) always yields
// byte-identical outputs; changing either changes every output.
func Derive(input, salt []byte, n int) ([][]byte, error) {
	r := hkdf.New(sha256.New, input, salt, nil)

	outputs := make([][]byte, n)
	for i := range outputs {
		buf := make([]byte, OutputSize)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		outputs[i] = buf
	}
	return outputs, nil
}
