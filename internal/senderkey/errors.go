package senderkey

import "errors"

// Error taxonomy, per the group sender-key ratchet's error handling design:
// construction/decode failures are fatal to the call and leave state
// untouched; AEAD rejection on a forward decrypt leaves the chain already
// advanced.
var (
	// ErrInvalidKeyMaterial is returned by deserialization (FromSnapshot)
	// when the chain key or a cached message key is not exactly 32 bytes of
	// hex, or a skipped message number is not a decimal number.
	ErrInvalidKeyMaterial = errors.New("senderkey: invalid key material")

	// ErrTooManySkippedMessages is returned by Decrypt when the requested
	// message number is more than MaxSkip ahead of the current iteration.
	// The AEAD is never invoked in this case.
	ErrTooManySkippedMessages = errors.New("senderkey: too many skipped messages")

	// ErrMissingSkippedKey is returned by Decrypt when msgNum is below the
	// current iteration and no cached key exists for it (already consumed,
	// or never seen).
	ErrMissingSkippedKey = errors.New("senderkey: missing skipped message key")

	// ErrAeadFailure wraps an AEAD rejection. For forward decrypts the
	// chain has already advanced by the time this is returned.
	ErrAeadFailure = errors.New("senderkey: aead failure")
)
