package onetomany

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"

	"github.com/ndr-chat/groupcrypto/internal/senderkey"
)

// headerSize is the 4-byte big-endian keyId plus 4-byte big-endian
// messageNumber prefix; the minimum decoded payload is headerSize+1 since
// ciphertext must be non-empty.
const headerSize = 8

var (
	// ErrPayloadTooShort is returned when the decoded payload is under
	// headerSize+1 bytes.
	ErrPayloadTooShort = errors.New("onetomany: outer payload too short")
	// ErrPayloadMalformed is returned when the content is not valid base64.
	ErrPayloadMalformed = errors.New("onetomany: outer payload not valid base64")
)

// OneToManyMessage is a parsed outer payload.
type OneToManyMessage struct {
	KeyID         uint32
	MessageNumber uint32
	Ciphertext    []byte
}

// BuildOuterContent frames (keyId, messageNumber, ciphertext) into the
// outer event's content string: BE_u32(keyId) ‖ BE_u32(messageNumber) ‖
// ciphertext, base64-encoded.
func BuildOuterContent(keyID, messageNumber uint32, ciphertext []byte) string {
	raw := make([]byte, headerSize+len(ciphertext))
	binary.BigEndian.PutUint32(raw[0:4], keyID)
	binary.BigEndian.PutUint32(raw[4:8], messageNumber)
	copy(raw[headerSize:], ciphertext)
	return base64.StdEncoding.EncodeToString(raw)
}

// ParseOuterContent reverses BuildOuterContent.
func ParseOuterContent(content string) (OneToManyMessage, error) {
	raw, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return OneToManyMessage{}, ErrPayloadMalformed
	}
	if len(raw) < headerSize+1 {
		return OneToManyMessage{}, ErrPayloadTooShort
	}
	return OneToManyMessage{
		KeyID:         binary.BigEndian.Uint32(raw[0:4]),
		MessageNumber: binary.BigEndian.Uint32(raw[4:8]),
		Ciphertext:    append([]byte(nil), raw[headerSize:]...),
	}, nil
}

// EncryptToOuterEvent encrypts innerPlaintext under state, frames the
// result, and builds+signs the outer event. The outer event's author is
// whoever holds signer's key — by convention a per-group sender-event
// keypair distinct from the member's identity key, not the sending device.
// outerKind of 0 selects DefaultOuterKind.
func EncryptToOuterEvent(signer Signer, state *senderkey.State, innerPlaintext []byte, createdAtSeconds int64, outerKind int) (Event, error) {
	if outerKind == 0 {
		outerKind = DefaultOuterKind
	}

	messageNumber, ciphertext, err := state.Encrypt(innerPlaintext)
	if err != nil {
		return Event{}, err
	}

	pub := signer.PublicKey()
	outer := Event{
		PubKey:    hex.EncodeToString(pub[:]),
		CreatedAt: createdAtSeconds,
		Kind:      outerKind,
		Tags:      Tags{},
		Content:   BuildOuterContent(state.KeyID(), messageNumber, ciphertext),
	}

	hash := CanonicalHash(outer)
	outer.ID = hex.EncodeToString(hash[:])

	sig, err := signer.Sign(hash)
	if err != nil {
		return Event{}, err
	}
	outer.Sig = hex.EncodeToString(sig)

	return outer, nil
}
