package group

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ndr-chat/groupcrypto/internal/onetomany"
	"github.com/ndr-chat/groupcrypto/internal/senderkey"
)

func nowMillis() int64 { return time.Now().UnixMilli() }

func ownKey(groupID string) string { return "group/" + groupID + "/own" }

func peerKeyPrefix(groupID string) string { return "group/" + groupID + "/peer/" }

func peerKey(groupID, senderEventPubkeyHex string) string {
	return peerKeyPrefix(groupID) + senderEventPubkeyHex
}

func metaKey(groupID string) string { return "group/" + groupID + "/meta" }

// ownSnapshot is the persisted form of a group's own sender state, plus
// the sender-event signer it was issued under and the distribution targets
// still owed a copy of it.
type ownSnapshot struct {
	State           senderkey.Snapshot `json:"state"`
	SenderEventPub  string             `json:"senderEventPubkey"`
	SenderEventSeed string             `json:"senderEventSeed,omitempty"`
	PendingTargets  []string           `json:"pendingTargets"`
}

// metaSnapshot is the persisted form of a group's advisory metadata: the
// membership/admin lists, acceptance flag, and creation time spec.md §4.4
// requires alongside own/peer sender state.
type metaSnapshot struct {
	Membership []string `json:"membership"`
	Admins     []string `json:"admins"`
	Accepted   bool     `json:"accepted"`
	CreatedAt  int64    `json:"createdAt"`
}

func (g *Group) persistMeta(ctx context.Context) error {
	if g.storage == nil {
		return nil
	}
	snap := metaSnapshot{
		Membership: g.membership,
		Admins:     g.admins,
		Accepted:   g.accepted,
		CreatedAt:  g.createdAt,
	}
	if err := g.storage.Put(ctx, metaKey(g.id), snap); err != nil {
		return fmt.Errorf("group: persist metadata: %w", err)
	}
	return nil
}

func (g *Group) restoreMeta(ctx context.Context) error {
	if g.storage == nil {
		return nil
	}
	var snap metaSnapshot
	found, err := g.storage.Get(ctx, metaKey(g.id), &snap)
	if err != nil {
		return fmt.Errorf("group: restore metadata: %w", err)
	}
	if !found {
		return nil
	}
	g.membership = snap.Membership
	g.admins = snap.Admins
	g.accepted = snap.Accepted
	g.createdAt = snap.CreatedAt
	return nil
}

func (g *Group) persistOwn(ctx context.Context) error {
	if g.storage == nil || g.ownSenderState == nil {
		return nil
	}
	targets := make([]string, 0, len(g.pendingTargets))
	for t := range g.pendingTargets {
		targets = append(targets, t)
	}
	pub := g.ownSenderEventSigner.PublicKey()
	snap := ownSnapshot{
		State:          g.ownSenderState.Snapshot(),
		SenderEventPub: fmt.Sprintf("%x", pub[:]),
		PendingTargets: targets,
	}
	if seedSigner, ok := g.ownSenderEventSigner.(onetomany.SeedSigner); ok {
		seed := seedSigner.Seed()
		snap.SenderEventSeed = hex.EncodeToString(seed[:])
	}
	if err := g.storage.Put(ctx, ownKey(g.id), snap); err != nil {
		return fmt.Errorf("group: persist own sender state: %w", err)
	}
	return nil
}

// restoreOwn reconstructs ownSenderState and its signer from storage. A
// persisted snapshot whose signer seed can't be turned back into a usable
// Signer (no seed was persisted, or cfg carries no RestoreSigner) is
// treated as absent — the next sendEvent/rotateSenderKey call transparently
// starts a fresh chain, same as a Group that was never persisted at all.
func (g *Group) restoreOwn(ctx context.Context) error {
	if g.storage == nil {
		return nil
	}
	var snap ownSnapshot
	found, err := g.storage.Get(ctx, ownKey(g.id), &snap)
	if err != nil {
		return fmt.Errorf("group: restore own sender state: %w", err)
	}
	if !found || snap.SenderEventSeed == "" || g.restoreSigner == nil {
		return nil
	}

	seedBytes, err := hex.DecodeString(snap.SenderEventSeed)
	if err != nil || len(seedBytes) != 32 {
		return nil
	}
	var seed [32]byte
	copy(seed[:], seedBytes)
	signer, err := g.restoreSigner(seed)
	if err != nil {
		return nil
	}

	state, err := senderkey.FromSnapshot(snap.State, g.aead)
	if err != nil {
		return fmt.Errorf("group: restore own sender state: %w", err)
	}

	g.ownSenderState = state
	g.ownSenderEventSigner = signer
	g.pendingTargets = make(map[string]struct{}, len(snap.PendingTargets))
	for _, target := range snap.PendingTargets {
		g.pendingTargets[target] = struct{}{}
	}
	return nil
}

func (g *Group) persistPeer(ctx context.Context, senderEventPubkeyHex string) error {
	if g.storage == nil {
		return nil
	}
	state, ok := g.peerStates[senderEventPubkeyHex]
	if !ok {
		return nil
	}
	if err := g.storage.Put(ctx, peerKey(g.id, senderEventPubkeyHex), state.Snapshot()); err != nil {
		return fmt.Errorf("group: persist peer sender state: %w", err)
	}
	return nil
}

// restorePeers reconstructs every peer receive-chain persisted under this
// group's peer-key prefix.
func (g *Group) restorePeers(ctx context.Context) error {
	if g.storage == nil {
		return nil
	}
	keys, err := g.storage.List(ctx, peerKeyPrefix(g.id))
	if err != nil {
		return fmt.Errorf("group: list peer sender states: %w", err)
	}
	prefix := peerKeyPrefix(g.id)
	for _, key := range keys {
		senderEventPubkeyHex := strings.TrimPrefix(key, prefix)
		var snap senderkey.Snapshot
		found, err := g.storage.Get(ctx, key, &snap)
		if err != nil {
			return fmt.Errorf("group: restore peer sender state %s: %w", senderEventPubkeyHex, err)
		}
		if !found {
			continue
		}
		state, err := senderkey.FromSnapshot(snap, g.aead)
		if err != nil {
			return fmt.Errorf("group: restore peer sender state %s: %w", senderEventPubkeyHex, err)
		}
		g.peerStates[senderEventPubkeyHex] = state
	}
	return nil
}
