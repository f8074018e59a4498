// Package group implements the group state machine: one party's own
// sender chain, the receive chains for every remote sender in the group,
// sender-key distribution policy, and the manager that multiplexes many
// groups over one outer-event subscription.
package group

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ndr-chat/groupcrypto/internal/onetomany"
	"github.com/ndr-chat/groupcrypto/internal/senderkey"
	"github.com/ndr-chat/groupcrypto/internal/storage"
)

// SignerFactory produces a fresh sender-event signing keypair. A Group
// calls it once per rotation (including the implicit first rotation that
// creates ownSenderState), since a sender-event pubkey is scoped to the
// chain it broadcasts under — see SenderKeyDistribution.SenderEventPubkey.
type SignerFactory func() (onetomany.Signer, error)

// SignerFromSeed reconstructs a previously issued sender-event signer from
// its persisted seed, the restore-side counterpart to SignerFactory used by
// LoadGroup. A Config that never restores a Group (fresh-start callers) can
// leave this nil.
type SignerFromSeed func(seed [32]byte) (onetomany.Signer, error)

// SendPairwiseFunc delivers a rumor to a single group member over a 1:1
// channel; used only for sender-key distributions.
type SendPairwiseFunc func(ctx context.Context, targetOwnerPubkey string, rumor onetomany.Event) error

// PublishOuterFunc broadcasts a signed outer event and returns the
// transport's (possibly relay-assigned) canonical copy.
type PublishOuterFunc func(ctx context.Context, outer onetomany.Event) (onetomany.Event, error)

// SendRequest is the inner rumor a caller wants broadcast to the group.
type SendRequest struct {
	Kind    int
	Content string
	Tags    onetomany.Tags
}

// SendCallbacks are the per-call closures sendEvent suspends on; per the
// concurrency model these are never stored on the Group past one call.
type SendCallbacks struct {
	SendPairwise SendPairwiseFunc
	PublishOuter PublishOuterFunc
	NowMs        int64 // 0 selects the wall clock
}

// SentEvent is the result of a successful sendEvent.
type SentEvent struct {
	Outer onetomany.Event
	Inner onetomany.Event
}

// DecryptedEvent is a successfully recovered group event, whether it
// arrived as a clear-text local control rumor or a decrypted outer.
type DecryptedEvent struct {
	Inner              onetomany.Event
	Outer              *onetomany.Event
	SenderDevicePubkey string
}

// Config configures a Group's cryptographic and persistence dependencies.
type Config struct {
	Storage       storage.Adapter
	AEAD          senderkey.AEAD
	SignerFactory SignerFactory
	// RestoreSigner reconstructs a persisted sender-event signer from its
	// seed; only needed by LoadGroup, and only when a prior run's signer
	// persisted a seed (see onetomany.SeedSigner).
	RestoreSigner SignerFromSeed
	// OuterKind overrides onetomany.DefaultOuterKind when non-zero.
	OuterKind int
}

// Group owns this party's sender chain for one group, the receive chains
// for every remote sender, and the distribution policy between them. A
// Group provides no internal synchronization — the caller serializes
// sendEvent/handle* calls per the concurrency model.
type Group struct {
	id               string
	selfOwnerPubkey  string
	selfDevicePubkey string
	membership       []string
	admins           []string
	accepted         bool
	createdAt        int64

	storage       storage.Adapter
	aead          senderkey.AEAD
	signerFactory SignerFactory
	restoreSigner SignerFromSeed
	outerKind     int

	ownSenderState       *senderkey.State
	ownSenderEventSigner onetomany.Signer
	peerStates           map[string]*senderkey.State
	pendingTargets       map[string]struct{}
}

// New constructs a Group. membership and admins are advisory (not
// cryptographically authenticated); selfOwnerPubkey is excluded from
// pendingDistributionTargets, and selfDevicePubkey authors this party's
// inner rumors.
func New(id, selfOwnerPubkey, selfDevicePubkey string, membership, admins []string, accepted bool, createdAt int64, cfg Config) *Group {
	outerKind := cfg.OuterKind
	if outerKind == 0 {
		outerKind = onetomany.DefaultOuterKind
	}
	return &Group{
		id:               id,
		selfOwnerPubkey:  selfOwnerPubkey,
		selfDevicePubkey: selfDevicePubkey,
		membership:       membership,
		admins:           admins,
		accepted:         accepted,
		createdAt:        createdAt,
		storage:          cfg.Storage,
		aead:             cfg.AEAD,
		signerFactory:    cfg.SignerFactory,
		restoreSigner:    cfg.RestoreSigner,
		outerKind:        outerKind,
		peerStates:       make(map[string]*senderkey.State),
		pendingTargets:   make(map[string]struct{}),
	}
}

// LoadGroup reconstructs a previously persisted Group: metadata, own sender
// state (and its sender-event signer, via cfg.RestoreSigner), and every
// peer state, all read back from cfg.Storage under id's key prefix. A group
// with no persisted state at all (first run) comes back identical to
// New(id, selfOwnerPubkey, selfDevicePubkey, membership, admins, accepted,
// createdAt, cfg) — the membership/admins/accepted/createdAt arguments seed
// a Group that has never been persisted, and are overridden by whatever
// restoreMeta finds in storage.
func LoadGroup(ctx context.Context, id, selfOwnerPubkey, selfDevicePubkey string, membership, admins []string, accepted bool, createdAt int64, cfg Config) (*Group, error) {
	g := New(id, selfOwnerPubkey, selfDevicePubkey, membership, admins, accepted, createdAt, cfg)

	if err := g.restoreMeta(ctx); err != nil {
		return nil, err
	}
	if err := g.restoreOwn(ctx); err != nil {
		return nil, err
	}
	if err := g.restorePeers(ctx); err != nil {
		return nil, err
	}
	return g, nil
}

// ID returns the group's identifier.
func (g *Group) ID() string { return g.id }

// ListSenderEventPubkeys returns the current keys of peerStates — used by
// GroupManager to refresh the outer-subscription author set.
func (g *Group) ListSenderEventPubkeys() []string {
	keys := make([]string, 0, len(g.peerStates))
	for k := range g.peerStates {
		keys = append(keys, k)
	}
	return keys
}

// SendEvent builds an inner rumor, dispatches any pending sender-key
// distributions first, encrypts the rumor into an outer event under this
// group's own chain, and publishes it.
func (g *Group) SendEvent(ctx context.Context, req SendRequest, cb SendCallbacks) (SentEvent, error) {
	nowMs := cb.NowMs
	if nowMs == 0 {
		nowMs = nowMillis()
	}

	if g.ownSenderState == nil {
		if err := g.rotate(ctx); err != nil {
			return SentEvent{}, err
		}
	}

	if len(g.pendingTargets) > 0 {
		if err := g.dispatchPendingDistributions(ctx, cb.SendPairwise, nowMs); err != nil {
			return SentEvent{}, err
		}
	}

	tags := make(onetomany.Tags, 0, len(req.Tags)+1)
	tags = append(tags, req.Tags...)
	tags = append(tags, onetomany.Tag{onetomany.GroupTag, g.id})

	inner := onetomany.Event{
		PubKey:    g.selfDevicePubkey,
		CreatedAt: nowMs,
		Kind:      req.Kind,
		Tags:      tags,
		Content:   req.Content,
	}
	hash := onetomany.CanonicalHash(inner)
	inner.ID = hex.EncodeToString(hash[:])

	innerJSON, err := json.Marshal(inner)
	if err != nil {
		return SentEvent{}, fmt.Errorf("group: marshal inner rumor: %w", err)
	}

	outer, err := onetomany.EncryptToOuterEvent(g.ownSenderEventSigner, g.ownSenderState, innerJSON, nowMs/1000, g.outerKind)
	if err != nil {
		return SentEvent{}, fmt.Errorf("group: encrypt outer event: %w", err)
	}

	published, err := cb.PublishOuter(ctx, outer)
	if err != nil {
		return SentEvent{}, &TransportError{Op: "publishOuter", Err: err}
	}

	if err := g.persistOwn(ctx); err != nil {
		return SentEvent{}, err
	}

	return SentEvent{Outer: published, Inner: inner}, nil
}

// RotateSenderKey produces a fresh own sender state (and a fresh
// sender-event signing keypair, since a sender-event pubkey is scoped to
// one chain's lifetime), resets pendingDistributionTargets to every other
// member, and dispatches new distributions. Existing receive chains are
// unaffected.
func (g *Group) RotateSenderKey(ctx context.Context, sendPairwise SendPairwiseFunc, nowMs int64) (SenderKeyDistribution, error) {
	if nowMs == 0 {
		nowMs = nowMillis()
	}
	if err := g.rotate(ctx); err != nil {
		return SenderKeyDistribution{}, err
	}
	dist := g.currentDistribution(nowMs)
	if err := g.dispatchPendingDistributions(ctx, sendPairwise, nowMs); err != nil {
		return SenderKeyDistribution{}, err
	}
	return dist, nil
}

func (g *Group) rotate(ctx context.Context) error {
	keyID, err := randomKeyID()
	if err != nil {
		return fmt.Errorf("group: generate keyId: %w", err)
	}
	chainKey, err := randomChainKey()
	if err != nil {
		return fmt.Errorf("group: generate chainKey: %w", err)
	}
	signer, err := g.signerFactory()
	if err != nil {
		return fmt.Errorf("group: generate sender-event signer: %w", err)
	}

	g.ownSenderState = senderkey.New(keyID, chainKey, 0, g.aead)
	g.ownSenderEventSigner = signer

	g.pendingTargets = make(map[string]struct{}, len(g.membership))
	for _, member := range g.membership {
		if member != g.selfOwnerPubkey {
			g.pendingTargets[member] = struct{}{}
		}
	}

	if err := g.persistMeta(ctx); err != nil {
		return err
	}
	return g.persistOwn(ctx)
}

// dispatchPendingDistributions sends the current chain's distribution to
// every target still in pendingTargets, removing each only on success.
// Targets are visited in sorted order for deterministic dispatch.
func (g *Group) dispatchPendingDistributions(ctx context.Context, sendPairwise SendPairwiseFunc, nowMs int64) error {
	if g.ownSenderState == nil {
		return ErrNoOwnSenderState
	}

	dist := g.currentDistribution(nowMs)
	content, err := json.Marshal(dist)
	if err != nil {
		return fmt.Errorf("group: marshal distribution: %w", err)
	}

	rumor := onetomany.Event{
		PubKey:    g.selfDevicePubkey,
		CreatedAt: nowMs / 1000,
		Kind:      onetomany.GroupSenderKeyDistributionKind,
		Tags:      onetomany.Tags{},
		Content:   string(content),
	}
	hash := onetomany.CanonicalHash(rumor)
	rumor.ID = hex.EncodeToString(hash[:])

	targets := make([]string, 0, len(g.pendingTargets))
	for t := range g.pendingTargets {
		targets = append(targets, t)
	}
	sort.Strings(targets)

	for _, target := range targets {
		if err := sendPairwise(ctx, target, rumor); err != nil {
			continue
		}
		delete(g.pendingTargets, target)
	}

	return g.persistOwn(ctx)
}

// HandleIncomingSessionEvent processes a rumor delivered over a 1:1
// session (not the one-to-many outer path): a sender-key distribution, or
// a clear-text local control rumor scoped to this group via its "l" tag.
func (g *Group) HandleIncomingSessionEvent(ctx context.Context, rumor onetomany.Event) ([]DecryptedEvent, error) {
	if rumor.Kind == onetomany.GroupSenderKeyDistributionKind {
		dist, err := parseDistribution(rumor.Content)
		if err != nil {
			return nil, err
		}
		if dist.GroupID != g.id {
			return nil, fmt.Errorf("group: distribution groupId %q does not match %q", dist.GroupID, g.id)
		}
		chainKeyBytes, err := hex.DecodeString(dist.ChainKey)
		if err != nil || len(chainKeyBytes) != 32 {
			return nil, senderkey.ErrInvalidKeyMaterial
		}
		if len(dist.SenderEventPubkey) != 64 {
			return nil, senderkey.ErrInvalidKeyMaterial
		}
		if _, err := hex.DecodeString(dist.SenderEventPubkey); err != nil {
			return nil, senderkey.ErrInvalidKeyMaterial
		}

		var chainKey [32]byte
		copy(chainKey[:], chainKeyBytes)
		g.peerStates[dist.SenderEventPubkey] = senderkey.New(dist.KeyID, chainKey, dist.Iteration, g.aead)

		if err := g.persistPeer(ctx, dist.SenderEventPubkey); err != nil {
			return nil, err
		}
		return nil, nil
	}

	if groupID, ok := rumor.Tags.Find(onetomany.GroupTag); ok && groupID == g.id {
		return []DecryptedEvent{{Inner: rumor}}, nil
	}

	return nil, nil
}

// HandleOuterEvent decrypts a broadcast outer event under the matching
// peer chain. A nil, nil result means the event is not (yet) resolvable
// here — unknown sender, or an outer that predates the currently
// installed chain — without being an error.
func (g *Group) HandleOuterEvent(ctx context.Context, outer onetomany.Event) (*DecryptedEvent, error) {
	if outer.Kind != g.outerKind {
		return nil, ErrWrongOuterKind
	}

	msg, err := onetomany.ParseOuterContent(outer.Content)
	if err != nil {
		return nil, err
	}

	peerState, ok := g.peerStates[outer.PubKey]
	if !ok {
		return nil, nil
	}
	if peerState.KeyID() != msg.KeyID {
		return nil, nil
	}

	plaintext, err := peerState.Decrypt(msg.MessageNumber, msg.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("group: decrypt outer event: %w", err)
	}

	var inner onetomany.Event
	if err := json.Unmarshal(plaintext, &inner); err != nil {
		return nil, fmt.Errorf("group: unmarshal inner rumor: %w", err)
	}

	if err := g.persistPeer(ctx, outer.PubKey); err != nil {
		return nil, err
	}

	return &DecryptedEvent{Inner: inner, Outer: &outer, SenderDevicePubkey: inner.PubKey}, nil
}

func randomKeyID() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func randomChainKey() ([32]byte, error) {
	var key [32]byte
	if _, err := rand.Read(key[:]); err != nil {
		return key, err
	}
	return key, nil
}
