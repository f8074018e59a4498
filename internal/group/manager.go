package group

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/ndr-chat/groupcrypto/internal/onetomany"
	"github.com/ndr-chat/groupcrypto/internal/transport"
)

// maxPendingPerSender bounds the FIFO of outer events received before their
// sender-key distribution has arrived; the oldest is evicted once full.
const maxPendingPerSender = 128

// Operation names the GroupManager operation an error reported via OnError
// came from. Failures of calls that also return the error to their caller
// are reported too.
type Operation string

const (
	OpUpsertGroup              Operation = "upsertGroup"
	OpSendEvent                Operation = "sendEvent"
	OpSendMessage              Operation = "sendMessage"
	OpRotateSenderKey          Operation = "rotateSenderKey"
	OpHandleIncomingSessionEvt Operation = "handleIncomingSessionEvent"
	OpHandleOuterEvent         Operation = "handleOuterEvent"
	OpSyncOuterSubscription    Operation = "syncOuterSubscription"
)

// OperationContext accompanies an error reported through OnError.
type OperationContext struct {
	Operation Operation
	GroupID   string
}

// ManagerConfig configures a GroupManager.
type ManagerConfig struct {
	Transport        transport.Adapter
	OuterKind        int
	OnError          func(err error, ctx OperationContext)
	OnDecryptedEvent func(groupID string, ev DecryptedEvent)
}

// Manager multiplexes many Groups over one outer-event subscription,
// keyed by each group's live set of sender-event pubkeys, and buffers
// outer events that arrive before the distribution that would resolve
// their sender.
type Manager struct {
	mu sync.Mutex

	transportAdapter transport.Adapter
	outerKind        int
	onError          func(err error, ctx OperationContext)
	onDecryptedEvent func(groupID string, ev DecryptedEvent)

	groups              map[string]*Group
	senderEventToGroup  map[string]string
	groupToSenderEvents map[string]map[string]struct{}
	pendingBySender     map[string][]onetomany.Event

	unsubscribe transport.Unsubscribe
	authorsKey  string
}

// NewManager constructs a Manager. It does not open the outer subscription
// until at least one sender-event pubkey is bound to a group.
func NewManager(cfg ManagerConfig) *Manager {
	outerKind := cfg.OuterKind
	if outerKind == 0 {
		outerKind = onetomany.DefaultOuterKind
	}
	return &Manager{
		transportAdapter:    cfg.Transport,
		outerKind:           outerKind,
		onError:             cfg.OnError,
		onDecryptedEvent:    cfg.OnDecryptedEvent,
		groups:              make(map[string]*Group),
		senderEventToGroup:  make(map[string]string),
		groupToSenderEvents: make(map[string]map[string]struct{}),
		pendingBySender:     make(map[string][]onetomany.Event),
	}
}

// UpsertGroup registers or replaces the Group for groupID and refreshes the
// outer subscription's author set.
func (m *Manager) UpsertGroup(ctx context.Context, g *Group) error {
	m.mu.Lock()
	m.groups[g.id] = g
	senders := make(map[string]struct{})
	for _, pk := range g.ListSenderEventPubkeys() {
		senders[pk] = struct{}{}
	}
	for pk := range m.groupToSenderEvents[g.id] {
		if _, stillPresent := senders[pk]; !stillPresent {
			delete(m.senderEventToGroup, pk)
		}
	}
	for pk := range senders {
		m.senderEventToGroup[pk] = g.id
	}
	m.groupToSenderEvents[g.id] = senders
	m.mu.Unlock()

	if err := m.syncOuterSubscription(ctx); err != nil {
		m.reportError(err, OperationContext{Operation: OpUpsertGroup, GroupID: g.id})
		return err
	}
	return nil
}

// SendEvent delegates to the named group's Group.SendEvent, reporting any
// failure through OnError with operation "sendEvent".
func (m *Manager) SendEvent(ctx context.Context, groupID string, req SendRequest, cb SendCallbacks) (SentEvent, error) {
	m.mu.Lock()
	g, ok := m.groups[groupID]
	m.mu.Unlock()
	if !ok {
		m.reportError(ErrUnknownGroup, OperationContext{Operation: OpSendEvent, GroupID: groupID})
		return SentEvent{}, ErrUnknownGroup
	}

	sent, err := g.SendEvent(ctx, req, cb)
	if err != nil {
		m.reportError(err, OperationContext{Operation: OpSendEvent, GroupID: groupID})
		return SentEvent{}, err
	}
	return sent, nil
}

// SendMessage is a convenience wrapper over SendEvent for the common case of
// sending an InnerMessageKind rumor, reported under operation "sendMessage".
func (m *Manager) SendMessage(ctx context.Context, groupID, content string, cb SendCallbacks) (SentEvent, error) {
	m.mu.Lock()
	g, ok := m.groups[groupID]
	m.mu.Unlock()
	if !ok {
		m.reportError(ErrUnknownGroup, OperationContext{Operation: OpSendMessage, GroupID: groupID})
		return SentEvent{}, ErrUnknownGroup
	}

	sent, err := g.SendEvent(ctx, SendRequest{Kind: onetomany.InnerMessageKind, Content: content}, cb)
	if err != nil {
		m.reportError(err, OperationContext{Operation: OpSendMessage, GroupID: groupID})
		return SentEvent{}, err
	}
	return sent, nil
}

// RotateSenderKey delegates to the named group's Group.RotateSenderKey,
// reporting any failure through OnError with operation "rotateSenderKey".
func (m *Manager) RotateSenderKey(ctx context.Context, groupID string, sendPairwise SendPairwiseFunc, nowMs int64) (SenderKeyDistribution, error) {
	m.mu.Lock()
	g, ok := m.groups[groupID]
	m.mu.Unlock()
	if !ok {
		m.reportError(ErrUnknownGroup, OperationContext{Operation: OpRotateSenderKey, GroupID: groupID})
		return SenderKeyDistribution{}, ErrUnknownGroup
	}

	dist, err := g.RotateSenderKey(ctx, sendPairwise, nowMs)
	if err != nil {
		m.reportError(err, OperationContext{Operation: OpRotateSenderKey, GroupID: groupID})
		return SenderKeyDistribution{}, err
	}
	return dist, nil
}

// RemoveGroup drops a group and its sender-event bindings, then refreshes
// the outer subscription.
func (m *Manager) RemoveGroup(ctx context.Context, groupID string) error {
	m.mu.Lock()
	delete(m.groups, groupID)
	for pk := range m.groupToSenderEvents[groupID] {
		delete(m.senderEventToGroup, pk)
		delete(m.pendingBySender, pk)
	}
	delete(m.groupToSenderEvents, groupID)
	m.mu.Unlock()

	return m.syncOuterSubscription(ctx)
}

// Destroy closes the outer subscription.
func (m *Manager) Destroy() {
	m.mu.Lock()
	unsub := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// bindSenderEventToGroup records that senderEventPubkey's chain belongs to
// groupID, refreshes the subscription, and drains any outer events that had
// arrived for this sender before its distribution did.
func (m *Manager) bindSenderEventToGroup(ctx context.Context, groupID, senderEventPubkey string) {
	m.mu.Lock()
	m.senderEventToGroup[senderEventPubkey] = groupID
	if m.groupToSenderEvents[groupID] == nil {
		m.groupToSenderEvents[groupID] = make(map[string]struct{})
	}
	m.groupToSenderEvents[groupID][senderEventPubkey] = struct{}{}
	pending := m.pendingBySender[senderEventPubkey]
	delete(m.pendingBySender, senderEventPubkey)
	group := m.groups[groupID]
	m.mu.Unlock()

	if err := m.syncOuterSubscription(ctx); err != nil {
		m.reportError(err, OperationContext{Operation: OpSyncOuterSubscription, GroupID: groupID})
	}

	if group == nil || len(pending) == 0 {
		return
	}
	sort.Slice(pending, func(i, j int) bool {
		mi, _ := onetomany.ParseOuterContent(pending[i].Content)
		mj, _ := onetomany.ParseOuterContent(pending[j].Content)
		return mi.MessageNumber < mj.MessageNumber
	})
	for _, outer := range pending {
		m.deliverOuter(ctx, groupID, group, outer)
	}
}

// HandleIncomingSessionEvent routes a 1:1-delivered rumor to the group
// named by the groupID argument, binding a distribution's sender-event
// pubkey to that group on success. The group is not looked up from the
// rumor's "l" tag or from a distribution's embedded groupId; a distribution
// whose groupId differs from groupID is rejected by the Group.
func (m *Manager) HandleIncomingSessionEvent(ctx context.Context, groupID string, rumor onetomany.Event) ([]DecryptedEvent, error) {
	m.mu.Lock()
	g, ok := m.groups[groupID]
	m.mu.Unlock()
	if !ok {
		err := ErrUnknownGroup
		m.reportError(err, OperationContext{Operation: OpHandleIncomingSessionEvt, GroupID: groupID})
		return nil, err
	}

	events, err := g.HandleIncomingSessionEvent(ctx, rumor)
	if err != nil {
		m.reportError(err, OperationContext{Operation: OpHandleIncomingSessionEvt, GroupID: groupID})
		return nil, err
	}

	if rumor.Kind == onetomany.GroupSenderKeyDistributionKind {
		dist, parseErr := parseDistribution(rumor.Content)
		if parseErr == nil && dist.SenderEventPubkey != "" {
			m.bindSenderEventToGroup(ctx, groupID, dist.SenderEventPubkey)
		}
	}

	for _, ev := range events {
		m.emitDecrypted(groupID, ev)
	}
	return events, nil
}

// HandleOuterEvent resolves an outer event's group from its author's bound
// sender-event pubkey and delegates decryption. An event from a pubkey with
// no binding yet is queued (bounded FIFO, oldest evicted) until a matching
// distribution arrives.
func (m *Manager) HandleOuterEvent(ctx context.Context, outer onetomany.Event) {
	m.mu.Lock()
	groupID, ok := m.senderEventToGroup[outer.PubKey]
	var group *Group
	if ok {
		group = m.groups[groupID]
	}
	if !ok || group == nil {
		q := m.pendingBySender[outer.PubKey]
		q = append(q, outer)
		if len(q) > maxPendingPerSender {
			q = q[len(q)-maxPendingPerSender:]
		}
		m.pendingBySender[outer.PubKey] = q
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.deliverOuter(ctx, groupID, group, outer)
}

func (m *Manager) deliverOuter(ctx context.Context, groupID string, g *Group, outer onetomany.Event) {
	decrypted, err := g.HandleOuterEvent(ctx, outer)
	if err != nil {
		m.reportError(err, OperationContext{Operation: OpHandleOuterEvent, GroupID: groupID})
		return
	}
	if decrypted != nil {
		m.emitDecrypted(groupID, *decrypted)
	}
}

func (m *Manager) emitDecrypted(groupID string, ev DecryptedEvent) {
	if m.onDecryptedEvent != nil {
		m.onDecryptedEvent(groupID, ev)
	}
}

func (m *Manager) reportError(err error, ctx OperationContext) {
	if m.onError != nil {
		m.onError(err, ctx)
	}
}

// syncOuterSubscription recomputes the canonical (sorted, deduped) author
// set across every installed peer chain and reopens the outer subscription
// only if that set actually changed — re-subscribing on every distribution
// would otherwise mean one relay round-trip per member, not per group.
func (m *Manager) syncOuterSubscription(ctx context.Context) error {
	m.mu.Lock()
	authors := make([]string, 0, len(m.senderEventToGroup))
	for pk := range m.senderEventToGroup {
		authors = append(authors, pk)
	}
	sort.Strings(authors)
	key := strings.Join(authors, ",")
	if key == m.authorsKey {
		m.mu.Unlock()
		return nil
	}
	prevUnsub := m.unsubscribe
	m.mu.Unlock()

	if prevUnsub != nil {
		prevUnsub()
	}

	if len(authors) == 0 {
		m.mu.Lock()
		m.unsubscribe = nil
		m.authorsKey = ""
		m.mu.Unlock()
		return nil
	}

	unsub, err := m.transportAdapter.Subscribe(ctx, transport.Filter{Kinds: []int{m.outerKind}, Authors: authors}, func(ev onetomany.Event) {
		m.HandleOuterEvent(context.Background(), ev)
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.unsubscribe = unsub
	m.authorsKey = key
	m.mu.Unlock()
	return nil
}
