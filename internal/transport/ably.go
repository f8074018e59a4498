package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ably/ably-go/ably"

	"github.com/ndr-chat/groupcrypto/internal/logging"
	"github.com/ndr-chat/groupcrypto/internal/onetomany"
)

// messageName is the Ably message name outer events are published under;
// grounded on the teacher's fixed "message" event name, filtering for it
// the same way.
const messageName = "message"

// Ably is an Adapter backed by a single Ably channel shared by every group
// this process participates in. Unlike the teacher's per-channelID
// subscriptions, Subscribe's (kinds, authors) filter is evaluated
// client-side against every event seen on the shared channel — the
// manager's subscription model multiplexes many groups' sender-event
// authors over one relay connection, a shape Ably's channel API doesn't
// natively express.
type Ably struct {
	client      *ably.Realtime
	channelName string
	log         logging.Logger
	ctx         context.Context
	cancel      context.CancelFunc

	mu   sync.Mutex
	subs map[int]*ablySub
	next int
}

type ablySub struct {
	filter  Filter
	onEvent func(onetomany.Event)
}

// NewAbly connects to Ably with apiKey and opens channelName, the shared
// outer-event channel. A nil logger uses logging.Nop().
func NewAbly(apiKey, channelName string, logger logging.Logger) (*Ably, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("transport: ably api key is required")
	}
	if logger == nil {
		logger = logging.Nop()
	}

	client, err := ably.NewRealtime(ably.WithKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("transport: create ably client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Ably{
		client:      client,
		channelName: channelName,
		log:         logger.Named("transport.ably"),
		ctx:         ctx,
		cancel:      cancel,
		subs:        make(map[int]*ablySub),
	}

	channel := client.Channels.Get(channelName)
	if _, err := channel.SubscribeAll(ctx, a.dispatch); err != nil {
		cancel()
		return nil, fmt.Errorf("transport: subscribe ably channel %s: %w", channelName, err)
	}
	a.log.Infow("subscribed to shared channel", "channel", channelName)

	return a, nil
}

func (a *Ably) dispatch(msg *ably.Message) {
	if msg.Name != messageName {
		return
	}

	raw, ok := msg.Data.(string)
	if !ok {
		a.log.Warnw("unexpected ably message data type", "type", fmt.Sprintf("%T", msg.Data))
		return
	}
	var event onetomany.Event
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		a.log.Warnw("failed to parse ably message as an event", "error", err)
		return
	}

	a.mu.Lock()
	matched := make([]*ablySub, 0, len(a.subs))
	for _, sub := range a.subs {
		if matches(sub.filter, event) {
			matched = append(matched, sub)
		}
	}
	a.mu.Unlock()

	for _, sub := range matched {
		sub.onEvent(event)
	}
}

// Subscribe implements Adapter. The returned Unsubscribe only removes the
// client-side filter registration; the underlying Ably channel
// subscription is shared and stays attached until Close.
func (a *Ably) Subscribe(_ context.Context, filter Filter, onEvent func(onetomany.Event)) (Unsubscribe, error) {
	a.mu.Lock()
	id := a.next
	a.next++
	a.subs[id] = &ablySub{filter: filter, onEvent: onEvent}
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		delete(a.subs, id)
		a.mu.Unlock()
	}, nil
}

// Publish implements Adapter.
func (a *Ably) Publish(ctx context.Context, event onetomany.Event) (onetomany.Event, error) {
	raw, err := json.Marshal(event)
	if err != nil {
		return onetomany.Event{}, &Error{Op: "publish", Err: err}
	}

	channel := a.client.Channels.Get(a.channelName)
	if err := channel.Publish(ctx, messageName, string(raw)); err != nil {
		return onetomany.Event{}, &Error{Op: "publish", Err: err}
	}
	return event, nil
}

// Close detaches the shared channel and closes the Ably connection.
func (a *Ably) Close() error {
	channel := a.client.Channels.Get(a.channelName)
	_ = channel.Detach(a.ctx)
	a.cancel()
	a.client.Close()
	return nil
}
