// Package transport provides the TransportAdapter abstraction GroupManager
// subscribes and publishes outer events through, plus an Ably-backed
// realtime implementation and an in-memory bus for tests.
package transport

import (
	"context"

	"github.com/ndr-chat/groupcrypto/internal/onetomany"
)

// Filter selects which events a subscription receives. Authors, when
// non-empty, restricts delivery to events from those pubkeys (hex-encoded);
// an empty Authors means "undetermined", which GroupManager never
// subscribes with — syncOuterSubscription tears the subscription down
// instead once the author set goes empty.
type Filter struct {
	Kinds   []int
	Authors []string
}

// Unsubscribe tears down a subscription. It is idempotent.
type Unsubscribe func()

// Adapter is the pub/sub abstraction outer events flow through.
type Adapter interface {
	Subscribe(ctx context.Context, filter Filter, onEvent func(onetomany.Event)) (Unsubscribe, error)
	Publish(ctx context.Context, event onetomany.Event) (onetomany.Event, error)
}

// Error wraps any failure from an Adapter method so GroupManager's
// onError sink can distinguish transport failures from protocol ones.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return "transport: " + e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }
