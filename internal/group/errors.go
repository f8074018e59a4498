package group

import "errors"

var (
	// ErrUnknownGroup is returned by GroupManager lookups for a groupId it
	// does not hold.
	ErrUnknownGroup = errors.New("group: unknown group")
	// ErrUnknownSender names the case of an outer event whose author has no
	// installed peer chain. Neither Group nor Manager returns it:
	// Group.HandleOuterEvent returns nil, nil and Manager queues the event.
	ErrUnknownSender = errors.New("group: unknown sender")
	// ErrWrongOuterKind is returned when an outer event's kind does not
	// match the group's configured outerKind.
	ErrWrongOuterKind = errors.New("group: outer event has wrong kind")
	// ErrNoOwnSenderState is returned by rotation/dispatch paths invoked
	// before an own sender state has ever been created.
	ErrNoOwnSenderState = errors.New("group: no own sender state")
)

// TransportError wraps a sendPairwise/publishOuter failure so callers can
// distinguish it from a cryptographic or storage failure via errors.As.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return "group: transport " + e.Op + ": " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }
