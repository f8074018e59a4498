package queue

import "errors"

// ErrNotFound is returned by IncrementRetry for an entry ID that does not
// exist. The Remove operations treat a missing entry as already removed.
var ErrNotFound = errors.New("queue: entry not found")
