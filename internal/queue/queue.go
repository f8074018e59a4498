// Package queue implements the persistent pairwise-rumor outbox: the
// auxiliary store a caller drains to retry 1:1 deliveries (sender-key
// distributions, in particular) that failed while a target was offline.
package queue

import (
	"context"
	"math"
	"time"

	"github.com/ndr-chat/groupcrypto/internal/onetomany"
)

// MaxRetries bounds how many times an entry is retried before it is
// considered permanently failed.
const MaxRetries = 10

// maxBackoff caps the exponential retry delay.
const maxBackoff = 300 * time.Second

// Entry is one queued rumor awaiting delivery to a single target.
type Entry struct {
	ID         string         `json:"id"`
	TargetKey  string         `json:"targetKey"`
	Rumor      onetomany.Event `json:"rumor"`
	RetryCount int            `json:"retryCount"`
	CreatedAt  int64          `json:"createdAt"`
	UpdatedAt  int64          `json:"updatedAt"`
}

// EntryID derives the idempotent entry ID for (rumor, targetKey): adding the
// same rumor for the same target twice is a no-op, not a duplicate.
func EntryID(rumorID, targetKey string) string {
	return rumorID + "/" + targetKey
}

// Queue is the persistent pairwise-rumor outbox contract.
type Queue interface {
	// Add enqueues rumor for targetKey, returning its entry ID. Re-adding the
	// same (rumor.ID, targetKey) pair is idempotent: the existing entry is
	// left untouched rather than duplicated.
	Add(ctx context.Context, targetKey string, rumor onetomany.Event) (string, error)
	// GetForTarget returns every entry queued for targetKey, oldest first.
	GetForTarget(ctx context.Context, targetKey string) ([]Entry, error)
	// RemoveForTarget drops every entry queued for targetKey.
	RemoveForTarget(ctx context.Context, targetKey string) error
	// Remove drops a single entry by ID.
	Remove(ctx context.Context, id string) error
	// RemoveByTargetAndEventID drops the entry for (targetKey, rumor.ID), if
	// present.
	RemoveByTargetAndEventID(ctx context.Context, targetKey, eventID string) error
	// IncrementRetry bumps an entry's retry count and returns the updated
	// entry; callers combine this with CalculateBackoff/ShouldRetry to drive
	// a retry loop.
	IncrementRetry(ctx context.Context, id string) (Entry, error)
}

// CalculateBackoff returns an exponential backoff delay for retryCount:
// 2^retryCount seconds, capped at maxBackoff.
func CalculateBackoff(retryCount int) time.Duration {
	delaySeconds := math.Pow(2, float64(retryCount))
	delay := time.Duration(delaySeconds) * time.Second
	if delay > maxBackoff {
		return maxBackoff
	}
	return delay
}

// ShouldRetry reports whether retryCount is still under MaxRetries.
func ShouldRetry(retryCount int) bool {
	return retryCount < MaxRetries
}
