package rag

import (
	"fmt"
	"time"

	"github.com/maypok86/otter/v2"
)

// trackerCapacity bounds the number of remembered terminal requests.
const trackerCapacity = 4096

// tracker remembers request ids whose logical stream has terminated (done
// or error), so late frames for those requests are dropped instead of
// re-dispatched. Entries expire by TTL: abandoned ids must not accumulate
// across a long-lived connection.
type tracker struct {
	cache *otter.Cache[string, struct{}]
}

func newTracker(ttl time.Duration) (*tracker, error) {
	c, err := otter.New[string, struct{}](&otter.Options[string, struct{}]{
		MaximumSize:      trackerCapacity,
		ExpiryCalculator: otter.ExpiryWriting[string, struct{}](ttl),
	})
	if err != nil {
		return nil, fmt.Errorf("create tracker: %w", err)
	}
	return &tracker{cache: c}, nil
}

// markTerminal records that the request's stream has ended.
func (t *tracker) markTerminal(requestID string) {
	t.cache.Set(requestID, struct{}{})
}

// terminal reports whether the request's stream has already ended.
func (t *tracker) terminal(requestID string) bool {
	_, ok := t.cache.GetIfPresent(requestID)
	return ok
}
