// Package dedup coalesces concurrent calls that share a key into a single
// in-flight operation, bounding upstream load when many near-simultaneous
// requests target the same (route, notional) pair.
package dedup

import (
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

type Deduplicator struct {
	group     singleflight.Group
	coalesced uint64
	started   uint64
}

func NewDeduplicator() *Deduplicator {
	return &Deduplicator{}
}

// Deduplicate runs operation for key unless one is already in flight, in
// which case the caller receives the in-flight result (success or failure).
// The entry is forgotten once the operation settles, so a later call always
// starts fresh.
func (d *Deduplicator) Deduplicate(key string, operation func() (interface{}, error)) (interface{}, error) {
	// singleflight drops the key once the call settles, so a later
	// call always re-runs the operation
	result, err, shared := d.group.Do(key, func() (interface{}, error) {
		atomic.AddUint64(&d.started, 1)

		return operation()
	})

	if shared {
		atomic.AddUint64(&d.coalesced, 1)
	}

	return result, err
}

// Started returns how many underlying operations actually ran.
func (d *Deduplicator) Started() uint64 {
	return atomic.LoadUint64(&d.started)
}

// Coalesced returns how many callers were served by someone else's flight.
func (d *Deduplicator) Coalesced() uint64 {
	return atomic.LoadUint64(&d.coalesced)
}
