package storage

import (
	"context"
	"time"
)

// Quote represents final form of one asset price observation received from
// an upstream source ready to store.
type Quote struct {
	Asset     string
	Price     float64
	Source    string
	Timestamp time.Time
}

// Store is the shared latest-known-value cache between the poller process
// (single writer) and the read API process (readers).
//
// Load returns the full persisted mapping from lowercase asset code to
// price. A store that was never written is empty, not an error.
//
// MergeAndSave replaces only the keys present in updates and carries every
// other persisted key forward unchanged. The new state becomes visible to
// readers as one atomic unit, a concurrent Load observes either the full
// old mapping or the full new one.
type Store interface {
	Load(ctx context.Context) (map[string]float64, error)
	MergeAndSave(ctx context.Context, updates map[string]float64) error
}
