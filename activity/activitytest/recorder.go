// Package activitytest provides an in-memory activity.Writer.
package activitytest

import (
	"context"
	"sync"

	"creditflow/activity"
	"creditflow/db"
)

// Recorder keeps appended entries in memory.
type Recorder struct {
	mu      sync.Mutex
	entries []activity.Entry
	Err     error
}

func (r *Recorder) Append(_ context.Context, _ db.Querier, e activity.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.entries = append(r.entries, e)
	return nil
}

// Entries returns a copy of everything appended so far.
func (r *Recorder) Entries() []activity.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]activity.Entry(nil), r.entries...)
}

// Actions returns the action names in append order.
func (r *Recorder) Actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Action
	}
	return out
}
