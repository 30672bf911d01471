// Package journal defines the append-only event log backing the ledger.
// The journal is the audit mechanism for the whole economic system: every
// materialized view must be exactly reproducible by replaying it from
// empty state.
package journal

import (
	"context"

	"github.com/proofofgood/engine/pkg/model"
)

// Journal is an append-only, strictly ordered event log.
type Journal interface {
	// Append persists the event, assigns it the next sequence number and
	// returns the stored record.
	Append(ctx context.Context, ev model.Event) (model.Event, error)
	// Replay streams every stored event in sequence order. Returning an
	// error from fn aborts the replay.
	Replay(ctx context.Context, fn func(model.Event) error) error
	// LastSeq returns the highest assigned sequence number, zero when empty.
	LastSeq(ctx context.Context) (uint64, error)
	Close() error
}
