// Package journal implements the per-call event journal: the append-only
// record every pipeline stage writes and the replay tool reads back. Sinks
// are pluggable; the hot path goes through an async writer so journal
// latency never extends a turn.
package journal

import (
	"context"

	"github.com/voxlinehq/voxline/pkg/types"
)

// Sink accepts batches of events. Implementations must tolerate duplicate
// batches; the writer may retry.
type Sink interface {
	Write(ctx context.Context, events []types.Event) error
}

// Reader returns a call's events ordered by (turnIndex, seq).
type Reader interface {
	Read(ctx context.Context, tenantID, callID string) ([]types.Event, error)
}

// Collector gathers one turn's events and assigns their per-turn sequence
// numbers in emission order. It is not safe for concurrent use; a turn is
// single-threaded by construction.
type Collector struct {
	tenantID  string
	callID    string
	turnIndex int
	events    []types.Event
}

// NewCollector starts an empty collector for one turn.
func NewCollector(tenantID, callID string, turnIndex int) *Collector {
	return &Collector{tenantID: tenantID, callID: callID, turnIndex: turnIndex}
}

// Emit appends an event of the given type. Data may be nil.
func (c *Collector) Emit(typ types.EventType, data map[string]any) {
	ev := types.NewEvent(c.tenantID, c.callID, c.turnIndex, typ, data)
	ev.Seq = len(c.events)
	c.events = append(c.events, ev)
}

// Events returns the collected events in emission order.
func (c *Collector) Events() []types.Event {
	return c.events
}

// Has reports whether an event of the given type was emitted this turn.
func (c *Collector) Has(typ types.EventType) bool {
	for _, ev := range c.events {
		if ev.Type == typ {
			return true
		}
	}
	return false
}
