// Package replay re-runs a recorded call against the current configuration
// and scenario catalogue. Each recorded turn is reconstructed from its
// INPUT_TEXT_SELECTED journal event and fed through a fresh pipeline; the
// replayed owner, lane, and pending-slot decisions are diffed against the
// recorded ones. Divergences are regressions in deterministic behaviour,
// since the LLM tier is never armed during a replay.
package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strconv"

	"github.com/voxlinehq/voxline/internal/callstate"
	"github.com/voxlinehq/voxline/internal/config"
	"github.com/voxlinehq/voxline/internal/journal"
	"github.com/voxlinehq/voxline/internal/pipeline"
	"github.com/voxlinehq/voxline/internal/scenario"
	"github.com/voxlinehq/voxline/pkg/types"
)

// ErrNoEvents is returned when the journal holds nothing for the call.
var ErrNoEvents = errors.New("replay: no recorded events for call")

// Divergence is one recorded-vs-replayed mismatch.
type Divergence struct {
	TurnIndex int    `json:"turnIndex"`
	Field     string `json:"field"` // "owner", "lane", or "pendingSlots"
	Recorded  string `json:"recorded"`
	Replayed  string `json:"replayed"`
}

// Report summarises one replay run.
type Report struct {
	TenantID    string       `json:"tenantId"`
	CallID      string       `json:"callId"`
	Turns       int          `json:"turns"`
	Skipped     int          `json:"skipped"`
	Divergences []Divergence `json:"divergences,omitempty"`
}

// Clean reports whether the replay reproduced every recorded decision.
func (r *Report) Clean() bool { return len(r.Divergences) == 0 }

// Engine replays calls from a journal reader.
type Engine struct {
	reader    journal.Reader
	resolver  *config.Resolver
	scenarios scenario.Store
	log       *slog.Logger
}

// NewEngine constructs an Engine. The matcher used for replayed turns has no
// LLM tier, so replays are deterministic.
func NewEngine(reader journal.Reader, resolver *config.Resolver, scenarios scenario.Store, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{reader: reader, resolver: resolver, scenarios: scenarios, log: log}
}

// recordedTurn is one turn reconstructed from journal events.
type recordedTurn struct {
	index         int
	hasInput      bool
	transcript    string
	sttConfidence float64
	channel       types.Channel
	startLane     string
	owner         string
	pending       []string
}

// Replay re-runs the call and returns the diff report.
func (e *Engine) Replay(ctx context.Context, tenantID, callID string) (*Report, error) {
	events, err := e.reader.Read(ctx, tenantID, callID)
	if err != nil {
		return nil, fmt.Errorf("replay: read journal for %s/%s: %w", tenantID, callID, err)
	}
	if len(events) == 0 {
		return nil, ErrNoEvents
	}

	turns := groupTurns(events)
	states := callstate.NewMemStore()
	p := pipeline.New(states, states, e.scenarios, e.resolver,
		pipeline.WithLogger(e.log),
		pipeline.WithRand(rand.New(rand.NewSource(0))),
	)

	rep := &Report{TenantID: tenantID, CallID: callID}
	for _, rec := range turns {
		if !rec.hasInput {
			// Busy rejections and quality-gate clarifications short-circuit
			// before the input-truth event and cannot be reconstructed.
			rep.Skipped++
			continue
		}
		rep.Turns++

		st, _ := states.Load(ctx, tenantID, callID)
		if rec.startLane != "" && string(st.Lane) != rec.startLane {
			rep.diverge(rec.index, "lane", rec.startLane, string(st.Lane))
		}

		resp := p.Process(ctx, types.TurnRequest{
			TenantID:      tenantID,
			CallID:        callID,
			TurnIndex:     rec.index,
			Transcript:    rec.transcript,
			STTConfidence: rec.sttConfidence,
			Channel:       rec.channel,
		})

		if got := replayedOwner(resp.Events); rec.owner != "" && got != rec.owner {
			rep.diverge(rec.index, "owner", rec.owner, got)
		}
		if rec.pending != nil {
			got := slotIDs(resp.State.PendingSlots)
			if !equalStrings(rec.pending, got) {
				rep.diverge(rec.index, "pendingSlots",
					fmt.Sprintf("%v", rec.pending), fmt.Sprintf("%v", got))
			}
		}
	}
	return rep, nil
}

func (r *Report) diverge(turn int, field, recorded, replayed string) {
	r.Divergences = append(r.Divergences, Divergence{
		TurnIndex: turn,
		Field:     field,
		Recorded:  recorded,
		Replayed:  replayed,
	})
}

// groupTurns folds the ordered event stream into per-turn records.
func groupTurns(events []types.Event) []*recordedTurn {
	byIndex := map[int]*recordedTurn{}
	var order []*recordedTurn
	get := func(idx int) *recordedTurn {
		if t, ok := byIndex[idx]; ok {
			return t
		}
		t := &recordedTurn{index: idx, channel: types.ChannelVoice}
		byIndex[idx] = t
		order = append(order, t)
		return t
	}

	for _, ev := range events {
		t := get(ev.TurnIndex)
		switch ev.Type {
		case types.EventS1RuntimeOwner:
			t.startLane = asString(ev.Data["lane"])
		case types.EventInputTextSelected:
			t.hasInput = true
			t.transcript = asString(ev.Data["raw"])
			t.sttConfidence = asFloat(ev.Data["sttConfidence"])
			if ch := asString(ev.Data["channel"]); ch != "" {
				t.channel = types.Channel(ch)
			}
		case types.EventS3PendingSlotsStored:
			t.pending = asStrings(ev.Data["pending"])
		case types.EventS4BOwnerSelected:
			t.owner = asString(ev.Data["owner"])
		}
	}
	return order
}

func replayedOwner(events []types.Event) string {
	for _, ev := range events {
		if ev.Type == types.EventS4BOwnerSelected {
			return asString(ev.Data["owner"])
		}
	}
	return ""
}

func slotIDs(slots map[string]string) []string {
	out := make([]string, 0, len(slots))
	for id := range slots {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Journal data values arrive either as their in-process Go types or, after a
// store round-trip, as decoded JSON. Both shapes are accepted.

func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprintf("%v", v)
	}
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	default:
		return 0
	}
}

func asStrings(v any) []string {
	switch s := v.(type) {
	case []string:
		return append([]string(nil), s...)
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			out = append(out, asString(e))
		}
		return out
	default:
		return []string{}
	}
}
