// Package pipeline implements the turn orchestrator: the fixed stage cascade
// every caller utterance runs through, from the connection quality gate to
// response composition. The orchestrator never returns an error to the
// webhook layer; every turn yields a well-formed response envelope, and every
// turn emits exactly one owner-selected journal event.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/voxlinehq/voxline/internal/callstate"
	"github.com/voxlinehq/voxline/internal/config"
	"github.com/voxlinehq/voxline/internal/detect"
	"github.com/voxlinehq/voxline/internal/journal"
	"github.com/voxlinehq/voxline/internal/normalize"
	"github.com/voxlinehq/voxline/internal/observe"
	"github.com/voxlinehq/voxline/internal/opener"
	"github.com/voxlinehq/voxline/internal/scenario"
	"github.com/voxlinehq/voxline/pkg/types"
)

// defaultS4ABudget is the hard wall-clock budget for the triage and scenario
// match stages combined. Past it, their results are abandoned and the flow
// runner takes the turn.
const defaultS4ABudget = 150 * time.Millisecond

// fallbackText is the neutral sentence spoken when no owner produced text.
const fallbackText = "I'm here to help; could you tell me what you need?"

// busyText is returned when a second turn arrives while one is in flight and
// the wait budget is spent. The webhook layer translates it into a hold.
const busyText = "One moment, please."

// ackText replaces the random opener when the caller signalled they feel
// ignored. Always the same sentence: variety would undercut it.
const ackText = "I hear you."

// Pipeline executes turns. Construct one per process with [New]; it is safe
// for concurrent use across calls, and the per-call lock serialises turns
// within a call.
type Pipeline struct {
	states    callstate.Store
	locker    callstate.Locker
	scenarios scenario.Store
	resolver  *config.Resolver
	matcher   *scenario.Matcher
	journal   *journal.Writer
	metrics   *observe.Metrics
	log       *slog.Logger
	s4aBudget time.Duration

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMatcher replaces the default (Tier-1/2 only) scenario matcher.
func WithMatcher(m *scenario.Matcher) Option {
	return func(p *Pipeline) { p.matcher = m }
}

// WithJournal attaches the async journal writer. Without one, events are
// still returned in the response envelope but not persisted.
func WithJournal(w *journal.Writer) Option {
	return func(p *Pipeline) { p.journal = w }
}

// WithMetrics overrides the default metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(p *Pipeline) { p.log = log }
}

// WithRand injects the randomness source for reply and opener selection.
// Matching is never randomised; this only affects which variant is spoken.
func WithRand(rng *rand.Rand) Option {
	return func(p *Pipeline) { p.rng = rng }
}

// WithS4ABudget overrides the triage-plus-match wall-clock budget.
func WithS4ABudget(d time.Duration) Option {
	return func(p *Pipeline) { p.s4aBudget = d }
}

// New constructs a Pipeline over its stores.
func New(states callstate.Store, locker callstate.Locker, scenarios scenario.Store, resolver *config.Resolver, opts ...Option) *Pipeline {
	p := &Pipeline{
		states:    states,
		locker:    locker,
		scenarios: scenarios,
		resolver:  resolver,
		matcher:   scenario.NewMatcher(),
		metrics:   observe.DefaultMetrics(),
		log:       slog.Default(),
		s4aBudget: defaultS4ABudget,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// turnState threads one turn's accumulating decisions between stages.
type turnState struct {
	req       types.TurnRequest
	cfg       config.Resolved
	st        *callstate.State
	col       *journal.Collector
	index     int
	startLane types.Lane

	norm      normalize.Result
	hits      []detect.Hit
	extracted map[string]string
	match     *scenario.Match

	// empathy asks the voice layer for softer delivery; ack replaces the
	// random opener with a fixed acknowledgment. Both are set by the
	// detection and escalation stages.
	empathy bool
	ack     bool
}

// outcome is the composed result of a turn: who spoke, what they said, and
// the side directives for the webhook layer.
type outcome struct {
	owner      types.Owner
	reason     string
	text       string
	audioURL   string
	directives types.Directives

	// opener marks the response eligible for a micro-ack prepend. Terminal,
	// transfer and greeting responses never get one.
	opener bool
}

// Process runs one turn end to end and returns the response envelope. It
// never returns an error; faults degrade to a fallback response with error
// events in the journal.
func (p *Pipeline) Process(ctx context.Context, req types.TurnRequest) (resp types.TurnResponse) {
	start := time.Now()
	cfg := p.resolver.Resolve(req.TenantID)

	defer func() {
		if r := recover(); r != nil {
			p.log.Error("pipeline: turn panicked", "call", req.CallID, "panic", r)
			resp = p.failTurn(ctx, req, r)
		}
	}()

	wait := cfg.Concurrency.LockWait
	if cfg.Concurrency.BusyPolicy == config.BusyReject {
		wait = 0
	}
	release, err := p.locker.Acquire(ctx, req.TenantID, req.CallID, wait)
	if err != nil {
		return p.rejectBusy(ctx, req)
	}
	defer release()

	st, err := p.states.Load(ctx, req.TenantID, req.CallID)
	index := st.TurnIndex + 1
	if req.TurnIndex > index {
		index = req.TurnIndex
	}
	col := journal.NewCollector(req.TenantID, req.CallID, index)
	if err != nil {
		p.log.Error("pipeline: load state", "call", req.CallID, "error", err)
		col.Emit(types.EventStateLoadFailed, map[string]any{"error": err.Error()})
		st = callstate.New(req.TenantID, req.CallID)
	}

	t := &turnState{req: req, cfg: cfg, st: &st, col: col, index: index, startLane: st.Lane}

	// S1: the persisted lane owns the runtime mode for this turn.
	col.Emit(types.EventS1RuntimeOwner, map[string]any{
		"lane":      st.Lane,
		"turnIndex": index,
		"channel":   req.Channel,
	})

	if out, ok := p.qualityGate(t); ok {
		return p.finish(ctx, t, out, start)
	}

	p.selectInput(t)

	if out, ok := p.escalation(t); ok {
		return p.finish(ctx, t, out, start)
	}
	if out, ok := p.greetIntercept(t); ok {
		return p.finish(ctx, t, out, start)
	}

	p.extractSlots(t)
	p.detectTriggers(t)

	// The consent gate runs after slot extraction and before owner
	// selection, so a caller who just agreed to book gets the booking flow
	// on this very turn.
	p.consentGate(t)

	p.runS4A(ctx, t)

	out := p.selectOwner(t)
	p.compose(t, &out)
	return p.finish(ctx, t, out, start)
}

// finish stamps the owner and response events, persists state, hands the
// events to the journal writer, and builds the envelope. It is the single
// exit for all turn paths, which is what guarantees exactly one
// owner-selected event per turn.
func (p *Pipeline) finish(ctx context.Context, t *turnState, out outcome, start time.Time) types.TurnResponse {
	if out.text == "" {
		out.text = fallbackText
	}
	t.col.Emit(types.EventS4BOwnerSelected, map[string]any{
		"owner":  out.owner,
		"reason": out.reason,
	})

	if out.opener && out.directives.Transfer == nil && !out.directives.Hangup {
		if t.ack {
			out.text = ackText + " " + out.text
		} else if op := p.pickOpener(t.cfg.Openers, t.st.LastOpener); op != "" {
			t.st.LastOpener = op
			out.text = op + " " + out.text
		}
	}
	if t.empathy {
		out.directives.Empathy = true
	}
	t.col.Emit(types.EventS6Response, map[string]any{
		"owner": out.owner,
		"text":  out.text,
	})

	if t.st.TurnIndex < 0 {
		p.metrics.ActiveCalls.Add(ctx, 1)
	}
	if t.st.Lane == types.LaneTerminated && t.startLane != types.LaneTerminated {
		p.metrics.ActiveCalls.Add(ctx, -1)
	}

	t.st.TurnIndex = t.index
	if err := p.states.Persist(ctx, *t.st); err != nil {
		p.log.Error("pipeline: persist state", "call", t.req.CallID, "error", err)
		t.col.Emit(types.EventStateInvariant, map[string]any{"error": err.Error()})
	}
	p.enqueue(ctx, t.col.Events())
	p.metrics.RecordTurn(ctx, t.req.TenantID, string(out.owner), time.Since(start))

	return types.TurnResponse{
		Response:   types.ResponsePayload{Text: out.text, AudioURL: out.audioURL},
		Directives: out.directives,
		State:      t.st.View(),
		Events:     t.col.Events(),
	}
}

// failTurn handles a panicking stage. The caller still gets the fallback
// response, and the journal records the fault plus owner and response
// events, so every turn carries exactly one owner event even on this path.
func (p *Pipeline) failTurn(ctx context.Context, req types.TurnRequest, cause any) types.TurnResponse {
	index := req.TurnIndex
	if index < 0 {
		index = 0
	}
	col := journal.NewCollector(req.TenantID, req.CallID, index)
	col.Emit(types.EventTurnFailed, map[string]any{"panic": fmt.Sprint(cause)})
	col.Emit(types.EventS4BOwnerSelected, map[string]any{
		"owner":  types.OwnerDiscoveryFlow,
		"reason": "TURN_FAILED",
	})
	col.Emit(types.EventS6Response, map[string]any{
		"owner": types.OwnerDiscoveryFlow,
		"text":  fallbackText,
	})
	p.enqueue(ctx, col.Events())
	return types.TurnResponse{
		Response: types.ResponsePayload{Text: fallbackText},
		Events:   col.Events(),
	}
}

// rejectBusy handles the lock-contended path: no state is touched, the
// rejection is journalled, and the webhook layer gets a hold response.
func (p *Pipeline) rejectBusy(ctx context.Context, req types.TurnRequest) types.TurnResponse {
	col := journal.NewCollector(req.TenantID, req.CallID, req.TurnIndex)
	col.Emit(types.EventTurnRejectedBusy, nil)
	p.metrics.BusyRejected.Add(ctx, 1)
	p.enqueue(ctx, col.Events())

	st, _ := p.states.Load(ctx, req.TenantID, req.CallID)
	return types.TurnResponse{
		Response: types.ResponsePayload{Text: busyText},
		State:    st.View(),
		Events:   col.Events(),
	}
}

func (p *Pipeline) enqueue(ctx context.Context, events []types.Event) {
	if p.journal != nil {
		p.journal.Enqueue(events)
	}
	for _, ev := range events {
		p.metrics.Events.Add(ctx, 1,
			metric.WithAttributes(attribute.String("type", string(ev.Type))))
	}
}

func (p *Pipeline) pickReply(sc scenario.Scenario, ch types.Channel) scenario.Reply {
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return scenario.PickReply(sc, ch, p.rng)
}

func (p *Pipeline) pickOpener(pool []string, last string) string {
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return opener.Pick(pool, last, p.rng)
}
