package pipeline

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/voxlinehq/voxline/internal/consent"
	"github.com/voxlinehq/voxline/internal/detect"
	"github.com/voxlinehq/voxline/internal/flow"
	"github.com/voxlinehq/voxline/internal/normalize"
	"github.com/voxlinehq/voxline/internal/scenario"
	"github.com/voxlinehq/voxline/internal/slots"
	"github.com/voxlinehq/voxline/internal/triage"
	"github.com/voxlinehq/voxline/pkg/types"
)

// qualityGate (S1.5) short-circuits on low STT confidence or connection
// trouble phrases with a clarification prompt, bounded per call. Past the
// clarification budget the turn is taken as heard.
func (p *Pipeline) qualityGate(t *turnState) (outcome, bool) {
	q := t.cfg.Quality
	trimmed := strings.TrimSpace(t.req.Transcript)
	low := trimmed != "" && t.req.STTConfidence > 0 && t.req.STTConfidence < q.MinSTTConfidence
	trouble := troublePhrase(strings.ToLower(trimmed), q.TroublePhrases)
	if !low && !trouble {
		return outcome{}, false
	}
	if t.st.ClarifyCount >= q.MaxClarifications {
		return outcome{}, false
	}
	t.st.ClarifyCount++
	t.col.Emit(types.EventS15ConnectionQuality, map[string]any{
		"sttConfidence": t.req.STTConfidence,
		"troublePhrase": trouble,
		"clarifyCount":  t.st.ClarifyCount,
	})
	return outcome{
		owner:  flowOwner(t.st.Lane),
		reason: "CONNECTION_QUALITY_CLARIFY",
		text:   q.ClarifyPrompt,
	}, true
}

// selectInput (S2) normalizes the transcript and records the input-text
// truth: the raw transcript and confidence it was derived from, so a replay
// can re-run the turn from the journal alone.
func (p *Pipeline) selectInput(t *turnState) {
	t.norm = normalize.New(t.cfg.Vocabulary).Normalize(t.req.Transcript)
	t.col.Emit(types.EventInputTextSelected, map[string]any{
		"raw":           t.norm.Raw,
		"normalized":    t.norm.Normalized,
		"expanded":      t.norm.Expanded,
		"sttConfidence": t.req.STTConfidence,
		"channel":       t.req.Channel,
	})
}

// escalation (S2.5) detects hard-stop phrases and hands the call to a human.
// Without a configured transfer target there is nobody to hand to: the turn
// falls through to the normal stages with the empathy flag raised.
func (p *Pipeline) escalation(t *turnState) (outcome, bool) {
	for _, pat := range t.cfg.Escalation.Patterns {
		if !containsPhrase(t.norm.Normalized, strings.ToLower(pat)) {
			continue
		}
		target := t.cfg.Escalation.TransferTarget
		t.col.Emit(types.EventS25EscalationDetected, map[string]any{
			"pattern":        pat,
			"transferTarget": target,
		})
		if target == "" {
			t.empathy = true
			return outcome{}, false
		}
		t.st.Lane = types.LaneTerminated
		return outcome{
			owner:  types.OwnerTransfer,
			reason: "ESCALATION_PATTERN",
			text:   "Of course, let me connect you with someone right away.",
			directives: types.Directives{
				Transfer: &types.TransferDirective{Target: target},
			},
		}, true
	}
	return outcome{}, false
}

// greetingCore are words that make an utterance a greeting; greetingExtra are
// words allowed alongside them without breaking "pure greeting".
var (
	greetingCore = map[string]bool{
		"hi": true, "hello": true, "hey": true, "howdy": true,
		"morning": true, "afternoon": true, "evening": true,
	}
	greetingExtra = map[string]bool{
		"good": true, "there": true, "yes": true,
	}
)

// greetIntercept fires only on pure greeting utterances, and only once per
// call. An utterance with any other content flows through to the later
// stages untouched.
func (p *Pipeline) greetIntercept(t *turnState) (outcome, bool) {
	if t.st.Greeted || !pureGreeting(t.norm.Normalized) {
		return outcome{}, false
	}
	t.st.Greeted = true
	t.col.Emit(types.EventGreetingIntercept, nil)
	return outcome{
		owner:  types.OwnerGreeting,
		reason: "PURE_GREETING",
		text:   t.cfg.Greeting,
	}, true
}

func pureGreeting(normalized string) bool {
	toks := strings.Fields(normalized)
	if len(toks) == 0 {
		return false
	}
	core := false
	for _, tok := range toks {
		switch {
		case greetingCore[tok]:
			core = true
		case greetingExtra[tok]:
		default:
			return false
		}
	}
	return core
}

// extractSlots (S3) runs the tenant's slot registry and stores hits as
// pending values with EXTRACTION provenance.
func (p *Pipeline) extractSlots(t *turnState) {
	reg, err := slots.NewRegistry(t.cfg.Slots)
	if err != nil {
		p.log.Error("pipeline: compile slot registry", "tenant", t.req.TenantID, "error", err)
		t.col.Emit(types.EventConfigInvalid, map[string]any{"error": err.Error()})
		return
	}

	t.extracted = map[string]string{}
	for _, ex := range reg.ExtractAll(t.norm, t.cfg) {
		t.extracted[ex.SlotID] = ex.Value
		t.st.SetPending(ex.SlotID, ex.Value, types.SourceExtraction, t.index)
	}
	t.col.Emit(types.EventS3SlotExtraction, map[string]any{"extracted": t.extracted})

	pending := make([]string, 0, len(t.st.PendingSlots))
	for id := range t.st.PendingSlots {
		pending = append(pending, id)
	}
	sort.Strings(pending)
	t.col.Emit(types.EventS3PendingSlotsStored, map[string]any{"pending": pending})
}

// detectTriggers (S3.5) evaluates the four detection sets and applies their
// side effects: a describing-problem hit arms the triage attempt, a trust
// concern raises the empathy flag, a caller-feels-ignored hit queues an
// acknowledgment opener, and a refused-slot hit marks the slot currently
// being asked as refused for the rest of the call.
func (p *Pipeline) detectTriggers(t *turnState) {
	t.hits = detect.Scan(t.norm.Normalized, t.cfg.DetectionTriggers)
	for _, h := range t.hits {
		data := map[string]any{"pattern": h.Pattern}
		switch h.Kind {
		case detect.DescribingProblem:
			t.col.Emit(types.EventS35DescribingProblem, data)
		case detect.TrustConcern:
			t.empathy = true
			t.col.Emit(types.EventS35TrustConcern, data)
		case detect.CallerFeelsIgnored:
			t.ack = true
			t.col.Emit(types.EventS35CallerFeelsIgnored, data)
		case detect.RefusedSlot:
			if slot := p.refusalTarget(t); slot != "" {
				t.st.Refuse(slot)
				data["slot"] = slot
			}
			t.col.Emit(types.EventS35RefusedSlot, data)
		}
	}
}

// refusalTarget is the slot a refusal applies to: the slot mid-confirmation,
// or the first one the active flow would ask about next.
func (p *Pipeline) refusalTarget(t *turnState) string {
	if t.st.ConfirmingSlot != "" {
		return t.st.ConfirmingSlot
	}
	steps := t.cfg.DiscoveryFlow.Steps
	if t.st.Lane == types.LaneBooking {
		steps = t.cfg.BookingFlow.Steps
	}
	for _, step := range steps {
		if !t.st.Satisfied(step.SlotID) && !t.st.Refused[step.SlotID] {
			return step.SlotID
		}
	}
	return ""
}

// consentGate (S5) flips the lane to booking on explicit consent, direct
// booking intent, or the emergency fast path. It never speaks.
func (p *Pipeline) consentGate(t *turnState) {
	dec := consent.Evaluate(t.norm.Normalized, t.st.OfferPending)
	if !dec.Consent {
		return
	}
	explicit := t.st.OfferPending && !dec.Direct && !dec.Emergency
	t.col.Emit(types.EventS5ConsentGate, map[string]any{
		"matched":         dec.Matched,
		"direct":          dec.Direct,
		"fastPath":        dec.Emergency,
		"askedExplicitly": explicit,
	})
	t.st.ConsentExplicit = explicit
	t.st.OfferPending = false
	if t.st.Lane == types.LaneDiscovery {
		t.st.Lane = types.LaneBooking
	}
}

// runS4A executes triage (S4A-1) and the scenario match (S4A-2) under one
// wall-clock budget. Past the budget, both results are abandoned and the
// flow runner takes the turn.
func (p *Pipeline) runS4A(ctx context.Context, t *turnState) {
	start := time.Now()
	tctx, cancel := context.WithTimeout(ctx, p.s4aBudget)
	defer cancel()

	sig := triage.Run(t.norm, t.hits, t.cfg)
	t.col.Emit(types.EventS4A1TriageSignals, signalsData(sig))
	if sig.CallReasonDetail != "" && !t.st.Satisfied("call_reason_detail") {
		t.st.SetPending("call_reason_detail", sig.CallReasonDetail, types.SourceTriage, t.index)
	}

	switch {
	case t.st.Lane != types.LaneDiscovery:
		t.col.Emit(types.EventS4A2ScenarioMatch, map[string]any{
			"attempted": false, "skipReason": "LANE_" + string(t.st.Lane),
		})
	case t.cfg.Discovery.DisableScenarioAutoResponses:
		t.col.Emit(types.EventS4A2ScenarioMatch, map[string]any{
			"attempted": false, "skipReason": "DISABLED",
		})
	default:
		t.match = p.matchScenario(tctx, t)
	}

	if elapsed := time.Since(start); tctx.Err() != nil || elapsed > p.s4aBudget {
		t.col.Emit(types.EventS4ATimedOut, map[string]any{"elapsedMs": elapsed.Milliseconds()})
		t.match = nil
	}
	p.metrics.RecordStage(ctx, "s4a", time.Since(start))
}

func (p *Pipeline) matchScenario(ctx context.Context, t *turnState) *scenario.Match {
	cands, err := p.scenarios.List(ctx, t.req.TenantID)
	if err != nil {
		p.log.Warn("pipeline: list scenarios", "tenant", t.req.TenantID, "error", err)
		t.col.Emit(types.EventScenarioMatchError, map[string]any{"error": err.Error()})
		return nil
	}

	matchStart := time.Now()
	m := p.matcher.Match(ctx, t.norm.Expanded, cands, scenario.Options{
		MinConfidence: t.cfg.Triage.MinConfidence,
		AllowedTypes:  t.cfg.Discovery.AutoReplyAllowedScenarioTypes,
		AllowTier3:    t.cfg.Discovery.ForceLLMDiscovery,
		Channel:       t.req.Channel,
	})

	data := map[string]any{
		"attempted":     true,
		"allowedTypes":  t.cfg.Discovery.AutoReplyAllowedScenarioTypes,
		"minConfidence": t.cfg.Triage.MinConfidence,
		"selected":      m != nil,
	}
	if m != nil {
		data["topScenarioId"] = m.Scenario.ID
		data["topScenarioScore"] = m.Score
		data["topScenarioType"] = m.Scenario.Type
		data["tier"] = m.Tier
		data["reason"] = "SCORE_ABOVE_THRESHOLD_AND_TYPE_ALLOWED"
		p.metrics.RecordMatch(ctx, m.Tier, time.Since(matchStart))
	}
	t.col.Emit(types.EventS4A2ScenarioMatch, data)
	return m
}

// selectOwner (S4B) picks the single component authorised to speak this turn.
func (p *Pipeline) selectOwner(t *turnState) outcome {
	switch {
	case t.st.Lane == types.LaneBooking:
		return outcome{owner: types.OwnerBookingFlow, reason: "LANE_BOOKING", opener: true}
	case t.match != nil:
		return outcome{owner: types.OwnerTriageScenario, reason: "SCENARIO_MATCH_SELECTED", opener: true}
	default:
		return outcome{owner: types.OwnerDiscoveryFlow, reason: "NO_SCENARIO_MATCH", opener: true}
	}
}

// compose (S6) executes the selected owner and fills the outcome.
func (p *Pipeline) compose(t *turnState, out *outcome) {
	switch out.owner {
	case types.OwnerTriageScenario:
		p.composeScenario(t, out)
	case types.OwnerBookingFlow:
		p.composeBooking(t, out)
	default:
		p.composeDiscovery(t, out)
	}
}

func (p *Pipeline) composeScenario(t *turnState, out *outcome) {
	sc := t.match.Scenario
	reply := p.pickReply(sc, t.req.Channel)
	out.text, out.audioURL = reply.Text, reply.AudioURL
	t.st.LastScenarioID = sc.ID

	switch sc.FollowUp.Mode {
	case scenario.FollowUpAskQuestion:
		if q := sc.FollowUp.QuestionText; q != "" {
			out.text = joinSentences(out.text, q)
			out.directives.FollowUpQuestion = q
		}
	case scenario.FollowUpAskIfBook:
		q := sc.FollowUp.QuestionText
		if q == "" {
			q = "Would you like to set up an appointment?"
		}
		out.text = joinSentences(out.text, q)
		t.st.OfferPending = true
	case scenario.FollowUpTransfer:
		// An empty target falls through: the reply is spoken and the call
		// stays with the assistant.
		if target := sc.FollowUp.TransferTarget; target != "" {
			out.directives.Transfer = &types.TransferDirective{Target: target}
			t.st.Lane = types.LaneTerminated
			out.opener = false
		}
	}
}

func (p *Pipeline) composeDiscovery(t *turnState, out *outcome) {
	r := flow.RunDiscovery(t.st, t.cfg)
	if !r.Done {
		out.text = r.Prompt
		return
	}
	t.st.OfferPending = true
	out.text = "Thanks, I have everything I need. Would you like to schedule a visit?"
}

func (p *Pipeline) composeBooking(t *turnState, out *outcome) {
	r := flow.RunBooking(t.st, t.cfg, flow.BookingInput{
		Normalized:  t.norm.Normalized,
		Corrections: t.extracted,
		TurnIndex:   t.index,
	})
	if !r.Done {
		out.text = r.Prompt
		return
	}
	t.st.Lane = types.LaneTerminated
	out.text = "You're all set. We'll give you a call shortly to confirm the appointment. Thanks for calling!"
	out.directives.Hangup = true
	out.opener = false
}

func signalsData(sig triage.Signals) map[string]any {
	data := map[string]any{"attempted": sig.Attempted}
	if sig.SkipReason != "" {
		data["skipReason"] = sig.SkipReason
	}
	if !sig.Attempted {
		return data
	}
	data["intentGuess"] = sig.IntentGuess
	data["confidence"] = sig.Confidence
	if sig.CallReasonDetail != "" {
		data["callReasonDetail"] = sig.CallReasonDetail
	}
	if sig.Urgency != "" {
		data["urgency"] = sig.Urgency
	}
	if len(sig.Symptoms) > 0 {
		data["symptoms"] = sig.Symptoms
	}
	if sig.MatchedCardID != "" {
		data["matchedCardId"] = sig.MatchedCardID
	}
	return data
}

func flowOwner(lane types.Lane) types.Owner {
	if lane == types.LaneBooking {
		return types.OwnerBookingFlow
	}
	return types.OwnerDiscoveryFlow
}

func troublePhrase(lowered string, phrases []string) bool {
	for _, ph := range phrases {
		if ph != "" && strings.Contains(lowered, ph) {
			return true
		}
	}
	return false
}

func joinSentences(a, b string) string {
	if a == "" {
		return b
	}
	return a + " " + b
}

// containsPhrase is word-boundary phrase containment over space-separated
// tokens.
func containsPhrase(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	return strings.Contains(" "+text+" ", " "+phrase+" ")
}
