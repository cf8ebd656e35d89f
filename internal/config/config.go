// Package config provides the tenant configuration schema, platform defaults,
// the YAML loader, and the resolver that merges defaults with per-tenant
// overrides. The resolved view is immutable: the pipeline reads a snapshot per
// turn and never writes back.
package config

import (
	"time"

	"github.com/voxlinehq/voxline/pkg/types"
)

// ConfirmMode controls how a slot value moves from pending to confirmed.
type ConfirmMode string

const (
	// ConfirmAlways forces an explicit confirmation turn even during discovery.
	ConfirmAlways ConfirmMode = "always"

	// ConfirmWhenBooking defers confirmation to the booking flow (the default).
	ConfirmWhenBooking ConfirmMode = "when_booking"

	// ConfirmNever promotes the value without a confirmation prompt.
	ConfirmNever ConfirmMode = "never"
)

// IsValid reports whether m is a recognised confirm mode.
func (m ConfirmMode) IsValid() bool {
	switch m {
	case ConfirmAlways, ConfirmWhenBooking, ConfirmNever:
		return true
	}
	return false
}

// SlotSpec declares one typed slot in the tenant's slot registry.
type SlotSpec struct {
	// Type is the value type: "name", "phone", "address", "text".
	Type string `yaml:"type" json:"type"`

	// Required marks the slot as mandatory for booking completion.
	Required bool `yaml:"required" json:"required"`

	// ConfirmMode controls pending → confirmed promotion behaviour.
	ConfirmMode ConfirmMode `yaml:"confirm_mode" json:"confirmMode"`

	// Extractors names the built-in extractors tried in order for this slot.
	Extractors []string `yaml:"extractors" json:"extractors"`
}

// FlowStep is one step of a discovery or booking flow: ask promptTemplate
// until slotID is satisfied.
type FlowStep struct {
	SlotID         string `yaml:"slot_id" json:"slotId"`
	PromptTemplate string `yaml:"prompt_template" json:"promptTemplate"`
}

// Flow is an ordered list of steps walked by a flow runner.
type Flow struct {
	Steps []FlowStep `yaml:"steps" json:"steps"`
}

// TriageConfig controls the triage signal router (C4).
type TriageConfig struct {
	Enabled       bool    `yaml:"enabled" json:"enabled"`
	MinConfidence float64 `yaml:"min_confidence" json:"minConfidence"`
	AutoOnProblem bool    `yaml:"auto_on_problem" json:"autoOnProblem"`
}

// DiscoveryConfig controls scenario auto-replies while the call is in the
// discovery lane.
type DiscoveryConfig struct {
	DisableScenarioAutoResponses  bool                 `yaml:"disable_scenario_auto_responses" json:"disableScenarioAutoResponses"`
	AutoReplyAllowedScenarioTypes []types.ScenarioType `yaml:"auto_reply_allowed_scenario_types" json:"autoReplyAllowedScenarioTypes"`
	ForceLLMDiscovery             bool                 `yaml:"force_llm_discovery" json:"forceLLMDiscovery"`
}

// DetectionTriggers holds the four ordered pattern sets evaluated by the
// detection trigger engine (C5). A non-empty tenant list replaces the
// platform default for that set.
type DetectionTriggers struct {
	DescribingProblem  []string `yaml:"describing_problem" json:"describingProblem"`
	TrustConcern       []string `yaml:"trust_concern" json:"trustConcern"`
	CallerFeelsIgnored []string `yaml:"caller_feels_ignored" json:"callerFeelsIgnored"`
	RefusedSlot        []string `yaml:"refused_slot" json:"refusedSlot"`
}

// Vocabulary is the additive text-normalisation vocabulary: tenant entries
// merge with (never replace) platform defaults.
type Vocabulary struct {
	// Synonyms maps spoken variants to canonical forms ("broken" → "not working").
	Synonyms map[string]string `yaml:"synonyms" json:"synonyms"`

	// Expansions maps domain shorthand to expanded forms ("a/c" → "air conditioning").
	Expansions map[string]string `yaml:"expansions" json:"expansions"`

	// Fillers lists tokens stripped during normalisation ("uh", "um").
	Fillers []string `yaml:"fillers" json:"fillers"`
}

// QualityConfig tunes the S1.5 connection quality gate.
type QualityConfig struct {
	MinSTTConfidence  float64  `yaml:"min_stt_confidence" json:"minSTTConfidence"`
	TroublePhrases    []string `yaml:"trouble_phrases" json:"troublePhrases"`
	MaxClarifications int      `yaml:"max_clarifications" json:"maxClarifications"`
	ClarifyPrompt     string   `yaml:"clarify_prompt" json:"clarifyPrompt"`
}

// EscalationConfig tunes the S2.5 hard-stop escalation detector.
type EscalationConfig struct {
	Patterns       []string `yaml:"patterns" json:"patterns"`
	TransferTarget string   `yaml:"transfer_target" json:"transferTarget"`
}

// BusyPolicy decides what happens when a second turn arrives while one is in
// flight for the same call.
type BusyPolicy string

const (
	// BusyWait blocks up to LockWait for the in-flight turn, then rejects.
	BusyWait BusyPolicy = "wait"

	// BusyReject rejects immediately with a busy status.
	BusyReject BusyPolicy = "reject"
)

// IsValid reports whether p is a recognised busy policy.
func (p BusyPolicy) IsValid() bool { return p == BusyWait || p == BusyReject }

// ConcurrencyConfig sets the per-deployment overlap policy. It must be
// deterministic per tenant.
type ConcurrencyConfig struct {
	BusyPolicy BusyPolicy    `yaml:"busy_policy" json:"busyPolicy"`
	LockWait   time.Duration `yaml:"lock_wait" json:"lockWait"`
}

// Resolved is the fully merged configuration view a turn runs against.
// It is produced by [Resolver.Resolve] and treated as immutable by readers.
type Resolved struct {
	Triage            TriageConfig      `yaml:"triage" json:"triage"`
	Discovery         DiscoveryConfig   `yaml:"discovery" json:"discovery"`
	ExperimentalS4A   bool              `yaml:"experimental_s4a" json:"experimentalS4A"`
	DetectionTriggers DetectionTriggers `yaml:"detection_triggers" json:"detectionTriggers"`
	Slots             map[string]SlotSpec `yaml:"slots" json:"slots"`
	DiscoveryFlow     Flow              `yaml:"discovery_flow" json:"discoveryFlow"`
	BookingFlow       Flow              `yaml:"booking_flow" json:"bookingFlow"`
	Openers           []string          `yaml:"openers" json:"openers"`
	Vocabulary        Vocabulary        `yaml:"vocabulary" json:"vocabulary"`
	Quality           QualityConfig     `yaml:"quality" json:"quality"`
	Escalation        EscalationConfig  `yaml:"escalation" json:"escalation"`
	Greeting          string            `yaml:"greeting" json:"greeting"`
	Concurrency       ConcurrencyConfig `yaml:"concurrency" json:"concurrency"`
}

// Overrides is the per-tenant override document. Scalar fields are pointers
// so that "absent" and "explicitly false/zero" are distinguishable; list and
// map fields use nil for absent. Merge semantics: tenant wins for scalars,
// non-empty lists replace defaults, vocabulary is additive.
type Overrides struct {
	Triage *struct {
		Enabled       *bool    `yaml:"enabled" json:"enabled"`
		MinConfidence *float64 `yaml:"min_confidence" json:"minConfidence"`
		AutoOnProblem *bool    `yaml:"auto_on_problem" json:"autoOnProblem"`
	} `yaml:"triage" json:"triage"`

	Discovery *struct {
		DisableScenarioAutoResponses  *bool                `yaml:"disable_scenario_auto_responses" json:"disableScenarioAutoResponses"`
		AutoReplyAllowedScenarioTypes []types.ScenarioType `yaml:"auto_reply_allowed_scenario_types" json:"autoReplyAllowedScenarioTypes"`
		ForceLLMDiscovery             *bool                `yaml:"force_llm_discovery" json:"forceLLMDiscovery"`
	} `yaml:"discovery" json:"discovery"`

	ExperimentalS4A *bool `yaml:"experimental_s4a" json:"experimentalS4A"`

	DetectionTriggers *DetectionTriggers  `yaml:"detection_triggers" json:"detectionTriggers"`
	Slots             map[string]SlotSpec `yaml:"slots" json:"slots"`
	DiscoveryFlow     *Flow               `yaml:"discovery_flow" json:"discoveryFlow"`
	BookingFlow       *Flow               `yaml:"booking_flow" json:"bookingFlow"`
	Openers           []string            `yaml:"openers" json:"openers"`
	Vocabulary        *Vocabulary         `yaml:"vocabulary" json:"vocabulary"`
	Quality           *QualityConfig      `yaml:"quality" json:"quality"`
	Escalation        *EscalationConfig   `yaml:"escalation" json:"escalation"`
	Greeting          *string             `yaml:"greeting" json:"greeting"`
}

// Merge overlays o onto base and returns the merged view. base is not
// mutated; maps and slices in the result are fresh copies so callers can
// treat the output as immutable.
func Merge(base Resolved, o *Overrides) Resolved {
	out := base
	out.Slots = copySlotMap(base.Slots)
	out.Vocabulary = copyVocabulary(base.Vocabulary)

	if o == nil {
		return out
	}

	if o.Triage != nil {
		if o.Triage.Enabled != nil {
			out.Triage.Enabled = *o.Triage.Enabled
		}
		if o.Triage.MinConfidence != nil {
			out.Triage.MinConfidence = *o.Triage.MinConfidence
		}
		if o.Triage.AutoOnProblem != nil {
			out.Triage.AutoOnProblem = *o.Triage.AutoOnProblem
		}
	}

	if o.Discovery != nil {
		if o.Discovery.DisableScenarioAutoResponses != nil {
			out.Discovery.DisableScenarioAutoResponses = *o.Discovery.DisableScenarioAutoResponses
		}
		if len(o.Discovery.AutoReplyAllowedScenarioTypes) > 0 {
			out.Discovery.AutoReplyAllowedScenarioTypes = append([]types.ScenarioType(nil), o.Discovery.AutoReplyAllowedScenarioTypes...)
		}
		if o.Discovery.ForceLLMDiscovery != nil {
			out.Discovery.ForceLLMDiscovery = *o.Discovery.ForceLLMDiscovery
		}
	}

	if o.ExperimentalS4A != nil {
		out.ExperimentalS4A = *o.ExperimentalS4A
	}

	if o.DetectionTriggers != nil {
		// Non-empty tenant list replaces the default set; empty keeps defaults.
		if len(o.DetectionTriggers.DescribingProblem) > 0 {
			out.DetectionTriggers.DescribingProblem = append([]string(nil), o.DetectionTriggers.DescribingProblem...)
		}
		if len(o.DetectionTriggers.TrustConcern) > 0 {
			out.DetectionTriggers.TrustConcern = append([]string(nil), o.DetectionTriggers.TrustConcern...)
		}
		if len(o.DetectionTriggers.CallerFeelsIgnored) > 0 {
			out.DetectionTriggers.CallerFeelsIgnored = append([]string(nil), o.DetectionTriggers.CallerFeelsIgnored...)
		}
		if len(o.DetectionTriggers.RefusedSlot) > 0 {
			out.DetectionTriggers.RefusedSlot = append([]string(nil), o.DetectionTriggers.RefusedSlot...)
		}
	}

	if len(o.Slots) > 0 {
		// Slot registry replaces wholesale: partial slot merges would leave
		// extractor lists in an ambiguous half-default state.
		out.Slots = copySlotMap(o.Slots)
	}
	if o.DiscoveryFlow != nil && len(o.DiscoveryFlow.Steps) > 0 {
		out.DiscoveryFlow = Flow{Steps: append([]FlowStep(nil), o.DiscoveryFlow.Steps...)}
	}
	if o.BookingFlow != nil && len(o.BookingFlow.Steps) > 0 {
		out.BookingFlow = Flow{Steps: append([]FlowStep(nil), o.BookingFlow.Steps...)}
	}
	if len(o.Openers) > 0 {
		out.Openers = append([]string(nil), o.Openers...)
	}

	if o.Vocabulary != nil {
		// Vocabulary is declared additive: merge, tenant entry wins on key clash.
		for k, v := range o.Vocabulary.Synonyms {
			out.Vocabulary.Synonyms[k] = v
		}
		for k, v := range o.Vocabulary.Expansions {
			out.Vocabulary.Expansions[k] = v
		}
		out.Vocabulary.Fillers = appendUnique(out.Vocabulary.Fillers, o.Vocabulary.Fillers)
	}

	if o.Quality != nil {
		if o.Quality.MinSTTConfidence > 0 {
			out.Quality.MinSTTConfidence = o.Quality.MinSTTConfidence
		}
		if len(o.Quality.TroublePhrases) > 0 {
			out.Quality.TroublePhrases = append([]string(nil), o.Quality.TroublePhrases...)
		}
		if o.Quality.MaxClarifications > 0 {
			out.Quality.MaxClarifications = o.Quality.MaxClarifications
		}
		if o.Quality.ClarifyPrompt != "" {
			out.Quality.ClarifyPrompt = o.Quality.ClarifyPrompt
		}
	}

	if o.Escalation != nil {
		if len(o.Escalation.Patterns) > 0 {
			out.Escalation.Patterns = append([]string(nil), o.Escalation.Patterns...)
		}
		if o.Escalation.TransferTarget != "" {
			out.Escalation.TransferTarget = o.Escalation.TransferTarget
		}
	}

	if o.Greeting != nil {
		out.Greeting = *o.Greeting
	}

	return out
}

func copySlotMap(in map[string]SlotSpec) map[string]SlotSpec {
	out := make(map[string]SlotSpec, len(in))
	for k, v := range in {
		v.Extractors = append([]string(nil), v.Extractors...)
		out[k] = v
	}
	return out
}

func copyVocabulary(in Vocabulary) Vocabulary {
	out := Vocabulary{
		Synonyms:   make(map[string]string, len(in.Synonyms)),
		Expansions: make(map[string]string, len(in.Expansions)),
		Fillers:    append([]string(nil), in.Fillers...),
	}
	for k, v := range in.Synonyms {
		out.Synonyms[k] = v
	}
	for k, v := range in.Expansions {
		out.Expansions[k] = v
	}
	return out
}

func appendUnique(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base))
	for _, s := range base {
		seen[s] = struct{}{}
	}
	for _, s := range extra {
		if _, ok := seen[s]; !ok {
			base = append(base, s)
			seen[s] = struct{}{}
		}
	}
	return base
}
