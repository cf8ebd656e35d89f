package config

import (
	"time"

	"github.com/voxlinehq/voxline/pkg/types"
)

// Defaults returns the platform default configuration. Tenants start from
// this view; overrides are layered on top by [Merge]. The function returns a
// fresh value on every call so callers may not alias shared state.
func Defaults() Resolved {
	return Resolved{
		Triage: TriageConfig{
			Enabled:       true,
			MinConfidence: 0.62,
			AutoOnProblem: true,
		},
		Discovery: DiscoveryConfig{
			DisableScenarioAutoResponses: false,
			AutoReplyAllowedScenarioTypes: []types.ScenarioType{
				types.ScenarioFAQ,
				types.ScenarioTroubleshoot,
				types.ScenarioEmergency,
			},
		},
		DetectionTriggers: DetectionTriggers{
			DescribingProblem: []string{
				"not working", "broken", "leaking", "is down", "went out",
				"stopped", "won't turn on", "wont turn on", "no power",
				"making a noise", "smells like", "flooding", "clogged",
			},
			TrustConcern: []string{
				"is this a real person", "are you a robot", "are you a machine",
				"i don't trust", "i dont trust", "scam", "is this automated",
			},
			CallerFeelsIgnored: []string{
				"i already told you", "i just said", "you're not listening",
				"youre not listening", "like i said", "as i said",
			},
			RefusedSlot: []string{
				"i'd rather not", "id rather not", "i won't give", "i wont give",
				"none of your business", "why do you need", "no thanks",
				"i don't want to say", "i dont want to say", "skip that",
			},
		},
		Slots: map[string]SlotSpec{
			"first_name": {Type: "name", Required: false, ConfirmMode: ConfirmWhenBooking, Extractors: []string{"first_name"}},
			"last_name":  {Type: "name", Required: true, ConfirmMode: ConfirmWhenBooking, Extractors: []string{"last_name"}},
			"phone":      {Type: "phone", Required: true, ConfirmMode: ConfirmWhenBooking, Extractors: []string{"phone"}},
			"address":    {Type: "address", Required: true, ConfirmMode: ConfirmWhenBooking, Extractors: []string{"address"}},
			"call_reason_detail": {Type: "text", Required: true, ConfirmMode: ConfirmNever, Extractors: []string{"call_reason"}},
		},
		DiscoveryFlow: Flow{Steps: []FlowStep{
			{SlotID: "call_reason_detail", PromptTemplate: "What can we help you with today?"},
			{SlotID: "last_name", PromptTemplate: "Can I get your name, please?"},
			{SlotID: "address", PromptTemplate: "What's the address where you need service?"},
			{SlotID: "phone", PromptTemplate: "And the best phone number to reach you?"},
		}},
		BookingFlow: Flow{Steps: []FlowStep{
			{SlotID: "last_name", PromptTemplate: "Can I get your name for the appointment?"},
			{SlotID: "address", PromptTemplate: "What address should we send the technician to?"},
			{SlotID: "phone", PromptTemplate: "What phone number should we use to confirm?"},
		}},
		Openers: []string{
			"Alright.", "Got it.", "Okay.", "Sure.", "Understood.",
		},
		Vocabulary: Vocabulary{
			Synonyms: map[string]string{
				"broken":  "not working",
				"busted":  "not working",
				"dead":    "not working",
				"kaput":   "not working",
			},
			Expansions: map[string]string{
				"a/c":  "air conditioning",
				"ac":   "air conditioning",
				"temp": "temperature",
			},
			Fillers: []string{
				"uh", "um", "uhm", "er", "ah", "like", "you know", "i mean",
				"kind of", "sort of", "well", "so", "basically", "actually",
			},
		},
		Quality: QualityConfig{
			MinSTTConfidence:  0.35,
			MaxClarifications: 2,
			TroublePhrases: []string{
				"can you hear me", "you're breaking up", "youre breaking up",
				"bad connection", "hello? hello", "are you there", "can't hear you",
				"cant hear you",
			},
			ClarifyPrompt: "I'm sorry, I didn't catch that — could you say it again?",
		},
		Escalation: EscalationConfig{
			Patterns: []string{
				"get me a human", "talk to a person", "speak to a person",
				"real person", "representative", "talk to someone",
				"speak to a human", "operator",
			},
		},
		Greeting:    "Thanks for calling! How can I help you today?",
		Concurrency: ConcurrencyConfig{BusyPolicy: BusyWait, LockWait: 200 * time.Millisecond},
	}
}
