// Package types defines the wire-level contract between the voxline dialogue
// core and its external collaborators: the telephony webhook layer that
// delivers transcribed caller turns, and the admin layer that reads the event
// journal. Everything here is plain data — no behaviour, no back-references
// into the runtime.
package types

import "time"

// Channel identifies the medium a turn arrived on. Voice is the primary
// channel; sms and chat reuse the same pipeline with different reply
// preferences.
type Channel string

const (
	ChannelVoice Channel = "voice"
	ChannelSMS   Channel = "sms"
	ChannelChat  Channel = "chat"
)

// IsValid reports whether c is a recognised channel.
func (c Channel) IsValid() bool {
	switch c {
	case ChannelVoice, ChannelSMS, ChannelChat:
		return true
	}
	return false
}

// Lane is the high-level mode of a call. Transitions are monotone:
// DISCOVERY → BOOKING → TERMINATED, never backwards.
type Lane string

const (
	LaneDiscovery  Lane = "DISCOVERY"
	LaneBooking    Lane = "BOOKING"
	LaneTerminated Lane = "TERMINATED"
)

// rank orders lanes for the monotonicity check.
func (l Lane) rank() int {
	switch l {
	case LaneDiscovery:
		return 0
	case LaneBooking:
		return 1
	case LaneTerminated:
		return 2
	}
	return -1
}

// IsValid reports whether l is a recognised lane.
func (l Lane) IsValid() bool { return l.rank() >= 0 }

// CanTransitionTo reports whether moving from l to next respects the
// DISCOVERY → BOOKING → TERMINATED ordering. Staying in the same lane is
// always allowed.
func (l Lane) CanTransitionTo(next Lane) bool {
	return l.IsValid() && next.IsValid() && next.rank() >= l.rank()
}

// Owner names the single component authorised to produce the final response
// text for a turn. Every turn has exactly one owner, recorded in the
// S4B_OWNER_SELECTED journal event.
type Owner string

const (
	OwnerTriageScenario Owner = "TRIAGE_SCENARIO"
	OwnerDiscoveryFlow  Owner = "DISCOVERY_FLOW"
	OwnerBookingFlow    Owner = "BOOKING_FLOW"
	OwnerGreeting       Owner = "GREETING"
	OwnerTransfer       Owner = "TRANSFER"
)

// IsValid reports whether o is a recognised owner.
func (o Owner) IsValid() bool {
	switch o {
	case OwnerTriageScenario, OwnerDiscoveryFlow, OwnerBookingFlow, OwnerGreeting, OwnerTransfer:
		return true
	}
	return false
}

// ScenarioType classifies a scenario's knowledge-tool role. The set is
// closed; matching logic dispatches on it and tenant config restricts which
// types may auto-reply during discovery.
type ScenarioType string

const (
	ScenarioFAQ          ScenarioType = "FAQ"
	ScenarioTroubleshoot ScenarioType = "TROUBLESHOOT"
	ScenarioEmergency    ScenarioType = "EMERGENCY"
	ScenarioSmallTalk    ScenarioType = "SMALL_TALK"
	ScenarioActionFlow   ScenarioType = "ACTION_FLOW"
	ScenarioSystemAck    ScenarioType = "SYSTEM_ACK"
	ScenarioInfoFAQ      ScenarioType = "INFO_FAQ"
)

// IsValid reports whether t is a recognised scenario type.
func (t ScenarioType) IsValid() bool {
	switch t {
	case ScenarioFAQ, ScenarioTroubleshoot, ScenarioEmergency, ScenarioSmallTalk,
		ScenarioActionFlow, ScenarioSystemAck, ScenarioInfoFAQ:
		return true
	}
	return false
}

// SlotSource records where a pending slot value came from. Confirmation
// behaviour downstream depends on this provenance tag.
type SlotSource string

const (
	SourceExtraction      SlotSource = "EXTRACTION"
	SourceTriage          SlotSource = "TRIAGE"
	SourceCallerVolunteer SlotSource = "CALLER_VOLUNTEER"
)

// TurnRequest is the inbound envelope from the webhook layer: one caller
// utterance, already transcribed by the carrier's STT.
type TurnRequest struct {
	TenantID      string            `json:"tenantId"`
	CallID        string            `json:"callId"`
	TurnIndex     int               `json:"turnIndex,omitempty"`
	Transcript    string            `json:"transcript"`
	STTConfidence float64           `json:"sttConfidence"`
	Channel       Channel           `json:"channel"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// ResponsePayload carries what the caller hears. Text is always present,
// even on fallback paths; AudioURL is set only when the selected scenario
// declared a pre-recorded audio artifact.
type ResponsePayload struct {
	Text     string `json:"text"`
	AudioURL string `json:"audioUrl,omitempty"`
}

// TransferDirective asks the webhook layer to hand the call to a human
// target (extension, queue, or external number — the core does not care).
type TransferDirective struct {
	Target string `json:"target"`
}

// Directives are side instructions for the webhook layer, orthogonal to the
// spoken response.
type Directives struct {
	Transfer         *TransferDirective `json:"transfer,omitempty"`
	Hangup           bool               `json:"hangup,omitempty"`
	FollowUpQuestion string             `json:"followUpQuestion,omitempty"`

	// Empathy asks the voice layer for a softer delivery. Set when the
	// caller voiced distrust, or asked for a human while no transfer
	// target is configured.
	Empathy bool `json:"empathy,omitempty"`
}

// StateView is the caller-visible snapshot of call state returned with every
// turn. Values are plain strings; typed interpretation stays inside the core.
type StateView struct {
	Lane           Lane              `json:"lane"`
	PendingSlots   map[string]string `json:"pendingSlots"`
	ConfirmedSlots map[string]string `json:"confirmedSlots"`
}

// TurnResponse is the outbound envelope. The core returns a well-formed
// TurnResponse in all cases, including internal faults.
type TurnResponse struct {
	Response   ResponsePayload `json:"response"`
	Directives Directives      `json:"directives"`
	State      StateView       `json:"state"`
	Events     []Event         `json:"events"`
}

// EventType enumerates the journal record codes. The SECTION_* codes map
// one-to-one onto pipeline stages; the remainder are error and operational
// codes.
type EventType string

const (
	EventS1RuntimeOwner          EventType = "SECTION_S1_RUNTIME_OWNER"
	EventS15ConnectionQuality    EventType = "SECTION_S1_5_CONNECTION_QUALITY_GATE"
	EventInputTextSelected       EventType = "INPUT_TEXT_SELECTED"
	EventS25EscalationDetected   EventType = "SECTION_S2_5_ESCALATION_DETECTED"
	EventGreetingIntercept       EventType = "SECTION_GREETING_INTERCEPT"
	EventS3SlotExtraction        EventType = "SECTION_S3_SLOT_EXTRACTION"
	EventS3PendingSlotsStored    EventType = "SECTION_S3_PENDING_SLOTS_STORED"
	EventS35DescribingProblem    EventType = "SECTION_S3_5_DESCRIBING_PROBLEM_DETECTED"
	EventS35TrustConcern         EventType = "SECTION_S3_5_TRUST_CONCERN_DETECTED"
	EventS35CallerFeelsIgnored   EventType = "SECTION_S3_5_CALLER_FEELS_IGNORED_DETECTED"
	EventS35RefusedSlot          EventType = "SECTION_S3_5_REFUSED_SLOT_DETECTED"
	EventS4A1TriageSignals       EventType = "SECTION_S4A_1_TRIAGE_SIGNALS"
	EventS4A2ScenarioMatch       EventType = "SECTION_S4A_2_SCENARIO_MATCH"
	EventS4BOwnerSelected        EventType = "SECTION_S4B_DISCOVERY_OWNER_SELECTED"
	EventS5ConsentGate           EventType = "SECTION_S5_CONSENT_GATE"
	EventS6Response              EventType = "SECTION_S6_RESPONSE"
	EventS4ATimedOut             EventType = "S4A_TIMED_OUT"
	EventScenarioMatchError      EventType = "SCENARIO_MATCH_ERROR"
	EventStateLoadFailed         EventType = "STATE_LOAD_FAILED"
	EventStateInvariant          EventType = "STATE_INVARIANT"
	EventConfigInvalid           EventType = "CONFIG_INVALID"
	EventConfigResolveFailed     EventType = "CONFIG_RESOLVE_FAILED"
	EventJournalBackpressure     EventType = "EVENT_JOURNAL_BACKPRESSURE"
	EventTurnRejectedBusy        EventType = "TURN_REJECTED_BUSY"
	EventTurnFailed              EventType = "TURN_FAILED"
)

// Event is one append-only journal record. Seq is monotonic within a
// (callId, turnIndex) pair; Data is a free-form decision payload whose shape
// depends on Type.
type Event struct {
	CallID      string         `json:"callId"`
	TenantID    string         `json:"tenantId"`
	TurnIndex   int            `json:"turnIndex"`
	Seq         int            `json:"seq"`
	Type        EventType      `json:"type"`
	TimestampMs int64          `json:"timestampMs"`
	Data        map[string]any `json:"data,omitempty"`
}

// NewEvent builds an Event stamped with the current wall clock. Seq is
// assigned later by the turn's event collector.
func NewEvent(tenantID, callID string, turnIndex int, typ EventType, data map[string]any) Event {
	return Event{
		CallID:      callID,
		TenantID:    tenantID,
		TurnIndex:   turnIndex,
		Type:        typ,
		TimestampMs: time.Now().UnixMilli(),
		Data:        data,
	}
}
