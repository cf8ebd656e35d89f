// Package callstate holds the authoritative per-call dialogue state and its
// stores. State is keyed by (tenantID, callID); a turn loads it, mutates a
// copy, and persists the copy under a per-call lock, so readers never see a
// half-applied turn.
package callstate

import (
	"errors"
	"fmt"

	"github.com/voxlinehq/voxline/pkg/types"
)

// SchemaVersion is stamped on persisted state for forward migrations.
const SchemaVersion = 1

// SlotValue is one captured slot with its provenance.
type SlotValue struct {
	Value     string           `json:"value"`
	Source    types.SlotSource `json:"source"`
	TurnIndex int              `json:"turnIndex"`
}

// State is the full dialogue state of one call.
type State struct {
	TenantID string     `json:"tenantId"`
	CallID   string     `json:"callId"`
	Lane     types.Lane `json:"lane"`

	// TurnIndex is the highest turn applied to this state. Persisting a
	// lower or equal index is rejected so a delayed duplicate can never
	// roll the call back.
	TurnIndex int `json:"turnIndex"`

	// PendingSlots and ConfirmedSlots are disjoint by invariant: confirming
	// a slot moves it, never copies it.
	PendingSlots   map[string]SlotValue `json:"pendingSlots"`
	ConfirmedSlots map[string]SlotValue `json:"confirmedSlots"`

	// Refused marks slots the caller declined to provide. A refused slot is
	// never re-prompted for the rest of the call.
	Refused map[string]bool `json:"refused,omitempty"`

	// RepromptCounts tracks per-slot flow reprompts.
	RepromptCounts map[string]int `json:"repromptCounts,omitempty"`

	// ClarifyCount is the number of low-quality-input clarifications issued.
	ClarifyCount int `json:"clarifyCount,omitempty"`

	// LastOpener feeds the anti-repetition guard.
	LastOpener string `json:"lastOpener,omitempty"`

	// OfferPending is true when the previous assistant turn asked the
	// caller whether they would like to book.
	OfferPending bool `json:"offerPending,omitempty"`

	// ConsentExplicit records that booking consent came from answering an
	// explicit offer, as opposed to direct intent or the emergency fast
	// path.
	ConsentExplicit bool `json:"consentExplicit,omitempty"`

	// Greeted is set once the greeting interceptor has answered.
	Greeted bool `json:"greeted,omitempty"`

	// LastScenarioID is the most recent scenario that produced a reply.
	LastScenarioID string `json:"lastScenarioId,omitempty"`

	// ConfirmingSlot is the slot the booking flow is currently asking the
	// caller to confirm, empty when none.
	ConfirmingSlot string `json:"confirmingSlot,omitempty"`

	SchemaVersion int   `json:"schemaVersion"`
	UpdatedAtMs   int64 `json:"updatedAtMs"`
}

// New returns the initial state for a call: discovery lane, turn -1 so the
// first turn (index 0) passes the monotonicity guard.
func New(tenantID, callID string) State {
	return State{
		TenantID:       tenantID,
		CallID:         callID,
		Lane:           types.LaneDiscovery,
		TurnIndex:      -1,
		PendingSlots:   map[string]SlotValue{},
		ConfirmedSlots: map[string]SlotValue{},
		SchemaVersion:  SchemaVersion,
	}
}

// Validate checks the state invariants.
func (s *State) Validate() error {
	var errs []error
	if s.TenantID == "" || s.CallID == "" {
		errs = append(errs, errors.New("callstate: tenant and call ids are required"))
	}
	if !s.Lane.IsValid() {
		errs = append(errs, fmt.Errorf("callstate: invalid lane %q", s.Lane))
	}
	for id := range s.PendingSlots {
		if _, dup := s.ConfirmedSlots[id]; dup {
			errs = append(errs, fmt.Errorf("callstate: slot %q is both pending and confirmed", id))
		}
	}
	for id, v := range s.PendingSlots {
		if v.Value == "" {
			errs = append(errs, fmt.Errorf("callstate: pending slot %q has empty value", id))
		}
	}
	for id, v := range s.ConfirmedSlots {
		if v.Value == "" {
			errs = append(errs, fmt.Errorf("callstate: confirmed slot %q has empty value", id))
		}
	}
	return errors.Join(errs...)
}

// Clone deep-copies the state so a turn can mutate freely before persisting.
func (s State) Clone() State {
	c := s
	c.PendingSlots = copySlots(s.PendingSlots)
	c.ConfirmedSlots = copySlots(s.ConfirmedSlots)
	if s.Refused != nil {
		c.Refused = make(map[string]bool, len(s.Refused))
		for k, v := range s.Refused {
			c.Refused[k] = v
		}
	}
	if s.RepromptCounts != nil {
		c.RepromptCounts = make(map[string]int, len(s.RepromptCounts))
		for k, v := range s.RepromptCounts {
			c.RepromptCounts[k] = v
		}
	}
	return c
}

// SetPending records a pending slot unless the slot is refused or already
// confirmed. Re-extraction overwrites the pending value.
func (s *State) SetPending(slotID, value string, source types.SlotSource, turnIndex int) {
	if value == "" || s.Refused[slotID] {
		return
	}
	if _, confirmed := s.ConfirmedSlots[slotID]; confirmed {
		return
	}
	if s.PendingSlots == nil {
		s.PendingSlots = map[string]SlotValue{}
	}
	s.PendingSlots[slotID] = SlotValue{Value: value, Source: source, TurnIndex: turnIndex}
}

// Confirm promotes a pending slot to confirmed. Confirming an unknown slot
// is a no-op.
func (s *State) Confirm(slotID string) {
	v, ok := s.PendingSlots[slotID]
	if !ok {
		return
	}
	delete(s.PendingSlots, slotID)
	if s.ConfirmedSlots == nil {
		s.ConfirmedSlots = map[string]SlotValue{}
	}
	s.ConfirmedSlots[slotID] = v
}

// Refuse marks a slot refused for the rest of the call and drops any pending
// value for it.
func (s *State) Refuse(slotID string) {
	if s.Refused == nil {
		s.Refused = map[string]bool{}
	}
	s.Refused[slotID] = true
	delete(s.PendingSlots, slotID)
}

// Satisfied reports whether the slot holds a value, pending or confirmed.
func (s *State) Satisfied(slotID string) bool {
	if _, ok := s.ConfirmedSlots[slotID]; ok {
		return true
	}
	_, ok := s.PendingSlots[slotID]
	return ok
}

// View projects the state into the wire shape returned with every turn.
func (s State) View() types.StateView {
	return types.StateView{
		Lane:           s.Lane,
		PendingSlots:   slotValues(s.PendingSlots),
		ConfirmedSlots: slotValues(s.ConfirmedSlots),
	}
}

func copySlots(in map[string]SlotValue) map[string]SlotValue {
	out := make(map[string]SlotValue, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func slotValues(in map[string]SlotValue) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v.Value
	}
	return out
}
