// Package flow implements the discovery and booking flow runners. A runner
// walks its tenant-configured step list and produces at most one question
// per turn; it never invents steps and never re-prompts a refused slot.
package flow

import (
	"fmt"
	"strings"

	"github.com/voxlinehq/voxline/internal/callstate"
	"github.com/voxlinehq/voxline/internal/config"
)

// maxReprompts is how many times a single slot question is repeated before
// the flow gives up on the slot for this call.
const maxReprompts = 2

// StepResult is one runner invocation's outcome.
type StepResult struct {
	// SlotID is the slot being asked about, empty when Done.
	SlotID string

	// Prompt is the question to speak, empty when Done.
	Prompt string

	// Done means the flow has nothing left to ask.
	Done bool

	// Confirmed lists slots promoted to confirmed this invocation.
	Confirmed []string

	// Skipped lists slots abandoned this invocation after exhausting the
	// reprompt budget.
	Skipped []string
}

// RunDiscovery returns the next discovery question: the first step whose
// slot is neither satisfied, refused, nor out of ask budget. A pending value
// satisfies a step only when its slot's confirm mode is not always; an
// always-confirm slot keeps getting the step's prompt until confirmed. It
// mutates the state's ask counters. A slot gets one initial ask plus
// maxReprompts repeats before the flow moves past it.
func RunDiscovery(st *callstate.State, cfg config.Resolved) StepResult {
	var res StepResult
	for _, step := range cfg.DiscoveryFlow.Steps {
		if _, confirmed := st.ConfirmedSlots[step.SlotID]; confirmed {
			continue
		}
		if st.Refused[step.SlotID] {
			continue
		}
		if _, pending := st.PendingSlots[step.SlotID]; pending &&
			cfg.Slots[step.SlotID].ConfirmMode != config.ConfirmAlways {
			continue
		}
		if st.RepromptCounts[step.SlotID] > maxReprompts {
			res.Skipped = append(res.Skipped, step.SlotID)
			continue
		}
		if st.RepromptCounts == nil {
			st.RepromptCounts = map[string]int{}
		}
		st.RepromptCounts[step.SlotID]++
		res.SlotID = step.SlotID
		res.Prompt = step.PromptTemplate
		return res
	}
	res.Done = true
	return res
}

// affirmative phrases accept a confirmation question.
var affirmative = []string{
	"yes", "yeah", "yep", "correct", "right", "that's right", "thats right",
	"that is right", "exactly", "sure", "uh huh",
}

// negative phrases reject a confirmation question.
var negative = []string{
	"no", "nope", "wrong", "that's wrong", "thats wrong", "incorrect",
	"not right", "not quite",
}

// BookingInput is what the booking runner sees of the current utterance.
type BookingInput struct {
	// Normalized is the canonical utterance text.
	Normalized string

	// Corrections maps slot IDs to replacement values extracted this turn.
	Corrections map[string]string

	// TurnIndex stamps replacement slot values.
	TurnIndex int
}

// RunBooking advances the booking flow one turn: it resolves an outstanding
// confirmation first, then either asks the next confirmation or the next
// missing-slot question. Done means every step is resolved and the booking
// is complete.
func RunBooking(st *callstate.State, cfg config.Resolved, in BookingInput) StepResult {
	var res StepResult

	if slotID := st.ConfirmingSlot; slotID != "" {
		switch {
		case replaced(st, slotID, in):
			// Correction: the new pending value needs its own confirmation.
			res.SlotID = slotID
			res.Prompt = confirmPrompt(slotID, st.PendingSlots[slotID].Value)
			return res

		case matchesAny(in.Normalized, affirmative):
			st.Confirm(slotID)
			st.ConfirmingSlot = ""
			res.Confirmed = append(res.Confirmed, slotID)

		case matchesAny(in.Normalized, negative):
			// Rejected with no correction: drop the value and re-ask the
			// original question.
			delete(st.PendingSlots, slotID)
			st.ConfirmingSlot = ""

		default:
			// Unrelated answer: keep the confirmation pending and re-ask.
			res.SlotID = slotID
			res.Prompt = confirmPrompt(slotID, st.PendingSlots[slotID].Value)
			return res
		}
	}

	for _, step := range cfg.BookingFlow.Steps {
		if _, confirmed := st.ConfirmedSlots[step.SlotID]; confirmed {
			continue
		}
		if st.Refused[step.SlotID] {
			continue
		}

		spec := cfg.Slots[step.SlotID]
		if v, pending := st.PendingSlots[step.SlotID]; pending {
			if !needsConfirmation(spec.ConfirmMode) {
				st.Confirm(step.SlotID)
				res.Confirmed = append(res.Confirmed, step.SlotID)
				continue
			}
			st.ConfirmingSlot = step.SlotID
			res.SlotID = step.SlotID
			res.Prompt = confirmPrompt(step.SlotID, v.Value)
			return res
		}

		if st.RepromptCounts[step.SlotID] > maxReprompts {
			res.Skipped = append(res.Skipped, step.SlotID)
			continue
		}
		if st.RepromptCounts == nil {
			st.RepromptCounts = map[string]int{}
		}
		st.RepromptCounts[step.SlotID]++
		res.SlotID = step.SlotID
		res.Prompt = step.PromptTemplate
		return res
	}

	res.Done = true
	return res
}

// replaced applies a correction for the confirming slot, if one arrived.
func replaced(st *callstate.State, slotID string, in BookingInput) bool {
	v, ok := in.Corrections[slotID]
	if !ok || v == "" || v == st.PendingSlots[slotID].Value {
		return false
	}
	cur := st.PendingSlots[slotID]
	cur.Value = v
	cur.TurnIndex = in.TurnIndex
	st.PendingSlots[slotID] = cur
	return true
}

func needsConfirmation(mode config.ConfirmMode) bool {
	switch mode {
	case config.ConfirmAlways, config.ConfirmWhenBooking:
		return true
	}
	return false
}

func confirmPrompt(slotID, value string) string {
	return fmt.Sprintf("Just to confirm, I have your %s as %s. Is that right?",
		strings.ReplaceAll(slotID, "_", " "), value)
}

func matchesAny(normalized string, phrases []string) bool {
	padded := " " + normalized + " "
	for _, p := range phrases {
		if strings.Contains(padded, " "+p+" ") {
			return true
		}
	}
	return false
}
