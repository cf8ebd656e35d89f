package consent_test

import (
	"testing"

	"github.com/voxlinehq/voxline/internal/consent"
)

func TestEvaluate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		utterance    string
		offerPending bool
		wantConsent  bool
		wantDirect   bool
	}{
		{"direct request", "i want to schedule an appointment for tomorrow", false, true, true},
		{"direct request ignores offer state", "please send someone out today", true, true, true},
		{"acceptance after offer", "yes please that works", true, true, false},
		{"bare yes without offer", "yes it started last night", false, false, false},
		{"declination wins over acceptance", "no thanks maybe later", true, false, false},
		{"declination wins over direct phrase", "no i don't want to schedule an appointment", true, false, false},
		{"unrelated utterance", "the faucet is dripping", true, false, false},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := consent.Evaluate(tc.utterance, tc.offerPending)
			if got.Consent != tc.wantConsent || got.Direct != tc.wantDirect {
				t.Fatalf("Evaluate(%q, %v) = %+v, want consent=%v direct=%v",
					tc.utterance, tc.offerPending, got, tc.wantConsent, tc.wantDirect)
			}
		})
	}
}

func TestEvaluate_EmergencyFastPath(t *testing.T) {
	t.Parallel()

	got := consent.Evaluate("my basement is flooding", false)
	if !got.Consent || !got.Emergency {
		t.Fatalf("flooding must consent via the fast path, got %+v", got)
	}
	if got.Direct {
		t.Error("fast path consent is not direct intent")
	}

	// "no heat" contains the token "no"; the fast path must beat the
	// declination list.
	got = consent.Evaluate("there is no heat in the house", false)
	if !got.Consent || !got.Emergency {
		t.Fatalf("no heat must consent via the fast path, got %+v", got)
	}
}
