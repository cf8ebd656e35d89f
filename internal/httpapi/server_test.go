package httpapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/voxlinehq/voxline/internal/callstate"
	"github.com/voxlinehq/voxline/internal/config"
	"github.com/voxlinehq/voxline/internal/httpapi"
	"github.com/voxlinehq/voxline/internal/pipeline"
	"github.com/voxlinehq/voxline/internal/scenario"
	"github.com/voxlinehq/voxline/pkg/types"
)

func newServer(t *testing.T) http.Handler {
	t.Helper()
	states := callstate.NewMemStore()
	resolver := config.NewResolver(config.Defaults(), nil)
	pipe := pipeline.New(states, states, scenario.NewMemStore(), resolver)
	return httpapi.New(pipe).Routes()
}

func TestHandleTurn(t *testing.T) {
	t.Parallel()
	h := newServer(t)

	body := `{"tenantId":"t1","callId":"c1","transcript":"hello","sttConfidence":0.9,"channel":"voice"}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/turn", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: want 200, got %d (%s)", rec.Code, rec.Body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("response should carry a request id")
	}

	var resp types.TurnResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Response.Text == "" {
		t.Error("response text must always be present")
	}
	found := false
	for _, ev := range resp.Events {
		if ev.Type == types.EventS4BOwnerSelected {
			found = true
		}
	}
	if !found {
		t.Error("owner-selected event missing from envelope")
	}
}

func TestHandleTurn_RejectsBadPayloads(t *testing.T) {
	t.Parallel()
	h := newServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{"tenantId":`},
		{"missing ids", `{"transcript":"hello"}`},
		{"unknown field", `{"tenantId":"t1","callId":"c1","bogus":1}`},
		{"unknown channel", `{"tenantId":"t1","callId":"c1","channel":"fax"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/turn", strings.NewReader(tc.body)))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status: want 400, got %d", rec.Code)
			}
		})
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	h := newServer(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: want 200, got %d", rec.Code)
	}
}

func TestReadyz_ReportsFailingProbe(t *testing.T) {
	t.Parallel()

	states := callstate.NewMemStore()
	resolver := config.NewResolver(config.Defaults(), nil)
	pipe := pipeline.New(states, states, scenario.NewMemStore(), resolver)
	h := httpapi.New(pipe, httpapi.WithReadyChecks(
		httpapi.ReadyCheck{Name: "always-up", Probe: func(context.Context) error { return nil }},
		httpapi.ReadyCheck{Name: "journal-writer", Probe: func(context.Context) error {
			return errors.New("dropped 12 events since last probe")
		}},
	)).Routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: want 503, got %d", rec.Code)
	}

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "fail" {
		t.Errorf("status field: want fail, got %q", body.Status)
	}
	if body.Checks["always-up"] != "ok" {
		t.Errorf("passing probe must still be reported, got %q", body.Checks["always-up"])
	}
	if !strings.HasPrefix(body.Checks["journal-writer"], "fail: ") {
		t.Errorf("failing probe verdict: got %q", body.Checks["journal-writer"])
	}
}

func TestRecentCalls(t *testing.T) {
	t.Parallel()

	states := callstate.NewMemStore()
	resolver := config.NewResolver(config.Defaults(), nil)
	pipe := pipeline.New(states, states, scenario.NewMemStore(), resolver)
	h := httpapi.New(pipe, httpapi.WithRecentCalls(states)).Routes()

	for _, callID := range []string{"c1", "c2"} {
		body := `{"tenantId":"t1","callId":"` + callID + `","transcript":"my sink is clogged","sttConfidence":0.9}`
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/turn", strings.NewReader(body)))
		if rec.Code != http.StatusOK {
			t.Fatalf("turn %s: status %d (%s)", callID, rec.Code, rec.Body)
		}
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/calls/recent?tenant=t1&limit=1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: want 200, got %d (%s)", rec.Code, rec.Body)
	}
	var body struct {
		Calls []callstate.RecentCall `json:"calls"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Calls) != 1 {
		t.Fatalf("limit must bound the listing, got %d entries", len(body.Calls))
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/calls/recent", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing tenant: want 400, got %d", rec.Code)
	}
}
