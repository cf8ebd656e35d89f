package callstate_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voxlinehq/voxline/internal/callstate"
	"github.com/voxlinehq/voxline/pkg/types"
)

func TestState_PendingConfirmedDisjoint(t *testing.T) {
	t.Parallel()

	st := callstate.New("t1", "c1")
	st.SetPending("last_name", "Johnson", types.SourceExtraction, 0)
	st.Confirm("last_name")

	if _, ok := st.PendingSlots["last_name"]; ok {
		t.Fatal("confirm must remove the pending entry")
	}
	if st.ConfirmedSlots["last_name"].Value != "Johnson" {
		t.Fatalf("confirmed value lost: %+v", st.ConfirmedSlots)
	}
	if err := st.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	// A later extraction must not resurrect a confirmed slot as pending.
	st.SetPending("last_name", "Smith", types.SourceExtraction, 1)
	if _, ok := st.PendingSlots["last_name"]; ok {
		t.Fatal("confirmed slot must not become pending again")
	}
}

func TestState_RefusedSlotNeverReprompted(t *testing.T) {
	t.Parallel()

	st := callstate.New("t1", "c1")
	st.SetPending("phone", "+12395550101", types.SourceExtraction, 0)
	st.Refuse("phone")

	if _, ok := st.PendingSlots["phone"]; ok {
		t.Fatal("refusal must drop the pending value")
	}
	st.SetPending("phone", "+12395550102", types.SourceExtraction, 1)
	if _, ok := st.PendingSlots["phone"]; ok {
		t.Fatal("refused slot must reject new values")
	}
}

func TestState_CloneDoesNotAlias(t *testing.T) {
	t.Parallel()

	st := callstate.New("t1", "c1")
	st.SetPending("address", "123 Market St", types.SourceExtraction, 0)

	c := st.Clone()
	c.SetPending("address", "9 Elm Ave", types.SourceExtraction, 1)
	if st.PendingSlots["address"].Value != "123 Market St" {
		t.Fatal("clone mutation leaked into the original")
	}
}

func TestState_ValidateRejectsOverlap(t *testing.T) {
	t.Parallel()

	st := callstate.New("t1", "c1")
	st.PendingSlots["x"] = callstate.SlotValue{Value: "1"}
	st.ConfirmedSlots["x"] = callstate.SlotValue{Value: "1"}
	if err := st.Validate(); err == nil {
		t.Fatal("overlapping slot must fail validation")
	}
}

func TestMemStore_LoadUnknownReturnsFreshState(t *testing.T) {
	t.Parallel()

	store := callstate.NewMemStore()
	st, err := store.Load(context.Background(), "t1", "nope")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st.Lane != types.LaneDiscovery || st.TurnIndex != -1 {
		t.Fatalf("fresh state expected, got %+v", st)
	}
}

func TestMemStore_PersistMonotoneTurnIndex(t *testing.T) {
	t.Parallel()

	store := callstate.NewMemStore()
	ctx := context.Background()

	st := callstate.New("t1", "c1")
	st.TurnIndex = 0
	if err := store.Persist(ctx, st); err != nil {
		t.Fatalf("Persist turn 0: %v", err)
	}

	st.TurnIndex = 1
	if err := store.Persist(ctx, st); err != nil {
		t.Fatalf("Persist turn 1: %v", err)
	}

	// A delayed duplicate of turn 1 must be rejected.
	if err := store.Persist(ctx, st); !errors.Is(err, callstate.ErrStaleTurn) {
		t.Fatalf("want ErrStaleTurn, got %v", err)
	}
	st.TurnIndex = 0
	if err := store.Persist(ctx, st); !errors.Is(err, callstate.ErrStaleTurn) {
		t.Fatalf("rollback must be rejected, got %v", err)
	}
}

func TestMemStore_ReleaseIdempotent(t *testing.T) {
	t.Parallel()

	store := callstate.NewMemStore()
	ctx := context.Background()
	st := callstate.New("t1", "c1")
	st.TurnIndex = 0
	if err := store.Persist(ctx, st); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if err := store.Release(ctx, "t1", "c1"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := store.Release(ctx, "t1", "c1"); err != nil {
		t.Fatalf("second Release must be a no-op: %v", err)
	}
	got, err := store.Load(ctx, "t1", "c1")
	if err != nil || got.TurnIndex != -1 {
		t.Fatalf("released call must load fresh, got %+v err %v", got, err)
	}
}

func TestMemStore_RecentListsNewestFirst(t *testing.T) {
	t.Parallel()

	store := callstate.NewMemStore()
	ctx := context.Background()

	for _, callID := range []string{"c1", "c2", "c3"} {
		st := callstate.New("t1", callID)
		st.TurnIndex = 0
		if err := store.Persist(ctx, st); err != nil {
			t.Fatalf("Persist %s: %v", callID, err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	other := callstate.New("t2", "x1")
	other.TurnIndex = 0
	if err := store.Persist(ctx, other); err != nil {
		t.Fatalf("Persist other tenant: %v", err)
	}

	got, err := store.Recent(ctx, "t1", 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("limit must bound the listing, got %d entries", len(got))
	}
	if got[0].CallID != "c3" || got[1].CallID != "c2" {
		t.Fatalf("want newest first, got %+v", got)
	}
	if got[0].Lane != types.LaneDiscovery || got[0].TurnIndex != 0 {
		t.Fatalf("entry fields: %+v", got[0])
	}
}

func TestMemStore_LockSerialisesTurns(t *testing.T) {
	t.Parallel()

	store := callstate.NewMemStore()
	ctx := context.Background()

	release, err := store.Acquire(ctx, "t1", "c1", 0)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	// Second acquire with no wait budget fails busy.
	if _, err := store.Acquire(ctx, "t1", "c1", 0); !errors.Is(err, callstate.ErrBusy) {
		t.Fatalf("want ErrBusy, got %v", err)
	}

	// A different call is unaffected.
	r2, err := store.Acquire(ctx, "t1", "c2", 0)
	if err != nil {
		t.Fatalf("Acquire other call: %v", err)
	}
	r2()

	// A waiter within budget wins once the holder releases.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r, err := store.Acquire(ctx, "t1", "c1", time.Second)
		if err != nil {
			t.Errorf("waiting Acquire: %v", err)
			return
		}
		r()
	}()
	time.Sleep(10 * time.Millisecond)
	release()
	release() // double release is safe
	wg.Wait()
}
