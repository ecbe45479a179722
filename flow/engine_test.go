package flow

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/storyline-labs/flowkit/flow/store"
)

func testSchema() *Schema {
	return NewSchema().
		Field("value", Replace, nil).
		Field("log", AppendArray, []any{})
}

func appendStep(entry string) Step {
	return StepFunc(func(context.Context, State, RunConfig) StepResult {
		return Update(Delta{"log": []any{entry}})
	})
}

func linearGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := NewBuilder().
		AddStep("one", appendStep("one")).
		AddStep("two", appendStep("two")).
		SetStart("one").
		AddEdge("one", "two").
		AddEdge("two", End).
		Compile()
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	return g
}

func TestEngine_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("linear graph completes", func(t *testing.T) {
		st := store.NewMemStore()
		engine := New(linearGraph(t), testSchema(), st, nil, Options{})

		result, err := engine.Run(ctx, "s1", Delta{"value": "seed"})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if result.Status != StatusCompleted {
			t.Fatalf("expected completed, got %s", result.Status)
		}
		want := []any{"one", "two"}
		if !reflect.DeepEqual(result.State.Slice("log"), want) {
			t.Errorf("expected log = %v, got %v", want, result.State.Slice("log"))
		}
		if result.State["value"] != "seed" {
			t.Errorf("expected initial delta applied, got %v", result.State["value"])
		}
	})

	t.Run("empty session id gets generated", func(t *testing.T) {
		engine := New(linearGraph(t), testSchema(), store.NewMemStore(), nil, Options{})
		result, err := engine.Run(ctx, "", nil)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if result.SessionID == "" {
			t.Error("expected a generated session id")
		}
	})

	t.Run("completion removes the checkpoint", func(t *testing.T) {
		st := store.NewMemStore()
		engine := New(linearGraph(t), testSchema(), st, nil, Options{})
		if _, err := engine.Run(ctx, "s2", nil); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if _, err := st.Get(ctx, "s2"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected checkpoint gone after completion, got %v", err)
		}
	})

	t.Run("step error surfaces as errored result not go error", func(t *testing.T) {
		g, err := NewBuilder().
			AddStep("boom", StepFunc(func(context.Context, State, RunConfig) StepResult {
				return Fail(fmt.Errorf("model unavailable"))
			})).
			SetStart("boom").
			AddEdge("boom", End).
			Compile()
		if err != nil {
			t.Fatalf("Compile failed: %v", err)
		}
		engine := New(g, testSchema(), store.NewMemStore(), nil, Options{})

		result, err := engine.Run(ctx, "s3", Delta{FieldPhase: "draft"})
		if err != nil {
			t.Fatalf("expected nil go error, got %v", err)
		}
		if result.Status != StatusErrored {
			t.Fatalf("expected errored, got %s", result.Status)
		}
		if result.State.String(FieldPhase) != PhaseError {
			t.Errorf("expected phase = %s, got %q", PhaseError, result.State.String(FieldPhase))
		}
		entries := result.State.Slice(FieldErrors)
		if len(entries) != 1 {
			t.Fatalf("expected 1 error entry, got %d", len(entries))
		}
		entry := entries[0].(ErrorEntry)
		if entry.Phase != "draft" {
			t.Errorf("expected error recorded against phase draft, got %q", entry.Phase)
		}
		if entry.Type != "step_failure" {
			t.Errorf("expected step_failure type, got %q", entry.Type)
		}
	})

	t.Run("step panic is contained", func(t *testing.T) {
		g, err := NewBuilder().
			AddStep("panics", StepFunc(func(context.Context, State, RunConfig) StepResult {
				panic("nil map write")
			})).
			SetStart("panics").
			AddEdge("panics", End).
			Compile()
		if err != nil {
			t.Fatalf("Compile failed: %v", err)
		}
		engine := New(g, testSchema(), store.NewMemStore(), nil, Options{})
		result, err := engine.Run(ctx, "s4", nil)
		if err != nil {
			t.Fatalf("expected contained panic, got %v", err)
		}
		if result.Status != StatusErrored {
			t.Errorf("expected errored, got %s", result.Status)
		}
	})

	t.Run("cycle exhausts step budget", func(t *testing.T) {
		g, err := NewBuilder().
			AddStep("spin", appendStep("spin")).
			AddStep("other", appendStep("other")).
			SetStart("spin").
			AddConditionalEdge("spin", func(State) string { return "again" }, map[string]string{
				"again": "spin",
				"done":  End,
			}).
			AddEdge("other", End).
			Compile()
		if err != nil {
			t.Fatalf("Compile failed: %v", err)
		}
		engine := New(g, testSchema(), store.NewMemStore(), nil, Options{StepBudget: 10})

		result, err := engine.Run(ctx, "s5", nil)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if result.Status != StatusErrored {
			t.Fatalf("expected errored, got %s", result.Status)
		}
		if got := len(result.State.Slice("log")); got > 11 {
			t.Errorf("expected at most budget+1 executions, got %d", got)
		}
		entry := result.State.Slice(FieldErrors)[0].(ErrorEntry)
		if entry.Type != "step_budget_exceeded" {
			t.Errorf("expected step_budget_exceeded, got %q", entry.Type)
		}
	})

	t.Run("unknown router label fails routing", func(t *testing.T) {
		g, err := NewBuilder().
			AddStep("a", appendStep("a")).
			AddStep("b", appendStep("b")).
			SetStart("a").
			AddConditionalEdge("a", func(State) string { return "nonsense" }, map[string]string{
				"go": "b",
			}).
			AddEdge("b", End).
			Compile()
		if err != nil {
			t.Fatalf("Compile failed: %v", err)
		}
		engine := New(g, testSchema(), store.NewMemStore(), nil, Options{})
		result, err := engine.Run(ctx, "s6", nil)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if result.Status != StatusErrored {
			t.Fatalf("expected errored, got %s", result.Status)
		}
		entry := result.State.Slice(FieldErrors)[0].(ErrorEntry)
		if entry.Type != "routing_failure" {
			t.Errorf("expected routing_failure, got %q", entry.Type)
		}
	})

	t.Run("cancelled context returns the context error", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		engine := New(linearGraph(t), testSchema(), store.NewMemStore(), nil, Options{})
		_, err := engine.Run(cancelled, "s7", nil)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("step timeout follows the failure path", func(t *testing.T) {
		g, err := NewBuilder().
			AddStep("slow", StepFunc(func(ctx context.Context, _ State, _ RunConfig) StepResult {
				select {
				case <-time.After(time.Second):
					return Update(nil)
				case <-ctx.Done():
					return Fail(ctx.Err())
				}
			})).
			SetStart("slow").
			AddEdge("slow", End).
			Compile()
		if err != nil {
			t.Fatalf("Compile failed: %v", err)
		}
		engine := New(g, testSchema(), store.NewMemStore(), nil, Options{StepTimeout: 20 * time.Millisecond})
		result, err := engine.Run(ctx, "s8", nil)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if result.Status != StatusErrored {
			t.Fatalf("expected errored, got %s", result.Status)
		}
		entry := result.State.Slice(FieldErrors)[0].(ErrorEntry)
		if entry.Type != "step_timeout" {
			t.Errorf("expected step_timeout, got %q", entry.Type)
		}
	})

	t.Run("missing store is a configuration error", func(t *testing.T) {
		engine := New(linearGraph(t), testSchema(), nil, nil, Options{})
		_, err := engine.Run(ctx, "s9", nil)
		var ge *GraphError
		if !errors.As(err, &ge) || ge.Code != "MISSING_STORE" {
			t.Errorf("expected MISSING_STORE, got %v", err)
		}
	})
}

func interruptGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := NewBuilder().
		AddStep("gather", StepFunc(func(_ context.Context, state State, cfg RunConfig) StepResult {
			answer, sig := Ask(cfg, "pickOne", map[string]any{"options": []any{"a", "b"}}, state["picked"])
			if sig != nil {
				return Pause(sig)
			}
			return Update(Delta{"picked": answer})
		})).
		AddStep("finish", appendStep("finish")).
		SetStart("gather").
		AddEdge("gather", "finish").
		AddEdge("finish", End).
		Compile()
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	return g
}

func TestEngine_InterruptResume(t *testing.T) {
	ctx := context.Background()
	schema := NewSchema().
		Field("picked", Replace, nil).
		Field("log", AppendArray, []any{})

	t.Run("interrupt pauses with checkpoint and control fields", func(t *testing.T) {
		st := store.NewMemStore()
		engine := New(interruptGraph(t), schema, st, nil, Options{})

		result, err := engine.Run(ctx, "p1", nil)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if result.Status != StatusPaused {
			t.Fatalf("expected paused, got %s", result.Status)
		}
		if result.PendingInterrupt == nil || result.PendingInterrupt.Type != "pickOne" {
			t.Fatalf("expected pending pickOne interrupt, got %+v", result.PendingInterrupt)
		}
		if !result.State.Bool(FieldAwaitingApproval) {
			t.Error("expected awaitingApproval = true while paused")
		}
		if result.State.String(FieldApprovalType) != "pickOne" {
			t.Errorf("expected approvalType = pickOne, got %q", result.State.String(FieldApprovalType))
		}

		cp, err := st.Get(ctx, "p1")
		if err != nil {
			t.Fatalf("expected persisted checkpoint: %v", err)
		}
		if cp.PendingStep != "gather" {
			t.Errorf("expected pending step gather, got %q", cp.PendingStep)
		}
		if cp.InterruptType != "pickOne" {
			t.Errorf("expected interrupt type pickOne, got %q", cp.InterruptType)
		}
	})

	t.Run("resume applies the value and continues", func(t *testing.T) {
		st := store.NewMemStore()
		engine := New(interruptGraph(t), schema, st, nil, Options{})
		if _, err := engine.Run(ctx, "p2", nil); err != nil {
			t.Fatalf("Run failed: %v", err)
		}

		result, err := engine.Resume(ctx, "p2", "pickOne", "a")
		if err != nil {
			t.Fatalf("Resume failed: %v", err)
		}
		if result.Status != StatusCompleted {
			t.Fatalf("expected completed, got %s", result.Status)
		}
		if result.State["picked"] != "a" {
			t.Errorf("expected picked = a, got %v", result.State["picked"])
		}
		if result.State.Bool(FieldAwaitingApproval) {
			t.Error("expected awaitingApproval cleared after resume")
		}
		if v := result.State[FieldApprovalType]; v != nil {
			t.Errorf("expected approvalType cleared, got %v", v)
		}
	})

	t.Run("resume with wrong type is stale", func(t *testing.T) {
		st := store.NewMemStore()
		engine := New(interruptGraph(t), schema, st, nil, Options{})
		if _, err := engine.Run(ctx, "p3", nil); err != nil {
			t.Fatalf("Run failed: %v", err)
		}

		_, err := engine.Resume(ctx, "p3", "somethingElse", "a")
		var stale *StaleResumeError
		if !errors.As(err, &stale) {
			t.Fatalf("expected *StaleResumeError, got %v", err)
		}
		if stale.Want != "pickOne" || stale.Got != "somethingElse" {
			t.Errorf("unexpected stale detail: %+v", stale)
		}

		// The checkpoint is untouched; a correct resume still works.
		result, err := engine.Resume(ctx, "p3", "pickOne", "b")
		if err != nil {
			t.Fatalf("Resume failed: %v", err)
		}
		if result.Status != StatusCompleted {
			t.Errorf("expected completed, got %s", result.Status)
		}
	})

	t.Run("resume without checkpoint", func(t *testing.T) {
		engine := New(interruptGraph(t), schema, store.NewMemStore(), nil, Options{})
		_, err := engine.Resume(ctx, "ghost", "pickOne", "a")
		if !errors.Is(err, ErrNoCheckpoint) {
			t.Errorf("expected ErrNoCheckpoint, got %v", err)
		}
	})

	t.Run("resume is idempotent over the same checkpoint", func(t *testing.T) {
		st := store.NewMemStore()
		engine := New(interruptGraph(t), schema, st, nil, Options{})
		if _, err := engine.Run(ctx, "p4", nil); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		cp, err := st.Get(ctx, "p4")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}

		first, err := engine.Resume(ctx, "p4", "pickOne", "a")
		if err != nil {
			t.Fatalf("first Resume failed: %v", err)
		}

		// Restore the identical checkpoint and replay the identical answer.
		if err := st.Put(ctx, cp); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		second, err := engine.Resume(ctx, "p4", "pickOne", "a")
		if err != nil {
			t.Fatalf("second Resume failed: %v", err)
		}
		if first.Status != second.Status {
			t.Fatalf("expected identical status, got %s vs %s", first.Status, second.Status)
		}
		if !reflect.DeepEqual(first.State, second.State) {
			t.Errorf("expected identical state on replay:\nfirst:  %v\nsecond: %v", first.State, second.State)
		}
	})

	t.Run("run on a paused session re-pauses without consuming budget progress", func(t *testing.T) {
		st := store.NewMemStore()
		engine := New(interruptGraph(t), schema, st, nil, Options{})
		if _, err := engine.Run(ctx, "p5", nil); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		result, err := engine.Run(ctx, "p5", nil)
		if err != nil {
			t.Fatalf("second Run failed: %v", err)
		}
		if result.Status != StatusPaused {
			t.Errorf("expected paused again, got %s", result.Status)
		}
		if result.PendingInterrupt.Type != "pickOne" {
			t.Errorf("expected same interrupt, got %q", result.PendingInterrupt.Type)
		}
	})

	t.Run("step count persists across pause and resume", func(t *testing.T) {
		st := store.NewMemStore()
		engine := New(interruptGraph(t), schema, st, nil, Options{})
		paused, err := engine.Run(ctx, "p6", nil)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if paused.State.Int(FieldStepCount) == 0 {
			t.Error("expected step count recorded in paused state")
		}
		done, err := engine.Resume(ctx, "p6", "pickOne", "a")
		if err != nil {
			t.Fatalf("Resume failed: %v", err)
		}
		if done.Status != StatusCompleted {
			t.Errorf("expected completed, got %s", done.Status)
		}
	})
}

func TestEngine_Parallel(t *testing.T) {
	ctx := context.Background()

	t.Run("branch deltas merge in registration order", func(t *testing.T) {
		g, err := NewBuilder().
			AddStep("seed", appendStep("seed")).
			AddStep("left", appendStep("left")).
			AddStep("right", appendStep("right")).
			AddStep("join", appendStep("join")).
			SetStart("seed").
			AddParallel("seed", []string{"left", "right"}, "join").
			AddEdge("join", End).
			Compile()
		if err != nil {
			t.Fatalf("Compile failed: %v", err)
		}
		engine := New(g, testSchema(), store.NewMemStore(), nil, Options{})

		// Completion order must never affect the merge.
		for i := 0; i < 20; i++ {
			result, err := engine.Run(ctx, fmt.Sprintf("par-%d", i), nil)
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			want := []any{"seed", "left", "right", "join"}
			if !reflect.DeepEqual(result.State.Slice("log"), want) {
				t.Fatalf("expected log = %v, got %v", want, result.State.Slice("log"))
			}
		}
	})

	t.Run("replace conflict resolves to last registered branch", func(t *testing.T) {
		set := func(v string) Step {
			return StepFunc(func(context.Context, State, RunConfig) StepResult {
				return Update(Delta{"value": v})
			})
		}
		g, err := NewBuilder().
			AddStep("seed", appendStep("seed")).
			AddStep("first", set("from-first")).
			AddStep("second", set("from-second")).
			AddStep("join", appendStep("join")).
			SetStart("seed").
			AddParallel("seed", []string{"first", "second"}, "join").
			AddEdge("join", End).
			Compile()
		if err != nil {
			t.Fatalf("Compile failed: %v", err)
		}
		engine := New(g, testSchema(), store.NewMemStore(), nil, Options{})
		result, err := engine.Run(ctx, "par-conflict", nil)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if result.State["value"] != "from-second" {
			t.Errorf("expected last registered branch to win, got %v", result.State["value"])
		}
	})

	t.Run("branch failure errors the run", func(t *testing.T) {
		g, err := NewBuilder().
			AddStep("seed", appendStep("seed")).
			AddStep("ok", appendStep("ok")).
			AddStep("bad", StepFunc(func(context.Context, State, RunConfig) StepResult {
				return Fail(fmt.Errorf("branch broke"))
			})).
			AddStep("join", appendStep("join")).
			SetStart("seed").
			AddParallel("seed", []string{"ok", "bad"}, "join").
			AddEdge("join", End).
			Compile()
		if err != nil {
			t.Fatalf("Compile failed: %v", err)
		}
		engine := New(g, testSchema(), store.NewMemStore(), nil, Options{})
		result, err := engine.Run(ctx, "par-fail", nil)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if result.Status != StatusErrored {
			t.Errorf("expected errored, got %s", result.Status)
		}
	})
}
