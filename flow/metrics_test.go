package flow

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/storyline-labs/flowkit/flow/store"
)

func TestMetrics(t *testing.T) {
	t.Run("nil metrics is safe", func(t *testing.T) {
		var m *Metrics
		m.observeStep("a", "success", 0)
		m.observeInterrupt("pickOne")
		m.observeRevision("arcs")
		m.observeError("step_failure")
		m.sessionStarted()
		m.sessionFinished()
	})

	t.Run("run populates step counters", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := NewMetrics(registry)
		engine := New(linearGraph(t), testSchema(), store.NewMemStore(), nil, Options{Metrics: metrics})

		if _, err := engine.Run(context.Background(), "m1", nil); err != nil {
			t.Fatalf("Run failed: %v", err)
		}

		families, err := registry.Gather()
		if err != nil {
			t.Fatalf("Gather failed: %v", err)
		}
		byName := map[string]bool{}
		for _, mf := range families {
			byName[mf.GetName()] = true
		}
		for _, want := range []string{"flowkit_steps_total", "flowkit_step_latency_ms"} {
			if !byName[want] {
				t.Errorf("expected metric family %s, got %v", want, byName)
			}
		}
	})

	t.Run("interrupt and error counters", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := NewMetrics(registry)
		schema := NewSchema().Field("picked", Replace, nil).Field("log", AppendArray, []any{})
		engine := New(interruptGraph(t), schema, store.NewMemStore(), nil, Options{Metrics: metrics})

		if _, err := engine.Run(context.Background(), "m2", nil); err != nil {
			t.Fatalf("Run failed: %v", err)
		}

		families, err := registry.Gather()
		if err != nil {
			t.Fatalf("Gather failed: %v", err)
		}
		found := false
		for _, mf := range families {
			if mf.GetName() == "flowkit_interrupts_total" {
				found = true
				if len(mf.GetMetric()) != 1 {
					t.Errorf("expected 1 interrupt series, got %d", len(mf.GetMetric()))
				}
			}
		}
		if !found {
			t.Error("expected flowkit_interrupts_total to be collected")
		}
	})
}
