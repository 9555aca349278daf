package observability

import (
	"fmt"
	"testing"
	"time"
)

func TestTurnStageWindowSnapshot(t *testing.T) {
	w := newTurnStageWindow(8)
	w.Observe("provider_call", 500*time.Millisecond)
	w.Observe("provider_call", 700*time.Millisecond)
	w.Observe("provider_call", 3200*time.Millisecond)
	w.ObserveIndicator("busy_rejected")
	w.ObserveIndicator("busy_rejected")
	w.ObserveIndicator(" ")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != "provider_call" || s.Samples != 3 {
		t.Fatalf("stage = %+v", s)
	}
	if s.LastMS != 3200 || s.MaxMS != 3200 {
		t.Fatalf("LastMS = %.2f, MaxMS = %.2f, want 3200", s.LastMS, s.MaxMS)
	}
	if s.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", s.P50MS)
	}
	if s.P95MS != 3200 {
		t.Fatalf("P95MS = %.2f, want 3200", s.P95MS)
	}
	if s.BudgetP95MS != 3000 || s.OverBudget != 1 {
		t.Fatalf("budget = %.0f over = %d, want 3000 and 1", s.BudgetP95MS, s.OverBudget)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0] != (TurnIndicator{Name: "busy_rejected", Count: 2}) {
		t.Fatalf("Indicators = %+v", snap.Indicators)
	}
}

func TestTurnStageWindowKeepsNewestSamples(t *testing.T) {
	w := newTurnStageWindow(2)
	w.Observe("route", 1*time.Millisecond)
	w.Observe("route", 2*time.Millisecond)
	w.Observe("route", 3*time.Millisecond)
	w.Observe("", 10*time.Millisecond)
	w.Observe("route", -time.Millisecond)

	snap := w.Snapshot()
	if len(snap.Stages) != 1 || snap.Stages[0].Samples != 2 {
		t.Fatalf("Stages = %+v, want one stage with 2 samples", snap.Stages)
	}
	if snap.Stages[0].AvgMS != 2.5 {
		t.Fatalf("AvgMS = %.2f, want 2.5", snap.Stages[0].AvgMS)
	}
	if snap.Stages[0].LastMS != 3 {
		t.Fatalf("LastMS = %.2f, want 3", snap.Stages[0].LastMS)
	}
}

func TestMetricsFeedTurnStageWindow(t *testing.T) {
	m := NewMetrics(fmt.Sprintf("jarvis_test_obs_%d", time.Now().UnixNano()))
	m.ObserveProviderCall("mistral", "success", 1200*time.Millisecond)
	m.ObserveTurnStage("turn_total", 1300*time.Millisecond)

	snap := m.SnapshotTurnStages()
	if len(snap.Stages) != 2 {
		t.Fatalf("len(Stages) = %d, want 2", len(snap.Stages))
	}
	if snap.Stages[0].Stage != "provider_call" || snap.Stages[0].LastMS != 1200 {
		t.Fatalf("Stages[0] = %+v", snap.Stages[0])
	}
	if snap.Stages[1].Stage != "turn_total" || snap.Stages[1].LastMS != 1300 {
		t.Fatalf("Stages[1] = %+v", snap.Stages[1])
	}
}
