package observability

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// stageBudgets are the p95 latency budgets, in milliseconds, for the stages a
// turn reports. Passthrough turns are dominated by provider_call.
var stageBudgets = map[string]float64{
	"route":         5,
	"provider_call": 3000,
	"turn_total":    3500,
}

// TurnStageStats summarizes one stage of the rolling window.
type TurnStageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	MaxMS       float64 `json:"max_ms"`
	BudgetP95MS float64 `json:"budget_p95_ms,omitempty"`
	OverBudget  int     `json:"over_budget,omitempty"`
}

// TurnIndicator counts a discrete turn event such as a busy rejection.
type TurnIndicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type TurnStageSnapshot struct {
	GeneratedAt time.Time        `json:"generated_at"`
	WindowSize  int              `json:"window_size"`
	Stages      []TurnStageStats `json:"stages"`
	Indicators  []TurnIndicator  `json:"indicators,omitempty"`
}

// ring keeps the most recent samples of one stage.
type ring struct {
	buf  []float64
	head int
	full bool
}

func (r *ring) add(v float64) {
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.head == 0 {
		r.full = true
	}
}

func (r *ring) last() float64 {
	i := r.head - 1
	if i < 0 {
		i = len(r.buf) - 1
	}
	return r.buf[i]
}

func (r *ring) sorted() []float64 {
	n := r.head
	if r.full {
		n = len(r.buf)
	}
	out := append([]float64(nil), r.buf[:n]...)
	sort.Float64s(out)
	return out
}

type turnStageWindow struct {
	mu         sync.Mutex
	size       int
	stages     map[string]*ring
	indicators map[string]int
}

func newTurnStageWindow(size int) *turnStageWindow {
	if size <= 0 {
		size = 256
	}
	return &turnStageWindow{
		size:       size,
		stages:     make(map[string]*ring),
		indicators: make(map[string]int),
	}
}

func (w *turnStageWindow) Observe(stage string, d time.Duration) {
	if stage == "" || d < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.stages[stage]
	if !ok {
		r = &ring{buf: make([]float64, w.size)}
		w.stages[stage] = r
	}
	r.add(float64(d.Microseconds()) / 1000)
}

func (w *turnStageWindow) ObserveIndicator(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.indicators[name]++
}

func (w *turnStageWindow) Snapshot() TurnStageSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := TurnStageSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      make([]TurnStageStats, 0, len(w.stages)),
	}
	for stage, r := range w.stages {
		samples := r.sorted()
		if len(samples) == 0 {
			continue
		}
		stats := TurnStageStats{
			Stage:       stage,
			Samples:     len(samples),
			LastMS:      round2(r.last()),
			P50MS:       round2(nearestRank(samples, 0.50)),
			P95MS:       round2(nearestRank(samples, 0.95)),
			MaxMS:       round2(samples[len(samples)-1]),
			BudgetP95MS: stageBudgets[stage],
		}
		var sum float64
		for _, v := range samples {
			sum += v
			if stats.BudgetP95MS > 0 && v > stats.BudgetP95MS {
				stats.OverBudget++
			}
		}
		stats.AvgMS = round2(sum / float64(len(samples)))
		snap.Stages = append(snap.Stages, stats)
	}
	sort.Slice(snap.Stages, func(i, j int) bool { return snap.Stages[i].Stage < snap.Stages[j].Stage })

	for name, count := range w.indicators {
		snap.Indicators = append(snap.Indicators, TurnIndicator{Name: name, Count: count})
	}
	sort.Slice(snap.Indicators, func(i, j int) bool { return snap.Indicators[i].Name < snap.Indicators[j].Name })
	return snap
}

func nearestRank(sorted []float64, p float64) float64 {
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
