package performance

import (
	"fmt"
	"time"
)

// BackendBenchResult captures timing stats for a backend at one program size.
type BackendBenchResult struct {
	Backend        string  `json:"backend"`
	Instructions   int     `json:"instructions"`
	RunDurationsNs []int64 `json:"run_durations_ns"`
	AvgNs          int64   `json:"avg_ns"`
	MinNs          int64   `json:"min_ns"`
	MaxNs          int64   `json:"max_ns"`
}

// BackendBenchReport stores a full benchmark run across backends.
type BackendBenchReport struct {
	Program      string               `json:"program"`
	Runs         int                  `json:"runs"`
	Instructions []int                `json:"instructions"`
	Backends     []string             `json:"backends"`
	Results      []BackendBenchResult `json:"results"`
	GeneratedAt  time.Time            `json:"generated_at"`
}

// MeasureBackend times runs calls of run and summarizes them.
func MeasureBackend(backend string, instructions, runs int, run func() error) (BackendBenchResult, error) {
	durations := make([]int64, 0, runs)
	for i := 0; i < runs; i++ {
		start := time.Now()
		if err := run(); err != nil {
			return BackendBenchResult{}, fmt.Errorf("backend %s run %d: %w", backend, i, err)
		}
		durations = append(durations, time.Since(start).Nanoseconds())
	}
	avg, lo, hi := summarizeDurations(durations)
	return BackendBenchResult{
		Backend:        backend,
		Instructions:   instructions,
		RunDurationsNs: durations,
		AvgNs:          avg,
		MinNs:          lo,
		MaxNs:          hi,
	}, nil
}

func summarizeDurations(durations []int64) (avg, lo, hi int64) {
	if len(durations) == 0 {
		return 0, 0, 0
	}
	lo, hi = durations[0], durations[0]
	var total int64
	for _, d := range durations {
		total += d
		lo = min(lo, d)
		hi = max(hi, d)
	}
	return total / int64(len(durations)), lo, hi
}
