//go:build benchprofile

// Package timing records per-phase durations of compilation and execution. Without the
// benchprofile build tag every recorder is a no-op.
package timing

import (
	"cmp"
	"slices"
	"sync"
	"time"
)

const Enabled = true

type series struct {
	mu      sync.Mutex
	samples []time.Duration
}

type Recorder struct {
	mu     sync.RWMutex
	phases map[string]*series
}

func New() *Recorder { return &Recorder{phases: make(map[string]*series)} }

func (r *Recorder) Add(phase string, d time.Duration) {
	r.mu.RLock()
	s, ok := r.phases[phase]
	r.mu.RUnlock()
	if !ok {
		r.mu.Lock()
		if s = r.phases[phase]; s == nil {
			s = &series{}
			r.phases[phase] = s
		}
		r.mu.Unlock()
	}
	s.mu.Lock()
	s.samples = append(s.samples, d)
	s.mu.Unlock()
}

// Start returns a func that records the time elapsed since Start under phase.
func (r *Recorder) Start(phase string) func() {
	start := time.Now()
	return func() { r.Add(phase, time.Since(start)) }
}

// Snapshot summarizes every phase, largest total first.
func (r *Recorder) Snapshot() []Row {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Row, 0, len(r.phases))
	for phase, s := range r.phases {
		s.mu.Lock()
		d := slices.Clone(s.samples)
		s.mu.Unlock()
		if len(d) == 0 {
			continue
		}
		slices.Sort(d)

		var total time.Duration
		for _, v := range d {
			total += v
		}
		out = append(out, Row{
			Phase: phase,
			Count: len(d),
			Total: total,
			Mean:  total / time.Duration(len(d)),
			P50:   d[len(d)/2],
			P95:   d[max(int(float64(len(d))*0.95)-1, 0)],
			Max:   d[len(d)-1],
		})
	}
	slices.SortFunc(out, func(a, b Row) int { return cmp.Compare(b.Total, a.Total) })
	return out
}
