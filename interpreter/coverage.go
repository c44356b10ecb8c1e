package interpreter

import (
	"fmt"
	"slices"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Coverage records which instructions ran, how often, and which way each conditional
// branch went. Percentages are in the range 0..100.
type Coverage struct {
	counts   []uint64
	executed int
	branches map[uint64]*BranchOutcome
}

type BranchOutcome struct {
	Taken    uint64 `cbor:"1,keyasint"`
	NotTaken uint64 `cbor:"2,keyasint"`
}

func NewCoverage(total int) *Coverage {
	return &Coverage{
		counts:   make([]uint64, total),
		branches: make(map[uint64]*BranchOutcome),
	}
}

func (c *Coverage) MarkExecuted(pc uint64) {
	if pc >= uint64(len(c.counts)) {
		return
	}
	if c.counts[pc] == 0 {
		c.executed++
	}
	c.counts[pc]++
}

func (c *Coverage) MarkBranch(pc uint64, taken bool) {
	b, ok := c.branches[pc]
	if !ok {
		b = &BranchOutcome{}
		c.branches[pc] = b
	}
	if taken {
		b.Taken++
	} else {
		b.NotTaken++
	}
}

func (c *Coverage) Total() int    { return len(c.counts) }
func (c *Coverage) Executed() int { return c.executed }

// Count is the number of times pc was executed.
func (c *Coverage) Count(pc uint64) uint64 {
	if pc >= uint64(len(c.counts)) {
		return 0
	}
	return c.counts[pc]
}

func (c *Coverage) Branch(pc uint64) (BranchOutcome, bool) {
	b, ok := c.branches[pc]
	if !ok {
		return BranchOutcome{}, false
	}
	return *b, true
}

// InstructionCoverage is 100 for an empty program.
func (c *Coverage) InstructionCoverage() float64 {
	if len(c.counts) == 0 {
		return 100
	}
	return float64(c.executed) / float64(len(c.counts)) * 100
}

// BranchCoverage counts both directions of every conditional branch that was reached.
func (c *Coverage) BranchCoverage() float64 {
	if len(c.branches) == 0 {
		return 100
	}
	covered := 0
	for _, b := range c.branches {
		if b.Taken > 0 {
			covered++
		}
		if b.NotTaken > 0 {
			covered++
		}
	}
	return float64(covered) / float64(2*len(c.branches)) * 100
}

func (c *Coverage) Uncovered() []uint64 {
	var out []uint64
	for pc, n := range c.counts {
		if n == 0 {
			out = append(out, uint64(pc))
		}
	}
	return out
}

type PCCount struct {
	PC    uint64 `cbor:"1,keyasint"`
	Count uint64 `cbor:"2,keyasint"`
}

// HotPaths returns the n most executed instructions, ties broken by lower pc.
func (c *Coverage) HotPaths(n int) []PCCount {
	var hot []PCCount
	for pc, cnt := range c.counts {
		if cnt > 0 {
			hot = append(hot, PCCount{PC: uint64(pc), Count: cnt})
		}
	}
	slices.SortStableFunc(hot, func(a, b PCCount) int {
		switch {
		case a.Count > b.Count:
			return -1
		case a.Count < b.Count:
			return 1
		}
		return 0
	})
	if n >= 0 && len(hot) > n {
		hot = hot[:n]
	}
	return hot
}

// Report is the serialisable summary of a Coverage.
type Report struct {
	TotalInstructions    int                      `cbor:"1,keyasint"`
	ExecutedInstructions int                      `cbor:"2,keyasint"`
	InstructionCoverage  float64                  `cbor:"3,keyasint"`
	BranchCoverage       float64                  `cbor:"4,keyasint"`
	Uncovered            []uint64                 `cbor:"5,keyasint,omitempty"`
	Branches             map[uint64]BranchOutcome `cbor:"6,keyasint,omitempty"`
	Hot                  []PCCount                `cbor:"7,keyasint,omitempty"`
}

const reportHotPaths = 10

func (c *Coverage) Report() Report {
	r := Report{
		TotalInstructions:    len(c.counts),
		ExecutedInstructions: c.executed,
		InstructionCoverage:  c.InstructionCoverage(),
		BranchCoverage:       c.BranchCoverage(),
		Uncovered:            c.Uncovered(),
		Hot:                  c.HotPaths(reportHotPaths),
	}
	if len(c.branches) > 0 {
		r.Branches = make(map[uint64]BranchOutcome, len(c.branches))
		for pc, b := range c.branches {
			r.Branches[pc] = *b
		}
	}
	return r
}

func (r Report) Encode() ([]byte, error) {
	return cbor.Marshal(r)
}

func DecodeReport(b []byte) (Report, error) {
	var r Report
	err := cbor.Unmarshal(b, &r)
	return r, err
}

func (r Report) String() string {
	var sb strings.Builder
	sb.WriteString("Coverage Report\n")
	fmt.Fprintf(&sb, "Instructions: %d/%d (%.1f%%)\n", r.ExecutedInstructions, r.TotalInstructions, r.InstructionCoverage)
	fmt.Fprintf(&sb, "Branches: %.1f%%\n", r.BranchCoverage)
	if len(r.Uncovered) > 0 {
		fmt.Fprintf(&sb, "Uncovered: %v\n", r.Uncovered)
	}
	return sb.String()
}
