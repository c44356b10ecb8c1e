package timing

import (
	"fmt"
	"time"
)

// Row summarizes the samples of one phase.
type Row struct {
	Phase    string
	Count    int
	Total    time.Duration
	Mean     time.Duration
	P50, P95 time.Duration
	Max      time.Duration
}

func (r Row) String() string {
	return fmt.Sprintf("%-24s n=%-6d total=%-12s mean=%-10s p50=%-10s p95=%-10s max=%s",
		r.Phase, r.Count, r.Total, r.Mean, r.P50, r.P95, r.Max)
}
