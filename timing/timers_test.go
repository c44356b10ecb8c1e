package timing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	r := New()
	for i := 1; i <= 20; i++ {
		r.Add("compile", time.Duration(i)*time.Microsecond)
	}
	r.Add("execute", time.Second)
	r.Start("load")()

	rows := r.Snapshot()
	if !Enabled {
		require.Empty(t, rows)
		return
	}
	require.Len(t, rows, 3)
	require.Equal(t, "execute", rows[0].Phase)

	var compile Row
	for _, row := range rows {
		if row.Phase == "compile" {
			compile = row
		}
	}
	require.Equal(t, 20, compile.Count)
	require.Equal(t, 210*time.Microsecond, compile.Total)
	require.Equal(t, 11*time.Microsecond, compile.P50)
	require.Equal(t, 19*time.Microsecond, compile.P95)
	require.Equal(t, 20*time.Microsecond, compile.Max)
	require.Contains(t, compile.String(), "compile")
}
