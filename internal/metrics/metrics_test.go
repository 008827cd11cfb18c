package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"charge-flip/internal/solver"
)

var _ solver.Metrics = (*Recorder)(nil)

func TestRecorderCounts(t *testing.T) {
	r := NewRecorder()
	r.IterationDone("basic", 0.4)
	r.IterationDone("basic", 0.3)
	r.IterationDone("lde", 0.1)
	r.DeltaGuessed(false, 0.2)
	r.DeltaGuessed(true, 0.18)
	r.AttemptStarted()
	r.TransitionDetected(42)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.iterations.WithLabelValues("basic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.iterations.WithLabelValues("lde")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.deltaGuess.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.deltaGuess.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.attempts))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.transitions))
	assert.Equal(t, 0.18, testutil.ToFloat64(r.delta))
	assert.Equal(t, 0.1, testutil.ToFloat64(r.r1))
	assert.Equal(t, 1, testutil.CollectAndCount(r.toTransit))
}

func TestWriteTextfile(t *testing.T) {
	r := NewRecorder()
	r.AttemptStarted()
	path := filepath.Join(t.TempDir(), "cflip.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "cflip_solving_attempts_total 1")
}
