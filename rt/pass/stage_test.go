package pass

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordingPass(name string, log *[]string, err error) Func {
	return Func{PassName: name, Fn: func(ctx *Context) error {
		*log = append(*log, name)
		return err
	}}
}

func TestStageRunsInOrder(t *testing.T) {
	var log []string
	s := NewStage("test")
	s.Add(recordingPass("a", &log, nil), ExecuteContinuous)
	s.Add(recordingPass("b", &log, nil), ExecuteContinuous)
	s.Add(recordingPass("c", &log, nil), ExecuteContinuous)

	prof := NewProfiler()
	require.NoError(t, s.Run(NewContext(context.Background(), 0, nil, prof)))
	assert.Equal(t, []string{"a", "b", "c"}, log)
	assert.Equal(t, []string{"a", "b", "c"}, prof.Order)
	assert.Equal(t, 1, s.Runs(1))
}

func TestStageExecutionCounts(t *testing.T) {
	var log []string
	s := NewStage("test")
	s.Add(recordingPass("once", &log, nil), ExecuteOnce)
	s.Add(recordingPass("twice", &log, nil), 2)
	s.Add(recordingPass("always", &log, nil), ExecuteContinuous)

	for frame := uint64(0); frame < 3; frame++ {
		require.NoError(t, s.Run(NewContext(context.Background(), frame, nil, nil)))
	}
	assert.Equal(t, []string{"once", "twice", "always", "twice", "always", "always"}, log)
	assert.False(t, s.Done())

	s.Reset()
	log = nil
	require.NoError(t, s.Run(NewContext(context.Background(), 3, nil, nil)))
	assert.Equal(t, []string{"once", "twice", "always"}, log)
}

func TestStageStopsOnError(t *testing.T) {
	var log []string
	boom := errors.New("boom")
	s := NewStage("test")
	s.Add(recordingPass("a", &log, nil), ExecuteContinuous)
	s.Add(recordingPass("b", &log, boom), ExecuteContinuous)
	s.Add(recordingPass("c", &log, nil), ExecuteContinuous)

	err := s.Run(NewContext(context.Background(), 0, nil, nil))
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "pass b")
	assert.Equal(t, []string{"a", "b"}, log)
}

func TestStageHonoursCancellation(t *testing.T) {
	var log []string
	s := NewStage("test")
	s.Add(recordingPass("a", &log, nil), ExecuteContinuous)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Run(NewContext(ctx, 0, nil, nil))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, log)
}

func TestStageDoneWhenExhausted(t *testing.T) {
	var log []string
	s := NewStage("static")
	s.Add(recordingPass("a", &log, nil), ExecuteOnce)
	assert.False(t, s.Done())
	require.NoError(t, s.Run(NewContext(context.TODO(), 0, nil, nil)))
	assert.True(t, s.Done())
}

func TestProfilerSumsRepeatedScopes(t *testing.T) {
	p := NewProfiler()
	for i := 0; i < 3; i++ {
		p.BeginScope("Flag")
		p.EndScope("Flag")
	}
	p.SetCount("Fragments", 12)

	assert.Equal(t, []string{"Flag"}, p.Order)
	assert.Equal(t, p.Scopes["Flag"], p.Total())
	out := p.GetStatsString()
	assert.True(t, strings.Contains(out, "Flag"))
	assert.True(t, strings.Contains(out, "Fragments"))

	p.Reset()
	assert.Zero(t, p.Total())
}
