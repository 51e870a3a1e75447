package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var (
	t0       = time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	breakFor = 30 * time.Second
)

func TestNext_ClosedFailuresAccumulate(t *testing.T) {
	s := snapshot{state: StateClosed}

	for i := 1; i <= 4; i++ {
		s = next(s, OutcomeFailure, t0, 5, breakFor)
		assert.Equal(t, StateClosed, s.state)
		assert.Equal(t, i, s.failures)
	}

	s = next(s, OutcomeFailure, t0, 5, breakFor)
	assert.Equal(t, StateOpen, s.state)
	assert.Equal(t, t0, s.openedAt)
}

func TestNext_ClosedSuccessResetsFailures(t *testing.T) {
	s := snapshot{state: StateClosed, failures: 4}

	s = next(s, OutcomeSuccess, t0, 5, breakFor)

	assert.Equal(t, StateClosed, s.state)
	assert.Equal(t, 0, s.failures)
}

func TestNext_HalfOpenProbeSuccessCloses(t *testing.T) {
	s := snapshot{state: StateHalfOpen, failures: 5, probing: true}

	s = next(s, OutcomeSuccess, t0, 5, breakFor)

	assert.Equal(t, StateClosed, s.state)
	assert.Equal(t, 0, s.failures)
	assert.False(t, s.probing)
}

func TestNext_HalfOpenProbeFailureReopens(t *testing.T) {
	opened := t0.Add(-time.Minute)
	s := snapshot{state: StateHalfOpen, failures: 5, openedAt: opened, probing: true}

	s = next(s, OutcomeFailure, t0, 5, breakFor)

	assert.Equal(t, StateOpen, s.state)
	assert.Equal(t, t0, s.openedAt, "break timer restarts")
	assert.False(t, s.probing)
}

func TestNext_CanceledIsNoOpWhileNotProbing(t *testing.T) {
	for _, s := range []snapshot{
		{state: StateClosed, failures: 3},
		{state: StateOpen, openedAt: t0},
	} {
		assert.Equal(t, s, next(s, OutcomeCanceled, t0.Add(time.Hour), 5, breakFor))
	}
}

func TestNext_HalfOpenCanceledReleasesProbe(t *testing.T) {
	opened := t0.Add(-time.Minute)
	s := snapshot{state: StateHalfOpen, failures: 5, openedAt: opened, probing: true}

	s = next(s, OutcomeCanceled, t0, 5, breakFor)

	assert.Equal(t, StateOpen, s.state)
	assert.False(t, s.probing, "the probe slot frees up for the next trial")
	assert.Equal(t, opened, s.openedAt, "a canceled probe is not a failure, the timer does not restart")

	// The break duration already elapsed, so the very next admit runs a
	// fresh trial call
	s, ok := admit(s, t0, breakFor)
	assert.True(t, ok)
	assert.Equal(t, StateHalfOpen, s.state)
	assert.True(t, s.probing)
}

func TestAdmit_Closed(t *testing.T) {
	s, ok := admit(snapshot{state: StateClosed}, t0, breakFor)
	assert.True(t, ok)
	assert.Equal(t, StateClosed, s.state)
}

func TestAdmit_OpenBeforeBreakElapses(t *testing.T) {
	s, ok := admit(snapshot{state: StateOpen, openedAt: t0}, t0.Add(29*time.Second), breakFor)
	assert.False(t, ok)
	assert.Equal(t, StateOpen, s.state)
}

func TestAdmit_OpenToHalfOpenAfterBreak(t *testing.T) {
	s, ok := admit(snapshot{state: StateOpen, openedAt: t0}, t0.Add(30*time.Second), breakFor)
	assert.True(t, ok)
	assert.Equal(t, StateHalfOpen, s.state)
	assert.True(t, s.probing)
}

func TestAdmit_HalfOpenSingleProbe(t *testing.T) {
	s, ok := admit(snapshot{state: StateHalfOpen, probing: true}, t0, breakFor)
	assert.False(t, ok, "only one trial call may be in flight")
	assert.Equal(t, StateHalfOpen, s.state)
}
