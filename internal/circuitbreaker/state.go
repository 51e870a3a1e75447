package circuitbreaker

import "time"

type State int

const (
	// StateClosed - normal operation, calls pass through
	StateClosed State = iota

	// StateOpen - calls fail immediately without touching the network
	StateOpen

	// StateHalfOpen - one trial call probes whether the target recovered
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Outcome classifies how a wrapped call ended. A canceled call tells the
// breaker nothing about the target's health and never moves the state.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
	OutcomeCanceled
)

// snapshot is the full breaker state. It is a plain value so the
// transition functions below stay pure and testable without locks or a
// real clock.
type snapshot struct {
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// next applies one call outcome to the state machine.
func next(s snapshot, o Outcome, now time.Time, threshold int, breakFor time.Duration) snapshot {
	if o == OutcomeCanceled {
		// The client giving up says nothing about the target, but a
		// canceled half-open probe must release the probe slot or no
		// trial call could ever run again. The original open timer
		// keeps governing, so the next admit claims a fresh probe.
		if s.state == StateHalfOpen {
			s.state = StateOpen
			s.probing = false
		}
		return s
	}

	switch s.state {
	case StateClosed:
		if o == OutcomeFailure {
			s.failures++
			if s.failures >= threshold {
				s.state = StateOpen
				s.openedAt = now
			}
		} else {
			s.failures = 0
		}

	case StateHalfOpen:
		s.probing = false
		if o == OutcomeSuccess {
			s.state = StateClosed
			s.failures = 0
		} else {
			s.state = StateOpen
			s.openedAt = now
		}

	case StateOpen:
		// A straggler result from a call admitted before the breaker
		// opened; the open timer already covers it.
	}

	return s
}

// admit decides whether a call may proceed right now. It returns the
// possibly-advanced state (Open moves to HalfOpen once the break duration
// has elapsed, claiming the single probe slot) and the verdict.
func admit(s snapshot, now time.Time, breakFor time.Duration) (snapshot, bool) {
	switch s.state {
	case StateClosed:
		return s, true

	case StateOpen:
		if now.Sub(s.openedAt) >= breakFor {
			s.state = StateHalfOpen
			s.probing = true
			return s, true
		}
		return s, false

	case StateHalfOpen:
		if s.probing {
			return s, false
		}
		s.probing = true
		return s, true
	}

	return s, false
}
