package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrOpen is returned by Allow while the breaker is shedding load.
var ErrOpen = errors.New("circuit breaker is open")

type Config struct {
	FailureThreshold int           // Default: 5
	BreakDuration    time.Duration // Default: 30 seconds
}

// Breaker guards one downstream target. State is local to this process;
// each replica learns about an unhealthy target on its own.
type Breaker struct {
	mu        sync.Mutex
	snap      snapshot
	threshold int
	breakFor  time.Duration
	nowFunc   func() time.Time
	logger    *zap.Logger
	target    string
}

func New(target string, cfg Config, logger *zap.Logger) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.BreakDuration <= 0 {
		cfg.BreakDuration = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Breaker{
		snap:      snapshot{state: StateClosed},
		threshold: cfg.FailureThreshold,
		breakFor:  cfg.BreakDuration,
		nowFunc:   time.Now,
		logger:    logger,
		target:    target,
	}
}

// Allow reports whether a call to the target may proceed. While open it
// fails fast with ErrOpen; once the break duration elapses exactly one
// caller gets through as the half-open probe.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	prev := b.snap.state
	snap, ok := admit(b.snap, b.nowFunc(), b.breakFor)
	b.snap = snap
	b.logTransition(prev, snap.state)

	if !ok {
		return ErrOpen
	}
	return nil
}

// Record feeds the outcome of an admitted call back into the state
// machine. Canceled outcomes are ignored: the client giving up says
// nothing about the target.
func (b *Breaker) Record(o Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()

	prev := b.snap.state
	b.snap = next(b.snap, o, b.nowFunc(), b.threshold, b.breakFor)
	b.logTransition(prev, b.snap.state)
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snap.state
}

// logTransition logs once per state change, never per rejected call, so an
// open breaker does not flood the log.
func (b *Breaker) logTransition(from, to State) {
	if from == to {
		return
	}
	b.logger.Info("circuit breaker state change",
		zap.String("target", b.target),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
}
