package circuitbreaker

import (
	"sync"

	"go.uber.org/zap"
)

// Registry holds one breaker per downstream target, created lazily on the
// first call to that target.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	cfg      Config
	logger   *zap.Logger
}

func NewRegistry(cfg Config, logger *zap.Logger) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		cfg:      cfg,
		logger:   logger,
	}
}

func (r *Registry) Get(target string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[target]; ok {
		return b
	}

	b := New(target, r.cfg, r.logger)
	r.breakers[target] = b
	return b
}
