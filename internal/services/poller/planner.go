package poller

import (
	"math/rand"
	"sync"
	"time"
)

type Rand interface {
	Intn(n int) int
}

type PlannerConfig struct {
	// Invalid document ids never become valid; park them.
	InvalidDelay time.Duration // default: 365 days

	// Not registered in any region yet: retry somewhere in [min, max].
	ExhaustedMinDelay time.Duration // default: 6 hours
	ExhaustedMaxDelay time.Duration // default: 12 hours

	Backoff1 time.Duration // default: 1 minute
	Backoff2 time.Duration // default: 5 minutes
	Backoff3 time.Duration // default: 15 minutes
	Backoff4 time.Duration // default: 60 minutes
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		InvalidDelay: 365 * 24 * time.Hour,

		ExhaustedMinDelay: 6 * time.Hour,
		ExhaustedMaxDelay: 12 * time.Hour,

		Backoff1: 1 * time.Minute,
		Backoff2: 5 * time.Minute,
		Backoff3: 15 * time.Minute,
		Backoff4: 60 * time.Minute,
	}
}

// Planner is shared by all worker goroutines; r is only used under mu.
type Planner struct {
	cfg PlannerConfig

	mu sync.Mutex
	r  Rand
}

func NewPlanner(cfg PlannerConfig, r Rand) *Planner {
	def := DefaultPlannerConfig()
	if cfg.InvalidDelay <= 0 {
		cfg.InvalidDelay = def.InvalidDelay
	}
	if cfg.ExhaustedMinDelay <= 0 {
		cfg.ExhaustedMinDelay = def.ExhaustedMinDelay
	}
	if cfg.ExhaustedMaxDelay <= 0 {
		cfg.ExhaustedMaxDelay = def.ExhaustedMaxDelay
	}
	if cfg.ExhaustedMaxDelay < cfg.ExhaustedMinDelay {
		cfg.ExhaustedMaxDelay = cfg.ExhaustedMinDelay
	}
	if cfg.Backoff1 <= 0 {
		cfg.Backoff1 = def.Backoff1
	}
	if cfg.Backoff2 <= 0 {
		cfg.Backoff2 = def.Backoff2
	}
	if cfg.Backoff3 <= 0 {
		cfg.Backoff3 = def.Backoff3
	}
	if cfg.Backoff4 <= 0 {
		cfg.Backoff4 = def.Backoff4
	}
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Planner{cfg: cfg, r: r}
}

func (p *Planner) InvalidDelay() time.Duration {
	return p.cfg.InvalidDelay
}

// ExhaustedDelay is jittered so persons created together do not hit DMED together again.
func (p *Planner) ExhaustedDelay() time.Duration {
	min := p.cfg.ExhaustedMinDelay
	max := p.cfg.ExhaustedMaxDelay
	if max == min {
		return min
	}
	secMin := int(min.Seconds())
	secMax := int(max.Seconds())
	if secMin < 0 {
		secMin = 0
	}
	if secMax < secMin {
		secMax = secMin
	}
	p.mu.Lock()
	jitter := p.r.Intn(secMax - secMin + 1)
	p.mu.Unlock()
	return time.Duration(secMin+jitter) * time.Second
}

func (p *Planner) BackoffDelay(nextFailCount int32) time.Duration {
	switch {
	case nextFailCount <= 1:
		return p.cfg.Backoff1
	case nextFailCount == 2:
		return p.cfg.Backoff2
	case nextFailCount == 3:
		return p.cfg.Backoff3
	default:
		return p.cfg.Backoff4
	}
}
