package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/MedPass/internal/models"
	"github.com/BearBump/MedPass/internal/services/reconcile"
	"github.com/pkg/errors"
)

type Repository interface {
	ClaimPendingEnrichment(ctx context.Context, now time.Time, limit int, lease time.Duration, national []int64) ([]*models.EnrichmentTask, error)
	ScheduleEnrichment(ctx context.Context, personID int64, next time.Time, failCount int32, lastErr *string) error
}

type Engine interface {
	Resolve(ctx context.Context, docID string, home *int64) (*reconcile.Result, error)
}

// Poller is the enrich-worker loop: claim stub persons, run the engine, reschedule misses.
type Poller struct {
	repo   Repository
	engine Engine

	national []int64

	planner *Planner

	pollInterval time.Duration
	batchSize    int
	concurrency  int
	lease        time.Duration
	callTimeout  time.Duration

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalClaimed        atomic.Int64
	totalProcessed      atomic.Int64
	totalEnriched       atomic.Int64
	totalExhausted      atomic.Int64
	totalErrors         atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, engine Engine, national []int64) *Poller {
	return &Poller{
		repo:              repo,
		engine:            engine,
		national:          national,
		planner:           DefaultPlanner(),
		pollInterval:      5 * time.Second,
		batchSize:         50,
		concurrency:       4,
		lease:             120 * time.Second,
		callTimeout:       60 * time.Second,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func DefaultPlanner() *Planner {
	return NewPlanner(DefaultPlannerConfig(), nil)
}

func (p *Poller) WithSettings(pollInterval time.Duration, batchSize, concurrency int, lease time.Duration) *Poller {
	if pollInterval > 0 {
		p.pollInterval = pollInterval
	}
	if batchSize > 0 {
		p.batchSize = batchSize
	}
	if concurrency > 0 {
		p.concurrency = concurrency
	}
	if lease > 0 {
		p.lease = lease
	}
	return p
}

func (p *Poller) WithPlanner(cfg PlannerConfig) *Poller {
	p.planner = NewPlanner(cfg, nil)
	return p
}

// Trigger forces an immediate poll cycle (best-effort, non-blocking).
func (p *Poller) Trigger() {
	p.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	TotalClaimed   int64      `json:"totalClaimed"`
	TotalProcessed int64      `json:"totalProcessed"`
	TotalEnriched  int64      `json:"totalEnriched"`
	TotalExhausted int64      `json:"totalExhausted"`
	TotalErrors    int64      `json:"totalErrors"`
	InFlight       int64      `json:"inFlight"`
	LastError      string     `json:"lastError,omitempty"`
}

func (p *Poller) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, p.startedAtUnixNano).UTC(),
		TotalClaimed:   p.totalClaimed.Load(),
		TotalProcessed: p.totalProcessed.Load(),
		TotalEnriched:  p.totalEnriched.Load(),
		TotalExhausted: p.totalExhausted.Load(),
		TotalErrors:    p.totalErrors.Load(),
		InFlight:       p.inFlight.Load(),
	}
	if n := p.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := p.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	p.lastErrorMu.Lock()
	st.LastError = p.lastError
	p.lastErrorMu.Unlock()
	return st
}

func (p *Poller) Run(ctx context.Context) error {
	t := time.NewTicker(p.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			p.runOnce(ctx)
		case <-p.triggerCh:
			p.runOnce(ctx)
		}
	}
}

func (p *Poller) setLastError(err error) {
	p.lastErrorMu.Lock()
	p.lastError = err.Error()
	p.lastErrorMu.Unlock()
}

func (p *Poller) runOnce(ctx context.Context) {
	now := time.Now().UTC()
	p.lastCycleUnixNano.Store(now.UnixNano())

	items, err := p.repo.ClaimPendingEnrichment(ctx, now, p.batchSize, p.lease, p.national)
	if err != nil {
		slog.Error("claim pending enrichment", "error", err.Error())
		p.setLastError(err)
		return
	}
	p.totalClaimed.Add(int64(len(items)))

	sem := make(chan struct{}, p.concurrency)
	var wg sync.WaitGroup
	for _, task := range items {
		sem <- struct{}{}
		wg.Add(1)
		p.inFlight.Add(1)
		go func() {
			defer func() {
				p.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			if err := p.processOne(ctx, task); err != nil {
				p.totalErrors.Add(1)
				p.setLastError(err)
				slog.Error("enrich person", "person_id", task.PersonID, "error", err.Error())
			}
			p.totalProcessed.Add(1)
		}()
	}
	wg.Wait()
}

func (p *Poller) processOne(ctx context.Context, task *models.EnrichmentTask) error {
	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	res, err := p.engine.Resolve(callCtx, task.DocID, nil)
	cancel()

	now := time.Now().UTC()
	nextFail := task.FailCount + 1
	switch {
	case err == nil && res.Outcome != reconcile.OutcomeExhausted:
		// dmed_id заполнен: персона больше не попадёт в выборку
		p.totalEnriched.Add(1)
		return nil

	case err == nil:
		p.totalExhausted.Add(1)
		msg := "not registered in any region"
		return p.reschedule(ctx, task, now.Add(p.planner.ExhaustedDelay()), nextFail, &msg)

	case errors.Is(err, models.ErrInvalidIdentifier):
		slog.Warn("invalid document id parked", "person_id", task.PersonID, "error", err.Error())
		msg := err.Error()
		return p.reschedule(ctx, task, now.Add(p.planner.InvalidDelay()), nextFail, &msg)

	default:
		msg := err.Error()
		if rerr := p.reschedule(ctx, task, now.Add(p.planner.BackoffDelay(nextFail)), nextFail, &msg); rerr != nil {
			return rerr
		}
		return err
	}
}

func (p *Poller) reschedule(ctx context.Context, task *models.EnrichmentTask, next time.Time, failCount int32, lastErr *string) error {
	if err := p.repo.ScheduleEnrichment(ctx, task.PersonID, next, failCount, lastErr); err != nil {
		return errors.Wrap(err, "schedule enrichment")
	}
	return nil
}
