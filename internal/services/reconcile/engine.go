// Package reconcile enriches local person records from the regional DMED registries.
//
// One enrichment attempt goes NotStarted -> Querying -> Merged | Exhausted. A person
// whose dmed_id is already set is never queried again.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/BearBump/MedPass/internal/broker/messages"
	"github.com/BearBump/MedPass/internal/cache"
	"github.com/BearBump/MedPass/internal/cache/rediscache"
	"github.com/BearBump/MedPass/internal/iin"
	"github.com/BearBump/MedPass/internal/integrations/dmed"
	"github.com/BearBump/MedPass/internal/keylock"
	"github.com/BearBump/MedPass/internal/metrics"
	"github.com/BearBump/MedPass/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

type Outcome string

const (
	// OutcomeAlreadyEnriched: dmed_id was set before the call, nothing was queried.
	OutcomeAlreadyEnriched Outcome = "already_enriched"
	OutcomeMerged          Outcome = "merged"
	OutcomeExhausted       Outcome = "exhausted"
)

const DefaultBatchSize = 2

// Store is the part of the person storage the engine needs.
type Store interface {
	CreateOrGetPerson(ctx context.Context, docID string, national []int64, defaultCitizenship int64) (*models.Person, error)
	GetPersonByID(ctx context.Context, id int64) (*models.Person, error)
	SavePerson(ctx context.Context, p *models.Person) error
	// UnionMarkers attaches markers by id and returns the resulting marker set.
	UnionMarkers(ctx context.Context, personID int64, markers []models.Marker) ([]models.Marker, error)
	GetOrCreateCountry(ctx context.Context, id int64) (*models.Country, error)
}

type Candidates interface {
	OrderedCandidates(ctx context.Context, home *int64) ([]models.Region, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type Config struct {
	NationalCitizenships []int64
	DefaultCitizenship   int64
	// BatchSize is how many regions are probed at once.
	BatchSize            int
	RegionCallsPerMinute int64
	EnrichedTopic        string
}

type Result struct {
	Person  *models.Person
	Outcome Outcome
	// RegionID is set when this call merged data.
	RegionID *int64
}

type Engine struct {
	store    Store
	regions  Candidates
	factory  dmed.Factory
	cfg      Config
	locks    *keylock.Locker
	rl       RateLimiter
	producer Producer
	metrics  *metrics.Metrics
	cache    cache.BytesCache

	flights singleflight.Group
}

type Option func(*Engine)

func WithLocker(l *keylock.Locker) Option {
	return func(e *Engine) {
		if l != nil {
			e.locks = l
		}
	}
}

func WithRateLimiter(rl RateLimiter) Option {
	return func(e *Engine) { e.rl = rl }
}

func WithProducer(p Producer) Option {
	return func(e *Engine) { e.producer = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithCache evicts the cached person snapshot after every merge.
func WithCache(c cache.BytesCache) Option {
	return func(e *Engine) { e.cache = c }
}

func New(store Store, regions Candidates, factory dmed.Factory, cfg Config, opts ...Option) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.EnrichedTopic == "" {
		cfg.EnrichedTopic = messages.TopicPersonEnriched
	}
	e := &Engine{
		store:   store,
		regions: regions,
		factory: factory,
		cfg:     cfg,
		locks:   keylock.New(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// LockKey is the keylock key guarding read-modify-write of one person.
func LockKey(personID int64) string {
	return "person:" + strconv.FormatInt(personID, 10)
}

func (e *Engine) Locker() *keylock.Locker {
	return e.locks
}

// Resolve loads or creates the person for a national id and enriches it when needed.
// home is the requestor's region and may be nil. Concurrent calls for the same id
// share one attempt. If ctx ends first the attempt keeps running in the background
// and its result is dropped.
func (e *Engine) Resolve(ctx context.Context, docID string, home *int64) (*Result, error) {
	if err := iin.Validate(docID); err != nil {
		return nil, errors.Wrapf(models.ErrInvalidIdentifier, "%s", err.Error())
	}

	ch := e.flights.DoChan(docID, func() (any, error) {
		return e.resolve(context.WithoutCancel(ctx), docID, home)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Shared {
			e.metrics.IncrementShared()
		}
		if r.Err != nil {
			if res, ok := r.Val.(*Result); ok && res != nil {
				return res.clone(), r.Err
			}
			return nil, r.Err
		}
		return r.Val.(*Result).clone(), nil
	}
}

func (r *Result) clone() *Result {
	c := *r
	if r.Person != nil {
		c.Person = r.Person.Clone()
	}
	return &c
}

func (e *Engine) resolve(ctx context.Context, docID string, home *int64) (*Result, error) {
	p, err := e.store.CreateOrGetPerson(ctx, docID, e.cfg.NationalCitizenships, e.cfg.DefaultCitizenship)
	if err != nil {
		return nil, errors.Wrap(err, "create or get person")
	}
	if p.Enriched() {
		e.metrics.ObserveOutcome(string(OutcomeAlreadyEnriched))
		return &Result{Person: p, Outcome: OutcomeAlreadyEnriched}, nil
	}

	candidates, err := e.regions.OrderedCandidates(ctx, home)
	if err != nil {
		return nil, errors.Wrap(err, "ordered candidates")
	}

	win, failures := e.probe(ctx, docID, candidates)
	if win == nil {
		e.metrics.ObserveOutcome(string(OutcomeExhausted))
		res := &Result{Person: p, Outcome: OutcomeExhausted}
		if len(candidates) > 0 && failures.badGateway == len(candidates) {
			return res, errors.Wrapf(ErrAllRegistriesFailed, "%d regions", len(candidates))
		}
		slog.Info("dmed enrichment exhausted",
			"doc_id", docID,
			"regions", len(candidates),
			"bad_gateway", failures.badGateway,
			"transport", failures.transport,
		)
		return res, nil
	}

	merged, err := e.apply(ctx, p.ID, win)
	if err != nil {
		return nil, err
	}
	if !merged.applied {
		e.metrics.ObserveOutcome(string(OutcomeAlreadyEnriched))
		return &Result{Person: merged.person, Outcome: OutcomeAlreadyEnriched}, nil
	}
	e.metrics.ObserveOutcome(string(OutcomeMerged))
	regionID := win.region.ID
	return &Result{Person: merged.person, Outcome: OutcomeMerged, RegionID: &regionID}, nil
}

type hit struct {
	region models.Region
	client dmed.Client
	rec    *dmed.PersonRecord
	err    error
}

type failureCount struct {
	badGateway int
	transport  int
}

// probe queries candidates in batches. The first non-empty answer wins; the rest of
// its batch finishes in the background and no further batch is started.
func (e *Engine) probe(ctx context.Context, docID string, candidates []models.Region) (*hit, failureCount) {
	var fc failureCount
	for start := 0; start < len(candidates); start += e.cfg.BatchSize {
		end := min(start+e.cfg.BatchSize, len(candidates))
		batch := candidates[start:end]

		results := make(chan hit, len(batch))
		for _, rg := range batch {
			go func() {
				results <- e.lookup(ctx, rg, docID)
			}()
		}

		for range batch {
			h := <-results
			switch {
			case h.err != nil:
				if dmed.IsBadGateway(h.err) {
					fc.badGateway++
				} else {
					fc.transport++
				}
			case h.rec != nil:
				return &h, fc
			}
		}
	}
	return nil, fc
}

func (e *Engine) lookup(ctx context.Context, rg models.Region, docID string) hit {
	h := hit{region: rg}
	label := strconv.FormatInt(rg.ID, 10)
	endpoint := ""
	if rg.DmedURL != nil {
		endpoint = *rg.DmedURL
	}

	e.throttle(ctx, rg)

	client, err := e.factory(rg)
	if err != nil {
		h.err = &dmed.Error{Kind: dmed.ErrTransport, Op: "client", Endpoint: endpoint, Err: err}
		slog.Error("dmed client", "region", rg.ID, "endpoint", endpoint, "error", err.Error())
		return h
	}
	h.client = client

	started := time.Now()
	rec, err := client.GetPerson(ctx, docID)
	took := time.Since(started)
	switch {
	case err != nil:
		h.err = err
		result := metrics.ResultTransport
		if dmed.IsBadGateway(err) {
			result = metrics.ResultBadGateway
		}
		e.metrics.ObserveRegistryCall(label, result, took)
		slog.Warn("dmed lookup failed", "region", rg.ID, "endpoint", endpoint, "error", err.Error())
	case rec == nil:
		e.metrics.ObserveRegistryCall(label, metrics.ResultEmpty, took)
	default:
		e.metrics.ObserveRegistryCall(label, metrics.ResultFound, took)
		h.rec = rec
	}
	return h
}

func (e *Engine) throttle(ctx context.Context, rg models.Region) {
	if e.rl == nil || e.cfg.RegionCallsPerMinute <= 0 {
		return
	}
	key := rediscache.MinuteKey(fmt.Sprintf("dmed:region:%d", rg.ID), time.Now())
	allowed, n, err := e.rl.Allow(ctx, key, e.cfg.RegionCallsPerMinute, 70*time.Second)
	if err != nil {
		slog.Warn("dmed rate limiter", "region", rg.ID, "error", err.Error())
		return
	}
	if !allowed {
		// Регион перегружен: небольшая пауза перед запросом.
		slog.Warn("dmed rate limit exceeded", "region", rg.ID, "count", n)
		t := time.NewTimer(500 * time.Millisecond)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
		}
	}
}

type applied struct {
	person  *models.Person
	applied bool
}

// apply merges a winning lookup into the stored person under the person lock.
func (e *Engine) apply(ctx context.Context, personID int64, h *hit) (applied, error) {
	unlock := e.locks.Lock(LockKey(personID))
	defer unlock()

	cur, err := e.store.GetPersonByID(ctx, personID)
	if err != nil {
		return applied{}, errors.Wrap(err, "reload person")
	}
	if cur.Enriched() {
		return applied{person: cur}, nil
	}

	rec := h.rec
	p, _ := Merge(cur, PatchFromRecord(rec))
	dmedID := rec.ID
	regionID := h.region.ID
	p.DmedID = &dmedID
	p.DmedRPNID = rec.RPNID
	p.DmedMasterDataID = rec.MasterDataID
	p.DmedRegionID = &regionID

	if rec.CitizenshipID != nil {
		c, err := e.store.GetOrCreateCountry(ctx, *rec.CitizenshipID)
		if err != nil {
			return applied{}, errors.Wrap(err, "citizenship")
		}
		p.CitizenshipID = c.ID
	}

	if err := e.store.SavePerson(ctx, p); err != nil {
		return applied{}, errors.Wrap(err, "save enriched person")
	}
	slog.Info("dmed person merged", "person_id", p.ID, "region", regionID, "dmed_id", dmedID)

	endpoint := ""
	if h.region.DmedURL != nil {
		endpoint = *h.region.DmedURL
	}

	if p.DmedRPNID == nil || *p.DmedRPNID == 0 {
		slog.Info("dmed detail skipped: no rpn id", "person_id", p.ID, "region", regionID)
	} else {
		d, err := h.client.GetPersonDetail(ctx, *p.DmedRPNID)
		switch {
		case err != nil:
			slog.Warn("dmed detail failed", "person_id", p.ID, "region", regionID, "endpoint", endpoint, "error", err.Error())
		case d != nil:
			next, changed := Merge(p, PatchFromDetail(d))
			if len(changed) > 0 {
				if err := e.store.SavePerson(ctx, next); err != nil {
					return applied{}, errors.Wrap(err, "save person detail")
				}
				p = next
			}
		}
	}

	ms, err := h.client.GetPersonMarkers(ctx, dmedID)
	if err != nil {
		slog.Warn("dmed markers failed", "person_id", p.ID, "region", regionID, "endpoint", endpoint, "error", err.Error())
	} else if len(ms) > 0 {
		in := make([]models.Marker, 0, len(ms))
		for _, m := range ms {
			in = append(in, models.Marker{ID: m.ID, Name: m.Name})
		}
		before := len(p.Markers)
		all, err := e.store.UnionMarkers(ctx, p.ID, in)
		if err != nil {
			return applied{}, errors.Wrap(err, "union markers")
		}
		e.metrics.AddMarkersLinked(len(all) - before)
		p.Markers = all
	}

	e.evict(ctx, p.ID)
	e.publish(ctx, p)
	return applied{person: p, applied: true}, nil
}

func (e *Engine) evict(ctx context.Context, personID int64) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Delete(ctx, cache.PersonKey(personID)); err != nil {
		slog.Warn("person cache delete", "person_id", personID, "error", err.Error())
	}
}

func (e *Engine) publish(ctx context.Context, p *models.Person) {
	if e.producer == nil {
		return
	}
	msg := messages.PersonEnriched{
		EventID:    uuid.NewString(),
		PersonID:   p.ID,
		DocID:      p.DocID,
		DmedID:     *p.DmedID,
		RegionID:   *p.DmedRegionID,
		EnrichedAt: time.Now().UTC(),
	}
	for _, m := range p.Markers {
		msg.Markers = append(msg.Markers, messages.Marker{ID: m.ID, Name: m.Name})
	}
	b, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal person.enriched", "error", err.Error())
		return
	}
	key := []byte(strconv.FormatInt(p.ID, 10))
	// событие вспомогательное: ошибка публикации не откатывает обогащение
	if err := e.producer.Publish(ctx, e.cfg.EnrichedTopic, key, b); err != nil {
		slog.Error("publish person.enriched", "person_id", p.ID, "error", err.Error())
	}
}
