package reconcile

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/MedPass/internal/integrations/dmed"
	"github.com/BearBump/MedPass/internal/models"
)

type memStore struct {
	mu        sync.Mutex
	nextID    int64
	persons   map[int64]*models.Person
	countries map[int64]*models.Country
	saveErr   error
	saves     atomic.Int32
}

func newMemStore() *memStore {
	return &memStore{
		persons:   map[int64]*models.Person{},
		countries: map[int64]*models.Country{1: {ID: 1, Name: "KZ"}},
	}
}

func (s *memStore) put(p *models.Person) *models.Person {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	p.ID = s.nextID
	s.persons[p.ID] = p.Clone()
	return p
}

func (s *memStore) get(id int64) *models.Person {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persons[id].Clone()
}

func (s *memStore) CreateOrGetPerson(ctx context.Context, docID string, national []int64, def int64) (*models.Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.persons {
		if p.DocID == docID && slices.Contains(national, p.CitizenshipID) {
			return p.Clone(), nil
		}
	}
	s.nextID++
	p := &models.Person{ID: s.nextID, DocID: docID, CitizenshipID: def, CreatedAt: time.Now()}
	s.persons[p.ID] = p
	return p.Clone(), nil
}

func (s *memStore) GetPersonByID(ctx context.Context, id int64) (*models.Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.persons[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return p.Clone(), nil
}

func (s *memStore) SavePerson(ctx context.Context, p *models.Person) error {
	s.saves.Add(1)
	if s.saveErr != nil {
		return s.saveErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.persons {
		if o.ID != p.ID && o.DocID == p.DocID && o.CitizenshipID == p.CitizenshipID {
			return models.ErrConflict
		}
	}
	s.persons[p.ID] = p.Clone()
	return nil
}

func (s *memStore) UnionMarkers(ctx context.Context, personID int64, markers []models.Marker) ([]models.Marker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.persons[personID]
	for _, m := range markers {
		if !slices.ContainsFunc(p.Markers, func(x models.Marker) bool { return x.ID == m.ID }) {
			p.Markers = append(p.Markers, m)
		}
	}
	return slices.Clone(p.Markers), nil
}

func (s *memStore) GetOrCreateCountry(ctx context.Context, id int64) (*models.Country, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.countries[id]
	if !ok {
		c = &models.Country{ID: id}
		s.countries[id] = c
	}
	return c, nil
}

type staticRegions []models.Region

func (r staticRegions) OrderedCandidates(ctx context.Context, home *int64) ([]models.Region, error) {
	out := slices.Clone([]models.Region(r))
	if home != nil {
		i := slices.IndexFunc(out, func(rg models.Region) bool { return rg.ID == *home })
		if i > 0 {
			h := out[i]
			out = append(out[:i], out[i+1:]...)
			out = append([]models.Region{h}, out...)
		}
	}
	return out, nil
}

func regionsN(n int) staticRegions {
	out := make(staticRegions, 0, n)
	for i := 1; i <= n; i++ {
		u := "http://dmed.local/" + string(rune('a'+i-1))
		out = append(out, models.Region{ID: int64(i), DmedURL: &u, DmedPriority: i})
	}
	return out
}

// regionScript is what one fake region answers.
type regionScript struct {
	rec       *dmed.PersonRecord
	err       error
	delay     time.Duration
	detail    *dmed.PersonDetail
	detailErr error
	markers   []dmed.Marker
}

type registry struct {
	mu      sync.Mutex
	scripts map[int64]regionScript
	lookups map[int64]*atomic.Int32
	details atomic.Int32
	markers atomic.Int32
}

func newRegistry(scripts map[int64]regionScript) *registry {
	r := &registry{scripts: scripts, lookups: map[int64]*atomic.Int32{}}
	for id := range scripts {
		r.lookups[id] = &atomic.Int32{}
	}
	return r
}

func (r *registry) calls(regionID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.lookups[regionID]
	if !ok {
		return 0
	}
	return int(c.Load())
}

func (r *registry) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.lookups {
		n += int(c.Load())
	}
	return n
}

func (r *registry) factory(region models.Region) (dmed.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.lookups[region.ID]; !ok {
		r.lookups[region.ID] = &atomic.Int32{}
	}
	return &regionClient{reg: r, region: region.ID, script: r.scripts[region.ID], counter: r.lookups[region.ID]}, nil
}

type regionClient struct {
	reg     *registry
	region  int64
	script  regionScript
	counter *atomic.Int32
}

func (c *regionClient) GetPerson(ctx context.Context, iin string) (*dmed.PersonRecord, error) {
	c.counter.Add(1)
	if c.script.delay > 0 {
		time.Sleep(c.script.delay)
	}
	if c.script.err != nil {
		return nil, c.script.err
	}
	if c.script.rec == nil {
		return nil, nil
	}
	rec := *c.script.rec
	rec.IIN = iin
	return &rec, nil
}

func (c *regionClient) GetPersonDetail(ctx context.Context, rpnID int64) (*dmed.PersonDetail, error) {
	c.reg.details.Add(1)
	return c.script.detail, c.script.detailErr
}

func (c *regionClient) GetPersonMarkers(ctx context.Context, personID int64) ([]dmed.Marker, error) {
	c.reg.markers.Add(1)
	return c.script.markers, nil
}

type capturedPublish struct {
	topic string
	key   []byte
	value []byte
}

type fakeProducer struct {
	mu   sync.Mutex
	msgs []capturedPublish
}

func (p *fakeProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, capturedPublish{topic: topic, key: key, value: value})
	return nil
}

type countingLimiter struct {
	mu    sync.Mutex
	keys  []string
	allow bool
}

func (l *countingLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	return l.allow, int64(len(l.keys)), nil
}

func i64(v int64) *int64 { return &v }

func badGateway(msg string) error {
	return &dmed.Error{Kind: dmed.ErrBadGateway, Op: "Person/GetPersons", Message: msg}
}

func transport() error {
	return &dmed.Error{Kind: dmed.ErrTransport, Op: "Person/GetPersons"}
}
