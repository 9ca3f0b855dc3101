package persons

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/MedPass/internal/cache"
	"github.com/BearBump/MedPass/internal/iin"
	"github.com/BearBump/MedPass/internal/keylock"
	"github.com/BearBump/MedPass/internal/models"
	"github.com/BearBump/MedPass/internal/services/reconcile"
	"github.com/pkg/errors"
)

type Repository interface {
	GetPersonByID(ctx context.Context, id int64) (*models.Person, error)
	CreatePerson(ctx context.Context, in models.PersonCreateInput) (*models.Person, error)
	SavePerson(ctx context.Context, p *models.Person) error
	ListMarkers(ctx context.Context, personID int64) ([]models.Marker, error)
	GetOrCreateCountry(ctx context.Context, id int64) (*models.Country, error)
	ListPasses(ctx context.Context, personID int64, limit int) ([]*models.CheckpointPass, error)
	RequeueEnrichment(ctx context.Context, personID int64) error
}

type Resolver interface {
	Resolve(ctx context.Context, docID string, home *int64) (*reconcile.Result, error)
}

type Service struct {
	repo       Repository
	resolver   Resolver
	cache      cache.BytesCache
	currentTTL time.Duration
	locks      *keylock.Locker
}

// New wires the service. locks must be the same Locker the engine uses so operator
// updates and enrichment merges of one person never interleave.
func New(repo Repository, resolver Resolver, c cache.BytesCache, currentTTL time.Duration, locks *keylock.Locker) *Service {
	if locks == nil {
		locks = keylock.New()
	}
	return &Service{repo: repo, resolver: resolver, cache: c, currentTTL: currentTTL, locks: locks}
}

// Lookup routes a path key: a valid IIN resolves through DMED enrichment, a plain
// number is a primary key, anything else is rejected.
func (s *Service) Lookup(ctx context.Context, key string, home *int64) (*models.Person, error) {
	if iin.Valid(key) {
		return s.ResolvePerson(ctx, key, home)
	}
	id, err := strconv.ParseInt(key, 10, 64)
	if err != nil || id <= 0 {
		return nil, errors.Wrapf(models.ErrInvalidIdentifier, "%q", key)
	}
	return s.GetPerson(ctx, id)
}

// ResolvePerson returns the canonical record for a national id, enriching it first if needed.
func (s *Service) ResolvePerson(ctx context.Context, docID string, home *int64) (*models.Person, error) {
	if err := iin.Validate(docID); err != nil {
		return nil, errors.Wrapf(models.ErrInvalidIdentifier, "%s", err.Error())
	}
	res, err := s.resolver.Resolve(ctx, docID, home)
	if err != nil {
		return nil, err
	}
	if res.Outcome == reconcile.OutcomeMerged {
		slog.Info("person enriched", "person_id", res.Person.ID, "region", *res.RegionID)
	}
	s.remember(ctx, res.Person)
	return res.Person, nil
}

func (s *Service) GetPerson(ctx context.Context, id int64) (*models.Person, error) {
	if id <= 0 {
		return nil, errors.Wrap(models.ErrInvalidInput, "id is required")
	}
	if s.cache != nil && s.currentTTL > 0 {
		b, ok, err := s.cache.Get(ctx, cache.PersonKey(id))
		if err == nil && ok {
			var p models.Person
			if json.Unmarshal(b, &p) == nil {
				return &p, nil
			}
		}
	}

	p, err := s.repo.GetPersonByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.remember(ctx, p)
	return p, nil
}

func (s *Service) CreatePerson(ctx context.Context, in models.PersonCreateInput) (*models.Person, error) {
	in.DocID = strings.TrimSpace(in.DocID)
	if in.DocID == "" {
		return nil, errors.Wrap(models.ErrInvalidInput, "docId is required")
	}
	if in.CitizenshipID <= 0 {
		return nil, errors.Wrap(models.ErrInvalidInput, "citizenship is required")
	}
	if err := validateSex(in.Sex); err != nil {
		return nil, err
	}

	p, err := s.repo.CreatePerson(ctx, in)
	if err != nil {
		return nil, err
	}
	s.remember(ctx, p)
	return p, nil
}

// UpdatePerson applies an operator patch. Fields that already hold a value keep it;
// the names of such dropped fields are returned alongside the stored person.
func (s *Service) UpdatePerson(ctx context.Context, id int64, patch models.PersonPatch) (*models.Person, []string, error) {
	if id <= 0 {
		return nil, nil, errors.Wrap(models.ErrInvalidInput, "id is required")
	}
	if patch.Sex != nil {
		if err := validateSex(*patch.Sex); err != nil {
			return nil, nil, err
		}
	}

	unlock := s.locks.Lock(reconcile.LockKey(id))
	defer unlock()

	cur, err := s.repo.GetPersonByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	next, applied, dropped := ApplyPatch(cur, patch)
	if len(dropped) > 0 {
		slog.Info("locked person fields ignored", "person_id", id, "fields", dropped)
	}
	if len(applied) == 0 {
		return cur, dropped, nil
	}

	if next.CitizenshipID != cur.CitizenshipID {
		if _, err := s.repo.GetOrCreateCountry(ctx, next.CitizenshipID); err != nil {
			return nil, nil, err
		}
	}
	if err := s.repo.SavePerson(ctx, next); err != nil {
		return nil, nil, err
	}
	s.remember(ctx, next)
	return next, dropped, nil
}

func (s *Service) ListMarkers(ctx context.Context, personID int64) ([]models.Marker, error) {
	if personID <= 0 {
		return nil, errors.Wrap(models.ErrInvalidInput, "id is required")
	}
	if _, err := s.repo.GetPersonByID(ctx, personID); err != nil {
		return nil, err
	}
	ms, err := s.repo.ListMarkers(ctx, personID)
	if err != nil {
		return nil, err
	}
	if ms == nil {
		ms = []models.Marker{}
	}
	return ms, nil
}

func (s *Service) ListPasses(ctx context.Context, personID int64, limit int) ([]*models.CheckpointPass, error) {
	if personID <= 0 {
		return nil, errors.Wrap(models.ErrInvalidInput, "id is required")
	}
	return s.repo.ListPasses(ctx, personID, limit)
}

// Reenrich makes the worker pick the person up on its next cycle.
func (s *Service) Reenrich(ctx context.Context, personID int64) error {
	if personID <= 0 {
		return errors.Wrap(models.ErrInvalidInput, "id is required")
	}
	return s.repo.RequeueEnrichment(ctx, personID)
}

func (s *Service) remember(ctx context.Context, p *models.Person) {
	if s.cache == nil || s.currentTTL <= 0 || p == nil {
		return
	}
	b, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cache.PersonKey(p.ID), b, s.currentTTL); err != nil {
		slog.Warn("person cache set", "person_id", p.ID, "error", err.Error())
	}
}

func validateSex(v string) error {
	switch v {
	case "", models.SexMale, models.SexFemale:
		return nil
	}
	return errors.Wrapf(models.ErrInvalidInput, "sex must be %q or %q", models.SexMale, models.SexFemale)
}
