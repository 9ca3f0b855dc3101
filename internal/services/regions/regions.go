// Package regions orders the DMED installations a lookup should try.
package regions

import (
	"context"
	"slices"

	"github.com/BearBump/MedPass/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	ListRegions(ctx context.Context) ([]*models.Region, error)
}

type Resolver struct {
	repo Repository
}

func New(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

func (r *Resolver) ListRegions(ctx context.Context) ([]*models.Region, error) {
	out, err := r.repo.ListRegions(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list regions")
	}
	return out, nil
}

// OrderedCandidates returns the queryable regions in the order they should be probed.
// home is optional; nil keeps plain priority order.
func (r *Resolver) OrderedCandidates(ctx context.Context, home *int64) ([]models.Region, error) {
	all, err := r.ListRegions(ctx)
	if err != nil {
		return nil, err
	}
	return Order(all, home), nil
}

// Order keeps regions with a registry URL, sorts them by ascending priority (id breaks ties)
// and moves the home region, if it is queryable, to the front.
func Order(all []*models.Region, home *int64) []models.Region {
	out := make([]models.Region, 0, len(all))
	for _, rg := range all {
		if rg != nil && rg.Queryable() {
			out = append(out, *rg)
		}
	}
	slices.SortStableFunc(out, func(a, b models.Region) int {
		if a.DmedPriority != b.DmedPriority {
			return a.DmedPriority - b.DmedPriority
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})

	if home == nil {
		return out
	}
	i := slices.IndexFunc(out, func(rg models.Region) bool { return rg.ID == *home })
	if i <= 0 {
		return out
	}
	h := out[i]
	copy(out[1:i+1], out[:i])
	out[0] = h
	return out
}
