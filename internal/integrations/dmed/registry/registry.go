// Package registry picks the DMED client implementation for a deployment.
package registry

import (
	"time"

	"github.com/BearBump/MedPass/internal/cache"
	"github.com/BearBump/MedPass/internal/integrations/dmed"
	"github.com/BearBump/MedPass/internal/integrations/dmed/dmedhttp"
	"github.com/BearBump/MedPass/internal/integrations/dmed/fake"
	"github.com/BearBump/MedPass/internal/models"
	"github.com/pkg/errors"
)

const (
	ModeHTTP = "http"
	ModeFake = "fake"
)

type Settings struct {
	Mode     string
	Creds    dmedhttp.Credentials
	Timeout  time.Duration
	TokenTTL time.Duration
}

// NewFactory returns the per-region client constructor. The mode must be set explicitly:
// fake records get a dmed_id and are never enriched again.
func NewFactory(s Settings, tokens cache.BytesCache) (dmed.Factory, error) {
	switch s.Mode {
	case ModeHTTP:
	case ModeFake:
		return fake.Factory, nil
	case "":
		return nil, errors.New("registry mode is required")
	default:
		return nil, errors.Errorf("unknown registry mode %q", s.Mode)
	}
	return func(region models.Region) (dmed.Client, error) {
		if !region.Queryable() {
			return nil, errors.Errorf("region %d has no dmed url", region.ID)
		}
		return dmedhttp.New(*region.DmedURL, s.Creds, tokens,
			dmedhttp.WithTimeout(s.Timeout),
			dmedhttp.WithTokenTTL(s.TokenTTL),
		), nil
	}, nil
}
