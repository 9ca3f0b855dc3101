package pgperson

import (
	"context"

	"github.com/BearBump/MedPass/internal/models"
	"github.com/pkg/errors"
)

func (s *Storage) ListRegions(ctx context.Context) ([]*models.Region, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, name, country, dmed_url, dmed_priority
FROM regions
ORDER BY dmed_priority, id
`)
	if err != nil {
		return nil, errors.Wrap(err, "select regions")
	}
	defer rows.Close()

	var out []*models.Region
	for rows.Next() {
		var r models.Region
		if err := rows.Scan(&r.ID, &r.Name, &r.Country, &r.DmedURL, &r.DmedPriority); err != nil {
			return nil, errors.Wrap(err, "scan region")
		}
		out = append(out, &r)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) CreateRegion(ctx context.Context, r *models.Region) error {
	err := s.db.QueryRow(ctx, `
INSERT INTO regions (name, country, dmed_url, dmed_priority)
VALUES ($1,$2,$3,$4)
RETURNING id
`, r.Name, r.Country, r.DmedURL, r.DmedPriority).Scan(&r.ID)
	return errors.Wrap(err, "insert region")
}

func (s *Storage) CreateCheckpoint(ctx context.Context, c *models.Checkpoint) error {
	err := s.db.QueryRow(ctx, `
INSERT INTO checkpoints (name, location, region_id)
VALUES ($1,$2,$3)
RETURNING id
`, c.Name, c.Location, c.RegionID).Scan(&c.ID)
	return mapErr(err, "insert checkpoint")
}

func (s *Storage) GetCheckpoint(ctx context.Context, id int64) (*models.Checkpoint, error) {
	var c models.Checkpoint
	err := s.db.QueryRow(ctx, `
SELECT id, name, location, region_id FROM checkpoints WHERE id = $1
`, id).Scan(&c.ID, &c.Name, &c.Location, &c.RegionID)
	if err != nil {
		return nil, mapErr(err, "select checkpoint")
	}
	return &c, nil
}
