package pgperson

import (
	"context"

	"github.com/BearBump/MedPass/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func ensureCountry(ctx context.Context, q execer, id int64) error {
	_, err := q.Exec(ctx, `INSERT INTO countries (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, id)
	return errors.Wrap(err, "ensure country")
}

func (s *Storage) GetOrCreateCountry(ctx context.Context, id int64) (*models.Country, error) {
	var c models.Country
	err := s.db.QueryRow(ctx, `
INSERT INTO countries (id) VALUES ($1)
ON CONFLICT (id) DO UPDATE SET name = countries.name
RETURNING id, name
`, id).Scan(&c.ID, &c.Name)
	if err != nil {
		return nil, errors.Wrap(err, "get or create country")
	}
	return &c, nil
}

// UpsertCountry sets the display name of a country.
func (s *Storage) UpsertCountry(ctx context.Context, c models.Country) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO countries (id, name) VALUES ($1,$2)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
`, c.ID, c.Name)
	return errors.Wrap(err, "upsert country")
}

// UnionMarkers links markers to a person by marker id. Known markers are reused as is;
// already linked ones are left alone. It returns the person's full marker set.
func (s *Storage) UnionMarkers(ctx context.Context, personID int64, markers []models.Marker) ([]models.Marker, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, m := range markers {
		if _, err := tx.Exec(ctx, `
INSERT INTO markers (id, name) VALUES ($1,$2)
ON CONFLICT (id) DO NOTHING
`, m.ID, m.Name); err != nil {
			return nil, errors.Wrap(err, "insert marker")
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO person_markers (person_id, marker_id) VALUES ($1,$2)
ON CONFLICT DO NOTHING
`, personID, m.ID); err != nil {
			return nil, errors.Wrap(err, "link marker")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return s.ListMarkers(ctx, personID)
}

func (s *Storage) ListMarkers(ctx context.Context, personID int64) ([]models.Marker, error) {
	rows, err := s.db.Query(ctx, `
SELECT m.id, m.name
FROM person_markers pm
JOIN markers m ON m.id = pm.marker_id
WHERE pm.person_id = $1
ORDER BY m.id
`, personID)
	if err != nil {
		return nil, errors.Wrap(err, "select markers")
	}
	defer rows.Close()

	var out []models.Marker
	for rows.Next() {
		var m models.Marker
		if err := rows.Scan(&m.ID, &m.Name); err != nil {
			return nil, errors.Wrap(err, "scan marker")
		}
		out = append(out, m)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
