package pgperson

import (
	"context"
	"time"

	"github.com/BearBump/MedPass/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func (s *Storage) RecordPass(ctx context.Context, pass *models.CheckpointPass) error {
	now := time.Now().UTC()
	err := s.db.QueryRow(ctx, `
INSERT INTO checkpoint_passes (checkpoint_id, person_id, temperature, passed_at, created_at)
VALUES ($1,$2,$3,$4,$5)
RETURNING id, created_at
`, pass.CheckpointID, pass.PersonID, pass.Temperature, pass.PassedAt.UTC(), now).Scan(&pass.ID, &pass.CreatedAt)
	return mapErr(err, "insert pass")
}

func (s *Storage) ListPasses(ctx context.Context, personID int64, limit int) ([]*models.CheckpointPass, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
SELECT id, checkpoint_id, person_id, temperature, passed_at, created_at
FROM checkpoint_passes
WHERE person_id = $1
ORDER BY passed_at DESC
LIMIT $2
`, personID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select passes")
	}
	defer rows.Close()

	var out []*models.CheckpointPass
	for rows.Next() {
		var p models.CheckpointPass
		if err := rows.Scan(&p.ID, &p.CheckpointID, &p.PersonID, &p.Temperature, &p.PassedAt, &p.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan pass")
		}
		out = append(out, &p)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// RecordCapture upserts the vehicle by plate and stores the capture.
// An empty model never erases a known one.
func (s *Storage) RecordCapture(ctx context.Context, c *models.CameraCapture) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
INSERT INTO vehicles (grnz, model) VALUES ($1,$2)
ON CONFLICT (grnz) DO UPDATE SET model = COALESCE(NULLIF(EXCLUDED.model, ''), vehicles.model)
RETURNING model
`, c.Vehicle.Grnz, c.Vehicle.Model).Scan(&c.Vehicle.Model)
	if err != nil {
		return errors.Wrap(err, "upsert vehicle")
	}

	now := time.Now().UTC()
	err = tx.QueryRow(ctx, `
INSERT INTO camera_captures (camera_id, checkpoint_id, grnz, captured_at, created_at)
VALUES ($1,$2,$3,$4,$5)
RETURNING id, created_at
`, c.CameraID, c.CheckpointID, c.Vehicle.Grnz, c.CapturedAt.UTC(), now).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return mapErr(err, "insert capture")
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

func (s *Storage) ListCaptures(ctx context.Context, checkpointID int64, since time.Time, limit int) ([]*models.CameraCapture, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
SELECT c.id, c.camera_id, c.checkpoint_id, c.grnz, v.model, c.captured_at, c.created_at
FROM camera_captures c
JOIN vehicles v ON v.grnz = c.grnz
WHERE c.checkpoint_id = $1 AND c.captured_at >= $2
ORDER BY c.captured_at DESC
LIMIT $3
`, checkpointID, since.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select captures")
	}
	defer rows.Close()

	var out []*models.CameraCapture
	for rows.Next() {
		var c models.CameraCapture
		if err := rows.Scan(
			&c.ID, &c.CameraID, &c.CheckpointID, &c.Vehicle.Grnz, &c.Vehicle.Model,
			&c.CapturedAt, &c.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan capture")
		}
		out = append(out, &c)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
