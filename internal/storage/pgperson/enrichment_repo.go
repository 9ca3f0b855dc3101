package pgperson

import (
	"context"
	"time"

	"github.com/BearBump/MedPass/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// ClaimPendingEnrichment выбирает пачку ещё не обогащённых персон с национальным ИИН
// и "бронирует" их на lease, чтобы параллельные воркеры их не взяли.
// Использует SELECT ... FOR UPDATE SKIP LOCKED.
func (s *Storage) ClaimPendingEnrichment(ctx context.Context, now time.Time, limit int, lease time.Duration, national []int64) ([]*models.EnrichmentTask, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT id, doc_id, enrich_fail_count, next_enrich_at
FROM persons
WHERE dmed_id IS NULL
  AND citizenship_id = ANY($2)
  AND doc_id ~ '^[0-9]{12}$'
  AND next_enrich_at <= $1
ORDER BY next_enrich_at ASC
LIMIT $3
FOR UPDATE SKIP LOCKED
`, now.UTC(), national, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select pending persons")
	}
	defer rows.Close()

	var picked []*models.EnrichmentTask
	for rows.Next() {
		var t models.EnrichmentTask
		if err := rows.Scan(&t.PersonID, &t.DocID, &t.FailCount, &t.NextEnrichAt); err != nil {
			return nil, errors.Wrap(err, "scan pending person")
		}
		picked = append(picked, &t)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	leaseUntil := now.UTC().Add(lease)
	for _, t := range picked {
		if _, err := tx.Exec(ctx, `UPDATE persons SET next_enrich_at = $2 WHERE id = $1`, t.PersonID, leaseUntil); err != nil {
			return nil, errors.Wrap(err, "lease person")
		}
		t.NextEnrichAt = leaseUntil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}

// ScheduleEnrichment records a failed attempt and when to retry it.
func (s *Storage) ScheduleEnrichment(ctx context.Context, personID int64, next time.Time, failCount int32, lastErr *string) error {
	_, err := s.db.Exec(ctx, `
UPDATE persons
SET next_enrich_at = $2, enrich_fail_count = $3, last_enrich_error = $4
WHERE id = $1
`, personID, next.UTC(), failCount, lastErr)
	return errors.Wrap(err, "schedule enrichment")
}

// RequeueEnrichment makes a person due for the worker right away.
func (s *Storage) RequeueEnrichment(ctx context.Context, personID int64) error {
	tag, err := s.db.Exec(ctx, `UPDATE persons SET next_enrich_at = now(), enrich_fail_count = 0 WHERE id = $1`, personID)
	if err != nil {
		return errors.Wrap(err, "requeue enrichment")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrap(models.ErrNotFound, "requeue enrichment")
	}
	return nil
}
