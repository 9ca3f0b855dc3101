package pgperson

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS countries (
  id BIGINT PRIMARY KEY,
  name TEXT NOT NULL DEFAULT ''
)`,
		`
CREATE TABLE IF NOT EXISTS regions (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL,
  country TEXT NOT NULL DEFAULT '',
  dmed_url TEXT NULL,
  dmed_priority INT NOT NULL DEFAULT 100
)`,
		`
CREATE TABLE IF NOT EXISTS persons (
  id BIGSERIAL PRIMARY KEY,
  doc_id TEXT NOT NULL,
  citizenship_id BIGINT NOT NULL REFERENCES countries(id),
  full_name TEXT NOT NULL DEFAULT '',
  sex TEXT NOT NULL DEFAULT '',
  birth_date DATE NULL,
  last_name TEXT NOT NULL DEFAULT '',
  first_name TEXT NOT NULL DEFAULT '',
  second_name TEXT NOT NULL DEFAULT '',
  contact_numbers TEXT NOT NULL DEFAULT '',
  residence_place TEXT NOT NULL DEFAULT '',
  study_place TEXT NOT NULL DEFAULT '',
  working_place TEXT NOT NULL DEFAULT '',
  had_contact_with_infected BOOLEAN NULL,
  been_abroad_last_month BOOLEAN NULL,
  extra TEXT NOT NULL DEFAULT '',
  dmed_id BIGINT NULL,
  dmed_rpn_id BIGINT NULL,
  dmed_master_data_id BIGINT NULL,
  dmed_region_id BIGINT NULL REFERENCES regions(id),
  next_enrich_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  enrich_fail_count INT NOT NULL DEFAULT 0,
  last_enrich_error TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (doc_id, citizenship_id)
)`,
		`CREATE INDEX IF NOT EXISTS idx_persons_pending_enrich ON persons(next_enrich_at) WHERE dmed_id IS NULL`,
		`
CREATE TABLE IF NOT EXISTS markers (
  id BIGINT PRIMARY KEY,
  name TEXT NOT NULL DEFAULT ''
)`,
		`
CREATE TABLE IF NOT EXISTS person_markers (
  person_id BIGINT NOT NULL REFERENCES persons(id) ON DELETE CASCADE,
  marker_id BIGINT NOT NULL REFERENCES markers(id),
  PRIMARY KEY (person_id, marker_id)
)`,
		`
CREATE TABLE IF NOT EXISTS checkpoints (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL,
  location TEXT NOT NULL DEFAULT '',
  region_id BIGINT NULL REFERENCES regions(id)
)`,
		`
CREATE TABLE IF NOT EXISTS checkpoint_passes (
  id BIGSERIAL PRIMARY KEY,
  checkpoint_id BIGINT NOT NULL REFERENCES checkpoints(id),
  person_id BIGINT NOT NULL REFERENCES persons(id) ON DELETE CASCADE,
  temperature DOUBLE PRECISION NULL,
  passed_at TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoint_passes_person_passed_at ON checkpoint_passes(person_id, passed_at DESC)`,
		`
CREATE TABLE IF NOT EXISTS vehicles (
  grnz TEXT PRIMARY KEY,
  model TEXT NOT NULL DEFAULT ''
)`,
		`
CREATE TABLE IF NOT EXISTS camera_captures (
  id BIGSERIAL PRIMARY KEY,
  camera_id TEXT NOT NULL,
  checkpoint_id BIGINT NOT NULL REFERENCES checkpoints(id),
  grnz TEXT NOT NULL REFERENCES vehicles(grnz),
  captured_at TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_camera_captures_checkpoint_captured_at ON camera_captures(checkpoint_id, captured_at DESC)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
