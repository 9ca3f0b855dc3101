package pgperson

import (
	"context"
	"time"

	"github.com/BearBump/MedPass/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const personColumns = `
  p.id, p.doc_id, p.citizenship_id,
  p.full_name, p.sex, p.birth_date,
  p.last_name, p.first_name, p.second_name,
  p.contact_numbers, p.residence_place, p.study_place, p.working_place,
  p.had_contact_with_infected, p.been_abroad_last_month, p.extra,
  p.dmed_id, p.dmed_rpn_id, p.dmed_master_data_id, p.dmed_region_id,
  (SELECT cp.temperature FROM checkpoint_passes cp WHERE cp.person_id = p.id ORDER BY cp.passed_at DESC LIMIT 1),
  p.created_at, p.updated_at`

func scanPerson(row pgx.Row) (*models.Person, error) {
	var p models.Person
	if err := row.Scan(
		&p.ID, &p.DocID, &p.CitizenshipID,
		&p.FullName, &p.Sex, &p.BirthDate,
		&p.LastName, &p.FirstName, &p.SecondName,
		&p.ContactNumbers, &p.ResidencePlace, &p.StudyPlace, &p.WorkingPlace,
		&p.HadContactWithInfected, &p.BeenAbroadLastMonth, &p.Extra,
		&p.DmedID, &p.DmedRPNID, &p.DmedMasterDataID, &p.DmedRegionID,
		&p.Temperature,
		&p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateOrGetPerson returns the person holding docID under any of the national citizenships,
// creating a stub with the default citizenship when there is none.
func (s *Storage) CreateOrGetPerson(ctx context.Context, docID string, national []int64, defaultCitizenship int64) (*models.Person, error) {
	if len(national) == 0 {
		national = []int64{defaultCitizenship}
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id int64
	err = tx.QueryRow(ctx, `
SELECT id FROM persons
WHERE doc_id = $1 AND citizenship_id = ANY($2)
ORDER BY id
LIMIT 1
`, docID, national).Scan(&id)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if err := ensureCountry(ctx, tx, defaultCitizenship); err != nil {
			return nil, err
		}
		err = tx.QueryRow(ctx, `
INSERT INTO persons (doc_id, citizenship_id, created_at, updated_at)
VALUES ($1,$2,$3,$3)
ON CONFLICT (doc_id, citizenship_id)
DO UPDATE SET updated_at = persons.updated_at
RETURNING id
`, docID, defaultCitizenship, now).Scan(&id)
		if err != nil {
			return nil, mapErr(err, "insert person")
		}
	case err != nil:
		return nil, errors.Wrap(err, "select person by doc")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return s.GetPersonByID(ctx, id)
}

func (s *Storage) CreatePerson(ctx context.Context, in models.PersonCreateInput) (*models.Person, error) {
	p := &models.Person{
		FullName:   in.FullName,
		FirstName:  in.FirstName,
		SecondName: in.SecondName,
		LastName:   in.LastName,
	}
	p.ComposeFullName()
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := ensureCountry(ctx, tx, in.CitizenshipID); err != nil {
		return nil, err
	}

	var id int64
	err = tx.QueryRow(ctx, `
INSERT INTO persons (
  doc_id, citizenship_id,
  full_name, sex, birth_date, last_name, first_name, second_name,
  contact_numbers, residence_place, study_place, working_place,
  had_contact_with_infected, been_abroad_last_month, extra,
  created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$16)
RETURNING id
`,
		in.DocID, in.CitizenshipID,
		p.FullName, in.Sex, in.BirthDate, in.LastName, in.FirstName, in.SecondName,
		in.ContactNumbers, in.ResidencePlace, in.StudyPlace, in.WorkingPlace,
		in.HadContactWithInfected, in.BeenAbroadLastMonth, in.Extra,
		now,
	).Scan(&id)
	if err != nil {
		return nil, mapErr(err, "insert person")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return s.GetPersonByID(ctx, id)
}

func (s *Storage) GetPersonByID(ctx context.Context, id int64) (*models.Person, error) {
	p, err := scanPerson(s.db.QueryRow(ctx, `SELECT `+personColumns+` FROM persons p WHERE p.id = $1`, id))
	if err != nil {
		return nil, mapErr(err, "select person")
	}
	ms, err := s.ListMarkers(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Markers = ms
	return p, nil
}

// FindPerson looks a document id up under the given citizenships without creating anything.
func (s *Storage) FindPerson(ctx context.Context, docID string, citizenships []int64) (*models.Person, error) {
	row := s.db.QueryRow(ctx, `
SELECT `+personColumns+`
FROM persons p
WHERE p.doc_id = $1 AND p.citizenship_id = ANY($2)
ORDER BY p.id
LIMIT 1
`, docID, citizenships)
	p, err := scanPerson(row)
	if err != nil {
		return nil, mapErr(err, "select person by doc")
	}
	ms, err := s.ListMarkers(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	p.Markers = ms
	return p, nil
}

// SavePerson writes every mutable column of p. Markers are not touched.
func (s *Storage) SavePerson(ctx context.Context, p *models.Person) error {
	p.ComposeFullName()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := ensureCountry(ctx, tx, p.CitizenshipID); err != nil {
		return err
	}

	var updatedAt time.Time
	err = tx.QueryRow(ctx, `
UPDATE persons SET
  doc_id = $2, citizenship_id = $3,
  full_name = $4, sex = $5, birth_date = $6,
  last_name = $7, first_name = $8, second_name = $9,
  contact_numbers = $10, residence_place = $11, study_place = $12, working_place = $13,
  had_contact_with_infected = $14, been_abroad_last_month = $15, extra = $16,
  dmed_id = $17, dmed_rpn_id = $18, dmed_master_data_id = $19, dmed_region_id = $20,
  updated_at = now()
WHERE id = $1
RETURNING updated_at
`,
		p.ID, p.DocID, p.CitizenshipID,
		p.FullName, p.Sex, p.BirthDate,
		p.LastName, p.FirstName, p.SecondName,
		p.ContactNumbers, p.ResidencePlace, p.StudyPlace, p.WorkingPlace,
		p.HadContactWithInfected, p.BeenAbroadLastMonth, p.Extra,
		p.DmedID, p.DmedRPNID, p.DmedMasterDataID, p.DmedRegionID,
	).Scan(&updatedAt)
	if err != nil {
		return mapErr(err, "update person")
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	p.UpdatedAt = updatedAt
	return nil
}
