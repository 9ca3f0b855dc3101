package persons_api

import (
	"time"

	"github.com/BearBump/MedPass/internal/models"
	"github.com/pkg/errors"
)

const dateLayout = "2006-01-02"

type personRequest struct {
	DocID                  string `json:"docId"`
	CitizenshipID          int64  `json:"citizenship"`
	FullName               string `json:"fullName"`
	Sex                    string `json:"sex"`
	BirthDate              string `json:"birthDate"`
	LastName               string `json:"lastName"`
	FirstName              string `json:"firstName"`
	SecondName             string `json:"secondName"`
	ContactNumbers         string `json:"contactNumbers"`
	ResidencePlace         string `json:"residencePlace"`
	StudyPlace             string `json:"studyPlace"`
	WorkingPlace           string `json:"workingPlace"`
	HadContactWithInfected *bool  `json:"hadContactWithInfected"`
	BeenAbroadLastMonth    *bool  `json:"beenAbroadLastMonth"`
	Extra                  string `json:"extra"`
}

func (r personRequest) createInput() (models.PersonCreateInput, error) {
	birth, err := parseDate(r.BirthDate)
	if err != nil {
		return models.PersonCreateInput{}, err
	}
	return models.PersonCreateInput{
		DocID:                  r.DocID,
		CitizenshipID:          r.CitizenshipID,
		FullName:               r.FullName,
		Sex:                    r.Sex,
		BirthDate:              birth,
		LastName:               r.LastName,
		FirstName:              r.FirstName,
		SecondName:             r.SecondName,
		ContactNumbers:         r.ContactNumbers,
		ResidencePlace:         r.ResidencePlace,
		StudyPlace:             r.StudyPlace,
		WorkingPlace:           r.WorkingPlace,
		HadContactWithInfected: r.HadContactWithInfected,
		BeenAbroadLastMonth:    r.BeenAbroadLastMonth,
		Extra:                  r.Extra,
	}, nil
}

// patchRequest: absent JSON keys stay nil and are not touched.
type patchRequest struct {
	DocID                  *string `json:"docId"`
	CitizenshipID          *int64  `json:"citizenship"`
	FullName               *string `json:"fullName"`
	Sex                    *string `json:"sex"`
	BirthDate              *string `json:"birthDate"`
	LastName               *string `json:"lastName"`
	FirstName              *string `json:"firstName"`
	SecondName             *string `json:"secondName"`
	ContactNumbers         *string `json:"contactNumbers"`
	ResidencePlace         *string `json:"residencePlace"`
	StudyPlace             *string `json:"studyPlace"`
	WorkingPlace           *string `json:"workingPlace"`
	HadContactWithInfected *bool   `json:"hadContactWithInfected"`
	BeenAbroadLastMonth    *bool   `json:"beenAbroadLastMonth"`
	Extra                  *string `json:"extra"`
}

func (r patchRequest) patch() (models.PersonPatch, error) {
	var birth *time.Time
	if r.BirthDate != nil {
		b, err := parseDate(*r.BirthDate)
		if err != nil {
			return models.PersonPatch{}, err
		}
		birth = b
	}
	return models.PersonPatch{
		DocID:                  r.DocID,
		CitizenshipID:          r.CitizenshipID,
		FullName:               r.FullName,
		Sex:                    r.Sex,
		BirthDate:              birth,
		LastName:               r.LastName,
		FirstName:              r.FirstName,
		SecondName:             r.SecondName,
		ContactNumbers:         r.ContactNumbers,
		ResidencePlace:         r.ResidencePlace,
		StudyPlace:             r.StudyPlace,
		WorkingPlace:           r.WorkingPlace,
		HadContactWithInfected: r.HadContactWithInfected,
		BeenAbroadLastMonth:    r.BeenAbroadLastMonth,
		Extra:                  r.Extra,
	}, nil
}

func parseDate(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return nil, errors.Wrapf(models.ErrInvalidInput, "birthDate must be %s", dateLayout)
	}
	return &t, nil
}
