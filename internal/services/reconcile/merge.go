package reconcile

import (
	"strings"
	"time"

	"github.com/BearBump/MedPass/internal/integrations/dmed"
	"github.com/BearBump/MedPass/internal/models"
)

// Patch is what a registry proposes for the operator-owned part of a person.
// Empty strings and nil pointers mean "not provided".
type Patch struct {
	FullName       string
	FirstName      string
	SecondName     string
	LastName       string
	Sex            string
	BirthDate      *time.Time
	ContactNumbers string
	ResidencePlace string
	WorkingPlace   string
}

func PatchFromRecord(rec *dmed.PersonRecord) Patch {
	return Patch{
		FullName:   strings.TrimSpace(rec.FullName),
		FirstName:  strings.TrimSpace(rec.FirstName),
		SecondName: strings.TrimSpace(rec.SecondName),
		LastName:   strings.TrimSpace(rec.LastName),
		Sex:        dmed.SexFromCode(rec.SexID),
		BirthDate:  rec.BirthDate,
	}
}

func PatchFromDetail(d *dmed.PersonDetail) Patch {
	return Patch{
		ContactNumbers: strings.Join(d.PhoneNumbers, ", "),
		ResidencePlace: d.ResidencePlace,
		WorkingPlace:   d.WorkingPlace,
	}
}

// Merge applies p on top of a copy of snapshot. A field is taken from p only when
// p provides it and the snapshot field is still empty. It returns the merged copy
// and the column names that changed; snapshot is left untouched.
func Merge(snapshot *models.Person, p Patch) (*models.Person, []string) {
	out := snapshot.Clone()
	var changed []string

	fill := func(dst *string, v, column string) {
		if v != "" && *dst == "" {
			*dst = v
			changed = append(changed, column)
		}
	}
	fill(&out.FullName, p.FullName, "full_name")
	fill(&out.FirstName, p.FirstName, "first_name")
	fill(&out.SecondName, p.SecondName, "second_name")
	fill(&out.LastName, p.LastName, "last_name")
	fill(&out.Sex, p.Sex, "sex")
	fill(&out.ContactNumbers, p.ContactNumbers, "contact_numbers")
	fill(&out.ResidencePlace, p.ResidencePlace, "residence_place")
	fill(&out.WorkingPlace, p.WorkingPlace, "working_place")

	if p.BirthDate != nil && out.BirthDate == nil {
		bd := *p.BirthDate
		out.BirthDate = &bd
		changed = append(changed, "birth_date")
	}

	if out.FullName == "" {
		out.ComposeFullName()
		if out.FullName != "" {
			changed = append(changed, "full_name")
		}
	}
	return out, changed
}
