package persons

import (
	"strings"

	"github.com/BearBump/MedPass/internal/models"
)

// ApplyPatch returns a copy of cur with the patch applied under the write-once rule:
// a field is written only while it is still empty. Identity (doc id, citizenship) is
// always set on stored persons, so patches to it are dropped unless they repeat the value.
func ApplyPatch(cur *models.Person, patch models.PersonPatch) (next *models.Person, applied, dropped []string) {
	next = cur.Clone()

	str := func(dst *string, v *string, column string) {
		if v == nil {
			return
		}
		nv := strings.TrimSpace(*v)
		switch {
		case nv == "" || nv == *dst:
		case *dst == "":
			*dst = nv
			applied = append(applied, column)
		default:
			dropped = append(dropped, column)
		}
	}
	flag := func(dst **bool, v *bool, column string) {
		if v == nil {
			return
		}
		switch {
		case *dst == nil:
			b := *v
			*dst = &b
			applied = append(applied, column)
		case **dst != *v:
			dropped = append(dropped, column)
		}
	}

	str(&next.DocID, patch.DocID, "doc_id")
	if patch.CitizenshipID != nil && *patch.CitizenshipID != next.CitizenshipID {
		if next.CitizenshipID == 0 {
			next.CitizenshipID = *patch.CitizenshipID
			applied = append(applied, "citizenship")
		} else {
			dropped = append(dropped, "citizenship")
		}
	}
	str(&next.FullName, patch.FullName, "full_name")
	str(&next.Sex, patch.Sex, "sex")
	if patch.BirthDate != nil {
		switch {
		case next.BirthDate == nil:
			bd := *patch.BirthDate
			next.BirthDate = &bd
			applied = append(applied, "birth_date")
		case !next.BirthDate.Equal(*patch.BirthDate):
			dropped = append(dropped, "birth_date")
		}
	}
	str(&next.LastName, patch.LastName, "last_name")
	str(&next.FirstName, patch.FirstName, "first_name")
	str(&next.SecondName, patch.SecondName, "second_name")
	str(&next.ContactNumbers, patch.ContactNumbers, "contact_numbers")
	str(&next.ResidencePlace, patch.ResidencePlace, "residence_place")
	str(&next.StudyPlace, patch.StudyPlace, "study_place")
	str(&next.WorkingPlace, patch.WorkingPlace, "working_place")
	flag(&next.HadContactWithInfected, patch.HadContactWithInfected, "had_contact_with_infected")
	flag(&next.BeenAbroadLastMonth, patch.BeenAbroadLastMonth, "been_abroad_last_month")
	str(&next.Extra, patch.Extra, "extra")

	if len(applied) > 0 {
		next.ComposeFullName()
	}
	return next, applied, dropped
}
