package models

import (
	"slices"
	"strings"
	"time"
)

const (
	SexMale   = "M"
	SexFemale = "F"
)

type Country struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Region is one DMED installation. A nil DmedURL means the region cannot be queried.
type Region struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	Country      string  `json:"country"`
	DmedURL      *string `json:"dmedUrl,omitempty"`
	DmedPriority int     `json:"dmedPriority"`
}

func (r Region) Queryable() bool {
	return r.DmedURL != nil && *r.DmedURL != ""
}

type Marker struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Person struct {
	ID            int64  `json:"id"`
	DocID         string `json:"docId"`
	CitizenshipID int64  `json:"citizenship"`

	// Operator-owned, write-once.
	FullName               string     `json:"fullName,omitempty"`
	Sex                    string     `json:"sex,omitempty"`
	BirthDate              *time.Time `json:"birthDate,omitempty"`
	LastName               string     `json:"lastName,omitempty"`
	FirstName              string     `json:"firstName,omitempty"`
	SecondName             string     `json:"secondName,omitempty"`
	ContactNumbers         string     `json:"contactNumbers,omitempty"`
	ResidencePlace         string     `json:"residencePlace,omitempty"`
	StudyPlace             string     `json:"studyPlace,omitempty"`
	WorkingPlace           string     `json:"workingPlace,omitempty"`
	HadContactWithInfected *bool      `json:"hadContactWithInfected,omitempty"`
	BeenAbroadLastMonth    *bool      `json:"beenAbroadLastMonth,omitempty"`
	Extra                  string     `json:"extra,omitempty"`

	// Enrichment-owned.
	DmedID           *int64   `json:"dmedId,omitempty"`
	DmedRPNID        *int64   `json:"dmedRpnId,omitempty"`
	DmedMasterDataID *int64   `json:"dmedMasterDataId,omitempty"`
	DmedRegionID     *int64   `json:"dmedRegion,omitempty"`
	Markers          []Marker `json:"markers,omitempty"`

	Temperature *float64 `json:"temperature,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Enriched reports whether DMED data has already been merged into the record.
func (p *Person) Enriched() bool {
	return p.DmedID != nil
}

// IIN returns the document id only for national citizens.
func (p *Person) IIN(national []int64) string {
	if slices.Contains(national, p.CitizenshipID) {
		return p.DocID
	}
	return ""
}

// ComposeFullName fills FullName from the name parts when it is empty and all parts are known.
func (p *Person) ComposeFullName() {
	if p.FullName != "" {
		return
	}
	if p.FirstName == "" || p.SecondName == "" || p.LastName == "" {
		return
	}
	p.FullName = strings.Join([]string{p.FirstName, p.SecondName, p.LastName}, " ")
}

// Clone returns a copy that shares no mutable state with p.
func (p *Person) Clone() *Person {
	c := *p
	c.BirthDate = clonePtr(p.BirthDate)
	c.HadContactWithInfected = clonePtr(p.HadContactWithInfected)
	c.BeenAbroadLastMonth = clonePtr(p.BeenAbroadLastMonth)
	c.DmedID = clonePtr(p.DmedID)
	c.DmedRPNID = clonePtr(p.DmedRPNID)
	c.DmedMasterDataID = clonePtr(p.DmedMasterDataID)
	c.DmedRegionID = clonePtr(p.DmedRegionID)
	c.Temperature = clonePtr(p.Temperature)
	c.Markers = slices.Clone(p.Markers)
	return &c
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

type PersonCreateInput struct {
	DocID                  string
	CitizenshipID          int64
	FullName               string
	Sex                    string
	BirthDate              *time.Time
	LastName               string
	FirstName              string
	SecondName             string
	ContactNumbers         string
	ResidencePlace         string
	StudyPlace             string
	WorkingPlace           string
	HadContactWithInfected *bool
	BeenAbroadLastMonth    *bool
	Extra                  string
}

// PersonPatch carries operator updates; nil means "not provided".
type PersonPatch struct {
	DocID                  *string
	CitizenshipID          *int64
	FullName               *string
	Sex                    *string
	BirthDate              *time.Time
	LastName               *string
	FirstName              *string
	SecondName             *string
	ContactNumbers         *string
	ResidencePlace         *string
	StudyPlace             *string
	WorkingPlace           *string
	HadContactWithInfected *bool
	BeenAbroadLastMonth    *bool
	Extra                  *string
}

// EnrichmentTask is a person queued for background DMED enrichment.
type EnrichmentTask struct {
	PersonID     int64
	DocID        string
	FailCount    int32
	NextEnrichAt time.Time
}
