// Package dmed describes the regional DMED medical registries queried for person enrichment.
package dmed

import (
	"context"
	"time"

	"github.com/BearBump/MedPass/internal/models"
)

// Sex codes as returned by DMED; the code also encodes the birth century.
const (
	SexMaleXIX   = 1
	SexFemaleXIX = 2
	SexMaleXX    = 3
	SexFemaleXX  = 4
	SexMaleXXI   = 5
	SexFemaleXXI = 6
)

// Address type codes used by GetPersonDetail.
const (
	AddressResidence = 2
	AddressWorkplace = 5
)

type PersonRecord struct {
	ID            int64
	IIN           string
	FirstName     string
	SecondName    string
	LastName      string
	FullName      string
	SexID         int
	BirthDate     *time.Time
	NationalityID *int64
	CitizenshipID *int64
	RPNID         *int64
	MasterDataID  *int64
}

type Address struct {
	Type        int
	IsMain      bool
	FullAddress string
}

type PersonDetail struct {
	PhoneNumbers   []string
	ResidencePlace string
	WorkingPlace   string
}

type Marker struct {
	ID   int64
	Name string
}

// Client talks to one region. A nil record with a nil error means "not registered here".
type Client interface {
	GetPerson(ctx context.Context, iin string) (*PersonRecord, error)
	GetPersonDetail(ctx context.Context, rpnID int64) (*PersonDetail, error)
	GetPersonMarkers(ctx context.Context, personID int64) ([]Marker, error)
}

// Factory builds a fresh client for a region; every concurrent lookup owns its own instance.
type Factory func(region models.Region) (Client, error)

// SexFromCode maps a DMED sex code to the local representation; zero means unknown.
func SexFromCode(code int) string {
	switch code {
	case 0:
		return ""
	case SexFemaleXIX, SexFemaleXX, SexFemaleXXI:
		return models.SexFemale
	default:
		return models.SexMale
	}
}

// SelectAddresses picks residence and workplace: the main address always wins residence,
// a current-residence address fills it only while still empty, workplace comes from type 5.
func SelectAddresses(addrs []Address) (residence, work string) {
	for _, a := range addrs {
		if a.FullAddress == "" {
			continue
		}
		switch {
		case a.IsMain:
			residence = a.FullAddress
		case a.Type == AddressResidence && residence == "":
			residence = a.FullAddress
		case a.Type == AddressWorkplace:
			work = a.FullAddress
		}
	}
	return residence, work
}
