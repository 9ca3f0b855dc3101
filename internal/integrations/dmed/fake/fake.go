package fake

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/BearBump/MedPass/internal/integrations/dmed"
	"github.com/BearBump/MedPass/internal/models"
)

// Client is a deterministic DMED stand-in for local runs without regional servers.
// Примерно каждый третий ИИН "находится" в конкретном регионе, данные выводятся из хеша.
type Client struct {
	regionID int64
}

func New(region models.Region) *Client { return &Client{regionID: region.ID} }

// Factory adapts New to dmed.Factory.
func Factory(region models.Region) (dmed.Client, error) {
	return New(region), nil
}

func (c *Client) GetPerson(ctx context.Context, iin string) (*dmed.PersonRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v := c.hash(iin)
	if v%3 != 0 {
		return nil, nil
	}

	first := pick(firstNames, v)
	second := pick(secondNames, v>>4)
	last := pick(lastNames, v>>8)
	bd := time.Date(1950+int(v%60), time.Month(1+v%12), 1+int(v%28), 0, 0, 0, 0, time.UTC)
	rpn := int64(v%100000) + 1
	master := int64(v%7777) + 1
	citizenship := int64(1)

	return &dmed.PersonRecord{
		ID:            int64(v%1000000) + 1,
		IIN:           iin,
		FirstName:     first,
		SecondName:    second,
		LastName:      last,
		FullName:      fmt.Sprintf("%s %s %s", last, first, second),
		SexID:         dmed.SexMaleXX + int(v%2),
		BirthDate:     &bd,
		CitizenshipID: &citizenship,
		RPNID:         &rpn,
		MasterDataID:  &master,
	}, nil
}

func (c *Client) GetPersonDetail(ctx context.Context, rpnID int64) (*dmed.PersonDetail, error) {
	if rpnID == 0 {
		return nil, nil
	}
	return &dmed.PersonDetail{
		PhoneNumbers:   []string{fmt.Sprintf("+7701%07d", rpnID)},
		ResidencePlace: fmt.Sprintf("region %d, residence %d", c.regionID, rpnID),
	}, nil
}

func (c *Client) GetPersonMarkers(ctx context.Context, personID int64) ([]dmed.Marker, error) {
	if personID%2 == 0 {
		return nil, nil
	}
	return []dmed.Marker{{ID: 52, Name: "contact"}}, nil
}

func (c *Client) hash(iin string) uint32 {
	h := fnv.New32a()
	_, _ = fmt.Fprintf(h, "%d|%s", c.regionID, iin)
	return h.Sum32()
}

var (
	firstNames  = []string{"Айдар", "Дина", "Ерлан", "Мадина", "Нурлан", "Асель"}
	secondNames = []string{"Серикович", "Маратовна", "Болатович", "Кайратовна"}
	lastNames   = []string{"Нуров", "Ахметова", "Жумабаев", "Садыкова", "Ибраев"}
)

func pick(xs []string, v uint32) string {
	return xs[int(v%uint32(len(xs)))]
}
