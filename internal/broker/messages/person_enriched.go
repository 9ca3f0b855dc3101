package messages

import (
	"time"
)

const (
	TopicPersonEnriched   = "person.enriched"
	TopicCheckpointPassed = "checkpoint.passed"
	TopicCameraCaptured   = "camera.captured"
)

// PersonEnriched is published once DMED data has been merged into a person.
type PersonEnriched struct {
	EventID    string    `json:"event_id"`
	PersonID   int64     `json:"person_id"`
	DocID      string    `json:"doc_id"`
	DmedID     int64     `json:"dmed_id"`
	RegionID   int64     `json:"region_id"`
	Markers    []Marker  `json:"markers,omitempty"`
	EnrichedAt time.Time `json:"enriched_at"`
}

type Marker struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}
