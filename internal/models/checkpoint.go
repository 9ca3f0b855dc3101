package models

import "time"

type Checkpoint struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
	RegionID *int64 `json:"region,omitempty"`
}

type CheckpointPass struct {
	ID           int64     `json:"id"`
	CheckpointID int64     `json:"checkpoint"`
	PersonID     int64     `json:"person"`
	Temperature  *float64  `json:"temperature,omitempty"`
	PassedAt     time.Time `json:"passedAt"`
	CreatedAt    time.Time `json:"createdAt"`
}

type Vehicle struct {
	Grnz  string `json:"grnz"`
	Model string `json:"model,omitempty"`
}

type CameraCapture struct {
	ID           uint64    `json:"id"`
	CameraID     string    `json:"camera"`
	CheckpointID int64     `json:"checkpoint"`
	Vehicle      Vehicle   `json:"vehicle"`
	CapturedAt   time.Time `json:"date"`
	CreatedAt    time.Time `json:"addDate"`
}
