package messages

import (
	"time"

	"github.com/pkg/errors"
)

// CheckpointPassed is emitted by a checkpoint terminal when a person crosses it.
type CheckpointPassed struct {
	CheckpointID  int64     `json:"checkpoint_id"`
	DocID         string    `json:"doc_id"`
	CitizenshipID *int64    `json:"citizenship_id,omitempty"`
	Temperature   *float64  `json:"temperature,omitempty"`
	PassedAt      time.Time `json:"passed_at"`
}

func (m CheckpointPassed) Validate() error {
	if m.CheckpointID <= 0 {
		return errors.New("checkpoint_id is required")
	}
	if m.DocID == "" {
		return errors.New("doc_id is required")
	}
	if m.PassedAt.IsZero() {
		return errors.New("passed_at is required")
	}
	return nil
}

// CameraCaptured is a vehicle plate recognized by a checkpoint camera.
type CameraCaptured struct {
	CameraID     string    `json:"camera_id"`
	CheckpointID int64     `json:"checkpoint_id"`
	Grnz         string    `json:"grnz"`
	Model        string    `json:"model,omitempty"`
	CapturedAt   time.Time `json:"captured_at"`
}

func (m CameraCaptured) Validate() error {
	if m.CameraID == "" {
		return errors.New("camera_id is required")
	}
	if m.CheckpointID <= 0 {
		return errors.New("checkpoint_id is required")
	}
	if m.Grnz == "" {
		return errors.New("grnz is required")
	}
	if m.CapturedAt.IsZero() {
		return errors.New("captured_at is required")
	}
	return nil
}
