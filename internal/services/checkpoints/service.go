// Package checkpoints ingests checkpoint passes and camera captures.
package checkpoints

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/BearBump/MedPass/internal/broker/messages"
	"github.com/BearBump/MedPass/internal/cache"
	"github.com/BearBump/MedPass/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	CreateOrGetPerson(ctx context.Context, docID string, national []int64, defaultCitizenship int64) (*models.Person, error)
	RecordPass(ctx context.Context, pass *models.CheckpointPass) error
	RecordCapture(ctx context.Context, c *models.CameraCapture) error
	ListCaptures(ctx context.Context, checkpointID int64, since time.Time, limit int) ([]*models.CameraCapture, error)
	GetCheckpoint(ctx context.Context, id int64) (*models.Checkpoint, error)
	CreateCheckpoint(ctx context.Context, c *models.Checkpoint) error
}

type Service struct {
	repo               Repository
	cache              cache.BytesCache
	national           []int64
	defaultCitizenship int64
}

func New(repo Repository, c cache.BytesCache, national []int64, defaultCitizenship int64) *Service {
	return &Service{repo: repo, cache: c, national: national, defaultCitizenship: defaultCitizenship}
}

// RegisterPass records a crossing, creating a stub person for an unseen document id.
func (s *Service) RegisterPass(ctx context.Context, msg messages.CheckpointPassed) (*models.CheckpointPass, error) {
	msg.DocID = strings.TrimSpace(msg.DocID)
	if err := msg.Validate(); err != nil {
		return nil, errors.Wrap(models.ErrInvalidInput, err.Error())
	}

	lookup, citizenship := s.national, s.defaultCitizenship
	if msg.CitizenshipID != nil && !slices.Contains(s.national, *msg.CitizenshipID) {
		lookup, citizenship = []int64{*msg.CitizenshipID}, *msg.CitizenshipID
	}
	p, err := s.repo.CreateOrGetPerson(ctx, msg.DocID, lookup, citizenship)
	if err != nil {
		return nil, err
	}

	pass := &models.CheckpointPass{
		CheckpointID: msg.CheckpointID,
		PersonID:     p.ID,
		Temperature:  msg.Temperature,
		PassedAt:     msg.PassedAt,
	}
	if err := s.repo.RecordPass(ctx, pass); err != nil {
		return nil, err
	}

	// температура хранится в персоне, поэтому кэш сбрасываем
	if s.cache != nil {
		if err := s.cache.Delete(ctx, cache.PersonKey(p.ID)); err != nil {
			slog.Warn("person cache delete", "person_id", p.ID, "error", err.Error())
		}
	}
	return pass, nil
}

func (s *Service) RecordCapture(ctx context.Context, msg messages.CameraCaptured) (*models.CameraCapture, error) {
	msg.Grnz = strings.ToUpper(strings.TrimSpace(msg.Grnz))
	if err := msg.Validate(); err != nil {
		return nil, errors.Wrap(models.ErrInvalidInput, err.Error())
	}
	c := &models.CameraCapture{
		CameraID:     msg.CameraID,
		CheckpointID: msg.CheckpointID,
		Vehicle:      models.Vehicle{Grnz: msg.Grnz, Model: strings.TrimSpace(msg.Model)},
		CapturedAt:   msg.CapturedAt,
	}
	if err := s.repo.RecordCapture(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) ListCaptures(ctx context.Context, checkpointID int64, since time.Time, limit int) ([]*models.CameraCapture, error) {
	if checkpointID <= 0 {
		return nil, errors.Wrap(models.ErrInvalidInput, "checkpoint is required")
	}
	out, err := s.repo.ListCaptures(ctx, checkpointID, since, limit)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*models.CameraCapture{}
	}
	return out, nil
}

func (s *Service) CreateCheckpoint(ctx context.Context, c *models.Checkpoint) error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return errors.Wrap(models.ErrInvalidInput, "name is required")
	}
	return s.repo.CreateCheckpoint(ctx, c)
}

// HomeRegion is the region a checkpoint belongs to; nil when it has none.
func (s *Service) HomeRegion(ctx context.Context, checkpointID int64) (*int64, error) {
	c, err := s.repo.GetCheckpoint(ctx, checkpointID)
	if err != nil {
		return nil, err
	}
	return c.RegionID, nil
}

// HandlePassed is the kafka handler for checkpoint.passed. Undecodable or invalid
// messages are logged and skipped so one bad event does not block the partition.
func (s *Service) HandlePassed(ctx context.Context, value []byte) error {
	var m messages.CheckpointPassed
	if err := json.Unmarshal(value, &m); err != nil {
		slog.Error("decode checkpoint.passed", "error", err.Error())
		return nil
	}
	_, err := s.RegisterPass(ctx, m)
	if errors.Is(err, models.ErrInvalidInput) {
		slog.Error("invalid checkpoint.passed", "error", err.Error())
		return nil
	}
	return err
}

func (s *Service) HandleCaptured(ctx context.Context, value []byte) error {
	var m messages.CameraCaptured
	if err := json.Unmarshal(value, &m); err != nil {
		slog.Error("decode camera.captured", "error", err.Error())
		return nil
	}
	_, err := s.RecordCapture(ctx, m)
	if errors.Is(err, models.ErrInvalidInput) {
		slog.Error("invalid camera.captured", "error", err.Error())
		return nil
	}
	return err
}
