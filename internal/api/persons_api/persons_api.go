// Package persons_api is the HTTP/JSON surface of person-api.
package persons_api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/MedPass/internal/broker/messages"
	"github.com/BearBump/MedPass/internal/integrations/dmed"
	"github.com/BearBump/MedPass/internal/models"
	"github.com/BearBump/MedPass/internal/services/reconcile"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
)

const (
	HeaderHomeRegion = "X-Region-ID"

	defaultListLimit = 100
	maxListLimit     = 1000
)

type PersonService interface {
	Lookup(ctx context.Context, key string, home *int64) (*models.Person, error)
	CreatePerson(ctx context.Context, in models.PersonCreateInput) (*models.Person, error)
	UpdatePerson(ctx context.Context, id int64, patch models.PersonPatch) (*models.Person, []string, error)
	ListMarkers(ctx context.Context, personID int64) ([]models.Marker, error)
	ListPasses(ctx context.Context, personID int64, limit int) ([]*models.CheckpointPass, error)
	Reenrich(ctx context.Context, personID int64) error
}

type CheckpointService interface {
	RegisterPass(ctx context.Context, msg messages.CheckpointPassed) (*models.CheckpointPass, error)
	RecordCapture(ctx context.Context, msg messages.CameraCaptured) (*models.CameraCapture, error)
	ListCaptures(ctx context.Context, checkpointID int64, since time.Time, limit int) ([]*models.CameraCapture, error)
	CreateCheckpoint(ctx context.Context, c *models.Checkpoint) error
	HomeRegion(ctx context.Context, checkpointID int64) (*int64, error)
}

type RegionLister interface {
	ListRegions(ctx context.Context) ([]*models.Region, error)
}

type API struct {
	persons     PersonService
	checkpoints CheckpointService
	regions     RegionLister
}

func New(persons PersonService, checkpoints CheckpointService, regions RegionLister) *API {
	return &API{persons: persons, checkpoints: checkpoints, regions: regions}
}

// Routes returns the API router; callers mount it next to /metrics and /docs.
func (a *API) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/persons", func(r chi.Router) {
		r.Post("/", a.createPerson)
		r.Get("/{id}", a.getPerson)
		r.Patch("/{id}", a.updatePerson)
		r.Get("/{id}/markers", a.listMarkers)
		r.Get("/{id}/passes", a.listPasses)
		r.Post("/{id}/reenrich", a.reenrich)
	})
	r.Get("/regions", a.listRegions)
	r.Post("/checkpoints", a.createCheckpoint)
	r.Get("/checkpoints/{id}/captures", a.listCaptures)
	r.Post("/passes", a.registerPass)
	r.Post("/captures", a.recordCapture)
	return r
}

// getPerson resolves {id}: an IIN goes through DMED enrichment, a number is a primary key.
func (a *API) getPerson(w http.ResponseWriter, r *http.Request) {
	home, err := a.homeRegion(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := a.persons.Lookup(r.Context(), chi.URLParam(r, "id"), home)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) createPerson(w http.ResponseWriter, r *http.Request) {
	var req personRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	in, err := req.createInput()
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := a.persons.CreatePerson(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type updateResponse struct {
	Person        *models.Person `json:"person"`
	IgnoredFields []string       `json:"ignoredFields"`
}

func (a *API) updatePerson(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req patchRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	patch, err := req.patch()
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, dropped, err := a.persons.UpdatePerson(r.Context(), id, patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if dropped == nil {
		dropped = []string{}
	}
	writeJSON(w, http.StatusOK, updateResponse{Person: p, IgnoredFields: dropped})
}

func (a *API) listMarkers(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	ms, err := a.persons.ListMarkers(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ms)
}

func (a *API) listPasses(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ps, err := a.persons.ListPasses(r.Context(), id, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ps == nil {
		ps = []*models.CheckpointPass{}
	}
	writeJSON(w, http.StatusOK, ps)
}

func (a *API) reenrich(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.persons.Reenrich(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) listRegions(w http.ResponseWriter, r *http.Request) {
	rs, err := a.regions.ListRegions(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rs == nil {
		rs = []*models.Region{}
	}
	writeJSON(w, http.StatusOK, rs)
}

func (a *API) createCheckpoint(w http.ResponseWriter, r *http.Request) {
	var c models.Checkpoint
	if err := decode(r, &c); err != nil {
		writeError(w, r, err)
		return
	}
	c.ID = 0
	if err := a.checkpoints.CreateCheckpoint(r.Context(), &c); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (a *API) listCaptures(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		since, err = time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, errors.Wrap(models.ErrInvalidInput, "since must be RFC3339"))
			return
		}
	}
	cs, err := a.checkpoints.ListCaptures(r.Context(), id, since, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

func (a *API) registerPass(w http.ResponseWriter, r *http.Request) {
	var m messages.CheckpointPassed
	if err := decode(r, &m); err != nil {
		writeError(w, r, err)
		return
	}
	if m.PassedAt.IsZero() {
		m.PassedAt = time.Now().UTC()
	}
	p, err := a.checkpoints.RegisterPass(r.Context(), m)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) recordCapture(w http.ResponseWriter, r *http.Request) {
	var m messages.CameraCaptured
	if err := decode(r, &m); err != nil {
		writeError(w, r, err)
		return
	}
	if m.CapturedAt.IsZero() {
		m.CapturedAt = time.Now().UTC()
	}
	c, err := a.checkpoints.RecordCapture(r.Context(), m)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// homeRegion reads the requestor's region: explicit header or query first, then the
// region of the checkpoint the request came from. Absent is fine.
func (a *API) homeRegion(r *http.Request) (*int64, error) {
	raw := r.Header.Get(HeaderHomeRegion)
	if raw == "" {
		raw = r.URL.Query().Get("home_region")
	}
	if raw != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil || id <= 0 {
			return nil, errors.Wrap(models.ErrInvalidInput, "home region must be a positive integer")
		}
		return &id, nil
	}
	if cp := r.URL.Query().Get("checkpoint"); cp != "" {
		id, err := strconv.ParseInt(cp, 10, 64)
		if err != nil || id <= 0 {
			return nil, errors.Wrap(models.ErrInvalidInput, "checkpoint must be a positive integer")
		}
		return a.checkpoints.HomeRegion(r.Context(), id)
	}
	return nil, nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Wrapf(models.ErrInvalidInput, "%s must be a positive integer", name)
	}
	return id, nil
}

func queryLimit(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, errors.Wrap(models.ErrInvalidInput, "limit must be a positive integer")
	}
	return min(n, maxListLimit), nil
}

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.Wrapf(models.ErrInvalidInput, "invalid request body: %s", err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidIdentifier), errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, reconcile.ErrAllRegistriesFailed), dmed.IsBadGateway(err), dmed.IsTransport(err):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()), "error", err.Error())
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}
