package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"price-band-lab/internal/domain"
	"price-band-lab/internal/metrics"
	"price-band-lab/internal/pipeline"
	"price-band-lab/internal/reporting"
)

const defaultRunLimit = 50

// runRequest is the body of POST /api/v1/runs. Observations are optional;
// without them the run reads the observation store.
type runRequest struct {
	Level        domain.Level          `json:"level"`
	K            *float64              `json:"k"`
	Selection    string                `json:"selection"`
	Source       string                `json:"source"`
	Observations []*observationInput `json:"observations"`
}

type runResponse struct {
	Run     *domain.Run     `json:"run"`
	Summary metrics.Summary `json:"summary"`
	Cached  bool            `json:"cached"`
}

type bandsResponse struct {
	RunID string            `json:"run_id"`
	Count int               `json:"count"`
	Rows  []*domain.BandRow `json:"rows"`
}

func errNotConfigured(what string) *APIError {
	return newError(http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", what+" not configured", nil)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

func (s *Server) listKeys(w http.ResponseWriter, r *http.Request) {
	if s.opts.ObservationStore == nil {
		s.fail(w, r, errNotConfigured("observation store"))
		return
	}

	level := s.opts.DefaultLevel
	if v := r.URL.Query().Get("level"); v != "" {
		level = domain.Level(v)
	}
	if !level.Valid() {
		s.fail(w, r, errInvalidParameter("level must be group or parent"))
		return
	}

	keys, err := s.opts.ObservationStore.Keys(r.Context(), level)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	render.JSON(w, r, map[string]any{"level": level, "keys": keys})
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	if s.opts.Runner == nil {
		s.fail(w, r, errNotConfigured("runner"))
		return
	}

	var req runRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
		s.fail(w, r, newError(http.StatusBadRequest, "INVALID_REQUEST", "invalid request body", err.Error()))
		return
	}

	obs, err := toObservations(req.Observations)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	k := s.opts.DefaultK
	if req.K != nil {
		k = *req.K
	}
	level := req.Level
	if level == "" {
		level = s.opts.DefaultLevel
	}
	source := req.Source
	if source == "" {
		source = "store"
		if obs != nil {
			source = "request"
		}
	}

	res, err := s.opts.Runner.Run(r.Context(), pipeline.Request{
		Level:        level,
		K:            k,
		Observations: obs,
		Selection:    req.Selection,
		Source:       source,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, runResponse{Run: res.Run, Summary: res.Summary, Cached: res.Cached})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.opts.RunStore == nil {
		s.fail(w, r, errNotConfigured("run store"))
		return
	}

	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.fail(w, r, errInvalidParameter("limit must be a positive integer"))
			return
		}
		limit = n
	}

	runs, err := s.opts.RunStore.List(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if runs == nil {
		runs = []*domain.Run{}
	}
	render.JSON(w, r, map[string]any{"runs": runs, "count": len(runs)})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	render.JSON(w, r, run)
}

func (s *Server) getBands(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	rows, ok := s.loadRows(w, r, run.ID, r.URL.Query().Get("key"))
	if !ok {
		return
	}

	if v := r.URL.Query().Get("outside"); v != "" {
		outside, err := strconv.ParseBool(v)
		if err != nil {
			s.fail(w, r, errInvalidParameter("outside must be a boolean"))
			return
		}
		if outside {
			rows = metrics.OutOfBand(rows)
		}
	}
	if rows == nil {
		rows = []*domain.BandRow{}
	}

	render.JSON(w, r, bandsResponse{RunID: run.ID, Count: len(rows), Rows: rows})
}

func (s *Server) getSummary(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	rows, ok := s.loadRows(w, r, run.ID, r.URL.Query().Get("key"))
	if !ok {
		return
	}
	render.JSON(w, r, runResponse{Run: run, Summary: metrics.Summarize(rows), Cached: run.Status == domain.RunStatusCached})
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil {
		s.fail(w, r, errNotConfigured("run and band stores"))
		return
	}

	report, err := s.reports.Generate(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, reporting.RenderMarkdown(report))
}

func (s *Server) verifyRun(w http.ResponseWriter, r *http.Request) {
	if s.verifier == nil {
		s.fail(w, r, errNotConfigured("observation, run and band stores"))
		return
	}

	res, err := s.verifier.VerifyRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{"match": res.Match(), "result": res})
}

func (s *Server) loadRun(w http.ResponseWriter, r *http.Request) (*domain.Run, bool) {
	if s.opts.RunStore == nil {
		s.fail(w, r, errNotConfigured("run store"))
		return nil, false
	}
	run, err := s.opts.RunStore.GetByID(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	return run, true
}

func (s *Server) loadRows(w http.ResponseWriter, r *http.Request, runID, key string) ([]*domain.BandRow, bool) {
	if s.opts.BandStore == nil {
		s.fail(w, r, errNotConfigured("band store"))
		return nil, false
	}

	var (
		rows []*domain.BandRow
		err  error
	)
	if key != "" {
		rows, err = s.opts.BandStore.GetByRunAndKey(r.Context(), runID, key)
	} else {
		rows, err = s.opts.BandStore.GetByRun(r.Context(), runID)
	}
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	return rows, true
}
