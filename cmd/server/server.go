package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/liamcoop/tripflow/departments"
	"github.com/liamcoop/tripflow/formula"
	"github.com/liamcoop/tripflow/internal/logger"
	"github.com/liamcoop/tripflow/internal/validate"
	"github.com/liamcoop/tripflow/rules"
	"github.com/liamcoop/tripflow/workflow"
)

type Server struct {
	db          *sql.DB // nil when running on in-memory stores
	engine      *rules.Engine
	departments *departments.Manager
	workflow    *workflow.Service
	formulas    *formula.Cache
	router      *chi.Mux
}

func NewServer(db *sql.DB, engine *rules.Engine, depts *departments.Manager, wf *workflow.Service, formulas *formula.Cache) *Server {
	s := &Server{
		db:          db,
		engine:      engine,
		departments: depts,
		workflow:    wf,
		formulas:    formulas,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/formulas/evaluate", s.handleEvaluateFormula)
		r.Post("/formulas/validate", s.handleValidateFormula)
		r.Post("/conditions/evaluate", s.handleEvaluateConditions)

		r.Route("/departments", func(r chi.Router) {
			r.Get("/", s.handleListDepartments)
			r.Post("/", s.handleCreateDepartment)

			r.Route("/{deptId}", func(r chi.Router) {
				r.Get("/", s.handleGetDepartment)
				r.Get("/schema", s.handleGetSchema)
				r.Put("/schema", s.handleUpdateSchema)
				r.Post("/records/validate", s.handleValidateRecord)
				r.Post("/calculate", s.handleCalculate)

				r.Get("/formulas", s.handleListFormulas)
				r.Post("/formulas", s.handleCreateFormula)
				r.Get("/formulas/{formulaId}", s.handleGetFormula)
				r.Put("/formulas/{formulaId}", s.handleUpdateFormula)
				r.Delete("/formulas/{formulaId}", s.handleDeleteFormula)
			})
		})

		r.Route("/push/{src}/{dst}", func(r chi.Router) {
			r.Post("/", s.handlePush)
			r.Post("/evaluate", s.handleEvaluatePush)

			r.Get("/conditions", s.handleListConditions)
			r.Post("/conditions", s.handleCreateCondition)
			r.Get("/conditions/{conditionId}", s.handleGetCondition)
			r.Put("/conditions/{conditionId}", s.handleUpdateCondition)
			r.Delete("/conditions/{conditionId}", s.handleDeleteCondition)
		})

		r.Get("/workflow/history", s.handleHistory)
		r.Get("/workflow/stats", s.handleStatistics)
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":            "healthy",
		"departmentsLoaded": len(s.departments.List()),
		"formulaCache":      s.formulas.Stats(),
		"counters":          logger.Snapshot(),
	})
}

// Helper functions

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid "+name, err)
		return 0, false
	}
	return id, true
}

func queryID(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
		resp.Fields = validate.Fields(err)
	}
	if status >= 500 {
		logger.ErrorHTTP5xx()
		logger.Error(message, "status", status, "error", err)
	} else {
		logger.WarnHTTP4xx()
		logger.Debug(message, "status", status, "error", err)
	}
	respondJSON(w, status, resp)
}

// statusOf maps domain errors to HTTP statuses.
func statusOf(err error) int {
	switch {
	case errors.Is(err, rules.ErrNotFound), errors.Is(err, departments.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, rules.ErrAlreadyExists), errors.Is(err, departments.ErrAlreadyExists):
		return http.StatusConflict
	case validate.Fields(err) != nil, formula.KindOf(err) != 0,
		errors.Is(err, rules.ErrNonNumeric), errors.Is(err, rules.ErrInvalid),
		errors.Is(err, departments.ErrInvalid):
		return http.StatusBadRequest
	}
	var re *departments.RecordError
	if errors.As(err, &re) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func respondDomainError(w http.ResponseWriter, message string, err error) {
	respondError(w, statusOf(err), message, err)
}
