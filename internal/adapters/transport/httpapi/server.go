// Package httpapi exposes graphs, executions and the node catalog over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/flowgraph/nodeflow/internal/app/dto"
	"github.com/flowgraph/nodeflow/internal/app/services"
	"github.com/flowgraph/nodeflow/internal/core/graph"
)

// maxBodyBytes bounds request bodies; graphs are the largest documents.
const maxBodyBytes = 5 << 20

// Server routes HTTP requests to the graph and execution services
// PRINCIPLES:
// - SRP: Transport only; decoding, status mapping and encoding
type Server struct {
	graphs *services.GraphService
	execs  *services.ExecutionService
	logger *zap.Logger
	router chi.Router
}

// New builds the router. A nil logger disables request logging.
func New(graphs *services.GraphService, execs *services.ExecutionService, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{graphs: graphs, execs: execs, logger: logger}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, "ok")
	})
	r.Get("/metrics", promMetricsHandler)
	r.Method(http.MethodGet, "/debug/vars", expvar.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/node-types", s.nodeTypes)

		r.Get("/schemas", s.listGraphs)
		r.Post("/schemas/validate", s.validateGraph)
		r.Get("/schemas/{id}", s.getGraph)
		r.Put("/schemas/{id}", s.saveGraph)
		r.Delete("/schemas/{id}", s.deleteGraph)
		r.Post("/schemas/{id}/nodes", s.placeNode)

		r.Post("/executions", s.trigger)
		r.Get("/executions/list/{schemaID}", s.listExecutions)
		r.Delete("/executions/schema/{schemaID}", s.purge)
		r.Get("/executions/{id}", s.getExecution)
		r.Get("/executions/{id}/steps", s.getSteps)
		r.Post("/executions/{id}/cancel", s.cancel)
	})
	return r
}

func (s *Server) nodeTypes(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.graphs.Catalog())
}

// Graphs

func (s *Server) listGraphs(w http.ResponseWriter, r *http.Request) {
	graphs, err := s.graphs.List(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, graphs)
}

func (s *Server) getGraph(w http.ResponseWriter, r *http.Request) {
	g, err := s.graphs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, g)
}

func (s *Server) saveGraph(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var g graph.Graph
	if err := decodeJSON(w, r, &g); err != nil {
		s.respondError(w, r, err)
		return
	}
	if g.ID == "" {
		g.ID = id
	}
	if g.ID != id {
		s.respondError(w, r, fmt.Errorf("%w: body id %q does not match path id %q", graph.ErrInvalidGraphID, g.ID, id))
		return
	}
	saved, err := s.graphs.Save(r.Context(), &g)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, saved)
}

func (s *Server) deleteGraph(w http.ResponseWriter, r *http.Request) {
	if err := s.graphs.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) validateGraph(w http.ResponseWriter, r *http.Request) {
	var g graph.Graph
	if err := decodeJSON(w, r, &g); err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.graphs.Validate(&g); err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

func (s *Server) placeNode(w http.ResponseWriter, r *http.Request) {
	var req dto.PlaceNodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	n, err := s.graphs.PlaceNode(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, n)
}

// Executions

func (s *Server) trigger(w http.ResponseWriter, r *http.Request) {
	var req dto.TriggerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field == "trigger_payload" {
			err = dto.ErrInvalidPayload
		}
		s.respondError(w, r, err)
		return
	}
	exec, err := s.execs.Trigger(r.Context(), &req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, dto.TriggerResponse{ExecutionID: exec.ID, Status: exec.Status})
}

func (s *Server) getExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.execs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, exec)
}

func (s *Server) getSteps(w http.ResponseWriter, r *http.Request) {
	steps, err := s.execs.Steps(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, steps)
}

func (s *Server) listExecutions(w http.ResponseWriter, r *http.Request) {
	req := dto.ListRequest{SchemaID: chi.URLParam(r, "schemaID")}
	var err error
	if req.Limit, err = queryInt(r, "limit"); err != nil {
		s.respondError(w, r, err)
		return
	}
	if req.Offset, err = queryInt(r, "offset"); err != nil {
		s.respondError(w, r, err)
		return
	}
	list, err := s.execs.List(r.Context(), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (s *Server) purge(w http.ResponseWriter, r *http.Request) {
	schemaID := chi.URLParam(r, "schemaID")
	n, err := s.execs.Purge(r.Context(), schemaID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, dto.PurgeResponse{SchemaID: schemaID, Deleted: n})
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.execs.Cancel(r.Context(), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"execution_id": id, "status": "cancelling"})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %w", dto.ErrInvalidRequest, err)
	}
	return nil
}

// queryInt reads an optional integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := cast.ToIntE(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", dto.ErrInvalidRequest, name)
	}
	return n, nil
}
