package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/flowgraph/nodeflow/internal/app/dto"
	"github.com/flowgraph/nodeflow/internal/app/nodes"
	"github.com/flowgraph/nodeflow/internal/app/services"
	"github.com/flowgraph/nodeflow/internal/app/usecases"
	"github.com/flowgraph/nodeflow/internal/core/execution"
	"github.com/flowgraph/nodeflow/internal/core/graph"
	"github.com/flowgraph/nodeflow/pkg/validation"
)

// ErrorResponse is the body of every non-2xx answer
type ErrorResponse struct {
	Error  string                      `json:"error"`
	Kind   graph.StructuralErrorKind   `json:"kind,omitempty"`
	NodeID string                      `json:"node_id,omitempty"`
	EdgeID string                      `json:"edge_id,omitempty"`
	Fields validation.ValidationErrors `json:"fields,omitempty"`
}

// badRequest lists errors caused by the request content itself.
var badRequest = []error{
	dto.ErrInvalidRequest,
	dto.ErrInvalidPayload,
	nodes.ErrUnknownNodeType,
	graph.ErrNilGraph,
	graph.ErrInvalidGraphID,
	graph.ErrNilNode,
	graph.ErrInvalidNodeID,
	graph.ErrInvalidNodeType,
	graph.ErrNilEdge,
	graph.ErrInvalidSource,
	graph.ErrInvalidTarget,
	execution.ErrInvalidLimit,
	execution.ErrInvalidOffset,
	execution.ErrInvalidSchemaID,
}

// statusFor maps a service error to an HTTP status.
func statusFor(err error) int {
	var se *graph.StructuralError
	switch {
	case errors.As(err, &se):
		return http.StatusUnprocessableEntity
	case errors.Is(err, graph.ErrGraphNotFound), errors.Is(err, execution.ErrExecutionNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrExecutionFinished), errors.Is(err, usecases.ErrExecutionNotActive):
		return http.StatusConflict
	}
	for _, target := range badRequest {
		if errors.Is(err, target) {
			return http.StatusBadRequest
		}
	}
	var verrs validation.ValidationErrors
	if errors.As(err, &verrs) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := ErrorResponse{Error: err.Error()}

	var se *graph.StructuralError
	if errors.As(err, &se) {
		body.Kind, body.NodeID, body.EdgeID = se.Kind, se.NodeID, se.EdgeID
	}
	var verrs validation.ValidationErrors
	if errors.As(err, &verrs) {
		body.Fields = verrs
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		body = ErrorResponse{Error: "internal server error"}
	}
	respondJSON(w, status, body)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
