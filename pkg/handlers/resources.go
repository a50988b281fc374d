package handlers

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlrest/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-sqlrest/pkg/jsonutil"
	"github.com/ekaya-inc/ekaya-sqlrest/pkg/logging"
	"github.com/ekaya-inc/ekaya-sqlrest/pkg/middleware"
	"github.com/ekaya-inc/ekaya-sqlrest/pkg/services"
	"github.com/ekaya-inc/ekaya-sqlrest/pkg/sql"
)

// maxBodyBytes caps POST/PUT bodies.
const maxBodyBytes = 1 << 20

// ResourceHandler serves the configured resources.
type ResourceHandler struct {
	resources services.ResourceService
	logger    *zap.Logger
}

// NewResourceHandler creates a handler over the admitted resources.
func NewResourceHandler(resources services.ResourceService, logger *zap.Logger) *ResourceHandler {
	return &ResourceHandler{resources: resources, logger: logger}
}

// RegisterRoutes mounts one route per resource path and declared method.
func (h *ResourceHandler) RegisterRoutes(r chi.Router) {
	for _, res := range h.resources.Resources() {
		for _, method := range res.Methods() {
			r.Method(method, res.Path, h.serve(res.Name))
		}
	}
}

func (h *ResourceHandler) serve(resource string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := middleware.Logger(r.Context(), h.logger)

		params, err := requestParams(w, r)
		if err != nil {
			_ = ErrorResponse(w, http.StatusBadRequest, "invalid_body", err.Error())
			return
		}

		result, err := h.resources.Execute(r.Context(), resource, r.Method, params)
		if err != nil {
			h.writeError(w, logger, resource, params, err)
			return
		}

		body, err := result.Payload()
		if err != nil {
			logger.Error("Failed to encode result",
				zap.String("resource", resource),
				zap.Error(err))
			_ = ErrorResponse(w, http.StatusInternalServerError, "encoding_failed", "failed to encode result")
			return
		}
		if err := WriteRawJSON(w, http.StatusOK, body); err != nil {
			logger.Warn("Failed to write response", zap.Error(err))
		}
	}
}

// writeError maps a service error onto a status code.
func (h *ResourceHandler) writeError(w http.ResponseWriter, logger *zap.Logger, resource string, params map[string]string, err error) {
	var bindErr *sql.BindError

	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		_ = ErrorResponse(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, apperrors.ErrMethodNotAllowed):
		_ = ErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", err.Error())
	case errors.Is(err, apperrors.ErrNoMatchingStatement):
		if len(params) == 0 {
			_ = ErrorResponse(w, http.StatusNotFound, "not_found", "no statement serves a request without parameters")
			return
		}
		_ = ErrorResponse(w, http.StatusUnprocessableEntity, "no_matching_statement", err.Error())
	case errors.As(err, &bindErr):
		_ = ErrorResponse(w, http.StatusBadRequest, "bind_error", bindErr.Error())
	case errors.Is(err, apperrors.ErrInjectionDetected):
		_ = ErrorResponse(w, http.StatusBadRequest, "injection_detected", err.Error())
	default:
		logger.Error("Request failed",
			zap.String("resource", resource),
			zap.String("error", logging.SanitizeError(err)))
		_ = ErrorResponse(w, http.StatusInternalServerError, "execution_failed", logging.SanitizeError(err))
	}
}

// requestParams collects the request's parameter map. GET and DELETE read
// the query string. POST and PUT read a flat JSON object when the body is
// JSON, form values otherwise. The first value wins for repeated keys.
func requestParams(w http.ResponseWriter, r *http.Request) (map[string]string, error) {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		if isJSON(r.Header.Get("Content-Type")) {
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
			if err != nil {
				return nil, err
			}
			if len(strings.TrimSpace(string(body))) == 0 {
				return map[string]string{}, nil
			}
			return jsonutil.FlattenObject(body)
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		return firstValues(r.Form), nil
	default:
		return firstValues(r.URL.Query()), nil
	}
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

func firstValues(values map[string][]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
