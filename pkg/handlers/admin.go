package handlers

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlrest/pkg/services"
	"github.com/ekaya-inc/ekaya-sqlrest/pkg/services/push"
)

// ResourceInfo describes an admitted resource.
type ResourceInfo struct {
	Name    string   `json:"name"`
	Path    string   `json:"path"`
	Methods []string `json:"methods"`
	Push    bool     `json:"push"`
}

// RejectedResource names a resource that failed admission.
type RejectedResource struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// ResourcesResponse is returned by GET /admin/resources.
type ResourcesResponse struct {
	Resources []ResourceInfo     `json:"resources"`
	Rejected  []RejectedResource `json:"rejected"`
}

// JobsResponse is returned by GET /admin/jobs.
type JobsResponse struct {
	Jobs []push.JobSnapshot `json:"jobs"`
}

// AdminHandler exposes read-only runtime state.
type AdminHandler struct {
	resources services.ResourceService
	logger    *zap.Logger
}

// NewAdminHandler creates an admin handler.
func NewAdminHandler(resources services.ResourceService, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{resources: resources, logger: logger}
}

// RegisterRoutes registers the admin routes under /admin.
func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Get("/jobs", h.Jobs)
		r.Get("/resources", h.Resources)
	})
}

// Jobs handles GET /admin/jobs.
func (h *AdminHandler) Jobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.resources.Jobs()
	if jobs == nil {
		jobs = []push.JobSnapshot{}
	}
	if err := WriteJSON(w, http.StatusOK, JobsResponse{Jobs: jobs}); err != nil {
		h.logger.Error("Failed to encode jobs response", zap.Error(err))
	}
}

// Resources handles GET /admin/resources.
func (h *AdminHandler) Resources(w http.ResponseWriter, r *http.Request) {
	resp := ResourcesResponse{
		Resources: []ResourceInfo{},
		Rejected:  []RejectedResource{},
	}
	for _, res := range h.resources.Resources() {
		resp.Resources = append(resp.Resources, ResourceInfo{
			Name:    res.Name,
			Path:    res.Path,
			Methods: res.Methods(),
			Push:    res.PushEnabled(),
		})
	}
	for name, err := range h.resources.Rejected() {
		resp.Rejected = append(resp.Rejected, RejectedResource{Name: name, Error: err.Error()})
	}
	sort.Slice(resp.Rejected, func(i, j int) bool { return resp.Rejected[i].Name < resp.Rejected[j].Name })

	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to encode resources response", zap.Error(err))
	}
}
