package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlrest/pkg/config"
	"github.com/ekaya-inc/ekaya-sqlrest/pkg/middleware"
	"github.com/ekaya-inc/ekaya-sqlrest/pkg/services"
)

// NewRouter wires every handler onto one chi router. db may be nil.
func NewRouter(cfg *config.Config, resources services.ResourceService, db Pinger, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(logger))

	NewHealthHandler(cfg, db, logger.Named("health")).RegisterRoutes(r)
	NewAdminHandler(resources, logger.Named("admin")).RegisterRoutes(r)
	NewPushHandler(resources, logger.Named("push")).RegisterRoutes(r)
	NewResourceHandler(resources, logger.Named("http")).RegisterRoutes(r)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = ErrorResponse(w, http.StatusNotFound, "not_found", "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = ErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method+" is not declared for "+r.URL.Path)
	})

	return r
}
