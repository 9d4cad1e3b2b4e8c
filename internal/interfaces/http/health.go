package http

import (
	"net/http"
	"time"

	"github.com/acme/product-pipeline/internal/infrastructure/cache"
	"github.com/acme/product-pipeline/internal/persistence"
)

// HealthHandler reports the composite health of the backing services. A
// nil database or cache is reported as disabled rather than failing.
type HealthHandler struct {
	db        persistence.RepositoryHealth
	cache     cache.Cache
	startTime time.Time
	version   string
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(db persistence.RepositoryHealth, c cache.Cache, version string) *HealthHandler {
	return &HealthHandler{
		db:        db,
		cache:     c,
		startTime: time.Now(),
		version:   version,
	}
}

// ServeHTTP implements the health check endpoint.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := h.gather(r)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

	status := http.StatusOK
	if response.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSONBody(w, status, response)
}

func (h *HealthHandler) gather(r *http.Request) HealthResponse {
	components := make(map[string]ComponentStatus)
	degraded := false
	unhealthy := false

	if h.db == nil {
		components["database"] = ComponentStatus{Status: "disabled"}
	} else {
		check := h.db.Health(r.Context())
		if check.Healthy {
			components["database"] = ComponentStatus{Status: "healthy", Detail: check}
		} else {
			unhealthy = true
			components["database"] = ComponentStatus{Status: "unhealthy", Detail: check}
		}
	}

	if h.cache == nil {
		components["cache"] = ComponentStatus{Status: "disabled"}
	} else if h.cache.Health(r.Context()) {
		components["cache"] = ComponentStatus{Status: "healthy", Detail: h.cache.Stats()}
	} else {
		// A dead cache degrades performance but every read falls
		// through to the database.
		degraded = true
		components["cache"] = ComponentStatus{Status: "unhealthy", Detail: h.cache.Stats()}
	}

	status := "healthy"
	if degraded {
		status = "degraded"
	}
	if unhealthy {
		status = "unhealthy"
	}

	return HealthResponse{
		Status:     status,
		Timestamp:  time.Now().UTC(),
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
		Version:    h.version,
		Components: components,
	}
}
