// Package health binds the liveness and readiness endpoints.
package health

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/METASPACE2020/sm-graphql/pkg/common/logger"
)

// Route paths, also excluded from tracing.
const (
	LivenessPath  = "/v1/liveness"
	ReadinessPath = "/v1/readiness"
)

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Build string
	Log   *logger.Logger
	// Ready reports whether the relay is consuming. Nil means always ready.
	Ready func() bool
}

// Routes binds all the health check endpoints.
func Routes(r chi.Router, cfg Config) {
	r.Get(LivenessPath, liveness(cfg))
	r.Get(ReadinessPath, readiness(cfg))
}

type healthResponse struct {
	Status string `json:"status"`
	Build  string `json:"build"`
}

type readyResponse struct {
	Status string `json:"status"`
}

func liveness(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respond(w, r, cfg.Log, http.StatusOK, healthResponse{Status: "ok", Build: cfg.Build})
	}
}

func readiness(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Ready != nil && !cfg.Ready() {
			respond(w, r, cfg.Log, http.StatusServiceUnavailable, readyResponse{Status: "not ready"})
			return
		}
		respond(w, r, cfg.Log, http.StatusOK, readyResponse{Status: "ready"})
	}
}

func respond(w http.ResponseWriter, r *http.Request, log *logger.Logger, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error(r.Context(), "Failed to encode health response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}
