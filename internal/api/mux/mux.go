// Package mux assembles the public API handler.
package mux

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/METASPACE2020/sm-graphql/internal/api/health"
	"github.com/METASPACE2020/sm-graphql/internal/api/mid"
	"github.com/METASPACE2020/sm-graphql/internal/api/subscriptions"
	"github.com/METASPACE2020/sm-graphql/internal/domain/events"
	"github.com/METASPACE2020/sm-graphql/pkg/common/logger"
)

// ExcludedRoutes are never traced.
var ExcludedRoutes = map[string]struct{}{
	health.LivenessPath:  {},
	health.ReadinessPath: {},
}

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Build string
	Log   *logger.Logger
	Ready func() bool

	Bus    events.StreamSubscriber
	Topics []events.EventType

	TracerProvider trace.TracerProvider
	Tracer         trace.Tracer

	PingPeriod time.Duration
	PongWait   time.Duration
}

// WebAPI constructs a http.Handler with all application routes bound.
func WebAPI(cfg Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mid.Logger(cfg.Log))
	r.Use(middleware.Recoverer)

	health.Routes(r, health.Config{
		Build: cfg.Build,
		Log:   cfg.Log,
		Ready: cfg.Ready,
	})

	subscriptions.Routes(r, subscriptions.Config{
		Bus:        cfg.Bus,
		Topics:     cfg.Topics,
		Log:        cfg.Log,
		Tracer:     cfg.Tracer,
		PingPeriod: cfg.PingPeriod,
		PongWait:   cfg.PongWait,
	})

	return otelhttp.NewHandler(r, "status-relay.api",
		otelhttp.WithTracerProvider(cfg.TracerProvider),
		otelhttp.WithPropagators(propagation.TraceContext{}),
		otelhttp.WithFilter(func(r *http.Request) bool {
			_, skip := ExcludedRoutes[r.URL.Path]
			return !skip
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}
