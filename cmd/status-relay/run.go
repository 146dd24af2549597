package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/METASPACE2020/sm-graphql/internal/api/debug"
	"github.com/METASPACE2020/sm-graphql/internal/api/mux"
	"github.com/METASPACE2020/sm-graphql/internal/app/propagation"
	"github.com/METASPACE2020/sm-graphql/internal/config"
	"github.com/METASPACE2020/sm-graphql/internal/domain/datasets"
	eventbus "github.com/METASPACE2020/sm-graphql/internal/infra/eventbus/memory"
	"github.com/METASPACE2020/sm-graphql/pkg/common"
	"github.com/METASPACE2020/sm-graphql/pkg/common/logger"
	"github.com/METASPACE2020/sm-graphql/pkg/common/otel"
)

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	// -------------------------------------------------------------------------
	// GOMAXPROCS
	log.Info(ctx, "startup", "GOMAXPROCS", runtime.GOMAXPROCS(0), "build", build)

	// -------------------------------------------------------------------------
	// Start Tracing Support
	log.Info(ctx, "startup", "status", "initializing telemetry")

	hostname, _ := os.Hostname()
	providers, teardown, err := otel.InitTelemetry(log, otel.Config{
		Enabled:          cfg.Telemetry.Enabled,
		ServiceName:      cfg.Service.Name,
		ExporterEndpoint: cfg.Telemetry.Endpoint,
		ExcludedRoutes:   mux.ExcludedRoutes,
		Probability:      cfg.Telemetry.SamplingRatio,
		ResourceAttributes: map[string]string{
			"library.language":       "go",
			"deployment.environment": cfg.Service.Environment,
			"host.name":              hostname,
		},
		InsecureExporter: cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("starting telemetry: %w", err)
	}
	defer teardown(context.WithoutCancel(ctx))

	tracer := providers.Tracer.Tracer(cfg.Service.Name)

	metrics, err := propagation.NewMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("creating metrics collector: %w", err)
	}

	// -------------------------------------------------------------------------
	// Event Bus
	broker := eventbus.NewBroker(log, tracer, datasets.EventTypes()...)
	defer broker.Close()

	// -------------------------------------------------------------------------
	// Read Model
	log.Info(ctx, "startup", "status", "initializing read model probe", "kind", cfg.ReadModel.Kind)

	probe, closeProbe, err := buildProbe(ctx, cfg.ReadModel, tracer)
	if err != nil {
		return fmt.Errorf("creating read model probe: %w", err)
	}
	defer closeProbe()

	// -------------------------------------------------------------------------
	// Status Queue
	log.Info(ctx, "startup", "status", "connecting status source", "kind", cfg.Broker.Kind)

	source, err := buildSource(ctx, cfg.Broker, log, tracer)
	if err != nil {
		return fmt.Errorf("connecting status source: %w", err)
	}

	// -------------------------------------------------------------------------
	// Propagation
	gate, err := propagation.NewConsistencyGate(
		probe,
		eventbus.NewDomainEventPublisher(broker),
		gateConfig(cfg.Propagation),
		log,
		tracer,
		propagation.WithLimiter(common.NewRateLimiter(cfg.Propagation.ProbeRPS, cfg.Propagation.ProbeBurst)),
		propagation.WithGateMetrics(metrics),
	)
	if err != nil {
		_ = source.Close()
		return fmt.Errorf("creating consistency gate: %w", err)
	}

	consumer := propagation.NewStatusConsumer(source, gate, metrics, log, tracer)
	svc := propagation.NewService(consumer, gate, log)

	// -------------------------------------------------------------------------
	// Servers
	api := &http.Server{
		Addr: cfg.Web.APIAddr,
		Handler: mux.WebAPI(mux.Config{
			Build:          build,
			Log:            log,
			Ready:          svc.Ready,
			Bus:            broker,
			Topics:         datasets.EventTypes(),
			TracerProvider: providers.Tracer,
			Tracer:         tracer,
			PingPeriod:     cfg.Web.PingPeriod,
			PongWait:       cfg.Web.PongWait,
		}),
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     logger.NewStdLogger(log, logger.LevelError),
	}

	var debugSrv *http.Server
	if cfg.Web.DebugAddr != "" {
		debugMux, err := debug.Mux()
		if err != nil {
			_ = source.Close()
			return fmt.Errorf("creating debug mux: %w", err)
		}
		debugSrv = &http.Server{Addr: cfg.Web.DebugAddr, Handler: debugMux}
	}

	if err := svc.Start(ctx); err != nil {
		_ = source.Close()
		return fmt.Errorf("starting propagation service: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := svc.Wait(gctx)
		if gctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errors.New("consume loop exited")
		}
		return fmt.Errorf("propagation service: %w", err)
	})

	g.Go(func() error {
		log.Info(ctx, "startup", "status", "api router started", "host", api.Addr)
		if err := api.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	if debugSrv != nil {
		g.Go(func() error {
			log.Info(ctx, "startup", "status", "debug router started", "host", debugSrv.Addr)
			if err := debugSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				log.Error(ctx, "shutdown", "status", "debug router closed", "host", debugSrv.Addr, "msg", err)
			}
			return nil
		})
	}

	// -------------------------------------------------------------------------
	// Shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info(ctx, "shutdown", "status", "shutdown started")
		defer log.Info(ctx, "shutdown", "status", "shutdown complete")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := svc.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stopping propagation service: %w", err))
		}
		// Closing the bus ends every open subscription.
		_ = broker.Close()
		if err := api.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("could not stop api server gracefully: %w", err))
		}
		if debugSrv != nil {
			_ = debugSrv.Shutdown(shutdownCtx)
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
