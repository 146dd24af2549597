package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/automaxprocs/maxprocs"
	"gopkg.in/yaml.v3"

	"github.com/METASPACE2020/sm-graphql/internal/config"
	"github.com/METASPACE2020/sm-graphql/pkg/common/logger"
	"github.com/METASPACE2020/sm-graphql/pkg/common/otel"
)

var build = "develop"

const serviceType = "status-relay"

func main() {
	// Set the correct number of threads for the service.
	_, _ = maxprocs.Set()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "status-relay: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "status-relay",
		Usage:   "Relay dataset status changes to live subscribers once the index agrees",
		Version: build,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to a YAML config file",
				Sources: cli.EnvVars("RELAY_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Path to a .env file; ignored when missing",
				Value: ".env",
			},
		},
		Action: serveAction,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Consume status messages and serve subscriptions",
				Action: serveAction,
			},
			{
				Name:   "config",
				Usage:  "Print the effective configuration with secrets masked",
				Action: configAction,
			},
		},
	}
}

func loadConfig(ctx context.Context, cmd *cli.Command) (*config.Config, error) {
	return config.NewLoader(config.Options{
		ConfigFile: cmd.String("config"),
		EnvFile:    cmd.String("env-file"),
	}).Load(ctx)
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(ctx, cmd)
	if err != nil {
		return err
	}

	log, err := newLogger(cfg.Service)
	if err != nil {
		return err
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Error(ctx, "startup", "err", err)
		return err
	}
	return nil
}

func configAction(_ context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(context.Background(), cmd)
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(cmd.Root().Writer)
	defer enc.Close()
	enc.SetIndent(2)
	return enc.Encode(cfg.Redacted())
}

func newLogger(cfg config.ServiceConfig) (*logger.Logger, error) {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("failed to get hostname: %w", err)
	}

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}
			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n", r.Message, errorAttrsJSON)
		},
	}

	svcName := fmt.Sprintf("%s-%s", cfg.Name, hostname)
	metadata := map[string]string{
		"service":     svcName,
		"hostname":    hostname,
		"environment": cfg.Environment,
		"app":         serviceType,
	}

	return logger.NewWithMetadata(os.Stdout, level, svcName, otel.GetTraceID, logEvents, metadata), nil
}
