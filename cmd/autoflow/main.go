package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/autoflow/pkg/cmd"
	"github.com/dukex/autoflow/pkg/engine"
	"github.com/dukex/autoflow/pkg/log"
	"github.com/dukex/autoflow/pkg/otelhelper"
	"github.com/dukex/autoflow/pkg/persistence"
	cli "github.com/urfave/cli/v3"
)

const (
	defaultPort     = 9091
	shutdownTimeout = 15 * time.Second
)

func main() {
	command := &cli.Command{
		Name:                  "autoflow",
		Usage:                 "Run the workflow automation engine and its API",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Persistence URL (postgres://, redis://, file:// or a directory)",
				Value:   "./data",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (gochannel, kafka)",
				Value:   cmd.EventBusGoChannel,
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.DurationFlag{
				Name:    "workflow-ttl",
				Usage:   "Expiry of stored workflows, 0 disables expiry",
				Value:   persistence.DefaultWorkflowTTL,
				Sources: cli.EnvVars("WORKFLOW_TTL"),
			},
			&cli.DurationFlag{
				Name:    "execution-ttl",
				Usage:   "Expiry of stored executions, 0 disables expiry",
				Value:   persistence.DefaultExecutionTTL,
				Sources: cli.EnvVars("EXECUTION_TTL"),
			},
			&cli.IntFlag{
				Name:    "max-executions",
				Usage:   "Executions kept in memory before the oldest finished ones are evicted",
				Value:   engine.DefaultMaxExecutions,
				Sources: cli.EnvVars("MAX_EXECUTIONS"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   log.FormatText,
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
			&cli.BoolFlag{
				Name:    "otel-enabled",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
		},
		Action: run,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := command.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), command.String("log-format"))

	logger := log.WithModule("autoflow")

	logger.InfoContext(ctx, "Initializing Autoflow")

	if command.Bool("otel-enabled") {
		shutdown, err := otelhelper.Setup(ctx, "autoflow")
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}

		defer func() {
			if err := shutdown(context.WithoutCancel(ctx)); err != nil {
				logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
			}
		}()
	}

	store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"), persistence.Options{
		WorkflowTTL:  command.Duration("workflow-ttl"),
		ExecutionTTL: command.Duration("execution-ttl"),
	})
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	config := engine.DefaultConfig()
	config.MaxExecutions = command.Int("max-executions")

	eng := engine.New(store, eventBus, logger, config)
	if err := eng.Load(ctx); err != nil {
		return err
	}

	api := NewAPI(logger, eng)

	serveErr := make(chan error, 1)

	go func() {
		serveErr <- api.Start(command.Int("port"))
	}()

	select {
	case err = <-serveErr:
		logger.ErrorContext(ctx, "API server stopped", "error", err)
	case <-ctx.Done():
		logger.InfoContext(ctx, "Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	return errors.Join(err, api.Shutdown(shutdownCtx), eng.Close(shutdownCtx))
}
