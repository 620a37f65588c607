package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harunnryd/voxstream/pkg/logging"
	"github.com/harunnryd/voxstream/pkg/pipeline"
	"github.com/harunnryd/voxstream/pkg/runner"
	"github.com/harunnryd/voxstream/pkg/server"
	"github.com/harunnryd/voxstream/pkg/telemetry"
	"github.com/harunnryd/voxstream/pkg/voxstream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	Long: `Run the stream endpoint together with /metrics, /v1/metrics,
/v1/metrics/summary, /v1/activity and /healthz.

On SIGINT or SIGTERM new streams are refused with 503, in-flight streams
are given server.shutdown_timeout to finish, then the listener, observers
and tracer are closed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func serve(parent context.Context, cfg voxstream.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	logger := logging.InitLogger(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Options{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		ServiceName:  cfg.Telemetry.ServiceName,
		Environment:  cfg.Environment,
	}, logger)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	eng, err := voxstream.NewEngine(ctx, voxstream.EngineOptions{Config: cfg, Logger: logger})
	if err != nil {
		_ = shutdownTracing(context.Background())
		return err
	}
	eng.Start(ctx)
	srv := server.New(eng, logger)

	var listenErr error
	lifecycle := pipeline.NewRunner(eng.Registry(), runner.Hooks{
		OnStart: func() {
			go func() {
				if err := srv.ListenAndServe(ctx); err != nil {
					listenErr = err
					logger.Error("server stopped", "error", err)
					stop()
				}
			}()
		},
		OnStop: func(ctx context.Context) error {
			return errors.Join(
				srv.Shutdown(ctx),
				eng.Close(ctx),
				shutdownTracing(ctx),
			)
		},
	}, cfg.Server.ShutdownTimeout)

	err = lifecycle.Run(ctx)
	logger.Info("voxstream stopped", "state", lifecycle.State().String())
	if listenErr != nil {
		return listenErr
	}
	return err
}
