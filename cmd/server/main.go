package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"kjandoc-demoware/api/rest/routes"
	"kjandoc-demoware/config"
	"kjandoc-demoware/core/executor"
	"kjandoc-demoware/core/models"
	"kjandoc-demoware/core/monitoring"
	"kjandoc-demoware/core/repository"
	"kjandoc-demoware/providers/aws"
	"kjandoc-demoware/storage"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configFile string
		port       string
	)

	cmd := &cobra.Command{
		Use:           "demoware [port]",
		Short:         "Serve the kjandoc demo front-end",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if len(args) == 1 {
				port = args[0]
			}
			if port != "" {
				if _, err := strconv.Atoi(port); err != nil {
					return fmt.Errorf("invalid port %q", port)
				}
				cfg.ServerPort = port
			}

			logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			if err := run(cmd.Context(), cfg, logger); err != nil {
				logger.WithError(err).Error("Server stopped with error")
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path (yaml)")
	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port (overrides config)")
	return cmd
}

func newLogger(level, format string) (*logrus.Logger, error) {
	logger := logrus.New()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	logger.SetLevel(lvl)

	switch format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	return logger, nil
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for _, dir := range []string{cfg.UploadDir, cfg.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	registry := repository.NewJobRegistry()
	uploads := storage.NewUploadStore(cfg.UploadDir, logger)
	metrics := monitoring.NewMetricsExporter(registry)

	var opts []executor.Option
	if cfg.Artifacts.S3Bucket != "" {
		publisher, err := aws.NewClient(ctx, cfg.Artifacts.AWSRegion, cfg.Artifacts.S3Bucket, cfg.Artifacts.S3Prefix, logger)
		if err != nil {
			return fmt.Errorf("failed to initialise artifact publisher: %w", err)
		}
		opts = append(opts, executor.WithPublisher(publisher))
		logger.WithField("bucket", cfg.Artifacts.S3Bucket).Info("Publishing finished decks to S3")
	}

	mergeExecutor := executor.NewMergeExecutor(registry, uploads, executor.Config{
		OutputDir: cfg.OutputDir,
		Timeout:   cfg.MergeTimeout,
		Binaries: map[models.MergeMode]string{
			models.MergeModeRender:       cfg.RenderBinary,
			models.MergeModeSameTemplate: cfg.SameTemplateBinary,
		},
	}, logger, opts...)

	if err := checkTools(mergeExecutor, logger); err != nil {
		return err
	}

	r := mux.NewRouter()
	routes.SetupRoutes(r, routes.Dependencies{
		Uploads:     uploads,
		Executor:    mergeExecutor,
		Metrics:     metrics,
		Logger:      logger,
		WebDir:      cfg.WebDir,
		OutputDir:   cfg.OutputDir,
		CORSOrigins: cfg.CORSOrigins,
	})

	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"port":    cfg.ServerPort,
			"web_dir": cfg.WebDir,
			"timeout": cfg.MergeTimeout,
		}).Info("Starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed to start: %w", err)
		}
		return nil
	case sig := <-quit:
		logger.WithField("signal", sig.String()).Info("Shutting down server...")
	case <-ctx.Done():
		logger.Info("Shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if err := mergeExecutor.Wait(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Merge jobs still running at exit")
	}
	logger.Info("Server exited")
	return nil
}

// checkTools fails when the render tool is missing; same-template is optional.
func checkTools(e *executor.MergeExecutor, logger logrus.FieldLogger) error {
	path, err := e.LookupTool(models.MergeModeRender)
	if err != nil {
		return err
	}
	logger.WithField("path", path).Info("Found render tool")

	if path, err := e.LookupTool(models.MergeModeSameTemplate); err != nil {
		logger.WithError(err).Warn("same-template mode will be unavailable")
	} else {
		logger.WithField("path", path).Info("Found same-template tool")
	}
	return nil
}
