package serve

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/operator-framework/omps/pkg/config"
	"github.com/operator-framework/omps/pkg/koji"
	"github.com/operator-framework/omps/pkg/lib/graceful"
	"github.com/operator-framework/omps/pkg/lib/log"
	"github.com/operator-framework/omps/pkg/metrics"
	"github.com/operator-framework/omps/pkg/policy"
	"github.com/operator-framework/omps/pkg/publish"
	"github.com/operator-framework/omps/pkg/quay"
	"github.com/operator-framework/omps/pkg/server"
)

const (
	configFlag = "config"

	shutdownTimeout = 30 * time.Second
)

func NewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "serve the omps HTTP API",
		Long:  `serve the omps HTTP API that publishes operator manifests to the application registry`,
		Args:  cobra.NoArgs,
		RunE:  serveFunc,
	}

	cmd.Flags().StringP(configFlag, "c", os.Getenv(config.EnvConfigFile), "path to the configuration file")
	cmd.Flags().StringP("termination-log", "t", "/dev/termination-log", "path to a container termination log file")
	cmd.Flags().String("scratch-dir", "", "directory for per-request scratch space, the system temp dir when empty")
	return cmd
}

func serveFunc(cmd *cobra.Command, _ []string) error {
	logger := logrus.New()
	logger.SetLevel(logrus.GetLevel())

	// Immediately set up termination log
	terminationLogPath, err := cmd.Flags().GetString("termination-log")
	if err != nil {
		return err
	}
	if err := log.AddDefaultWriterHooks(logger, terminationLogPath); err != nil {
		logger.WithError(err).Warn("unable to set termination log path")
	}

	path, err := cmd.Flags().GetString(configFlag)
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if debug, _ := cmd.Flags().GetBool("debug"); !debug {
		logger.SetLevel(cfg.Level())
	}
	scratchDir, err := cmd.Flags().GetString("scratch-dir")
	if err != nil {
		return err
	}

	srv, err := newServer(cfg, scratchDir, logger)
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return err
	}
	entry := logger.WithField("address", lis.Addr().String())

	httpServer := &http.Server{
		Handler:           srv,
		ReadHeaderTimeout: cfg.RequestTimeout,
	}

	entry.Info("serving omps")
	return graceful.Shutdown(entry, shutdownTimeout, func() error {
		if err := httpServer.Serve(lis); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}, func(ctx context.Context) error {
		defer srv.Close()
		return httpServer.Shutdown(ctx)
	})
}

func newServer(cfg *config.Config, scratchDir string, logger *logrus.Logger) (*server.Server, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics.Register(reg)
	metrics.SetOrganizations(cfg.Organizations())

	httpClient := &http.Client{Timeout: cfg.RequestTimeout}
	registry := quay.NewClient(cfg.QuayURL, httpClient, logger)
	builds, err := koji.Dial(cfg.KojiHubURL, cfg.KojiRootURL, cfg.RequestTimeout, logger)
	if err != nil {
		return nil, err
	}

	services := map[string]server.Pinger{
		"koji":      builds,
		"quay":      registry,
		"greenwave": nil,
	}

	var gate *policy.Gate
	if cfg.Greenwave != nil {
		gw := policy.NewGreenwave(cfg.Greenwave.URL, cfg.Greenwave.ProductVersion, httpClient)
		gate = policy.NewGate(gw, cfg.Greenwave.Context, logger)
		services["greenwave"] = gw
	}

	return server.New(server.Options{
		Publisher: publish.NewPublisher(registry, gate, cfg, cfg.DefaultReleaseVersion,
			publish.WithLogger(logger),
			publish.WithScratchDir(scratchDir),
		),
		Remover:             publish.NewRemover(registry, logger),
		Builds:              builds,
		Services:            services,
		MaxContentLength:    cfg.MaxContentLength,
		MaxUncompressedSize: cfg.ZipfileMaxUncompressedSize,
		PingTimeout:         cfg.RequestTimeout,
		Gatherer:            reg,
		Logger:              logger,
	}), nil
}
