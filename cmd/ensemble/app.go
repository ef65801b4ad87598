package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/sharnoff/ensemble"
	"github.com/sharnoff/ensemble/internal/config"
	"github.com/sharnoff/ensemble/internal/logger"
	"github.com/sharnoff/ensemble/internal/workload"
)

// Build information, set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const metricsShutdownTimeout = 5 * time.Second

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "ensemble",
		Usage:   "run the demo workloads until they finish or an interrupt arrives",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildTime),
		Flags:   flags(),
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"), overrides(c))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			log, err := logger.New(cfg.LoggerConfig())
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			return execute(c.Context, cfg, log, ensemble.OSInterrupt())
		},
	}
}

func flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to YAML configuration file",
			EnvVars: []string{"ENSEMBLE_CONFIG"},
		},
		&cli.DurationFlag{
			Name:  "delay",
			Usage: "How long each workload takes to complete",
		},
		&cli.StringSliceFlag{
			Name:  "cooperative",
			Usage: "Workloads that stop early on cancellation (configuration-updates, resource-metrics-report, scan-files)",
		},
		&cli.IntFlag{
			Name:  "max-concurrency",
			Usage: "Maximum number of workloads running at once (0 for unlimited)",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error",
		},
		&cli.StringFlag{
			Name:  "log-format",
			Usage: "Log format: json, text",
		},
		&cli.StringFlag{
			Name:  "metrics-addr",
			Usage: "Address to serve Prometheus metrics on while running (e.g. :9090)",
		},
	}
}

// overrides returns the configuration keys set explicitly by flags.
func overrides(c *cli.Context) map[string]any {
	m := make(map[string]any)
	if c.IsSet("delay") {
		m["tasks.delay"] = c.Duration("delay")
	}
	if c.IsSet("cooperative") {
		m["tasks.cooperative"] = c.StringSlice("cooperative")
	}
	if c.IsSet("max-concurrency") {
		m["run.limit"] = c.Int("max-concurrency")
	}
	if c.IsSet("log-level") {
		m["log.level"] = c.String("log-level")
	}
	if c.IsSet("log-format") {
		m["log.format"] = c.String("log-format")
	}
	if c.IsSet("metrics-addr") {
		m["metrics.addr"] = c.String("metrics-addr")
	}
	return m
}

// execute runs the demo workloads once, serving metrics alongside if configured.
func execute(ctx context.Context, cfg *config.Config, log *slog.Logger, interrupt ensemble.InterruptSource) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := ensemble.NewMetrics(reg)
	if err != nil {
		return err
	}

	var cooperative []workload.Kind
	for _, name := range cfg.Tasks.Cooperative {
		k, err := workload.ParseKind(name)
		if err != nil {
			return err
		}
		cooperative = append(cooperative, k)
	}

	o := ensemble.New(
		ensemble.WithInterruptSource(interrupt),
		ensemble.WithLogger(log),
		ensemble.WithMetrics(metrics),
		ensemble.WithMaxConcurrency(cfg.Run.Limit),
	)

	g, ctx := errgroup.WithContext(ctx)

	var server *http.Server
	if cfg.Metrics.Addr != "" {
		ln, err := net.Listen("tcp", cfg.Metrics.Addr)
		if err != nil {
			return fmt.Errorf("listen on metrics address: %w", err)
		}
		server = &http.Server{Handler: metricsHandler(reg)}

		log.Info("serving metrics", slog.String("addr", ln.Addr().String()))
		g.Go(func() error {
			if err := server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	var report ensemble.Report
	g.Go(func() error {
		if server != nil {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			}()
		}

		var err error
		report, err = o.Run(ctx, workload.Tasks(log, cfg.Tasks.Delay, cooperative)...)
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}

	switch report.Outcome {
	case ensemble.AllCompleted:
		log.Info("all done")
	case ensemble.CancelRequested:
		log.Info("cancellation task completed", slog.Any("abandoned", report.Orphaned))
	}
	if err := report.Err(); err != nil {
		log.Warn("some tasks failed", slog.Any("error", err))
	}
	return nil
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}
