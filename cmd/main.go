package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli"

	"github.com/angeloszaimis/healthprobe/config"
	"github.com/angeloszaimis/healthprobe/internal/handler"
	"github.com/angeloszaimis/healthprobe/internal/healthcheck"
	"github.com/angeloszaimis/healthprobe/internal/httpserver"
	"github.com/angeloszaimis/healthprobe/internal/metrics"
	"github.com/angeloszaimis/healthprobe/pkg/logger"
)

const (
	exitHealthy   = 0
	exitUnhealthy = 1
)

func main() {
	os.Exit(run(context.Background(), os.Args, os.Stdout))
}

// run executes the application and returns the process exit status.
func run(ctx context.Context, args []string, stdout io.Writer) int {
	exitCode := exitHealthy

	app := newApp(ctx, stdout, &exitCode)
	if err := app.Run(args); err != nil {
		slog.Error("healthprobe failed", slog.Any("err", err))
		return exitUnhealthy
	}

	return exitCode
}

func newApp(ctx context.Context, stdout io.Writer, exitCode *int) *cli.App {
	app := cli.NewApp()
	app.Name = "healthprobe"
	app.Usage = "Single-shot HTTP liveness check for container healthchecks"
	app.Writer = stdout
	app.HideVersion = true
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "host",
			Usage: "Override the configured host",
		},
		cli.IntFlag{
			Name:  "port",
			Usage: "Override the configured port",
		},
		cli.StringFlag{
			Name:  "path",
			Usage: "Override the health endpoint path",
		},
		cli.DurationFlag{
			Name:  "timeout",
			Usage: "Override the request timeout",
		},
	}
	app.Action = checkAction(ctx, stdout, exitCode)
	app.Commands = []cli.Command{
		{
			Name:  "serve",
			Usage: "Run the reference health target until interrupted",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "address",
					Usage: "Override the configured listen address",
				},
			},
			Action: serveAction(ctx, stdout),
		},
	}

	return app
}

func checkAction(ctx context.Context, stdout io.Writer, exitCode *int) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := config.LoadCheck()
		if err != nil {
			return err
		}

		log := logger.New(stdout, verdictLevel(cfg.Logging.Level), cfg.Logging.Format, cfg.Environment)

		var opts []healthcheck.Option
		if c.IsSet("host") {
			opts = append(opts, healthcheck.WithHost(c.String("host")))
		}
		if c.IsSet("port") {
			opts = append(opts, healthcheck.WithPort(c.Int("port")))
		}
		if c.IsSet("path") {
			opts = append(opts, healthcheck.WithPath(c.String("path")))
		}
		if c.IsSet("timeout") {
			cfg.Probe.Timeout = c.Duration("timeout").String()
		}

		checker := healthcheck.New(cfg.Probe, log)

		result, err := checker.Check(ctx, opts...)
		if err != nil {
			log.Error("Healthcheck error", slog.Any("err", err))
			*exitCode = exitUnhealthy
			return nil
		}

		*exitCode = result.Outcome.ExitCode()
		return nil
	}
}

func serveAction(ctx context.Context, stdout io.Writer) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		log := logger.New(stdout, cfg.Logging.Level, cfg.Logging.Format, cfg.Environment)

		addr := cfg.Serve.Address
		if c.IsSet("address") {
			addr = c.String("address")
		}

		ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		srv, health, err := newTargetServer(addr, log)
		if err != nil {
			log.Error("Failed to create server", slog.Any("err", err))
			return err
		}

		return runServer(ctx, srv, health, log)
	}
}

// verdictLevel keeps the verdict line visible: warn and error are lowered to
// info, debug stays as is.
func verdictLevel(level string) string {
	switch strings.ToLower(level) {
	case config.LogLevelWarn, config.LogLevelError:
		return config.LogLevelInfo
	default:
		return level
	}
}

func newTargetServer(addr string, log *slog.Logger) (*httpserver.Server, *handler.HealthHandler, error) {
	health := handler.NewHealthHandler(log)
	srv, err := httpserver.New(addr, setupRouter(health, metrics.New()))
	if err != nil {
		return nil, nil, err
	}
	return srv, health, nil
}

// runServer serves until ctx is done or the server fails. On shutdown the
// health endpoint reports fail before in-flight requests are drained.
func runServer(ctx context.Context, srv *httpserver.Server, health *handler.HealthHandler, log *slog.Logger) error {
	if err := srv.Listen(); err != nil {
		log.Error("Failed to bind health target", slog.Any("err", err))
		return err
	}

	log.Info("Health target listening", slog.String("addr", srv.Addr().String()))

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if health.SetHealthy(false) {
			log.Warn("Health target draining", slog.String("status", handler.StatusFail))
		}
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
			return err
		}
		return nil
	case err := <-srvErrCh:
		if err != nil {
			log.Error("Error serving health target", slog.Any("err", err))
		}
		return err
	}
}
