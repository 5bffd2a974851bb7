package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/MrWong99/floodwatch/internal/app"
	"github.com/MrWong99/floodwatch/internal/config"
	"github.com/MrWong99/floodwatch/internal/observe"
	"github.com/MrWong99/floodwatch/internal/orchestrator"
)

// env is what every command needs before it can do work.
type env struct {
	path   string
	cfg    *config.Config
	logger *slog.Logger
	level  *slog.LevelVar
}

// setup loads the config named by the --config flag and builds the root
// logger. Command output goes to stdout, so logs go to stderr.
func setup(cmd *cli.Command) (*env, error) {
	path := cmd.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %q not found", path)
		}
		return nil, err
	}

	level := new(slog.LevelVar)
	lvl, err := observe.ParseLevel(string(cfg.Server.LogLevel))
	if err != nil {
		return nil, err
	}
	level.Set(lvl)
	logger, err := observe.NewLogger(os.Stderr, string(cfg.Server.LogFormat), level)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return &env{path: path, cfg: cfg, logger: logger, level: level}, nil
}

// newApp creates the model providers from config and wires the application.
func (e *env) newApp(ctx context.Context) (*app.App, error) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := buildProviders(e.cfg, reg)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, e.cfg, providers, app.WithLogger(e.logger), app.WithLevel(e.level))
}

func serve(ctx context.Context, cmd *cli.Command) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			e.logger.Warn("telemetry shutdown error", "err", err)
		}
	}()

	application, err := e.newApp(ctx)
	if err != nil {
		return fmt.Errorf("initialise application: %w", err)
	}

	watcher, err := config.NewWatcher(e.path, application.Reload, config.WithLogger(e.logger))
	if err != nil {
		e.logger.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	e.logger.Info("floodwatch starting",
		"config", e.path,
		"listen_addr", e.cfg.Server.ListenAddr,
		"region", e.cfg.Region.ID,
		"log_level", e.cfg.Server.LogLevel,
	)

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		e.logger.Error("run error", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), e.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	e.logger.Info("goodbye")
	return nil
}

func summary(ctx context.Context, cmd *cli.Command) error {
	query := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if query == "" {
		return errors.New("summary: a question is required")
	}
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	application, err := e.newApp(ctx)
	if err != nil {
		return err
	}
	defer application.Shutdown(context.Background())

	req := orchestrator.Request{
		Query:     query,
		Region:    cmd.String("region"),
		Latitude:  cmd.Float("lat"),
		Longitude: cmd.Float("lon"),
	}
	res, _, err := application.Summary(ctx, req)
	if res != nil {
		if werr := writeJSON(cmd.Root().Writer, res); werr != nil {
			return werr
		}
	}
	return err
}

func surveyCmd(ctx context.Context, cmd *cli.Command) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	application, err := e.newApp(ctx)
	if err != nil {
		return err
	}
	defer application.Shutdown(context.Background())

	res, err := application.Survey(ctx, cmd.String("region"), cmd.Float("lat"), cmd.Float("lon"))
	if err != nil {
		return err
	}
	return writeJSON(cmd.Root().Writer, res)
}

func migrate(ctx context.Context, cmd *cli.Command) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := app.Migrate(ctx, e.cfg); err != nil {
		return err
	}
	e.logger.Info("migrations applied")
	return nil
}

// listTools prints the declarations of the configured tool set. It does not
// need a reachable model, so the mock provider stands in for the configured
// one.
func listTools(ctx context.Context, cmd *cli.Command) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	e.cfg.Providers = config.ProvidersConfig{LLM: config.ProviderEntry{Name: "mock"}}
	e.cfg.CircuitBreaker.Store = config.StoreMemory
	e.cfg.Cache.Backend = config.CacheNone
	application, err := e.newApp(ctx)
	if err != nil {
		return err
	}
	defer application.Shutdown(context.Background())
	return writeJSON(cmd.Root().Writer, application.Tools().Definitions())
}

func writeJSON(w io.Writer, v any) error {
	if w == nil {
		w = os.Stdout
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
