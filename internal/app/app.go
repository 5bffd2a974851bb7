// Package app wires all floodwatch subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, Reload applies
// hot-reloadable config changes, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithSources, WithCircuitStore, WithCacheStore). When an option is not
// provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/floodwatch/internal/budget"
	"github.com/MrWong99/floodwatch/internal/cache"
	"github.com/MrWong99/floodwatch/internal/config"
	"github.com/MrWong99/floodwatch/internal/fetch"
	"github.com/MrWong99/floodwatch/internal/health"
	"github.com/MrWong99/floodwatch/internal/mcp/bridge"
	"github.com/MrWong99/floodwatch/internal/observe"
	"github.com/MrWong99/floodwatch/internal/orchestrator"
	"github.com/MrWong99/floodwatch/internal/resilience"
	"github.com/MrWong99/floodwatch/internal/server"
	"github.com/MrWong99/floodwatch/internal/storage"
	"github.com/MrWong99/floodwatch/internal/survey"
	"github.com/MrWong99/floodwatch/internal/tools"
	"github.com/MrWong99/floodwatch/internal/tools/correlation"
	"github.com/MrWong99/floodwatch/internal/tools/floods"
	"github.com/MrWong99/floodwatch/internal/tools/forecast"
	"github.com/MrWong99/floodwatch/internal/tools/incidents"
	"github.com/MrWong99/floodwatch/internal/tools/rivers"
	"github.com/MrWong99/floodwatch/pkg/provider/flood"
	"github.com/MrWong99/floodwatch/pkg/provider/flood/ea"
	"github.com/MrWong99/floodwatch/pkg/provider/flood/ffc"
	"github.com/MrWong99/floodwatch/pkg/provider/llm"
	"github.com/MrWong99/floodwatch/pkg/provider/roads"
	"github.com/MrWong99/floodwatch/pkg/provider/roads/highways"
)

// Breaker names of the data providers.
const (
	BreakerFloods    = "ea-floods"
	BreakerRivers    = "ea-rivers"
	BreakerForecast  = "ffc-forecast"
	BreakerIncidents = "highways"
)

// sweepInterval is how often expired cache entries are removed.
const sweepInterval = 5 * time.Minute

// NamedProvider is one configured model backend.
type NamedProvider struct {
	Name     string
	Provider llm.Provider
}

// Providers holds the model backends. Populated by main.go via the config
// registry.
type Providers struct {
	LLM       NamedProvider
	Fallbacks []NamedProvider
}

// Sources holds one data provider per tool. A nil Incidents source leaves the
// highways tool unregistered.
type Sources struct {
	Warnings  flood.WarningSource
	Rivers    flood.RiverSource
	Forecast  flood.ForecastSource
	Incidents roads.IncidentSource
}

// App owns all subsystem lifetimes and serves the floodwatch API.
type App struct {
	cfg       atomic.Pointer[config.Config]
	providers *Providers
	sources   *Sources

	logger  *slog.Logger
	level   *slog.LevelVar
	metrics *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	pool         *pgxpool.Pool
	circuitStore resilience.Store
	breakers     *resilience.Breakers
	llm          *resilience.LLMFallback
	holder       *tools.Holder
	runner       *runner
	cacheStore   cache.Store
	service      *cache.Service
	surveyor     *survey.Surveyor
	bridge       *bridge.Bridge
	health       *health.Handler
	server       *server.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSources injects data providers instead of creating HTTP clients from
// config.
func WithSources(s Sources) Option {
	return func(a *App) { a.sources = &s }
}

// WithCircuitStore injects the shared circuit state store.
func WithCircuitStore(s resilience.Store) Option {
	return func(a *App) { a.circuitStore = s }
}

// WithCacheStore injects the result cache store.
func WithCacheStore(s cache.Store) Option {
	return func(a *App) { a.cacheStore = s }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithLevel hands the app the level of its logger so reloads can change it.
func WithLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithMetrics records metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// runner publishes the current orchestrator. Conversation settings are
// applied by swapping it; in-flight runs finish on the one they started with.
type runner struct {
	p atomic.Pointer[orchestrator.Orchestrator]
}

func (r *runner) Run(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error) {
	return r.p.Load().Run(ctx, req)
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM.Provider == nil {
		return nil, errors.New("app: an llm provider is required")
	}
	a := &App{
		providers: providers,
		logger:    slog.Default(),
	}
	a.cfg.Store(cfg)
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
	}

	// ── 1. Storage ───────────────────────────────────────────────────────
	if err := a.initStorage(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init storage: %w", err)
	}

	// ── 2. Circuit breakers ──────────────────────────────────────────────
	a.breakers = resilience.NewBreakers(resilience.Config{
		Disabled:         !cfg.CircuitBreaker.Enabled,
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		Cooldown:         cfg.CircuitBreaker.Cooldown,
	}, a.circuitStore,
		resilience.WithLogger(a.logger),
		resilience.WithOnOpen(func(name string) {
			a.metrics.RecordCircuitOpen(context.Background(), name)
		}),
	)

	// ── 3. Data providers ────────────────────────────────────────────────
	if a.sources == nil {
		a.sources = a.buildSources(cfg)
	}

	// ── 4. LLM with fallbacks ────────────────────────────────────────────
	a.llm = resilience.NewLLMFallback(a.breakers, providers.LLM.Name, providers.LLM.Provider)
	for _, fb := range providers.Fallbacks {
		a.llm.AddFallback(fb.Name, fb.Provider)
	}

	// ── 5. Tool registry ─────────────────────────────────────────────────
	reg, err := a.buildRegistry(cfg)
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: build tool registry: %w", err)
	}
	a.holder = tools.NewHolder(reg)

	// ── 6. Orchestrator ──────────────────────────────────────────────────
	a.runner = &runner{}
	a.runner.p.Store(a.buildOrchestrator(cfg))

	// ── 7. Result cache ──────────────────────────────────────────────────
	if a.cacheStore == nil {
		a.cacheStore = a.buildCacheStore(cfg)
	}
	a.service = cache.NewService(a.runner, a.cacheStore, cfg.Cache.TTL,
		cache.WithLogger(a.logger), cache.WithMetrics(a.metrics))

	// ── 8. Survey, MCP bridge, health, HTTP ──────────────────────────────
	a.surveyor = survey.New(a.holder, survey.WithCache(a.service), survey.WithLogger(a.logger))
	a.bridge = bridge.New(a.holder, bridge.WithRegion(cfg.Region.ID), bridge.WithLogger(a.logger))

	checks := []health.Checker{
		health.Loaded("tools", func() bool { return a.holder.Load() != nil }),
		health.OpenCircuits(a.OpenCircuits),
	}
	if a.pool != nil {
		checks = append(checks, health.PingCheck("postgres", a.pool))
	}
	a.health = health.New(checks...)

	a.server = server.New(a.service, a.surveyor,
		server.Region{ID: cfg.Region.ID, Latitude: cfg.Region.Latitude, Longitude: cfg.Region.Longitude},
		server.WithMCP(a.bridge.Handler()),
		server.WithMetricsHandler(observe.Handler()),
		server.WithHealth(a.health),
		server.WithLogger(a.logger),
		server.WithMetrics(a.metrics),
	)

	a.logger.Info("app initialised",
		"llm", a.llm.Names(),
		"tools", len(reg.Tools()),
		"circuit_store", cfg.CircuitBreaker.Store,
		"cache", cfg.Cache.Backend,
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStorage opens the PostgreSQL pool when a postgres backend is selected
// and not injected, then creates the tables it needs.
func (a *App) initStorage(ctx context.Context) error {
	cfg := a.Config()
	needCircuits := a.circuitStore == nil && cfg.CircuitBreaker.Store == config.StorePostgres
	needCache := a.cacheStore == nil && cfg.Cache.Backend == config.CachePostgres
	if !needCircuits && !needCache {
		return nil
	}
	if cfg.Storage.PostgresDSN == "" {
		return errors.New("storage.postgres_dsn is required for the postgres backends")
	}

	pool, err := storage.Open(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		return err
	}
	a.pool = pool
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})

	var migrators []storage.Migrator
	if needCircuits {
		s := resilience.NewPostgresStore(pool)
		a.circuitStore = s
		migrators = append(migrators, s)
	}
	if needCache {
		c := cache.NewPostgresCache(pool)
		a.cacheStore = c
		migrators = append(migrators, c)
	}
	return storage.MigrateAll(ctx, migrators...)
}

// buildSources creates the HTTP provider clients.
func (a *App) buildSources(cfg *config.Config) *Sources {
	client := func(name string, sc config.SourceConfig) *fetch.Client {
		return fetch.New(name, fetch.Config{
			Timeout:    sc.Timeout,
			Retries:    sc.Retries,
			RetryDelay: sc.RetryDelay,
		}, fetch.WithLogger(a.logger))
	}

	s := &Sources{
		Warnings: ea.New(client(BreakerFloods, cfg.Sources.Floods),
			ea.WithBaseURL(cfg.Sources.Floods.BaseURL), ea.WithLogger(a.logger)),
		Rivers: ea.New(client(BreakerRivers, cfg.Sources.Rivers),
			ea.WithBaseURL(cfg.Sources.Rivers.BaseURL), ea.WithLogger(a.logger)),
		Forecast: ffc.New(client(BreakerForecast, cfg.Sources.Forecast), cfg.Sources.Forecast.BaseURL),
	}
	if cfg.Sources.Incidents.BaseURL != "" {
		s.Incidents = highways.New(client(BreakerIncidents, cfg.Sources.Incidents), cfg.Sources.Incidents.BaseURL)
	} else {
		a.logger.Warn("sources.incidents.base_url is not set, road incidents are unavailable")
	}
	return s
}

func (a *App) upstream(name string) tools.Upstream {
	return tools.Upstream{
		Breaker: a.breakers.Get(name),
		Metrics: a.metrics,
		Logger:  a.logger,
	}
}

// buildRegistry creates the tool set for cfg. Data tools come before
// correlation-summary so declaration order matches the order they should be
// called in.
func (a *App) buildRegistry(cfg *config.Config) (*tools.Registry, error) {
	loc := tools.Location{
		Latitude:  cfg.Region.Latitude,
		Longitude: cfg.Region.Longitude,
		RadiusKm:  cfg.Region.RadiusKm,
	}

	var set []tools.Tool
	if a.sources.Warnings != nil {
		set = append(set, floods.New(a.sources.Warnings, a.upstream(BreakerFloods), loc))
	}
	if a.sources.Incidents != nil {
		set = append(set, incidents.New(a.sources.Incidents, a.upstream(BreakerIncidents), cfg.Region.ID))
	}
	if a.sources.Forecast != nil {
		set = append(set, forecast.New(a.sources.Forecast, a.upstream(BreakerForecast)))
	}
	if a.sources.Rivers != nil {
		set = append(set, rivers.New(a.sources.Rivers, a.upstream(BreakerRivers), loc))
	}
	set = append(set, correlation.New(cfg.Correlation, a.logger))

	b := budget.New(cfg.Conversation.MaxContextTokens, cfg.LLMLimits)
	return tools.NewRegistry(b, set, tools.WithMetrics(a.metrics), tools.WithLogger(a.logger))
}

func (a *App) buildOrchestrator(cfg *config.Config) *orchestrator.Orchestrator {
	return orchestrator.New(a.llm, a.holder,
		orchestrator.WithMaxIterations(cfg.Conversation.MaxIterations),
		orchestrator.WithTemperature(cfg.Conversation.Temperature),
		orchestrator.WithMaxTokens(cfg.Conversation.MaxTokens),
		orchestrator.WithSystemPrompt(cfg.Conversation.SystemPrompt),
		orchestrator.WithModelName(a.providers.LLM.Name),
		orchestrator.WithLogger(a.logger),
		orchestrator.WithMetrics(a.metrics),
	)
}

func (a *App) buildCacheStore(cfg *config.Config) cache.Store {
	switch cfg.Cache.Backend {
	case config.CacheNone:
		return cache.Nop{}
	default:
		return cache.NewMemoryCache()
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured address and sweeps the result cache until
// ctx is cancelled. It returns nil after a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	cfg := a.Config()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.server.ListenAndServe(ctx, cfg.Server.ListenAddr, cfg.Server.ShutdownTimeout)
	})
	g.Go(func() error {
		a.sweep(ctx)
		return nil
	})
	return g.Wait()
}

// sweep removes expired cache entries until ctx is done.
func (a *App) sweep(ctx context.Context) {
	switch c := a.cacheStore.(type) {
	case *cache.MemoryCache:
		c.RunSweeper(ctx, sweepInterval)
	case *cache.PostgresCache:
		t := time.NewTicker(sweepInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				n, err := c.Sweep(ctx)
				if err != nil {
					a.logger.Warn("cache sweep failed", "err", err)
					continue
				}
				a.logger.Debug("cache swept", "removed", n)
			}
		}
	}
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable parts of next. It is meant to be passed to
// [config.Watcher.OnChange]. Sections that need a restart are only logged.
func (a *App) Reload(old, next *config.Config) {
	d := config.Diff(old, next)
	if d.Empty() {
		return
	}

	if d.LogLevelChanged {
		if lvl, err := observe.ParseLevel(string(d.NewLogLevel)); err == nil {
			a.level.Set(lvl)
			a.logger.Info("log level changed", "level", d.NewLogLevel)
		}
	}

	// Reloaded config is not applied to restart-only sections, so the
	// stored config keeps the running values for those.
	applied := *a.Config()
	applied.Server.LogLevel = next.Server.LogLevel
	applied.LLMLimits = next.LLMLimits
	applied.Correlation = next.Correlation
	applied.Region = next.Region
	applied.Conversation = next.Conversation

	if d.ToolsChanged() {
		reg, err := a.buildRegistry(&applied)
		if err != nil {
			a.logger.Error("tool registry rebuild failed, keeping current tools", "err", err)
			return
		}
		a.holder.Swap(reg)
		a.logger.Info("tool registry reloaded",
			"limits", d.LimitsChanged, "correlation", d.CorrelationChanged, "region", d.RegionChanged)
	}
	if d.ConversationChanged {
		a.runner.p.Store(a.buildOrchestrator(&applied))
		a.logger.Info("conversation settings reloaded")
	}
	if len(d.RestartRequired) > 0 {
		a.logger.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
	a.cfg.Store(&applied)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Config returns the config currently in effect.
func (a *App) Config() *config.Config { return a.cfg.Load() }

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Tools returns the current tool registry.
func (a *App) Tools() *tools.Registry { return a.holder.Load() }

// Summary runs one conversation through the result cache.
func (a *App) Summary(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, bool, error) {
	if req.Region == "" {
		req.Region = a.Config().Region.ID
	}
	return a.service.Summary(ctx, req)
}

// Survey runs a quick survey. Zero coordinates select the configured region
// centre.
func (a *App) Survey(ctx context.Context, region string, lat, lon float64) (*survey.Result, error) {
	cfg := a.Config()
	if region == "" {
		region = cfg.Region.ID
	}
	if lat == 0 && lon == 0 {
		lat, lon = cfg.Region.Latitude, cfg.Region.Longitude
	}
	return a.surveyor.Run(ctx, region, lat, lon)
}

// OpenCircuits lists the breakers that are currently open.
func (a *App) OpenCircuits(ctx context.Context) []string {
	var open []string
	for name, st := range a.breakers.States(ctx) {
		if st == resilience.StateOpen {
			open = append(open, name)
		}
	}
	return open
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.logger.Warn("closer error", "index", i, "err", err)
			}
		}
		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases what New acquired before it failed.
func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
	a.closers = nil
}
