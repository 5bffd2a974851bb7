// Package survey runs the quick survey used by non-conversational callers
// such as the map: the independent data tools execute concurrently, then the
// correlation summary runs over their joined results. No model is involved.
package survey

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/floodwatch/internal/cache"
	"github.com/MrWong99/floodwatch/internal/observe"
	"github.com/MrWong99/floodwatch/internal/tools"
)

// DataTools are the tools fanned out concurrently.
var DataTools = []string{
	tools.NameFloodData,
	tools.NameHighwaysIncidents,
	tools.NameRiverLevels,
}

// Result is the full data of one survey.
type Result struct {
	ToolResults map[string]any `json:"tool_results"`
	CompletedAt time.Time      `json:"completed_at"`
	Cached      bool           `json:"cached"`
	Degraded    []string       `json:"degraded,omitempty"`
}

// Cache is the subset of [*cache.Service] used by the survey.
type Cache interface {
	Lookup(ctx context.Context, kind, key string) (cache.Entry, bool)
	Store(ctx context.Context, key string, e cache.Entry)
}

// Surveyor runs surveys against the current tool registry.
type Surveyor struct {
	registry *tools.Holder
	cache    Cache
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a [Surveyor].
type Option func(*Surveyor)

// WithCache reads and writes results through c.
func WithCache(c Cache) Option {
	return func(s *Surveyor) { s.cache = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Surveyor) { s.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Surveyor) { s.now = now }
}

// New returns a Surveyor.
func New(registry *tools.Holder, opts ...Option) *Surveyor {
	s := &Surveyor{registry: registry, logger: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run surveys the area around lat/lon in region. Tool failures degrade to
// empty data; tools missing from the registry are skipped.
func (s *Surveyor) Run(ctx context.Context, region string, lat, lon float64) (*Result, error) {
	key := cache.SurveyKey(region, lat, lon)
	if s.cache != nil {
		if e, ok := s.cache.Lookup(ctx, cache.KindSurvey, key); ok {
			return &Result{ToolResults: e.ToolResults, CompletedAt: e.CompletedAt, Cached: true}, nil
		}
	}

	ctx, span := observe.StartSurveySpan(ctx, region, lat, lon)
	defer span.End()

	reg := s.registry.Load()
	tc := tools.NewContext(region, lat, lon)

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range DataTools {
		g.Go(func() error {
			s.dispatch(gctx, reg, name, tc)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.dispatch(ctx, reg, tools.NameCorrelationSummary, tc)

	res := &Result{ToolResults: tc.Results(), CompletedAt: s.now(), Degraded: tc.Degraded()}
	s.logger.Info("survey completed", "region", region, "lat", lat, "lon", lon,
		"count", len(res.ToolResults), "degraded", res.Degraded)
	// A survey missing provider data is not cached, so it is retried once the
	// provider recovers.
	if s.cache != nil && len(res.Degraded) == 0 {
		s.cache.Store(ctx, key, cache.Entry{ToolResults: res.ToolResults, CompletedAt: res.CompletedAt})
	}
	return res, nil
}

func (s *Surveyor) dispatch(ctx context.Context, reg *tools.Registry, name string, tc *tools.Context) {
	if _, ok := reg.Lookup(name); !ok {
		s.logger.Debug("survey tool not registered", "tool", name)
		return
	}
	res, _, err := reg.Dispatch(ctx, name, "", tc)
	if err != nil {
		s.logger.Warn("survey tool rejected", "tool", name, "err", err)
		return
	}
	if res.Failed() {
		s.logger.Warn("survey tool failed", "tool", name, "err", res.Error)
		return
	}
	tc.Record(tools.ResultKey(name), res)
}
