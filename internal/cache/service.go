package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/floodwatch/internal/observe"
	"github.com/MrWong99/floodwatch/internal/orchestrator"
)

// Runner executes one conversation. *orchestrator.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
}

// Service puts a [Store] in front of a [Runner]. Only finished runs built
// with every provider answering are written; cache errors are logged and
// treated as misses.
type Service struct {
	runner  Runner
	store   Store
	ttl     time.Duration
	logger  *slog.Logger
	metrics *observe.Metrics
}

// ServiceOption configures a [Service].
type ServiceOption func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithMetrics records lookups on m.
func WithMetrics(m *observe.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// NewService returns a caching wrapper around runner. A nil store disables
// caching; a non-positive ttl uses [DefaultTTL].
func NewService(runner Runner, store Store, ttl time.Duration, opts ...ServiceOption) *Service {
	if store == nil {
		store = Nop{}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Service{runner: runner, store: store, ttl: ttl, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SummaryKey is the fingerprint of a conversational request.
func SummaryKey(req orchestrator.Request) string {
	parts := []string{KindSummary, req.Region, req.Query}
	if req.Latitude != 0 || req.Longitude != 0 {
		parts = append(parts, coord(req.Latitude), coord(req.Longitude))
	}
	return Fingerprint(parts...)
}

// SurveyKey is the fingerprint of a quick survey.
func SurveyKey(region string, lat, lon float64) string {
	return Fingerprint(KindSurvey, region, coord(lat), coord(lon))
}

func coord(v float64) string { return fmt.Sprintf("%.3f", v) }

// Summary answers req from the cache when possible and runs the conversation
// otherwise. cached reports whether the result came from the store.
//
// Requests carrying history are follow-up turns of an ongoing conversation
// and always run.
func (s *Service) Summary(ctx context.Context, req orchestrator.Request) (res *orchestrator.Result, cached bool, err error) {
	if len(req.History) > 0 {
		res, err = s.runner.Run(ctx, req)
		return res, false, err
	}

	key := SummaryKey(req)
	if e, ok := s.Lookup(ctx, KindSummary, key); ok {
		return &orchestrator.Result{
			Narrative:   e.Narrative,
			ToolResults: e.ToolResults,
			CompletedAt: e.CompletedAt,
			Outcome:     orchestrator.OutcomeFinished,
		}, true, nil
	}

	res, err = s.runner.Run(ctx, req)
	if err != nil || res == nil || res.Outcome != orchestrator.OutcomeFinished {
		return res, false, err
	}
	if len(res.Degraded) > 0 {
		s.logger.Info("degraded result not cached", "kind", KindSummary, "degraded", res.Degraded)
		return res, false, nil
	}
	s.Store(ctx, key, Entry{
		Narrative:   res.Narrative,
		ToolResults: res.ToolResults,
		CompletedAt: res.CompletedAt,
	})
	return res, false, nil
}

// Lookup reads key from the store, recording the lookup under kind.
func (s *Service) Lookup(ctx context.Context, kind, key string) (Entry, bool) {
	e, ok, err := s.store.Get(ctx, key)
	if err != nil {
		s.logger.Warn("cache lookup failed", "kind", kind, "err", err)
		ok = false
	}
	if s.metrics != nil {
		s.metrics.RecordCacheLookup(ctx, kind, ok)
	}
	if ok {
		s.logger.Debug("cache hit", "kind", kind)
	}
	return e, ok
}

// Store writes e under key with the service TTL.
func (s *Service) Store(ctx context.Context, key string, e Entry) {
	if err := s.store.Put(ctx, key, e, s.ttl); err != nil {
		s.logger.Warn("cache write failed", "err", err)
	}
}
