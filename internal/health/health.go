// Package health provides the /healthz and /readyz handlers.
//
// /healthz always answers 200 while the process serves HTTP. /readyz runs
// every registered [Checker]: a failing required check makes the instance
// unready (503); a failing optional check only marks it degraded (200). An
// open circuit to one data provider is the typical degraded state, since
// tools answer with empty data instead of failing.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Response statuses.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
)

// Checker is a named readiness probe.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error

	// Optional checks degrade readiness instead of failing it.
	Optional bool
}

// Response is the JSON body of both endpoints.
type Response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the health endpoints. The checker list is fixed at
// construction.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] evaluating checkers in order.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Response{Status: StatusOK})
}

// Readyz is the readiness probe.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := h.Evaluate(r.Context())
	status := http.StatusOK
	if res.Status == StatusFail {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Evaluate runs every checker and aggregates the outcome.
func (h *Handler) Evaluate(ctx context.Context) Response {
	res := Response{Status: StatusOK, Checks: make(map[string]string, len(h.checkers))}
	for _, c := range h.checkers {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c.Check(cctx)
		cancel()

		switch {
		case err == nil:
			res.Checks[c.Name] = StatusOK
		case c.Optional:
			res.Checks[c.Name] = StatusDegraded + ": " + err.Error()
			if res.Status == StatusOK {
				res.Status = StatusDegraded
			}
		default:
			res.Checks[c.Name] = StatusFail + ": " + err.Error()
			res.Status = StatusFail
		}
	}
	return res
}

// Register adds the routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Pinger is implemented by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck returns a required check that pings p.
func PingCheck(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// OpenCircuits returns an optional check that fails when open reports any
// open circuit. open lists the names of open circuits.
func OpenCircuits(open func(ctx context.Context) []string) Checker {
	return Checker{
		Name:     "circuits",
		Optional: true,
		Check: func(ctx context.Context) error {
			names := open(ctx)
			if len(names) == 0 {
				return nil
			}
			return fmt.Errorf("open: %s", strings.Join(names, ", "))
		},
	}
}

// Loaded returns a required check that fails until loaded reports true.
func Loaded(name string, loaded func() bool) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if !loaded() {
				return errors.New("not loaded")
			}
			return nil
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
