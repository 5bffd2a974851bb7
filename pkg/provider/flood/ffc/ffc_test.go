package ffc

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/floodwatch/internal/fetch"
)

const statementJSON = `{
  "statement": {
    "issued_at": "2026-01-15T10:30:00Z",
    "public_forecast": {"england_forecast": " Significant river flooding is possible in Yorkshire. "},
    "flood_risk_trend": {"day1": "increasing", "day2": "stable", "day3": "decreasing", "extra_info": null},
    "sources": [
      {"river": "River flooding impacts are probable."},
      {"coastal": "Minor coastal impacts possible.", "surface": ""}
    ]
  }
}`

func TestForecast(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, statementJSON)
	}))
	defer srv.Close()

	got, err := New(fetch.New("ffc", fetch.Config{Retries: -1}), srv.URL).Forecast(context.Background())
	if err != nil {
		t.Fatalf("Forecast: %v", err)
	}
	if got.Narrative != "Significant river flooding is possible in Yorkshire." {
		t.Errorf("Narrative = %q", got.Narrative)
	}
	if got.IssuedAt.IsZero() {
		t.Error("IssuedAt not parsed")
	}
	if len(got.Trend) != 3 || got.Trend["day1"] != "increasing" {
		t.Errorf("Trend = %v", got.Trend)
	}
	if len(got.Sources) != 2 {
		t.Fatalf("Sources = %+v, want 2 non-empty", got.Sources)
	}
	if got.Sources[0].Source != "river" || got.Sources[1].Source != "coastal" {
		t.Errorf("Sources order = %+v", got.Sources)
	}
	if got.IsZero() {
		t.Error("forecast should not be zero")
	}
}

type failingFetcher struct{}

func (failingFetcher) GetJSON(context.Context, string, any) error { return errors.New("boom") }

func TestForecast_Error(t *testing.T) {
	t.Parallel()
	c := New(failingFetcher{}, "")
	if c.url != DefaultURL {
		t.Errorf("url = %q, want default", c.url)
	}
	if _, err := c.Forecast(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
