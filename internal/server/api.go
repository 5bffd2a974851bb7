package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/floodwatch/internal/orchestrator"
	"github.com/MrWong99/floodwatch/pkg/provider/llm"
)

// summaryRequest is the body of POST /api/summary and the first websocket
// message.
type summaryRequest struct {
	Query     string        `json:"query"`
	Region    string        `json:"region,omitempty"`
	Latitude  *float64      `json:"latitude,omitempty"`
	Longitude *float64      `json:"longitude,omitempty"`
	History   []llm.Message `json:"history,omitempty"`
}

// summaryResponse is the caller-facing result.
type summaryResponse struct {
	Narrative   string               `json:"narrative"`
	ToolResults map[string]any       `json:"tool_results"`
	CompletedAt time.Time            `json:"completed_at"`
	Outcome     orchestrator.Outcome `json:"outcome"`
	Iterations  int                  `json:"iterations,omitempty"`
	Cached      bool                 `json:"cached"`
	Degraded    []string             `json:"degraded,omitempty"`
}

// errorResponse is returned for every non-2xx answer.
type errorResponse struct {
	Error      string    `json:"error"`
	Class      string    `json:"class,omitempty"`
	RetryAfter time.Time `json:"retry_after,omitzero"`
}

// toRequest validates r and fills defaults.
func (s *Server) toRequest(r summaryRequest) (orchestrator.Request, error) {
	q := strings.TrimSpace(r.Query)
	if q == "" {
		return orchestrator.Request{}, errors.New("query is required")
	}
	req := orchestrator.Request{
		Query:   q,
		Region:  r.Region,
		History: r.History,
	}
	if req.Region == "" {
		req.Region = s.region.ID
	}
	if (r.Latitude == nil) != (r.Longitude == nil) {
		return orchestrator.Request{}, errors.New("latitude and longitude must be given together")
	}
	if r.Latitude != nil {
		if err := checkCoords(*r.Latitude, *r.Longitude); err != nil {
			return orchestrator.Request{}, err
		}
		req.Latitude, req.Longitude = *r.Latitude, *r.Longitude
	}
	return req, nil
}

func checkCoords(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return fmt.Errorf("latitude %v is out of range", lat)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("longitude %v is out of range", lon)
	}
	return nil
}

func newSummaryResponse(res *orchestrator.Result, cached bool) summaryResponse {
	results := res.ToolResults
	if results == nil {
		results = map[string]any{}
	}
	return summaryResponse{
		Narrative:   res.Narrative,
		ToolResults: results,
		CompletedAt: res.CompletedAt,
		Outcome:     res.Outcome,
		Iterations:  res.Iterations,
		Cached:      cached,
		Degraded:    res.Degraded,
	}
}

// llmFailure maps a failed run onto a status code and body.
func llmFailure(err error) (int, errorResponse) {
	var le *orchestrator.LLMError
	if !errors.As(err, &le) {
		return http.StatusInternalServerError, errorResponse{Error: "internal error"}
	}
	body := errorResponse{Error: le.UserMessage(), Class: string(le.Class), RetryAfter: le.RetryAfter}
	if le.Class == orchestrator.ClassRateLimit {
		return http.StatusTooManyRequests, body
	}
	return http.StatusServiceUnavailable, body
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	var body summaryRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error()})
		return
	}
	req, err := s.toRequest(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	res, cached, err := s.summarizer.Summary(r.Context(), req)
	if err != nil {
		status, body := llmFailure(err)
		if !body.RetryAfter.IsZero() {
			w.Header().Set("Retry-After", retryAfterSeconds(body.RetryAfter))
		}
		s.logger.Warn("summary failed", "region", req.Region, "status", status, "err", err)
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, http.StatusOK, newSummaryResponse(res, cached))
}

func retryAfterSeconds(t time.Time) string {
	secs := int(time.Until(t).Seconds() + 0.5)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

func (s *Server) handleMapData(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, lon := s.region.Latitude, s.region.Longitude
	if v := q.Get("lat"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "lat must be a number"})
			return
		}
		lat = f
	}
	if v := q.Get("lon"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "lon must be a number"})
			return
		}
		lon = f
	}
	if err := checkCoords(lat, lon); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	region := q.Get("region")
	if region == "" {
		region = s.region.ID
	}

	res, err := s.surveyor.Run(r.Context(), region, lat, lon)
	if err != nil {
		s.logger.Warn("survey failed", "region", region, "err", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "survey could not be completed"})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encode response"}`, http.StatusInternalServerError)
	}
}
