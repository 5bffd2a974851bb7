package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/floodwatch/internal/orchestrator"
)

// streamTimeout bounds one websocket conversation.
const streamTimeout = 5 * time.Minute

// Frame types sent on /ws/summary.
const (
	FrameEvent  = "event"
	FrameResult = "result"
	FrameError  = "error"
)

// frame is one websocket message from server to client.
type frame struct {
	Type   string              `json:"type"`
	Event  *orchestrator.Event `json:"event,omitempty"`
	Result *summaryResponse    `json:"result,omitempty"`
	Error  *errorResponse      `json:"error,omitempty"`
}

// handleStream accepts a websocket, reads one request and streams the run.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", "err", err)
		return
	}
	log := s.logger.With("stream_id", uuid.NewString())
	defer conn.CloseNow()
	conn.SetReadLimit(maxBodyBytes)

	if s.instrument != nil {
		s.instrument.ActiveStreams.Add(r.Context(), 1)
		defer s.instrument.ActiveStreams.Add(context.WithoutCancel(r.Context()), -1)
	}

	ctx, cancel := context.WithTimeout(r.Context(), streamTimeout)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		log.Debug("websocket closed before request", "err", err)
		return
	}
	var body summaryRequest
	if err := json.Unmarshal(data, &body); err != nil {
		send(ctx, log, conn, frame{Type: FrameError, Error: &errorResponse{Error: "invalid JSON message: " + err.Error()}})
		conn.Close(websocket.StatusUnsupportedData, "invalid request")
		return
	}
	req, err := s.toRequest(body)
	if err != nil {
		send(ctx, log, conn, frame{Type: FrameError, Error: &errorResponse{Error: err.Error()}})
		conn.Close(websocket.StatusPolicyViolation, "invalid request")
		return
	}

	// Events are emitted synchronously on this goroutine.
	req.Observer = func(e orchestrator.Event) {
		send(ctx, log, conn, frame{Type: FrameEvent, Event: &e})
	}

	res, cached, err := s.summarizer.Summary(ctx, req)
	if err != nil {
		_, body := llmFailure(err)
		send(ctx, log, conn, frame{Type: FrameError, Error: &body})
		conn.Close(websocket.StatusTryAgainLater, body.Class)
		return
	}
	out := newSummaryResponse(res, cached)
	send(ctx, log, conn, frame{Type: FrameResult, Result: &out})
	conn.Close(websocket.StatusNormalClosure, "done")
}

func send(ctx context.Context, log *slog.Logger, conn *websocket.Conn, f frame) {
	data, err := json.Marshal(f)
	if err != nil {
		log.Error("websocket frame encode failed", "type", f.Type, "err", err)
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil && !errors.Is(err, context.Canceled) {
		log.Debug("websocket write failed", "type", f.Type, "err", err)
	}
}
