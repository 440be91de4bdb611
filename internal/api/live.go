package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/avetisov/honeyshell/internal/capture"
)

// LiveHandler streams capture events to admin observers over WebSocket.
type LiveHandler struct {
	hub *capture.Hub
}

// NewLiveHandler creates a live event stream handler.
func NewLiveHandler(hub *capture.Hub) *LiveHandler {
	return &LiveHandler{hub: hub}
}

// ServeHTTP upgrades the connection and forwards hub events until the
// client disconnects. A slow client only loses events; it never blocks a
// session (the hub drops on full buffers).
func (h *LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "remote", r.RemoteAddr)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	slog.Info("Live observer connected", "remote", r.RemoteAddr)

	events, cancel := h.hub.Subscribe()
	defer cancel()

	ctx, stop := context.WithCancel(r.Context())
	defer stop()

	// Reads are discarded; they only surface client disconnects.
	go func() {
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				stop()
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				slog.Error("Failed to marshal live event", "error", err)
				continue
			}
			if err := ws.Write(ctx, websocket.MessageText, payload); err != nil {
				slog.Debug("Live observer write failed", "error", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
