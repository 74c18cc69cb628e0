package httpx

import (
	"net/http"
	"strings"
	"time"

	"github.com/splax/pagesmith/internal/domain"
	"github.com/splax/pagesmith/internal/ws"
)

func (r *Router) handleLogs(w http.ResponseWriter, req *http.Request) {
	limit, offset := pagination(req)
	entries, err := r.logs.List(req.Context(), req.PathValue("id"), limit, offset)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.ProjectLog{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (r *Router) handleLogsWS(w http.ResponseWriter, req *http.Request) {
	projectID := strings.TrimSpace(req.URL.Query().Get("project_id"))
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "project_id query parameter required")
		return
	}
	hub := r.logs.Hub()
	if hub == nil {
		writeError(w, http.StatusServiceUnavailable, "log streaming unavailable")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	hub.Register(projectID, client)
	go func() {
		defer hub.Unregister(projectID, client)
		client.Serve()
	}()
}

// handleLogsSSE streams the same payloads as /ws/logs for clients that
// cannot open a WebSocket.
func (r *Router) handleLogsSSE(w http.ResponseWriter, req *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	hub := r.logs.Hub()
	if hub == nil {
		writeError(w, http.StatusServiceUnavailable, "log streaming unavailable")
		return
	}
	projectID := req.PathValue("id")
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	hub.Register(projectID, client)
	defer func() {
		hub.Unregister(projectID, client)
		client.Close()
	}()

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-client.Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}
