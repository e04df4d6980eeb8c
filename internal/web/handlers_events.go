package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/csvwizard/internal/logging"
	"github.com/JonMunkholm/csvwizard/internal/wizard"
)

// heartbeatInterval keeps idle event streams open through proxies.
var heartbeatInterval = 15 * time.Second

// handleEvents streams session views via Server-Sent Events.
//
// Every view carries its sequence number as the event ID, so a client that
// reconnects with Last-Event-ID (or ?lastEventId=) only receives views newer
// than the last one it saw. Views are coalesced: a burst of changes yields
// one event with the latest state. A "closed" event ends the stream when the
// session goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.service.Get(id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, r, fmt.Errorf("streaming not supported"))
		return
	}

	lastID := r.Header.Get("Last-Event-ID")
	if lastID == "" {
		lastID = r.URL.Query().Get("lastEventId")
	}
	var (
		last uint64
		seen bool
	)
	if lastID != "" {
		if n, err := strconv.ParseUint(lastID, 10, 64); err == nil {
			last, seen = n, true
		}
	}

	changed := make(chan struct{}, 1)
	dispose := sess.Subscribe(func(wizard.Event) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer dispose()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	logger := logging.ForSession(r.Context(), id, string(sess.Kind()))
	logger.Debug("event stream opened", "last_event_id", last)

	send := func() {
		v := sess.View()
		if seen && v.Seq <= last {
			return
		}
		data, err := json.Marshal(v)
		if err != nil {
			logger.Error("encode view", "error", err)
			return
		}
		fmt.Fprintf(w, "id: %d\nevent: view\ndata: %s\n\n", v.Seq, data)
		flusher.Flush()
		last, seen = v.Seq, true
	}
	closed := func() bool {
		if _, err := s.service.Get(id); err == nil {
			return false
		}
		fmt.Fprintf(w, "event: closed\ndata: {}\n\n")
		flusher.Flush()
		logger.Debug("event stream closed by session end")
		return true
	}

	send()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-changed:
			if closed() {
				return
			}
			send()
		case <-heartbeat.C:
			if closed() {
				return
			}
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}
