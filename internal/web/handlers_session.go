package web

// handlers_session.go holds the flow-independent session endpoints and the
// helpers every action handler goes through.

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/csvwizard/internal/core"
	"github.com/JonMunkholm/csvwizard/internal/history"
	"github.com/JonMunkholm/csvwizard/internal/logging"
	"github.com/JonMunkholm/csvwizard/internal/selection"
	"github.com/JonMunkholm/csvwizard/internal/wizard"
)

// defaultHistoryLimit is used when /api/history has no limit parameter.
const defaultHistoryLimit = 50

// presetResponse is a preset as listed by /api/presets.
type presetResponse struct {
	Key     string   `json:"key"`
	Label   string   `json:"label"`
	Columns []string `json:"columns"`
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

// session looks up the session named by the {id} route parameter.
func (s *Server) session(r *http.Request) (*core.Session, error) {
	return s.service.Get(chi.URLParam(r, "id"))
}

// wrongFlow is returned when an action targets a session of another flow.
func wrongFlow(sess *core.Session, want wizard.Flow) error {
	return fmt.Errorf("%w: session %s runs the %s wizard, not %s",
		wizard.ErrWrongState, sess.ID(), sess.Kind(), want)
}

// act runs fn for the session and answers with the resulting view.
func (s *Server) act(w http.ResponseWriter, r *http.Request, sess *core.Session, action string, fn func() error) {
	logger := logging.ForSession(r.Context(), sess.ID(), string(sess.Kind()))
	logger.Debug("wizard action", "action", action)

	if err := fn(); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

// handleCreateSession opens a session for the requested flow.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decode(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	flow, ok := wizard.ParseFlow(req.Flow)
	if !ok {
		s.respondError(w, r, core.ErrUnknownFlow)
		return
	}

	sess, err := s.service.Create(core.WithClient(r.Context(), clientOf(r)), flow)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/sessions/"+sess.ID())
	writeJSON(w, http.StatusCreated, sess.View())
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.List())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

// handleCloseSession stops the session's task tracking and forgets it.
func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Close(chi.URLParam(r, "id")); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBack(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.act(w, r, sess, "back", sess.Back)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.act(w, r, sess, "reset", func() error {
		sess.Reset()
		return nil
	})
}

// handleListPresets lists the transform presets.
func (s *Server) handleListPresets(w http.ResponseWriter, r *http.Request) {
	presets := selection.Presets()
	out := make([]presetResponse, 0, len(presets))
	for _, p := range presets {
		out = append(out, presetResponse{Key: p.Key, Label: p.Label, Columns: p.Columns})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleHistory lists recorded task outcomes, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := min(parseIntParam(r, "limit", defaultHistoryLimit), history.MaxRecent)
	runs, err := s.service.Recent(r.Context(), limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if runs == nil {
		runs = []history.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}
