package web

import (
	"net/http"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/csvwizard/internal/core"
	"github.com/JonMunkholm/csvwizard/internal/logging"
	"github.com/JonMunkholm/csvwizard/internal/selection"
	"github.com/JonMunkholm/csvwizard/internal/web/views"
	"github.com/JonMunkholm/csvwizard/internal/wizard"
)

// render writes an HTML component with the given status.
func render(w http.ResponseWriter, r *http.Request, status int, c templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := c.Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Error("render page", "path", r.URL.Path, "error", err)
	}
}

// handleIndex renders the start page.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	render(w, r, http.StatusOK, views.Page("CSV wizard", views.Index(s.service.Count())))
}

// handleCreatePage opens a session from the start page form and redirects
// to it.
func (s *Server) handleCreatePage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.respondError(w, r, core.ErrInvalidRequest)
		return
	}
	flow, ok := wizard.ParseFlow(r.PostFormValue("flow"))
	if !ok {
		s.respondError(w, r, core.ErrUnknownFlow)
		return
	}
	sess, err := s.service.Create(core.WithClient(r.Context(), clientOf(r)), flow)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	http.Redirect(w, r, "/sessions/"+sess.ID(), http.StatusSeeOther)
}

// handleSessionPage renders a session at its current step.
func (s *Server) handleSessionPage(w http.ResponseWriter, r *http.Request) {
	sess, err := s.service.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	v := sess.View()
	var presets []views.Preset
	if v.Flow == wizard.FlowTransform {
		for _, p := range selection.Presets() {
			presets = append(presets, views.Preset{Key: p.Key, Label: p.Label})
		}
	}
	render(w, r, http.StatusOK, views.Page(views.Title(v.Flow), views.Session(v, presets, s.opts.Locate)))
}
