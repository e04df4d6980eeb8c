package web

// handlers_wizard.go maps the per-flow wizard actions onto the controllers.
// Each handler resolves the session, checks its flow and answers with the
// view after the action.

import (
	"net/http"

	"github.com/JonMunkholm/csvwizard/internal/core"
	"github.com/JonMunkholm/csvwizard/internal/wizard"
)

func (s *Server) transform(w http.ResponseWriter, r *http.Request) (*core.Session, *wizard.TransformController, bool) {
	sess, err := s.session(r)
	if err != nil {
		s.respondError(w, r, err)
		return nil, nil, false
	}
	c, ok := sess.Transform()
	if !ok {
		s.respondError(w, r, wrongFlow(sess, wizard.FlowTransform))
		return nil, nil, false
	}
	return sess, c, true
}

func (s *Server) export(w http.ResponseWriter, r *http.Request) (*core.Session, *wizard.ExportController, bool) {
	sess, err := s.session(r)
	if err != nil {
		s.respondError(w, r, err)
		return nil, nil, false
	}
	c, ok := sess.Export()
	if !ok {
		s.respondError(w, r, wrongFlow(sess, wizard.FlowExport))
		return nil, nil, false
	}
	return sess, c, true
}

func (s *Server) dedup(w http.ResponseWriter, r *http.Request) (*core.Session, *wizard.DedupController, bool) {
	sess, err := s.session(r)
	if err != nil {
		s.respondError(w, r, err)
		return nil, nil, false
	}
	c, ok := sess.Dedup()
	if !ok {
		s.respondError(w, r, wrongFlow(sess, wizard.FlowDedup))
		return nil, nil, false
	}
	return sess, c, true
}

// Transform

func (s *Server) handleToggleField(w http.ResponseWriter, r *http.Request) {
	sess, c, ok := s.transform(w, r)
	if !ok {
		return
	}
	s.act(w, r, sess, "toggle field", func() error {
		var req toggleRequest
		if err := decode(w, r, &req); err != nil {
			return err
		}
		return c.ToggleField(req.Name, *req.On)
	})
}

func (s *Server) handleToggleAll(w http.ResponseWriter, r *http.Request) {
	sess, c, ok := s.transform(w, r)
	if !ok {
		return
	}
	s.act(w, r, sess, "toggle all", func() error {
		_, err := c.ToggleAll()
		return err
	})
}

func (s *Server) handleApplyPreset(w http.ResponseWriter, r *http.Request) {
	sess, c, ok := s.transform(w, r)
	if !ok {
		return
	}
	s.act(w, r, sess, "apply preset", func() error {
		var req presetRequest
		if err := decode(w, r, &req); err != nil {
			return err
		}
		return c.ApplyPreset(req.Key)
	})
}

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	sess, c, ok := s.transform(w, r)
	if !ok {
		return
	}
	s.act(w, r, sess, "filter", func() error {
		var req filterRequest
		if err := decode(w, r, &req); err != nil {
			return err
		}
		return c.Filter(req.Term)
	})
}

// handleContinue leaves field selection for the reorder step, or for the
// preview when only mandatory fields are selected.
func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request) {
	sess, c, ok := s.transform(w, r)
	if !ok {
		return
	}
	s.act(w, r, sess, "continue", func() error {
		return c.Continue(r.Context())
	})
}

func (s *Server) handleBeginMove(w http.ResponseWriter, r *http.Request) {
	sess, c, ok := s.transform(w, r)
	if !ok {
		return
	}
	s.act(w, r, sess, "begin move", func() error {
		var req moveRequest
		if err := decode(w, r, &req); err != nil {
			return err
		}
		_, err := c.BeginMove(req.Item)
		return err
	})
}

// handleConsiderDrop relocates the moving item when the pointer crosses the
// target's midpoint.
func (s *Server) handleConsiderDrop(w http.ResponseWriter, r *http.Request) {
	sess, c, ok := s.transform(w, r)
	if !ok {
		return
	}
	s.act(w, r, sess, "consider drop", func() error {
		var req dropRequest
		if err := decode(w, r, &req); err != nil {
			return err
		}
		_, err := c.ConsiderDrop(req.PointerY, req.Target, req.Box)
		return err
	})
}

func (s *Server) handleEndMove(w http.ResponseWriter, r *http.Request) {
	sess, c, ok := s.transform(w, r)
	if !ok {
		return
	}
	s.act(w, r, sess, "end move", c.EndMove)
}

// handleConfirmOrder replaces the order wholesale and refreshes the preview.
func (s *Server) handleConfirmOrder(w http.ResponseWriter, r *http.Request) {
	sess, c, ok := s.transform(w, r)
	if !ok {
		return
	}
	s.act(w, r, sess, "confirm order", func() error {
		var req orderRequest
		if err := decode(w, r, &req); err != nil {
			return err
		}
		return c.ConfirmOrder(r.Context(), req.Order)
	})
}

func (s *Server) handleTransformProcess(w http.ResponseWriter, r *http.Request) {
	sess, c, ok := s.transform(w, r)
	if !ok {
		return
	}
	s.act(w, r, sess, "process", func() error {
		return c.Process(r.Context())
	})
}

// Export

func (s *Server) handleToggleCategory(w http.ResponseWriter, r *http.Request) {
	sess, c, ok := s.export(w, r)
	if !ok {
		return
	}
	s.act(w, r, sess, "toggle category", func() error {
		var req categoryRequest
		if err := decode(w, r, &req); err != nil {
			return err
		}
		return c.ToggleCategory(req.Key, *req.On)
	})
}

func (s *Server) handleToggleItem(w http.ResponseWriter, r *http.Request) {
	sess, c, ok := s.export(w, r)
	if !ok {
		return
	}
	s.act(w, r, sess, "toggle item", func() error {
		var req itemRequest
		if err := decode(w, r, &req); err != nil {
			return err
		}
		return c.ToggleItem(req.Key, req.Item, *req.On)
	})
}

func (s *Server) handleStartExport(w http.ResponseWriter, r *http.Request) {
	sess, c, ok := s.export(w, r)
	if !ok {
		return
	}
	s.act(w, r, sess, "start export", func() error {
		return c.StartExport(r.Context())
	})
}

// Dedup

func (s *Server) handleToggleColumn(w http.ResponseWriter, r *http.Request) {
	sess, c, ok := s.dedup(w, r)
	if !ok {
		return
	}
	s.act(w, r, sess, "toggle column", func() error {
		var req toggleRequest
		if err := decode(w, r, &req); err != nil {
			return err
		}
		return c.ToggleColumn(req.Name, *req.On)
	})
}

func (s *Server) handleDedupPreview(w http.ResponseWriter, r *http.Request) {
	sess, c, ok := s.dedup(w, r)
	if !ok {
		return
	}
	s.act(w, r, sess, "preview", func() error {
		return c.Preview(r.Context())
	})
}

func (s *Server) handleDedupProcess(w http.ResponseWriter, r *http.Request) {
	sess, c, ok := s.dedup(w, r)
	if !ok {
		return
	}
	s.act(w, r, sess, "process", func() error {
		return c.Process(r.Context())
	})
}

func (s *Server) handleBackToUpload(w http.ResponseWriter, r *http.Request) {
	sess, c, ok := s.dedup(w, r)
	if !ok {
		return
	}
	s.act(w, r, sess, "back to upload", c.BackToUpload)
}
