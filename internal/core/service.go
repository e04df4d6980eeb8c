package core

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/csvwizard/internal/history"
	"github.com/JonMunkholm/csvwizard/internal/logging"
	"github.com/JonMunkholm/csvwizard/internal/wizard"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrTooManySessions = errors.New("too many active sessions")
	ErrUnknownFlow     = errors.New("unknown wizard flow")
	ErrShuttingDown    = errors.New("service is shutting down")
	ErrInvalidRequest  = errors.New("invalid request")
)

// RecordTimeout bounds one history insert.
var RecordTimeout = 5 * time.Second

// Config tunes the session service. Zero values disable the matching limit.
type Config struct {
	MaxSessions  int
	IdleTimeout  time.Duration
	PollInterval time.Duration
}

// Service owns the live wizard sessions.
type Service struct {
	backend  wizard.Backend
	limiter  *UploadLimiter
	recorder history.Recorder
	notifier wizard.Notifier
	cfg      Config

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// Session is a live wizard plus who opened it.
type Session struct {
	wizard.Controller

	CreatedAt time.Time
	IPAddress string
	UserAgent string

	unsubscribe func()
}

// Transform returns the controller when the session runs the transform flow.
func (s *Session) Transform() (*wizard.TransformController, bool) {
	c, ok := s.Controller.(*wizard.TransformController)
	return c, ok
}

func (s *Session) Export() (*wizard.ExportController, bool) {
	c, ok := s.Controller.(*wizard.ExportController)
	return c, ok
}

func (s *Session) Dedup() (*wizard.DedupController, bool) {
	c, ok := s.Controller.(*wizard.DedupController)
	return c, ok
}

// NewService creates a Service. A nil limiter leaves submissions unbounded
// and a nil recorder discards history.
func NewService(be wizard.Backend, limiter *UploadLimiter, recorder history.Recorder, cfg Config) *Service {
	if limiter != nil {
		be = LimitUploads(be, limiter)
	}
	if recorder == nil {
		recorder = history.Nop{}
	}
	return &Service{
		backend:  be,
		limiter:  limiter,
		recorder: recorder,
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// SetNotifier routes every session's notifications to n as well.
func (s *Service) SetNotifier(n wizard.Notifier) {
	s.mu.Lock()
	s.notifier = n
	s.mu.Unlock()
}

// Create opens a session for flow. The caller is taken from ctx (see
// WithClient).
func (s *Service) Create(ctx context.Context, flow wizard.Flow) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrShuttingDown
	}
	if s.cfg.MaxSessions > 0 && len(s.sessions) >= s.cfg.MaxSessions {
		return nil, ErrTooManySessions
	}

	id := uuid.NewString()
	ctrl, ok := wizard.New(flow, s.backend, wizard.Options{
		ID:           id,
		PollInterval: s.cfg.PollInterval,
		Notifier:     s.notifier,
		Logger:       slog.Default(),
	})
	if !ok {
		return nil, ErrUnknownFlow
	}

	client := ClientFromContext(ctx)
	sess := &Session{
		Controller: ctrl,
		CreatedAt:  time.Now(),
		IPAddress:  client.IPAddress,
		UserAgent:  client.UserAgent,
	}
	sess.unsubscribe = ctrl.Subscribe(func(ev wizard.Event) {
		if ev.Outcome != nil {
			s.record(sess, ev)
		}
	})
	s.sessions[id] = sess

	// Only the creation entry carries the request id; the controller logs
	// outlive the request.
	logging.ForSession(ctx, id, string(flow)).Info("session created",
		"sessions", len(s.sessions),
	)
	return sess, nil
}

// Get returns a live session.
func (s *Service) Get(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Close stops the session's poller and forgets it.
func (s *Service) Close(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	sess.close()
	return nil
}

func (s *Session) close() {
	s.Controller.Close()
	s.unsubscribe()
}

// List returns a view of every session, most recently active first.
func (s *Service) List() []wizard.View {
	s.mu.RLock()
	views := make([]wizard.View, 0, len(s.sessions))
	for _, sess := range s.sessions {
		views = append(views, sess.View())
	}
	s.mu.RUnlock()

	slices.SortFunc(views, func(a, b wizard.View) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return views
}

// Count returns the number of live sessions.
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Limiter returns the upload limiter, or nil.
func (s *Service) Limiter() *UploadLimiter {
	return s.limiter
}

// Recent lists recorded runs, newest first.
func (s *Service) Recent(ctx context.Context, limit int) ([]history.Run, error) {
	return s.recorder.Recent(ctx, limit)
}

// WaitForUploads blocks until no file submission holds a slot.
func (s *Service) WaitForUploads(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.WaitForDrain(ctx)
}

// Shutdown refuses new sessions, closes the open ones and waits for running
// submissions to finish.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	open := make([]*Session, 0, len(s.sessions))
	for id, sess := range s.sessions {
		open = append(open, sess)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, sess := range open {
		sess.close()
	}
	slog.Info("sessions closed", "count", len(open))

	return s.WaitForUploads(ctx)
}

// record stores a finished task. It runs on the session's observer path,
// after the controller lock is released.
func (s *Service) record(sess *Session, ev wizard.Event) {
	v, o := ev.View, ev.Outcome
	run := history.Run{
		SessionID:     v.ID,
		Flow:          string(o.Flow),
		Stage:         string(o.Stage),
		TaskID:        o.TaskID,
		Status:        string(o.Status),
		FileName:      v.FileName,
		Filepath:      v.Filepath,
		Result:        o.Result,
		Error:         o.Error,
		ProcessedRows: o.ProcessedRows,
		IPAddress:     sess.IPAddress,
		UserAgent:     sess.UserAgent,
	}
	if sel := selectionOf(v); sel != nil {
		run.Selection, _ = json.Marshal(sel)
	}
	if o.Stats != nil {
		run.Stats, _ = json.Marshal(o.Stats)
	}

	ctx, cancel := context.WithTimeout(context.Background(), RecordTimeout)
	defer cancel()
	if err := s.recorder.Record(ctx, run); err != nil {
		slog.Error("record run failed",
			"session_id", v.ID,
			"task_id", o.TaskID,
			"error", err,
		)
	}
}

// selectionOf returns what the user picked: the column list for transform
// and dedup, selected items per category for export.
func selectionOf(v wizard.View) any {
	if v.Flow == wizard.FlowExport {
		picked := make(map[string][]string)
		for _, c := range v.Categories {
			for _, it := range c.Items {
				if it.Selected {
					picked[c.Key] = append(picked[c.Key], it.Value)
				}
			}
		}
		if len(picked) == 0 {
			return nil
		}
		return picked
	}
	if len(v.Columns) == 0 {
		return nil
	}
	return v.Columns
}
