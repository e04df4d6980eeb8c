package core

// janitor.go closes sessions nobody has touched for a while.
//
// A session is idle when no request or task watch is outstanding and its
// last change is older than Config.IdleTimeout. Sessions with a task still
// polling are never expired, however old.

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is used when StartJanitor gets a non-positive interval.
const DefaultSweepInterval = time.Minute

// StartJanitor sweeps idle sessions every interval until ctx ends. It blocks;
// run it in its own goroutine.
func (s *Service) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if s.cfg.IdleTimeout <= 0 {
		slog.Info("session janitor disabled")
		<-ctx.Done()
		return
	}

	slog.Info("session janitor started",
		"idle_timeout", s.cfg.IdleTimeout,
		"interval", interval,
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("session janitor stopped")
			return
		case now := <-ticker.C:
			s.Sweep(now)
		}
	}
}

// Sweep closes every idle session and returns how many were closed.
func (s *Service) Sweep(now time.Time) int {
	if s.cfg.IdleTimeout <= 0 {
		return 0
	}

	s.mu.Lock()
	var expired []*Session
	for id, sess := range s.sessions {
		if sess.Active() || now.Sub(sess.LastActivity()) <= s.cfg.IdleTimeout {
			continue
		}
		expired = append(expired, sess)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, sess := range expired {
		sess.close()
	}
	if len(expired) > 0 {
		slog.Info("expired idle sessions", "count", len(expired))
	}
	return len(expired)
}
