package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ignite/phishtriage/internal/pkg/httputil"
)

// ComponentCheck reports the state of one dependency.
type ComponentCheck struct {
	Status  string `json:"status"` // "up", "down", "not_configured"
	Message string `json:"message,omitempty"`
}

// handleHealth is the liveness probe. It reports 200 as long as the
// process serves requests; dependency state lives on /ready.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.OK(w, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    formatUptime(time.Since(s.startTime)),
	})
}

// handleReady is the readiness probe: 200 when the cache answers and a
// notification source (subscription or poller) is live, 503 otherwise.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := map[string]ComponentCheck{}
	ready := true

	if s.cache == nil {
		checks["cache"] = ComponentCheck{Status: "not_configured"}
	} else if err := s.cache.Ping(r.Context()); err != nil {
		checks["cache"] = ComponentCheck{Status: "down", Message: err.Error()}
		ready = false
	} else {
		checks["cache"] = ComponentCheck{Status: "up"}
	}

	subActive := false
	if s.lifecycle != nil {
		state := s.lifecycle.Snapshot()
		if state.IsActive {
			subActive = true
			checks["subscription"] = ComponentCheck{Status: "up"}
		} else {
			checks["subscription"] = ComponentCheck{Status: "down", Message: "no active subscription"}
		}
	} else {
		checks["subscription"] = ComponentCheck{Status: "not_configured"}
	}

	if s.poller != nil {
		checks["poller"] = ComponentCheck{Status: "up"}
	} else {
		checks["poller"] = ComponentCheck{Status: "not_configured"}
		if !subActive {
			ready = false
		}
	}

	status := http.StatusOK
	overall := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		overall = "not_ready"
	}
	httputil.JSON(w, status, map[string]any{
		"status": overall,
		"checks": checks,
	})
}

// handleMetrics dumps the counter registry plus live component stats.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"metrics": s.registry.Snapshot(),
		"queue":   s.queue.Stats(),
	}
	if s.poller != nil {
		body["poller"] = s.poller.Stats()
	}
	if s.lifecycle != nil {
		body["subscription"] = s.lifecycle.Snapshot()
	}
	if s.limiter != nil {
		if stats, err := s.limiter.Stats(r.Context(), s.cfg.Mailbox.Address); err == nil {
			body["rate"] = stats
		}
	}
	httputil.OK(w, body)
}

func formatUptime(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	sec := (d % time.Minute) / time.Second
	return fmt.Sprintf("%dh%dm%ds", h, m, sec)
}
