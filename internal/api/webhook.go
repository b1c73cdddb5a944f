package api

import (
	"encoding/json"
	"net/http"
	"regexp"

	"github.com/ignite/phishtriage/internal/pkg/httputil"
	"github.com/ignite/phishtriage/internal/pkg/logger"
)

const maxValidationTokenLen = 4096

// Validation tokens are opaque provider strings; anything outside this
// alphabet is rejected rather than echoed back.
var validationTokenRegexp = regexp.MustCompile(`^[\w\-.~+/=%]+$`)

const maxWebhookBody = 1 << 20

// notification is one change or lifecycle entry in a webhook batch.
type notification struct {
	SubscriptionID string `json:"subscriptionId"`
	ClientState    string `json:"clientState"`
	ChangeType     string `json:"changeType"`
	Resource       string `json:"resource"`
	LifecycleEvent string `json:"lifecycleEvent"`
	ResourceData   struct {
		ID string `json:"id"`
	} `json:"resourceData"`
}

type webhookPayload struct {
	Value []notification `json:"value"`
}

// handleWebhook processes provider notifications. A request carrying a
// validationToken query parameter is a subscription handshake and gets
// the token echoed back as plain text; everything else is a batch of
// change or lifecycle notifications acknowledged with 202 before the
// messages are processed.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if token := r.URL.Query().Get("validationToken"); token != "" {
		s.handleValidation(w, token)
		return
	}

	var payload webhookPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBody)).Decode(&payload); err != nil {
		httputil.BadRequest(w, "malformed notification payload")
		return
	}
	if len(payload.Value) == 0 {
		httputil.BadRequest(w, "notification payload has no entries")
		return
	}

	for _, n := range payload.Value {
		if n.ClientState != s.cfg.Webhook.ClientState {
			logger.Warn("webhook client state mismatch", "subscription_id", n.SubscriptionID)
			s.registry.Inc("webhook.state_mismatches")
			httputil.Forbidden(w, "client state mismatch")
			return
		}
	}

	enqueued := 0
	for _, n := range payload.Value {
		s.registry.Inc("webhook.notifications")
		if n.LifecycleEvent != "" {
			if s.lifecycle != nil {
				s.lifecycle.HandleLifecycleEvent(r.Context(), n.LifecycleEvent)
			}
			continue
		}
		if n.ChangeType != "created" || n.ResourceData.ID == "" {
			continue
		}
		if s.queue.Enqueue(n.ResourceData.ID) {
			enqueued++
		}
	}
	s.registry.Add("webhook.enqueued", int64(enqueued))

	httputil.Accepted(w, map[string]any{
		"status":   "accepted",
		"enqueued": enqueued,
	})
}

func (s *Server) handleValidation(w http.ResponseWriter, token string) {
	if len(token) > maxValidationTokenLen || !validationTokenRegexp.MatchString(token) {
		httputil.BadRequest(w, "invalid validation token")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(token)); err != nil {
		logger.Warn("writing validation response failed", "error", err)
	}
}
