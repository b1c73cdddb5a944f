// Package subscription keeps exactly one push subscription alive
// against the mail provider. All state lives in a single goroutine fed
// by a command channel; callers interact through commands and read-only
// snapshots, so there is never more than one active renewal timer.
package subscription

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ignite/phishtriage/internal/config"
	"github.com/ignite/phishtriage/internal/graph"
	"github.com/ignite/phishtriage/internal/pkg/logger"
)

const defaultRetryBackoff = 30 * time.Second

// Lifecycle events delivered by the provider.
const (
	EventRemoved        = "subscriptionRemoved"
	EventMissed         = "missed"
	EventReauthRequired = "reauthorizationRequired"
)

// GraphAPI is the slice of the mail client the manager needs.
type GraphAPI interface {
	CreateSubscription(ctx context.Context, resource, notificationURL, clientState string) (graph.Subscription, error)
	ListSubscriptions(ctx context.Context) ([]graph.Subscription, error)
	RenewSubscription(ctx context.Context, id string) (graph.Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error
}

// State is the read-only view of the current subscription.
type State struct {
	SubscriptionID string    `json:"subscription_id,omitempty"`
	ExpiresAt      time.Time `json:"expires_at,omitempty"`
	IsActive       bool      `json:"is_active"`
}

type commandKind int

const (
	cmdInitialize commandKind = iota
	cmdRenew
	cmdRecreate
	cmdSnapshot
)

type command struct {
	kind  commandKind
	reply chan State
}

// Manager owns the push subscription lifecycle.
type Manager struct {
	api     GraphAPI
	cfg     config.WebhookConfig
	catchUp func(context.Context)

	cmds     chan command
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	// Owned exclusively by the run goroutine.
	state State
	timer *time.Timer

	retryBackoff time.Duration
	now          func() time.Time
}

// New creates a manager. catchUp runs when the provider reports missed
// notifications; it is invoked on its own goroutine.
func New(api GraphAPI, cfg config.WebhookConfig, catchUp func(context.Context)) *Manager {
	return &Manager{
		api:          api,
		cfg:          cfg,
		catchUp:      catchUp,
		cmds:         make(chan command, 16),
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
		retryBackoff: defaultRetryBackoff,
		now:          time.Now,
	}
}

// Start launches the owner goroutine and queues initialization.
func (m *Manager) Start(ctx context.Context) {
	go m.run(ctx)
	m.cmds <- command{kind: cmdInitialize}
}

// Stop cancels the renewal timer and deactivates the manager. It
// returns once the owner goroutine has exited.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.done
}

// Snapshot returns the current state. After Stop it reports inactive.
func (m *Manager) Snapshot() State {
	reply := make(chan State, 1)
	select {
	case m.cmds <- command{kind: cmdSnapshot, reply: reply}:
	case <-m.done:
		return State{}
	}
	select {
	case s := <-reply:
		return s
	case <-m.done:
		return State{}
	}
}

// HandleLifecycleEvent reacts to a provider lifecycle notification.
func (m *Manager) HandleLifecycleEvent(ctx context.Context, event string) {
	switch event {
	case EventRemoved:
		logger.Warn("subscription removed by provider, recreating")
		m.enqueue(cmdRecreate)
	case EventReauthRequired:
		logger.Info("subscription reauthorization required, renewing")
		m.enqueue(cmdRenew)
	case EventMissed:
		logger.Warn("provider reported missed notifications, running catch-up")
		if m.catchUp != nil {
			go m.catchUp(ctx)
		}
	default:
		logger.Debug("ignoring unknown lifecycle event", "event", event)
	}
}

func (m *Manager) enqueue(kind commandKind) {
	select {
	case m.cmds <- command{kind: kind}:
	case <-m.done:
	}
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			m.deactivate()
			return
		case <-m.stopCh:
			m.deactivate()
			return
		case cmd := <-m.cmds:
			switch cmd.kind {
			case cmdInitialize:
				m.initialize(ctx)
			case cmdRenew:
				m.renew(ctx)
			case cmdRecreate:
				m.recreate(ctx)
			case cmdSnapshot:
				cmd.reply <- m.state
			}
		}
	}
}

func (m *Manager) deactivate() {
	m.cancelTimer()
	m.state.IsActive = false
}

// initialize adopts an existing matching subscription or creates a new
// one.
func (m *Manager) initialize(ctx context.Context) {
	existing, err := m.api.ListSubscriptions(ctx)
	if err != nil {
		logger.Error("listing subscriptions failed", "error", err)
		m.scheduleRetry()
		return
	}
	for _, sub := range existing {
		if strings.EqualFold(sub.Resource, m.cfg.Resource) && sub.NotificationURL == m.cfg.NotificationURL {
			logger.Info("adopting existing subscription", "subscription_id", sub.ID)
			m.adopt(sub)
			return
		}
	}
	m.create(ctx)
}

func (m *Manager) create(ctx context.Context) {
	sub, err := m.api.CreateSubscription(ctx, m.cfg.Resource, m.cfg.NotificationURL, m.cfg.ClientState)
	if err != nil {
		logger.Error("creating subscription failed", "error", err)
		m.scheduleRetry()
		return
	}
	logger.Info("subscription created", "subscription_id", sub.ID)
	m.adopt(sub)
}

func (m *Manager) renew(ctx context.Context) {
	if m.state.SubscriptionID == "" {
		m.recreate(ctx)
		return
	}
	sub, err := m.api.RenewSubscription(ctx, m.state.SubscriptionID)
	if err != nil {
		logger.Warn("subscription renewal failed, recreating", "error", err)
		m.recreate(ctx)
		return
	}
	logger.Info("subscription renewed", "subscription_id", sub.ID)
	sub.ID = m.state.SubscriptionID
	m.adopt(sub)
}

func (m *Manager) recreate(ctx context.Context) {
	if id := m.state.SubscriptionID; id != "" {
		if err := m.api.DeleteSubscription(ctx, id); err != nil && !graph.IsNotFound(err) {
			logger.Debug("deleting stale subscription failed", "error", err)
		}
	}
	m.state = State{}
	m.create(ctx)
}

// adopt records the subscription and schedules the renewal timer at
// expiration minus the configured margin.
func (m *Manager) adopt(sub graph.Subscription) {
	expires, err := sub.Expiration()
	if err != nil {
		logger.Warn("subscription has unparsable expiration, renewing on retry backoff",
			"subscription_id", sub.ID, "error", err)
		expires = m.now().Add(m.retryBackoff)
	}
	if sub.ID != "" {
		m.state.SubscriptionID = sub.ID
	}
	m.state.ExpiresAt = expires
	m.state.IsActive = true

	wait := expires.Sub(m.now()) - m.cfg.RenewalMargin()
	if wait < 0 {
		wait = 0
	}
	m.schedule(wait, cmdRenew)
}

func (m *Manager) scheduleRetry() {
	m.state.IsActive = false
	m.schedule(m.retryBackoff, cmdRecreate)
}

// schedule arms the single timer; any previously armed timer is
// cancelled first.
func (m *Manager) schedule(d time.Duration, kind commandKind) {
	m.cancelTimer()
	m.timer = time.AfterFunc(d, func() { m.enqueue(kind) })
}

func (m *Manager) cancelTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
