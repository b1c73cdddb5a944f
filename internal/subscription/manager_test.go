package subscription

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/phishtriage/internal/config"
	"github.com/ignite/phishtriage/internal/graph"
)

type fakeAPI struct {
	mu        sync.Mutex
	existing  []graph.Subscription
	creates   int
	renews    int
	deletes   []string
	renewErr  error
	createErr error
	lifetime  time.Duration
	nextID    int
}

func newFakeAPI(lifetime time.Duration) *fakeAPI {
	return &fakeAPI{lifetime: lifetime}
}

func (f *fakeAPI) CreateSubscription(_ context.Context, resource, notificationURL, clientState string) (graph.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return graph.Subscription{}, f.createErr
	}
	f.creates++
	f.nextID++
	return graph.Subscription{
		ID:                 subID(f.nextID),
		Resource:           resource,
		NotificationURL:    notificationURL,
		ClientState:        clientState,
		ExpirationDateTime: time.Now().Add(f.lifetime).UTC().Format(time.RFC3339),
	}, nil
}

func (f *fakeAPI) ListSubscriptions(context.Context) ([]graph.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.existing, nil
}

func (f *fakeAPI) RenewSubscription(_ context.Context, id string) (graph.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.renewErr != nil {
		return graph.Subscription{}, f.renewErr
	}
	f.renews++
	return graph.Subscription{
		ID:                 id,
		ExpirationDateTime: time.Now().Add(f.lifetime).UTC().Format(time.RFC3339),
	}, nil
}

func (f *fakeAPI) DeleteSubscription(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, id)
	return nil
}

func subID(n int) string {
	return string(rune('a'+n-1)) + "-sub"
}

func webhookConfig(marginMs int) config.WebhookConfig {
	return config.WebhookConfig{
		NotificationURL: "https://svc.example/webhooks/mail",
		ClientState:     "secret",
		Resource:        "/users/phishing@company.io/messages",
		RenewalMarginMs: marginMs,
	}
}

func waitActive(t *testing.T, m *Manager) State {
	t.Helper()
	var s State
	require.Eventually(t, func() bool {
		s = m.Snapshot()
		return s.IsActive
	}, time.Second, 5*time.Millisecond)
	return s
}

func TestInitializeCreatesSubscription(t *testing.T) {
	api := newFakeAPI(time.Hour)
	m := New(api, webhookConfig(60000), nil)
	m.Start(context.Background())
	defer m.Stop()

	s := waitActive(t, m)
	assert.Equal(t, "a-sub", s.SubscriptionID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), s.ExpiresAt, time.Minute)
	assert.Equal(t, 1, api.creates)
}

func TestInitializeAdoptsExisting(t *testing.T) {
	api := newFakeAPI(time.Hour)
	api.existing = []graph.Subscription{{
		ID:                 "adopted-sub",
		Resource:           "/users/phishing@company.io/messages",
		NotificationURL:    "https://svc.example/webhooks/mail",
		ExpirationDateTime: time.Now().Add(30 * time.Minute).UTC().Format(time.RFC3339),
	}}
	m := New(api, webhookConfig(60000), nil)
	m.Start(context.Background())
	defer m.Stop()

	s := waitActive(t, m)
	assert.Equal(t, "adopted-sub", s.SubscriptionID)
	assert.Equal(t, 0, api.creates)
}

func TestRenewalTimerFires(t *testing.T) {
	// Short lifetime with a margin close to it means the renewal timer
	// fires almost immediately.
	api := newFakeAPI(200 * time.Millisecond)
	m := New(api, webhookConfig(190), nil)
	m.Start(context.Background())
	defer m.Stop()

	require.Eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return api.renews >= 1
	}, time.Second, 5*time.Millisecond)
	assert.True(t, m.Snapshot().IsActive)
}

func TestRenewFailureRecreates(t *testing.T) {
	api := newFakeAPI(time.Hour)
	m := New(api, webhookConfig(60000), nil)
	m.Start(context.Background())
	defer m.Stop()
	waitActive(t, m)

	api.mu.Lock()
	api.renewErr = errors.New("subscription gone")
	api.mu.Unlock()

	m.HandleLifecycleEvent(context.Background(), EventReauthRequired)

	require.Eventually(t, func() bool {
		return m.Snapshot().SubscriptionID == "b-sub"
	}, time.Second, 5*time.Millisecond)

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, 2, api.creates)
	assert.Contains(t, api.deletes, "a-sub")
}

func TestRemovedLifecycleEventRecreates(t *testing.T) {
	api := newFakeAPI(time.Hour)
	m := New(api, webhookConfig(60000), nil)
	m.Start(context.Background())
	defer m.Stop()
	waitActive(t, m)

	m.HandleLifecycleEvent(context.Background(), EventRemoved)

	require.Eventually(t, func() bool {
		return m.Snapshot().SubscriptionID == "b-sub"
	}, time.Second, 5*time.Millisecond)
}

func TestMissedLifecycleEventRunsCatchUp(t *testing.T) {
	var catchUps atomic.Int64
	api := newFakeAPI(time.Hour)
	m := New(api, webhookConfig(60000), func(context.Context) { catchUps.Add(1) })
	m.Start(context.Background())
	defer m.Stop()
	waitActive(t, m)

	m.HandleLifecycleEvent(context.Background(), EventMissed)

	require.Eventually(t, func() bool {
		return catchUps.Load() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "a-sub", m.Snapshot().SubscriptionID, "catch-up does not touch the subscription")
}

func TestCreateFailureSchedulesRetry(t *testing.T) {
	api := newFakeAPI(time.Hour)
	api.createErr = errors.New("throttled")
	m := New(api, webhookConfig(60000), nil)
	m.retryBackoff = 10 * time.Millisecond
	m.Start(context.Background())
	defer m.Stop()

	assert.False(t, m.Snapshot().IsActive)

	api.mu.Lock()
	api.createErr = nil
	api.mu.Unlock()

	waitActive(t, m)
	assert.Equal(t, 1, api.creates)
}

func TestStopDeactivates(t *testing.T) {
	api := newFakeAPI(time.Hour)
	m := New(api, webhookConfig(60000), nil)
	m.Start(context.Background())
	waitActive(t, m)

	m.Stop()
	assert.False(t, m.Snapshot().IsActive)
}
