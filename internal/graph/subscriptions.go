package graph

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// MaxSubscriptionLifetime is Graph's cap for mailbox message
// subscriptions (4230 minutes, just under three days).
const MaxSubscriptionLifetime = 4230 * time.Minute

// Subscription is a Graph change-notification subscription.
type Subscription struct {
	ID                       string `json:"id,omitempty"`
	ChangeType               string `json:"changeType,omitempty"`
	NotificationURL          string `json:"notificationUrl,omitempty"`
	Resource                 string `json:"resource,omitempty"`
	ClientState              string `json:"clientState,omitempty"`
	ExpirationDateTime       string `json:"expirationDateTime,omitempty"`
	LifecycleNotificationURL string `json:"lifecycleNotificationUrl,omitempty"`
}

// Expiration parses the subscription expiration timestamp.
func (s Subscription) Expiration() (time.Time, error) {
	return time.Parse(time.RFC3339, s.ExpirationDateTime)
}

// CreateSubscription registers a created-message subscription with the
// maximum allowed lifetime.
func (c *Client) CreateSubscription(ctx context.Context, resource, notificationURL, clientState string) (Subscription, error) {
	req := Subscription{
		ChangeType:               "created",
		NotificationURL:          notificationURL,
		LifecycleNotificationURL: notificationURL,
		Resource:                 resource,
		ClientState:              clientState,
		ExpirationDateTime:       graphTime(time.Now().Add(MaxSubscriptionLifetime)),
	}

	var created Subscription
	if err := c.do(ctx, "POST", c.baseURL+"/subscriptions", req, &created); err != nil {
		return Subscription{}, fmt.Errorf("creating subscription: %w", err)
	}
	return created, nil
}

// ListSubscriptions returns all subscriptions owned by this app
// registration.
func (c *Client) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	var payload struct {
		Value []Subscription `json:"value"`
	}
	if err := c.do(ctx, "GET", c.baseURL+"/subscriptions", nil, &payload); err != nil {
		return nil, fmt.Errorf("listing subscriptions: %w", err)
	}
	return payload.Value, nil
}

// RenewSubscription patches a new expiration onto an existing
// subscription.
func (c *Client) RenewSubscription(ctx context.Context, id string) (Subscription, error) {
	req := Subscription{
		ExpirationDateTime: graphTime(time.Now().Add(MaxSubscriptionLifetime)),
	}
	var renewed Subscription
	endpoint := c.baseURL + "/subscriptions/" + url.PathEscape(id)
	if err := c.do(ctx, "PATCH", endpoint, req, &renewed); err != nil {
		return Subscription{}, fmt.Errorf("renewing subscription: %w", err)
	}
	return renewed, nil
}

// DeleteSubscription removes a subscription.
func (c *Client) DeleteSubscription(ctx context.Context, id string) error {
	endpoint := c.baseURL + "/subscriptions/" + url.PathEscape(id)
	if err := c.do(ctx, "DELETE", endpoint, nil, nil); err != nil {
		return fmt.Errorf("deleting subscription: %w", err)
	}
	return nil
}
