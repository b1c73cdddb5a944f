// Package graph is the Microsoft Graph client used for everything the
// service does against the monitored mailbox: listing and fetching
// messages, sending replies, and managing change-notification
// subscriptions. Auth is app-only client credentials; all calls go
// through the shared retrying HTTP client.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/ignite/phishtriage/internal/config"
	"github.com/ignite/phishtriage/internal/pkg/httpretry"
)

const tokenURLTemplate = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"

// Client talks to the Graph API for a single mailbox.
type Client struct {
	http    httpretry.HTTPDoer
	baseURL string
	mailbox string
}

// NewClient builds a client authenticating via the client-credentials
// flow.
func NewClient(cfg config.ProviderConfig, mailbox string) *Client {
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     fmt.Sprintf(tokenURLTemplate, cfg.TenantID),
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}
	base := cc.Client(context.Background())
	base.Timeout = cfg.Timeout()
	return NewClientWithHTTP(httpretry.NewRetryClient(base, 3), cfg.BaseURL, mailbox)
}

// NewClientWithHTTP wires an explicit HTTP client (used by tests).
func NewClientWithHTTP(doer httpretry.HTTPDoer, baseURL, mailbox string) *Client {
	return &Client{http: doer, baseURL: baseURL, mailbox: mailbox}
}

// Mailbox returns the monitored address this client operates on.
func (c *Client) Mailbox() string { return c.mailbox }

// apiError carries the Graph error envelope.
type apiError struct {
	Status int
	Code   string
	Msg    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("graph: %d %s: %s", e.Status, e.Code, e.Msg)
}

// IsNotFound reports whether err is a Graph 404.
func IsNotFound(err error) bool {
	var ae *apiError
	return errors.As(err, &ae) && ae.Status == http.StatusNotFound
}

// do issues a request and decodes a 2xx JSON body into out (if non-nil).
func (c *Client) do(ctx context.Context, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = json.Unmarshal(raw, &envelope)
		return &apiError{Status: resp.StatusCode, Code: envelope.Error.Code, Msg: envelope.Error.Message}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func graphTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}
