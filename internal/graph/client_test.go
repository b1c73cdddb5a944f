package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/phishtriage/internal/domain"
)

const mailbox = "phishing@company.io"

func messageJSON(id, internetID, sender string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"internetMessageId": %q,
		"subject": "Account notice",
		"receivedDateTime": "2026-08-20T10:30:00Z",
		"from": {"emailAddress": {"address": %q}},
		"toRecipients": [{"emailAddress": {"address": %q}}],
		"body": {"contentType": "html", "content": "<p>hello</p>"},
		"internetMessageHeaders": [
			{"name": "Authentication-Results", "value": "spf=fail"},
			{"name": "Auto-Submitted", "value": "no"}
		],
		"attachments": [{"name": "invoice.pdf", "contentType": "application/pdf", "size": 52341}]
	}`, id, internetID, sender, mailbox)
}

func TestGetMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/"+mailbox+"/messages/prov-1", r.URL.Path)
		assert.Contains(t, r.URL.Query().Get("$select"), "internetMessageId")
		fmt.Fprint(w, messageJSON("prov-1", "<m1@mail.example>", "a@evil.com"))
	}))
	defer srv.Close()

	c := NewClientWithHTTP(http.DefaultClient, srv.URL, mailbox)
	email, err := c.GetMessage(context.Background(), "prov-1")
	require.NoError(t, err)

	assert.Equal(t, "<m1@mail.example>", email.MessageID)
	assert.Equal(t, "prov-1", email.ProviderID)
	assert.Equal(t, "a@evil.com", email.Sender)
	assert.Equal(t, mailbox, email.Recipient)
	assert.Equal(t, "spf=fail", email.Headers.Get("Authentication-Results"))
	assert.Equal(t, time.Date(2026, 8, 20, 10, 30, 0, 0, time.UTC), email.ReceivedAt)
	require.Len(t, email.Attachments, 1)
	assert.Equal(t, domain.Attachment{Filename: "invoice.pdf", ContentType: "application/pdf", Size: 52341}, email.Attachments[0])
}

func TestGetMessage_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error": {"code": "ErrorItemNotFound", "message": "gone"}}`)
	}))
	defer srv.Close()

	c := NewClientWithHTTP(http.DefaultClient, srv.URL, mailbox)
	_, err := c.GetMessage(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "ErrorItemNotFound")
}

func TestListMessagesSince_Pagination(t *testing.T) {
	var srv *httptest.Server
	pageCalls := 0
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pageCalls++
		switch {
		case r.URL.Query().Get("page") == "2":
			fmt.Fprintf(w, `{"value": [%s]}`, messageJSON("p2", "<m2@x>", "b@evil.com"))
		default:
			assert.Contains(t, r.URL.Query().Get("$filter"), "receivedDateTime ge ")
			assert.Equal(t, "receivedDateTime asc", r.URL.Query().Get("$orderby"))
			fmt.Fprintf(w, `{"value": [%s], "@odata.nextLink": %q}`,
				messageJSON("p1", "<m1@x>", "a@evil.com"), srv.URL+"/users/"+mailbox+"/messages?page=2")
		}
	}))
	defer srv.Close()

	c := NewClientWithHTTP(http.DefaultClient, srv.URL, mailbox)
	emails, err := c.ListMessagesSince(context.Background(), time.Now().Add(-15*time.Minute), 5)
	require.NoError(t, err)
	require.Len(t, emails, 2)
	assert.Equal(t, "<m1@x>", emails[0].MessageID)
	assert.Equal(t, "<m2@x>", emails[1].MessageID)
	assert.Equal(t, 2, pageCalls)
}

func TestListMessagesSince_PageCap(t *testing.T) {
	var srv *httptest.Server
	calls := 0
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprintf(w, `{"value": [%s], "@odata.nextLink": %q}`,
			messageJSON(fmt.Sprintf("p%d", calls), fmt.Sprintf("<m%d@x>", calls), "a@evil.com"),
			srv.URL+"/users/"+mailbox+"/messages?more=1")
	}))
	defer srv.Close()

	c := NewClientWithHTTP(http.DefaultClient, srv.URL, mailbox)
	emails, err := c.ListMessagesSince(context.Background(), time.Now(), 3)
	require.NoError(t, err)
	assert.Len(t, emails, 3)
	assert.Equal(t, 3, calls, "pagination stops at the page cap")
}

func TestSendMail(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/users/"+mailbox+"/sendMail", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewClientWithHTTP(http.DefaultClient, srv.URL, mailbox)
	err := c.SendMail(context.Background(), domain.OutboundMessage{
		Subject:    "Re: Account notice",
		Recipients: []string{"a@evil.com"},
		HTMLBody:   "<p>warning</p>",
		Importance: "high",
	})
	require.NoError(t, err)

	msg := got["message"].(map[string]any)
	assert.Equal(t, "Re: Account notice", msg["subject"])
	assert.Equal(t, "high", msg["importance"])
	assert.Equal(t, false, got["saveToSentItems"])
	body := msg["body"].(map[string]any)
	assert.Equal(t, "HTML", body["contentType"])
}

func TestSubscriptionLifecycle(t *testing.T) {
	created := Subscription{
		ID:                 "sub-1",
		ChangeType:         "created",
		Resource:           "/users/" + mailbox + "/messages",
		ExpirationDateTime: graphTime(time.Now().Add(MaxSubscriptionLifetime)),
	}
	var deleted bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/subscriptions":
			var req Subscription
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "created", req.ChangeType)
			assert.Equal(t, "secret", req.ClientState)
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(created)
		case r.Method == http.MethodGet && r.URL.Path == "/subscriptions":
			json.NewEncoder(w).Encode(map[string]any{"value": []Subscription{created}})
		case r.Method == http.MethodPatch:
			assert.Equal(t, "/subscriptions/sub-1", r.URL.Path)
			json.NewEncoder(w).Encode(created)
		case r.Method == http.MethodDelete:
			deleted = true
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewClientWithHTTP(http.DefaultClient, srv.URL, mailbox)
	ctx := context.Background()

	sub, err := c.CreateSubscription(ctx, "/users/"+mailbox+"/messages", "https://svc.example/webhooks/mail", "secret")
	require.NoError(t, err)
	assert.Equal(t, "sub-1", sub.ID)

	exp, err := sub.Expiration()
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(MaxSubscriptionLifetime), exp, time.Minute)

	subs, err := c.ListSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)

	_, err = c.RenewSubscription(ctx, "sub-1")
	require.NoError(t, err)

	require.NoError(t, c.DeleteSubscription(ctx, "sub-1"))
	assert.True(t, deleted)
}
