package graph

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/ignite/phishtriage/internal/domain"
)

const messageSelect = "id,internetMessageId,subject,receivedDateTime,from,toRecipients,body,internetMessageHeaders,hasAttachments"

// graphMessage mirrors the Graph message resource, narrowed to the
// fields the pipeline uses.
type graphMessage struct {
	ID                string `json:"id"`
	InternetMessageID string `json:"internetMessageId"`
	Subject           string `json:"subject"`
	ReceivedDateTime  string `json:"receivedDateTime"`
	From              struct {
		EmailAddress struct {
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"from"`
	ToRecipients []struct {
		EmailAddress struct {
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"toRecipients"`
	Body struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	InternetMessageHeaders []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"internetMessageHeaders"`
	Attachments []struct {
		Name        string `json:"name"`
		ContentType string `json:"contentType"`
		Size        int64  `json:"size"`
	} `json:"attachments"`
}

func (m graphMessage) toDomain() domain.Email {
	email := domain.Email{
		MessageID:  m.InternetMessageID,
		ProviderID: m.ID,
		Sender:     m.From.EmailAddress.Address,
		Subject:    m.Subject,
		Body:       m.Body.Content,
		Headers:    domain.NewHeaders(nil),
	}
	if len(m.ToRecipients) > 0 {
		email.Recipient = m.ToRecipients[0].EmailAddress.Address
	}
	if t, err := time.Parse(time.RFC3339, m.ReceivedDateTime); err == nil {
		email.ReceivedAt = t
	}
	for _, h := range m.InternetMessageHeaders {
		email.Headers.Add(h.Name, h.Value)
	}
	for _, a := range m.Attachments {
		email.Attachments = append(email.Attachments, domain.Attachment{
			Filename:    a.Name,
			ContentType: a.ContentType,
			Size:        a.Size,
		})
	}
	return email
}

// ListMessagesSince lists mailbox messages received at or after the
// given time, oldest first, following continuation links up to
// maxPages pages.
func (c *Client) ListMessagesSince(ctx context.Context, since time.Time, maxPages int) ([]domain.Email, error) {
	query := url.Values{}
	query.Set("$filter", fmt.Sprintf("receivedDateTime ge %s", graphTime(since)))
	query.Set("$orderby", "receivedDateTime asc")
	query.Set("$select", messageSelect)
	query.Set("$expand", "attachments($select=name,contentType,size)")
	query.Set("$top", "50")

	next := fmt.Sprintf("%s/users/%s/messages?%s", c.baseURL, url.PathEscape(c.mailbox), query.Encode())

	var emails []domain.Email
	for page := 0; next != "" && page < maxPages; page++ {
		var payload struct {
			Value    []graphMessage `json:"value"`
			NextLink string         `json:"@odata.nextLink"`
		}
		if err := c.do(ctx, "GET", next, nil, &payload); err != nil {
			return emails, fmt.Errorf("listing messages: %w", err)
		}
		for _, m := range payload.Value {
			emails = append(emails, m.toDomain())
		}
		next = payload.NextLink
	}
	return emails, nil
}

// GetMessage fetches a single message by provider id.
func (c *Client) GetMessage(ctx context.Context, providerID string) (domain.Email, error) {
	query := url.Values{}
	query.Set("$select", messageSelect)
	query.Set("$expand", "attachments($select=name,contentType,size)")

	endpoint := fmt.Sprintf("%s/users/%s/messages/%s?%s",
		c.baseURL, url.PathEscape(c.mailbox), url.PathEscape(providerID), query.Encode())

	var m graphMessage
	if err := c.do(ctx, "GET", endpoint, nil, &m); err != nil {
		return domain.Email{}, fmt.Errorf("fetching message: %w", err)
	}
	return m.toDomain(), nil
}

// SendMail sends an HTML reply from the monitored mailbox. Sent
// replies are not copied to the sent-items folder.
func (c *Client) SendMail(ctx context.Context, msg domain.OutboundMessage) error {
	recipients := make([]map[string]any, 0, len(msg.Recipients))
	for _, r := range msg.Recipients {
		recipients = append(recipients, map[string]any{
			"emailAddress": map[string]string{"address": r},
		})
	}

	payload := map[string]any{
		"message": map[string]any{
			"subject": msg.Subject,
			"body": map[string]string{
				"contentType": "HTML",
				"content":     msg.HTMLBody,
			},
			"toRecipients": recipients,
			"importance":   msg.Importance,
		},
		"saveToSentItems": false,
	}

	endpoint := fmt.Sprintf("%s/users/%s/sendMail", c.baseURL, url.PathEscape(c.mailbox))
	if err := c.do(ctx, "POST", endpoint, payload, nil); err != nil {
		return fmt.Errorf("sending mail: %w", err)
	}
	return nil
}
