package domain

import (
	"strings"
	"time"
)

// Attachment holds the metadata of a message attachment. Content is never
// fetched; analysis works on filename, declared type, and size alone.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// Email is an immutable snapshot of a message pulled from the mail
// provider. MessageID is the stable RFC internet message id; ProviderID is
// the provider-internal id used for API calls.
type Email struct {
	MessageID   string       `json:"message_id"`
	ProviderID  string       `json:"provider_id"`
	Sender      string       `json:"sender"`
	Recipient   string       `json:"recipient"`
	Subject     string       `json:"subject"`
	ReceivedAt  time.Time    `json:"received_at"`
	Headers     Headers      `json:"headers"`
	Body        string       `json:"body"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Headers is a case-insensitive header map. Multiple values per name are
// stored internally but only the first is exposed via Get.
type Headers map[string][]string

// NewHeaders builds a Headers map from name/value pairs, folding names to
// lower case.
func NewHeaders(pairs map[string]string) Headers {
	h := make(Headers, len(pairs))
	for name, value := range pairs {
		h.Add(name, value)
	}
	return h
}

// Add appends a value for the given header name.
func (h Headers) Add(name, value string) {
	key := strings.ToLower(name)
	h[key] = append(h[key], value)
}

// Get returns the first value for the given name, or "".
func (h Headers) Get(name string) string {
	values := h[strings.ToLower(name)]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// SenderDomain returns the lowered domain part of the sender address.
func (e Email) SenderDomain() string {
	return AddressDomain(e.Sender)
}

// AddressDomain extracts the lowered domain from an email address, or ""
// when the address has no @.
func AddressDomain(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at < 0 || at == len(addr)-1 {
		return ""
	}
	return strings.ToLower(addr[at+1:])
}

// AddressLocal extracts the lowered local part of an email address.
func AddressLocal(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at <= 0 {
		return ""
	}
	return strings.ToLower(addr[:at])
}
