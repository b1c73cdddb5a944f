// Package guard screens fetched messages before any analysis runs.
// Checks execute in a fixed order and fail on the first hit; a denial
// is an expected outcome, not an error. Duplicate suppression combines
// a process-local LRU with a set-if-absent claim in the distributed
// cache so concurrent replicas elect a single winner per message-id.
package guard

import (
	"context"
	"strings"
	"time"

	"github.com/ignite/phishtriage/internal/cache"
	"github.com/ignite/phishtriage/internal/config"
	"github.com/ignite/phishtriage/internal/domain"
	"github.com/ignite/phishtriage/internal/pkg/logger"
)

// Denial reason tokens, also used as metric labels.
const (
	ReasonMissingSender      = "missing-sender"
	ReasonMissingMessageID   = "missing-message-id"
	ReasonDuplicateMessageID = "duplicate-message-id"
	ReasonSelfSender         = "self-sender-detected"
	ReasonNotAllowlisted     = "sender-not-allowlisted"
	ReasonAutoResponder      = "auto-responder-detected"
)

const (
	messageIDTTL = 24 * time.Hour
	lruCapacity  = 10000
)

// Decision is the outcome of a guardrail evaluation.
type Decision struct {
	Allowed bool
	Reason  string
}

func allowed() Decision { return Decision{Allowed: true} }

func denied(r string) Decision { return Decision{Reason: r} }

// Guard owns the pre-analysis checks for one monitored mailbox.
type Guard struct {
	store        cache.Store
	mailbox      string
	production   bool
	allowEmails  map[string]bool
	allowDomains map[string]bool
	seen         *lruSet
}

// New builds a guard for the given mailbox. Allowlist entries are
// matched case-insensitively.
func New(store cache.Store, mailbox string, allow config.AllowlistConfig, production bool) *Guard {
	g := &Guard{
		store:        store,
		mailbox:      strings.ToLower(strings.TrimSpace(mailbox)),
		production:   production,
		allowEmails:  make(map[string]bool, len(allow.Emails)),
		allowDomains: make(map[string]bool, len(allow.Domains)),
		seen:         newLRUSet(lruCapacity, messageIDTTL),
	}
	for _, e := range allow.Emails {
		g.allowEmails[strings.ToLower(strings.TrimSpace(e))] = true
	}
	for _, d := range allow.Domains {
		g.allowDomains[strings.ToLower(strings.TrimSpace(d))] = true
	}
	return g
}

// Evaluate runs all checks in order and returns the first denial, if
// any.
func (g *Guard) Evaluate(ctx context.Context, email domain.Email) Decision {
	sender := strings.ToLower(strings.TrimSpace(email.Sender))
	messageID := strings.TrimSpace(email.MessageID)

	if sender == "" {
		return denied(ReasonMissingSender)
	}
	if messageID == "" {
		return denied(ReasonMissingMessageID)
	}
	if g.isDuplicate(ctx, messageID) {
		return denied(ReasonDuplicateMessageID)
	}
	if g.isSelfSender(sender) {
		return denied(ReasonSelfSender)
	}
	if !g.isAllowlisted(sender) {
		return denied(ReasonNotAllowlisted)
	}
	if isAutoResponder(sender, email.Headers) {
		return denied(ReasonAutoResponder)
	}
	return allowed()
}

// isDuplicate consults the local LRU first, then claims the id in the
// distributed cache. The cache claim is authoritative across replicas;
// the LRU spares a round trip for ids this process already handled.
func (g *Guard) isDuplicate(ctx context.Context, messageID string) bool {
	if g.seen.Seen(messageID) {
		return true
	}
	won, err := g.store.SetNX(ctx, "msgid:v1:"+messageID, "1", messageIDTTL)
	if err != nil {
		// Degraded cache: the LRU already recorded the id, so this
		// process keeps exactly-once semantics on its own.
		logger.Warn("message-id claim failed, relying on local tracking", "error", err)
		return false
	}
	return !won
}

// isSelfSender catches the monitored mailbox replying to itself, plus
// sibling addresses like mailbox+tag@domain that share the local-part
// prefix.
func (g *Guard) isSelfSender(sender string) bool {
	if g.mailbox == "" {
		return false
	}
	if sender == g.mailbox {
		return true
	}
	senderDomain := domain.AddressDomain(sender)
	mailboxDomain := domain.AddressDomain(g.mailbox)
	if senderDomain == "" || senderDomain != mailboxDomain {
		return false
	}
	return strings.HasPrefix(domain.AddressLocal(sender), domain.AddressLocal(g.mailbox))
}

// isAllowlisted applies the configured sender restrictions. With both
// lists empty the check passes in development and fails closed in
// production.
func (g *Guard) isAllowlisted(sender string) bool {
	if len(g.allowEmails) == 0 && len(g.allowDomains) == 0 {
		return !g.production
	}
	if g.allowEmails[sender] {
		return true
	}
	return g.allowDomains[domain.AddressDomain(sender)]
}

var autoSubmittedValues = map[string]bool{
	"auto-replied":   true,
	"auto-generated": true,
	"auto-notified":  true,
}

var precedenceValues = map[string]bool{
	"bulk":       true,
	"junk":       true,
	"auto_reply": true,
}

var autoResponseSuppressValues = map[string]bool{
	"all":       true,
	"dr":        true,
	"autoreply": true,
}

func isAutoResponder(sender string, headers domain.Headers) bool {
	if strings.Contains(sender, "mailer-daemon") || strings.Contains(sender, "postmaster") {
		return true
	}
	if autoSubmittedValues[headerToken(headers, "Auto-Submitted")] {
		return true
	}
	if precedenceValues[headerToken(headers, "Precedence")] {
		return true
	}
	return autoResponseSuppressValues[headerToken(headers, "X-Auto-Response-Suppress")]
}

func headerToken(headers domain.Headers, name string) string {
	return strings.ToLower(strings.TrimSpace(headers.Get(name)))
}
