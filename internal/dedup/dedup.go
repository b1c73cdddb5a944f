// Package dedup suppresses repeat replies along two orthogonal axes:
// a content hash over subject+body, and a per-sender cooldown. Both
// checks run in one pipelined round trip against the cache substrate.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/phishtriage/internal/cache"
	"github.com/ignite/phishtriage/internal/config"
	"github.com/ignite/phishtriage/internal/pkg/logger"
)

const hashedBodyPrefix = 1000

// Decision is the outcome of a duplicate check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Deduplicator tracks recently processed content and senders.
type Deduplicator struct {
	store cache.Store
	cfg   config.DedupConfig

	now func() time.Time
}

// New creates a deduplicator over the given cache backend.
func New(store cache.Store, cfg config.DedupConfig) *Deduplicator {
	return &Deduplicator{store: store, cfg: cfg, now: time.Now}
}

// ContentHash derives the suppression key for an email's content:
// sha256 over the lowercased subject and the first 1000 characters of
// the body.
func ContentHash(subject, body string) string {
	if len(body) > hashedBodyPrefix {
		body = body[:hashedBodyPrefix]
	}
	sum := sha256.Sum256([]byte(strings.ToLower(subject + "||" + body)))
	return hex.EncodeToString(sum[:])
}

func hashKey(hash string) string {
	return "dedup:hash:v1:" + hash
}

func senderKey(sender string) string {
	return "dedup:sender:v1:" + strings.ToLower(sender)
}

// Check reports whether a reply for this sender/content combination is
// allowed. It performs no writes; call RecordProcessed after a reply is
// actually sent.
func (d *Deduplicator) Check(ctx context.Context, sender, subject, body string) (Decision, error) {
	if d.cfg.Disabled {
		return Decision{Allowed: true}, nil
	}

	hash := ContentHash(subject, body)

	pipe := d.store.Pipeline()
	pipe.Exists(hashKey(hash))
	pipe.Get(senderKey(sender))
	results, err := pipe.Exec(ctx)
	if err != nil || len(results) < 2 {
		logger.Warn("dedup check failed, allowing", "error", err)
		return Decision{Allowed: true}, nil
	}

	if seen, _ := results[0].Value.(bool); seen {
		return Decision{Reason: "Duplicate email content seen within the suppression window"}, nil
	}

	if lastReply, ok := results[1].Value.(string); ok && lastReply != "" {
		if next, ok := nextAllowed(lastReply, d.cfg.SenderCooldown()); ok && d.now().Before(next) {
			return Decision{Reason: fmt.Sprintf(
				"Sender is in cooldown; next reply allowed at %s", next.UTC().Format(time.RFC3339))}, nil
		}
	}

	return Decision{Allowed: true}, nil
}

// RecordProcessed marks the content hash and sender cooldown in one
// atomic pipeline. Called only after a reply was sent.
func (d *Deduplicator) RecordProcessed(ctx context.Context, sender, subject, body string) error {
	if d.cfg.Disabled {
		return nil
	}

	now := d.now()
	pipe := d.store.Pipeline()
	pipe.Set(hashKey(ContentHash(subject, body)), "1", d.cfg.ContentTTL())
	pipe.Set(senderKey(sender), strconv.FormatInt(now.UnixMilli(), 10), d.cfg.SenderCooldown())
	_, err := pipe.Exec(ctx)
	return err
}

// nextAllowed converts the stored last-reply timestamp into the moment
// the cooldown ends.
func nextAllowed(stored string, cooldown time.Duration) (time.Time, bool) {
	ms, err := strconv.ParseInt(stored, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).Add(cooldown), true
}
