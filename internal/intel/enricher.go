// Package intel enriches an email's verdict with external reputation
// lookups: URL reputation for the first few links, sender IP abuse
// score, and sender domain age. Lookups run concurrently, each bounded
// by a per-provider timeout and backed by a cached response keyed on
// the identifier. A failed lookup contributes nothing; the enricher
// never blocks the verdict.
package intel

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ignite/phishtriage/internal/analyzer"
	"github.com/ignite/phishtriage/internal/cache"
	"github.com/ignite/phishtriage/internal/config"
	"github.com/ignite/phishtriage/internal/domain"
	"github.com/ignite/phishtriage/internal/pkg/httpretry"
	"github.com/ignite/phishtriage/internal/pkg/logger"
)

const maxURLLookups = 3

// Finding is the merged outcome of all lookups for one email.
type Finding struct {
	Indicators []domain.ThreatIndicator
	Risk       float64
}

// Enricher issues reputation lookups against external providers.
type Enricher struct {
	cfg    config.ThreatIntelConfig
	store  cache.Store
	client httpretry.HTTPDoer

	now func() time.Time
}

// New creates an enricher. A nil client gets a retrying default.
func New(cfg config.ThreatIntelConfig, store cache.Store, client httpretry.HTTPDoer) *Enricher {
	if client == nil {
		client = httpretry.NewRetryClient(nil, 2)
	}
	return &Enricher{cfg: cfg, store: store, client: client, now: time.Now}
}

var receivedIPRegexp = regexp.MustCompile(`\b(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})\b`)

// senderIP pulls the originating IPv4 from routing headers, if any.
func senderIP(headers domain.Headers) string {
	if ip := receivedIPRegexp.FindString(headers.Get("X-Originating-IP")); ip != "" {
		return ip
	}
	return receivedIPRegexp.FindString(headers.Get("Received"))
}

// Enrich runs all applicable lookups concurrently and merges their
// contributions. Every lookup failure is soft.
func (e *Enricher) Enrich(ctx context.Context, email domain.Email) Finding {
	if !e.cfg.Enabled {
		return Finding{}
	}

	urls := analyzer.ExtractURLs(email.Subject + "\n" + email.Body)
	if len(urls) > maxURLLookups {
		urls = urls[:maxURLLookups]
	}

	var (
		mu      sync.Mutex
		finding Finding
		wg      sync.WaitGroup
	)
	contribute := func(ind *domain.ThreatIndicator, risk float64) {
		mu.Lock()
		defer mu.Unlock()
		if ind != nil {
			finding.Indicators = append(finding.Indicators, *ind)
		}
		finding.Risk += risk
	}
	spawn := func(work func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			work()
		}()
	}

	for _, u := range urls {
		u := u
		spawn(func() {
			rep, err := e.cached(ctx, "url", u, e.lookupURL)
			if err != nil {
				logger.Debug("url reputation lookup failed", "error", err)
				return
			}
			if ind, risk := urlContribution(u, rep); ind != nil {
				contribute(ind, risk)
			}
		})
	}

	if ip := senderIP(email.Headers); ip != "" {
		spawn(func() {
			rep, err := e.cached(ctx, "ip", ip, e.lookupIP)
			if err != nil {
				logger.Debug("ip reputation lookup failed", "error", err)
				return
			}
			if ind, risk := ipContribution(ip, rep); ind != nil {
				contribute(ind, risk)
			}
		})
	}

	if dom := email.SenderDomain(); dom != "" {
		spawn(func() {
			rep, err := e.cached(ctx, "domain", dom, e.lookupDomainAge)
			if err != nil {
				logger.Debug("domain age lookup failed", "error", err)
				return
			}
			if ind, risk := domainAgeContribution(dom, rep); ind != nil {
				contribute(ind, risk)
			}
		})
	}

	wg.Wait()
	return finding
}

// cached wraps a provider call with the response cache. The cache key
// hashes the identifier so arbitrary URLs stay key-safe.
func (e *Enricher) cached(ctx context.Context, kind, id string, lookup func(context.Context, string) (reputation, error)) (reputation, error) {
	sum := sha256.Sum256([]byte(id))
	key := fmt.Sprintf("intel:%s:v1:%s", kind, hex.EncodeToString(sum[:16]))

	if raw, ok, err := e.store.Get(ctx, key); err == nil && ok {
		var rep reputation
		if json.Unmarshal([]byte(raw), &rep) == nil {
			return rep, nil
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout())
	defer cancel()
	rep, err := lookup(callCtx, id)
	if err != nil {
		return reputation{}, err
	}

	if raw, err := json.Marshal(rep); err == nil {
		if err := e.store.Set(ctx, key, string(raw), e.cfg.CacheTTL()); err != nil {
			logger.Debug("intel cache write failed", "error", err)
		}
	}
	return rep, nil
}

func urlContribution(u string, rep reputation) (*domain.ThreatIndicator, float64) {
	if !rep.Malicious {
		return nil, 0
	}
	severity := domain.SeverityHigh
	if rep.Confidence > 0.5 {
		severity = domain.SeverityCritical
	}
	return &domain.ThreatIndicator{
		Kind:        domain.IndicatorURL,
		Severity:    severity,
		Description: "URL flagged as malicious by reputation service",
		Evidence:    u,
		Confidence:  rep.Confidence,
	}, 2.0 + rep.Confidence
}

func ipContribution(ip string, rep reputation) (*domain.ThreatIndicator, float64) {
	if rep.AbuseScore < 50 {
		return nil, 0
	}
	severity := domain.SeverityMedium
	if rep.AbuseScore >= 75 {
		severity = domain.SeverityHigh
	}
	return &domain.ThreatIndicator{
		Kind:        domain.IndicatorSender,
		Severity:    severity,
		Description: fmt.Sprintf("Sending IP has an abuse confidence score of %d", rep.AbuseScore),
		Evidence:    ip,
		Confidence:  float64(rep.AbuseScore) / 100,
	}, 1.5 + float64(rep.AbuseScore-50)/100
}

func domainAgeContribution(dom string, rep reputation) (*domain.ThreatIndicator, float64) {
	if rep.DomainAge < 0 || rep.DomainAge >= 30 {
		return nil, 0
	}
	severity := domain.SeverityMedium
	risk := 1.0
	if rep.DomainAge < 7 {
		severity = domain.SeverityHigh
		risk = 2.0
	}
	return &domain.ThreatIndicator{
		Kind:        domain.IndicatorSender,
		Severity:    severity,
		Description: fmt.Sprintf("Sender domain was registered %d day(s) ago", rep.DomainAge),
		Evidence:    strings.ToLower(dom),
		Confidence:  0.8,
	}, risk
}
