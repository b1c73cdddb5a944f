package analyzer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ignite/phishtriage/internal/domain"
)

// Pattern tables are compiled once at init and never mutated.
var (
	urlRegexp        = regexp.MustCompile(`https?://[^\s<>"']+`)
	ipv4HostRegexp   = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)
	anchorURLRegexp  = regexp.MustCompile(`(?i)(?:https?://)?([a-z0-9][a-z0-9.\-]*\.[a-z]{2,})`)
	urgencyRegexp    = regexp.MustCompile(`(?i)\b(urgent|immediately|right away|act now|expires?|expiring|suspended|suspension|final notice|within 24 hours|last chance|asap|deadline)\b`)
	credentialRegexp = regexp.MustCompile(`(?i)\b(password|verify your (?:account|identity)|confirm your (?:account|identity)|login credentials|update your payment|social security|ssn|security question|account(?:\s+has been)?\s+locked)\b`)
	financialRegexp  = regexp.MustCompile(`(?i)\b(lottery|you(?:'ve| have) won|winner|inheritance|unclaimed (?:funds|prize)|wire transfer|western union|bitcoin|cryptocurrency|investment opportunity|million dollars|beneficiary)\b`)
)

var urlShortenerHosts = map[string]bool{
	"bit.ly":      true,
	"tinyurl.com": true,
	"goo.gl":      true,
	"t.co":        true,
	"ow.ly":       true,
	"is.gd":       true,
	"buff.ly":     true,
	"rebrand.ly":  true,
	"cutt.ly":     true,
	"rb.gy":       true,
}

var suspiciousTLDs = map[string]bool{
	"tk":    true,
	"ml":    true,
	"ga":    true,
	"cf":    true,
	"gq":    true,
	"xyz":   true,
	"top":   true,
	"click": true,
	"link":  true,
	"work":  true,
	"zip":   true,
}

// brandDomains pairs a brand keyword with its canonical domain. A body
// that mentions the brand while the sender domain does not contain the
// canonical domain is treated as impersonation. The table is ordered so
// identical messages always yield indicators in the same order.
var brandDomains = []struct {
	brand     string
	canonical string
}{
	{"paypal", "paypal.com"},
	{"microsoft", "microsoft.com"},
	{"office365", "microsoft.com"},
	{"apple", "apple.com"},
	{"icloud", "icloud.com"},
	{"amazon", "amazon.com"},
	{"google", "google.com"},
	{"netflix", "netflix.com"},
	{"docusign", "docusign.com"},
	{"dropbox", "dropbox.com"},
	{"linkedin", "linkedin.com"},
	{"wells fargo", "wellsfargo.com"},
	{"bank of america", "bankofamerica.com"},
	{"chase", "chase.com"},
	{"fedex", "fedex.com"},
	{"dhl", "dhl.com"},
	{"usps", "usps.com"},
	{"irs", "irs.gov"},
}

// typosquatPatterns match common lookalike spellings of well-known
// domains in the sender domain. The canonical spellings do not match.
var typosquatPatterns = []struct {
	re    *regexp.Regexp
	brand string
}{
	{regexp.MustCompile(`paypa[l1i]{2}|paypa[1i]|pay-?pal\d`), "PayPal"},
	{regexp.MustCompile(`g[o0]{2}g[l1]e\d|g[o0]og[1i]e|go{3,}gle`), "Google"},
	{regexp.MustCompile(`micr[o0]s[o0]ft\d|rnicrosoft|micros[o0]phd?t`), "Microsoft"},
	{regexp.MustCompile(`amaz[o0]n\d|arnazon|amazom`), "Amazon"},
	{regexp.MustCompile(`app[l1]e\d|app1e|appie`), "Apple"},
	{regexp.MustCompile(`netf[l1]ix\d|netf1ix|netfllx`), "Netflix"},
	{regexp.MustCompile(`faceb[o0]{2}k\d|faceb00k|facebok`), "Facebook"},
	{regexp.MustCompile(`we[l1]{2}sfarg[o0]\d|wel1sfargo|wellsfargo-`), "Wells Fargo"},
}

// ExtractURLs returns every http/https URL found in the text, in order
// of appearance. The threat-intel enricher shares this extraction with
// the content rules.
func ExtractURLs(text string) []string {
	return urlRegexp.FindAllString(text, -1)
}

// AnalyzeContent inspects the subject and body text for malicious
// URLs, social-engineering language, brand impersonation, and
// lookalike sender domains.
func AnalyzeContent(email domain.Email) Report {
	var report Report
	text := email.Subject + "\n" + email.Body
	lowered := strings.ToLower(text)

	suspiciousURLs := analyzeURLs(&report, text)

	tactics := 0
	if hits := countMatches(urgencyRegexp, lowered); hits > 0 {
		severity := domain.SeverityMedium
		if hits > 2 {
			severity = domain.SeverityHigh
		}
		report.add(domain.ThreatIndicator{
			Kind:        domain.IndicatorContent,
			Severity:    severity,
			Description: "Urgency language pressuring immediate action",
			Evidence:    fmt.Sprintf("%d urgency phrase(s)", hits),
			Confidence:  minF(0.6+0.1*float64(hits), 0.9),
		})
		tactics++
	}
	if m := credentialRegexp.FindString(lowered); m != "" {
		report.add(domain.ThreatIndicator{
			Kind:        domain.IndicatorContent,
			Severity:    domain.SeverityCritical,
			Description: "Requests credentials or account verification",
			Evidence:    fmt.Sprintf("matched %q", m),
			Confidence:  0.9,
		})
		tactics++
	}
	if m := financialRegexp.FindString(lowered); m != "" {
		report.add(domain.ThreatIndicator{
			Kind:        domain.IndicatorContent,
			Severity:    domain.SeverityHigh,
			Description: "Financial lure or advance-fee language",
			Evidence:    fmt.Sprintf("matched %q", m),
			Confidence:  0.85,
		})
		tactics++
	}

	tactics += analyzeAnchors(&report, email.Body)
	tactics += analyzeBrands(&report, lowered, email.SenderDomain())
	tactics += analyzeTyposquat(&report, email.SenderDomain())

	if tactics > 2 {
		report.Bonus++
	}
	if suspiciousURLs > 2 {
		report.Bonus++
	}
	return report
}

// analyzeURLs emits per-URL indicators and returns how many URLs were
// flagged by at least one rule.
func analyzeURLs(report *Report, text string) int {
	suspicious := 0
	for _, raw := range urlRegexp.FindAllString(text, -1) {
		host := urlHost(raw)
		flagged := false

		if urlShortenerHosts[host] {
			report.add(domain.ThreatIndicator{
				Kind:        domain.IndicatorURL,
				Severity:    domain.SeverityMedium,
				Description: "URL uses a link-shortening service",
				Evidence:    raw,
				Confidence:  0.6,
			})
			flagged = true
		}
		if ipv4HostRegexp.MatchString(host) {
			report.add(domain.ThreatIndicator{
				Kind:        domain.IndicatorURL,
				Severity:    domain.SeverityHigh,
				Description: "URL addresses a raw IP instead of a hostname",
				Evidence:    raw,
				Confidence:  0.85,
			})
			flagged = true
		}
		if strings.Contains(strings.TrimPrefix(strings.TrimPrefix(raw, "https://"), "http://"), "@") {
			report.add(domain.ThreatIndicator{
				Kind:        domain.IndicatorURL,
				Severity:    domain.SeverityCritical,
				Description: "URL contains an @ that masks its real destination",
				Evidence:    raw,
				Confidence:  0.9,
			})
			flagged = true
		}
		if dot := strings.LastIndex(host, "."); dot >= 0 && suspiciousTLDs[host[dot+1:]] {
			report.add(domain.ThreatIndicator{
				Kind:        domain.IndicatorURL,
				Severity:    domain.SeverityMedium,
				Description: "URL uses a TLD frequently abused for phishing",
				Evidence:    raw,
				Confidence:  0.6,
			})
			flagged = true
		}
		if flagged {
			suspicious++
		}
	}
	return suspicious
}

// analyzeAnchors flags anchors whose visible text names a different
// domain than their href target. Anchors are parsed with goquery, never
// with string matching, so malformed or hostile markup cannot hide one.
func analyzeAnchors(report *Report, body string) int {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return 0
	}
	found := 0
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if !strings.HasPrefix(strings.ToLower(href), "http") {
			return
		}
		lm := anchorURLRegexp.FindStringSubmatch(strings.TrimSpace(sel.Text()))
		if lm == nil {
			return
		}
		labelDomain := strings.ToLower(lm[1])
		hrefDomain := urlHost(href)
		if labelDomain != "" && hrefDomain != "" && !domainsRelated(labelDomain, hrefDomain) {
			report.add(domain.ThreatIndicator{
				Kind:        domain.IndicatorURL,
				Severity:    domain.SeverityHigh,
				Description: "Link text shows a different destination than its target",
				Evidence:    fmt.Sprintf("text %q, target %q", labelDomain, hrefDomain),
				Confidence:  0.85,
			})
			found++
		}
	})
	if found > 0 {
		return 1
	}
	return 0
}

func analyzeBrands(report *Report, loweredText, senderDomain string) int {
	found := 0
	for _, b := range brandDomains {
		if !strings.Contains(loweredText, b.brand) {
			continue
		}
		if senderDomain == "" || strings.Contains(senderDomain, b.canonical) {
			continue
		}
		report.add(domain.ThreatIndicator{
			Kind:        domain.IndicatorSender,
			Severity:    domain.SeverityCritical,
			Description: fmt.Sprintf("Mentions %q but was not sent from a %s address", b.brand, b.canonical),
			Evidence:    fmt.Sprintf("sender domain %q", senderDomain),
			Confidence:  0.95,
		})
		found++
	}
	if found > 0 {
		return 1
	}
	return 0
}

func analyzeTyposquat(report *Report, senderDomain string) int {
	if senderDomain == "" {
		return 0
	}
	for _, p := range typosquatPatterns {
		if p.re.MatchString(senderDomain) {
			report.add(domain.ThreatIndicator{
				Kind:        domain.IndicatorSender,
				Severity:    domain.SeverityCritical,
				Description: fmt.Sprintf("Sender domain imitates %s", p.brand),
				Evidence:    fmt.Sprintf("sender domain %q", senderDomain),
				Confidence:  0.98,
			})
			return 1
		}
	}
	return 0
}

func urlHost(raw string) string {
	rest := strings.TrimPrefix(strings.TrimPrefix(raw, "https://"), "http://")
	// Credentials before @ are part of the userinfo, not the host.
	if at := strings.Index(rest, "@"); at >= 0 {
		rest = rest[at+1:]
	}
	for _, sep := range []string{"/", "?", "#", ":"} {
		if i := strings.Index(rest, sep); i >= 0 {
			rest = rest[:i]
		}
	}
	return strings.ToLower(rest)
}

func countMatches(re *regexp.Regexp, s string) int {
	return len(re.FindAllString(s, -1))
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
