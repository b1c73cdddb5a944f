package analyzer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ignite/phishtriage/internal/domain"
)

// Authentication bonuses added to the header sub-score on top of the
// per-severity weights.
const (
	bonusSPFFail      = 3.0
	bonusDKIMFail     = 3.0
	bonusDMARCReject  = 4.0
	bonusDMARCFail    = 3.0
	bonusOtherNonauth = 1.5
)

var (
	spfResultRegexp   = regexp.MustCompile(`(?i)\bspf\s*=\s*(pass|fail|softfail|neutral|temperror|permerror|none|quarantine|reject)\b`)
	dkimResultRegexp  = regexp.MustCompile(`(?i)\bdkim\s*=\s*(pass|fail|softfail|neutral|temperror|permerror|none|quarantine|reject)\b`)
	dmarcResultRegexp = regexp.MustCompile(`(?i)\bdmarc\s*=\s*(pass|fail|softfail|neutral|temperror|permerror|none|quarantine|reject)\b`)
	headerFromRegexp  = regexp.MustCompile(`(?i)header\.from\s*=\s*([A-Za-z0-9.\-]+)`)
)

// AnalyzeHeaders inspects the authentication results and routing
// headers of an email. Passing mechanisms produce no indicators; a
// missing Authentication-Results header is treated as unauthenticated
// upstream infrastructure and produces none either.
func AnalyzeHeaders(email domain.Email) Report {
	var report Report

	authResults := email.Headers.Get("Authentication-Results")
	if authResults != "" {
		report.checkMechanism("SPF", spfResultRegexp, authResults, bonusSPFFail, 0)
		report.checkMechanism("DKIM", dkimResultRegexp, authResults, bonusDKIMFail, 0)
		report.checkMechanism("DMARC", dmarcResultRegexp, authResults, bonusDMARCFail, bonusDMARCReject)

		if m := headerFromRegexp.FindStringSubmatch(authResults); m != nil {
			authDomain := strings.ToLower(m[1])
			senderDomain := email.SenderDomain()
			if senderDomain != "" && !domainsRelated(senderDomain, authDomain) {
				report.add(domain.ThreatIndicator{
					Kind:        domain.IndicatorHeader,
					Severity:    domain.SeverityCritical,
					Description: "Sender domain does not match the authenticated From domain",
					Evidence:    fmt.Sprintf("sender domain %q, authenticated %q", senderDomain, authDomain),
					Confidence:  0.9,
				})
			}
		}
	}

	if replyTo := email.Headers.Get("Reply-To"); replyTo != "" {
		replyDomain := domain.AddressDomain(replyTo)
		if replyDomain != "" && replyDomain != email.SenderDomain() {
			report.add(domain.ThreatIndicator{
				Kind:        domain.IndicatorHeader,
				Severity:    domain.SeverityMedium,
				Description: "Reply-To domain differs from the From domain",
				Evidence:    fmt.Sprintf("reply-to domain %q, from domain %q", replyDomain, email.SenderDomain()),
				Confidence:  0.7,
			})
		}
	}

	return report
}

// checkMechanism emits one indicator per non-passing mechanism. The
// explicit "reject" disposition only occurs for DMARC; rejectBonus is 0
// for the other mechanisms.
func (r *Report) checkMechanism(name string, re *regexp.Regexp, authResults string, failBonus, rejectBonus float64) {
	m := re.FindStringSubmatch(authResults)
	if m == nil {
		return
	}
	status := strings.ToLower(m[1])

	var severity domain.Severity
	var bonus, confidence float64
	switch status {
	case "pass":
		return
	case "reject":
		severity = domain.SeverityCritical
		bonus = rejectBonus
		confidence = 0.95
		if rejectBonus == 0 {
			bonus = failBonus
			severity = domain.SeverityHigh
			confidence = 0.9
		}
	case "fail":
		severity = domain.SeverityHigh
		bonus = failBonus
		confidence = 0.9
	default:
		// softfail, neutral, none, quarantine, temperror, permerror
		severity = domain.SeverityMedium
		bonus = bonusOtherNonauth
		confidence = 0.6
	}

	r.add(domain.ThreatIndicator{
		Kind:        domain.IndicatorHeader,
		Severity:    severity,
		Description: fmt.Sprintf("%s authentication did not pass (%s)", name, status),
		Evidence:    fmt.Sprintf("%s=%s", strings.ToLower(name), status),
		Confidence:  confidence,
	})
	r.Bonus += bonus
}

func (r *Report) add(ind domain.ThreatIndicator) {
	r.Indicators = append(r.Indicators, ind)
}

// domainsRelated reports whether one domain equals or is a subdomain
// of the other.
func domainsRelated(a, b string) bool {
	if a == b {
		return true
	}
	return strings.HasSuffix(a, "."+b) || strings.HasSuffix(b, "."+a)
}
