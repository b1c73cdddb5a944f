package analyzer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/phishtriage/internal/domain"
)

func benignEmail() domain.Email {
	return domain.Email{
		MessageID: "<benign@mail.example>",
		Sender:    "noreply@google.com",
		Recipient: "soc@example.com",
		Subject:   "Quarterly report",
		Body:      "Your quarterly report is attached.",
		Headers: domain.NewHeaders(map[string]string{
			"Authentication-Results": "spf=pass; dkim=pass; dmarc=pass; header.from=google.com",
		}),
		ReceivedAt: time.Now(),
	}
}

func phishingEmail() domain.Email {
	return domain.Email{
		MessageID: "<phish@mail.example>",
		Sender:    "security@paypa1.com",
		Recipient: "soc@example.com",
		Subject:   "Account notice",
		Body:      "URGENT: Verify your account password at https://192.168.1.1/paypal — act now!",
		Headers: domain.NewHeaders(map[string]string{
			"Authentication-Results": "spf=fail; dkim=fail; dmarc=fail",
		}),
		ReceivedAt: time.Now(),
	}
}

func analyze(email domain.Email) domain.AnalysisResult {
	return Aggregate(email.MessageID,
		AnalyzeHeaders(email), AnalyzeContent(email), AnalyzeAttachments(email),
		nil, 0)
}

func descriptions(result domain.AnalysisResult) []string {
	out := make([]string, 0, len(result.Indicators))
	for _, ind := range result.Indicators {
		out = append(out, ind.Description)
	}
	return out
}

func TestBenignEmailScoresZero(t *testing.T) {
	result := analyze(benignEmail())

	assert.False(t, result.IsPhishing)
	assert.Zero(t, result.RiskScore)
	assert.Equal(t, domain.SeverityLow, result.Severity)
	assert.Empty(t, result.Indicators)
	require.NotEmpty(t, result.RecommendedActions)
	assert.Equal(t, "no-action", result.RecommendedActions[0].Action)
}

func TestClassicPhishingScoresCritical(t *testing.T) {
	result := analyze(phishingEmail())

	assert.True(t, result.IsPhishing)
	assert.Equal(t, domain.SeverityCritical, result.Severity)
	assert.GreaterOrEqual(t, result.RiskScore, 8.0)

	descs := descriptions(result)
	assert.Contains(t, descs, "SPF authentication did not pass (fail)")
	assert.Contains(t, descs, "DKIM authentication did not pass (fail)")
	assert.Contains(t, descs, "DMARC authentication did not pass (fail)")
	assert.Contains(t, descs, "Urgency language pressuring immediate action")
	assert.Contains(t, descs, "Requests credentials or account verification")
	assert.Contains(t, descs, "URL addresses a raw IP instead of a hostname")
	assert.Contains(t, descs, `Mentions "paypal" but was not sent from a paypal.com address`)
	assert.Contains(t, descs, "Sender domain imitates PayPal")
}

func TestAnalysisIsDeterministic(t *testing.T) {
	email := phishingEmail()
	a := analyze(email)
	b := analyze(email)

	assert.Equal(t, a.RiskScore, b.RiskScore)
	assert.Equal(t, a.Severity, b.Severity)
	assert.Equal(t, a.Indicators, b.Indicators)
	assert.NotEqual(t, a.AnalysisID, b.AnalysisID)
}

func TestHeaderAnalyzer(t *testing.T) {
	tests := []struct {
		name        string
		authResults string
		replyTo     string
		sender      string
		wantCount   int
		wantBonus   float64
		wantWorst   domain.Severity
	}{
		{
			name:        "all pass",
			authResults: "spf=pass; dkim=pass; dmarc=pass; header.from=google.com",
			sender:      "a@google.com",
		},
		{
			name:        "dmarc reject is critical",
			authResults: "spf=pass; dkim=pass; dmarc=reject",
			sender:      "a@evil.com",
			wantCount:   1,
			wantBonus:   4,
			wantWorst:   domain.SeverityCritical,
		},
		{
			name:        "softfail is medium",
			authResults: "spf=softfail; dkim=pass; dmarc=pass",
			sender:      "a@evil.com",
			wantCount:   1,
			wantBonus:   1.5,
			wantWorst:   domain.SeverityMedium,
		},
		{
			name:        "subdomain containment is not a mismatch",
			authResults: "spf=pass; dkim=pass; dmarc=pass; header.from=google.com",
			sender:      "a@mail.google.com",
		},
		{
			name:        "authenticated domain mismatch",
			authResults: "spf=pass; dkim=pass; dmarc=pass; header.from=google.com",
			sender:      "a@attacker.net",
			wantCount:   1,
			wantWorst:   domain.SeverityCritical,
		},
		{
			name:        "reply-to domain differs",
			authResults: "spf=pass; dkim=pass; dmarc=pass; header.from=shop.example",
			sender:      "a@shop.example",
			replyTo:     "collector@другой.example",
			wantCount:   1,
			wantWorst:   domain.SeverityMedium,
		},
		{
			name:      "no authentication header at all",
			sender:    "a@anywhere.example",
			wantCount: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := domain.NewHeaders(nil)
			if tt.authResults != "" {
				headers.Add("Authentication-Results", tt.authResults)
			}
			if tt.replyTo != "" {
				headers.Add("Reply-To", tt.replyTo)
			}
			report := AnalyzeHeaders(domain.Email{Sender: tt.sender, Headers: headers})

			assert.Len(t, report.Indicators, tt.wantCount)
			assert.Equal(t, tt.wantBonus, report.Bonus)
			if tt.wantCount > 0 {
				worst := report.Indicators[0].Severity
				for _, ind := range report.Indicators {
					if ind.Severity.Rank() > worst.Rank() {
						worst = ind.Severity
					}
				}
				assert.Equal(t, tt.wantWorst, worst)
			}
		})
	}
}

func TestContentAnalyzerURLRules(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantDesc string
	}{
		{"shortener", "see http://bit.ly/abc", "URL uses a link-shortening service"},
		{"raw ip", "see http://10.0.0.1/login", "URL addresses a raw IP instead of a hostname"},
		{"at sign", "see https://google.com@evil.example/x", "URL contains an @ that masks its real destination"},
		{"suspicious tld", "see https://login.example.tk/verify", "URL uses a TLD frequently abused for phishing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := AnalyzeContent(domain.Email{Sender: "a@neutral.example", Body: tt.body, Headers: domain.NewHeaders(nil)})
			var descs []string
			for _, ind := range report.Indicators {
				descs = append(descs, ind.Description)
			}
			assert.Contains(t, descs, tt.wantDesc)
		})
	}
}

func TestContentAnalyzerAnchorMismatch(t *testing.T) {
	body := `Click <a href="https://evil.example/login"><b>www.paypal.com</b></a> to continue.`
	report := AnalyzeContent(domain.Email{Sender: "a@neutral.example", Body: body, Headers: domain.NewHeaders(nil)})

	var found bool
	for _, ind := range report.Indicators {
		if ind.Description == "Link text shows a different destination than its target" {
			found = true
			assert.Equal(t, domain.SeverityHigh, ind.Severity)
		}
	}
	assert.True(t, found)
}

func TestContentAnalyzerAnchorMismatchHostileMarkup(t *testing.T) {
	// A '>' inside an attribute value must not terminate the tag early
	// and hide the anchor from inspection.
	body := `Click <a title="a>b" href="https://evil.example/login">www.paypal.com</a> to continue.`
	report := AnalyzeContent(domain.Email{Sender: "a@neutral.example", Body: body, Headers: domain.NewHeaders(nil)})

	var found bool
	for _, ind := range report.Indicators {
		if ind.Description == "Link text shows a different destination than its target" {
			found = true
			assert.Contains(t, ind.Evidence, "paypal.com")
			assert.Contains(t, ind.Evidence, "evil.example")
		}
	}
	assert.True(t, found)
}

func TestContentAnalyzerBrandOrderStable(t *testing.T) {
	email := domain.Email{
		Sender:  "a@neutral.example",
		Body:    "Your Netflix, Amazon and PayPal accounts need attention. Sign in with your Microsoft credentials.",
		Headers: domain.NewHeaders(nil),
	}

	first := AnalyzeContent(email)
	var brands []string
	for _, ind := range first.Indicators {
		if ind.Kind == domain.IndicatorSender {
			brands = append(brands, ind.Description)
		}
	}
	require.Equal(t, []string{
		`Mentions "paypal" but was not sent from a paypal.com address`,
		`Mentions "microsoft" but was not sent from a microsoft.com address`,
		`Mentions "amazon" but was not sent from a amazon.com address`,
		`Mentions "netflix" but was not sent from a netflix.com address`,
	}, brands)

	for i := 0; i < 10; i++ {
		again := AnalyzeContent(email)
		assert.Equal(t, first.Indicators, again.Indicators)
	}
}

func TestContentAnalyzerBonuses(t *testing.T) {
	// Three tactics (urgency + credentials + financial) and three
	// flagged URLs earn both +1 bonuses.
	body := "URGENT act now, deadline today. Verify your account password. You have won the lottery. " +
		"http://bit.ly/a http://10.0.0.1/b https://c.example.tk/c"
	report := AnalyzeContent(domain.Email{Sender: "a@neutral.example", Body: body, Headers: domain.NewHeaders(nil)})
	assert.Equal(t, 2.0, report.Bonus)
}

func TestAttachmentAnalyzer(t *testing.T) {
	tests := []struct {
		name     string
		att      domain.Attachment
		wantSev  domain.Severity
		wantDesc string
	}{
		{"executable", domain.Attachment{Filename: "invoice.exe", Size: 4096}, domain.SeverityCritical, "Attachment is an executable file type"},
		{"macro office", domain.Attachment{Filename: "report.xlsm", Size: 4096}, domain.SeverityHigh, "Attachment is a macro-enabled Office document"},
		{"archive", domain.Attachment{Filename: "docs.zip", Size: 4096}, domain.SeverityMedium, "Attachment is an archive that may conceal its contents"},
		{"double extension", domain.Attachment{Filename: "statement.pdf.exe", Size: 4096}, domain.SeverityCritical, "Attachment uses a deceptive double extension"},
		{"tiny file", domain.Attachment{Filename: "a.txt", Size: 12}, domain.SeverityMedium, "Attachment is suspiciously small (12 bytes)"},
		{"huge file", domain.Attachment{Filename: "big.mov", Size: 30 << 20}, domain.SeverityLow, "Attachment exceeds 25 MiB"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := AnalyzeAttachments(domain.Email{Attachments: []domain.Attachment{tt.att}})
			require.NotEmpty(t, report.Indicators)
			var found bool
			for _, ind := range report.Indicators {
				if ind.Description == tt.wantDesc {
					found = true
					assert.Equal(t, tt.wantSev, ind.Severity)
				}
			}
			assert.True(t, found, "missing %q", tt.wantDesc)
		})
	}
}

func TestAttachmentAnalyzerCleanFiles(t *testing.T) {
	report := AnalyzeAttachments(domain.Email{Attachments: []domain.Attachment{
		{Filename: "report.pdf", Size: 200_000},
		{Filename: "README", Size: 1500},
	}})
	assert.Empty(t, report.Indicators)
}

func TestSubScoreClipping(t *testing.T) {
	var report Report
	for i := 0; i < 10; i++ {
		report.add(domain.ThreatIndicator{Severity: domain.SeverityCritical, Confidence: 0.9})
	}
	assert.Equal(t, 10.0, report.SubScore())
}

func TestAggregationWeights(t *testing.T) {
	header := Report{Indicators: []domain.ThreatIndicator{{Severity: domain.SeverityCritical, Confidence: 0.9}}}   // 2.5
	content := Report{Indicators: []domain.ThreatIndicator{{Severity: domain.SeverityHigh, Confidence: 0.8}}}      // 1.5
	attachment := Report{Indicators: []domain.ThreatIndicator{{Severity: domain.SeverityMedium, Confidence: 0.6}}} // 0.75

	withAtt := Aggregate("m", header, content, attachment, nil, 0)
	assert.InDelta(t, 0.4*2.5+0.3*1.5+0.3*0.75, withAtt.RiskScore, 1e-9)

	withoutAtt := Aggregate("m", header, content, Report{}, nil, 0)
	assert.InDelta(t, 0.6*2.5+0.4*1.5, withoutAtt.RiskScore, 1e-9)
}

func TestAggregateAppendsIntel(t *testing.T) {
	intel := []domain.ThreatIndicator{{
		Kind:       domain.IndicatorURL,
		Severity:   domain.SeverityCritical,
		Confidence: 0.8,
	}}
	result := Aggregate("m", Report{}, Report{}, Report{}, intel, 2.8)

	assert.Len(t, result.Indicators, 1)
	assert.InDelta(t, 2.8, result.RiskScore, 1e-9)
	assert.InDelta(t, 0.8, result.Confidence, 1e-9)
}

func TestSeverityMonotonicity(t *testing.T) {
	base := Report{Indicators: []domain.ThreatIndicator{{Severity: domain.SeverityMedium, Confidence: 0.5}}}
	before := Aggregate("m", base, Report{}, Report{}, nil, 0)

	grown := base
	grown.Indicators = append(grown.Indicators, domain.ThreatIndicator{Severity: domain.SeverityHigh, Confidence: 0.5})
	after := Aggregate("m", grown, Report{}, Report{}, nil, 0)

	assert.GreaterOrEqual(t, after.RiskScore, before.RiskScore)
}
