// Package analyzer implements the rule engines that score an email for
// phishing risk. The header, content, and attachment analyzers are pure
// functions over the email; Aggregate folds their reports, plus any
// threat-intel findings, into a single AnalysisResult.
package analyzer

import (
	"time"

	"github.com/google/uuid"

	"github.com/ignite/phishtriage/internal/domain"
)

// PhishingThreshold is the aggregate score at and above which an email
// is classified as phishing.
const PhishingThreshold = 5.0

// Severity weights used by every analyzer's sub-score.
var severityWeights = map[domain.Severity]float64{
	domain.SeverityCritical: 2.5,
	domain.SeverityHigh:     1.5,
	domain.SeverityMedium:   0.75,
	domain.SeverityLow:      0.25,
}

// Report is one analyzer's output: the indicators it found plus any
// score additions beyond the per-severity weights (authentication
// bonuses for the header analyzer, tactic/URL bonuses for content).
type Report struct {
	Indicators []domain.ThreatIndicator
	Bonus      float64
}

// SubScore sums the severity weights of the report's indicators plus
// its bonus, clipped to [0, 10].
func (r Report) SubScore() float64 {
	score := r.Bonus
	for _, ind := range r.Indicators {
		score += severityWeights[ind.Severity]
	}
	return clip10(score)
}

// Aggregate merges the three analyzer reports and threat-intel findings
// into the final verdict for one message.
//
// With attachments in play the weighting is 0.4 header, 0.3 content,
// 0.3 attachment; without, 0.6 header and 0.4 content. Intel risk is
// added on top and the result clipped to 10.
func Aggregate(messageID string, header, content, attachment Report, intelIndicators []domain.ThreatIndicator, intelRisk float64) domain.AnalysisResult {
	sub := domain.SubScores{
		Header:     header.SubScore(),
		Content:    content.SubScore(),
		Attachment: attachment.SubScore(),
	}

	var score float64
	if sub.Attachment > 0 {
		score = 0.4*sub.Header + 0.3*sub.Content + 0.3*sub.Attachment
	} else {
		score = 0.6*sub.Header + 0.4*sub.Content
	}
	score = clip10(score + intelRisk)

	indicators := make([]domain.ThreatIndicator, 0,
		len(header.Indicators)+len(content.Indicators)+len(attachment.Indicators)+len(intelIndicators))
	indicators = append(indicators, header.Indicators...)
	indicators = append(indicators, content.Indicators...)
	indicators = append(indicators, attachment.Indicators...)
	indicators = append(indicators, intelIndicators...)

	var confidence float64
	if len(indicators) > 0 {
		for _, ind := range indicators {
			confidence += ind.Confidence
		}
		confidence /= float64(len(indicators))
	}

	isPhishing := score >= PhishingThreshold
	severity := severityFor(score)

	return domain.AnalysisResult{
		MessageID:          messageID,
		IsPhishing:         isPhishing,
		RiskScore:          score,
		Confidence:         confidence,
		Severity:           severity,
		Indicators:         indicators,
		RecommendedActions: recommend(isPhishing, severity),
		AnalysisID:         uuid.NewString(),
		AnalyzedAt:         time.Now().UTC(),
		SubScores:          sub,
	}
}

func severityFor(score float64) domain.Severity {
	switch {
	case score >= 8:
		return domain.SeverityCritical
	case score >= 6:
		return domain.SeverityHigh
	case score >= 3:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

func clip10(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}
