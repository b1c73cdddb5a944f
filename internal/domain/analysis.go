package domain

import "time"

// Severity grades an indicator or an overall verdict.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for max-comparisons.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// IndicatorKind classifies where an indicator came from.
type IndicatorKind string

const (
	IndicatorHeader     IndicatorKind = "header"
	IndicatorContent    IndicatorKind = "content"
	IndicatorURL        IndicatorKind = "url"
	IndicatorAttachment IndicatorKind = "attachment"
	IndicatorSender     IndicatorKind = "sender"
	IndicatorBehavioral IndicatorKind = "behavioral"
)

// ThreatIndicator is a single piece of evidence produced by an analyzer or
// the threat-intel enricher.
type ThreatIndicator struct {
	Kind        IndicatorKind `json:"kind"`
	Severity    Severity      `json:"severity"`
	Description string        `json:"description"`
	Evidence    string        `json:"evidence"`
	Confidence  float64       `json:"confidence"` // [0,1]
}

// ActionPriority orders recommended actions.
type ActionPriority string

const (
	PriorityLow    ActionPriority = "low"
	PriorityMedium ActionPriority = "medium"
	PriorityHigh   ActionPriority = "high"
	PriorityUrgent ActionPriority = "urgent"
)

// RecommendedAction is a suggested response to a verdict.
type RecommendedAction struct {
	Priority         ActionPriority `json:"priority"`
	Action           string         `json:"action"`
	Description      string         `json:"description"`
	Automated        bool           `json:"automated"`
	RequiresApproval bool           `json:"requires_approval"`
}

// SubScores carries the per-analyzer contributions before aggregation.
// Each value is non-negative and clipped to 10.
type SubScores struct {
	Header     float64 `json:"header"`
	Content    float64 `json:"content"`
	Attachment float64 `json:"attachment"`
}

// AnalysisResult is the verdict for one email. Created once, never mutated.
type AnalysisResult struct {
	MessageID          string              `json:"message_id"`
	IsPhishing         bool                `json:"is_phishing"`
	RiskScore          float64             `json:"risk_score"` // [0,10]
	Confidence         float64             `json:"confidence"` // [0,1]
	Severity           Severity            `json:"severity"`
	Indicators         []ThreatIndicator   `json:"indicators"`
	RecommendedActions []RecommendedAction `json:"recommended_actions"`
	Explanation        string              `json:"explanation,omitempty"`
	AnalysisID         string              `json:"analysis_id"`
	AnalyzedAt         time.Time           `json:"analyzed_at"`
	SubScores          SubScores           `json:"sub_scores"`
}

// OutboundMessage is the reply envelope handed to the mail provider.
type OutboundMessage struct {
	Subject    string
	Recipients []string
	HTMLBody   string
	Importance string // "high" or "normal"
}
