// Package reply renders the outbound triage summary sent back to the
// original sender. Rendering is a pure function of the analysis result
// and the original message; all analysis-derived text passes through a
// single HTML-escape path before it reaches the template.
package reply

import (
	"fmt"
	"html"
	"strings"

	"github.com/osteele/liquid"

	"github.com/ignite/phishtriage/internal/domain"
)

const (
	maxIndicatorsShown = 5
	maxActionsShown    = 3
)

const replyTemplate = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; max-width: 640px; margin: 0 auto; color: #1a1a2e;">
  <div style="background: {{ banner_color }}; color: #ffffff; padding: 16px 20px; border-radius: 6px 6px 0 0;">
    <h2 style="margin: 0;">{{ verdict_title }}</h2>
  </div>
  <div style="border: 1px solid #e0e0e0; border-top: none; padding: 20px; border-radius: 0 0 6px 6px;">
    <p>Your message <strong>&quot;{{ subject }}&quot;</strong> was analyzed automatically.</p>
    <p>
      <strong>Risk score:</strong> {{ risk_score }} / 10<br>
      <strong>Severity:</strong> {{ severity }}<br>
      <strong>Confidence:</strong> {{ confidence }}%
    </p>
{% if indicators.size > 0 %}
    <h3 style="margin-bottom: 6px;">What we found</h3>
    <ul style="margin-top: 0;">
{% for ind in indicators %}
      <li><strong>[{{ ind.severity }}]</strong> {{ ind.description }}</li>
{% endfor %}
    </ul>
{% endif %}
{% if actions.size > 0 %}
    <h3 style="margin-bottom: 6px;">Recommended next steps</h3>
    <ol style="margin-top: 0;">
{% for act in actions %}
      <li>{{ act }}</li>
{% endfor %}
    </ol>
{% endif %}
{% if explanation != "" %}
    <h3 style="margin-bottom: 6px;">Analyst summary</h3>
    <p>{{ explanation }}</p>
{% endif %}
    <p style="color: #888888; font-size: 12px; margin-top: 24px;">
      This is an automated reply from the phishing triage service. Analysis id {{ analysis_id }}.
    </p>
  </div>
</body>
</html>`

// Builder renders replies from a parsed template.
type Builder struct {
	tmpl *liquid.Template
}

// NewBuilder parses the reply template once.
func NewBuilder() (*Builder, error) {
	tmpl, err := liquid.NewEngine().ParseString(replyTemplate)
	if err != nil {
		return nil, fmt.Errorf("parsing reply template: %w", err)
	}
	return &Builder{tmpl: tmpl}, nil
}

// Build produces the reply envelope for one analyzed email.
func (b *Builder) Build(email domain.Email, result domain.AnalysisResult) (domain.OutboundMessage, error) {
	indicators := result.Indicators
	if len(indicators) > maxIndicatorsShown {
		indicators = indicators[:maxIndicatorsShown]
	}
	boundIndicators := make([]map[string]string, 0, len(indicators))
	for _, ind := range indicators {
		boundIndicators = append(boundIndicators, map[string]string{
			"severity":    escape(string(ind.Severity)),
			"description": escape(ind.Description),
		})
	}

	actions := result.RecommendedActions
	if len(actions) > maxActionsShown {
		actions = actions[:maxActionsShown]
	}
	boundActions := make([]string, 0, len(actions))
	for _, act := range actions {
		boundActions = append(boundActions, escape(act.Description))
	}

	verdictTitle := "No threats detected"
	bannerColor := "#2d6a4f"
	if result.IsPhishing {
		verdictTitle = "Warning: likely phishing"
		bannerColor = "#9d0208"
	}

	body, err := b.tmpl.Render(map[string]any{
		"verdict_title": verdictTitle,
		"banner_color":  bannerColor,
		"subject":       escape(email.Subject),
		"risk_score":    fmt.Sprintf("%.1f", result.RiskScore),
		"severity":      escape(string(result.Severity)),
		"confidence":    fmt.Sprintf("%.0f", result.Confidence*100),
		"indicators":    boundIndicators,
		"actions":       boundActions,
		"explanation":   escape(result.Explanation),
		"analysis_id":   escape(result.AnalysisID),
	})
	if err != nil {
		return domain.OutboundMessage{}, fmt.Errorf("rendering reply: %w", err)
	}

	importance := "normal"
	if result.IsPhishing {
		importance = "high"
	}

	return domain.OutboundMessage{
		Subject:    replySubject(email.Subject),
		Recipients: []string{email.Sender},
		HTMLBody:   string(body),
		Importance: importance,
	}, nil
}

func replySubject(original string) string {
	original = strings.TrimSpace(original)
	if original == "" {
		original = "(No Subject)"
	}
	return "Re: " + original
}

// escape is the one place analysis-derived text becomes HTML-safe.
func escape(s string) string {
	return html.EscapeString(s)
}
