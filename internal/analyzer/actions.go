package analyzer

import "github.com/ignite/phishtriage/internal/domain"

// recommend maps a verdict to the response playbook shown to the
// recipient. Benign mail gets a single low-priority "no action" entry
// so the reply template always has something to render.
func recommend(isPhishing bool, severity domain.Severity) []domain.RecommendedAction {
	if !isPhishing {
		return []domain.RecommendedAction{{
			Priority:    domain.PriorityLow,
			Action:      "no-action",
			Description: "No threats detected. No action required.",
			Automated:   true,
		}}
	}

	actions := []domain.RecommendedAction{
		{
			Priority:    domain.PriorityUrgent,
			Action:      "do-not-interact",
			Description: "Do not click links, open attachments, or reply to this message.",
			Automated:   false,
		},
		{
			Priority:         domain.PriorityHigh,
			Action:           "report-to-security",
			Description:      "Forward this message to your security team for review.",
			Automated:        false,
			RequiresApproval: false,
		},
		{
			Priority:         domain.PriorityHigh,
			Action:           "delete-message",
			Description:      "Delete this message from your mailbox.",
			Automated:        false,
			RequiresApproval: false,
		},
	}
	if severity == domain.SeverityCritical {
		actions = append(actions, domain.RecommendedAction{
			Priority:         domain.PriorityUrgent,
			Action:           "block-sender",
			Description:      "Request that the sending address and domain be blocked.",
			Automated:        true,
			RequiresApproval: true,
		})
	}
	return actions
}
