// Package llm generates plain-language explanations for borderline
// verdicts using a Bedrock-hosted model. The explainer is strictly
// best-effort: every failure path leaves the explanation empty and the
// verdict untouched.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/ignite/phishtriage/internal/config"
	"github.com/ignite/phishtriage/internal/domain"
	"github.com/ignite/phishtriage/internal/pkg/breaker"
	"github.com/ignite/phishtriage/internal/pkg/logger"
)

// Scores inside [BorderlineLow, BorderlineHigh] get an explanation;
// outside the band the rule verdict speaks for itself.
const (
	BorderlineLow  = 4.0
	BorderlineHigh = 6.0
)

const (
	promptBodyLimit     = 500
	promptIndicatorsMax = 5
	maxResponseTokens   = 400

	// Delay before retry n is retryBaseDelay * 2^(n-1).
	retryBaseDelay = time.Second
)

// Invoker is the Bedrock call surface, narrowed for tests.
type Invoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Explainer turns a scored email into a short analyst-style summary.
type Explainer struct {
	cfg     config.LLMConfig
	invoker Invoker
	brk     *breaker.Breaker

	sleep func(time.Duration)
}

// New creates an explainer around the given invoker.
func New(cfg config.LLMConfig, invoker Invoker) *Explainer {
	e := &Explainer{cfg: cfg, invoker: invoker, sleep: time.Sleep}
	e.brk = breaker.New(breaker.Config{
		ConsecutiveThreshold: cfg.BreakerThreshold,
		ResetTimeout:         cfg.BreakerReset(),
		OnOpen: func() {
			logger.Warn("llm explainer breaker opened", "threshold", cfg.BreakerThreshold)
		},
		OnClose: func() {
			logger.Info("llm explainer breaker closed")
		},
	})
	return e
}

// NewFromAWS creates an explainer with a real Bedrock client.
func NewFromAWS(ctx context.Context, cfg config.LLMConfig) (*Explainer, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return New(cfg, bedrockruntime.NewFromConfig(awsCfg)), nil
}

// ShouldExplain reports whether an explanation is wanted for the given
// risk score.
func (e *Explainer) ShouldExplain(score float64) bool {
	if !e.cfg.Enabled || e.invoker == nil {
		return false
	}
	if e.cfg.DemoMode {
		return true
	}
	return score >= BorderlineLow && score <= BorderlineHigh
}

// Explain asks the model for a short justification of the verdict.
// Unauthorized errors are never retried; repeated failures open the
// breaker.
func (e *Explainer) Explain(ctx context.Context, email domain.Email, result domain.AnalysisResult) (string, error) {
	if err := e.brk.Allow(); err != nil {
		return "", err
	}

	prompt := buildPrompt(email, result)

	var lastErr error
	for attempt := 0; attempt <= e.cfg.Retries; attempt++ {
		if attempt > 0 {
			e.sleep(retryBaseDelay << (attempt - 1))
		}

		text, err := e.invoke(ctx, prompt)
		if err == nil {
			e.brk.RecordSuccess()
			return text, nil
		}
		lastErr = err
		if isUnauthorized(err) || ctx.Err() != nil {
			break
		}
	}

	e.brk.RecordFailure()
	return "", lastErr
}

// anthropicRequest is the Bedrock messages-API payload for Claude
// models.
type anthropicRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	Messages         []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (e *Explainer) invoke(ctx context.Context, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout())
	defer cancel()

	body, err := json.Marshal(anthropicRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxResponseTokens,
		Messages:         []anthropicMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}

	out, err := e.invoker.InvokeModel(callCtx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(e.cfg.ModelID),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return "", err
	}

	var resp anthropicResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", fmt.Errorf("decoding model response: %w", err)
	}
	for _, block := range resp.Content {
		if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
			return strings.TrimSpace(block.Text), nil
		}
	}
	return "", errors.New("model returned no text")
}

// buildPrompt renders the fixed-schema prompt: subject, sender, score,
// the leading indicators, and a bounded body excerpt.
func buildPrompt(email domain.Email, result domain.AnalysisResult) string {
	var sb strings.Builder
	sb.WriteString("You are a security analyst. Explain in two or three sentences, for a non-technical employee, why the email below was scored as it was. Do not include instructions to click anything.\n\n")
	fmt.Fprintf(&sb, "Subject: %s\n", email.Subject)
	fmt.Fprintf(&sb, "Sender: %s\n", email.Sender)
	fmt.Fprintf(&sb, "Risk score: %.1f out of 10\n", result.RiskScore)

	sb.WriteString("Detected indicators:\n")
	indicators := result.Indicators
	if len(indicators) > promptIndicatorsMax {
		indicators = indicators[:promptIndicatorsMax]
	}
	if len(indicators) == 0 {
		sb.WriteString("- none\n")
	}
	for _, ind := range indicators {
		fmt.Fprintf(&sb, "- [%s] %s\n", ind.Severity, ind.Description)
	}

	body := email.Body
	if len(body) > promptBodyLimit {
		body = body[:promptBodyLimit]
	}
	fmt.Fprintf(&sb, "\nBody excerpt:\n%s\n", body)
	return sb.String()
}

// isUnauthorized reports whether the error is an auth problem that
// retrying cannot fix.
func isUnauthorized(err error) bool {
	var accessDenied *types.AccessDeniedException
	if errors.As(err, &accessDenied) {
		return true
	}
	var validation *types.ValidationException
	if errors.As(err, &validation) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "access denied") ||
		strings.Contains(msg, "security token") ||
		strings.Contains(msg, "invalid api key") ||
		strings.Contains(msg, "unauthorized")
}
