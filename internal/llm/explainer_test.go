package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/phishtriage/internal/config"
	"github.com/ignite/phishtriage/internal/domain"
)

type fakeInvoker struct {
	calls     int
	responses []fakeResponse
}

type fakeResponse struct {
	text string
	err  error
}

func (f *fakeInvoker) InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	idx := f.calls
	f.calls++
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	r := f.responses[idx]
	if r.err != nil {
		return nil, r.err
	}
	body := fmt.Sprintf(`{"content":[{"type":"text","text":%q}]}`, r.text)
	return &bedrockruntime.InvokeModelOutput{Body: []byte(body)}, nil
}

func testExplainer(invoker Invoker) *Explainer {
	e := New(config.LLMConfig{
		Enabled:          true,
		ModelID:          "anthropic.claude-3-sonnet-20240229-v1:0",
		TimeoutMs:        1000,
		Retries:          2,
		BreakerThreshold: 3,
		BreakerResetMs:   60000,
	}, invoker)
	e.sleep = func(time.Duration) {}
	return e
}

func borderlineResult() domain.AnalysisResult {
	return domain.AnalysisResult{
		RiskScore: 5.2,
		Indicators: []domain.ThreatIndicator{
			{Severity: domain.SeverityHigh, Description: "SPF authentication did not pass (fail)"},
		},
	}
}

func TestShouldExplain(t *testing.T) {
	e := testExplainer(&fakeInvoker{responses: []fakeResponse{{text: "x"}}})

	assert.False(t, e.ShouldExplain(2.0))
	assert.True(t, e.ShouldExplain(4.0))
	assert.True(t, e.ShouldExplain(6.0))
	assert.False(t, e.ShouldExplain(8.5))

	e.cfg.DemoMode = true
	assert.True(t, e.ShouldExplain(0.0))

	e.cfg.Enabled = false
	e.cfg.DemoMode = false
	assert.False(t, e.ShouldExplain(5.0))
}

func TestExplain_ReturnsModelText(t *testing.T) {
	inv := &fakeInvoker{responses: []fakeResponse{{text: "This email failed sender checks."}}}
	e := testExplainer(inv)

	text, err := e.Explain(context.Background(), domain.Email{Subject: "s"}, borderlineResult())
	require.NoError(t, err)
	assert.Equal(t, "This email failed sender checks.", text)
	assert.Equal(t, 1, inv.calls)
}

func TestExplain_RetriesTransientErrors(t *testing.T) {
	inv := &fakeInvoker{responses: []fakeResponse{
		{err: errors.New("throttled, try later")},
		{text: "recovered"},
	}}
	e := testExplainer(inv)

	text, err := e.Explain(context.Background(), domain.Email{}, borderlineResult())
	require.NoError(t, err)
	assert.Equal(t, "recovered", text)
	assert.Equal(t, 2, inv.calls)
}

func TestExplain_RetryDelayDoublesPerAttempt(t *testing.T) {
	inv := &fakeInvoker{responses: []fakeResponse{
		{err: errors.New("throttled, try later")},
	}}
	e := testExplainer(inv)
	e.cfg.Retries = 3

	var delays []time.Duration
	e.sleep = func(d time.Duration) { delays = append(delays, d) }

	_, err := e.Explain(context.Background(), domain.Email{}, borderlineResult())
	require.Error(t, err)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, delays)
}

func TestExplain_DoesNotRetryUnauthorized(t *testing.T) {
	inv := &fakeInvoker{responses: []fakeResponse{
		{err: &types.AccessDeniedException{Message: strPtr("nope")}},
	}}
	e := testExplainer(inv)

	_, err := e.Explain(context.Background(), domain.Email{}, borderlineResult())
	require.Error(t, err)
	assert.Equal(t, 1, inv.calls)
}

func TestExplain_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inv := &fakeInvoker{responses: []fakeResponse{
		{err: &types.AccessDeniedException{Message: strPtr("nope")}},
	}}
	e := testExplainer(inv)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := e.Explain(ctx, domain.Email{}, borderlineResult())
		require.Error(t, err)
	}

	// Breaker open: no further invocations happen at all.
	before := inv.calls
	_, err := e.Explain(ctx, domain.Email{}, borderlineResult())
	require.Error(t, err)
	assert.Equal(t, before, inv.calls)
}

func TestBuildPrompt(t *testing.T) {
	email := domain.Email{
		Subject: "Invoice overdue",
		Sender:  "billing@vendor.example",
		Body:    strings.Repeat("a", 600),
	}
	result := domain.AnalysisResult{RiskScore: 4.7}
	for i := 0; i < 7; i++ {
		result.Indicators = append(result.Indicators, domain.ThreatIndicator{
			Severity:    domain.SeverityMedium,
			Description: fmt.Sprintf("indicator %d", i),
		})
	}

	prompt := buildPrompt(email, result)
	assert.Contains(t, prompt, "Subject: Invoice overdue")
	assert.Contains(t, prompt, "Risk score: 4.7")
	assert.Contains(t, prompt, "indicator 4")
	assert.NotContains(t, prompt, "indicator 5", "indicators are capped at five")
	assert.NotContains(t, prompt, strings.Repeat("a", 501), "body is truncated")
}

func strPtr(s string) *string { return &s }
