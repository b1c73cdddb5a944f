// Package orchestrator drives one email through the full triage
// pipeline: guardrails, parallel analysis and enrichment, optional
// model explanation, scoring, and the reply decision.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ignite/phishtriage/internal/analyzer"
	"github.com/ignite/phishtriage/internal/config"
	"github.com/ignite/phishtriage/internal/dedup"
	"github.com/ignite/phishtriage/internal/domain"
	"github.com/ignite/phishtriage/internal/graph"
	"github.com/ignite/phishtriage/internal/guard"
	"github.com/ignite/phishtriage/internal/intel"
	"github.com/ignite/phishtriage/internal/llm"
	"github.com/ignite/phishtriage/internal/metrics"
	"github.com/ignite/phishtriage/internal/pkg/corrctx"
	"github.com/ignite/phishtriage/internal/pkg/logger"
	"github.com/ignite/phishtriage/internal/ratelimit"
	"github.com/ignite/phishtriage/internal/reply"
)

// Status classifies how the pipeline disposed of an email.
type Status string

const (
	// StatusReplied means a verdict reply was sent back to the sender.
	StatusReplied Status = "replied"
	// StatusGuardDenied means a pre-analysis guardrail stopped processing.
	StatusGuardDenied Status = "guard-denied"
	// StatusSuppressed means a verdict was reached but the reply was
	// withheld by deduplication or rate limiting.
	StatusSuppressed Status = "suppressed"
	// StatusError means the pipeline failed before a reply could be sent.
	StatusError Status = "error"
)

// Outcome is the terminal record of one pipeline run.
type Outcome struct {
	Status Status
	Reason string
	Result *domain.AnalysisResult
}

// MailClient is the slice of the provider client the orchestrator uses.
type MailClient interface {
	GetMessage(ctx context.Context, providerID string) (domain.Email, error)
	SendMail(ctx context.Context, msg domain.OutboundMessage) error
}

// Orchestrator executes the triage pipeline with a bounded number of
// emails in flight.
type Orchestrator struct {
	cfg       *config.Config
	mail      MailClient
	guard     *guard.Guard
	enricher  *intel.Enricher
	explainer *llm.Explainer
	dedup     *dedup.Deduplicator
	limiter   *ratelimit.Limiter
	builder   *reply.Builder
	registry  *metrics.Registry
	sem       *semaphore.Weighted

	now func() time.Time
}

// New wires the pipeline. enricher and explainer may be nil when their
// features are disabled.
func New(cfg *config.Config, mail MailClient, g *guard.Guard, enricher *intel.Enricher,
	explainer *llm.Explainer, d *dedup.Deduplicator, limiter *ratelimit.Limiter,
	builder *reply.Builder, registry *metrics.Registry) *Orchestrator {
	limit := cfg.Pipeline.ParallelLimit
	if limit <= 0 {
		limit = 1
	}
	return &Orchestrator{
		cfg:       cfg,
		mail:      mail,
		guard:     g,
		enricher:  enricher,
		explainer: explainer,
		dedup:     d,
		limiter:   limiter,
		builder:   builder,
		registry:  registry,
		sem:       semaphore.NewWeighted(int64(limit)),
		now:       time.Now,
	}
}

// ProcessMessage fetches a message by provider id and runs the pipeline.
// It is the queue handler: fetch errors are returned so the queue
// retries them, everything past the fetch is terminal.
func (o *Orchestrator) ProcessMessage(ctx context.Context, providerID string) error {
	email, err := o.mail.GetMessage(ctx, providerID)
	if err != nil {
		if graph.IsNotFound(err) {
			logger.Warn("message vanished before processing", "provider_id", providerID)
			o.registry.Inc("pipeline.messages_vanished")
			return nil
		}
		return fmt.Errorf("fetching message %s: %w", providerID, err)
	}
	_, err = o.ProcessEmail(ctx, email)
	return err
}

// ProcessEmail runs one email through the pipeline and reports the
// outcome. The returned error is non-nil only when the run could not
// start (context cancellation while waiting for a slot).
func (o *Orchestrator) ProcessEmail(ctx context.Context, email domain.Email) (Outcome, error) {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return Outcome{Status: StatusError, Reason: "pipeline shutting down"}, err
	}
	defer o.sem.Release(1)

	start := o.now()
	if arrived := corrctx.From(ctx).ArrivedAt; !arrived.IsZero() {
		o.registry.Observe("pipeline.notification_to_start", start.Sub(arrived))
	}

	outcome := o.run(ctx, email)

	o.registry.Observe("pipeline.duration", o.now().Sub(start))
	o.registry.IncLabeled("pipeline.outcomes", string(outcome.Status))
	return outcome, nil
}

func (o *Orchestrator) run(ctx context.Context, email domain.Email) Outcome {
	log := logger.With("correlation_id", corrctx.ID(ctx), "message_id", email.MessageID)

	if decision := o.guard.Evaluate(ctx, email); !decision.Allowed {
		log.Info("guardrail denied processing", "reason", decision.Reason)
		o.registry.IncLabeled("guard.denied", decision.Reason)
		return Outcome{Status: StatusGuardDenied, Reason: decision.Reason}
	}

	result, err := o.analyze(ctx, email)
	if err != nil {
		log.Error("analysis failed", "error", err)
		o.registry.Inc("pipeline.analysis_errors")
		return Outcome{Status: StatusError, Reason: err.Error()}
	}

	if o.explainer != nil && o.explainer.ShouldExplain(result.RiskScore) {
		explanation, err := o.explainer.Explain(ctx, email, result)
		if err != nil {
			log.Warn("explanation skipped", "error", err)
			o.registry.Inc("llm.failures")
		} else {
			result.Explanation = explanation
			o.registry.Inc("llm.explanations")
		}
	}

	o.registry.Inc("analyses.total")
	o.registry.IncLabeled("analyses.severity", string(result.Severity))
	log.Info("analysis complete",
		"risk_score", result.RiskScore,
		"is_phishing", result.IsPhishing,
		"severity", result.Severity,
		"indicators", len(result.Indicators))

	// Every triaged email gets a verdict reply, benign ones included;
	// dedup and rate limiting gate both kinds equally.
	return o.reply(ctx, log, email, result)
}

// analyze fans the three analyzers and the intel enricher out as
// concurrent subtasks and waits for all of them; no subtask's failure
// cancels a sibling. A panic in any branch fails the run instead of
// crashing the process.
func (o *Orchestrator) analyze(ctx context.Context, email domain.Email) (domain.AnalysisResult, error) {
	var (
		header, content, attachment analyzer.Report
		finding                     intel.Finding
		wg                          sync.WaitGroup
		mu                          sync.Mutex
		panicked                    error
	)
	spawn := func(task func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					mu.Lock()
					panicked = fmt.Errorf("analyzer panic: %v", r)
					mu.Unlock()
				}
			}()
			task()
		}()
	}

	spawn(func() { header = analyzer.AnalyzeHeaders(email) })
	spawn(func() { content = analyzer.AnalyzeContent(email) })
	spawn(func() { attachment = analyzer.AnalyzeAttachments(email) })
	if o.enricher != nil {
		spawn(func() { finding = o.enricher.Enrich(ctx, email) })
	}

	wg.Wait()
	if panicked != nil {
		return domain.AnalysisResult{}, panicked
	}
	return analyzer.Aggregate(email.MessageID, header, content, attachment, finding.Indicators, finding.Risk), nil
}

func (o *Orchestrator) reply(ctx context.Context, log *logger.Fielded, email domain.Email, result domain.AnalysisResult) Outcome {
	decision, err := o.dedup.Check(ctx, email.Sender, email.Subject, email.Body)
	if err != nil {
		log.Warn("duplicate check degraded, allowing", "error", err)
	} else if !decision.Allowed {
		log.Info("reply suppressed", "reason", decision.Reason)
		o.registry.IncLabeled("replies.suppressed", "dedup")
		return Outcome{Status: StatusSuppressed, Reason: decision.Reason, Result: &result}
	}

	rate, err := o.limiter.CanSend(ctx, o.cfg.Mailbox.Address)
	if err != nil {
		log.Warn("rate check degraded, allowing", "error", err)
	} else if !rate.Allowed {
		log.Warn("reply suppressed", "reason", rate.Reason)
		o.registry.IncLabeled("replies.suppressed", "rate")
		return Outcome{Status: StatusSuppressed, Reason: rate.Reason, Result: &result}
	}

	msg, err := o.builder.Build(email, result)
	if err != nil {
		log.Error("building reply failed", "error", err)
		o.registry.Inc("replies.build_errors")
		return Outcome{Status: StatusError, Reason: err.Error(), Result: &result}
	}

	// A failed send is not retried: the verdict is already recorded in
	// the logs and a delayed duplicate warning is worse than none.
	if err := o.mail.SendMail(ctx, msg); err != nil {
		log.Error("sending reply failed", "error", err)
		o.registry.Inc("replies.send_errors")
		return Outcome{Status: StatusError, Reason: err.Error(), Result: &result}
	}

	if err := o.dedup.RecordProcessed(ctx, email.Sender, email.Subject, email.Body); err != nil {
		log.Warn("recording dedup state failed", "error", err)
	}
	if err := o.limiter.RecordSent(ctx, o.cfg.Mailbox.Address); err != nil {
		log.Warn("recording sent reply failed", "error", err)
	}

	o.registry.Inc("replies.sent")
	log.Info("verdict reply sent", "recipient", email.Sender, "severity", result.Severity)
	return Outcome{Status: StatusReplied, Result: &result}
}
