package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/flowsmith-ai/flowsmith/internal/core"
	"github.com/flowsmith-ai/flowsmith/internal/logging"
)

// Coordinator submits workflow definitions to the engine, applying the
// retry policy and invoking the healer on healable rejections. One
// DeploymentAttempt record is written per submission; a succeeded
// definition is never resubmitted or mutated.
type Coordinator struct {
	engine   core.EngineClient
	attempts core.AttemptStore
	healer   *Healer
	policy   *RetryPolicy
	logger   *logging.Logger
}

// NewCoordinator creates a deployment coordinator.
func NewCoordinator(engine core.EngineClient, attempts core.AttemptStore, healer *Healer, policy *RetryPolicy, logger *logging.Logger) *Coordinator {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Coordinator{
		engine:   engine,
		attempts: attempts,
		healer:   healer,
		policy:   policy,
		logger:   logger,
	}
}

// Deploy submits the definition until it is accepted, healed-and-accepted,
// or the policy is exhausted. The returned result always carries the last
// classification and raw diagnostic so the caller can distinguish
// "temporarily overloaded" from "fundamentally unsupported". Caller
// cancellation aborts the in-flight submission and short-circuits
// further retries.
func (c *Coordinator) Deploy(ctx context.Context, slot *core.TenantSlot, def *core.WorkflowDefinition) *core.DeploymentResult {
	log := c.logger.WithTenant(slot.TenantID).WithWorkflow(def.Name)

	if err := def.Validate(slot.Tag()); err != nil {
		return &core.DeploymentResult{
			Status:         core.AttemptFailed,
			Classification: core.ClassSchemaViolation,
			Diagnostic:     err.Error(),
		}
	}

	current := def
	var last *core.DeploymentAttempt

	maxAttempts := c.policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		record := c.beginAttempt(ctx, current.Name, attempt)
		last = record

		wf, err := c.submit(ctx, current)
		if err == nil {
			record.EngineID = wf.ID
			record.Finish(core.AttemptSucceeded)
			c.record(ctx, record)
			log.Info("workflow deployed", "engine_id", wf.ID, "attempts", attempt)
			return &core.DeploymentResult{
				Status:   core.AttemptSucceeded,
				EngineID: wf.ID,
				Endpoint: wf.Endpoint,
				Attempts: attempt,
			}
		}

		class := core.ClassOf(err)
		record.Classification = class
		record.Diagnostic = err.Error()

		if ctx.Err() != nil {
			// Caller cancelled; classify as timeout, never auto-retry.
			// The record is written on a detached context, the caller's
			// is already dead.
			record.Classification = core.ClassTimeout
			record.Finish(core.AttemptFailed)
			c.record(context.WithoutCancel(ctx), record)
			return c.terminal(record, core.AttemptFailed)
		}

		if !c.policy.ShouldRetry(class, attempt) {
			status := core.AttemptFailed
			if class.Retryable() {
				// Recoverable class but the attempt budget is spent.
				status = core.AttemptExhausted
			}
			record.Finish(status)
			c.record(ctx, record)
			log.Warn("deployment terminal", "classification", class.String(), "attempts", attempt)
			return c.terminal(record, status)
		}

		if class.Healable() {
			healed, healErr := c.healer.Heal(current, class)
			if healErr != nil {
				var de *core.DesignError
				if errors.As(healErr, &de) {
					record.Diagnostic = de.Error()
				}
				record.Finish(core.AttemptFailed)
				c.record(ctx, record)
				log.Warn("healing failed", "classification", class.String(), "error", healErr.Error())
				return c.terminal(record, core.AttemptFailed)
			}
			current = healed
			record.Finish(core.AttemptHealedRetry)
			c.record(ctx, record)
			log.Info("definition healed, resubmitting", "classification", class.String(), "attempt", attempt)
			continue
		}

		// Timeout or rate limit: back off and resubmit unchanged.
		record.Finish(core.AttemptFailed)
		c.record(ctx, record)
		log.Info("backing off before resubmission", "classification", class.String(), "attempt", attempt)
		if err := c.policy.Wait(ctx, attempt); err != nil {
			// Cancelled mid-backoff. Re-record so the persisted chain
			// carries the same timeout classification the result does.
			record.Classification = core.ClassTimeout
			c.record(context.WithoutCancel(ctx), record)
			return c.terminal(record, core.AttemptFailed)
		}
	}

	last.Status = core.AttemptExhausted
	return c.terminal(last, core.AttemptExhausted)
}

// submit performs one engine call under the policy's request timeout.
func (c *Coordinator) submit(ctx context.Context, def *core.WorkflowDefinition) (*core.EngineWorkflow, error) {
	subCtx := ctx
	if c.policy.RequestTimeout > 0 {
		var cancel context.CancelFunc
		subCtx, cancel = context.WithTimeout(ctx, c.policy.RequestTimeout)
		defer cancel()
	}
	return c.engine.CreateWorkflow(subCtx, def)
}

func (c *Coordinator) beginAttempt(ctx context.Context, workflowName string, number int) *core.DeploymentAttempt {
	record := &core.DeploymentAttempt{
		ID:            uuid.NewString(),
		WorkflowName:  workflowName,
		Status:        core.AttemptPending,
		AttemptNumber: number,
		StartedAt:     time.Now(),
	}
	c.record(ctx, record)
	return record
}

func (c *Coordinator) record(ctx context.Context, a *core.DeploymentAttempt) {
	if c.attempts == nil {
		return
	}
	if err := c.attempts.RecordAttempt(ctx, a); err != nil {
		c.logger.Warn("recording attempt failed", "attempt", a.AttemptNumber, "error", err.Error())
	}
}

func (c *Coordinator) terminal(last *core.DeploymentAttempt, status core.AttemptStatus) *core.DeploymentResult {
	return &core.DeploymentResult{
		Status:         status,
		Attempts:       last.AttemptNumber,
		Classification: last.Classification,
		Diagnostic:     last.Diagnostic,
	}
}
