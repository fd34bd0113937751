package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/himo777777/Ortokompanion-sub000/internal/application/command"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/progression"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
	"github.com/himo777777/Ortokompanion-sub000/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATE RETENTION CHECKS JOB
// ══════════════════════════════════════════════════════════════════════════════

// RetentionEvaluator completes one retention check.
// command.CompleteRetentionCheckHandler implements it.
type RetentionEvaluator interface {
	Handle(ctx context.Context, cmd command.CompleteRetentionCheckCommand) (*command.CompleteRetentionCheckResult, error)
}

// EvaluateRetentionJob completes every retention check whose scheduled time
// has passed.
type EvaluateRetentionJob struct {
	checks    progression.RetentionRepository
	evaluator RetentionEvaluator
	batchSize int
	now       func() time.Time
	log       *logger.Logger
}

// NewEvaluateRetentionJob creates the job. now may be nil.
func NewEvaluateRetentionJob(checks progression.RetentionRepository, evaluator RetentionEvaluator, batchSize int, now func() time.Time, log *logger.Logger) *EvaluateRetentionJob {
	if batchSize <= 0 {
		batchSize = 100
	}
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = logger.Nop()
	}
	return &EvaluateRetentionJob{
		checks:    checks,
		evaluator: evaluator,
		batchSize: batchSize,
		now:       now,
		log:       log.With(logger.Component("evaluate_retention_checks")),
	}
}

// Name implements scheduler.Job.
func (j *EvaluateRetentionJob) Name() string { return "evaluate_retention_checks" }

// Description implements scheduler.Job.
func (j *EvaluateRetentionJob) Description() string {
	return "Evaluates retention checks that have come due"
}

// Run implements scheduler.Job. Checks whose learner is busy recording a
// session are left for the next run.
func (j *EvaluateRetentionJob) Run(ctx context.Context) error {
	due, err := j.checks.ListDue(ctx, j.now(), j.batchSize)
	if err != nil {
		return fmt.Errorf("evaluate_retention_checks: failed to list due checks: %w", err)
	}

	var (
		passed, failed, deferred int
		errs                     []error
	)
	for _, check := range due {
		if err := ctx.Err(); err != nil {
			return err
		}

		res, err := j.evaluator.Handle(ctx, command.CompleteRetentionCheckCommand{CheckID: check.ID})
		switch {
		case err == nil && res.Passed:
			passed++
		case err == nil:
			failed++
		case shared.IsConflict(err):
			deferred++
		default:
			errs = append(errs, fmt.Errorf("check %s: %w", check.ID, err))
		}
	}

	j.log.Info("retention checks evaluated",
		logger.Int("due", len(due)),
		logger.Int("passed", passed),
		logger.Int("failed", failed),
		logger.Int("deferred", deferred),
		logger.Int("errors", len(errs)),
	)

	if len(errs) > 0 {
		return fmt.Errorf("evaluate_retention_checks: %w", errors.Join(errs...))
	}
	return nil
}
