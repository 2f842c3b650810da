package crawl

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/medreg/registry-cli/internal/model"
)

// ExecutionRepo is the slice of the execution repository the orchestrator
// needs. *execution.Repo satisfies it.
type ExecutionRepo interface {
	Get(ctx context.Context, id string) (*model.Execution, error)
	Start(ctx context.Context, id string) error
	Pause(ctx context.Context, id string) error
	Complete(ctx context.Context, id string) error
	Status(ctx context.Context, id string) (model.ExecutionStatus, error)
	PendingStates(ctx context.Context, executionID string) ([]*model.ExecutionState, error)
	AllStatesDone(ctx context.Context, executionID string) (bool, error)
}

// RegionCrawler crawls one region to completeness. *StateCrawler
// satisfies it.
type RegionCrawler interface {
	Crawl(ctx context.Context, st *model.ExecutionState, params model.ExecutionParams) (Outcome, error)
}

// Orchestrator sequences region crawls for one execution. Regions run
// strictly one at a time to keep token and rate-limit pressure predictable.
type Orchestrator struct {
	repo    ExecutionRepo
	crawler RegionCrawler
	log     *zap.Logger
}

// NewOrchestrator wires an Orchestrator.
func NewOrchestrator(repo ExecutionRepo, crawler RegionCrawler) *Orchestrator {
	return &Orchestrator{
		repo:    repo,
		crawler: crawler,
		log:     zap.L().With(zap.String("component", "orchestrator")),
	}
}

// Run executes every pending region of the execution and settles the
// execution's final status. Calling Run again on a paused execution
// resumes only the regions that are not yet completed or skipped.
//
// Outcome semantics:
//   - OutcomeCompleted: every region is completed or skipped.
//   - OutcomeTokenExpired: the token died mid-run; execution is paused.
//   - OutcomeStopped: cancelled mid-run or the max_results cap was hit.
//   - OutcomeFailed: at least one region failed; execution is paused so
//     the failed regions are retried on the next run.
func (o *Orchestrator) Run(ctx context.Context, executionID string) (Outcome, error) {
	log := o.log.With(zap.String("execution_id", executionID))

	exec, err := o.repo.Get(ctx, executionID)
	if err != nil {
		return OutcomeFailed, err
	}
	if exec.Status.Terminal() {
		return OutcomeFailed, eris.Errorf("orchestrator: execution %s is already %s", executionID, exec.Status)
	}

	if err := o.repo.Start(ctx, executionID); err != nil {
		return OutcomeFailed, err
	}

	states, err := o.repo.PendingStates(ctx, executionID)
	if err != nil {
		return OutcomeFailed, err
	}
	if len(states) == 0 {
		return o.settle(ctx, executionID, false)
	}

	log.Info("execution starting",
		zap.Int("pending_regions", len(states)),
		zap.Int("page_size", exec.PageSize),
		zap.Int("batch_size", exec.BatchSize))

	var regionFailures int
	for _, st := range states {
		// Cooperative cancellation at region boundaries.
		status, err := o.repo.Status(ctx, executionID)
		if err != nil {
			return OutcomeFailed, err
		}
		if status == model.ExecutionCancelled {
			log.Info("execution cancelled, stopping", zap.String("next_region", st.Region))
			return OutcomeStopped, nil
		}

		outcome, err := o.crawler.Crawl(ctx, st, exec.Params)
		switch outcome {
		case OutcomeCompleted:
			log.Info("region completed", zap.String("region", st.Region))

		case OutcomeTokenExpired:
			// Remaining regions would fail identically; pause the whole
			// execution until the operator stores a fresh token.
			log.Warn("token expired, pausing execution",
				zap.String("region", st.Region),
				zap.Error(err))
			if perr := o.repo.Pause(ctx, executionID); perr != nil {
				return OutcomeFailed, perr
			}
			return OutcomeTokenExpired, err

		case OutcomeStopped:
			log.Info("region crawl stopped early", zap.String("region", st.Region))
			if perr := o.repo.Pause(ctx, executionID); perr != nil {
				return OutcomeFailed, perr
			}
			return OutcomeStopped, nil

		case OutcomeBlocked, OutcomeFailed:
			// The crawler already marked the state failed; move on to the
			// next region rather than aborting the run.
			regionFailures++
			log.Error("region failed",
				zap.String("region", st.Region),
				zap.String("outcome", outcome.String()),
				zap.Error(err))
		}
	}

	return o.settle(ctx, executionID, regionFailures > 0)
}

// settle recomputes execution completeness after a pass over the regions.
func (o *Orchestrator) settle(ctx context.Context, executionID string, hadFailures bool) (Outcome, error) {
	done, err := o.repo.AllStatesDone(ctx, executionID)
	if err != nil {
		return OutcomeFailed, err
	}
	if done {
		if err := o.repo.Complete(ctx, executionID); err != nil {
			return OutcomeFailed, err
		}
		o.log.Info("execution completed", zap.String("execution_id", executionID))
		return OutcomeCompleted, nil
	}
	if err := o.repo.Pause(ctx, executionID); err != nil {
		return OutcomeFailed, err
	}
	if hadFailures {
		return OutcomeFailed, eris.Errorf("orchestrator: execution %s paused with failed regions", executionID)
	}
	return OutcomeStopped, nil
}
