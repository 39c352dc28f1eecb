package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"github.com/PremiereGlobal/quicksight-admin/pkg/diff"
	"github.com/PremiereGlobal/quicksight-admin/pkg/quicksight"
)

const (
	defaultWorkers    = 5
	defaultMaxRetries = 4
)

// Engine applies an EditSet to the target in stage order. Edits inside a
// stage run concurrently; a stage never starts until the one before it has
// fully finished, so creates land before the attachments that need them
// and deletes come last. One edit failing never stops its siblings.
type Engine struct {
	API quicksight.AdminAPI

	// Workers caps concurrent edits within a stage.
	Workers int
	// MaxRetries bounds retries of a retryable failure per edit.
	MaxRetries int
	// RetryInterval is the initial backoff delay. Zero means the backoff
	// default; tests shrink it.
	RetryInterval time.Duration
	// DryRun records every edit as skipped without touching the target.
	DryRun bool
}

// Apply runs every edit and records each one's fate in report. It does not
// return an error: partial failure is an expected mode, and the report is
// the full account.
func (e *Engine) Apply(ctx context.Context, edits *diff.EditSet, report *Report) {
	if edits.Empty() {
		log.Info("Target already matches desired state, nothing to apply")
		return
	}

	if e.DryRun {
		for _, stage := range edits.Stages() {
			for _, op := range stage {
				log.Infof("Dry run, would apply: %s", op)
				report.Add(OpResult{Op: op, Outcome: OutcomeSkipped})
			}
		}
		return
	}

	log.Infof("Applying %d edit(s)", edits.Len())
	for _, stage := range edits.Stages() {
		if ctx.Err() != nil {
			// Out of cycle budget. Everything left is recorded rather
			// than silently dropped.
			for _, op := range stage {
				report.Add(OpResult{Op: op, Outcome: OutcomeNotAttempted})
			}
			continue
		}
		e.applyStage(ctx, stage, report)
	}
}

func (e *Engine) applyStage(ctx context.Context, stage []diff.Op, report *Report) {
	workers := e.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	if workers > len(stage) {
		workers = len(stage)
	}

	taskChan := make(chan diff.Op, len(stage))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerNum int) {
			defer wg.Done()
			for op := range taskChan {
				e.runOne(ctx, workerNum, op, report)
			}
		}(i)
	}
	for _, op := range stage {
		taskChan <- op
	}
	close(taskChan)
	wg.Wait()
}

func (e *Engine) runOne(ctx context.Context, workerNum int, op diff.Op, report *Report) {
	if ctx.Err() != nil {
		report.Add(OpResult{Op: op, Outcome: OutcomeNotAttempted})
		return
	}

	maxRetries := e.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	policy := backoff.NewExponentialBackOff()
	if e.RetryInterval > 0 {
		policy.InitialInterval = e.RetryInterval
	}
	wait := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(maxRetries)), ctx)

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := e.execute(ctx, op)
		if err == nil {
			return nil
		}
		if quicksight.IsRetryable(err) {
			log.Warnf("Retryable failure on [%s], will try again: %v {worker-%d}", op, err, workerNum)
			return err
		}
		return backoff.Permanent(err)
	}, wait)

	if err != nil {
		log.Errorf("Failed [%s] after %d attempt(s): %v {worker-%d}", op, attempts, err, workerNum)
		report.Add(OpResult{
			Op:        op,
			Outcome:   OutcomeFailed,
			Attempts:  attempts,
			Retryable: quicksight.IsRetryable(err),
			Error:     err.Error(),
		})
		return
	}
	log.Infof("Applied [%s] {worker-%d}", op, workerNum)
	report.Add(OpResult{Op: op, Outcome: OutcomeApplied, Attempts: attempts})
}

// execute performs one edit. Creating something already there and deleting
// something already gone both count as success; a rerun after a partial
// cycle has to converge, not trip over its own earlier progress.
func (e *Engine) execute(ctx context.Context, op diff.Op) error {
	switch op.Kind {
	case diff.EnsureNamespace:
		return ignoreExists(e.API.CreateNamespace(ctx, op.Namespace))
	case diff.CreateGroup:
		return ignoreExists(e.API.CreateGroup(ctx, op.Namespace, op.Group))
	case diff.RegisterUser:
		return ignoreExists(e.API.RegisterUser(ctx, op.Namespace, op.User, op.Role))
	case diff.SetUserRole:
		return e.API.UpdateUserRole(ctx, op.Namespace, op.User, op.Role)
	case diff.AddGroupMember:
		return ignoreExists(e.API.AddGroupMember(ctx, op.Namespace, op.Group, op.User))
	case diff.PutAssetGrant:
		return e.API.PutAssetGrant(ctx, op.Category, op.AssetID, op.Namespace, op.Group, op.Level)
	case diff.RemoveGroupMember:
		return ignoreNotFound(e.API.RemoveGroupMember(ctx, op.Namespace, op.Group, op.User))
	case diff.RevokeAssetGrant:
		return e.API.RevokeAssetGrant(ctx, op.Category, op.AssetID, op.Namespace, op.Group)
	case diff.DeleteUser:
		return ignoreNotFound(e.API.DeleteUser(ctx, op.Namespace, op.User))
	case diff.DeleteGroup:
		return ignoreNotFound(e.API.DeleteGroup(ctx, op.Namespace, op.Group))
	}
	return fmt.Errorf("unknown edit kind [%s]", op.Kind)
}

func ignoreExists(err error) error {
	if err != nil && quicksight.IsAlreadyExists(err) {
		return nil
	}
	return err
}

func ignoreNotFound(err error) error {
	if err != nil && quicksight.IsNotFound(err) {
		return nil
	}
	return err
}
