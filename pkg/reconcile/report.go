// Package reconcile applies a computed edit set to the target and keeps
// the durable record of what happened.
package reconcile

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PremiereGlobal/quicksight-admin/pkg/diff"
	"github.com/PremiereGlobal/quicksight-admin/pkg/state"
)

// Outcome classifies how a single edit ended up.
type Outcome string

const (
	// OutcomeApplied landed on the target.
	OutcomeApplied Outcome = "applied"
	// OutcomeFailed exhausted its retries or hit a terminal error.
	OutcomeFailed Outcome = "failed"
	// OutcomeSkipped was withheld by dry-run mode.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeNotAttempted never ran because the cycle gave up first.
	OutcomeNotAttempted Outcome = "not-attempted"
)

// OpResult is one edit's fate.
type OpResult struct {
	Op        diff.Op `json:"op"`
	Outcome   Outcome `json:"outcome"`
	Attempts  int     `json:"attempts,omitempty"`
	Retryable bool    `json:"retryable,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// SkippedNamespace records a namespace left untouched for a cycle.
type SkippedNamespace struct {
	Namespace string `json:"namespace"`
	Reason    string `json:"reason"`
}

// SkippedAsset records an asset whose grants were left untouched.
type SkippedAsset struct {
	Namespace string `json:"namespace"`
	Asset     string `json:"asset"`
	Reason    string `json:"reason"`
}

// Report is the persisted record of one reconciliation cycle: what was
// decided, what was skipped and how every edit fared.
type Report struct {
	mu sync.Mutex

	CycleID    string    `json:"cycle_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DryRun     bool      `json:"dry_run,omitempty"`

	// NoOp marks a cycle that deliberately changed nothing, with the
	// reason (no usable identity data, lease held, and so on).
	NoOp       bool   `json:"no_op,omitempty"`
	NoOpReason string `json:"no_op_reason,omitempty"`

	Issues            []state.Issue      `json:"issues,omitempty"`
	SkippedNamespaces []SkippedNamespace `json:"skipped_namespaces,omitempty"`
	SkippedAssets     []SkippedAsset     `json:"skipped_assets,omitempty"`

	Results      []OpResult `json:"results,omitempty"`
	Applied      int        `json:"applied"`
	Failed       int        `json:"failed"`
	NotAttempted int        `json:"not_attempted"`
}

// NewReport starts the record for a fresh cycle.
func NewReport() *Report {
	return &Report{
		CycleID:   uuid.New().String(),
		StartedAt: time.Now().UTC(),
	}
}

// Add records one edit's result. Safe to call from apply workers.
func (r *Report) Add(res OpResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Results = append(r.Results, res)
	switch res.Outcome {
	case OutcomeApplied:
		r.Applied++
	case OutcomeFailed:
		r.Failed++
	case OutcomeNotAttempted:
		r.NotAttempted++
	}
}

// Finish stamps the end of the cycle.
func (r *Report) Finish() {
	r.FinishedAt = time.Now().UTC()
}

// Summary is the one-line human rendering used in logs.
func (r *Report) Summary() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.NoOp {
		return fmt.Sprintf("no-op cycle: %s", r.NoOpReason)
	}
	if r.DryRun {
		return fmt.Sprintf("dry run: %d edit(s) would be applied", len(r.Results))
	}
	return fmt.Sprintf("%d applied, %d failed, %d not attempted of %d edit(s)",
		r.Applied, r.Failed, r.NotAttempted, len(r.Results))
}
