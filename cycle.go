package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/PremiereGlobal/quicksight-admin/pkg/diff"
	"github.com/PremiereGlobal/quicksight-admin/pkg/manifest"
	"github.com/PremiereGlobal/quicksight-admin/pkg/okta"
	"github.com/PremiereGlobal/quicksight-admin/pkg/quicksight"
	"github.com/PremiereGlobal/quicksight-admin/pkg/reconcile"
	"github.com/PremiereGlobal/quicksight-admin/pkg/state"
	"github.com/PremiereGlobal/quicksight-admin/pkg/store"
)

// governance wires one reconciliation loop together: the directory the
// truth comes from, the store the manifests and records live in, and the
// target being governed. main assembles it from Spec; tests from fakes.
type governance struct {
	store     store.ObjectStore
	directory okta.Directory
	target    quicksight.AdminAPI

	userGovernanceKey  string
	assetGovernanceKey string

	groupPrefix string
	mapping     state.RoleMapping
	resolution  state.Resolution

	createEmptyGroups bool
	deregisterUsers   bool

	holder        string
	leaseTTL      time.Duration
	workers       int
	dryRun        bool
	retryInterval time.Duration
}

// runCycle performs one full reconciliation: lease, gather, build, read,
// diff, apply, report. The returned error covers infrastructure trouble
// only; input problems and edit failures degrade into the report instead.
func (g *governance) runCycle(ctx context.Context) (*reconcile.Report, error) {
	report := reconcile.NewReport()
	report.DryRun = g.dryRun
	log.Infof("Starting reconciliation cycle [%s]", report.CycleID)

	if _, err := store.AcquireLease(ctx, g.store, g.holder, g.leaseTTL); err != nil {
		if errors.Is(err, store.ErrLeaseHeld) {
			log.Warnf("Skipping cycle: %v", err)
			return g.noOp(report, err.Error())
		}
		return nil, err
	}
	defer func() {
		// Release must not be lost to a spent cycle budget.
		if err := store.ReleaseLease(context.Background(), g.store, g.holder); err != nil {
			log.Warnf("Releasing cycle lease: %v", err)
		}
	}()

	users, assets, blocked := g.gather(ctx)
	if blocked != "" {
		log.Warnf("Nothing to reconcile: %s", blocked)
		return g.noOp(report, blocked)
	}

	desired, issues := state.Build(users, assets, state.BuildOptions{
		Mapping:           g.mapping,
		Resolution:        g.resolution,
		GroupPrefix:       g.groupPrefix,
		CreateEmptyGroups: g.createEmptyGroups,
	})
	report.Issues = issues
	for _, issue := range issues {
		log.Warn(issue.String())
	}

	filter := quicksight.ReadFilter{GroupPrefix: g.groupPrefix, Mapping: g.mapping}
	actual, nsErrs, readIssues := quicksight.ReadActual(ctx, g.target, desired, filter)
	for _, nsErr := range nsErrs {
		report.SkippedNamespaces = append(report.SkippedNamespaces, reconcile.SkippedNamespace{
			Namespace: nsErr.Namespace,
			Reason:    nsErr.Err.Error(),
		})
	}
	for _, issue := range readIssues {
		report.SkippedAssets = append(report.SkippedAssets, reconcile.SkippedAsset{
			Namespace: issue.Namespace,
			Asset:     issue.Asset,
			Reason:    issue.Err.Error(),
		})
	}

	edits := diff.Compute(desired, actual, diff.Options{DeregisterUsers: g.deregisterUsers})
	log.Infof("Computed %d edit(s): %d create(s), %d update(s), %d delete(s)",
		edits.Len(), len(edits.Creates), len(edits.Updates), len(edits.Deletes))

	engine := &reconcile.Engine{
		API:           g.target,
		Workers:       g.workers,
		DryRun:        g.dryRun,
		RetryInterval: g.retryInterval,
	}
	engine.Apply(ctx, edits, report)

	report.Finish()
	log.Infof("Cycle [%s] complete: %s", report.CycleID, report.Summary())
	return report, g.persist(report)
}

func (g *governance) noOp(report *reconcile.Report, reason string) (*reconcile.Report, error) {
	report.NoOp = true
	report.NoOpReason = reason
	report.Finish()
	return report, g.persist(report)
}

// persist writes the cycle report. It runs on a fresh context so the
// record survives a cycle that ran out of budget.
func (g *governance) persist(report *reconcile.Report) error {
	if err := store.PutJSON(context.Background(), g.store, store.ReportKey(report.StartedAt), report); err != nil {
		return fmt.Errorf("persisting cycle report: %w", err)
	}
	return nil
}

// gather collects the cycle's two inputs concurrently. A non-empty reason
// means the cycle must not proceed: a failed identity fetch with no stored
// snapshot cannot be told apart from an empty org, and treating it as one
// would tear everything down.
func (g *governance) gather(ctx context.Context) (*manifest.UserDocument, *manifest.AssetDocument, string) {
	var (
		users  *manifest.UserDocument
		assets *manifest.AssetDocument
		wg     sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		users = g.gatherUsers(ctx)
	}()
	go func() {
		defer wg.Done()
		assets = g.gatherAssets(ctx)
	}()
	wg.Wait()

	if users == nil {
		return nil, nil, "identity fetch failed and no stored snapshot exists"
	}
	return users, assets, ""
}

// gatherUsers fetches the identity snapshot, publishing it to the bucket
// on success together with a timestamped history copy. When the fetch
// fails the previously published snapshot stands in; when there is none
// the cycle cannot run.
func (g *governance) gatherUsers(ctx context.Context) *manifest.UserDocument {
	fetcher := &okta.Fetcher{Directory: g.directory, Prefix: g.groupPrefix}
	users, err := fetcher.Fetch(ctx)
	if err == nil {
		if perr := store.PutJSON(ctx, g.store, g.userGovernanceKey, users); perr != nil {
			log.Warnf("Publishing identity snapshot to [%s]: %v", g.userGovernanceKey, perr)
		}
		if perr := store.PutJSON(ctx, g.store, store.SnapshotKey(time.Now()), users); perr != nil {
			log.Warnf("Archiving identity snapshot: %v", perr)
		}
		return users
	}
	log.Warnf("Identity fetch failed, falling back to the stored snapshot: %v", err)

	data, err := g.store.Get(ctx, g.userGovernanceKey)
	if err != nil {
		log.Errorf("No stored identity snapshot at [%s] either: %v", g.userGovernanceKey, err)
		return nil
	}
	users, err = manifest.LoadUsers(data)
	if err != nil {
		log.Errorf("Stored identity snapshot [%s] does not validate: %v", g.userGovernanceKey, err)
		return nil
	}
	log.Infof("Using stored identity snapshot with %d user(s)", len(users.Users))
	return users
}

// gatherAssets loads the admin-authored asset manifest. A fresh valid copy
// refreshes the last-known-good object; a missing or invalid one falls
// back to it. With neither, the cycle runs identity-only.
func (g *governance) gatherAssets(ctx context.Context) *manifest.AssetDocument {
	data, err := g.store.Get(ctx, g.assetGovernanceKey)
	if err == nil {
		assets, lerr := manifest.LoadAssets(data)
		if lerr == nil {
			if perr := g.store.Put(ctx, store.LastGoodAssetKey, data); perr != nil {
				log.Warnf("Refreshing last-known-good asset manifest: %v", perr)
			}
			return assets
		}
		log.Errorf("Asset manifest [%s] failed validation, falling back to last known good: %v", g.assetGovernanceKey, lerr)
	} else {
		log.Warnf("Asset manifest [%s] could not be read, falling back to last known good: %v", g.assetGovernanceKey, err)
	}

	data, err = g.store.Get(ctx, store.LastGoodAssetKey)
	if err != nil {
		log.Warnf("No last-known-good asset manifest, reconciling identity only: %v", err)
		return nil
	}
	assets, lerr := manifest.LoadAssets(data)
	if lerr != nil {
		log.Errorf("Last-known-good asset manifest fails validation, reconciling identity only: %v", lerr)
		return nil
	}
	return assets
}
