package main

import (
	"context"
	"errors"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
	log "github.com/sirupsen/logrus"

	"github.com/PremiereGlobal/quicksight-admin/pkg/reconcile"
)

// runLoop drives cycles on a fixed interval until interrupted. The first
// cycle starts immediately; SIGINT or SIGTERM cancels the one in flight
// and stops the loop.
func runLoop(g *governance, interval, cycleTimeout time.Duration) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var group run.Group
	group.Add(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			runOnce(ctx, g, cycleTimeout)
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}, func(error) {
		cancel()
	})
	group.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	err := group.Run()
	var sig run.SignalError
	if errors.As(err, &sig) {
		log.Infof("Received %s, shutting down", sig.Signal)
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runOnce runs a single cycle under its budget. Errors are logged, not
// returned; the loop keeps its schedule whatever a cycle did.
func runOnce(ctx context.Context, g *governance, timeout time.Duration) *reconcile.Report {
	cycleCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	report, err := g.runCycle(cycleCtx)
	if err != nil {
		log.Errorf("Cycle failed: %v", err)
	}
	return report
}
