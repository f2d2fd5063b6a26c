// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/rasterflow/pkg/region"
)

// ComputeFunc computes one partition.
type ComputeFunc func(w *Work) error

// DispatchStats summarizes one dispatch.
type DispatchStats struct {
	Partitions int
	Workers    int
	Started    int
	Completed  int
}

// Dispatcher runs the partitions of one node on a fixed-size worker pool.
//
// Description:
//
//	Workers pull the next partition index from a shared atomic counter, so
//	idle workers pick up work as soon as they finish. A partition is never
//	split further once taken. The abort flag is checked before every
//	partition starts; callbacks are expected to poll it while running.
//
//	The first failing partition wins: its worker raises the abort flag so
//	the other workers stop and returns the error that the errgroup hands
//	back once every worker has exited. Later failures are logged and
//	counted only.
//
// Thread Safety:
//
//	A Dispatcher may be reused sequentially. Dispatch blocks until all
//	workers have stopped.
type Dispatcher struct {
	node    string
	workers int
	abort   *AbortFlag
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher.
//
// Inputs:
//
//	node - Node name for errors, logs and metrics.
//	workers - Pool size. Values < 1 mean runtime.GOMAXPROCS(0).
//	abort - Shared abort flag. nil creates a private one.
//	logger - Logger. nil means slog.Default().
//
// Outputs:
//
//	*Dispatcher - The dispatcher.
func NewDispatcher(node string, workers int, abort *AbortFlag, logger *slog.Logger) *Dispatcher {
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	if abort == nil {
		abort = &AbortFlag{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{node: node, workers: workers, abort: abort, logger: logger}
}

// Dispatch runs fn over every partition.
//
// Inputs:
//
//	ctx - Cancellation raises the abort flag. Must not be nil.
//	partitions - Disjoint regions to compute.
//	fn - Compute callback.
//	progress - Progress sink. May be nil.
//
// Outputs:
//
//	DispatchStats - Partition and worker counts.
//	error - The first *PartitionError, an error matching ErrAborted, or nil.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	partitions []region.Region,
	fn ComputeFunc,
	progress *ProgressAggregator,
) (DispatchStats, error) {
	stats := DispatchStats{Partitions: len(partitions)}
	if ctx == nil {
		return stats, ErrNilContext
	}
	if len(partitions) == 0 {
		if progress != nil {
			progress.Done()
		}
		return stats, nil
	}

	abortOnDone := func() {
		d.abort.Set(AbortReason{Type: AbortContext, Message: context.Cause(ctx).Error(), Node: d.node})
	}
	if ctx.Err() != nil {
		abortOnDone()
	}
	stop := context.AfterFunc(ctx, abortOnDone)
	defer stop()

	n := len(partitions)
	workers := min(d.workers, n)
	stats.Workers = workers
	dispatchWorkers.Observe(float64(workers))

	var (
		next      atomic.Int64
		started   atomic.Int64
		completed atomic.Int64
		failed    atomic.Bool
	)

	var g errgroup.Group
	for worker := range workers {
		g.Go(func() error {
			for {
				if d.abort.IsSet() {
					return nil
				}
				i := int(next.Add(1) - 1)
				if i >= n {
					return nil
				}
				started.Add(1)
				partitionsDispatched.WithLabelValues(d.node).Inc()

				w := &Work{
					Region:      partitions[i],
					Partition:   i,
					WorkerIndex: worker,
					ctx:         ctx,
					abort:       d.abort,
					progress:    progress,
				}
				err := runPartition(fn, w)
				if err == nil {
					completed.Add(1)
					if progress != nil {
						progress.Complete(i)
					}
					continue
				}
				if errors.Is(err, ErrAborted) && d.abort.IsSet() {
					return nil
				}

				partitionFailures.WithLabelValues(d.node).Inc()
				pe := &PartitionError{Partition: i, WorkerIndex: worker, Region: partitions[i], Err: err}
				if failed.CompareAndSwap(false, true) {
					d.abort.Set(AbortReason{Type: AbortFailure, Message: err.Error(), Node: d.node})
					return pe
				}
				d.logger.Warn("secondary partition failure",
					slog.String("node", d.node),
					slog.Int("partition", i),
					slog.String("error", err.Error()),
				)
				return nil
			}
		})
	}
	err := g.Wait()

	stats.Started = int(started.Load())
	stats.Completed = int(completed.Load())

	if err != nil {
		return stats, err
	}
	if stats.Completed < n {
		dispatchesAborted.Inc()
		reason := d.abort.Reason()
		msg := "abort requested"
		if reason != nil && reason.Message != "" {
			msg = reason.Message
		}
		return stats, fmt.Errorf("%w: %s", ErrAborted, msg)
	}
	if progress != nil {
		progress.Done()
	}
	return stats, nil
}

// runPartition converts a panic in fn into a *PanicError.
func runPartition(fn ComputeFunc, w *Work) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &PanicError{Value: rec, Stack: debug.Stack()}
		}
	}()
	return fn(w)
}

// runHook converts a panic in a node hook into a *PanicError.
func runHook(ctx context.Context, hook func(context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &PanicError{Value: rec, Stack: debug.Stack()}
		}
	}()
	return hook(ctx)
}
