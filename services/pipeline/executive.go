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
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/rasterflow/pkg/region"
)

var (
	tracer = otel.Tracer("rasterflow.pipeline")
	meter  = otel.Meter("rasterflow.pipeline")
)

// Status is the outcome of an Update.
type Status string

const (
	// StatusSucceeded means every requested region is up to date.
	StatusSucceeded Status = "succeeded"

	// StatusFailed means a node failed; see Result.FailedNode.
	StatusFailed Status = "failed"

	// StatusAborted means the Update was cancelled before completion.
	StatusAborted Status = "aborted"
)

// Result describes one Update.
type Result struct {
	// RunID identifies the Update in logs and progress events.
	RunID string

	// Status is the outcome.
	Status Status

	// Terminal is the name of the terminal node.
	Terminal string

	// NodesExecuted lists executed nodes in execution order.
	NodesExecuted []string

	// NodesSkipped lists demanded nodes whose outputs were already up to date.
	NodesSkipped []string

	// Partitions is the number of partitions dispatched across all nodes.
	Partitions int

	// NodeDurations holds the execution time of each executed node.
	NodeDurations map[string]time.Duration

	// Duration is the wall time of the Update.
	Duration time.Duration

	// FailedNode names the failing node when Status is StatusFailed.
	FailedNode string

	// Error is the failure or abort message.
	Error string

	// AbortReason is set when Status is StatusAborted.
	AbortReason *AbortReason
}

// Executive drives Updates.
//
// Description:
//
//	An Update runs the information, region propagation and execution passes
//	over the nodes reachable from a terminal node. Traversal is single
//	threaded; only the partitions of one node run in parallel, on a worker
//	pool created for that node's dispatch.
//
// Thread Safety:
//
//	Executive is safe for concurrent use. Updates over disjoint graphs run
//	concurrently; an Update touching a node that another Update is using
//	fails with ErrAlreadyUpdating.
type Executive struct {
	config Config
	logger *slog.Logger

	observersMu sync.Mutex
	observers   []ProgressObserver

	runsMu sync.Mutex
	runs   map[string]*AbortFlag

	// Metrics (initialized lazily)
	metricsOnce    sync.Once
	nodeLatency    metric.Float64Histogram
	nodeExecutions metric.Int64Counter
	nodeSkips      metric.Int64Counter
	nodeFailures   metric.Int64Counter
	updateLatency  metric.Float64Histogram
}

// NewExecutive creates an executive.
//
// Inputs:
//
//	config - Executive configuration. Defaults are applied to zero values.
//	logger - Logger for execution logs. If nil, uses slog.Default().
//
// Outputs:
//
//	*Executive - The configured executive.
//	error - Wraps ErrInvalidConfig if config is invalid.
func NewExecutive(config Config, logger *slog.Logger) (*Executive, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executive{
		config: config,
		logger: logger,
		runs:   make(map[string]*AbortFlag),
	}, nil
}

// Config returns the executive configuration.
func (e *Executive) Config() Config {
	return e.config
}

// AddProgressObserver registers fn for progress events of every node.
func (e *Executive) AddProgressObserver(fn ProgressObserver) {
	if fn == nil {
		return
	}
	e.observersMu.Lock()
	defer e.observersMu.Unlock()
	e.observers = append(e.observers, fn)
}

// Abort requests cooperative cancellation of every running Update.
func (e *Executive) Abort(message string) {
	e.runsMu.Lock()
	defer e.runsMu.Unlock()
	for _, flag := range e.runs {
		flag.Set(AbortReason{Type: AbortUser, Message: message})
	}
}

// initMetrics lazily initializes metrics.
// Logs errors if metric creation fails but continues execution (graceful degradation).
func (e *Executive) initMetrics() {
	e.metricsOnce.Do(func() {
		var initErrors []string

		var err error
		e.nodeLatency, err = meter.Float64Histogram("rasterflow_node_duration_seconds",
			metric.WithDescription("Time spent executing each pipeline node"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_latency: "+err.Error())
		}

		e.nodeExecutions, err = meter.Int64Counter("rasterflow_node_executions_total",
			metric.WithDescription("Number of successful node executions"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_executions: "+err.Error())
		}

		e.nodeSkips, err = meter.Int64Counter("rasterflow_node_skips_total",
			metric.WithDescription("Number of demanded nodes skipped as up to date"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_skips: "+err.Error())
		}

		e.nodeFailures, err = meter.Int64Counter("rasterflow_node_failures_total",
			metric.WithDescription("Number of failed node executions"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_failures: "+err.Error())
		}

		e.updateLatency, err = meter.Float64Histogram("rasterflow_update_duration_seconds",
			metric.WithDescription("Total Update time"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "update_latency: "+err.Error())
		}

		if len(initErrors) > 0 {
			e.logger.Error("failed to initialize some pipeline metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

// -----------------------------------------------------------------------------
// Per-run state
// -----------------------------------------------------------------------------

type nodeState struct {
	node         Node
	pipelineTime uint64
	region       region.Region
	execute      bool
}

type run struct {
	id       string
	abort    *AbortFlag
	terminal Node
	order    []Node
	states   map[*BaseNode]*nodeState
	pending  map[*DataObject]region.Region
	// consumersLeft counts executing consumers of each input that have not
	// run yet, for release-data.
	consumersLeft map[*DataObject]int
	result        *Result
}

// Update brings the outputs of terminal up to date for their requested
// regions.
//
// Description:
//
//	Each output of terminal is computed over its explicit requested region
//	(see DataObject.SetRequestedRegion) or, if none is set, its largest
//	possible region. Only stale nodes on which the request depends execute.
//
// Inputs:
//
//	ctx - Cancellation aborts the Update cooperatively. Must not be nil.
//	terminal - The node whose outputs are requested.
//
// Outputs:
//
//	*Result - Execution summary. Nil only when the Update could not start.
//	error - nil on success; a *NodeError on failure; an error matching
//	        ErrAborted when cancelled; ErrAlreadyUpdating if the graph is busy.
func (e *Executive) Update(ctx context.Context, terminal Node) (*Result, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if terminal == nil {
		return nil, ErrNilNode
	}

	e.initMetrics()
	start := time.Now()

	r := &run{
		id:            uuid.NewString()[:12],
		abort:         &AbortFlag{},
		terminal:      terminal,
		states:        make(map[*BaseNode]*nodeState),
		pending:       make(map[*DataObject]region.Region),
		consumersLeft: make(map[*DataObject]int),
		result: &Result{
			Terminal:      terminal.Base().Name(),
			NodeDurations: make(map[string]time.Duration),
		},
	}
	r.result.RunID = r.id

	ctx, span := tracer.Start(ctx, "pipeline.Update",
		trace.WithAttributes(
			attribute.String("pipeline.terminal", r.result.Terminal),
			attribute.String("pipeline.run_id", r.id),
		),
	)
	defer span.End()

	if err := e.collect(r); err != nil {
		return e.finish(ctx, span, r, start, err)
	}
	if err := acquire(r.order); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer release(r.order)

	e.runsMu.Lock()
	e.runs[r.id] = r.abort
	e.runsMu.Unlock()
	defer func() {
		e.runsMu.Lock()
		delete(e.runs, r.id)
		e.runsMu.Unlock()
	}()

	abortOnDone := func() {
		r.abort.Set(AbortReason{Type: AbortContext, Message: context.Cause(ctx).Error()})
	}
	if ctx.Err() != nil {
		abortOnDone()
	}
	stop := context.AfterFunc(ctx, abortOnDone)
	defer stop()

	span.SetAttributes(attribute.Int("pipeline.node_count", len(r.order)))
	e.logger.Info("update started",
		slog.String("run_id", r.id),
		slog.String("terminal", r.result.Terminal),
		slog.Int("nodes", len(r.order)),
	)

	if err := e.updateInformation(ctx, r); err != nil {
		return e.finish(ctx, span, r, start, err)
	}
	if err := e.propagateRequestedRegions(ctx, r); err != nil {
		return e.finish(ctx, span, r, start, err)
	}
	err := e.execute(ctx, r)
	return e.finish(ctx, span, r, start, err)
}

// finish fills the result status, records metrics and logs the outcome.
func (e *Executive) finish(ctx context.Context, span trace.Span, r *run, start time.Time, err error) (*Result, error) {
	res := r.result
	res.Duration = time.Since(start)
	if e.updateLatency != nil {
		e.updateLatency.Record(ctx, res.Duration.Seconds(),
			metric.WithAttributes(attribute.String("terminal", res.Terminal)),
		)
	}

	switch {
	case err == nil:
		res.Status = StatusSucceeded
		span.SetStatus(codes.Ok, "")
		e.logger.Info("update completed",
			slog.String("run_id", r.id),
			slog.Duration("duration", res.Duration),
			slog.Int("nodes_executed", len(res.NodesExecuted)),
			slog.Int("nodes_skipped", len(res.NodesSkipped)),
			slog.Int("partitions", res.Partitions),
		)
	case errors.Is(err, ErrAborted):
		res.Status = StatusAborted
		res.Error = err.Error()
		res.AbortReason = r.abort.Reason()
		span.SetStatus(codes.Error, "aborted")
		e.logger.Info("update aborted",
			slog.String("run_id", r.id),
			slog.String("reason", err.Error()),
		)
	default:
		res.Status = StatusFailed
		res.Error = err.Error()
		var nodeErr *NodeError
		if errors.As(err, &nodeErr) {
			res.FailedNode = nodeErr.Node
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error("update failed",
			slog.String("run_id", r.id),
			slog.String("failed_node", res.FailedNode),
			slog.String("error", err.Error()),
		)
	}
	return res, err
}

// -----------------------------------------------------------------------------
// Graph collection
// -----------------------------------------------------------------------------

// collect walks upstream from the terminal node, validating wiring and
// recording the nodes in dependency order (inputs before consumers).
func (e *Executive) collect(r *run) error {
	const (
		unvisited = iota
		visiting
		done
	)
	marks := make(map[*BaseNode]int)
	var path []string

	var visit func(n Node) error
	visit = func(n Node) error {
		b := n.Base()
		if b.self() == nil {
			return newNodeError(b.Name(), PhaseInformation, KindConfiguration, ErrNodeNotInitialized)
		}
		switch marks[b] {
		case done:
			return nil
		case visiting:
			start := slices.Index(path, b.Name())
			cycle := append(slices.Clone(path[start:]), b.Name())
			return newNodeError(b.Name(), PhaseInformation, KindConfiguration, &CycleError{Path: cycle})
		}
		marks[b] = visiting
		path = append(path, b.Name())

		for port := range b.NumberOfInputs() {
			in := b.Input(port)
			if in == nil {
				if b.inputs[port].required {
					return newNodeError(b.Name(), PhaseInformation, KindConfiguration,
						fmt.Errorf("%w: %q", ErrInputNotSet, b.InputName(port)))
				}
				continue
			}
			if in.IsStatic() {
				continue
			}
			producer, _, ok := in.Producer()
			if !ok {
				return newNodeError(b.Name(), PhaseInformation, KindConfiguration,
					fmt.Errorf("%w: producer of input %q is gone", ErrNodeNotFound, b.InputName(port)))
			}
			if err := visit(producer); err != nil {
				return err
			}
		}

		path = path[:len(path)-1]
		marks[b] = done
		r.order = append(r.order, n)
		r.states[b] = &nodeState{node: n}
		return nil
	}
	return visit(r.terminal)
}

func acquire(nodes []Node) error {
	for i, n := range nodes {
		if !n.Base().updating.CompareAndSwap(false, true) {
			release(nodes[:i])
			return fmt.Errorf("%w: node %q", ErrAlreadyUpdating, n.Base().Name())
		}
	}
	return nil
}

func release(nodes []Node) {
	for _, n := range nodes {
		n.Base().updating.Store(false)
	}
}

// -----------------------------------------------------------------------------
// Information pass
// -----------------------------------------------------------------------------

// updateInformation calls UpdateOutputInformation in dependency order and
// stamps each output with its pipeline time.
func (e *Executive) updateInformation(ctx context.Context, r *run) error {
	for _, n := range r.order {
		b := n.Base()
		if err := runHook(ctx, n.UpdateOutputInformation); err != nil {
			return newNodeError(b.Name(), PhaseInformation, KindConfiguration, err)
		}
		pt := b.ModifiedTime()
		for port := range b.NumberOfInputs() {
			if in := b.Input(port); in != nil {
				pt = max(pt, in.PipelineTime())
			}
		}
		r.states[b].pipelineTime = pt
		for port := range b.NumberOfOutputs() {
			b.Output(port).setPipelineTime(pt)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Region propagation pass
// -----------------------------------------------------------------------------

// propagateRequestedRegions negotiates requested regions from the terminal
// node upstream. Consumers are visited before producers, so the request on
// a shared DataObject is the union of all its consumers' requests by the
// time its producer is visited. Up-to-date nodes end the recursion.
func (e *Executive) propagateRequestedRegions(ctx context.Context, r *run) error {
	tb := r.terminal.Base()
	if tb.NumberOfOutputs() == 0 {
		return newNodeError(tb.Name(), PhasePropagation, KindConfiguration,
			fmt.Errorf("%w: terminal node has no outputs", ErrPortOutOfRange))
	}
	for port := range tb.NumberOfOutputs() {
		out := tb.Output(port)
		req, _ := out.effectiveTerminalRequest()
		largest := out.LargestPossibleRegion()
		if req.Dimension() != largest.Dimension() {
			return newNodeError(tb.Name(), PhasePropagation, KindConfiguration,
				fmt.Errorf("%w: requested %v on output %q with largest possible region %v",
					region.ErrDimensionMismatch, req, out.Name(), largest))
		}
		if clamped, ok := req.Crop(largest); ok {
			req = clamped
		} else {
			req = region.Empty(largest.Dimension())
		}
		r.pending[out] = req
	}

	staticConsumer := make(map[*DataObject]string)

	for i := len(r.order) - 1; i >= 0; i-- {
		n := r.order[i]
		b := n.Base()
		st := r.states[b]

		execRegion, demanded, err := r.outputRequest(b)
		if err != nil {
			return newNodeError(b.Name(), PhasePropagation, KindConfiguration, err)
		}
		if !demanded {
			continue
		}
		if enl, ok := n.(OutputRegionEnlarger); ok && b.NumberOfOutputs() > 0 {
			largest := b.Output(0).LargestPossibleRegion()
			if grown, ok := enl.EnlargeOutputRequestedRegion(execRegion, largest).Crop(largest); ok {
				execRegion = grown
			}
		}
		setOutputRequests(b, execRegion)

		if outputsUpToDate(b, st.pipelineTime) {
			st.execute = false
			r.result.NodesSkipped = append(r.result.NodesSkipped, b.Name())
			if e.nodeSkips != nil {
				e.nodeSkips.Add(ctx, 1, metric.WithAttributes(attribute.String("node", b.Name())))
			}
			e.logger.Debug("node up to date",
				slog.String("run_id", r.id),
				slog.String("node", b.Name()),
				slog.String("requested", execRegion.String()),
			)
			continue
		}

		// Widen a region-only miss to the union with what is still valid.
		for port := range b.NumberOfOutputs() {
			out := b.Output(port)
			execRegion = execRegion.BoundingUnion(out.expandRequest(out.RequestedRegion(), st.pipelineTime))
		}
		setOutputRequests(b, execRegion)
		st.region = execRegion
		st.execute = true

		inputs, err := inputRequests(n)
		if err != nil {
			return newNodeError(b.Name(), PhasePropagation, KindConfiguration, err)
		}
		for port, req := range inputs {
			in := b.Input(port)
			if in == nil {
				continue
			}
			if prev, ok := r.pending[in]; ok {
				req = prev.BoundingUnion(req)
			}
			r.pending[in] = req
			if in.IsStatic() {
				if _, seen := staticConsumer[in]; !seen {
					staticConsumer[in] = b.Name()
				}
			}
		}
		for _, in := range distinctInputs(b) {
			r.consumersLeft[in]++
		}
	}

	for obj, consumer := range staticConsumer {
		req := r.pending[obj]
		obj.setRequested(req)
		if req.IsEmpty() {
			continue
		}
		if !obj.BufferedRegion().Contains(req) {
			return newNodeError(consumer, PhasePropagation, KindConfiguration,
				fmt.Errorf("%w: %s buffers %v, need %v", ErrRegionUnavailable, obj.Name(), obj.BufferedRegion(), req))
		}
	}
	return nil
}

// outputRequest unions the pending requests on b's outputs.
func (r *run) outputRequest(b *BaseNode) (region.Region, bool, error) {
	var (
		union    region.Region
		demanded bool
	)
	for port := range b.NumberOfOutputs() {
		req, ok := r.pending[b.Output(port)]
		if !ok {
			continue
		}
		if !demanded {
			union = req
			demanded = true
			continue
		}
		if req.Dimension() != union.Dimension() {
			return region.Region{}, false, fmt.Errorf("%w: output requests %v and %v",
				region.ErrDimensionMismatch, union, req)
		}
		union = union.BoundingUnion(req)
	}
	return union, demanded, nil
}

// inputRequests maps the requested regions of n's outputs to a clamped
// request per input port.
func inputRequests(n Node) ([]region.Region, error) {
	b := n.Base()
	out := make([]region.Region, b.NumberOfInputs())
	have := make([]bool, b.NumberOfInputs())

	for port := range b.NumberOfOutputs() {
		req := b.Output(port).RequestedRegion()
		if req.IsEmpty() {
			continue
		}
		regs, err := n.GenerateInputRequestedRegion(port, req)
		if err != nil {
			return nil, err
		}
		if len(regs) != b.NumberOfInputs() {
			return nil, fmt.Errorf("%w: GenerateInputRequestedRegion returned %d regions for %d inputs",
				ErrPortOutOfRange, len(regs), b.NumberOfInputs())
		}
		for i, reg := range regs {
			in := b.Input(i)
			if in == nil {
				continue
			}
			largest := in.LargestPossibleRegion()
			if reg.Dimension() != largest.Dimension() {
				return nil, fmt.Errorf("%w: input %q requested %v, largest possible region %v",
					region.ErrDimensionMismatch, b.InputName(i), reg, largest)
			}
			clamped, ok := reg.Crop(largest)
			if !ok {
				clamped = region.Empty(largest.Dimension())
			}
			if have[i] {
				out[i] = out[i].BoundingUnion(clamped)
			} else {
				out[i] = clamped
				have[i] = true
			}
		}
	}

	// Outputs with nothing requested still demand their inputs, emptily.
	for i := range out {
		if !have[i] {
			if in := b.Input(i); in != nil {
				out[i] = region.Empty(in.LargestPossibleRegion().Dimension())
			}
		}
	}
	return out, nil
}

func setOutputRequests(b *BaseNode, execRegion region.Region) {
	for port := range b.NumberOfOutputs() {
		out := b.Output(port)
		largest := out.LargestPossibleRegion()
		req := region.Empty(largest.Dimension())
		if execRegion.Dimension() == largest.Dimension() {
			if c, ok := execRegion.Crop(largest); ok {
				req = c
			}
		}
		out.setRequested(req)
	}
}

func outputsUpToDate(b *BaseNode, pipelineTime uint64) bool {
	for port := range b.NumberOfOutputs() {
		if !b.Output(port).IsUpToDate(pipelineTime) {
			return false
		}
	}
	return true
}

func distinctInputs(b *BaseNode) []*DataObject {
	var out []*DataObject
	for port := range b.NumberOfInputs() {
		in := b.Input(port)
		if in != nil && !slices.Contains(out, in) {
			out = append(out, in)
		}
	}
	return out
}

// -----------------------------------------------------------------------------
// Execution pass
// -----------------------------------------------------------------------------

// execute runs the stale nodes in dependency order.
func (e *Executive) execute(ctx context.Context, r *run) error {
	for _, n := range r.order {
		st := r.states[n.Base()]
		if !st.execute {
			continue
		}
		if r.abort.IsSet() {
			return r.abortError()
		}
		if err := e.executeNode(ctx, r, st); err != nil {
			return err
		}
		e.releaseInputs(r, n.Base())
	}
	return nil
}

func (r *run) abortError() error {
	msg := "abort requested"
	if reason := r.abort.Reason(); reason != nil && reason.Message != "" {
		msg = reason.Message
	}
	return fmt.Errorf("%w: %s", ErrAborted, msg)
}

// executeNode allocates outputs, dispatches partitions and stamps outputs.
// On any failure the outputs are left stale.
func (e *Executive) executeNode(ctx context.Context, r *run, st *nodeState) (err error) {
	n := st.node
	b := n.Base()
	name := b.Name()
	threads := e.config.Threads(b)

	ctx, span := tracer.Start(ctx, "pipeline.Node",
		trace.WithAttributes(
			attribute.String("node.name", name),
			attribute.String("node.region", st.region.String()),
			attribute.Int("node.threads", threads),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		duration := time.Since(start)
		r.result.NodeDurations[name] = duration
		attrs := metric.WithAttributes(attribute.String("node", name))
		if e.nodeLatency != nil {
			e.nodeLatency.Record(ctx, duration.Seconds(), attrs)
		}
		if err == nil {
			r.result.NodesExecuted = append(r.result.NodesExecuted, name)
			if e.nodeExecutions != nil {
				e.nodeExecutions.Add(ctx, 1, attrs)
			}
			span.SetStatus(codes.Ok, "")
			e.logger.Info("node executed",
				slog.String("run_id", r.id),
				slog.String("node", name),
				slog.String("region", st.region.String()),
				slog.Duration("duration", duration),
			)
			return
		}
		for port := range b.NumberOfOutputs() {
			b.Output(port).markStale()
		}
		if errors.Is(err, ErrAborted) {
			span.SetStatus(codes.Error, "aborted")
			return
		}
		if e.nodeFailures != nil {
			e.nodeFailures.Add(ctx, 1, attrs)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error("node failed",
			slog.String("run_id", r.id),
			slog.String("node", name),
			slog.String("error", err.Error()),
		)
	}()

	e.logger.Debug("node executing",
		slog.String("run_id", r.id),
		slog.String("node", name),
		slog.String("region", st.region.String()),
		slog.Int("threads", threads),
	)

	if err := runHook(ctx, n.BeforeExecute); err != nil {
		return newNodeError(name, PhaseExecution, KindCompute, err)
	}
	if err := e.allocateOutputs(r, b); err != nil {
		return newNodeError(name, PhaseAllocation, KindAllocation, err)
	}

	partitions := e.config.Splitter.Split(st.region, threads)
	span.SetAttributes(attribute.Int("node.partitions", len(partitions)))
	progress := NewProgressAggregator(len(partitions), e.config.ProgressInterval, e.config.ProgressBurst,
		e.progressEmitter(r, b))

	stats, err := NewDispatcher(name, threads, r.abort, e.logger).Dispatch(ctx, partitions, n.ComputeRegion, progress)
	r.result.Partitions += stats.Started
	if err != nil {
		if errors.Is(err, ErrAborted) {
			return fmt.Errorf("node %q: %w", name, err)
		}
		return newNodeError(name, PhaseExecution, KindCompute, err)
	}

	if err := runHook(ctx, n.AfterExecute); err != nil {
		return newNodeError(name, PhaseExecution, KindCompute, err)
	}

	stamp := nextStamp()
	for port := range b.NumberOfOutputs() {
		b.Output(port).markComputed(stamp)
	}
	return nil
}

// allocateOutputs grows output storage to cover the requested regions and
// unshares grafted storage before anything writes to it.
func (e *Executive) allocateOutputs(r *run, b *BaseNode) error {
	for port := range b.NumberOfOutputs() {
		out := b.Output(port)
		storage := out.Storage()
		if storage == nil {
			continue
		}
		before := storage.Bytes()
		grew, err := storage.Reserve(out.RequestedRegion(), e.config.MaxBufferBytes)
		if err != nil {
			return fmt.Errorf("output %q: %w", out.Name(), err)
		}
		if grew {
			bufferReallocations.Inc()
			e.logger.Debug("buffer allocated",
				slog.String("run_id", r.id),
				slog.String("node", b.Name()),
				slog.String("output", out.Name()),
				slog.String("region", storage.Region().String()),
				slog.Int64("bytes", storage.Bytes()),
			)
		}
		if storage.Shared() {
			storage.MakeExclusive()
		}
		bufferBytes.Add(float64(storage.Bytes() - before))
	}
	return nil
}

// releaseInputs releases inputs whose last executing consumer has run.
func (e *Executive) releaseInputs(r *run, b *BaseNode) {
	for _, in := range distinctInputs(b) {
		r.consumersLeft[in]--
		if r.consumersLeft[in] > 0 || in.IsStatic() {
			continue
		}
		if producer, _, ok := in.Producer(); ok && producer.Base() == r.terminal.Base() {
			continue
		}
		if !in.ReleaseDataFlag() && !e.config.ReleaseDataDefault {
			continue
		}
		var bytes int64
		if s := in.Storage(); s != nil {
			bytes = s.Bytes()
		}
		in.ReleaseData()
		bufferBytes.Sub(float64(bytes))
		buffersReleased.Inc()
		e.logger.Debug("buffer released",
			slog.String("run_id", r.id),
			slog.String("data", in.Name()),
			slog.Int64("bytes", bytes),
		)
	}
}

// progressEmitter builds the sink that fans combined progress out to the
// node's and the executive's observers.
func (e *Executive) progressEmitter(r *run, b *BaseNode) func(float64) {
	e.observersMu.Lock()
	observers := append(b.progressObservers(), e.observers...)
	e.observersMu.Unlock()
	if len(observers) == 0 {
		return nil
	}
	name := b.Name()
	abort := func() {
		r.abort.Set(AbortReason{Type: AbortUser, Message: "abort requested by progress observer", Node: name})
	}
	return func(fraction float64) {
		ev := ProgressEvent{RunID: r.id, Node: name, Fraction: fraction, Abort: abort}
		for _, obs := range observers {
			obs(ev)
		}
	}
}
