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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/rasterflow/pkg/buffer"
	"github.com/AleutianAI/rasterflow/pkg/region"
)

func newTestExecutive(t *testing.T, threads int) *Executive {
	t.Helper()
	exec, err := NewExecutive(Config{NumThreads: threads, ProgressInterval: time.Nanosecond}, nil)
	require.NoError(t, err)
	return exec
}

// twoStage builds a 100x100 constant source feeding an add-one filter.
func twoStage(t *testing.T) (*testSource, *testAdd) {
	t.Helper()
	src := newTestSource("source", region.Rect(0, 0, 100, 100), 7)
	add := newTestAdd("add", 1)
	require.NoError(t, Connect(src, 0, add, 0))
	return src, add
}

func assertPixels(t *testing.T, obj *DataObject, r region.Region, want float64) {
	t.Helper()
	buf, err := ImageBuffer[float64](obj)
	require.NoError(t, err)
	for idx := range r.Indices() {
		require.Equal(t, want, buf.At(idx), "pixel %v", idx)
	}
}

func TestUpdate_EndToEndMinimalRegion(t *testing.T) {
	src, add := twoStage(t)
	exec := newTestExecutive(t, 4)

	add.out.SetRequestedRegion(region.Rect(10, 10, 5, 5))
	res, err := exec.Update(context.Background(), add)
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, res.Status)
	assert.Equal(t, []string{"source", "add"}, res.NodesExecuted)
	assert.Equal(t, region.Rect(10, 10, 5, 5), add.out.BufferedRegion())
	assert.Equal(t, region.Rect(10, 10, 5, 5), src.out.BufferedRegion(), "source computes only what is needed")
	assert.Equal(t, region.Rect(10, 10, 5, 5), src.out.Storage().Region())
	assert.Equal(t, region.Rect(0, 0, 100, 100), add.out.LargestPossibleRegion())
	assertPixels(t, add.out, region.Rect(10, 10, 5, 5), 8)
	assert.True(t, add.out.IsUpToDate(add.out.PipelineTime()))
}

func TestUpdate_DefaultsToLargestPossibleRegion(t *testing.T) {
	src, add := twoStage(t)
	exec := newTestExecutive(t, 3)

	_, err := exec.Update(context.Background(), add)
	require.NoError(t, err)
	assert.Equal(t, region.Rect(0, 0, 100, 100), add.out.BufferedRegion())
	assert.Equal(t, region.Rect(0, 0, 100, 100), src.covered())
	assertPixels(t, add.out, region.Rect(0, 0, 100, 100), 8)
}

func TestUpdate_Idempotent(t *testing.T) {
	src, add := twoStage(t)
	exec := newTestExecutive(t, 4)
	add.out.SetRequestedRegion(region.Rect(0, 0, 50, 50))

	_, err := exec.Update(context.Background(), add)
	require.NoError(t, err)
	src.reset()
	add.reset()

	res, err := exec.Update(context.Background(), add)
	require.NoError(t, err)
	assert.Zero(t, src.calls.Load())
	assert.Zero(t, add.calls.Load())
	assert.Empty(t, res.NodesExecuted)
	assert.Equal(t, []string{"add"}, res.NodesSkipped, "an up-to-date output stops propagation")
	assert.Zero(t, res.Partitions)
}

func TestUpdate_SubRegionDoesNotRecompute(t *testing.T) {
	src, add := twoStage(t)
	exec := newTestExecutive(t, 4)

	_, err := exec.Update(context.Background(), add)
	require.NoError(t, err)
	src.reset()
	add.reset()

	add.out.SetRequestedRegion(region.Rect(20, 30, 10, 10))
	_, err = exec.Update(context.Background(), add)
	require.NoError(t, err)
	assert.Zero(t, src.calls.Load())
	assert.Zero(t, add.calls.Load())
	assert.Equal(t, region.Rect(0, 0, 100, 100), add.out.BufferedRegion())
}

func TestUpdate_LargerRegionRecomputesUnionOnce(t *testing.T) {
	src, add := twoStage(t)
	exec := newTestExecutive(t, 1)

	add.out.SetRequestedRegion(region.Rect(10, 10, 5, 5))
	_, err := exec.Update(context.Background(), add)
	require.NoError(t, err)
	src.reset()
	add.reset()

	add.out.SetRequestedRegion(region.Rect(12, 12, 10, 10))
	_, err = exec.Update(context.Background(), add)
	require.NoError(t, err)

	union := region.Rect(10, 10, 12, 12)
	assert.Equal(t, int64(1), add.calls.Load(), "one recomputation with a single worker")
	assert.Equal(t, union, add.covered())
	assert.Equal(t, union, add.out.BufferedRegion())
	assert.Equal(t, union, src.covered())
	assertPixels(t, add.out, union, 8)
}

func TestUpdate_ThreadCountDoesNotChangeOutput(t *testing.T) {
	run := func(threads int) []float64 {
		src := newTestSource("ramp", region.Rect(0, 0, 64, 37), 0)
		src.ramp = true
		add := newTestAdd("add", 0.5)
		require.NoError(t, Connect(src, 0, add, 0))
		add.out.SetRequestedRegion(region.Rect(3, 2, 50, 31))

		_, err := newTestExecutive(t, threads).Update(context.Background(), add)
		require.NoError(t, err)
		buf, err := ImageBuffer[float64](add.out)
		require.NoError(t, err)
		return append([]float64(nil), buf.Data()...)
	}

	single := run(1)
	require.Len(t, single, 50*31)
	assert.Equal(t, single, run(8))
	assert.Equal(t, single, run(64))
}

func TestUpdate_FailurePropagation(t *testing.T) {
	src, add := twoStage(t)
	exec := newTestExecutive(t, 8)
	boom := errors.New("boom")
	add.hook = func(w *Work) error {
		if w.Partition == 3 {
			return boom
		}
		return nil
	}

	res, err := exec.Update(context.Background(), add)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCompute)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrAborted)

	var nodeErr *NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "add", nodeErr.Node)
	assert.Equal(t, KindCompute, nodeErr.Kind)
	var partErr *PartitionError
	require.ErrorAs(t, err, &partErr)
	assert.Equal(t, 3, partErr.Partition)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "add", res.FailedNode)
	assert.False(t, add.out.IsUpToDate(add.out.PipelineTime()))
	assert.True(t, add.out.BufferedRegion().IsEmpty())
	assert.True(t, src.out.IsUpToDate(src.out.PipelineTime()), "upstream work is kept")

	add.hook = nil
	src.reset()
	res, err = exec.Update(context.Background(), add)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, res.Status)
	assert.Zero(t, src.calls.Load())
	assertPixels(t, add.out, region.Rect(0, 0, 100, 100), 8)
}

func TestUpdate_PanicIsComputeFailure(t *testing.T) {
	_, add := twoStage(t)
	add.hook = func(w *Work) error {
		if w.Partition == 0 {
			panic("bad pixel")
		}
		return nil
	}
	_, err := newTestExecutive(t, 2).Update(context.Background(), add)
	require.ErrorIs(t, err, ErrCompute)
	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "bad pixel", panicErr.Value)
	assert.NotEmpty(t, panicErr.Stack)
}

func TestUpdate_HookPanicIsComputeFailure(t *testing.T) {
	tests := []struct {
		name  string
		setup func(n *testHooked)
	}{
		{"before", func(n *testHooked) { n.before = func(context.Context) { panic("setup") } }},
		{"after", func(n *testHooked) { n.after = func(context.Context) { panic("teardown") } }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newTestSource("source", region.Rect(0, 0, 10, 10), 7)
			hooked := newTestHooked("hooked")
			require.NoError(t, Connect(src, 0, hooked, 0))
			tt.setup(hooked)

			var res *Result
			var err error
			require.NotPanics(t, func() {
				res, err = newTestExecutive(t, 2).Update(context.Background(), hooked)
			})
			require.ErrorIs(t, err, ErrCompute)
			var nodeErr *NodeError
			require.ErrorAs(t, err, &nodeErr)
			assert.Equal(t, "hooked", nodeErr.Node)
			assert.Equal(t, KindCompute, nodeErr.Kind)
			var panicErr *PanicError
			require.ErrorAs(t, err, &panicErr)
			assert.NotEmpty(t, panicErr.Stack)

			assert.Equal(t, StatusFailed, res.Status)
			assert.NotContains(t, res.NodesExecuted, "hooked")
			assert.True(t, hooked.out.BufferedRegion().IsEmpty())
		})
	}
}

func TestUpdate_HooksReceiveUpdateContext(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "run")

	src := newTestSource("source", region.Rect(0, 0, 10, 10), 7)
	hooked := newTestHooked("hooked")
	require.NoError(t, Connect(src, 0, hooked, 0))
	var seen []any
	record := func(ctx context.Context) { seen = append(seen, ctx.Value(key{})) }
	hooked.info, hooked.before, hooked.after = record, record, record

	_, err := newTestExecutive(t, 2).Update(ctx, hooked)
	require.NoError(t, err)
	assert.Equal(t, []any{"run", "run", "run"}, seen)
}

// abortAfterPartition2 installs a hook that aborts once partition 2 has
// started and makes every partition wait for the abort.
func abortAfterPartition2(add *testAdd, abort func()) (started, finished *atomic.Int64) {
	started, finished = &atomic.Int64{}, &atomic.Int64{}
	add.hook = func(w *Work) error {
		started.Add(1)
		defer finished.Add(1)
		if w.Partition == 2 {
			abort()
		}
		deadline := time.Now().Add(5 * time.Second)
		for !w.Aborted() && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		return nil
	}
	return started, finished
}

func TestUpdate_AbortAfterPartition2(t *testing.T) {
	_, add := twoStage(t)
	exec := newTestExecutive(t, 8)
	started, finished := abortAfterPartition2(add, func() { exec.Abort("operator stop") })

	res, err := exec.Update(context.Background(), add)
	require.ErrorIs(t, err, ErrAborted)
	assert.NotErrorIs(t, err, ErrCompute)
	assert.Equal(t, StatusAborted, res.Status)
	require.NotNil(t, res.AbortReason)
	assert.Equal(t, AbortUser, res.AbortReason.Type)
	assert.Equal(t, "operator stop", res.AbortReason.Message)

	assert.LessOrEqual(t, started.Load(), int64(8))
	assert.GreaterOrEqual(t, started.Load(), int64(1))
	assert.Equal(t, started.Load(), finished.Load(), "all started partitions stopped before Update returned")
	assert.False(t, add.out.IsUpToDate(add.out.PipelineTime()))

	add.hook = nil
	res, err = exec.Update(context.Background(), add)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, res.Status)
}

func TestUpdate_ContextCancellationAborts(t *testing.T) {
	_, add := twoStage(t)
	exec := newTestExecutive(t, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	started, finished := abortAfterPartition2(add, cancel)

	res, err := exec.Update(ctx, add)
	require.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, StatusAborted, res.Status)
	assert.Equal(t, AbortContext, res.AbortReason.Type)
	assert.Equal(t, started.Load(), finished.Load())
}

func TestUpdate_CancelledBeforeStart(t *testing.T) {
	src, add := twoStage(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := newTestExecutive(t, 2).Update(ctx, add)
	require.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, StatusAborted, res.Status)
	assert.Zero(t, src.calls.Load())
	assert.Zero(t, add.calls.Load())
}

func TestUpdate_ObserverAbort(t *testing.T) {
	_, add := twoStage(t)
	exec := newTestExecutive(t, 1)
	add.SetNumberOfThreads(4)
	var once sync.Once
	add.AddProgressObserver(func(ev ProgressEvent) {
		once.Do(ev.Abort)
	})

	res, err := exec.Update(context.Background(), add)
	require.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, StatusAborted, res.Status)
	assert.Equal(t, "add", res.AbortReason.Node)
}

func TestUpdate_ModifiedForcesReexecution(t *testing.T) {
	src, add := twoStage(t)
	exec := newTestExecutive(t, 2)
	_, err := exec.Update(context.Background(), add)
	require.NoError(t, err)
	src.reset()
	add.reset()

	add.SetConstant(2)
	res, err := exec.Update(context.Background(), add)
	require.NoError(t, err)
	assert.Equal(t, []string{"add"}, res.NodesExecuted)
	assert.Equal(t, []string{"source"}, res.NodesSkipped)
	assert.Zero(t, src.calls.Load())
	assertPixels(t, add.out, region.Rect(0, 0, 100, 100), 9)

	src.value = 1
	src.Modified()
	add.reset()
	res, err = exec.Update(context.Background(), add)
	require.NoError(t, err)
	assert.Equal(t, []string{"source", "add"}, res.NodesExecuted, "upstream changes invalidate downstream")
	assertPixels(t, add.out, region.Rect(0, 0, 100, 100), 3)
}

func TestUpdate_FanOutRequestsUnion(t *testing.T) {
	src := newTestSource("source", region.Rect(0, 0, 100, 100), 1)
	add := newTestAdd("add", 1)
	pad := newTestPad("pad")
	sum := newTestSum("sum")
	require.NoError(t, Connect(src, 0, add, 0))
	require.NoError(t, Connect(src, 0, pad, 0))
	require.NoError(t, Connect(add, 0, sum, 0))
	require.NoError(t, Connect(pad, 0, sum, 1))

	sum.out.SetRequestedRegion(region.Rect(10, 10, 5, 5))
	_, err := newTestExecutive(t, 1).Update(context.Background(), sum)
	require.NoError(t, err)

	assert.Equal(t, int64(1), src.calls.Load(), "a shared input is computed once")
	assert.Equal(t, region.Rect(9, 9, 7, 7), src.out.BufferedRegion())
	assert.Equal(t, region.Rect(10, 10, 5, 5), add.out.BufferedRegion())
	assertPixels(t, sum.out, region.Rect(10, 10, 5, 5), 3)
}

func TestUpdate_PaddingClampedToLargest(t *testing.T) {
	src := newTestSource("source", region.Rect(0, 0, 10, 10), 4)
	pad := newTestPad("pad")
	require.NoError(t, Connect(src, 0, pad, 0))
	pad.out.SetRequestedRegion(region.Rect(0, 0, 3, 3))

	_, err := newTestExecutive(t, 2).Update(context.Background(), pad)
	require.NoError(t, err)
	assert.Equal(t, region.Rect(0, 0, 4, 4), src.out.BufferedRegion())
}

func TestUpdate_NonIntersectingRequestIsEmpty(t *testing.T) {
	src, add := twoStage(t)
	add.out.SetRequestedRegion(region.Rect(200, 200, 5, 5))

	res, err := newTestExecutive(t, 4).Update(context.Background(), add)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, res.Status)
	assert.Zero(t, src.calls.Load())
	assert.Zero(t, add.calls.Load())
	assert.True(t, add.out.BufferedRegion().IsEmpty())
	assert.True(t, src.out.BufferedRegion().IsEmpty())
}

func TestUpdate_ReleaseData(t *testing.T) {
	src, add := twoStage(t)
	src.out.SetReleaseDataFlag(true)
	exec := newTestExecutive(t, 2)

	_, err := exec.Update(context.Background(), add)
	require.NoError(t, err)
	assert.True(t, src.out.BufferedRegion().IsEmpty())
	assert.Zero(t, src.out.Storage().Bytes())
	assertPixels(t, add.out, region.Rect(0, 0, 100, 100), 8)

	src.reset()
	_, err = exec.Update(context.Background(), add)
	require.NoError(t, err)
	assert.Zero(t, src.calls.Load(), "released inputs of up-to-date outputs are not recomputed")

	add.out.SetRequestedRegion(region.Rect(0, 0, 50, 50))
	add.SetConstant(5)
	_, err = exec.Update(context.Background(), add)
	require.NoError(t, err)
	assert.Equal(t, region.Rect(0, 0, 50, 50), src.covered(), "released data is regenerated on demand")
	assertPixels(t, add.out, region.Rect(0, 0, 50, 50), 12)
}

func TestUpdate_ReleaseDataDefault(t *testing.T) {
	src, add := twoStage(t)
	exec, err := NewExecutive(Config{ReleaseDataDefault: true}, nil)
	require.NoError(t, err)
	_, err = exec.Update(context.Background(), add)
	require.NoError(t, err)
	assert.True(t, src.out.BufferedRegion().IsEmpty())
	assert.False(t, add.out.BufferedRegion().IsEmpty(), "terminal outputs are never released")
}

func TestUpdate_OutputRegionEnlarger(t *testing.T) {
	src := newTestSource("source", region.Rect(0, 0, 20, 20), 2)
	whole := newTestWholeImage("whole")
	require.NoError(t, Connect(src, 0, whole, 0))
	whole.out.SetRequestedRegion(region.Rect(5, 5, 1, 1))

	_, err := newTestExecutive(t, 2).Update(context.Background(), whole)
	require.NoError(t, err)
	assert.Equal(t, region.Rect(0, 0, 20, 20), whole.out.BufferedRegion())
	assert.Equal(t, region.Rect(0, 0, 20, 20), src.out.BufferedRegion())
}

func TestUpdate_StaticInput(t *testing.T) {
	buf := buffer.New[float64]()
	_, err := buf.Reserve(region.Rect(0, 0, 10, 10), 0)
	require.NoError(t, err)
	buf.Fill(buf.Region(), 4)
	static := NewDataObject("imported", buf)
	require.NoError(t, static.SetBufferedRegion(region.Rect(0, 0, 10, 10)))

	add := newTestAdd("add", 1)
	require.NoError(t, add.SetInput(0, static))
	exec := newTestExecutive(t, 2)

	add.out.SetRequestedRegion(region.Rect(2, 2, 3, 3))
	_, err = exec.Update(context.Background(), add)
	require.NoError(t, err)
	assertPixels(t, add.out, region.Rect(2, 2, 3, 3), 5)

	// New pixels in the static object invalidate its consumers.
	buf.Fill(buf.Region(), 10)
	require.NoError(t, static.SetBufferedRegion(region.Rect(0, 0, 10, 10)))
	_, err = exec.Update(context.Background(), add)
	require.NoError(t, err)
	assertPixels(t, add.out, region.Rect(2, 2, 3, 3), 11)

	static.SetLargestPossibleRegion(region.Rect(0, 0, 20, 20))
	add.out.SetRequestedRegion(region.Rect(15, 15, 2, 2))
	add.reset()
	_, err = exec.Update(context.Background(), add)
	require.ErrorIs(t, err, ErrConfiguration)
	require.ErrorIs(t, err, ErrRegionUnavailable)
	assert.Zero(t, add.calls.Load(), "configuration errors surface before compute")
}

func TestUpdate_ConfigurationErrors(t *testing.T) {
	t.Run("required input unset", func(t *testing.T) {
		add := newTestAdd("orphan", 1)
		res, err := newTestExecutive(t, 1).Update(context.Background(), add)
		require.ErrorIs(t, err, ErrConfiguration)
		require.ErrorIs(t, err, ErrInputNotSet)
		assert.Equal(t, "orphan", res.FailedNode)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		src, add := twoStage(t)
		add.out.SetRequestedRegion(region.Must(region.Index{0, 0, 0}, region.Size{1, 1, 1}))
		_, err := newTestExecutive(t, 1).Update(context.Background(), add)
		require.ErrorIs(t, err, ErrConfiguration)
		require.ErrorIs(t, err, region.ErrDimensionMismatch)
		assert.Zero(t, src.calls.Load())
	})

	t.Run("cycle", func(t *testing.T) {
		a := newTestAdd("a", 1)
		b := newTestAdd("b", 1)
		require.NoError(t, Connect(a, 0, b, 0))
		require.NoError(t, Connect(b, 0, a, 0))
		_, err := newTestExecutive(t, 1).Update(context.Background(), b)
		require.ErrorIs(t, err, ErrConfiguration)
		var cycle *CycleError
		require.ErrorAs(t, err, &cycle)
		assert.Equal(t, []string{"b", "a", "b"}, cycle.Path)
	})

	t.Run("uninitialized node", func(t *testing.T) {
		_, err := newTestExecutive(t, 1).Update(context.Background(), &testAdd{})
		require.ErrorIs(t, err, ErrNodeNotInitialized)
	})

	t.Run("missing compute", func(t *testing.T) {
		n := &BaseNode{}
		n.Init(n, "bare")
		n.AddOutput("output", nil).SetLargestPossibleRegion(region.Rect(0, 0, 2, 2))
		_, err := newTestExecutive(t, 1).Update(context.Background(), n)
		require.ErrorIs(t, err, ErrCompute)
		require.ErrorIs(t, err, ErrNotImplemented)
	})
}

func TestUpdate_AllocationLimit(t *testing.T) {
	src, add := twoStage(t)
	exec, err := NewExecutive(Config{MaxBufferBytes: 1024}, nil)
	require.NoError(t, err)

	res, err := exec.Update(context.Background(), add)
	require.ErrorIs(t, err, ErrAllocation)
	require.ErrorIs(t, err, buffer.ErrAllocationLimit)
	assert.Equal(t, "source", res.FailedNode)
	assert.Zero(t, src.calls.Load())

	add.out.SetRequestedRegion(region.Rect(0, 0, 8, 8))
	_, err = exec.Update(context.Background(), add)
	require.NoError(t, err)
}

func TestUpdate_ConcurrentUpdateOnSameGraph(t *testing.T) {
	_, add := twoStage(t)
	exec := newTestExecutive(t, 2)
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	add.hook = func(*Work) error {
		once.Do(func() { close(entered) })
		<-release
		return nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := exec.Update(context.Background(), add)
		done <- err
	}()
	<-entered

	_, err := exec.Update(context.Background(), add)
	assert.ErrorIs(t, err, ErrAlreadyUpdating)

	// A disjoint graph is not blocked.
	_, other := twoStage(t)
	_, err = exec.Update(context.Background(), other)
	assert.NoError(t, err)

	close(release)
	require.NoError(t, <-done)
}

func TestUpdate_ProgressIsMonotonic(t *testing.T) {
	_, add := twoStage(t)
	exec := newTestExecutive(t, 4)

	var mu sync.Mutex
	fractions := map[string][]float64{}
	exec.AddProgressObserver(func(ev ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		fractions[ev.Node] = append(fractions[ev.Node], ev.Fraction)
	})

	res, err := exec.Update(context.Background(), add)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	for _, node := range res.NodesExecuted {
		got := fractions[node]
		require.NotEmpty(t, got, node)
		for i := 1; i < len(got); i++ {
			assert.GreaterOrEqual(t, got[i], got[i-1], "%s progress decreased", node)
		}
		assert.Equal(t, 1.0, got[len(got)-1])
	}
}

func TestUpdate_GraftSharesStorageCopyOnWrite(t *testing.T) {
	src, add := twoStage(t)
	exec := newTestExecutive(t, 2)
	_, err := exec.Update(context.Background(), add)
	require.NoError(t, err)

	snapshot := NewDataObject("snapshot", buffer.New[float64]())
	require.NoError(t, snapshot.Graft(add.out))
	assert.True(t, snapshot.Storage().Shared())
	assert.Equal(t, add.out.BufferedRegion(), snapshot.BufferedRegion())

	src.value = 100
	src.Modified()
	_, err = exec.Update(context.Background(), add)
	require.NoError(t, err)

	assertPixels(t, add.out, region.Rect(0, 0, 100, 100), 101)
	assertPixels(t, snapshot, region.Rect(0, 0, 100, 100), 8)
	assert.False(t, snapshot.Storage().Shared())
}
