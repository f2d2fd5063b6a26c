// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	partitionsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rasterflow_partitions_dispatched_total",
		Help: "Total partitions handed to workers, by node",
	}, []string{"node"})

	partitionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rasterflow_partition_failures_total",
		Help: "Total partitions whose compute callback failed, by node",
	}, []string{"node"})

	dispatchesAborted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rasterflow_dispatches_aborted_total",
		Help: "Total node dispatches stopped by an abort request",
	})

	dispatchWorkers = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rasterflow_dispatch_workers",
		Help:    "Workers used per node dispatch",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
	})

	bufferReallocations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rasterflow_buffer_reallocations_total",
		Help: "Total output buffer (re)allocations",
	})

	bufferBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rasterflow_buffer_bytes",
		Help: "Bytes currently held by output buffers the executive allocated",
	})

	buffersReleased = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rasterflow_buffers_released_total",
		Help: "Total intermediate buffers released after their last consumer",
	})
)
