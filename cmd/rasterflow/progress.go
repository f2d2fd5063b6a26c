// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"

	"github.com/AleutianAI/rasterflow/services/pipeline"
)

// progressTracker keeps the latest progress of the current Update for the
// status server.
//
// Thread Safety:
//
//	Safe for concurrent use.
type progressTracker struct {
	mu        sync.Mutex
	running   bool
	terminal  string
	runID     string
	current   string
	fractions map[string]float64
	order     []string
	started   time.Time
	updates   int
	last      *runSummary
}

// runSummary is the outcome of the previous Update.
type runSummary struct {
	RunID    string   `json:"run_id"`
	Status   string   `json:"status"`
	Executed []string `json:"executed"`
	Skipped  []string `json:"skipped"`
	Duration string   `json:"duration"`
	Error    string   `json:"error,omitempty"`
}

// nodeProgress is one node of a progress snapshot.
type nodeProgress struct {
	Node     string  `json:"node"`
	Fraction float64 `json:"fraction"`
}

// progressSnapshot is served by /v1/progress.
type progressSnapshot struct {
	Running  bool           `json:"running"`
	Terminal string         `json:"terminal"`
	RunID    string         `json:"run_id,omitempty"`
	Current  string         `json:"current_node,omitempty"`
	Nodes    []nodeProgress `json:"nodes"`
	Elapsed  string         `json:"elapsed,omitempty"`
	Updates  int            `json:"updates"`
	Last     *runSummary    `json:"last,omitempty"`
}

func newProgressTracker() *progressTracker {
	return &progressTracker{fractions: make(map[string]float64)}
}

func (t *progressTracker) begin(terminal string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = true
	t.terminal = terminal
	t.runID = ""
	t.current = ""
	t.fractions = make(map[string]float64)
	t.order = nil
	t.started = time.Now()
}

func (t *progressTracker) observe(ev pipeline.ProgressEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, seen := t.fractions[ev.Node]; !seen {
		t.order = append(t.order, ev.Node)
	}
	t.runID = ev.RunID
	t.current = ev.Node
	t.fractions[ev.Node] = ev.Fraction
}

func (t *progressTracker) finish(res *pipeline.Result, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	t.current = ""
	t.updates++
	s := &runSummary{Status: string(pipeline.StatusFailed)}
	if res != nil {
		s.RunID = res.RunID
		s.Status = string(res.Status)
		s.Executed = slices.Clone(res.NodesExecuted)
		s.Skipped = slices.Clone(res.NodesSkipped)
		s.Duration = res.Duration.String()
	}
	if err != nil {
		s.Error = err.Error()
	}
	t.last = s
}

// Snapshot returns a copy of the current state.
func (t *progressTracker) Snapshot() progressSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := progressSnapshot{
		Running:  t.running,
		Terminal: t.terminal,
		RunID:    t.runID,
		Current:  t.current,
		Nodes:    make([]nodeProgress, 0, len(t.order)),
		Updates:  t.updates,
		Last:     t.last,
	}
	for _, n := range t.order {
		snap.Nodes = append(snap.Nodes, nodeProgress{Node: n, Fraction: t.fractions[n]})
	}
	if t.running {
		snap.Elapsed = time.Since(t.started).Round(time.Millisecond).String()
	}
	return snap
}

// newProgressPrinter renders progress events. On a terminal it redraws a
// bar per node; otherwise it logs each quarter of a node's progress.
func newProgressPrinter(w io.Writer, interactive bool, logger *slog.Logger) pipeline.ProgressObserver {
	var mu sync.Mutex
	if interactive && w != nil {
		bar := progress.New(progress.WithDefaultGradient(), progress.WithWidth(40))
		return func(ev pipeline.ProgressEvent) {
			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintf(w, "\r%-20s %s", ev.Node, bar.ViewAs(ev.Fraction))
			if ev.Fraction >= 1 {
				fmt.Fprintln(w)
			}
		}
	}

	quarters := make(map[string]int)
	return func(ev pipeline.ProgressEvent) {
		q := int(ev.Fraction * 4)
		mu.Lock()
		last, seen := quarters[ev.Node]
		if seen && q <= last {
			mu.Unlock()
			return
		}
		quarters[ev.Node] = q
		if q >= 4 {
			// A later execution of the node starts over.
			delete(quarters, ev.Node)
		}
		mu.Unlock()
		logger.Info("progress",
			slog.String("run_id", ev.RunID),
			slog.String("node", ev.Node),
			slog.Int("percent", q*25),
		)
	}
}
