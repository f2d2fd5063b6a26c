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
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/rasterflow/services/pipeline"
)

var (
	colorAccent  = lipgloss.Color("#20B9B4")
	colorSuccess = lipgloss.Color("#2CD7C7")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
	colorMuted   = lipgloss.Color("#2C4A54")
)

var styles = struct {
	Title   lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Box     lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(colorAccent),
	Muted:   lipgloss.NewStyle().Foreground(colorMuted),
	Success: lipgloss.NewStyle().Foreground(colorSuccess),
	Warning: lipgloss.NewStyle().Foreground(colorWarning),
	Error:   lipgloss.NewStyle().Foreground(colorError),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorAccent).
		Padding(0, 1),
}

// statusLine renders the status with its icon.
func statusLine(s pipeline.Status) string {
	switch s {
	case pipeline.StatusSucceeded:
		return styles.Success.Render("✓ " + string(s))
	case pipeline.StatusAborted:
		return styles.Warning.Render("⚠ " + string(s))
	default:
		return styles.Error.Render("✗ " + string(s))
	}
}

// printSummary writes a boxed summary of an Update.
func printSummary(w io.Writer, res *pipeline.Result) {
	if res == nil {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s\n", styles.Title.Render(res.Terminal), statusLine(res.Status))
	fmt.Fprintf(&b, "run %s in %s\n", res.RunID, res.Duration.Round(time.Millisecond))
	fmt.Fprintf(&b, "executed %d, skipped %d, partitions %d",
		len(res.NodesExecuted), len(res.NodesSkipped), res.Partitions)

	for _, n := range res.NodesExecuted {
		fmt.Fprintf(&b, "\n  %-20s %s", n, styles.Muted.Render(res.NodeDurations[n].Round(time.Microsecond).String()))
	}
	if len(res.NodesSkipped) > 0 {
		fmt.Fprintf(&b, "\n%s", styles.Muted.Render("up to date: "+strings.Join(res.NodesSkipped, ", ")))
	}
	if res.Error != "" {
		fmt.Fprintf(&b, "\n%s", styles.Error.Render(res.Error))
	}
	fmt.Fprintln(w, styles.Box.Render(b.String()))
}
