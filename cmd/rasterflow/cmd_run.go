// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/rasterflow/services/pipeline"
	"github.com/AleutianAI/rasterflow/services/pipeline/telemetry"
)

// shutdownTimeout bounds telemetry flushes and the status server drain.
const shutdownTimeout = 5 * time.Second

type runOptions struct {
	sessionOptions
	metricsAddr string
}

func newRunCmd(g *globalOptions) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Update a pipeline once",
		Long: `Loads a pipeline description, updates its terminal node and prints a
summary. Exits non-zero when the Update fails or is interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.global = g
			opts.out = cmd.OutOrStdout()
			opts.interactive = isTerminal(opts.out)
			_, err := runPipeline(cmd.Context(), opts)
			return err
		},
	}
	addSessionFlags(cmd, &opts.sessionOptions)
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve /metrics, /healthz and /v1/progress on this address")
	return cmd
}

func addSessionFlags(cmd *cobra.Command, opts *sessionOptions) {
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "Pipeline description (YAML)")
	cmd.Flags().StringVar(&opts.region, "region", "", `Terminal request as "x,y:w,h"; overrides the description`)
	cmd.Flags().IntVar(&opts.threads, "threads", 0, "Default worker count per node (0 = GOMAXPROCS)")
	_ = cmd.MarkFlagRequired("file")
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// initTelemetry starts exporters and returns a shutdown that logs its error.
func initTelemetry(ctx context.Context, desc *Description) (func(*slog.Logger), error) {
	shutdown, err := telemetry.Init(ctx, desc.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	return func(logger *slog.Logger) {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}, nil
}

// runPipeline performs one Update and prints its summary.
//
// Outputs:
//
//	*pipeline.Result - The Update result, nil if the pipeline could not be built.
//	error - Load, build or Update failure.
func runPipeline(ctx context.Context, opts runOptions) (*pipeline.Result, error) {
	desc, err := LoadDescription(opts.file)
	if err != nil {
		return nil, err
	}
	stopTelemetry, err := initTelemetry(ctx, desc)
	if err != nil {
		return nil, err
	}

	tracker := newProgressTracker()
	s, err := newSession(desc, opts.sessionOptions, tracker, nil)
	if err != nil {
		stopTelemetry(slog.Default())
		return nil, err
	}
	logger := s.logger.Slog()
	defer func() {
		stopTelemetry(logger)
		if err := s.close(); err != nil {
			logger.Warn("close failed", slog.String("error", err.Error()))
		}
	}()

	if opts.metricsAddr != "" {
		srv, err := startStatusServer(opts.metricsAddr, tracker, logger)
		if err != nil {
			return nil, fmt.Errorf("status server: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	res, err := s.update(ctx)
	printSummary(opts.out, res)
	return res, err
}
