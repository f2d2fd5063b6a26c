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
	"log/slog"
	"path/filepath"
	"reflect"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/rasterflow/services/pipeline"
	"github.com/AleutianAI/rasterflow/services/pipeline/registry"
)

type watchOptions struct {
	runOptions

	// debounce batches bursts of file events into one Update.
	debounce time.Duration

	// onResult, if set, receives every Update outcome.
	onResult func(*pipeline.Result, error)
}

func newWatchCmd(g *globalOptions) *cobra.Command {
	var opts watchOptions
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Update a pipeline whenever its description or inputs change",
		Long: `Runs an Update, then watches the description file and the files read by
tiff-reader nodes. A change to the description that leaves the graph intact
reuses the built graph, so only nodes whose inputs changed execute again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.global = g
			opts.out = cmd.OutOrStdout()
			opts.interactive = isTerminal(opts.out)
			return watchPipeline(cmd.Context(), opts)
		},
	}
	addSessionFlags(cmd, &opts.sessionOptions)
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve /metrics, /healthz and /v1/progress on this address")
	cmd.Flags().DurationVar(&opts.debounce, "debounce", 250*time.Millisecond, "Quiet period before reacting to file changes")
	return cmd
}

// watchPipeline updates the pipeline on every change until ctx is done.
// Update failures are reported and the watch continues.
func watchPipeline(ctx context.Context, opts watchOptions) error {
	if opts.debounce <= 0 {
		opts.debounce = 250 * time.Millisecond
	}
	desc, err := LoadDescription(opts.file)
	if err != nil {
		return err
	}
	stopTelemetry, err := initTelemetry(ctx, desc)
	if err != nil {
		return err
	}

	// Stores outlive rebuilds: badger allows one open handle per directory.
	env := registry.NewEnv(slog.Default())
	defer func() {
		if err := env.Close(); err != nil {
			slog.Default().Warn("close stores failed", slog.String("error", err.Error()))
		}
	}()

	tracker := newProgressTracker()
	s, err := newSession(desc, opts.sessionOptions, tracker, env)
	if err != nil {
		stopTelemetry(slog.Default())
		return err
	}
	defer func() {
		logger := s.logger.Slog()
		stopTelemetry(logger)
		if err := s.close(); err != nil {
			logger.Warn("close failed", slog.String("error", err.Error()))
		}
	}()

	if opts.metricsAddr != "" {
		srv, err := startStatusServer(opts.metricsAddr, tracker, s.logger.Slog())
		if err != nil {
			return fmt.Errorf("status server: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	watched := make(map[string]bool)
	watchPaths := func(d *Description) {
		for _, p := range append([]string{opts.file}, d.readerPaths()...) {
			abs, err := filepath.Abs(p)
			if err != nil {
				continue
			}
			if watched[abs] {
				continue
			}
			watched[abs] = true
			if err := watcher.Add(filepath.Dir(abs)); err != nil {
				s.logger.Warn("cannot watch", slog.String("path", abs), slog.String("error", err.Error()))
			}
		}
	}
	watchPaths(desc)

	update := func() {
		res, err := s.update(ctx)
		printSummary(opts.out, res)
		if err != nil {
			s.logger.Warn("update failed", slog.String("error", err.Error()))
		}
		if opts.onResult != nil {
			opts.onResult(res, err)
		}
	}
	update()

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !watched[filepath.Clean(ev.Name)] {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			s.logger.Debug("file changed", slog.String("path", ev.Name), slog.String("op", ev.Op.String()))
			if timer == nil {
				timer = time.NewTimer(opts.debounce)
			} else {
				timer.Reset(opts.debounce)
			}
			timerC = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("watch error", slog.String("error", err.Error()))

		case <-timerC:
			timerC = nil
			next, err := LoadDescription(opts.file)
			if err != nil {
				s.logger.Warn("reload failed, keeping the current pipeline", slog.String("error", err.Error()))
				continue
			}
			if !sameGraph(s.desc, next) {
				ns, err := newSession(next, opts.sessionOptions, tracker, env)
				if err != nil {
					s.logger.Warn("rebuild failed, keeping the current pipeline", slog.String("error", err.Error()))
					continue
				}
				if err := s.close(); err != nil {
					ns.logger.Warn("close failed", slog.String("error", err.Error()))
				}
				s = ns
				s.logger.Info("pipeline rebuilt", slog.String("file", opts.file))
				watchPaths(next)
			}
			update()
		}
	}
}

// sameGraph reports whether b describes the same nodes, wiring, executive
// config and terminal request as a.
func sameGraph(a, b *Description) bool {
	return a.Name == b.Name &&
		a.Terminal == b.Terminal &&
		a.Region == b.Region &&
		reflect.DeepEqual(a.Config, b.Config) &&
		reflect.DeepEqual(a.Nodes, b.Nodes) &&
		a.Logging == b.Logging
}
