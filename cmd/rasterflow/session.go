// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/AleutianAI/rasterflow/pkg/logging"
	"github.com/AleutianAI/rasterflow/services/pipeline"
	"github.com/AleutianAI/rasterflow/services/pipeline/registry"
)

// sessionOptions are the inputs shared by run and watch.
type sessionOptions struct {
	file    string
	region  string
	threads int
	global  *globalOptions

	// out receives the progress display and summaries.
	out io.Writer

	// interactive selects the progress bar over log lines.
	interactive bool
}

// session is a built pipeline ready to update.
type session struct {
	desc     *Description
	logger   *logging.Logger
	env      *registry.Env
	graph    *pipeline.Graph
	terminal pipeline.Node
	exec     *pipeline.Executive
	tracker  *progressTracker

	// ownsEnv is false when env outlives the session.
	ownsEnv bool
}

// newSession builds a session from desc. tracker may be shared across
// sessions; nil creates a new one. A non-nil env is shared: its
// stores stay open when the session closes, so a rebuilt pipeline can
// reopen the same badger directories.
func newSession(desc *Description, opts sessionOptions, tracker *progressTracker, env *registry.Env) (s *session, err error) {
	logCfg, err := desc.LoggerConfig(opts.global.logLevel)
	if err != nil {
		return nil, err
	}
	if opts.global.logJSON {
		logCfg.JSON = true
	}
	if opts.global.logDir != "" {
		logCfg.LogDir = opts.global.logDir
	}
	logger := logging.New(logCfg)
	defer func() {
		if err != nil {
			_ = logger.Close()
		}
	}()

	cfg := desc.Config
	if opts.threads > 0 {
		cfg.NumThreads = opts.threads
	}
	exec, err := pipeline.NewExecutive(cfg, logger.Slog())
	if err != nil {
		return nil, err
	}

	reg, err := registry.Default()
	if err != nil {
		return nil, err
	}
	ownsEnv := env == nil
	if ownsEnv {
		env = registry.NewEnv(logger.Slog())
	}
	graph, terminal, err := desc.Build(reg, env, opts.region)
	if err != nil {
		if ownsEnv {
			err = errors.Join(err, env.Close())
		}
		return nil, err
	}

	if tracker == nil {
		tracker = newProgressTracker()
	}
	exec.AddProgressObserver(tracker.observe)
	exec.AddProgressObserver(newProgressPrinter(opts.out, opts.interactive, logger.Slog()))

	logger.Info("pipeline loaded",
		slog.String("file", opts.file),
		slog.String("graph", graph.Name()),
		slog.Int("nodes", graph.NodeCount()),
		slog.String("terminal", terminal.Base().Name()),
	)
	return &session{
		desc:     desc,
		logger:   logger,
		env:      env,
		graph:    graph,
		terminal: terminal,
		exec:     exec,
		tracker:  tracker,
		ownsEnv:  ownsEnv,
	}, nil
}

// update runs one Update of the terminal node.
func (s *session) update(ctx context.Context) (*pipeline.Result, error) {
	s.tracker.begin(s.terminal.Base().Name())
	res, err := s.exec.Update(ctx, s.terminal)
	s.tracker.finish(res, err)
	if err != nil {
		return res, fmt.Errorf("update %s: %w", s.terminal.Base().Name(), err)
	}
	return res, nil
}

// close releases the log file and, when the session owns them, the stores.
func (s *session) close() error {
	var envErr error
	if s.ownsEnv {
		envErr = s.env.Close()
	}
	return errors.Join(envErr, s.logger.Close())
}
