// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command rasterflow runs image pipelines described in YAML.
//
// Usage:
//
//	rasterflow run -f pipeline.yaml
//	rasterflow run -f pipeline.yaml --region 0,0:512,512 --threads 8
//	rasterflow run -f pipeline.yaml --metrics-addr :9090
//	rasterflow watch -f pipeline.yaml
//	rasterflow formats
//
// A pipeline description lists nodes by registered type:
//
//	name: ndvi-preview
//	config:
//	  num_threads: 4
//	nodes:
//	  - name: src
//	    type: tiff-reader
//	    pixel: uint16
//	    params: {path: scene.tif}
//	  - name: smooth
//	    type: mean
//	    pixel: uint16
//	    inputs: [src]
//	    params: {radius: [2]}
//	  - name: out
//	    type: tiff-writer
//	    pixel: uint16
//	    inputs: [smooth]
//	    params: {path: smooth.tif, depth: 16}
//
// Example requests against the status server:
//
//	curl http://localhost:9090/healthz
//	curl http://localhost:9090/v1/progress | jq
//	curl http://localhost:9090/metrics
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/rasterflow/services/pipeline/registry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, styles.Error.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

// globalOptions are flags shared by every command.
type globalOptions struct {
	logLevel string
	logJSON  bool
	logDir   string
}

func newRootCmd() *cobra.Command {
	var g globalOptions
	root := &cobra.Command{
		Use:           "rasterflow",
		Short:         "Demand-driven, tiled, multi-threaded image pipelines",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := registry.Init(); err != nil && !errors.Is(err, registry.ErrAlreadyInitialized) {
				return err
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			registry.Teardown()
		},
	}
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the description")
	root.PersistentFlags().BoolVar(&g.logJSON, "log-json", false, "Log JSON to stderr")
	root.PersistentFlags().StringVar(&g.logDir, "log-dir", "", "Also write JSON logs to this directory")

	root.AddCommand(newRunCmd(&g), newWatchCmd(&g), newFormatsCmd())
	return root
}
