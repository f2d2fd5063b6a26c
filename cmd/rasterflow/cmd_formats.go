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
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/rasterflow/services/pipeline/formats"
	"github.com/AleutianAI/rasterflow/services/pipeline/registry"
)

func newFormatsCmd() *cobra.Command {
	var store string
	cmd := &cobra.Command{
		Use:   "formats",
		Short: "List registered node types, or the datasets of a tile store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if store != "" {
				return listDatasets(cmd.Context(), cmd.OutOrStdout(), store)
			}
			reg, err := registry.Default()
			if err != nil {
				return err
			}
			listEntries(cmd.OutOrStdout(), reg.Entries())
			return nil
		},
	}
	cmd.Flags().StringVar(&store, "store", "", "Tile store directory to list")
	return cmd
}

func listEntries(w io.Writer, entries []registry.Entry) {
	fmt.Fprintln(w, styles.Title.Render("Node types"))
	for _, e := range entries {
		params := ""
		if len(e.Params) > 0 {
			params = styles.Muted.Render(" [" + strings.Join(e.Params, ", ") + "]")
		}
		fmt.Fprintf(w, "  %-18s %s%s\n", e.Tag, e.Description, params)
	}
}

func listDatasets(ctx context.Context, w io.Writer, path string) error {
	st, err := formats.OpenStore(formats.DefaultStoreConfig(path))
	if err != nil {
		return err
	}
	defer st.Close()

	names, err := st.Datasets(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, styles.Title.Render("Datasets in "+path))
	if len(names) == 0 {
		fmt.Fprintln(w, styles.Muted.Render("  (none)"))
		return nil
	}
	for _, name := range names {
		m, err := st.Manifest(ctx, name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  %-18s %-8s %v tiles %v\n", name, m.PixelType, m.Region(), m.TileSize)
	}
	return nil
}
