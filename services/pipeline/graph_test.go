// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/rasterflow/pkg/region"
)

func diamond(t *testing.T) (*testSource, *testAdd, *testAdd, *testSum) {
	t.Helper()
	src := newTestSource("src", region.Rect(0, 0, 16, 16), 1)
	left := newTestAdd("left", 1)
	right := newTestAdd("right", 2)
	sum := newTestSum("sum")
	require.NoError(t, Connect(src, 0, left, 0))
	require.NoError(t, Connect(src, 0, right, 0))
	require.NoError(t, Connect(left, 0, sum, 0))
	require.NoError(t, Connect(right, 0, sum, 1))
	return src, left, right, sum
}

func TestBuilder_Diamond(t *testing.T) {
	src, left, right, sum := diamond(t)
	g, err := NewBuilder("diamond").
		AddNode(src).AddNode(left).AddNode(right).AddNode(sum).
		Build()
	require.NoError(t, err)

	assert.Equal(t, "diamond", g.Name())
	assert.Equal(t, 4, g.NodeCount())
	assert.Equal(t, []string{"src", "left", "right", "sum"}, g.NodeNames())
	assert.Equal(t, []string{"left", "right"}, g.Dependencies("sum"))
	assert.Equal(t, []string{"src"}, g.Dependencies("left"))
	assert.Empty(t, g.Dependencies("src"))
	assert.Equal(t, []string{"sum"}, g.Terminals())
	assert.Same(t, sum, g.Terminal().(*testSum))

	n, ok := g.Node("left")
	require.True(t, ok)
	assert.Same(t, left, n.(*testAdd))
	_, ok = g.Node("missing")
	assert.False(t, ok)
}

func TestBuilder_Errors(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		_, err := NewBuilder("g").Build()
		assert.ErrorIs(t, err, ErrEmptyGraph)
	})

	t.Run("nil node", func(t *testing.T) {
		_, err := NewBuilder("g").AddNode(nil).Build()
		assert.ErrorIs(t, err, ErrNilNode)
	})

	t.Run("duplicate", func(t *testing.T) {
		a := newTestSource("a", region.Rect(0, 0, 1, 1), 0)
		b := newTestSource("a", region.Rect(0, 0, 1, 1), 0)
		_, err := NewBuilder("g").AddNode(a).AddNode(b).Build()
		assert.ErrorIs(t, err, ErrDuplicateNode)
		assert.ErrorIs(t, err, ErrConfiguration)
	})

	t.Run("uninitialized", func(t *testing.T) {
		_, err := NewBuilder("g").AddNode(&testAdd{}).Build()
		assert.ErrorIs(t, err, ErrNodeNotInitialized)
	})

	t.Run("producer outside graph", func(t *testing.T) {
		src := newTestSource("src", region.Rect(0, 0, 4, 4), 0)
		add := newTestAdd("add", 1)
		require.NoError(t, Connect(src, 0, add, 0))
		_, err := NewBuilder("g").AddNode(add).Build()
		assert.ErrorIs(t, err, ErrNodeNotFound)
		var ne *NodeError
		require.ErrorAs(t, err, &ne)
		assert.Equal(t, "add", ne.Node)
	})

	t.Run("required input unset", func(t *testing.T) {
		_, err := NewBuilder("g").AddNode(newTestAdd("add", 1)).Build()
		assert.ErrorIs(t, err, ErrInputNotSet)
	})

	t.Run("cycle", func(t *testing.T) {
		a := newTestAdd("a", 1)
		b := newTestAdd("b", 1)
		require.NoError(t, Connect(a, 0, b, 0))
		require.NoError(t, Connect(b, 0, a, 0))
		_, err := NewBuilder("g").AddNode(a).AddNode(b).Build()
		assert.ErrorIs(t, err, ErrCycleDetected)
		var ce *CycleError
		require.ErrorAs(t, err, &ce)
		assert.Len(t, ce.Path, 3)
		assert.Equal(t, ce.Path[0], ce.Path[2])
	})
}

func TestBuilder_StaticInputsNeedNoProducer(t *testing.T) {
	img := NewDataObject("img", nil)
	add := newTestAdd("add", 1)
	require.NoError(t, add.SetInput(0, img))
	g, err := NewBuilder("g").AddNode(add).Build()
	require.NoError(t, err)
	assert.Equal(t, []string{"add"}, g.Terminals())
}

func TestGraph_Update(t *testing.T) {
	src, left, right, sum := diamond(t)
	g, err := NewBuilder("diamond").
		AddNode(src).AddNode(left).AddNode(right).AddNode(sum).
		Build()
	require.NoError(t, err)
	exec := newTestExecutive(t, 4)

	res, err := g.Update(context.Background(), exec, "")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, res.Status)
	assert.Equal(t, "sum", res.Terminal)
	assertPixels(t, sum.out, region.Rect(0, 0, 16, 16), 5)

	res, err = g.Update(context.Background(), exec, "left")
	require.NoError(t, err)
	assert.Equal(t, "left", res.Terminal)

	_, err = g.Update(context.Background(), exec, "nope")
	assert.ErrorIs(t, err, ErrNodeNotFound)
	_, err = g.Update(context.Background(), nil, "")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestGraph_Rebuild(t *testing.T) {
	src, left, right, sum := diamond(t)
	g, err := NewBuilder("diamond").
		AddNode(src).AddNode(left).AddNode(right).AddNode(sum).
		Build()
	require.NoError(t, err)

	// Feed both sum inputs from left; right becomes a terminal.
	require.NoError(t, Connect(left, 0, sum, 1))
	g2, err := g.Rebuild()
	require.NoError(t, err)
	assert.Equal(t, []string{"right", "sum"}, g2.Terminals())
	assert.Equal(t, []string{"left"}, g2.Dependencies("sum"))
}
