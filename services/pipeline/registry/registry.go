// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package registry maps node type tags to constructors.
//
// The process-wide registry is created by Init and dropped by Teardown;
// nothing registers itself at package initialization. Tools that need
// isolation create their own Registry with New.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/AleutianAI/rasterflow/services/pipeline"
	"github.com/AleutianAI/rasterflow/services/pipeline/formats"
)

// Sentinel errors for registry operations.
var (
	// ErrUnknownType is returned when no constructor is registered for a tag.
	ErrUnknownType = errors.New("unknown node type")

	// ErrDuplicateType is returned when a tag is registered twice.
	ErrDuplicateType = errors.New("node type already registered")

	// ErrNotInitialized is returned when the process-wide registry is used
	// before Init or after Teardown.
	ErrNotInitialized = errors.New("registry not initialized")

	// ErrAlreadyInitialized is returned by a second Init without Teardown.
	ErrAlreadyInitialized = errors.New("registry already initialized")

	// ErrInvalidSpec is returned for a malformed NodeSpec.
	ErrInvalidSpec = errors.New("invalid node spec")
)

// Constructor creates a node from its NodeSpec.
type Constructor func(spec NodeSpec, env *Env) (pipeline.Node, error)

// Entry is one registered node type.
type Entry struct {
	// Tag is the type name used in pipeline descriptions.
	Tag string

	// Description is a one-line summary shown by tooling.
	Description string

	// Params lists the accepted parameter names.
	Params []string

	// Constructor creates the node.
	Constructor Constructor
}

// Registry maps tags to constructors.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// NewWithBuiltins returns a registry holding every built-in node type.
func NewWithBuiltins() *Registry {
	r := New()
	for _, e := range builtins() {
		// Built-in tags are unique.
		_ = r.Register(e)
	}
	return r
}

// Register adds an entry.
//
// Outputs:
//
//	error - ErrInvalidSpec for an empty tag or nil constructor,
//	        ErrDuplicateType if the tag exists.
func (r *Registry) Register(e Entry) error {
	if e.Tag == "" || e.Constructor == nil {
		return fmt.Errorf("%w: entry needs a tag and a constructor", ErrInvalidSpec)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[e.Tag]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateType, e.Tag)
	}
	e.Params = slices.Clone(e.Params)
	r.entries[e.Tag] = e
	return nil
}

// Unregister removes a tag. Removing an unknown tag is a no-op.
func (r *Registry) Unregister(tag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, tag)
}

// Lookup returns the entry for tag.
func (r *Registry) Lookup(tag string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[tag]
	return e, ok
}

// Entries returns all entries sorted by tag.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}

// Tags returns the registered tags, sorted.
func (r *Registry) Tags() []string {
	entries := r.Entries()
	tags := make([]string, len(entries))
	for i, e := range entries {
		tags[i] = e.Tag
	}
	return tags
}

// New creates a node from spec.
func (r *Registry) New(spec NodeSpec, env *Env) (pipeline.Node, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("%w: node without a name", ErrInvalidSpec)
	}
	e, ok := r.Lookup(spec.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %q (node %q)", ErrUnknownType, spec.Type, spec.Name)
	}
	if env == nil {
		env = NewEnv(nil)
	}
	n, err := e.Constructor(spec, env)
	if err != nil {
		return nil, fmt.Errorf("node %q (%s): %w", spec.Name, spec.Type, err)
	}
	if threads := spec.Threads; threads > 0 {
		n.Base().SetNumberOfThreads(threads)
	}
	return n, nil
}

// -----------------------------------------------------------------------------
// Process-wide registry
// -----------------------------------------------------------------------------

var (
	defaultMu       sync.Mutex
	defaultRegistry *Registry
)

// Init creates the process-wide registry with the built-in node types.
func Init() error {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRegistry != nil {
		return ErrAlreadyInitialized
	}
	defaultRegistry = NewWithBuiltins()
	return nil
}

// Teardown drops the process-wide registry. Safe to call when not
// initialized.
func Teardown() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultRegistry = nil
}

// Default returns the process-wide registry.
func Default() (*Registry, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRegistry == nil {
		return nil, ErrNotInitialized
	}
	return defaultRegistry, nil
}

// Register adds an entry to the process-wide registry.
func Register(e Entry) error {
	r, err := Default()
	if err != nil {
		return err
	}
	return r.Register(e)
}

// -----------------------------------------------------------------------------
// Environment
// -----------------------------------------------------------------------------

// Env holds resources shared by the nodes of one pipeline, such as open
// tile stores.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Env struct {
	mu     sync.Mutex
	stores map[string]*formats.Store
	logger *slog.Logger
}

// NewEnv creates an environment. nil logger means slog.Default().
func NewEnv(logger *slog.Logger) *Env {
	if logger == nil {
		logger = slog.Default()
	}
	return &Env{stores: make(map[string]*formats.Store), logger: logger}
}

// Logger returns the environment logger.
func (e *Env) Logger() *slog.Logger {
	return e.logger
}

// Store returns the tile store at path, opening it on first use. The
// path ":memory:" opens an in-memory store shared within the Env.
func (e *Env) Store(path string) (*formats.Store, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty store path", ErrInvalidSpec)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.stores[path]; ok {
		return s, nil
	}
	cfg := formats.DefaultStoreConfig(path)
	if path == ":memory:" {
		cfg = formats.InMemoryStoreConfig()
	}
	cfg.Logger = e.logger
	s, err := formats.OpenStore(cfg)
	if err != nil {
		return nil, err
	}
	e.stores[path] = s
	return s, nil
}

// Close closes every store opened through the environment.
func (e *Env) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var errs []error
	for path, s := range e.stores {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store %s: %w", path, err))
		}
		delete(e.stores, path)
	}
	return errors.Join(errs...)
}
