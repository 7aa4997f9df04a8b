// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package procdispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/bureau-foundation/pingkit/lib/codec"
)

// Handler runs one entry point. args is the CBOR the dispatcher
// encoded; the handler decodes it into its own argument type. The
// return value becomes the exit status.
type Handler func(ctx context.Context, args codec.RawMessage, logger *slog.Logger) bool

// Registry maps entry point names to handlers. The parent and the
// child must register the same names. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Entrypoint]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Entrypoint]Handler)}
}

// Register adds a handler. Registering a name twice panics.
func (r *Registry) Register(name Entrypoint, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		panic(fmt.Sprintf("procdispatch: entry point %q registered twice", name))
	}
	r.handlers[name] = handler
}

// Lookup returns the handler for name.
func (r *Registry) Lookup(name Entrypoint) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[name]
	return handler, ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []Entrypoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]Entrypoint, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
