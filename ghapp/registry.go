// Copyright 2025 Bluenote Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ghapp

import (
	"context"
	"sync"
)

// ActionWildcard registers a handler for every action of an event type,
// including deliveries that carry no action at all.
const ActionWildcard = "*"

// HandlerFunc processes one webhook delivery. The delivery carries the
// parsed envelope and the raw payload; see Delivery.ParsePayload for
// typed access. An error is recorded against the dispatch without
// affecting sibling handlers.
type HandlerFunc func(ctx context.Context, d *Delivery) error

type registration struct {
	action string
	fn     HandlerFunc
}

// Registry maps (event type, action) pairs to ordered handler callbacks.
// Registration is append-only and normally happens during application
// setup; lookups are safe for concurrent use at any point.
type Registry struct {
	mu      sync.RWMutex
	entries map[string][]registration
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string][]registration)}
}

// Register appends a handler for the event type and action. Multiple
// handlers may share a pair; they run in registration order. Passing
// ActionWildcard matches any action for the event type.
func (r *Registry) Register(eventType, action string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[eventType] = append(r.entries[eventType], registration{action: action, fn: fn})
}

// Handlers returns the handlers matching the event type and action, in
// strict registration order filtered by match. Wildcard registrations are
// interleaved with action-specific ones according to when they were
// registered, not given any priority.
func (r *Registry) Handlers(eventType, action string) []HandlerFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []HandlerFunc
	for _, reg := range r.entries[eventType] {
		if reg.action == ActionWildcard || reg.action == action {
			matched = append(matched, reg.fn)
		}
	}
	return matched
}
