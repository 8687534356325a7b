// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retention

import "sync/atomic"

// Token identifies a registration. Tokens are never reused.
type Token uint64

// Event is published to every registered listener.
type Event struct {
	Seq  uint64
	Name string
}

// Listener receives published events.
type Listener interface {
	OnEvent(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

// OnEvent calls f.
func (f ListenerFunc) OnEvent(e Event) { f(e) }

// Registry is a token-keyed listener set.
//
// Description:
//
//	Register hands out a Token that must later be passed to Unregister.
//	A registration that is never unregistered keeps its listener, and
//	everything the listener references, reachable for the life of the
//	registry. Publishing iterates every live listener.
//
// Thread Safety: Mutation and Publish must happen on one goroutine. Len and
// the counters are atomics and may be read from anywhere.
type Registry struct {
	name      string
	next      Token
	listeners map[Token]Listener
	seq       uint64

	size         atomic.Int64
	registered   atomic.Uint64
	unregistered atomic.Uint64
}

// NewRegistry creates an empty registry with a stable name.
func NewRegistry(name string) *Registry {
	return &Registry{name: name, listeners: make(map[Token]Listener)}
}

// Register adds l and returns its token.
func (r *Registry) Register(l Listener) Token {
	r.next++
	r.listeners[r.next] = l
	r.size.Store(int64(len(r.listeners)))
	r.registered.Add(1)
	return r.next
}

// Unregister removes the listener for tok. It reports false for unknown or
// already removed tokens.
func (r *Registry) Unregister(tok Token) bool {
	if _, ok := r.listeners[tok]; !ok {
		return false
	}
	delete(r.listeners, tok)
	r.size.Store(int64(len(r.listeners)))
	r.unregistered.Add(1)
	return true
}

// Publish delivers a named event to every listener and returns the number
// of deliveries.
func (r *Registry) Publish(name string) int {
	r.seq++
	e := Event{Seq: r.seq, Name: name}
	for _, l := range r.listeners {
		l.OnEvent(e)
	}
	return len(r.listeners)
}

// Name returns the registry name.
func (r *Registry) Name() string { return r.name }

// Len returns the number of live registrations.
func (r *Registry) Len() int { return int(r.size.Load()) }

// Registered returns the total number of Register calls.
func (r *Registry) Registered() uint64 { return r.registered.Load() }

// Unregistered returns the total number of successful Unregister calls.
func (r *Registry) Unregistered() uint64 { return r.unregistered.Load() }
