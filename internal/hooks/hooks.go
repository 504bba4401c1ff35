// Package hooks lets external collaborators observe and adjust
// attachment lifecycle events without reaching into the subsystem.
package hooks

import (
	"sync"

	"github.com/driftchan/driftchan/internal/domain"
)

type Event int

const (
	BeforeLoad Event = iota
	AfterLoad
	BeforeCreate
	AfterCreate
	BeforeApprove
	AfterApprove
	BeforeRemove
	AfterRemove
)

// Payload hands mutable references to the in-flight data. Records may
// be filtered or annotated in place; Extra carries hook-private state
// between the before/after pair of one operation.
type Payload struct {
	Records []*domain.AttachmentRecord
	Record  *domain.AttachmentRecord
	Extra   map[string]any
}

type Func func(*Payload)

type Dispatcher struct {
	mu    sync.RWMutex
	funcs map[Event][]Func
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{funcs: make(map[Event][]Func)}
}

func (d *Dispatcher) Register(event Event, fn Func) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.funcs[event] = append(d.funcs[event], fn)
}

func (d *Dispatcher) Dispatch(event Event, payload *Payload) {
	d.mu.RLock()
	fns := d.funcs[event]
	d.mu.RUnlock()
	if payload.Extra == nil {
		payload.Extra = make(map[string]any)
	}
	for _, fn := range fns {
		fn(payload)
	}
}
