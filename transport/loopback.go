// Package transport implements the optional RemoteTransport adapter
// (spec.md §6, §4.4): a pluggable collaborator the node dispatcher
// consults when no local action handler resolves a request.
package transport

import (
	"fmt"
	"sync"

	"github.com/rskv-p/nodebus/busapi"
)

// LoopbackHandler answers a single remote-request path with response bytes.
type LoopbackHandler func(payload []byte) ([]byte, error)

// Loopback is an in-process RemoteTransport with no network hop, used by
// tests to exercise remote fallback without a network — the teacher's pack
// carries a similar dual-transport split between a hand-rolled `transport`
// package and the NATS-backed `servs/s_nats` service; this is the
// hand-rolled half adapted to the bus's RemoteTransport contract.
type Loopback struct {
	mu       sync.RWMutex
	handlers map[string]LoopbackHandler
	started  bool
}

var _ busapi.RemoteTransport = (*Loopback)(nil)

// NewLoopback creates an empty Loopback transport.
func NewLoopback() *Loopback {
	return &Loopback{handlers: make(map[string]LoopbackHandler)}
}

// Handle registers handler for the exact path string "network:service/action".
func (l *Loopback) Handle(path string, handler LoopbackHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[path] = handler
}

// Start marks the transport ready. Loopback has no underlying connection.
func (l *Loopback) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = true
	return nil
}

// Stop marks the transport as no longer accepting requests.
func (l *Loopback) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = false
	return nil
}

// Request dispatches to the handler registered for path, if any.
func (l *Loopback) Request(path string, payload []byte) ([]byte, error) {
	l.mu.RLock()
	handler, ok := l.handlers[path]
	started := l.started
	l.mu.RUnlock()

	if !started {
		return nil, fmt.Errorf("transport: loopback not started")
	}
	if !ok {
		return nil, fmt.Errorf("transport: no loopback handler for %q", path)
	}
	return handler(payload)
}

// Publish is a no-op for Loopback; spec.md §4.4 marks remote publish as an
// explicit, separate call the local bus never makes on its own.
func (l *Loopback) Publish(path string, payload []byte) error {
	return nil
}
