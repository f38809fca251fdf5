// Package registry implements the ServiceRegistry (spec.md §4.3): action
// handler storage, the subscription table, local service entries, and the
// service lifecycle state machine. It is the single writer the dispatcher
// (package node) delegates all bus-state mutation to.
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rskv-p/nodebus/buserr"
	"github.com/rskv-p/nodebus/busapi"
	"github.com/rskv-p/nodebus/topic"
	"github.com/rskv-p/nodebus/trie"
)

// ServiceState is the lifecycle state of a registered service (spec.md §3).
type ServiceState string

const (
	StateCreated     ServiceState = "Created"
	StateInitialized ServiceState = "Initialized"
	StateRunning     ServiceState = "Running"
	StatePaused      ServiceState = "Paused"
	StateStopped     ServiceState = "Stopped"
	StateError       ServiceState = "Error"
	StateUnknown     ServiceState = "Unknown"
)

// allowedTransitions enumerates the state machine edges of spec.md §3.
// "any -> Error" is handled separately in UpdateServiceState.
var allowedTransitions = map[ServiceState][]ServiceState{
	StateCreated:     {StateInitialized},
	StateInitialized: {StateRunning, StateStopped},
	StateRunning:     {StatePaused, StateStopped},
	StatePaused:      {StateRunning},
}

// ServiceEntry records a locally-registered service and its lifecycle state.
type ServiceEntry struct {
	Service         busapi.AbstractService
	ServiceTopic    topic.Path
	State           ServiceState
	RegistrationMs  int64
	LastStartTimeMs int64
	Stats           ActionStats
}

// ActionStats holds runtime counters for one locally-registered service,
// adapted from the teacher's core.EndpointStats (NumRequests, NumErrors,
// ProcessingTime/AverageProcessingTime/Min/MaxProcessingTime) to the
// per-service granularity SPEC_FULL.md §12 asks for, plus a publish
// counter the teacher's endpoint stats had no equivalent of.
type ActionStats struct {
	NumRequests           int
	NumErrors             int
	NumPublishes          int
	LastError             string
	ProcessingTime        time.Duration
	AverageProcessingTime time.Duration
	MinProcessingTime     time.Duration
	MaxProcessingTime     time.Duration
	LastRequestTimeMs     int64
}

// SubscriptionKind distinguishes a locally-delivered subscriber from one
// proxying to a remote peer.
type SubscriptionKind int

const (
	KindLocal SubscriptionKind = iota
	KindRemote
)

// SubscriptionEntry is one registered event subscription.
type SubscriptionEntry struct {
	ID           string
	Kind         SubscriptionKind
	Metadata     map[string]string
	ServiceTopic topic.Path
	Pattern      topic.Path
	Subscriber   busapi.EventSubscriber
}

// Registry holds every piece of node-local bus state: action handlers,
// subscriptions, and service entries. All methods are safe for concurrent
// use; lookups are total (never error, possibly empty), matching spec.md
// §4.3's "Failure semantics".
type Registry struct {
	mu sync.RWMutex

	handlers *trie.Trie[busapi.ActionHandler]
	subs     *trie.Trie[*SubscriptionEntry]
	subByID  map[string]*SubscriptionEntry

	services map[string]*ServiceEntry // keyed by ServiceTopic.AsString()
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		handlers: trie.New[busapi.ActionHandler](),
		subs:     trie.New[*SubscriptionEntry](),
		subByID:  make(map[string]*SubscriptionEntry),
		services: make(map[string]*ServiceEntry),
	}
}

// AddLocalActionHandler registers handler under topic (which may contain
// template parameters or wildcards).
func (r *Registry) AddLocalActionHandler(pattern topic.Path, handler busapi.ActionHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers.Set(pattern, handler)
}

// FindLocalActionHandlers returns the handlers matching concreteTopic,
// ordered most-specific-first (spec.md §4.2).
func (r *Registry) FindLocalActionHandlers(concreteTopic topic.Path) []busapi.ActionHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matches := r.handlers.FindMatches(concreteTopic)
	out := make([]busapi.ActionHandler, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Value)
	}
	return out
}

// FindLocalActionMatches is like FindLocalActionHandlers but also returns
// the path-parameter bindings captured for each match, so the dispatcher
// can hand the winning handler its own template-parameter bindings.
func (r *Registry) FindLocalActionMatches(concreteTopic topic.Path) []trie.Match[busapi.ActionHandler] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers.FindMatches(concreteTopic)
}

// Subscribe registers subscriber under pattern and returns a fresh
// subscription id.
func (r *Registry) Subscribe(pattern, serviceTopic topic.Path, subscriber busapi.EventSubscriber, metadata map[string]string, kind SubscriptionKind) string {
	entry := &SubscriptionEntry{
		ID:           uuid.NewString(),
		Kind:         kind,
		Metadata:     metadata,
		ServiceTopic: serviceTopic,
		Pattern:      pattern,
		Subscriber:   subscriber,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs.Set(pattern, entry)
	r.subByID[entry.ID] = entry
	return entry.ID
}

// Unsubscribe removes the subscription with the given id. Returns true the
// first time it is called for a given id, false thereafter (spec.md §8).
func (r *Registry) Unsubscribe(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.subByID[id]
	if !ok {
		return false
	}
	delete(r.subByID, id)

	remaining := r.subs.GetExactValues(entry.Pattern)
	filtered := make([]*SubscriptionEntry, 0, len(remaining))
	for _, e := range remaining {
		if e.ID != id {
			filtered = append(filtered, e)
		}
	}
	r.subs.RemoveValues(entry.Pattern)
	for _, e := range filtered {
		r.subs.Set(entry.Pattern, e)
	}
	return true
}

// GetSubscribers returns the subscriptions whose pattern matches
// concreteTopic.
func (r *Registry) GetSubscribers(concreteTopic topic.Path) []*SubscriptionEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matches := r.subs.FindMatches(concreteTopic)
	out := make([]*SubscriptionEntry, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Value)
	}
	return out
}

// AddLocalService registers a service entry in state Created.
func (r *Registry) AddLocalService(service busapi.AbstractService, serviceTopic topic.Path, nowMs int64) *ServiceEntry {
	entry := &ServiceEntry{
		Service:        service,
		ServiceTopic:   serviceTopic,
		State:          StateCreated,
		RegistrationMs: nowMs,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[serviceTopic.AsString()] = entry
	return entry
}

// GetLocalServices returns a snapshot of every registered service entry.
func (r *Registry) GetLocalServices() []*ServiceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*ServiceEntry, 0, len(r.services))
	for _, e := range r.services {
		out = append(out, e)
	}
	return out
}

// GetLocalServiceState reports the state of the service owning serviceTopic,
// and whether such a service is registered at all.
func (r *Registry) GetLocalServiceState(serviceTopic topic.Path) (ServiceState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.services[serviceTopic.AsString()]
	if !ok {
		return StateUnknown, false
	}
	return e.State, true
}

// GetLocalServiceEntry returns the full entry for serviceTopic, if any.
func (r *Registry) GetLocalServiceEntry(serviceTopic topic.Path) (*ServiceEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.services[serviceTopic.AsString()]
	return e, ok
}

// UpdateServiceState transitions the named service to newState. "any ->
// Error" is always legal; every other transition must appear in
// allowedTransitions.
func (r *Registry) UpdateServiceState(serviceTopic topic.Path, newState ServiceState, nowMs int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.services[serviceTopic.AsString()]
	if !ok {
		return buserr.NotFound(serviceTopic.AsString())
	}

	if newState != StateError {
		legal := false
		for _, s := range allowedTransitions[e.State] {
			if s == newState {
				legal = true
				break
			}
		}
		if !legal {
			return buserr.InvalidServiceState(string(e.State))
		}
	}

	e.State = newState
	if newState == StateRunning {
		e.LastStartTimeMs = nowMs
	}
	return nil
}

// ValidatePauseTransition fails unless the service is currently Running.
func (r *Registry) ValidatePauseTransition(serviceTopic topic.Path) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.services[serviceTopic.AsString()]
	if !ok {
		return buserr.NotFound(serviceTopic.AsString())
	}
	if e.State != StateRunning {
		return buserr.InvalidServiceState(string(e.State))
	}
	return nil
}

// ValidateResumeTransition fails unless the service is currently Paused.
func (r *Registry) ValidateResumeTransition(serviceTopic topic.Path) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.services[serviceTopic.AsString()]
	if !ok {
		return buserr.NotFound(serviceTopic.AsString())
	}
	if e.State != StatePaused {
		return buserr.InvalidServiceState(string(e.State))
	}
	return nil
}

// RecordRequest updates the handler-latency counters for the service owning
// serviceTopic after a local action handler invocation, following the
// teacher's reqHandler: running total, running average, min/max, and (if
// handlerErr is non-nil) the error count and last error message. A request
// routed to a service with no local entry (remote fallback, or an unknown
// service-path) has nothing to record against and is silently ignored.
func (r *Registry) RecordRequest(serviceTopic topic.Path, dur time.Duration, handlerErr error, nowMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.services[serviceTopic.AsString()]
	if !ok {
		return
	}

	s := &e.Stats
	s.LastRequestTimeMs = nowMs
	s.NumRequests++
	s.ProcessingTime += dur
	s.AverageProcessingTime = s.ProcessingTime / time.Duration(s.NumRequests)
	if dur < s.MinProcessingTime || s.MinProcessingTime == 0 {
		s.MinProcessingTime = dur
	}
	if dur > s.MaxProcessingTime {
		s.MaxProcessingTime = dur
	}
	if handlerErr != nil {
		s.NumErrors++
		s.LastError = handlerErr.Error()
	}
}

// RecordPublish increments the publish counter for the service owning
// serviceTopic, if one is locally registered.
func (r *Registry) RecordPublish(serviceTopic topic.Path) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.services[serviceTopic.AsString()]
	if !ok {
		return
	}
	e.Stats.NumPublishes++
}

// NowMs is the millisecond clock used for ServiceEntry timestamps, broken
// out so tests can substitute a deterministic clock.
func NowMs() int64 {
	return time.Now().UnixMilli()
}
