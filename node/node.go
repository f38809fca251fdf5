// Package node implements the Node dispatcher (spec.md §4.4): lifecycle
// orchestration of locally-registered services, smart request routing
// between local handlers and an optional RemoteTransport, concurrent
// publish/subscribe fan-out, and retained-event history.
package node

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rskv-p/nodebus/builtin"
	"github.com/rskv-p/nodebus/buserr"
	"github.com/rskv-p/nodebus/busapi"
	"github.com/rskv-p/nodebus/config"
	"github.com/rskv-p/nodebus/registry"
	"github.com/rskv-p/nodebus/topic"
	"github.com/rskv-p/nodebus/trie"
	"github.com/rskv-p/nodebus/value"
)

const (
	internalRegistryPrefix = "$registry"
	internalKeysPrefix     = "$keys"
)

// RetainedEvent is one entry in a topic's retained-event ring (spec.md §3).
type RetainedEvent struct {
	TimestampMs int64
	EventName   string
	Payload     value.Value
}

// Node is the local service bus core.
type Node struct {
	cfg *config.Config
	log zerolog.Logger

	registry *registry.Registry
	remote   busapi.RemoteTransport
	keystore busapi.Keystore

	mu      sync.RWMutex
	running bool

	pending []pendingService

	retainedMu    sync.Mutex
	retained      map[string][]RetainedEvent
	retainedIndex *trie.Trie[string]
}

type pendingService struct {
	service busapi.AbstractService
	topic   topic.Path
}

// New constructs a Node. remote and keystore may be nil.
func New(cfg *config.Config, log zerolog.Logger, remote busapi.RemoteTransport, keystore busapi.Keystore) *Node {
	return &Node{
		cfg:           cfg,
		log:           log,
		registry:      registry.New(),
		remote:        remote,
		keystore:      keystore,
		retained:      make(map[string][]RetainedEvent),
		retainedIndex: trie.New[string](),
	}
}

// Keystore returns the node's capability handle, or nil if none was wired.
func (n *Node) Keystore() busapi.Keystore { return n.keystore }

// AddService registers service for startup under networkID:servicePath. It
// must be called before Start.
func (n *Node) AddService(networkID string, service busapi.AbstractService) {
	service.SetNetworkID(networkID)
	svcTopic := topic.NewService(networkID, service.Path())

	n.mu.Lock()
	defer n.mu.Unlock()
	n.pending = append(n.pending, pendingService{service: service, topic: svcTopic})
}

func isInternal(servicePath string) bool {
	return strings.HasPrefix(servicePath, internalRegistryPrefix) || strings.HasPrefix(servicePath, internalKeysPrefix)
}

// Start brings up every registered service (spec.md §4.4 "start()").
func (n *Node) Start() error {
	n.mu.Lock()
	if n.running {
		n.mu.Unlock()
		return fmt.Errorf("node: already running")
	}
	n.mu.Unlock()

	registrySvc := builtin.NewRegistryService(n.registry)
	n.AddService(n.cfg.DefaultNetworkID, registrySvc)

	n.mu.Lock()
	pending := n.pending
	n.pending = nil
	n.mu.Unlock()

	var internalSvcs, userSvcs []pendingService
	for _, p := range pending {
		if isInternal(p.service.Path()) {
			internalSvcs = append(internalSvcs, p)
		} else {
			userSvcs = append(userSvcs, p)
		}
	}

	for _, p := range internalSvcs {
		n.registry.AddLocalService(p.service, p.topic, registry.NowMs())
		if err := n.initAndStart(p); err != nil {
			n.log.Error().Err(err).Str("service", p.topic.AsString()).Msg("internal service failed to start")
			return err
		}
	}

	n.mu.Lock()
	n.running = true
	n.mu.Unlock()

	for _, p := range userSvcs {
		n.registry.AddLocalService(p.service, p.topic, registry.NowMs())
	}

	var wg sync.WaitGroup
	for _, p := range userSvcs {
		wg.Add(1)
		go func(p pendingService) {
			defer wg.Done()
			n.startWithTimeout(p)
		}(p)
	}
	wg.Wait()

	return nil
}

func (n *Node) initAndStart(p pendingService) error {
	lc := n.lifecycleContext(p.topic)
	if err := p.service.Init(lc); err != nil {
		return fmt.Errorf("init %s: %w", p.topic.AsString(), err)
	}
	if err := n.registry.UpdateServiceState(p.topic, registry.StateInitialized, registry.NowMs()); err != nil {
		return err
	}
	if err := p.service.Start(lc); err != nil {
		return fmt.Errorf("start %s: %w", p.topic.AsString(), err)
	}
	return n.registry.UpdateServiceState(p.topic, registry.StateRunning, registry.NowMs())
}

func (n *Node) startWithTimeout(p pendingService) {
	timeout := time.Duration(n.cfg.ServiceStartTimeoutMs) * time.Millisecond
	lc := n.lifecycleContext(p.topic)

	done := make(chan error, 1)
	go func() {
		if err := p.service.Init(lc); err != nil {
			done <- fmt.Errorf("init: %w", err)
			return
		}
		_ = n.registry.UpdateServiceState(p.topic, registry.StateInitialized, registry.NowMs())
		done <- p.service.Start(lc)
	}()

	select {
	case err := <-done:
		if err != nil {
			n.log.Error().Err(err).Str("service", p.topic.AsString()).Msg("service failed to start")
			_ = n.registry.UpdateServiceState(p.topic, registry.StateError, registry.NowMs())
			return
		}
		_ = n.registry.UpdateServiceState(p.topic, registry.StateRunning, registry.NowMs())
	case <-time.After(timeout):
		n.log.Error().Str("service", p.topic.AsString()).Msg("service start timed out")
		_ = n.registry.UpdateServiceState(p.topic, registry.StateError, registry.NowMs())
	}
}

// Stop shuts every registered service down (spec.md §4.4 "stop()").
func (n *Node) Stop() {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return
	}
	n.running = false
	n.mu.Unlock()

	for _, entry := range n.registry.GetLocalServices() {
		lc := n.lifecycleContext(entry.ServiceTopic)
		if err := entry.Service.Stop(lc); err != nil {
			n.log.Error().Err(err).Str("service", entry.ServiceTopic.AsString()).Msg("service stop failed")
		}
		_ = n.registry.UpdateServiceState(entry.ServiceTopic, registry.StateStopped, registry.NowMs())
	}

	if n.remote != nil {
		if err := n.remote.Stop(); err != nil {
			n.log.Error().Err(err).Msg("remote transport stop failed")
		}
	}
}

func (n *Node) isRunning() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.running
}

// Request performs a request/reply call (spec.md §4.4 "request").
func (n *Node) Request(path string, payload value.Value) (value.Value, error) {
	if !n.isRunning() {
		return value.Value{}, buserr.NotStarted("request")
	}

	parsed, err := topic.Parse(path, n.cfg.DefaultNetworkID)
	if err != nil {
		return value.Value{}, buserr.InvalidTopic(err.Error())
	}
	if err := parsed.ValidateConcrete(); err != nil {
		return value.Value{}, buserr.InvalidTopic(err.Error())
	}

	serviceTopic := parsed.ServiceTopic()
	state, known := n.registry.GetLocalServiceState(serviceTopic)

	if !known {
		return n.remoteRequest(parsed.AsString(), payload, nil)
	}
	if state != registry.StateRunning {
		return n.remoteRequest(parsed.AsString(), payload, buserr.InvalidServiceState(string(state)))
	}

	matches := n.registry.FindLocalActionMatches(parsed)
	if len(matches) == 0 {
		return n.remoteRequest(parsed.AsString(), payload, nil)
	}

	winner := matches[0]
	ctx := newRequestContext(n, parsed, winner.Params)

	start := time.Now()
	result, err := winner.Value(payload, ctx)
	n.registry.RecordRequest(serviceTopic, time.Since(start), err, registry.NowMs())

	if err != nil {
		if buserr.IsKnown(err) {
			return value.Value{}, err
		}
		return value.Value{}, buserr.HandlerError(err.Error())
	}
	return result, nil
}

// remoteRequest attempts the RemoteTransport; localErr (if non-nil) is the
// reason the dispatcher fell back, surfaced when the remote call also fails
// and localErr indicated a non-Running local service (spec.md §7
// "Propagation policy").
func (n *Node) remoteRequest(path string, payload value.Value, localErr error) (value.Value, error) {
	if n.remote == nil {
		if localErr != nil {
			return value.Value{}, localErr
		}
		return value.Value{}, buserr.NoHandler(path)
	}

	raw, err := payload.Serialize()
	if err != nil {
		return value.Value{}, buserr.HandlerError(err.Error())
	}

	respBytes, err := n.remote.Request(path, raw)
	if err != nil {
		if localErr != nil {
			return value.Value{}, localErr
		}
		return value.Value{}, buserr.RemoteError(err.Error())
	}

	result, err := value.FromBytes(respBytes)
	if err != nil {
		return value.Value{}, buserr.HandlerError(err.Error())
	}
	return result, nil
}

// Publish delivers an event to every matching subscriber, optionally
// retaining it (spec.md §4.4 "publish").
func (n *Node) Publish(path string, payload value.Value, opts ...busapi.PublishOption) error {
	if !n.isRunning() {
		return buserr.NotStarted("publish")
	}

	parsed, err := topic.Parse(path, n.cfg.DefaultNetworkID)
	if err != nil {
		return buserr.InvalidTopic(err.Error())
	}
	if err := parsed.ValidateConcrete(); err != nil {
		return buserr.InvalidTopic(err.Error())
	}

	n.registry.RecordPublish(parsed.ServiceTopic())

	options := busapi.ApplyPublishOptions(opts...)
	subs := n.registry.GetSubscribers(parsed)

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub *registry.SubscriptionEntry) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					n.log.Error().Interface("panic", r).Str("topic", path).Msg("subscriber panicked")
				}
			}()
			ctx := newEventContext(n, parsed)
			var p *value.Value
			if !payload.IsZero() {
				cp := payload
				p = &cp
			}
			if err := sub.Subscriber(ctx, p); err != nil {
				n.log.Error().Err(err).Str("topic", path).Msg("subscriber failed")
			}
		}(sub)
	}
	wg.Wait()

	if options.Retain {
		n.retain(parsed, payload)
	}
	return nil
}

func (n *Node) retain(parsed topic.Path, payload value.Value) {
	key := parsed.AsString()

	n.retainedMu.Lock()
	defer n.retainedMu.Unlock()

	events := n.retained[key]
	events = append(events, RetainedEvent{
		TimestampMs: registry.NowMs(),
		EventName:   strings.Join(parsed.ActionPath(), "/"),
		Payload:     payload,
	})
	if max := n.cfg.MaxRetainedPerTopic; max > 0 && len(events) > max {
		events = events[len(events)-max:]
	}
	if _, existed := n.retained[key]; !existed {
		n.retainedIndex.Set(parsed, key)
	}
	n.retained[key] = events
}

// Subscribe registers subscriber against pattern and optionally replays
// retained history (spec.md §4.4 "subscribe").
func (n *Node) Subscribe(pattern, serviceTopic string, subscriber busapi.EventSubscriber, metadata map[string]string, opts ...busapi.SubscribeOption) (string, error) {
	patternPath, err := topic.Parse(pattern, n.cfg.DefaultNetworkID)
	if err != nil {
		return "", buserr.InvalidTopic(err.Error())
	}
	svcTopic, err := topic.Parse(serviceTopic, n.cfg.DefaultNetworkID)
	if err != nil {
		return "", buserr.InvalidTopic(err.Error())
	}

	id := n.registry.Subscribe(patternPath, svcTopic, subscriber, metadata, registry.KindLocal)

	options := busapi.ApplySubscribeOptions(opts...)
	if options.IncludePast {
		n.replayRetained(patternPath, subscriber)
	}
	return id, nil
}

func (n *Node) replayRetained(pattern topic.Path, subscriber busapi.EventSubscriber) {
	n.retainedMu.Lock()
	keys := n.retainedIndex.FindWildcardMatches(pattern)
	type timedEvent struct {
		topicPath topic.Path
		ev        RetainedEvent
	}
	var events []timedEvent
	for _, key := range keys {
		for _, ev := range n.retained[key] {
			tp, perr := topic.Parse(key, n.cfg.DefaultNetworkID)
			if perr != nil {
				continue
			}
			events = append(events, timedEvent{topicPath: tp, ev: ev})
		}
	}
	n.retainedMu.Unlock()

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].ev.TimestampMs < events[j].ev.TimestampMs
	})

	go func() {
		defer func() {
			if r := recover(); r != nil {
				n.log.Error().Interface("panic", r).Msg("retained replay subscriber panicked")
			}
		}()
		for _, te := range events {
			ctx := newEventContext(n, te.topicPath)
			var p *value.Value
			if !te.ev.Payload.IsZero() {
				cp := te.ev.Payload
				p = &cp
			}
			if err := subscriber(ctx, p); err != nil {
				n.log.Error().Err(err).Msg("retained replay subscriber failed")
			}
		}
	}()
}

// Unsubscribe removes a previously-registered subscription.
func (n *Node) Unsubscribe(id string) error {
	if !n.registry.Unsubscribe(id) {
		return buserr.NotFound(id)
	}
	return nil
}

// On is a one-shot subscribe-then-wait helper (spec.md §4.4 "on").
func (n *Node) On(pattern, serviceTopic string, timeout time.Duration) (*value.Value, error) {
	resultCh := make(chan value.Value, 1)

	subscriber := func(ctx busapi.EventContext, payload *value.Value) error {
		if payload != nil {
			select {
			case resultCh <- *payload:
			default:
			}
		}
		return nil
	}

	id, err := n.Subscribe(pattern, serviceTopic, subscriber, nil, busapi.WithIncludePast())
	if err != nil {
		return nil, err
	}
	defer n.Unsubscribe(id)

	select {
	case v := <-resultCh:
		return &v, nil
	case <-time.After(timeout):
		return nil, nil
	}
}

// ClearRetainedEventsMatching removes retained events whose topic key
// matches pattern, returning the count of keys removed.
func (n *Node) ClearRetainedEventsMatching(pattern string) (int, error) {
	patternPath, err := topic.Parse(pattern, n.cfg.DefaultNetworkID)
	if err != nil {
		return 0, buserr.InvalidTopic(err.Error())
	}

	n.retainedMu.Lock()
	defer n.retainedMu.Unlock()

	keys := n.retainedIndex.RemoveMatching(patternPath)
	for _, key := range keys {
		delete(n.retained, key)
	}
	return len(keys), nil
}

// Registry exposes the underlying ServiceRegistry for the built-in
// RegistryService and for tests.
func (n *Node) Registry() *registry.Registry { return n.registry }

// Config returns the node's configuration record.
func (n *Node) Config() *config.Config { return n.cfg }

// Logger returns the node's base logger.
func (n *Node) Logger() *zerolog.Logger { return &n.log }
