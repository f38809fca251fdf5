// Package busapi holds the external interfaces of spec.md §6: the
// contracts user services, action handlers, event subscribers, and the
// optional remote transport / keystore collaborators implement. Keeping
// these in their own package lets registry and node depend on the
// contracts without depending on each other.
package busapi

import (
	"github.com/rs/zerolog"
	"github.com/rskv-p/nodebus/topic"
	"github.com/rskv-p/nodebus/value"
)

// ActionHandler handles a single request/reply action.
type ActionHandler func(payload value.Value, ctx RequestContext) (value.Value, error)

// EventSubscriber receives a published event. payload is nil for a
// zero-payload event.
type EventSubscriber func(ctx EventContext, payload *value.Value) error

// RequestContext is handed to an ActionHandler alongside the payload.
type RequestContext interface {
	TopicPath() topic.Path
	PathParams() map[string]string
	Request(path string, payload value.Value) (value.Value, error)
	Publish(path string, payload value.Value, opts ...PublishOption) error
	Logger() *zerolog.Logger
}

// EventContext is handed to an EventSubscriber alongside the payload.
type EventContext interface {
	TopicPath() topic.Path
	Logger() *zerolog.Logger
}

// LifecycleContext is passed into a service's Init/Start/Stop.
type LifecycleContext interface {
	NetworkID() string
	ServicePath() string
	Logger() *zerolog.Logger
	RegisterAction(pattern string, handler ActionHandler) error
	Publish(path string, payload value.Value, opts ...PublishOption) error
}

// AbstractService is implemented by every user (and built-in) service.
type AbstractService interface {
	Name() string
	Version() string
	Path() string
	Description() string
	NetworkID() string
	SetNetworkID(string)

	Init(ctx LifecycleContext) error
	Start(ctx LifecycleContext) error
	Stop(ctx LifecycleContext) error
}

// RemoteTransport is consulted by the dispatcher when no local handler
// resolves a request (spec.md §6).
type RemoteTransport interface {
	Start() error
	Stop() error
	Request(path string, payload []byte) ([]byte, error)
	// Publish is optional; the local bus never calls it for local
	// publishes (spec.md §4.4 point 7) — it exists for callers that
	// explicitly want to fan a publish out remotely.
	Publish(path string, payload []byte) error
}

// Keystore is the opaque envelope-encryption / key-management capability
// threaded through the dispatcher and value serialization surface. The bus
// core never interprets these calls; see spec.md §6.
type Keystore interface {
	EncryptWithEnvelope(data []byte, networkPublicKey []byte, profilePublicKeys [][]byte) ([]byte, error)
	DecryptEnvelope(eedCBOR []byte) ([]byte, error)
	EnsureSymmetricKey(keyName string) ([]byte, error)
	GetKeystoreState() (int, error)
	GetKeystoreCaps() (map[string]any, error)
	SetLabelMapping(mappingCBOR []byte) error
	SetLocalNodeInfo(nodeInfoCBOR []byte) error
	SetPersistenceDir(path string) error
	EnableAutoPersist(enabled bool) error
	WipePersistence() error
	FlushState() error
}

// PublishOptions controls publish behavior (spec.md §4.4).
type PublishOptions struct {
	Retain bool
}

// PublishOption mutates PublishOptions.
type PublishOption func(*PublishOptions)

// WithRetain marks a publish for retained-event storage.
func WithRetain() PublishOption {
	return func(o *PublishOptions) { o.Retain = true }
}

// ApplyPublishOptions folds a list of PublishOption into a PublishOptions.
func ApplyPublishOptions(opts ...PublishOption) PublishOptions {
	var o PublishOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// SubscribeOptions controls subscribe behavior (spec.md §4.4).
type SubscribeOptions struct {
	IncludePast bool
}

// SubscribeOption mutates SubscribeOptions.
type SubscribeOption func(*SubscribeOptions)

// WithIncludePast requests retained-event replay on subscribe.
func WithIncludePast() SubscribeOption {
	return func(o *SubscribeOptions) { o.IncludePast = true }
}

// ApplySubscribeOptions folds a list of SubscribeOption into a SubscribeOptions.
func ApplySubscribeOptions(opts ...SubscribeOption) SubscribeOptions {
	var o SubscribeOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
