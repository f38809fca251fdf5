package node

import (
	"github.com/rs/zerolog"
	"github.com/rskv-p/nodebus/busapi"
	"github.com/rskv-p/nodebus/topic"
	"github.com/rskv-p/nodebus/value"
)

// requestContext implements busapi.RequestContext, handed to an
// ActionHandler alongside its payload (spec.md §4.4 point 5).
type requestContext struct {
	n          *Node
	topicPath  topic.Path
	pathParams map[string]string
	log        zerolog.Logger
}

func newRequestContext(n *Node, topicPath topic.Path, params map[string]string) *requestContext {
	log := n.log.With().Str("topic", topicPath.AsString()).Logger()
	return &requestContext{n: n, topicPath: topicPath, pathParams: params, log: log}
}

func (c *requestContext) TopicPath() topic.Path          { return c.topicPath }
func (c *requestContext) PathParams() map[string]string  { return c.pathParams }
func (c *requestContext) Logger() *zerolog.Logger         { return &c.log }
func (c *requestContext) Request(path string, payload value.Value) (value.Value, error) {
	return c.n.Request(path, payload)
}
func (c *requestContext) Publish(path string, payload value.Value, opts ...busapi.PublishOption) error {
	return c.n.Publish(path, payload, opts...)
}

// eventContext implements busapi.EventContext, handed to an
// EventSubscriber alongside its payload.
type eventContext struct {
	topicPath topic.Path
	log       zerolog.Logger
}

func newEventContext(n *Node, topicPath topic.Path) *eventContext {
	log := n.log.With().Str("topic", topicPath.AsString()).Logger()
	return &eventContext{topicPath: topicPath, log: log}
}

func (c *eventContext) TopicPath() topic.Path  { return c.topicPath }
func (c *eventContext) Logger() *zerolog.Logger { return &c.log }

// lifecycleContext implements busapi.LifecycleContext, passed into a
// service's Init/Start/Stop (spec.md §6).
type lifecycleContext struct {
	n         *Node
	svcTopic  topic.Path
	log       zerolog.Logger
}

func (n *Node) lifecycleContext(svcTopic topic.Path) *lifecycleContext {
	log := n.log.With().Str("service", svcTopic.AsString()).Logger()
	return &lifecycleContext{n: n, svcTopic: svcTopic, log: log}
}

func (c *lifecycleContext) NetworkID() string    { return c.svcTopic.NetworkID() }
func (c *lifecycleContext) ServicePath() string  { return c.svcTopic.ServicePath() }
func (c *lifecycleContext) Logger() *zerolog.Logger { return &c.log }

func (c *lifecycleContext) RegisterAction(pattern string, handler busapi.ActionHandler) error {
	c.n.registry.AddLocalActionHandler(c.svcTopic.Join(pattern), handler)
	return nil
}

func (c *lifecycleContext) Publish(path string, payload value.Value, opts ...busapi.PublishOption) error {
	return c.n.Publish(path, payload, opts...)
}
