package node_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rskv-p/nodebus/builtin"
	"github.com/rskv-p/nodebus/busapi"
	"github.com/rskv-p/nodebus/buserr"
	"github.com/rskv-p/nodebus/config"
	"github.com/rskv-p/nodebus/logger"
	"github.com/rskv-p/nodebus/node"
	"github.com/rskv-p/nodebus/transport"
	"github.com/rskv-p/nodebus/value"
)

// mathAddInput/mathAddOutput mirror spec.md §8 scenario 1's wire shapes.
type mathAddInput struct {
	A int `json:"a" mapstructure:"a"`
	B int `json:"b" mapstructure:"b"`
}

type mathAddOutput struct {
	Sum int `json:"sum"`
}

// mathService is the smallest possible AbstractService: registers a single
// action, no events, no background work.
type mathService struct {
	networkID string
}

func (s *mathService) Name() string            { return "Math" }
func (s *mathService) Version() string         { return "1.0.0" }
func (s *mathService) Path() string            { return "math" }
func (s *mathService) Description() string     { return "arithmetic demo service" }
func (s *mathService) NetworkID() string       { return s.networkID }
func (s *mathService) SetNetworkID(id string) { s.networkID = id }

func (s *mathService) Init(ctx busapi.LifecycleContext) error {
	return ctx.RegisterAction("add", s.handleAdd)
}
func (s *mathService) Start(ctx busapi.LifecycleContext) error { return nil }
func (s *mathService) Stop(ctx busapi.LifecycleContext) error  { return nil }

func (s *mathService) handleAdd(payload value.Value, ctx busapi.RequestContext) (value.Value, error) {
	in, err := value.As[mathAddInput](payload)
	if err != nil {
		return value.Value{}, err
	}
	return value.From(mathAddOutput{Sum: in.A + in.B}), nil
}

// dummyService is the registry-introspection target of spec.md §8
// scenarios 4 and 5.
type dummyService struct {
	networkID string
}

func (s *dummyService) Name() string            { return "Dummy" }
func (s *dummyService) Version() string         { return "1.0.0" }
func (s *dummyService) Path() string            { return "dummy" }
func (s *dummyService) Description() string     { return "test fixture" }
func (s *dummyService) NetworkID() string       { return s.networkID }
func (s *dummyService) SetNetworkID(id string) { s.networkID = id }

func (s *dummyService) Init(ctx busapi.LifecycleContext) error  { return nil }
func (s *dummyService) Start(ctx busapi.LifecycleContext) error { return nil }
func (s *dummyService) Stop(ctx busapi.LifecycleContext) error  { return nil }

func newTestNode(t *testing.T, remote busapi.RemoteTransport) *node.Node {
	t.Helper()
	cfg := config.Default()
	cfg.ServiceStartTimeoutMs = 2000
	n := node.New(cfg, logger.Nop(), remote, nil)
	return n
}

func TestMathServiceAdd(t *testing.T) {
	n := newTestNode(t, nil)
	n.AddService("local", &mathService{})
	require.NoError(t, n.Start())
	defer n.Stop()

	result, err := n.Request("math/add", value.From(map[string]any{"a": 2, "b": 3}))
	require.NoError(t, err)

	out, err := value.As[mathAddOutput](result)
	require.NoError(t, err)
	assert.Equal(t, 5, out.Sum)
}

func TestRegistryState_ReportsRequestAndPublishCounters(t *testing.T) {
	n := newTestNode(t, nil)
	n.AddService("local", &mathService{})
	require.NoError(t, n.Start())
	defer n.Stop()

	_, err := n.Request("math/add", value.From(map[string]any{"a": 2, "b": 3}))
	require.NoError(t, err)
	_, err = n.Request("math/add", value.From(map[string]any{"a": 1, "b": 1}))
	require.NoError(t, err)
	require.NoError(t, n.Publish("math/added", value.From(map[string]any{"sum": 2})))

	result, err := n.Request("$registry/services/math/state", value.Value{})
	require.NoError(t, err)

	out, err := value.As[map[string]any](result)
	require.NoError(t, err)
	assert.Equal(t, "Running", out["state"])
	assert.EqualValues(t, 2, out["num_requests"])
	assert.EqualValues(t, 0, out["num_errors"])
	assert.EqualValues(t, 1, out["num_publishes"])
}

func TestRetainedReplayOrdering(t *testing.T) {
	n := newTestNode(t, nil)
	require.NoError(t, n.Start())
	defer n.Stop()

	require.NoError(t, n.Publish("svc/a", value.From(map[string]any{"n": 1}), busapi.WithRetain()))
	require.NoError(t, n.Publish("svc/b", value.From(map[string]any{"n": 2}), busapi.WithRetain()))

	type received struct {
		n int
	}
	gotCh := make(chan received, 8)

	_, err := n.Subscribe("svc/>", "local:watcher", func(ctx busapi.EventContext, payload *value.Value) error {
		if payload == nil {
			return nil
		}
		out, err := value.As[map[string]any](*payload)
		if err != nil {
			return err
		}
		num, _ := out["n"].(int)
		gotCh <- received{n: num}
		return nil
	}, nil, busapi.WithIncludePast())
	require.NoError(t, err)

	first := <-gotCh
	second := <-gotCh
	assert.Equal(t, 1, first.n)
	assert.Equal(t, 2, second.n)

	require.NoError(t, n.Publish("svc/added", value.From(map[string]any{"sum": 7})))
}

func TestClearRetainedEventsMatching(t *testing.T) {
	n := newTestNode(t, nil)
	require.NoError(t, n.Start())
	defer n.Stop()

	require.NoError(t, n.Publish("svc/a", value.From(map[string]any{"n": 1}), busapi.WithRetain()))
	require.NoError(t, n.Publish("svc/b", value.From(map[string]any{"n": 2}), busapi.WithRetain()))

	count, err := n.ClearRetainedEventsMatching("svc/>")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// a second clear against the same pattern with no intervening publish
	// must find nothing left: the first clear already removed these keys
	// from both the retained store and the reverse index.
	count, err = n.ClearRetainedEventsMatching("svc/>")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	gotCh := make(chan struct{}, 1)
	_, err = n.Subscribe("svc/>", "local:watcher2", func(ctx busapi.EventContext, payload *value.Value) error {
		gotCh <- struct{}{}
		return nil
	}, nil, busapi.WithIncludePast())
	require.NoError(t, err)

	select {
	case <-gotCh:
		t.Fatal("expected no replayed retained events after clear")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRegistryListAndGet(t *testing.T) {
	n := newTestNode(t, nil)
	n.AddService("local", &dummyService{})
	require.NoError(t, n.Start())
	defer n.Stop()

	result, err := n.Request("$registry/services/list", value.Value{})
	require.NoError(t, err)

	entries, err := value.As[[]builtin.ServiceMetadata](result)
	require.NoError(t, err)

	found := false
	for _, e := range entries {
		if e.ServicePath == "dummy" {
			found = true
			assert.Equal(t, "Dummy", e.Name)
			assert.Equal(t, "1.0.0", e.Version)
		}
	}
	assert.True(t, found)
}

func TestPauseResumeLifecycle(t *testing.T) {
	n := newTestNode(t, nil)
	n.AddService("local", &dummyService{})
	require.NoError(t, n.Start())
	defer n.Stop()

	result, err := n.Request("$registry/services/dummy/pause", value.Value{})
	require.NoError(t, err)
	assert.Equal(t, "Paused", result.Raw())

	state, err := n.Request("$registry/services/dummy/state", value.Value{})
	require.NoError(t, err)
	stateMap, err := value.As[map[string]any](state)
	require.NoError(t, err)
	assert.Equal(t, "Paused", stateMap["state"])

	result, err = n.Request("$registry/services/dummy/resume", value.Value{})
	require.NoError(t, err)
	assert.Equal(t, "Running", result.Raw())

	_, err = n.Request("$registry/services/dummy/resume", value.Value{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, buserr.ErrInvalidServiceState))
}

func TestRemoteFallback(t *testing.T) {
	lb := transport.NewLoopback()
	lb.Handle("local:remote/inc", func(payload []byte) ([]byte, error) {
		in, err := value.FromBytes(payload)
		if err != nil {
			return nil, err
		}
		m, err := value.As[map[string]any](in)
		if err != nil {
			return nil, err
		}
		x, _ := m["x"].(float64)
		out := value.From(map[string]any{"y": int(x) + 1})
		return out.Serialize()
	})
	require.NoError(t, lb.Start())

	n := newTestNode(t, lb)
	require.NoError(t, n.Start())
	defer n.Stop()

	result, err := n.Request("remote/inc", value.From(map[string]any{"x": 10}))
	require.NoError(t, err)

	m, err := value.As[map[string]any](result)
	require.NoError(t, err)
	y, _ := m["y"].(float64)
	assert.Equal(t, float64(11), y)
}
