// Package builtin implements RegistryService (spec.md §4.5), the built-in
// node service exposing service introspection and pause/resume over the
// bus itself, the way the teacher's core.Service exposes Info/Stats/Health
// as reserved NATS micro verbs.
package builtin

import (
	"github.com/rskv-p/nodebus/busapi"
	"github.com/rskv-p/nodebus/buserr"
	"github.com/rskv-p/nodebus/registry"
	"github.com/rskv-p/nodebus/topic"
	"github.com/rskv-p/nodebus/value"
)

const (
	builtinServicePath = "$registry"
	builtinName        = "registry"
	builtinVersion     = "1.0.0"
	builtinDescription = "built-in service introspection and lifecycle control"
)

// ServiceMetadata is the public, bus-facing view of a ServiceEntry
// (spec.md §4.5).
type ServiceMetadata struct {
	NetworkID        string   `json:"network_id"`
	ServicePath      string   `json:"service_path"`
	Name             string   `json:"name"`
	Version          string   `json:"version"`
	Description      string   `json:"description"`
	Actions          []string `json:"actions"`
	RegistrationTime int64    `json:"registration_time"`
	LastStartTime    int64    `json:"last_start_time,omitempty"`
}

// RegistryService is the $registry built-in.
type RegistryService struct {
	reg       *registry.Registry
	networkID string
}

// NewRegistryService builds the built-in service bound to reg.
func NewRegistryService(reg *registry.Registry) *RegistryService {
	return &RegistryService{reg: reg}
}

func (s *RegistryService) Name() string        { return builtinName }
func (s *RegistryService) Version() string     { return builtinVersion }
func (s *RegistryService) Path() string        { return builtinServicePath }
func (s *RegistryService) Description() string { return builtinDescription }
func (s *RegistryService) NetworkID() string   { return s.networkID }
func (s *RegistryService) SetNetworkID(id string) { s.networkID = id }

func (s *RegistryService) Init(ctx busapi.LifecycleContext) error {
	ctx.RegisterAction("services/list", s.handleList)
	ctx.RegisterAction("services/{service_path}", s.handleGet)
	ctx.RegisterAction("services/{service_path}/state", s.handleState)
	ctx.RegisterAction("services/{service_path}/pause", s.handlePause)
	ctx.RegisterAction("services/{service_path}/resume", s.handleResume)
	return nil
}

func (s *RegistryService) Start(ctx busapi.LifecycleContext) error { return nil }
func (s *RegistryService) Stop(ctx busapi.LifecycleContext) error { return nil }

func (s *RegistryService) handleList(payload value.Value, ctx busapi.RequestContext) (value.Value, error) {
	entries := s.reg.GetLocalServices()
	out := make([]ServiceMetadata, 0, len(entries))
	for _, e := range entries {
		out = append(out, toMetadata(e))
	}
	return value.From(out), nil
}

func (s *RegistryService) handleGet(payload value.Value, ctx busapi.RequestContext) (value.Value, error) {
	servicePath := ctx.PathParams()["service_path"]
	for _, e := range s.reg.GetLocalServices() {
		if e.ServiceTopic.ServicePath() == servicePath {
			return value.From(toMetadata(e)), nil
		}
	}
	return value.From(nil), nil
}

// handleState reports lifecycle state plus the running counters SPEC_FULL.md
// §12 asks for (request/error/publish counts, handler latency), adapted
// from the teacher's core.EndpointStats onto registry.ActionStats.
func (s *RegistryService) handleState(payload value.Value, ctx busapi.RequestContext) (value.Value, error) {
	servicePath := ctx.PathParams()["service_path"]
	for _, e := range s.reg.GetLocalServices() {
		if e.ServiceTopic.ServicePath() == servicePath {
			return value.From(map[string]any{
				"service_path":                servicePath,
				"state":                       string(e.State),
				"num_requests":                e.Stats.NumRequests,
				"num_errors":                  e.Stats.NumErrors,
				"num_publishes":               e.Stats.NumPublishes,
				"last_error":                  e.Stats.LastError,
				"processing_time_ms":          e.Stats.ProcessingTime.Milliseconds(),
				"average_processing_time_ms":  e.Stats.AverageProcessingTime.Milliseconds(),
				"min_processing_time_ms":      e.Stats.MinProcessingTime.Milliseconds(),
				"max_processing_time_ms":      e.Stats.MaxProcessingTime.Milliseconds(),
				"last_request_time":           e.Stats.LastRequestTimeMs,
			}), nil
		}
	}
	return value.From(map[string]any{
		"service_path": servicePath,
		"state":        string(registry.StateUnknown),
	}), nil
}

func (s *RegistryService) handlePause(payload value.Value, ctx busapi.RequestContext) (value.Value, error) {
	svcTopic, ok := s.findServiceTopic(ctx.PathParams()["service_path"])
	if !ok {
		return value.Value{}, buserr.NotFound(ctx.PathParams()["service_path"])
	}
	if err := s.reg.ValidatePauseTransition(svcTopic); err != nil {
		return value.Value{}, err
	}
	if err := s.reg.UpdateServiceState(svcTopic, registry.StatePaused, registry.NowMs()); err != nil {
		return value.Value{}, err
	}
	return value.From(string(registry.StatePaused)), nil
}

func (s *RegistryService) handleResume(payload value.Value, ctx busapi.RequestContext) (value.Value, error) {
	svcTopic, ok := s.findServiceTopic(ctx.PathParams()["service_path"])
	if !ok {
		return value.Value{}, buserr.NotFound(ctx.PathParams()["service_path"])
	}
	if err := s.reg.ValidateResumeTransition(svcTopic); err != nil {
		return value.Value{}, err
	}
	if err := s.reg.UpdateServiceState(svcTopic, registry.StateRunning, registry.NowMs()); err != nil {
		return value.Value{}, err
	}
	return value.From(string(registry.StateRunning)), nil
}

func (s *RegistryService) findServiceTopic(servicePath string) (topic.Path, bool) {
	for _, e := range s.reg.GetLocalServices() {
		if e.ServiceTopic.ServicePath() == servicePath {
			return e.ServiceTopic, true
		}
	}
	return topic.Path{}, false
}

func toMetadata(e *registry.ServiceEntry) ServiceMetadata {
	m := ServiceMetadata{
		ServicePath:      e.ServiceTopic.ServicePath(),
		NetworkID:        e.ServiceTopic.NetworkID(),
		RegistrationTime: e.RegistrationMs,
		LastStartTime:    e.LastStartTimeMs,
	}
	if e.Service != nil {
		m.Name = e.Service.Name()
		m.Version = e.Service.Version()
		m.Description = e.Service.Description()
	}
	return m
}
