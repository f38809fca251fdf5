package builtin_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rskv-p/nodebus/builtin"
	"github.com/rskv-p/nodebus/registry"
	"github.com/rskv-p/nodebus/topic"
)

func TestRegistryService_Metadata(t *testing.T) {
	reg := registry.New()
	svc := builtin.NewRegistryService(reg)

	assert.Equal(t, "registry", svc.Name())
	assert.Equal(t, "1.0.0", svc.Version())
	assert.Equal(t, "$registry", svc.Path())
	assert.NotEmpty(t, svc.Description())
}

func TestRegistryService_ListReflectsRegisteredServices(t *testing.T) {
	reg := registry.New()
	svcTopic := topic.NewService("local", "widgets")
	reg.AddLocalService(nil, svcTopic, registry.NowMs())
	require.NoError(t, reg.UpdateServiceState(svcTopic, registry.StateInitialized, registry.NowMs()))
	require.NoError(t, reg.UpdateServiceState(svcTopic, registry.StateRunning, registry.NowMs()))

	entries := reg.GetLocalServices()
	require.Len(t, entries, 1)
	assert.Equal(t, "widgets", entries[0].ServiceTopic.ServicePath())
	assert.Equal(t, registry.StateRunning, entries[0].State)
}
