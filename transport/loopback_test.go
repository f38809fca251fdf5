package transport_test

import (
	"testing"

	"github.com/rskv-p/nodebus/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopback_RequestRoutesToHandler(t *testing.T) {
	lb := transport.NewLoopback()
	lb.Handle("local:remote/inc", func(payload []byte) ([]byte, error) {
		return []byte(`{"y":11}`), nil
	})
	require.NoError(t, lb.Start())

	resp, err := lb.Request("local:remote/inc", []byte(`{"x":10}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"y":11}`, string(resp))
}

func TestLoopback_NotStartedFails(t *testing.T) {
	lb := transport.NewLoopback()
	_, err := lb.Request("local:remote/inc", nil)
	assert.Error(t, err)
}

func TestLoopback_UnknownPathFails(t *testing.T) {
	lb := transport.NewLoopback()
	require.NoError(t, lb.Start())
	_, err := lb.Request("local:remote/unknown", nil)
	assert.Error(t, err)
}
