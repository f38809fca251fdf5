package value_test

import (
	"testing"

	"github.com/rskv-p/nodebus/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sum struct {
	Sum int `json:"sum"`
}

func TestFrom_DirectTypeAssertion(t *testing.T) {
	v := value.From(sum{Sum: 5})
	out, err := value.As[sum](v)
	require.NoError(t, err)
	assert.Equal(t, 5, out.Sum)
}

func TestFromBytes_DecodesViaMapstructure(t *testing.T) {
	v, err := value.FromBytes([]byte(`{"sum":7}`))
	require.NoError(t, err)

	out, err := value.As[sum](v)
	require.NoError(t, err)
	assert.Equal(t, 7, out.Sum)
}

func TestSerialize_RoundTrip(t *testing.T) {
	v := value.From(map[string]any{"a": 2, "b": 3})
	data, err := v.Serialize()
	require.NoError(t, err)

	v2, err := value.FromBytes(data)
	require.NoError(t, err)

	out, err := value.As[map[string]any](v2)
	require.NoError(t, err)
	assert.EqualValues(t, 2, out["a"])
}

func TestZeroValue(t *testing.T) {
	var v value.Value
	assert.True(t, v.IsZero())
	data, err := v.Serialize()
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))
}
