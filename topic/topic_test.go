package topic_test

import (
	"testing"

	"github.com/rskv-p/nodebus/topic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_WithNetworkID(t *testing.T) {
	p, err := topic.Parse("net1:math/add", "default")
	require.NoError(t, err)
	assert.Equal(t, "net1", p.NetworkID())
	assert.Equal(t, "math", p.ServicePath())
	assert.Equal(t, []string{"add"}, p.ActionPath())
	assert.Equal(t, "net1:math/add", p.AsString())
}

func TestParse_DefaultsNetworkID(t *testing.T) {
	p, err := topic.Parse("math/add", "default")
	require.NoError(t, err)
	assert.Equal(t, "default", p.NetworkID())
	assert.Equal(t, "math", p.ServicePath())
}

func TestParse_Errors(t *testing.T) {
	cases := []string{
		"",
		"net:svc:extra",
		"svc//a",
		"svc/>/more",
	}
	for _, in := range cases {
		_, err := topic.Parse(in, "default")
		assert.Error(t, err, "input: %q", in)
	}
}

func TestRoundTrip(t *testing.T) {
	p, err := topic.Parse("net1:svc/a/b", "default")
	require.NoError(t, err)

	p2, err := topic.Parse(p.AsString(), p.NetworkID())
	require.NoError(t, err)
	assert.Equal(t, p, p2)
}

func TestNewActionAndEventTopic(t *testing.T) {
	svc := topic.NewService("net1", "math")
	action := svc.NewActionTopic("add")
	assert.Equal(t, []string{"math", "add"}, action.Segments())

	event := svc.NewEventTopic("added")
	assert.Equal(t, []string{"math", "added"}, event.Segments())
}

func TestValidateConcrete(t *testing.T) {
	concrete, err := topic.Parse("svc/a/b", "default")
	require.NoError(t, err)
	assert.NoError(t, concrete.ValidateConcrete())

	pattern, err := topic.Parse("svc/{id}/>", "default")
	require.NoError(t, err)
	assert.Error(t, pattern.ValidateConcrete())
}

func TestSegmentKindOf(t *testing.T) {
	assert.Equal(t, topic.KindLiteral, topic.SegmentKindOf("math"))
	assert.Equal(t, topic.KindWildcard, topic.SegmentKindOf("*"))
	assert.Equal(t, topic.KindMultiWildcard, topic.SegmentKindOf(">"))
	assert.Equal(t, topic.KindParam, topic.SegmentKindOf("{service_path}"))
	assert.Equal(t, "service_path", topic.ParamName("{service_path}"))
}
