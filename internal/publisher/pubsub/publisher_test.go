package pubsub

import (
	"context"
	"testing"

	"cloud.google.com/go/pubsub"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresClient(t *testing.T) {
	t.Parallel()

	_, err := New(nil, nil)
	require.Error(t, err)
}

func TestPublishValidatesInput(t *testing.T) {
	t.Parallel()

	p, err := New(&pubsub.Client{}, map[string]string{"source": "webannotate"})
	require.NoError(t, err)

	_, err = p.Publish(context.Background(), "", map[string]string{})
	require.ErrorContains(t, err, "topic is required")

	_, err = p.Publish(context.Background(), "exports", make(chan int))
	require.ErrorContains(t, err, "marshal payload")
}

func TestCopyAttributes(t *testing.T) {
	t.Parallel()

	require.Nil(t, copyAttributes(nil))
	in := map[string]string{"a": "b"}
	out := copyAttributes(in)
	out["a"] = "c"
	require.Equal(t, "b", in["a"])
}
