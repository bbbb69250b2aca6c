package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders(" api-key = abc ,broken, =skip,tenant=piggy")
	require.Equal(t, map[string]string{"api-key": "abc", "tenant": "piggy"}, got)
	require.Empty(t, ParseHeaders(""))
}

func TestInitWithoutExporters(t *testing.T) {
	_, err := Init(context.Background(), Config{})
	require.Error(t, err)

	shutdown, err := Init(context.Background(), Config{ServiceName: "piggyd"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
