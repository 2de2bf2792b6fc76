package telemetry

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestAttrsFromKV_PairsStringValues(t *testing.T) {
	t.Parallel()

	attrs := attrsFromKV([]any{"taskId", "t-1", "attempt", 3})

	require.Equal(t, []attribute.KeyValue{
		attribute.String("taskId", "t-1"),
		attribute.String("attempt", "3"),
	}, attrs)
}

func TestAttrsFromKV_DropsTrailingUnpairedKey(t *testing.T) {
	t.Parallel()

	attrs := attrsFromKV([]any{"onlyKey"})

	require.Empty(t, attrs)
}

func TestAttrsFromKV_SkipsNonStringKeys(t *testing.T) {
	t.Parallel()

	attrs := attrsFromKV([]any{42, "value", "ok", "yes"})

	require.Equal(t, []attribute.KeyValue{attribute.String("ok", "yes")}, attrs)
}
