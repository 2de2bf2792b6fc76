package typecheck

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentbroker/broker/tool"
)

func sampleTools() []*tool.Descriptor {
	return []*tool.Descriptor{
		{
			Path:        "stripe.customers.create",
			ArgsType:    "{ name: string; email?: string }",
			ReturnsType: "Customer",
			SchemaTypes: map[string]string{"Customer": "{ id: string; name: string }"},
		},
		{
			Path:        "stripe.customers.get",
			ArgsType:    "{ id: string }",
			ReturnsType: "Customer",
		},
	}
}

func TestBuild_NestsToolPathsAndDedupesAliases(t *testing.T) {
	t.Parallel()
	b := Build(sampleTools())

	require.Len(t, b.AliasLines, 1)
	require.Contains(t, b.AliasLines[0], "type Customer =")
	require.Contains(t, b.ToolsDecl, "stripe")
	require.Contains(t, b.ToolsDecl, "customers")
	require.Len(t, b.ToolsByPath, 2)
}

func TestFormatDiagnostic_RemapsLineNumber(t *testing.T) {
	t.Parallel()
	b := Build(sampleTools())

	offset := b.HeaderLines()
	msg := b.FormatDiagnostic("boom", offset+3)
	require.Equal(t, "Line 3: boom", msg)
}

func TestFormatDiagnostic_NoPrefixWhenInPreamble(t *testing.T) {
	t.Parallel()
	b := Build(sampleTools())

	msg := b.FormatDiagnostic("boom", 1)
	require.Equal(t, "boom", msg)
}
