package typecheck

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStructural_FlagsUnknownToolPath(t *testing.T) {
	t.Parallel()
	b := Build(sampleTools())
	c := NewStructural()

	res, err := c.Typecheck(context.Background(), `await tools.stripe.customers.delete({ id: "x" });`, b)
	require.NoError(t, err)
	require.False(t, res.OK)
	require.Len(t, res.Errors, 1)
	require.Contains(t, res.Errors[0], "unknown tool path")
}

func TestStructural_FlagsMissingRequiredProperty(t *testing.T) {
	t.Parallel()
	b := Build(sampleTools())
	c := NewStructural()

	res, err := c.Typecheck(context.Background(), `await tools.stripe.customers.create({ email: "x@y.com" });`, b)
	require.NoError(t, err)
	require.False(t, res.OK)
	require.Contains(t, res.Errors[0], "missing required property")
}

func TestStructural_FlagsUnknownProperty(t *testing.T) {
	t.Parallel()
	b := Build(sampleTools())
	c := NewStructural()

	res, err := c.Typecheck(context.Background(), `await tools.stripe.customers.get({ id: "x", bogus: 1 });`, b)
	require.NoError(t, err)
	require.False(t, res.OK)
	require.Contains(t, res.Errors[0], "unknown property")
}

func TestStructural_AcceptsValidCall(t *testing.T) {
	t.Parallel()
	b := Build(sampleTools())
	c := NewStructural()

	res, err := c.Typecheck(context.Background(), `const r = await tools.stripe.customers.get({ id: "x" });
console.log(r);`, b)
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Empty(t, res.Errors)
}

func TestStructural_FlagsUndeclaredGlobal(t *testing.T) {
	t.Parallel()
	b := Build(sampleTools())
	c := NewStructural()

	res, err := c.Typecheck(context.Background(), `fetch("https://evil.example");`, b)
	require.NoError(t, err)
	require.False(t, res.OK)
	require.Contains(t, res.Errors[0], "undeclared global")
}

func TestNullChecker_AlwaysSucceeds(t *testing.T) {
	t.Parallel()
	res, err := NewNullChecker().Typecheck(context.Background(), `whatever garbage(((`, Build(nil))
	require.NoError(t, err)
	require.True(t, res.OK)
}
