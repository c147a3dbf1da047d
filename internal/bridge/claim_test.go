package bridge

import (
	"testing"

	"github.com/danmuck/pvbridge/internal/dispatch"
	"github.com/danmuck/pvbridge/internal/host"
	"github.com/danmuck/pvbridge/internal/protocol/frame"
	"github.com/danmuck/pvbridge/internal/protocol/schema"
	"github.com/danmuck/pvbridge/internal/testutil/testlog"
	"github.com/danmuck/pvbridge/internal/variable"
	"github.com/stretchr/testify/require"
)

func newDispatcher() *dispatch.Dispatcher {
	return dispatch.New(schema.Inbound, schema.Outbound, frame.DefaultLimits())
}

func TestDeclarationsFollowVocabulary(t *testing.T) {
	testlog.Start(t)
	decls, err := Declarations(DefaultBindings(DefaultPrefix))
	require.NoError(t, err)
	require.Len(t, decls, 11)

	byName := make(map[string]variable.Info)
	for _, d := range decls {
		byName[d.Name] = d
	}
	require.Equal(t, variable.Info{Name: "example:aai", Kind: variable.KindI32Array, Direction: variable.Input, MaxLen: schema.ArrayCap}, byName["example:aai"])
	require.Equal(t, variable.Output, byName["example:stringout"].Direction)
	require.Equal(t, schema.StringCap, byName["example:stringout"].MaxLen)
	require.Equal(t, variable.KindU32, byName["example:mbboDirect"].Kind)

	_, err = Declarations([]Binding{{Variant: "nope", Name: "x"}})
	require.ErrorIs(t, err, ErrUnknownVariant)
	_, err = Declarations([]Binding{{Variant: "ai", Name: "a"}, {Variant: "ai", Name: "b"}})
	require.ErrorIs(t, err, ErrDuplicateBinding)
}

func TestClaimEmptiesRegistry(t *testing.T) {
	testlog.Start(t)
	bindings := DefaultBindings(DefaultPrefix)
	decls, err := Declarations(bindings)
	require.NoError(t, err)
	h, err := host.New(decls)
	require.NoError(t, err)

	d := newDispatcher()
	claimed, err := Claim(h.Registry(), d, bindings, true)
	require.NoError(t, err)
	require.Len(t, claimed, 11)
	require.Equal(t, 0, h.Registry().Len())
	require.NoError(t, d.Check())

	ao, err := host.Lookup[float64](h, "example:ao")
	require.NoError(t, err)
	require.True(t, ao.Stats().Observing)
	_, err = ao.Observe()
	require.ErrorIs(t, err, variable.ErrObserverActive)
}

func TestClaimMissingVariable(t *testing.T) {
	testlog.Start(t)
	bindings := DefaultBindings(DefaultPrefix)
	decls, err := Declarations(bindings[1:])
	require.NoError(t, err)
	h, err := host.New(decls)
	require.NoError(t, err)

	_, err = Claim(h.Registry(), newDispatcher(), bindings, true)
	require.ErrorIs(t, err, variable.ErrMissingVariable)
}

func TestClaimWrongType(t *testing.T) {
	testlog.Start(t)
	h, err := host.New([]variable.Info{
		{Name: "example:ai", Kind: variable.KindU16, Direction: variable.Input},
	})
	require.NoError(t, err)
	_, err = Claim(h.Registry(), newDispatcher(), []Binding{{Variant: "ai", Name: "example:ai"}}, true)
	require.ErrorIs(t, err, variable.ErrWrongType)

	h, err = host.New([]variable.Info{
		{Name: "example:ai", Kind: variable.KindF64, Direction: variable.Output},
	})
	require.NoError(t, err)
	_, err = Claim(h.Registry(), newDispatcher(), []Binding{{Variant: "ai", Name: "example:ai"}}, true)
	require.ErrorIs(t, err, variable.ErrWrongType)

	h, err = host.New([]variable.Info{
		{Name: "example:aao", Kind: variable.KindI32Array, Direction: variable.Output, MaxLen: schema.ArrayCap + 1},
	})
	require.NoError(t, err)
	_, err = Claim(h.Registry(), newDispatcher(), []Binding{{Variant: "aao", Name: "example:aao"}}, true)
	require.ErrorIs(t, err, variable.ErrWrongType)
}

func TestClaimStrictRegistry(t *testing.T) {
	testlog.Start(t)
	decls := []variable.Info{
		{Name: "example:ai", Kind: variable.KindF64, Direction: variable.Input},
		{Name: "example:extra", Kind: variable.KindU16, Direction: variable.Input},
	}
	bindings := []Binding{{Variant: "ai", Name: "example:ai"}}

	h, err := host.New(decls)
	require.NoError(t, err)
	_, err = Claim(h.Registry(), newDispatcher(), bindings, true)
	require.ErrorIs(t, err, ErrUnclaimedVariables)

	h, err = host.New(decls)
	require.NoError(t, err)
	_, err = Claim(h.Registry(), newDispatcher(), bindings, false)
	require.NoError(t, err)
	require.Equal(t, []string{"example:extra"}, h.Registry().Names())
}
