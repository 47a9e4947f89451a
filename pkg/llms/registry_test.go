package llms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ResolveModel_ExplicitProviderPrefix(t *testing.T) {
	r := NewRegistry()
	stub := &StubProvider{}
	require.NoError(t, r.RegisterProvider("openai", stub))

	p, model, err := r.ResolveModel("openai/gpt-4o")
	require.NoError(t, err)
	assert.Same(t, Provider(stub), p)
	assert.Equal(t, "gpt-4o", model)
}

func TestRegistry_ResolveModel_Default(t *testing.T) {
	r := NewRegistry()
	stub := &StubProvider{}
	require.NoError(t, r.RegisterProvider("anthropic", stub))
	r.SetDefault("anthropic")

	p, model, err := r.ResolveModel("claude-3-5-sonnet")
	require.NoError(t, err)
	assert.Same(t, Provider(stub), p)
	assert.Equal(t, "claude-3-5-sonnet", model)
}

func TestRegistry_ResolveModel_LegacyMap(t *testing.T) {
	r := NewRegistry()
	stub := &StubProvider{}
	require.NoError(t, r.RegisterProvider("openai", stub))
	r.SetLegacyModelMap(map[string]string{
		"gpt-3.5-turbo-legacy": "openai/gpt-4o-mini",
	})

	p, model, err := r.ResolveModel("gpt-3.5-turbo-legacy")
	require.NoError(t, err)
	assert.Same(t, Provider(stub), p)
	assert.Equal(t, "gpt-4o-mini", model)
}

func TestRegistry_ResolveModel_UnknownProvider(t *testing.T) {
	r := NewRegistry()
	_, _, err := r.ResolveModel("unknown/gpt-4o")
	assert.Error(t, err)
}

func TestRegistry_ResolveModel_NoDefault(t *testing.T) {
	r := NewRegistry()
	_, _, err := r.ResolveModel("gpt-4o")
	assert.Error(t, err)
}
