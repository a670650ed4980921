package endpoint

import (
	"context"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryDefinitionWithoutInstance(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, Register(registry, testRegistration(&fakeDriver{})))

	def, err := registry.ConfigurationDefinition("test-endpoint")
	require.NoError(t, err)

	assert.Equal(t, `{"fields":["target","retries"]}`, def.Form)
	assert.Equal(t, `{"type":"object"}`, def.Schema)
	assert.Equal(t, reflect.TypeOf((*testConfig)(nil)).Elem(), def.Model)

	again, err := registry.ConfigurationDefinition("test-endpoint")
	require.NoError(t, err)
	assert.Equal(t, def, again)
}

func TestDefinitionModelMatchesConfigure(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, Register(registry, testRegistration(&fakeDriver{})))

	desc, err := registry.Lookup("test-endpoint")
	require.NoError(t, err)

	value, err := DecodeJSON(desc.Definition, []byte(`{"target":"x","retries":1}`))
	require.NoError(t, err)

	ep, err := desc.New("ep1", Services{Logger: discardLogger()})
	require.NoError(t, err)
	assert.Equal(t, desc.Definition, ep.Definition())

	result := ep.Configure(context.Background(), value)
	require.True(t, result.Succeeded(), "unexpected errors: %v", result.Err())
	got, _ := ep.Configuration()
	assert.Equal(t, testConfig{Target: "x", Retries: 1}, got)
}

func TestDefaultConfigurationNeverAbsent(t *testing.T) {
	tests := []struct {
		name    string
		factory func() testConfig
		want    testConfig
	}{
		{name: "factory", factory: func() testConfig { return testConfig{Target: "t"} }, want: testConfig{Target: "t"}},
		{name: "no factory", factory: nil, want: testConfig{}},
		{name: "panicking factory", factory: func() testConfig { panic("no defaults today") }, want: testConfig{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := testRegistration(&fakeDriver{})
			reg.Default = tt.factory
			registry := NewRegistry()
			require.NoError(t, Register(registry, reg))

			var got any
			require.NotPanics(t, func() {
				var err error
				got, err = registry.DefaultConfiguration("test-endpoint")
				require.NoError(t, err)
			})
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRegistryErrors(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, Register(registry, testRegistration(&fakeDriver{})))

	assert.ErrorIs(t, Register(registry, testRegistration(&fakeDriver{})), ErrDuplicateType)
	assert.ErrorIs(t, registry.Add(Descriptor{}), ErrUnknownType)
	assert.Error(t, registry.Add(Descriptor{TypeID: "half"}))

	_, err := registry.Lookup("missing")
	assert.ErrorIs(t, err, ErrUnknownType)
	_, err = registry.ConfigurationDefinition("missing")
	assert.ErrorIs(t, err, ErrUnknownType)
	_, err = registry.DefaultConfiguration("missing")
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestRegistryTypesSorted(t *testing.T) {
	registry := NewRegistry()
	for _, id := range []string{"zeta", "alpha", "mu"} {
		reg := testRegistration(&fakeDriver{})
		reg.TypeID = id
		require.NoError(t, Register(registry, reg))
	}
	assert.Equal(t, []string{"alpha", "mu", "zeta"}, registry.Types())
}

func TestDecodeJSON(t *testing.T) {
	def := testRegistration(nil).Definition()

	_, err := DecodeJSON(def, []byte(`{"target":"x","unknown":1}`))
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = DecodeJSON(Definition{}, []byte(`{}`))
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestDecodeMap(t *testing.T) {
	def := testRegistration(nil).Definition()
	base := testConfig{Target: "base", Retries: 3}

	tests := []struct {
		name     string
		settings map[string]any
		want     testConfig
		wantErr  bool
	}{
		{name: "overrides base", settings: map[string]any{"target": "yaml"}, want: testConfig{Target: "yaml", Retries: 3}},
		{name: "weak typing", settings: map[string]any{"retries": "7"}, want: testConfig{Target: "base", Retries: 7}},
		{name: "unknown key", settings: map[string]any{"bogus": true}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeMap(def, base, tt.settings)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrConfiguration)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := DecodeMap(def, "not a config", nil)
	assert.ErrorIs(t, err, ErrConfiguration)
}
