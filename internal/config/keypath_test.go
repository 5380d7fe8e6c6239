package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRaw() map[string]any {
	return map[string]any{
		"gateway": map[string]any{"port": 18790, "bind": "loopback"},
		"organizations": []any{
			map[string]any{"id": "acme", "mail": map[string]any{"fromAddress": "help@acme.test"}},
			map[string]any{"id": "globex"},
		},
	}
}

func mustPath(t *testing.T, raw string) []string {
	t.Helper()
	p, err := ParseConfigPath(raw)
	require.NoError(t, err)
	return p
}

func TestParseConfigPath_Errors(t *testing.T) {
	for _, raw := range []string{"", ".gateway", "gateway.", "organizations[]", "plugins.x"} {
		t.Run(raw, func(t *testing.T) {
			_, err := ParseConfigPath(raw)
			var ce *ConfigError
			assert.ErrorAs(t, err, &ce)
		})
	}
}

func TestGetValueAtPath_ListIndexes(t *testing.T) {
	root := sampleRaw()

	v, ok := GetValueAtPath(root, mustPath(t, "organizations[0].mail.fromAddress"))
	require.True(t, ok)
	assert.Equal(t, "help@acme.test", v)

	v, ok = GetValueAtPath(root, mustPath(t, "organizations.1.id"))
	require.True(t, ok)
	assert.Equal(t, "globex", v)

	_, ok = GetValueAtPath(root, mustPath(t, "organizations[2].id"))
	assert.False(t, ok)
	_, ok = GetValueAtPath(root, mustPath(t, "organizations.first.id"))
	assert.False(t, ok)
	_, ok = GetValueAtPath(root, mustPath(t, "gateway.port.value"))
	assert.False(t, ok)
}

func TestSetValueAtPath(t *testing.T) {
	root := sampleRaw()

	require.NoError(t, SetValueAtPath(root, mustPath(t, "gateway.port"), 9000))
	require.NoError(t, SetValueAtPath(root, mustPath(t, "mailbox.dedup.backend"), "redis"))
	require.NoError(t, SetValueAtPath(root, mustPath(t, "organizations[1].name"), "Globex Corp"))
	require.NoError(t, SetValueAtPath(root, mustPath(t, "organizations[2].id"), "initech"))

	v, _ := GetValueAtPath(root, mustPath(t, "gateway.port"))
	assert.Equal(t, 9000, v)
	v, _ = GetValueAtPath(root, mustPath(t, "mailbox.dedup.backend"))
	assert.Equal(t, "redis", v)
	v, _ = GetValueAtPath(root, mustPath(t, "organizations[1].name"))
	assert.Equal(t, "Globex Corp", v)
	v, _ = GetValueAtPath(root, mustPath(t, "organizations[2].id"))
	assert.Equal(t, "initech", v)
	assert.Len(t, root["organizations"], 3)
}

func TestSetValueAtPath_ReplacesScalarWithMap(t *testing.T) {
	root := map[string]any{"store": "sqlite"}
	require.NoError(t, SetValueAtPath(root, mustPath(t, "store.driver"), "postgres"))
	assert.Equal(t, map[string]any{"driver": "postgres"}, root["store"])
}

func TestSetValueAtPath_IndexOutOfRange(t *testing.T) {
	root := sampleRaw()
	err := SetValueAtPath(root, mustPath(t, "organizations[5].id"), "x")
	var ce *ConfigError
	assert.ErrorAs(t, err, &ce)
	assert.Len(t, root["organizations"], 2)
}

func TestUnsetValueAtPath(t *testing.T) {
	root := sampleRaw()

	assert.True(t, UnsetValueAtPath(root, mustPath(t, "gateway.port")))
	_, ok := GetValueAtPath(root, mustPath(t, "gateway.port"))
	assert.False(t, ok)
	bind, _ := GetValueAtPath(root, mustPath(t, "gateway.bind"))
	assert.Equal(t, "loopback", bind)

	assert.True(t, UnsetValueAtPath(root, mustPath(t, "organizations[0]")))
	require.Len(t, root["organizations"], 1)
	id, _ := GetValueAtPath(root, mustPath(t, "organizations[0].id"))
	assert.Equal(t, "globex", id)

	assert.False(t, UnsetValueAtPath(root, mustPath(t, "gateway.port")))
	assert.False(t, UnsetValueAtPath(root, mustPath(t, "organizations[4]")))
	assert.False(t, UnsetValueAtPath(root, mustPath(t, "hooks.ticketCreated")))
	assert.False(t, UnsetValueAtPath(root, mustPath(t, "gateway.bind.value")))
}
