package credential

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestResolveSecret_ConfiguredWins(t *testing.T) {
	keyring.MockInit()

	secret, source, err := ResolveSecret("from-config", true)
	require.NoError(t, err)
	assert.Equal(t, "from-config", secret)
	assert.Equal(t, SourceConfig, source)
}

func TestResolveSecret_KeyringCreatesOnce(t *testing.T) {
	keyring.MockInit()

	first, source, err := ResolveSecret("", true)
	require.NoError(t, err)
	assert.Equal(t, SourceKeyring, source)
	assert.Len(t, first, 64)

	second, _, err := ResolveSecret("", true)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.NoError(t, ForgetSecret())
	third, _, err := ResolveSecret("", true)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestResolveSecret_KeyringDisabled(t *testing.T) {
	secret, source, err := ResolveSecret("", false)
	require.NoError(t, err)
	assert.Equal(t, DefaultSecret, secret)
	assert.Equal(t, SourceDefault, source)
}

func TestForgetSecret_Missing(t *testing.T) {
	keyring.MockInit()
	assert.NoError(t, ForgetSecret())
}
