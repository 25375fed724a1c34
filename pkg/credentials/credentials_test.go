package credentials

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testVar = "BELLWETHER_TEST_API_KEY"

func projectWithEnv(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600))
	return dir
}

func noKeyring(service, user string) (string, error) {
	return "", errors.New("keyring unavailable")
}

func TestResolve_EnvironmentWinsOverEverything(t *testing.T) {
	t.Setenv(testVar, "from-env")
	dir := projectWithEnv(t, testVar+"=from-project\n")

	r := NewResolver(dir, WithKeyring(func(service, user string) (string, error) {
		return "from-keychain", nil
	}))

	value, source, err := r.Resolve(testVar)
	require.NoError(t, err)
	assert.Equal(t, "from-env", value)
	assert.Equal(t, SourceEnv, source)
}

func TestResolve_ProjectEnvFile(t *testing.T) {
	t.Setenv(testVar, "")
	dir := projectWithEnv(t, testVar+"=from-project\n")

	r := NewResolver(dir, WithKeyring(noKeyring))

	value, source, err := r.Resolve(testVar)
	require.NoError(t, err)
	assert.Equal(t, "from-project", value)
	assert.Equal(t, SourceProjectEnv, source)
}

func TestResolve_KeychainIsLastResort(t *testing.T) {
	t.Setenv(testVar, "")

	var gotService, gotUser string
	r := NewResolver(t.TempDir(), WithKeyring(func(service, user string) (string, error) {
		gotService, gotUser = service, user
		return "from-keychain", nil
	}))

	value, source, err := r.Resolve(testVar)
	require.NoError(t, err)
	assert.Equal(t, "from-keychain", value)
	assert.Equal(t, SourceKeychain, source)
	assert.Equal(t, "bellwether", gotService)
	assert.Equal(t, testVar, gotUser)
}

func TestResolve_NotFound(t *testing.T) {
	t.Setenv(testVar, "")

	r := NewResolver(t.TempDir(), WithKeyring(noKeyring))

	_, _, err := r.Resolve(testVar)
	require.Error(t, err)
	assert.Contains(t, err.Error(), testVar)
	assert.Contains(t, err.Error(), "environment variable")
}

func TestNewResolver_MissingEnvFileIsFine(t *testing.T) {
	r := NewResolver(t.TempDir(), WithKeyring(noKeyring))
	assert.Empty(t, r.projectEnv)
}

func TestProviderEnvVar(t *testing.T) {
	assert.Equal(t, "ANTHROPIC_API_KEY", ProviderEnvVar("anthropic"))
	assert.Equal(t, "OPENAI_API_KEY", ProviderEnvVar("openai"))
	assert.Equal(t, "OPENAI_API_KEY", ProviderEnvVar("openai-compatible"))
	assert.Empty(t, ProviderEnvVar("ollama"), "local providers need no key")
}
