// Package credentials resolves API keys through a fixed precedence chain:
// environment variable, project .env, user-global .env, OS keychain.
package credentials

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/zalando/go-keyring"
)

// keyringService namespaces entries in the OS keychain.
const keyringService = "bellwether"

// Source names where a credential came from.
type Source string

const (
	SourceEnv        Source = "environment"
	SourceProjectEnv Source = "project .env"
	SourceUserEnv    Source = "user .env"
	SourceKeychain   Source = "keychain"
)

// Resolver looks up credentials by environment-variable name. The .env
// files are read once at construction.
type Resolver struct {
	projectEnv map[string]string
	userEnv    map[string]string
	keyringGet func(service, user string) (string, error)
}

type Option func(*Resolver)

// WithKeyring substitutes the keychain lookup, for tests.
func WithKeyring(get func(service, user string) (string, error)) Option {
	return func(r *Resolver) {
		r.keyringGet = get
	}
}

// NewResolver loads .env files relative to projectDir and the user's home.
// Missing files are fine; unreadable ones are logged and skipped.
func NewResolver(projectDir string, opts ...Option) *Resolver {
	r := &Resolver{
		projectEnv: readEnvFile(filepath.Join(projectDir, ".env")),
		keyringGet: keyring.Get,
	}
	if home, err := os.UserHomeDir(); err == nil {
		r.userEnv = readEnvFile(filepath.Join(home, ".bellwether", ".env"))
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func readEnvFile(path string) map[string]string {
	values, err := godotenv.Read(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Debug("Skipping unreadable env file", "path", path, "error", err)
		}
		return nil
	}
	return values
}

// Resolve returns the credential for name and where it was found.
func (r *Resolver) Resolve(name string) (string, Source, error) {
	if v := os.Getenv(name); v != "" {
		return v, SourceEnv, nil
	}
	if v := r.projectEnv[name]; v != "" {
		return v, SourceProjectEnv, nil
	}
	if v := r.userEnv[name]; v != "" {
		return v, SourceUserEnv, nil
	}
	if v, err := r.keyringGet(keyringService, name); err == nil && v != "" {
		return v, SourceKeychain, nil
	}
	return "", "", fmt.Errorf("credential %s not found: set the environment variable, add it to .env, or store it with %q in the OS keychain", name, keyringService)
}

// Store writes a credential to the OS keychain.
func Store(name, value string) error {
	if err := keyring.Set(keyringService, name, value); err != nil {
		return fmt.Errorf("store %s in keychain: %w", name, err)
	}
	return nil
}

// ProviderEnvVar maps an LLM provider to its conventional key variable.
func ProviderEnvVar(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai", "openai-compatible":
		return "OPENAI_API_KEY"
	default:
		return ""
	}
}
