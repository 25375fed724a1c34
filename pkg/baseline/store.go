package baseline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bellwetherhq/bellwether/pkg/errdefs"
)

// Save writes the baseline as indented JSON, creating parent directories.
func Save(b *Baseline, path string) error {
	raw, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("encode baseline: %w", err)
	}
	raw = append(raw, '\n')

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create baseline directory: %w", err)
		}
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write baseline %s: %w", path, err)
	}
	return nil
}

// Load reads a baseline and gates it on major-version compatibility with
// the running CLI. An empty cliVersion skips the gate.
func Load(path, cliVersion string) (*Baseline, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read baseline %s: %w", path, err)
	}

	var b Baseline
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, errdefs.Wrap(errdefs.CodeValidationConfig,
			fmt.Sprintf("parse baseline %s", path), err)
	}
	if b.Version == "" || b.Hash == "" {
		return nil, errdefs.New(errdefs.CodeValidationConfig,
			fmt.Sprintf("baseline %s is missing version or hash", path))
	}

	if cliVersion != "" && !Compatible(b.Version, cliVersion) {
		return nil, errdefs.New(errdefs.CodeValidationConfig,
			fmt.Sprintf("baseline %s was produced by CLI %s, which is not diff-compatible with %s",
				path, b.Version, cliVersion))
	}
	return &b, nil
}

// Compatible reports whether two CLI versions share a major version, the
// condition for two baselines to be diffable.
func Compatible(a, b string) bool {
	return majorOf(a) == majorOf(b)
}

func majorOf(version string) string {
	version = strings.TrimPrefix(version, "v")
	if i := strings.IndexByte(version, '.'); i >= 0 {
		return version[:i]
	}
	return version
}
