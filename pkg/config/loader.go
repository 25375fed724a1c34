package config

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/bellwetherhq/bellwether/pkg/errdefs"
)

// Load reads a YAML config file over the defaults, expands ${ENV}
// references, and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errdefs.Wrap(errdefs.CodeValidationConfig,
				fmt.Sprintf("load config %s", path), err)
		}
	}

	expanded, ok := expandEnvVarsInData(k.Raw()).(map[string]any)
	if !ok {
		return nil, errdefs.New(errdefs.CodeValidationConfig, "unexpected shape after env expansion")
	}
	k = koanf.New(".")
	if err := k.Load(confmap.Provider(expanded, "."), nil); err != nil {
		return nil, fmt.Errorf("reload expanded config: %w", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, errdefs.Wrap(errdefs.CodeValidationConfig, "unmarshal config", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
