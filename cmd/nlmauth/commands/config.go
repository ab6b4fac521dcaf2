package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/urfave/cli/v3"

	"github.com/solorunner/nlm-auth-broker/internal/app"
)

// envPrefix is stripped from environment variables during config loading (e.g., NLMAUTH_BROKER__TTL → broker.ttl)
const envPrefix = "NLMAUTH_"

// configFileEnv names the config file when --config is not given.
const configFileEnv = envPrefix + "CONFIG"

// loadConfig merges configuration sources, later sources winning:
// config file, then NLMAUTH_* environment variables, then CLI flags. Defaults fill whatever is left.
func loadConfig(configPath string, cmd *cli.Command, environFunc func() []string) (*app.Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		configPath = lookupEnv(environFunc, configFileEnv)
	}
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return envKeyToPath(key), value
		},
		EnvironFunc: environFunc,
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	if cmd != nil {
		if err := k.Load(confmap.Provider(flagValues(cmd), "."), nil); err != nil {
			return nil, fmt.Errorf("loading CLI flags: %w", err)
		}
	}

	cfg := &app.Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("applying defaults: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// envKeyToPath maps NLMAUTH_CREDENTIALS__ENV_KEY to credentials.env_key.
func envKeyToPath(key string) string {
	stripped := strings.TrimPrefix(key, envPrefix)
	return strings.ToLower(strings.ReplaceAll(stripped, "__", "."))
}

// flagToPath maps --credentials--env-key to credentials.env_key.
func flagToPath(name string) string {
	key := strings.ReplaceAll(name, "--", ".")
	return strings.ReplaceAll(key, "-", "_")
}

// flagValues collects explicitly set flags, including those of parent commands.
// Unset flags are skipped so their defaults don't shadow file or env values.
func flagValues(cmd *cli.Command) map[string]any {
	values := make(map[string]any)

	for _, name := range cmd.FlagNames() {
		if name == "config" || !cmd.IsSet(name) {
			continue
		}
		if value := cmd.Value(name); value != nil {
			values[flagToPath(name)] = value
		}
	}

	return values
}

func lookupEnv(environFunc func() []string, key string) string {
	if environFunc == nil {
		environFunc = os.Environ
	}
	for _, kv := range environFunc() {
		if k, v, ok := strings.Cut(kv, "="); ok && k == key {
			return v
		}
	}
	return ""
}
