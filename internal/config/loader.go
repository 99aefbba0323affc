package config

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "GAS"

var (
	configMu  sync.RWMutex
	appConfig *Config
)

// Defaults returns the default settings as a nested map.
func Defaults() map[string]any {
	return map[string]any{
		"backend": BackendAWS,
		"aws": map[string]any{
			"region":            "",
			"endpoint":          "",
			"profile":           "",
			"access_key_id":     "",
			"secret_access_key": "",
			"imds_region":       false,
			"force_path_style":  false,
		},
		"store": map[string]any{
			"table":       "gas_annotations",
			"user_index":  "user_id_index",
			"sqlite_path": "",
		},
		"queues": map[string]any{
			"requests":           "requests",
			"archive":            "archive",
			"restore":            "restore",
			"wait_time":          "20s",
			"visibility_timeout": "5m",
			"max_messages":       1,
			"max_receives":       0,
			"not_ready_delay":    "15m",
		},
		"topics": map[string]any{
			"requests": "requests",
			"results":  "results",
			"archive":  "archive",
			"restore":  "restore",
		},
		"storage": map[string]any{
			"inputs_bucket":  "gas-inputs",
			"results_bucket": "gas-results",
			"prefix":         "gas",
			"local_dir":      "",
		},
		"vault": map[string]any{
			"name":                  "gas-vault",
			"retrieval_tier":        "Standard",
			"local_dir":             "",
			"local_retrieval_delay": "0s",
		},
		"sweep": map[string]any{
			"grace_period": "300s",
			"interval":     "0s",
			"pattern":      "**/*~*.annot.vcf",
			"rate_limit":   0.0,
		},
		"reaper": map[string]any{
			"stale_after":  "1h",
			"max_attempts": 3,
			"interval":     "0s",
		},
		"execution": map[string]any{
			"command":  []string{"python3", "run.py"},
			"jobs_dir": "jobs",
			"launcher": LauncherProcess,
		},
		"profiles": map[string]any{
			"file": "",
		},
		"local": map[string]any{
			"subscriptions": map[string]any{
				"requests": []string{"requests"},
				"archive":  []string{"archive"},
				"restore":  []string{"restore"},
			},
			"poll_interval": "200ms",
			"queue_path":    "",
		},
		"logging": map[string]any{
			"level":  "info",
			"format": "console",
		},
		"health": map[string]any{
			"addr": "",
		},
	}
}

// Load reads configuration from configFile (optional), the environment and
// overrides, validates it and makes it the current config.
func Load(ctx context.Context, configFile string, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, "", Defaults())

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// GetConfig returns the most recently loaded config, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func setDefaults(v *viper.Viper, prefix string, m map[string]any) {
	for k, val := range m {
		key := join(prefix, k)
		if sub, ok := val.(map[string]any); ok && key != "local.subscriptions" {
			setDefaults(v, key, sub)
			continue
		}
		v.SetDefault(key, val)
	}
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := join(prefix, k)
		if sub, ok := val.(map[string]any); ok && key != "local.subscriptions" {
			for fk, fv := range flatten(key, sub) {
				out[fk] = fv
			}
			continue
		}
		out[key] = val
	}
	return out
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
