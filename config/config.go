// Package config loads runner configuration from files and environment
// variables.
package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/wippyai/microwasm/engine"
)

type Config struct {
	LogLevel string       `mapstructure:"log_level"`
	Limits   LimitsConfig `mapstructure:"limits"`
}

// LimitsConfig mirrors engine.Limits in configuration form. Zero values
// fall back to the engine defaults; a zero budget means unmetered.
type LimitsConfig struct {
	ValueStack   int    `mapstructure:"value_stack"`
	CallDepth    int    `mapstructure:"call_depth"`
	ControlDepth int    `mapstructure:"control_depth"`
	MemoryPages  uint32 `mapstructure:"memory_pages"`
	TableEntries uint32 `mapstructure:"table_entries"`
	Budget       uint64 `mapstructure:"budget"`
}

// EngineLimits converts the configuration to engine limits.
func (c *LimitsConfig) EngineLimits() engine.Limits {
	return engine.Limits{
		ValueStack:   c.ValueStack,
		CallDepth:    c.CallDepth,
		ControlDepth: c.ControlDepth,
		MemoryPages:  c.MemoryPages,
		TableEntries: c.TableEntries,
		Budget:       c.Budget,
	}
}

// Load reads configuration from the given file. An empty path loads
// defaults plus MICROWASM_* environment overrides only.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("log_level", "info")
	v.SetDefault("limits.value_stack", engine.DefaultValueStack)
	v.SetDefault("limits.call_depth", engine.DefaultCallDepth)
	v.SetDefault("limits.control_depth", engine.DefaultControlDepth)
	v.SetDefault("limits.memory_pages", engine.DefaultMemoryPages)
	v.SetDefault("limits.table_entries", engine.DefaultTableEntries)
	v.SetDefault("limits.budget", 0)

	v.SetEnvPrefix("MICROWASM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
