package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// GetByPath retrieves a config value by dot-notation path (e.g. "dispatch.workers").
func GetByPath(cfg *Config, path string) (any, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}

	var current any = m
	for _, key := range strings.Split(path, ".") {
		v, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("cannot traverse into %T at %s", current, key)
		}
		val, ok := v[key]
		if !ok {
			return nil, fmt.Errorf("key not found: %s", path)
		}
		current = val
	}
	return current, nil
}

// Sanitize returns a copy of the config with secrets masked, for display.
func Sanitize(cfg *Config) *Config {
	c := *cfg
	if c.Generation.APIKey != "" {
		c.Generation.APIKey = maskString(c.Generation.APIKey)
	}
	if c.Transport.AuthToken != "" {
		c.Transport.AuthToken = maskString(c.Transport.AuthToken)
	}
	if c.Operator.TelegramToken != "" {
		c.Operator.TelegramToken = maskString(c.Operator.TelegramToken)
	}
	return &c
}

func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
