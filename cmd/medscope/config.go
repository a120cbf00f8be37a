// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/pdiddy/medscope/pkg/types"
)

// setDefaults registers every configuration key so environment variables
// (MEDSCOPE_SERVER_ADDR and so on) are picked up by Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.reference_file", "")
	v.SetDefault("engine.parallelism", 8)

	v.SetDefault("retrieval.backend", string(types.RetrievalLocal))
	v.SetDefault("retrieval.endpoint", "")
	v.SetDefault("retrieval.api_key", "")
	v.SetDefault("retrieval.per_section", 3)
	v.SetDefault("retrieval.medication_timeout", 10*time.Second)
	v.SetDefault("retrieval.timeout", 30*time.Second)
	v.SetDefault("retrieval.user_agent", "medscope/"+version)

	v.SetDefault("knowledge_base.knowledge_dir", "knowledge")
	v.SetDefault("knowledge_base.per_section", 3)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.max_batch", 100)
	v.SetDefault("server.body_limit", "4M")

	v.SetDefault("cache.addr", "")
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", time.Hour)
	v.SetDefault("cache.prefix", "medscope:scope:")

	v.SetDefault("alerts.audit_db", "")
	v.SetDefault("alerts.mqtt_broker", "")
	v.SetDefault("alerts.mqtt_topic", "medscope/alerts/bias")
	v.SetDefault("alerts.mqtt_client_id", "medscope")
	v.SetDefault("alerts.mqtt_username", "")
	v.SetDefault("alerts.mqtt_password", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("secrets_dir", ".secrets")
}

// loadConfig resolves the typed configuration from defaults, the config
// file, environment and bound flags.
func loadConfig(v *viper.Viper) (types.Config, error) {
	setDefaults(v)

	var c types.Config
	if err := v.Unmarshal(&c); err != nil {
		return types.Config{}, fmt.Errorf("decoding configuration: %w", err)
	}

	switch c.Retrieval.Backend {
	case types.RetrievalLocal, types.RetrievalHTTP:
	default:
		return types.Config{}, fmt.Errorf("retrieval.backend %q: use %q or %q",
			c.Retrieval.Backend, types.RetrievalLocal, types.RetrievalHTTP)
	}
	if c.Engine.Parallelism < 1 {
		return types.Config{}, fmt.Errorf("engine.parallelism must be at least 1, got %d", c.Engine.Parallelism)
	}
	return c, nil
}
