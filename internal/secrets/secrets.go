// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads credentials from a directory of plain-text files.
// Each file in the directory represents one secret: the filename is the key name and the
// file contents (trimmed) are the value.
//
// Recognized key files: retrieval-api-key, mqtt-password, redis-password.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/medscope/pkg/types"
)

// Key file names understood by Apply.
const (
	RetrievalAPIKey = "retrieval-api-key"
	MQTTPassword    = "mqtt-password"
	RedisPassword   = "redis-password"
)

// Load reads all files in dir and returns a map of filename to trimmed contents.
// A missing directory or missing files are not errors; Load returns an empty map.
// Unreadable files are logged and skipped.
func Load(dir string, log *zap.Logger) (map[string]string, error) {
	if log == nil {
		log = zap.NewNop()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	secrets := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			log.Warn("could not read secret", zap.String("name", name), zap.Error(err))
			continue
		}

		value := strings.TrimSpace(string(data))
		if value != "" {
			secrets[name] = value
		}
	}

	return secrets, nil
}

// Apply fills credential fields of cfg that are still empty from secrets.
// Values already set through configuration or environment win. It returns
// the names of the secrets that were applied.
func Apply(cfg *types.Config, secrets map[string]string) []string {
	var applied []string
	fill := func(dst *string, key string) {
		if v, ok := secrets[key]; ok && *dst == "" {
			*dst = v
			applied = append(applied, key)
		}
	}
	fill(&cfg.Retrieval.APIKey, RetrievalAPIKey)
	fill(&cfg.Alerts.MQTTPassword, MQTTPassword)
	fill(&cfg.Cache.Password, RedisPassword)
	return applied
}
