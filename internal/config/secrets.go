package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ResolveSecret reads a secret value using the *_FILE convention.
// If envName+"_FILE" is set, reads the secret from that file path.
// Otherwise falls back to the value of envName.
// Returns empty string if neither is set.
// Returns an error if the file cannot be read.
func ResolveSecret(envName string) (string, error) {
	fileEnv := envName + "_FILE"
	if filePath := os.Getenv(fileEnv); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("failed to read secret from %s=%s: %w", fileEnv, filePath, err)
		}
		return strings.TrimSpace(string(content)), nil
	}

	return os.Getenv(envName), nil
}

// ResolveSecrets fills the credential fields that never come from the file.
func (c *Config) ResolveSecrets() error {
	targets := []struct {
		env string
		dst *string
	}{
		{"SENTIENT_ADMIN_USER", &c.API.AdminUser},
		{"SENTIENT_ADMIN_PASS", &c.API.AdminPass},
		{"SENTIENT_OPERATOR_USER", &c.API.OperatorUser},
		{"SENTIENT_OPERATOR_PASS", &c.API.OperatorPass},
		{"SENTIENT_MQTT_PASSWORD", &c.MQTT.Password},
		{"SENTIENT_REDIS_PASSWORD", &c.Redis.Password},
		{"PGPASSWORD", &c.Postgres.Password},
	}

	var errs []error
	for _, t := range targets {
		v, err := ResolveSecret(t.env)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*t.dst = v
	}
	return errors.Join(errs...)
}
