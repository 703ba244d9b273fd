// ABOUTME: API key generation and listen address resolution
// ABOUTME: Helpers shared by the serve and add-api-key commands

package config

import (
	"fmt"
	"net"
	"strconv"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	apiKeyPrefix   = "nsk-"
	apiKeyLength   = 16
	apiKeyAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	defaultListenHost = "127.0.0.1"
	defaultListenPort = 8080
)

// DefaultPermissions are granted to keys created without explicit permissions.
var DefaultPermissions = []string{"read"}

// GenerateAPIKey returns a new random key: "nsk-" followed by 16 alphanumerics.
func GenerateAPIKey() (string, error) {
	id, err := gonanoid.Generate(apiKeyAlphabet, apiKeyLength)
	if err != nil {
		return "", fmt.Errorf("generating api key: %w", err)
	}
	return apiKeyPrefix + id, nil
}

// AddAPIKey appends k, rejecting a duplicate name.
func (c *Config) AddAPIKey(k APIKeyConfig) error {
	for _, existing := range c.APIKeys {
		if existing.Name == k.Name {
			return fmt.Errorf("api key named %q already exists", k.Name)
		}
	}
	if len(k.Permissions) == 0 {
		k.Permissions = append([]string(nil), DefaultPermissions...)
	}
	c.APIKeys = append(c.APIKeys, k)
	return nil
}

// ResolveListenAddr picks the HTTP listen address. Explicit flags win: both
// host and port as given, host only with port 8080, port only on 127.0.0.1.
// Without flags the configured server.listen is used, then 127.0.0.1:8080.
func ResolveListenAddr(flagHost string, flagPort int, configured string) string {
	switch {
	case flagHost != "" && flagPort > 0:
		return net.JoinHostPort(flagHost, strconv.Itoa(flagPort))
	case flagHost != "":
		return net.JoinHostPort(flagHost, strconv.Itoa(defaultListenPort))
	case flagPort > 0:
		return net.JoinHostPort(defaultListenHost, strconv.Itoa(flagPort))
	case configured != "":
		return configured
	default:
		return net.JoinHostPort(defaultListenHost, strconv.Itoa(defaultListenPort))
	}
}
