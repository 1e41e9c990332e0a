// Package credentials resolves the API secret used for each vendor call.
package credentials

import (
	"os"
	"strings"

	"github.com/snappy-loop/podcaststudio/internal/config"
	"github.com/snappy-loop/podcaststudio/internal/vendor"
)

// envKeys are consulted when neither the caller nor the config supplies a key.
var envKeys = map[vendor.Name][]string{
	vendor.Kling:     {"KLING_API_KEY"},
	vendor.JoggAI:    {"JOGGAI_API_KEY", "JOGG_API_KEY"},
	vendor.Replicate: {"REPLICATE_API_TOKEN", "REPLICATE_API_KEY"},
	vendor.Tavus:     {"TAVUS_API_KEY"},
}

// Resolver supplies vendor secrets. Resolution order is the caller-supplied
// key, the configured key, then the process environment.
type Resolver struct {
	keys      map[vendor.Name]string
	lookupEnv func(string) (string, bool)
}

// NewResolver builds a resolver from explicit keys.
func NewResolver(keys map[vendor.Name]string) *Resolver {
	copied := make(map[vendor.Name]string, len(keys))
	for name, key := range keys {
		if key = strings.TrimSpace(key); key != "" {
			copied[name] = key
		}
	}
	return &Resolver{keys: copied, lookupEnv: os.LookupEnv}
}

// FromConfig builds a resolver from the application configuration.
func FromConfig(cfg *config.Config) *Resolver {
	return NewResolver(map[vendor.Name]string{
		vendor.Kling:     cfg.KlingAPIKey,
		vendor.JoggAI:    cfg.JoggAIAPIKey,
		vendor.Replicate: cfg.ReplicateAPIToken,
		vendor.Tavus:     cfg.TavusAPIKey,
	})
}

// WithLookupEnv replaces the environment lookup, mainly for tests.
func (r *Resolver) WithLookupEnv(fn func(string) (string, bool)) *Resolver {
	r.lookupEnv = fn
	return r
}

// Resolve returns the key to use for a vendor call.
func (r *Resolver) Resolve(name vendor.Name, supplied string) (string, error) {
	if key := strings.TrimSpace(supplied); key != "" {
		return key, nil
	}
	if key, ok := r.keys[name]; ok {
		return key, nil
	}
	if r.lookupEnv != nil {
		for _, envKey := range envKeys[name] {
			if v, ok := r.lookupEnv(envKey); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v), nil
			}
		}
	}
	return "", &vendor.ConfigurationError{Vendor: name, Message: "api key is not configured"}
}
