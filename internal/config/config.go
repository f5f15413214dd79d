// Package config holds the agent's runtime configuration: a plain
// struct seeded once from CLI flags (LoadYAMLOverlay can layer a YAML
// document on top, though cmd/agent does not call it),
// then patched at most once by a discovery or lookup override before
// the heartbeater and HTTP server start. Grounded on
// pkg/manager.Config/pkg/worker.Config's "plain struct, built by the
// CLI layer" shape; the one-shot hot-swap follows the "back it by an
// atomic pointer swap" note for the registry's once-cell pattern.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is immutable once handed to a component; the only mutation
// path is Store, which atomically swaps the active pointer.
type Config struct {
	APIURL      string
	ListenHost  string
	ListenPort  int
	MetricsHost string
	MetricsPort int

	AdvertiseHost string
	AdvertisePort int

	NetworkInterface string

	IPLookupAttempts int
	IPLookupSleep    time.Duration

	LookupTimeout  time.Duration
	LookupInterval time.Duration

	Standalone                  bool
	PreInjectedAgentToken       string // from --agent-token / virtual media, used only if the director never supplies one
	HardwareInitializationDelay time.Duration
	InspectionCallbackURL       string

	TLSEnabled  bool
	TLSCertFile string
	TLSKeyFile  string

	DeepImageInspection bool

	HTTPRequestTimeout time.Duration

	// Populated post-lookup; zero value means "not yet known".
	HeartbeatTimeout time.Duration
	TokenRequired    bool
	SessionToken     string
}

// Holder guards the one possible hot swap after a discovery/lookup
// override arrives. Callers read via Load; nothing mutates a *Config
// in place.
type Holder struct {
	ptr atomic.Pointer[Config]
}

// NewHolder wraps an initial configuration.
func NewHolder(initial *Config) *Holder {
	h := &Holder{}
	h.ptr.Store(initial)
	return h
}

// Load returns the currently active configuration.
func (h *Holder) Load() *Config {
	return h.ptr.Load()
}

// Store atomically replaces the active configuration.
func (h *Holder) Store(c *Config) {
	h.ptr.Store(c)
}

// ApplyOverrides returns a copy of base with every recognised key in
// overrides applied on top (zero values included), matching discovery's
// "configuration overrides" and lookup's "config" block.
func ApplyOverrides(base *Config, overrides map[string]any) (*Config, error) {
	out := *base
	for k, v := range overrides {
		switch k {
		case "heartbeat_timeout":
			secs, ok := toFloat(v)
			if !ok {
				return nil, fmt.Errorf("config override %q: not a number", k)
			}
			out.HeartbeatTimeout = time.Duration(secs * float64(time.Second))
		case "ip_lookup_attempts":
			n, ok := toFloat(v)
			if !ok {
				return nil, fmt.Errorf("config override %q: not a number", k)
			}
			out.IPLookupAttempts = int(n)
		case "ip_lookup_sleep":
			secs, ok := toFloat(v)
			if !ok {
				return nil, fmt.Errorf("config override %q: not a number", k)
			}
			out.IPLookupSleep = time.Duration(secs * float64(time.Second))
		case "agent_token":
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("config override %q: not a string", k)
			}
			out.SessionToken = s
		case "agent_token_required":
			b, ok := v.(bool)
			if !ok {
				return nil, fmt.Errorf("config override %q: not a bool", k)
			}
			out.TokenRequired = b
		default:
			// Unknown override keys are accepted and ignored: the
			// director may send overrides this build doesn't recognise.
		}
	}
	return &out, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		// Discovery TXT records carry every override as a string.
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// LoadYAMLOverlay decodes a YAML overlay onto base, matching keys
// against the lowercased field names (Config carries no yaml tags).
// cmd/agent has no flag that calls it.
func LoadYAMLOverlay(base *Config, data []byte) (*Config, error) {
	out := *base
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode config overlay: %w", err)
	}
	return &out, nil
}
