package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/peersync/internal/adapter"
	"github.com/roach88/peersync/internal/filter"
	"github.com/roach88/peersync/internal/resource"
	"github.com/roach88/peersync/internal/store"
	"github.com/roach88/peersync/internal/transport"
)

// Duration is a time.Duration written as a Go duration string ("120ms").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the complete peersync configuration.
type Config struct {
	LockTimeout  Duration               `yaml:"lockTimeout"`
	ApplyTimeout Duration               `yaml:"applyTimeout"`
	Workers      int                    `yaml:"workers"`
	Database     string                 `yaml:"database"`
	Retry        Retry                  `yaml:"retry"`
	Remote       *Remote                `yaml:"remote"`
	Kinds        []Kind                 `yaml:"kinds"`
	Filters      map[string]filter.Rule `yaml:"filters"`
}

// Retry configures caller-side retries of lock timeouts.
type Retry struct {
	MaxTries        int      `yaml:"maxTries"`
	InitialInterval Duration `yaml:"initialInterval"`
	MaxInterval     Duration `yaml:"maxInterval"`
}

// Remote configures delivery to a peer.
type Remote struct {
	Endpoint  string   `yaml:"endpoint"`
	Timeout   Duration `yaml:"timeout"`
	UserAgent string   `yaml:"userAgent"`
}

// Kind is the YAML form of resource.Kind.
type Kind struct {
	Name        string   `yaml:"name"`
	ChildrenKey string   `yaml:"childrenKey"`
	UIDKey      string   `yaml:"uidKey"`
	PublicIDKey string   `yaml:"publicIdKey"`
	Protected   []string `yaml:"protected"`
	Fields      []string `yaml:"fields"`
}

// Default returns the built-in configuration.
func Default() Config {
	retry := adapter.DefaultRetryPolicy()
	return Config{
		LockTimeout: Duration(store.DefaultLockTimeout),
		Workers:     adapter.DefaultWorkers,
		Retry: Retry{
			MaxTries:        int(retry.MaxTries),
			InitialInterval: Duration(retry.InitialInterval),
			MaxInterval:     Duration(retry.MaxInterval),
		},
		Kinds: []Kind{{Name: resource.DefaultKindName}},
	}
}

// Load reads and parses the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates data against the schema and decodes it over Default.
func Parse(data []byte) (Config, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	if raw != nil {
		if err := validate(raw); err != nil {
			return Config{}, err
		}
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode: %w", err)
	}
	if cfg.Remote != nil && cfg.Remote.Timeout == 0 {
		cfg.Remote.Timeout = Duration(transport.DefaultTimeout)
	}
	if len(cfg.Kinds) == 0 {
		cfg.Kinds = Default().Kinds
	}
	return cfg, nil
}

// ResourceKinds returns the configured kinds, validated. The first kind is
// the default.
func (c Config) ResourceKinds() ([]resource.Kind, error) {
	kinds := make([]resource.Kind, 0, len(c.Kinds))
	seen := make(map[string]bool, len(c.Kinds))
	for _, k := range c.Kinds {
		rk := resource.Kind{
			Name:        k.Name,
			ChildrenKey: k.ChildrenKey,
			UIDKey:      k.UIDKey,
			PublicIDKey: k.PublicIDKey,
			Protected:   k.Protected,
			Fields:      k.Fields,
		}.WithDefaults()
		if err := rk.Validate(); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if seen[rk.Name] {
			return nil, fmt.Errorf("config: kind %q declared twice", rk.Name)
		}
		seen[rk.Name] = true
		kinds = append(kinds, rk)
	}
	return kinds, nil
}

// FilterSet compiles the configured filters.
func (c Config) FilterSet() (*filter.Set, error) {
	s, err := filter.FromRules(c.Filters)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return s, nil
}

// RetryPolicy returns the lock timeout retry policy.
func (c Config) RetryPolicy() adapter.RetryPolicy {
	return adapter.RetryPolicy{
		MaxTries:        uint(c.Retry.MaxTries),
		InitialInterval: c.Retry.InitialInterval.Std(),
		MaxInterval:     c.Retry.MaxInterval.Std(),
	}
}
