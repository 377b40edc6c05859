// Package config loads process configuration.
//
// Sources are applied in order, later ones overriding earlier: built-in
// defaults, an optional YAML file, then NEUROMANCER_ environment variables.
// Nested keys are separated by a double underscore in environment variables,
// so NEUROMANCER_EXECUTOR__RING__REPLICAS sets executor.ring.replicas.
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/jettison/log"

	"github.com/neuromancer/neuromancer/checksum"
	"github.com/neuromancer/neuromancer/custody"
	"github.com/neuromancer/neuromancer/discovery"
	"github.com/neuromancer/neuromancer/guard"
	"github.com/neuromancer/neuromancer/ring"
)

const EnvPrefix = "NEUROMANCER_"

// Membership sources of an executor. Exactly one feeds ChangeMembership.
const (
	// MembershipAdmin takes membership from the administrative RPC service.
	MembershipAdmin = "admin"

	// MembershipDiscovery takes membership from the librarians registered
	// in etcd and rejects administrative changes.
	MembershipDiscovery = "discovery"
)

var ErrInvalid = errors.New("invalid configuration", j.C("ERR_7e1a4c9d305fb862"))

type Config struct {
	// Seed keys checksums. Executors and librarians verify each other's
	// tokens, so every process of a fleet must use the same non-zero seed.
	Seed uint64 `koanf:"seed"`

	Executor  Executor  `koanf:"executor"`
	Librarian Librarian `koanf:"librarian"`
	Discovery Discovery `koanf:"discovery"`
	Metrics   Metrics   `koanf:"metrics"`
}

type Executor struct {
	Addr string `koanf:"addr"`

	// Membership selects where the librarian membership comes from.
	Membership string `koanf:"membership"`

	RetryInterval time.Duration `koanf:"retry_interval"`

	Ring    Ring    `koanf:"ring"`
	Guard   Guard   `koanf:"guard"`
	Custody Custody `koanf:"custody"`
}

type Ring struct {
	Replicas int    `koanf:"replicas"`
	Hash     string `koanf:"hash"`
}

type Guard struct {
	MaxRetries      uint64        `koanf:"max_retries"`
	MaxElapsed      time.Duration `koanf:"max_elapsed"`
	InitialInterval time.Duration `koanf:"initial_interval"`
	MaxInterval     time.Duration `koanf:"max_interval"`
}

type Custody struct {
	Workers         int           `koanf:"workers"`
	QueueSize       int           `koanf:"queue_size"`
	MaxAttempts     uint64        `koanf:"max_attempts"`
	InitialInterval time.Duration `koanf:"initial_interval"`
	MaxInterval     time.Duration `koanf:"max_interval"`
}

type Librarian struct {
	Addr  string `koanf:"addr"`
	Guard Guard  `koanf:"guard"`
}

type Discovery struct {
	Endpoints   []string      `koanf:"endpoints"`
	Prefix      string        `koanf:"prefix"`
	DialTimeout time.Duration `koanf:"dial_timeout"`
	Refresh     time.Duration `koanf:"refresh"`
	TTL         int           `koanf:"ttl"`
}

type Metrics struct {
	Addr string `koanf:"addr"`
}

func defaults() map[string]any {
	g := guard.DefaultPolicy()
	policy := map[string]any{
		"max_retries":      g.MaxRetries,
		"max_elapsed":      g.MaxElapsed.String(),
		"initial_interval": g.InitialInterval.String(),
		"max_interval":     g.MaxInterval.String(),
	}
	return map[string]any{
		"seed": 0,
		"executor": map[string]any{
			"addr":           ":7000",
			"membership":     MembershipAdmin,
			"retry_interval": "30s",
			"ring": map[string]any{
				"replicas": 1,
				"hash":     "xxhash",
			},
			"guard": policy,
			"custody": map[string]any{
				"workers":          4,
				"queue_size":       128,
				"max_attempts":     5,
				"initial_interval": "50ms",
				"max_interval":     "2s",
			},
		},
		"librarian": map[string]any{
			"addr":  ":7001",
			"guard": policy,
		},
		"discovery": map[string]any{
			"endpoints":    []string{"http://localhost:2379"},
			"prefix":       "neuromancer",
			"dial_timeout": "5s",
			"refresh":      "1m",
			"ttl":          10,
		},
		"metrics": map[string]any{
			"addr": ":9090",
		},
	}
}

// mapProvider loads a nested map.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("map provider does not support ReadBytes")
}

func (m mapProvider) Read() (map[string]any, error) {
	return m, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	k := koanf.New(".")
	if err := k.Load(mapProvider(defaults()), nil); err != nil {
		panic(err)
	}
	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		panic(err)
	}
	return &c
}

// Load reads the configuration from the YAML file at path, if not empty, and
// the environment.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(mapProvider(defaults()), nil); err != nil {
		return nil, errors.Wrap(err, "load defaults")
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.Wrap(err, "load config file", j.KV("path", path))
		}
	}
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue(EnvPrefix)), nil); err != nil {
		return nil, errors.Wrap(err, "load env")
	}

	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// envValue maps NEUROMANCER_DISCOVERY__DIAL_TIMEOUT to discovery.dial_timeout.
// List values are comma separated.
func envValue(prefix string) func(string, string) (string, any) {
	return func(key, value string) (string, any) {
		key = strings.TrimPrefix(key, prefix)
		key = strings.ToLower(strings.ReplaceAll(key, "__", "."))
		if key == "discovery.endpoints" {
			return key, strings.Split(value, ",")
		}
		return key, value
	}
}

// Validate checks the values that have no usable fallback.
func (c *Config) Validate() error {
	if c.Seed == 0 {
		return errors.Wrap(ErrInvalid, "seed must be set to the value shared by the fleet")
	}
	switch c.Executor.Membership {
	case MembershipAdmin, MembershipDiscovery:
	default:
		return errors.Wrap(ErrInvalid, "executor.membership", j.KV("membership", c.Executor.Membership))
	}
	if _, err := ring.HashByName(c.Executor.Ring.Hash); err != nil {
		return errors.Wrap(ErrInvalid, "executor.ring.hash", j.KV("hash", c.Executor.Ring.Hash))
	}
	if c.Executor.Ring.Replicas < 1 {
		return errors.Wrap(ErrInvalid, "executor.ring.replicas", j.KV("replicas", c.Executor.Ring.Replicas))
	}
	if c.Executor.Guard.InitialInterval > c.Executor.Guard.MaxInterval {
		return errors.Wrap(ErrInvalid, "executor.guard.initial_interval exceeds max_interval")
	}
	if c.Librarian.Guard.InitialInterval > c.Librarian.Guard.MaxInterval {
		return errors.Wrap(ErrInvalid, "librarian.guard.initial_interval exceeds max_interval")
	}
	if c.Executor.Custody.InitialInterval > c.Executor.Custody.MaxInterval {
		return errors.Wrap(ErrInvalid, "executor.custody.initial_interval exceeds max_interval")
	}
	if len(c.Discovery.Endpoints) == 0 {
		return errors.Wrap(ErrInvalid, "discovery.endpoints is empty")
	}
	for _, ep := range c.Discovery.Endpoints {
		if strings.TrimSpace(ep) == "" {
			return errors.Wrap(ErrInvalid, "discovery.endpoints has an empty endpoint")
		}
	}
	return nil
}

// Engine returns the checksum engine keyed with the fleet seed.
func (c *Config) Engine() *checksum.Engine {
	return checksum.New(checksum.Seed(c.Seed))
}

func (e Executor) RingOptions() ([]ring.Option, error) {
	h, err := ring.HashByName(e.Ring.Hash)
	if err != nil {
		return nil, err
	}
	return []ring.Option{ring.WithReplicas(e.Ring.Replicas), ring.WithHash(h)}, nil
}

func (g Guard) Policy() guard.Policy {
	return guard.Policy{
		MaxRetries:      g.MaxRetries,
		MaxElapsed:      g.MaxElapsed,
		InitialInterval: g.InitialInterval,
		MaxInterval:     g.MaxInterval,
	}
}

func (e Executor) CustodyOptions(l log.Interface) custody.Options {
	return custody.Options{
		Workers:         e.Custody.Workers,
		QueueSize:       e.Custody.QueueSize,
		MaxAttempts:     e.Custody.MaxAttempts,
		InitialInterval: e.Custody.InitialInterval,
		MaxInterval:     e.Custody.MaxInterval,
		Log:             l,
	}
}

func (d Discovery) Options(l log.Interface) discovery.Options {
	return discovery.Options{
		Prefix:  d.Prefix,
		Refresh: d.Refresh,
		TTL:     d.TTL,
		Log:     l,
	}
}
