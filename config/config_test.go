package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuromancer/neuromancer/guard"
	"github.com/neuromancer/neuromancer/librarian"
	"github.com/neuromancer/neuromancer/wire"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "neuromancer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	c := Default()
	jtest.Assert(t, ErrInvalid, c.Validate())
	c.Seed = 2020
	jtest.RequireNil(t, c.Validate())

	assert.Equal(t, ":7000", c.Executor.Addr)
	assert.Equal(t, MembershipAdmin, c.Executor.Membership)
	assert.Equal(t, 1, c.Executor.Ring.Replicas)
	assert.Equal(t, "xxhash", c.Executor.Ring.Hash)
	assert.Equal(t, guard.DefaultPolicy(), c.Executor.Guard.Policy())
	assert.Equal(t, guard.DefaultPolicy(), c.Librarian.Guard.Policy())
	assert.Equal(t, 30*time.Second, c.Executor.RetryInterval)
	assert.Equal(t, 4, c.Executor.Custody.Workers)
	assert.Equal(t, uint64(5), c.Executor.Custody.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, c.Executor.Custody.InitialInterval)
	assert.Equal(t, []string{"http://localhost:2379"}, c.Discovery.Endpoints)
	assert.Equal(t, 5*time.Second, c.Discovery.DialTimeout)
	assert.Equal(t, ":9090", c.Metrics.Addr)
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
seed: 2020
executor:
  addr: 10.0.0.1:7000
  ring:
    replicas: 16
    hash: murmur3
  custody:
    workers: 8
discovery:
  endpoints:
    - http://etcd-0:2379
    - http://etcd-1:2379
  dial_timeout: 2s
`)
	c, err := Load(path)
	jtest.RequireNil(t, err)

	assert.Equal(t, "10.0.0.1:7000", c.Executor.Addr)
	assert.Equal(t, uint64(2020), c.Seed)
	assert.Equal(t, 16, c.Executor.Ring.Replicas)
	assert.Equal(t, "murmur3", c.Executor.Ring.Hash)
	assert.Equal(t, 8, c.Executor.Custody.Workers)
	assert.Equal(t, 128, c.Executor.Custody.QueueSize)
	assert.Equal(t, []string{"http://etcd-0:2379", "http://etcd-1:2379"}, c.Discovery.Endpoints)
	assert.Equal(t, 2*time.Second, c.Discovery.DialTimeout)
	assert.Equal(t, "neuromancer", c.Discovery.Prefix)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeFile(t, `
seed: 7
executor:
  ring:
    replicas: 16
`)
	t.Setenv("NEUROMANCER_EXECUTOR__RING__REPLICAS", "32")
	t.Setenv("NEUROMANCER_EXECUTOR__GUARD__MAX_INTERVAL", "250ms")
	t.Setenv("NEUROMANCER_DISCOVERY__ENDPOINTS", "http://a:2379,http://b:2379")
	t.Setenv("NEUROMANCER_LIBRARIAN__ADDR", "lib-a:7001")
	t.Setenv("NEUROMANCER_LIBRARIAN__GUARD__MAX_RETRIES", "9")
	t.Setenv("NEUROMANCER_SEED", "99")

	c, err := Load(path)
	jtest.RequireNil(t, err)

	assert.Equal(t, 32, c.Executor.Ring.Replicas)
	assert.Equal(t, 250*time.Millisecond, c.Executor.Guard.MaxInterval)
	assert.Equal(t, []string{"http://a:2379", "http://b:2379"}, c.Discovery.Endpoints)
	assert.Equal(t, "lib-a:7001", c.Librarian.Addr)
	assert.Equal(t, uint64(9), c.Librarian.Guard.MaxRetries)
	assert.Equal(t, guard.DefaultPolicy().MaxRetries, c.Executor.Guard.MaxRetries)
	assert.Equal(t, uint64(99), c.Seed)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(c *Config)
		expErr error
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "zero seed",
			mutate: func(c *Config) { c.Seed = 0 },
			expErr: ErrInvalid,
		},
		{name: "librarian guard intervals inverted",
			mutate: func(c *Config) { c.Librarian.Guard.InitialInterval = time.Second },
			expErr: ErrInvalid,
		},
		{name: "fnv hash", mutate: func(c *Config) { c.Executor.Ring.Hash = "fnv" }},
		{name: "discovery membership", mutate: func(c *Config) { c.Executor.Membership = MembershipDiscovery }},
		{name: "unknown membership",
			mutate: func(c *Config) { c.Executor.Membership = "gossip" },
			expErr: ErrInvalid,
		},
		{name: "unknown hash",
			mutate: func(c *Config) { c.Executor.Ring.Hash = "md5" },
			expErr: ErrInvalid,
		},
		{name: "zero replicas",
			mutate: func(c *Config) { c.Executor.Ring.Replicas = 0 },
			expErr: ErrInvalid,
		},
		{name: "guard intervals inverted",
			mutate: func(c *Config) { c.Executor.Guard.InitialInterval = time.Second },
			expErr: ErrInvalid,
		},
		{name: "custody intervals inverted",
			mutate: func(c *Config) { c.Executor.Custody.InitialInterval = time.Minute },
			expErr: ErrInvalid,
		},
		{name: "no endpoints",
			mutate: func(c *Config) { c.Discovery.Endpoints = nil },
			expErr: ErrInvalid,
		},
		{name: "blank endpoint",
			mutate: func(c *Config) { c.Discovery.Endpoints = []string{"http://a:2379", " "} },
			expErr: ErrInvalid,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			c.Seed = 1
			tc.mutate(c)
			jtest.Assert(t, tc.expErr, c.Validate())
		})
	}
}

func TestLoadWithoutSeedFails(t *testing.T) {
	_, err := Load("")
	jtest.Assert(t, ErrInvalid, err)
}

func TestEnginesShareSeed(t *testing.T) {
	t.Setenv("NEUROMANCER_SEED", "2020")
	c, err := Load("")
	jtest.RequireNil(t, err)

	// The executor and the librarian build their engines from the same
	// configuration, so the librarian accepts the executor's remap.
	lib := librarian.New("lib-a:7001", c.Engine(), librarian.Options{})

	req := &wire.RemapRequest{UUID: "0b0c7c48-63cb-4a0f-8b51-6f8f2ad2e4a1", To: "lib-a:7001"}
	jtest.RequireNil(t, wire.Sign(c.Engine(), req))

	_, err = lib.Remap(context.Background(), req)
	jtest.RequireNil(t, err)
}

func TestOptions(t *testing.T) {
	c := Default()
	c.Executor.Ring.Replicas = 4

	opts, err := c.Executor.RingOptions()
	jtest.RequireNil(t, err)
	assert.Len(t, opts, 2)

	co := c.Executor.CustodyOptions(nil)
	assert.Equal(t, c.Executor.Custody.Workers, co.Workers)
	assert.Equal(t, c.Executor.Custody.MaxInterval, co.MaxInterval)

	do := c.Discovery.Options(nil)
	assert.Equal(t, "neuromancer", do.Prefix)
	assert.Equal(t, time.Minute, do.Refresh)
}
