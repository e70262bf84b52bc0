package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDefaults_ByMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		mode         string
		maxRuntime   time.Duration
		sweep        time.Duration
		dhtMode      string
		marksSuccess bool
	}{
		{name: "communication", mode: "", maxRuntime: 30 * time.Minute, sweep: 60 * time.Second, dhtMode: DHTModeServer, marksSuccess: true},
		{name: "nat traversal", mode: ModeNATTraversal, maxRuntime: 5 * time.Minute, sweep: 30 * time.Second, dhtMode: DHTModeClient, marksSuccess: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Mode: tt.mode}
			ApplyDefaults(&cfg)

			assert.Equal(t, tt.maxRuntime, cfg.Runtime())
			assert.Equal(t, tt.sweep, cfg.SweepInterval)
			assert.Equal(t, tt.dhtMode, cfg.DHTMode)
			require.NotNil(t, cfg.Discovery.MarksSuccess)
			assert.Equal(t, tt.marksSuccess, *cfg.Discovery.MarksSuccess)
			assert.Equal(t, DefaultMaxAttempts, cfg.MaxAttempts)
			assert.Equal(t, DefaultBootstrapInterval, cfg.BootstrapInterval)
			assert.Equal(t, DefaultRefreshInterval, cfg.RefreshInterval)
			assert.NotEmpty(t, cfg.BootstrapPeers)
			assert.NotEmpty(t, cfg.Discovery.Servers)
			assert.NoError(t, Validate(cfg))
		})
	}
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	t.Parallel()

	off := false
	cfg := Config{
		Mode:           ModeCommunication,
		MaxAttempts:    3,
		BootstrapPeers: []string{},
		Discovery:      DiscoveryConfig{MarksSuccess: &off},
	}
	ApplyDefaults(&cfg)

	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Empty(t, cfg.BootstrapPeers)
	assert.False(t, *cfg.Discovery.MarksSuccess)
	assert.True(t, *cfg.Discovery.FailureCountsAttempt)
}

func TestValidate_RejectsUnknownValues(t *testing.T) {
	t.Parallel()

	cfg := Config{}
	ApplyDefaults(&cfg)
	require.NoError(t, Validate(cfg))

	bad := cfg
	bad.Role = "observer"
	assert.Error(t, Validate(bad))

	bad = cfg
	bad.Mode = "benchmark"
	assert.Error(t, Validate(bad))

	bad = cfg
	bad.DHTMode = "peer"
	assert.Error(t, Validate(bad))

	bad = cfg
	bad.MaxRuntime = Duration(-time.Second)
	assert.Error(t, Validate(bad))

	bad = cfg
	bad.Discovery.Timeout = Duration(-time.Second)
	assert.Error(t, Validate(bad))

	bad = cfg
	bad.MaxRuntime = nil
	assert.Error(t, Validate(bad), "max_runtime must be defaulted first")
}

func TestLoad_ParsesDurations(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "natprobe.yaml")
	doc := []byte(`mode: nat-traversal
role: initiator
max_runtime: 90s
sweep_interval: 15s
rendezvous: room-42
discovery:
  servers: ["127.0.0.1:3478"]
  timeout: 250ms
`)
	require.NoError(t, os.WriteFile(path, doc, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, RoleInitiator, cfg.Role)
	assert.Equal(t, 90*time.Second, cfg.Runtime())
	assert.Equal(t, 15*time.Second, cfg.SweepInterval)
	assert.Equal(t, 250*time.Millisecond, cfg.Discovery.QueryTimeout())
	assert.Equal(t, []string{"127.0.0.1:3478"}, cfg.Discovery.Servers)
	assert.Equal(t, "room-42", cfg.Rendezvous)
}

func TestSave_Writes0600(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "conf", "natprobe.yaml")
	require.NoError(t, Save(path, Config{Mode: ModeNATTraversal}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ModeNATTraversal, cfg.Mode)
	assert.Equal(t, 5*time.Minute, cfg.Runtime())
}

func TestLoad_KeepsExplicitZeroDurations(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "natprobe.yaml")
	doc := []byte(`mode: nat-traversal
max_runtime: 0s
discovery:
  timeout: 0s
`)
	require.NoError(t, os.WriteFile(path, doc, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.MaxRuntime)
	assert.Equal(t, time.Duration(0), cfg.Runtime())
	require.NotNil(t, cfg.Discovery.Timeout)
	assert.Equal(t, time.Duration(0), cfg.Discovery.QueryTimeout())
	assert.NoError(t, Validate(cfg))

	// Omitted keys still take the mode defaults.
	require.NoError(t, os.WriteFile(path, []byte("mode: nat-traversal\n"), 0o600))
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.Runtime())
	assert.Equal(t, DefaultDiscoveryTimeout, cfg.Discovery.QueryTimeout())
}

func TestSave_RoundTripsExplicitZero(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "natprobe.yaml")
	require.NoError(t, Save(path, Config{Mode: ModeNATTraversal, MaxRuntime: Duration(0)}))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), cfg.Runtime())
}
