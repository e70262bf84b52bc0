package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"natprobe/internal/stunutil"
)

const (
	ModeCommunication = "communication"
	ModeNATTraversal  = "nat-traversal"

	RoleInitiator = "initiator"
	RoleResponder = "responder"

	DHTModeClient = "client"
	DHTModeServer = "server"
	DHTModeAuto   = "auto"
)

const (
	DefaultMaxAttempts       = 10
	DefaultBootstrapInterval = 10 * time.Second
	DefaultRefreshInterval   = 60 * time.Second
	DefaultDiscoveryTimeout  = 5 * time.Second
	DefaultListenAddr        = "/ip4/0.0.0.0/tcp/0"
	DefaultRegistryPath      = "BOOTSTRAPS.json"
	DefaultReportPath        = "NAT_TRAVERSAL_TEST_REPORT.txt"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
)

// DefaultBootstrapPeers is the seed list used when none is configured.
// Entries without a /p2p component are kept for reporting but cannot be dialed.
var DefaultBootstrapPeers = []string{
	"/ip4/34.197.35.250/tcp/6880",
	"/ip4/72.46.58.63/tcp/51413",
	"/ip4/46.53.251.68/tcp/16970",
	"/ip4/191.95.16.229/tcp/55998",
	"/ip4/79.173.94.111/tcp/1438",
	"/ip4/45.233.86.50/tcp/61995",
	"/ip4/178.162.174.28/tcp/28013",
	"/ip4/178.162.174.240/tcp/28006",
	"/ip4/72.21.17.101/tcp/22643",
	"/ip4/31.181.42.46/tcp/22566",
	"/ip4/67.213.106.46/tcp/61956",
	"/ip4/201.131.172.249/tcp/53567",
	"/ip4/185.203.152.184/tcp/2003",
	"/ip4/68.146.23.207/tcp/42107",
	"/ip4/51.195.222.183/tcp/8653",
	"/ip4/85.17.170.48/tcp/28005",
	"/ip4/87.98.162.88/tcp/6881",
	"/ip4/185.145.245.121/tcp/8656",
	"/ip4/52.201.45.189/tcp/6880",
	"/dnsaddr/bootstrap.libp2p.io/p2p/QmNnooDu7bfjPFoTZYxMNLWUQJyrVwtbZg5gBMjTezGAJN",
	"/dnsaddr/bootstrap.libp2p.io/p2p/QmQCU2EcMqAqQPR2i9bChDtGNJchTbq5TbXJJ16u19uLTa",
	"/dnsaddr/bootstrap.libp2p.io/p2p/QmbLHAnMoJPWSCR5Zhtx6BHJX9KiKNN6tpvbUcqanj75Nb",
	"/dnsaddr/bootstrap.libp2p.io/p2p/QmcZf59bWwK5XFi76CZX8cbJ4BhTzzA3gU1ZjYZcYW3dwt",
	"/ip4/104.131.131.82/tcp/4001/p2p/QmaCpDMGvV2BGHeYERUEnRQAwe3N8SzbUtfsmPYiLMwpSM",
	"/ip4/104.236.179.241/tcp/4001/p2p/QmSoLPppuBtQSGwKDZT2M73ULpjvfd3aZ6ha4oFGL1KrGM",
	"/ip4/128.199.219.111/tcp/4001/p2p/QmSoLSafTMBsPKadTEgaXctDQVcqN88CNLHXMkTNwMKPnu",
	"/ip4/104.236.76.40/tcp/4001/p2p/QmSoLV4Bbm51jM9C4gDYZQ9Cy3U6aXMJDAbzgu2fzaDs64",
}

// Config holds the settings of one test session.
type Config struct {
	Mode              string          `yaml:"mode"`
	Role              string          `yaml:"role"`
	MaxRuntime        *time.Duration  `yaml:"max_runtime"`
	MaxAttempts       int             `yaml:"max_attempts"`
	BootstrapInterval time.Duration   `yaml:"bootstrap_interval"`
	RefreshInterval   time.Duration   `yaml:"refresh_interval"`
	SweepInterval     time.Duration   `yaml:"sweep_interval"`
	BootstrapPeers    []string        `yaml:"bootstrap_peers"`
	ListenAddrs       []string        `yaml:"listen_addrs"`
	DHTMode           string          `yaml:"dht_mode"`
	Rendezvous        string          `yaml:"rendezvous,omitempty"`
	Discovery         DiscoveryConfig `yaml:"discovery"`
	RegistryPath      string          `yaml:"registry_path"`
	ReportPath        string          `yaml:"report_path"`
	ReportJSONPath    string          `yaml:"report_json_path,omitempty"`
	MetricsPath       string          `yaml:"metrics_path,omitempty"`
	StatusListen      string          `yaml:"status_listen,omitempty"`
	Log               LogConfig       `yaml:"log"`
}

// DiscoveryConfig controls the STUN reachability check run on every sweep.
type DiscoveryConfig struct {
	Servers              []string       `yaml:"servers"`
	Timeout              *time.Duration `yaml:"timeout"`
	MarksSuccess         *bool          `yaml:"marks_success,omitempty"`
	FailureCountsAttempt *bool          `yaml:"failure_counts_attempt,omitempty"`
}

// Duration returns a pointer to d for the optional duration fields, where
// nil means unset and an explicit zero is kept.
func Duration(d time.Duration) *time.Duration {
	return &d
}

// Runtime is the effective max_runtime. Zero ends a session on its first
// iteration.
func (c Config) Runtime() time.Duration {
	return deref(c.MaxRuntime)
}

// QueryTimeout is the per-query discovery timeout. Zero leaves the query
// bounded only by its context.
func (d DiscoveryConfig) QueryTimeout() time.Duration {
	return deref(d.Timeout)
}

func deref(d *time.Duration) time.Duration {
	if d == nil {
		return 0
	}
	return *d
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file,omitempty"`
}

// Load reads and parses a YAML config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}

	ApplyDefaults(&cfg)
	return cfg, nil
}

// Save writes a YAML config file to disk.
func Save(path string, cfg Config) error {
	ApplyDefaults(&cfg)
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks values ApplyDefaults cannot repair.
func Validate(cfg Config) error {
	switch cfg.Mode {
	case ModeCommunication, ModeNATTraversal:
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", ModeCommunication, ModeNATTraversal, cfg.Mode)
	}
	switch cfg.Role {
	case RoleInitiator, RoleResponder:
	default:
		return fmt.Errorf("role must be %q or %q, got %q", RoleInitiator, RoleResponder, cfg.Role)
	}
	switch cfg.DHTMode {
	case DHTModeClient, DHTModeServer, DHTModeAuto:
	default:
		return fmt.Errorf("dht_mode must be client, server or auto, got %q", cfg.DHTMode)
	}
	if cfg.MaxRuntime == nil || *cfg.MaxRuntime < 0 {
		return fmt.Errorf("max_runtime must be >= 0")
	}
	if cfg.Discovery.Timeout != nil && *cfg.Discovery.Timeout < 0 {
		return fmt.Errorf("discovery.timeout must be >= 0")
	}
	if cfg.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be > 0")
	}
	if cfg.BootstrapInterval <= 0 || cfg.RefreshInterval <= 0 || cfg.SweepInterval <= 0 {
		return fmt.Errorf("timer intervals must be > 0")
	}
	if len(cfg.ListenAddrs) == 0 {
		return fmt.Errorf("listen_addrs is required")
	}
	return nil
}

// ApplyDefaults fills in default values when empty. Mode-dependent values
// follow the selected mode, which itself defaults to communication. The
// pointer fields are defaulted only when nil, so explicit zeros survive.
func ApplyDefaults(cfg *Config) {
	if cfg.Mode == "" {
		cfg.Mode = ModeCommunication
	}
	nat := cfg.Mode == ModeNATTraversal

	if cfg.Role == "" {
		cfg.Role = RoleResponder
	}
	if cfg.MaxRuntime == nil {
		if nat {
			cfg.MaxRuntime = Duration(5 * time.Minute)
		} else {
			cfg.MaxRuntime = Duration(30 * time.Minute)
		}
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BootstrapInterval == 0 {
		cfg.BootstrapInterval = DefaultBootstrapInterval
	}
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.SweepInterval == 0 {
		if nat {
			cfg.SweepInterval = 30 * time.Second
		} else {
			cfg.SweepInterval = 60 * time.Second
		}
	}
	if cfg.BootstrapPeers == nil {
		cfg.BootstrapPeers = append([]string(nil), DefaultBootstrapPeers...)
	}
	if len(cfg.ListenAddrs) == 0 {
		cfg.ListenAddrs = []string{DefaultListenAddr}
	}
	if cfg.DHTMode == "" {
		if nat {
			cfg.DHTMode = DHTModeClient
		} else {
			cfg.DHTMode = DHTModeServer
		}
	}

	if len(cfg.Discovery.Servers) == 0 {
		cfg.Discovery.Servers = append([]string(nil), stunutil.DefaultServers...)
	}
	if cfg.Discovery.Timeout == nil {
		cfg.Discovery.Timeout = Duration(DefaultDiscoveryTimeout)
	}
	if cfg.Discovery.MarksSuccess == nil {
		v := !nat
		cfg.Discovery.MarksSuccess = &v
	}
	if cfg.Discovery.FailureCountsAttempt == nil {
		v := !nat
		cfg.Discovery.FailureCountsAttempt = &v
	}

	if cfg.RegistryPath == "" {
		cfg.RegistryPath = DefaultRegistryPath
	}
	if cfg.ReportPath == "" {
		cfg.ReportPath = DefaultReportPath
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}
