package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Host paths used when no override is set.
const (
	DefaultSystemStateDir = "/etc/lxc-compose"
	DefaultSharedHosts    = "/srv/lxc-compose/etc/hosts"
	DefaultSystemHosts    = "/etc/hosts"
	DefaultLibrary        = "/srv/lxc-compose/library"
	DefaultSubnet         = "10.0.3.0/24"
	DefaultRuntime        = "lxc"
	StateFileName         = "container-ips.json"
	LockFileName          = "lxc-compose.lock"
)

// Settings holds host-level configuration for a CLI run.
type Settings struct {
	StateDir    string // Directory holding container-ips.json and the lock file
	SharedHosts string // Hosts file bind-mounted into every container
	SystemHosts string // Host /etc/hosts with a managed section; empty disables
	Library     string // Spec store location: directory, https:// or s3:// URL
	Subnet      string // Address pool for container IPs
	Runtime     string // Runtime CLI binary (lxc or incus)
	LogLevel    string
	MetricsFile string // Prometheus textfile output; empty disables

	Timeouts Timeouts
	Packages PackageRetry
	S3       S3Settings
}

// Timeouts bounds the blocking waits of a reconcile.
type Timeouts struct {
	Start   time.Duration // Waiting for a container to reach Running
	Network time.Duration // Waiting for the container to obtain its address
	Exec    time.Duration // A single in-container command
}

// PackageRetry configures the package installer's retry policy.
type PackageRetry struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	DNSWait    time.Duration
}

// S3Settings configures access to an s3:// spec store.
type S3Settings struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// LoadSettings loads settings from environment variables.
// If an environment variable is not set or invalid, a default value is used.
//
// Environment Variables:
//   - LXC_COMPOSE_STATE_DIR (default: /etc/lxc-compose as root, else $XDG_DATA_HOME/lxc-compose)
//   - LXC_COMPOSE_SHARED_HOSTS (default: /srv/lxc-compose/etc/hosts)
//   - LXC_COMPOSE_SYSTEM_HOSTS (default: /etc/hosts)
//   - LXC_COMPOSE_LIBRARY (default: /srv/lxc-compose/library)
//   - LXC_COMPOSE_SUBNET (default: 10.0.3.0/24)
//   - LXC_COMPOSE_RUNTIME (default: lxc)
//   - LXC_COMPOSE_TIMEOUT_START (default: 2m)
//   - LXC_COMPOSE_TIMEOUT_NETWORK (default: 60s)
//   - LXC_COMPOSE_TIMEOUT_EXEC (default: 10m)
//   - LXC_COMPOSE_PKG_MAX_RETRIES (default: 5)
//   - LXC_COMPOSE_PKG_BASE_DELAY (default: 1s)
//   - LXC_COMPOSE_PKG_MAX_DELAY (default: 16s)
//   - LXC_COMPOSE_PKG_DNS_WAIT (default: 5s)
func LoadSettings() *Settings {
	return &Settings{
		StateDir:    parseString("LXC_COMPOSE_STATE_DIR", DefaultStateDir()),
		SharedHosts: parseString("LXC_COMPOSE_SHARED_HOSTS", DefaultSharedHosts),
		SystemHosts: parseOptional("LXC_COMPOSE_SYSTEM_HOSTS", DefaultSystemHosts),
		Library:     parseString("LXC_COMPOSE_LIBRARY", DefaultLibrary),
		Subnet:      parseString("LXC_COMPOSE_SUBNET", DefaultSubnet),
		Runtime:     parseString("LXC_COMPOSE_RUNTIME", DefaultRuntime),
		LogLevel:    os.Getenv("LXC_COMPOSE_LOG_LEVEL"),
		MetricsFile: os.Getenv("LXC_COMPOSE_METRICS_FILE"),
		Timeouts: Timeouts{
			Start:   parseDuration("LXC_COMPOSE_TIMEOUT_START", 2*time.Minute),
			Network: parseDuration("LXC_COMPOSE_TIMEOUT_NETWORK", 60*time.Second),
			Exec:    parseDuration("LXC_COMPOSE_TIMEOUT_EXEC", 10*time.Minute),
		},
		Packages: PackageRetry{
			MaxRetries: parseInt("LXC_COMPOSE_PKG_MAX_RETRIES", 5),
			BaseDelay:  parseDuration("LXC_COMPOSE_PKG_BASE_DELAY", 1*time.Second),
			MaxDelay:   parseDuration("LXC_COMPOSE_PKG_MAX_DELAY", 16*time.Second),
			DNSWait:    parseDuration("LXC_COMPOSE_PKG_DNS_WAIT", 5*time.Second),
		},
		S3: S3Settings{
			Endpoint:  os.Getenv("LXC_COMPOSE_S3_ENDPOINT"),
			Region:    parseString("LXC_COMPOSE_S3_REGION", "us-east-1"),
			AccessKey: os.Getenv("LXC_COMPOSE_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("LXC_COMPOSE_S3_SECRET_KEY"),
		},
	}
}

// Validate checks values that cannot fall back to a default silently.
func (s *Settings) Validate() error {
	if _, _, err := net.ParseCIDR(s.Subnet); err != nil {
		return fmt.Errorf("invalid subnet %q: %w", s.Subnet, err)
	}
	switch s.Runtime {
	case "lxc", "incus":
	default:
		return fmt.Errorf("unsupported runtime %q (expected lxc or incus)", s.Runtime)
	}
	if s.StateDir == "" {
		return fmt.Errorf("state directory is required")
	}
	if s.SharedHosts == "" {
		return fmt.Errorf("shared hosts file path is required")
	}
	return nil
}

// StatePath is the location of the IP allocation record.
func (s *Settings) StatePath() string {
	return filepath.Join(s.StateDir, StateFileName)
}

// LockPath is the location of the process-wide lock file.
func (s *Settings) LockPath() string {
	return filepath.Join(s.StateDir, LockFileName)
}

// DefaultStateDir returns /etc/lxc-compose for root and a per-user data
// directory otherwise.
func DefaultStateDir() string {
	if os.Geteuid() == 0 {
		return DefaultSystemStateDir
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "lxc-compose")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "lxc-compose")
	}
	return DefaultSystemStateDir
}

func parseString(envVar, defaultVal string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return defaultVal
}

// parseOptional distinguishes unset (default) from set-but-empty (disabled).
func parseOptional(envVar, defaultVal string) string {
	if val, ok := os.LookupEnv(envVar); ok {
		return val
	}
	return defaultVal
}

// parseDuration parses a duration from an environment variable.
// If the variable is not set or parsing fails, the default value is returned.
func parseDuration(envVar string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}

	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}

	return d
}

// parseInt parses an integer from an environment variable.
// If the variable is not set or parsing fails, the default value is returned.
func parseInt(envVar string, defaultVal int) int {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}

	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}

	return i
}
