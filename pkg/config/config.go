// Package config loads the daemon configuration from defaults, an optional
// YAML file, SNMPAGENTD_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/psaab/snmpagentd/pkg/acl"
	"github.com/psaab/snmpagentd/pkg/logging"
	"github.com/psaab/snmpagentd/pkg/snmp"
)

// EnvPrefix prefixes every environment override: SNMPAGENTD_LISTEN,
// SNMPAGENTD_METRICS_LISTEN, ...
const EnvPrefix = "SNMPAGENTD"

// minMaxSize is the smallest message every SNMP implementation must accept
// (RFC 3417).
const minMaxSize = 484

// Config is the complete daemon configuration.
type Config struct {
	Listen         string `mapstructure:"listen"`
	Workers        int    `mapstructure:"workers"`
	QueueSize      int    `mapstructure:"queue_size"`
	MaxSize        int    `mapstructure:"max_size"`
	MaxRepetitions int    `mapstructure:"max_repetitions"`

	// ACLFile, when set, replaces snmp.communities and snmp.trap_groups and
	// is reloaded on change.
	ACLFile string `mapstructure:"acl_file"`

	SNMP     SNMPConfig     `mapstructure:"snmp"`
	Agents   AgentsConfig   `mapstructure:"agents"`
	MIBStore MIBStoreConfig `mapstructure:"mibstore"`
	Traps    TrapsConfig    `mapstructure:"traps"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	GRPC     GRPCConfig     `mapstructure:"grpc"`
	Logging  logging.Config `mapstructure:"logging"`
}

// SNMPConfig holds SNMP agent configuration.
type SNMPConfig struct {
	Location    string                    `mapstructure:"location"`
	Contact     string                    `mapstructure:"contact"`
	Description string                    `mapstructure:"description"`
	Name        string                    `mapstructure:"name"`
	ObjectID    string                    `mapstructure:"object_id"`
	Communities map[string]*SNMPCommunity `mapstructure:"communities"`
	TrapGroups  map[string]*SNMPTrapGroup `mapstructure:"trap_groups"`

	// AuthenticationResponse answers rejected requests with an error PDU.
	AuthenticationResponse bool `mapstructure:"authentication_response"`
	// AuthenticationTraps sends authenticationFailure traps.
	AuthenticationTraps bool `mapstructure:"authentication_traps"`
}

// SNMPCommunity defines an SNMP community string.
type SNMPCommunity struct {
	Name          string `mapstructure:"name"`
	Authorization string `mapstructure:"authorization"` // "read-only" or "read-write"
}

// SNMPTrapGroup defines an SNMP trap destination group.
type SNMPTrapGroup struct {
	Name      string   `mapstructure:"name"`
	Community string   `mapstructure:"community"`
	Targets   []string `mapstructure:"targets"` // IP addresses, optional :port
}

// AgentsConfig enables the built-in MIB agents.
type AgentsConfig struct {
	System     bool `mapstructure:"system"`
	Interfaces bool `mapstructure:"interfaces"`
	SNMP       bool `mapstructure:"snmp"`
}

// MIBStoreConfig configures the SQLite-backed writable subtree.
type MIBStoreConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Path        string `mapstructure:"path"`
	Root        string `mapstructure:"root"`
	AllowCreate bool   `mapstructure:"allow_create"`
}

// TrapsConfig limits notification emission.
type TrapsConfig struct {
	Rate    float64       `mapstructure:"rate"` // per second, 0 = unlimited
	Burst   int           `mapstructure:"burst"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// MetricsConfig configures the HTTP endpoint serving Prometheus metrics
// and the management API. Credentials, when any are set, guard the API but
// not /metrics or /health. Viper lowercases map keys, so user names are
// lowercase.
type MetricsConfig struct {
	Listen  string            `mapstructure:"listen"` // empty disables
	Users   map[string]string `mapstructure:"users"`
	APIKeys []string          `mapstructure:"api_keys"`
}

// GRPCConfig configures the gRPC health endpoint.
type GRPCConfig struct {
	Listen string `mapstructure:"listen"` // empty disables
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":161")
	v.SetDefault("workers", 0)
	v.SetDefault("queue_size", 1024)
	v.SetDefault("max_size", 1472)
	v.SetDefault("max_repetitions", 100)
	v.SetDefault("acl_file", "")

	v.SetDefault("snmp.location", "")
	v.SetDefault("snmp.contact", "")
	v.SetDefault("snmp.description", "")
	v.SetDefault("snmp.name", "")
	v.SetDefault("snmp.object_id", "")
	v.SetDefault("snmp.authentication_response", false)
	v.SetDefault("snmp.authentication_traps", true)

	v.SetDefault("agents.system", true)
	v.SetDefault("agents.interfaces", true)
	v.SetDefault("agents.snmp", true)

	v.SetDefault("mibstore.enabled", false)
	v.SetDefault("mibstore.path", "/var/lib/snmpagentd/mib.db")
	v.SetDefault("mibstore.root", "1.3.6.1.4.1.99999.2")
	v.SetDefault("mibstore.allow_create", false)

	v.SetDefault("traps.rate", 1.0)
	v.SetDefault("traps.burst", 5)
	v.SetDefault("traps.timeout", "2s")

	v.SetDefault("metrics.listen", "")
	v.SetDefault("grpc.listen", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file.path", "")
}

// Flags returns the command-line flags understood by Load.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("snmpagentd", pflag.ContinueOnError)
	fs.StringP("config", "c", "", "configuration file (YAML)")
	fs.String("listen", "", "UDP address to serve SNMP on")
	fs.Bool("debug", false, "log at debug level")
	fs.String("metrics-listen", "", "HTTP address for Prometheus metrics and the management API")
	fs.String("grpc-listen", "", "address for the gRPC health service")
	fs.String("acl-file", "", "access control file, reloaded on change")
	return fs
}

// flagKeys maps flags to configuration keys.
var flagKeys = map[string]string{
	"listen":         "listen",
	"metrics-listen": "metrics.listen",
	"grpc-listen":    "grpc.listen",
	"acl-file":       "acl_file",
}

// Load builds the configuration. path may be empty; flags may be nil.
// Only flags set on the command line override the file and environment.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	// SNMPAGENTD_METRICS_LISTEN=:9161
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("config: flag %s: %w", name, err)
				}
			}
		}
		if debug, err := flags.GetBool("debug"); err == nil && debug {
			v.Set("logging.level", "debug")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that cannot be expressed as types.
func (c *Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen is empty"))
	}
	if c.MaxSize != 0 && c.MaxSize < minMaxSize {
		errs = append(errs, fmt.Errorf("max_size %d is below %d", c.MaxSize, minMaxSize))
	}
	if c.MaxRepetitions < 1 {
		errs = append(errs, fmt.Errorf("max_repetitions %d must be positive", c.MaxRepetitions))
	}
	if c.Workers < 0 || c.QueueSize < 0 {
		errs = append(errs, errors.New("workers and queue_size must not be negative"))
	}
	if c.SNMP.ObjectID != "" {
		if _, err := snmp.ParseOID(c.SNMP.ObjectID); err != nil {
			errs = append(errs, fmt.Errorf("snmp.object_id: %w", err))
		}
	}
	for name, comm := range c.SNMP.Communities {
		switch comm.Authorization {
		case "", acl.ReadOnly, acl.ReadWrite:
		default:
			errs = append(errs, fmt.Errorf("snmp.communities.%s: bad authorization %q", name, comm.Authorization))
		}
	}
	if c.MIBStore.Enabled {
		if c.MIBStore.Path == "" {
			errs = append(errs, errors.New("mibstore.path is empty"))
		}
		if _, err := snmp.ParseOID(c.MIBStore.Root); err != nil {
			errs = append(errs, fmt.Errorf("mibstore.root: %w", err))
		}
	}
	if c.Traps.Rate < 0 {
		errs = append(errs, fmt.Errorf("traps.rate %g is negative", c.Traps.Rate))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ACL converts snmp.communities and snmp.trap_groups to an access control
// file. Communities without an authorization are read-only.
func (c *SNMPConfig) ACL() acl.File {
	var f acl.File
	for _, key := range sortedKeys(c.Communities) {
		comm := c.Communities[key]
		name := comm.Name
		if name == "" {
			name = key
		}
		access := comm.Authorization
		if access == "" {
			access = acl.ReadOnly
		}
		f.ACL = append(f.ACL, acl.EntryConfig{Communities: []string{name}, Access: access})
	}
	for _, key := range sortedKeys(c.TrapGroups) {
		g := c.TrapGroups[key]
		community := g.Community
		if community == "" {
			community = "public"
		}
		f.Traps = append(f.Traps, acl.TrapConfig{Community: community, Hosts: g.Targets})
	}
	return f
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
