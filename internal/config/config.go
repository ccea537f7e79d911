// Package config loads the daemon's YAML configuration file and applies
// command-line `-D name=value` overrides on top of it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/netflowd/netflowd/internal/flowrecord"
)

// Config is the full on-disk configuration.
type Config struct {
	Listeners []ListenerConfig `yaml:"listeners"`
	Peers     PeerConfig       `yaml:"peers"`
	FlowLog   FlowLogConfig    `yaml:"flow_log"`
	PCAP      PCAPConfig       `yaml:"pcap"`
	Logging   LoggingConfig    `yaml:"logging"`
}

// ListenerConfig names one UDP socket the daemon binds on startup.
type ListenerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// PeerConfig bounds the exporter registry.
type PeerConfig struct {
	// MaxPeers caps the number of distinct exporters tracked at once; 0
	// means unbounded. Exceeding it forces eviction of the
	// least-recently-valid peer.
	MaxPeers int `yaml:"max_peers"`
}

// FlowLogConfig controls the append-only flow log writer.
type FlowLogConfig struct {
	Path string `yaml:"path"`
	// StoreFields lists the sub-records to persist, by name (see
	// fieldNames). An empty list stores everything the decoder
	// populates.
	StoreFields []string `yaml:"store_fields"`
}

// PCAPConfig controls the optional forensic datagram mirror.
type PCAPConfig struct {
	Enabled    bool   `yaml:"enabled"`
	OutputFile string `yaml:"output_file"`
	// MaxSizeMB rotates the capture file once it exceeds this size; 0
	// means never rotate by size.
	MaxSizeMB int `yaml:"max_size_mb"`
	// MaxBackups caps how many rotated backups are kept; 0 means keep
	// none (the rotated-out file is simply overwritten next rotation).
	MaxBackups int `yaml:"max_backups"`
}

// LoggingConfig controls the daemon's structured logger.
type LoggingConfig struct {
	Level         string `yaml:"level"`
	ConsoleOutput bool   `yaml:"console_output"`
	ConsoleLevel  string `yaml:"console_level"`
	ConsoleFormat string `yaml:"console_format"`
	FilePath      string `yaml:"file_path"`
	FileLevel     string `yaml:"file_level"`
}

var fieldNames = map[string]flowrecord.Mask{
	"recv_time":    flowrecord.FieldRecvTime,
	"proto_flags":  flowrecord.FieldProtoFlagsToS,
	"agent_addr":   flowrecord.FieldAgentAddr,
	"src_addr":     flowrecord.FieldSrcAddr,
	"dst_addr":     flowrecord.FieldDstAddr,
	"gateway_addr": flowrecord.FieldGatewayAddr,
	"ports":        flowrecord.FieldPorts,
	"packets":      flowrecord.FieldPackets,
	"octets":       flowrecord.FieldOctets,
	"interfaces":   flowrecord.FieldInterfaces,
	"agent_info":   flowrecord.FieldAgentInfo,
	"flow_times":   flowrecord.FieldFlowTimes,
	"as_info":      flowrecord.FieldASInfo,
	"flow_engine":  flowrecord.FieldFlowEngine,
	"tag":          flowrecord.FieldTag,
}

// StoreMask resolves FlowLog.StoreFields into a flowrecord.Mask. An empty
// list resolves to the all-fields mask.
func (c *Config) StoreMask() (flowrecord.Mask, error) {
	if len(c.FlowLog.StoreFields) == 0 {
		var all flowrecord.Mask
		for _, bit := range fieldNames {
			all |= bit
		}
		return all, nil
	}
	var mask flowrecord.Mask
	for _, name := range c.FlowLog.StoreFields {
		bit, ok := fieldNames[name]
		if !ok {
			return 0, fmt.Errorf("config: unknown store_fields entry %q", name)
		}
		mask |= bit
	}
	return mask, nil
}

// Load reads path, parses it as YAML, applies defaults, then applies
// overrides in order (each of the form "name=value", as collected from
// repeated -D flags on the command line).
func Load(path string, overrides []string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyDefaults(&cfg)

	for _, o := range overrides {
		if err := applyOverride(&cfg, o); err != nil {
			return nil, fmt.Errorf("config: override %q: %w", o, err)
		}
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.FlowLog.Path == "" {
		cfg.FlowLog.Path = "/var/log/netflowd/flows.log"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// applyOverride implements the subset of dotted-path assignment the
// daemon's -D flag supports: logging.level=debug, pcap.enabled=true,
// peers.max_peers=5000, flow_log.path=/tmp/flows.log. It deliberately
// does not implement a general macro language — only a flat set of
// named knobs a reader can enumerate by reading this function.
func applyOverride(cfg *Config, assignment string) error {
	name, value, ok := strings.Cut(assignment, "=")
	if !ok {
		return fmt.Errorf("expected name=value")
	}
	switch name {
	case "logging.level":
		cfg.Logging.Level = value
	case "logging.console_output":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		cfg.Logging.ConsoleOutput = b
	case "logging.file_path":
		cfg.Logging.FilePath = value
	case "pcap.enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		cfg.PCAP.Enabled = b
	case "pcap.output_file":
		cfg.PCAP.OutputFile = value
	case "pcap.max_size_mb":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.PCAP.MaxSizeMB = n
	case "pcap.max_backups":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.PCAP.MaxBackups = n
	case "peers.max_peers":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Peers.MaxPeers = n
	case "flow_log.path":
		cfg.FlowLog.Path = value
	default:
		return fmt.Errorf("unknown configuration key %q", name)
	}
	return nil
}
