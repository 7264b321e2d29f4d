package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Collector protocols
const (
	ProtocolZipkin = "zipkin"
	ProtocolOTLP   = "otlp"
)

// Defaults
const (
	DefaultServiceName = "gotest"
	DefaultTraceFile   = "traces.json"
	DefaultZipkinPort  = 9411
	DefaultZipkinPath  = "/api/v2/spans"
	DefaultOTLPPort    = 4317
	DefaultLogLevel    = "info"
)

var (
	// ErrUnknownProtocol is returned when the collector protocol is not supported
	ErrUnknownProtocol = errors.New("unknown collector protocol")

	// ErrInvalidPort is returned when the collector port is out of range
	ErrInvalidPort = errors.New("collector port out of range")
)

// Config holds the tracing configuration of a test run
type Config struct {
	// DisableTracing turns every span into a no-op for the rest of the process
	DisableTracing bool `yaml:"disable_tracing"`

	// CollectorEndpoint is the collector host (or host:port, or URL). Empty means local file.
	CollectorEndpoint string `yaml:"collector_endpoint"`

	// CollectorProtocol is either "zipkin" or "otlp"
	CollectorProtocol string `yaml:"collector_protocol"`

	// CollectorPort is used when the endpoint carries no port. Zero picks the protocol default.
	CollectorPort int `yaml:"collector_port"`

	// CollectorPath is the ingestion path for the zipkin protocol
	CollectorPath string `yaml:"collector_path"`

	// ServiceName is reported as the service.name resource attribute
	ServiceName string `yaml:"service_name"`

	// TraceFile is the local file spans are appended to when no collector is set
	TraceFile string `yaml:"trace_file"`

	// Tags are key=value tokens applied to every test span
	Tags []string `yaml:"tags"`

	// LogLevel is one of debug, info, warn, error
	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when nothing is set
func Default() Config {
	return Config{
		CollectorProtocol: ProtocolZipkin,
		CollectorPath:     DefaultZipkinPath,
		ServiceName:       DefaultServiceName,
		TraceFile:         DefaultTraceFile,
		LogLevel:          DefaultLogLevel,
	}
}

// LoadFile reads a YAML configuration file on top of the defaults
func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// Environment variables read by FromEnv
const (
	EnvDisable           = "TESTTRACE_DISABLE"
	EnvCollector         = "TESTTRACE_COLLECTOR"
	EnvCollectorProtocol = "TESTTRACE_COLLECTOR_PROTOCOL"
	EnvTags              = "TESTTRACE_TAGS"
	EnvFile              = "TESTTRACE_FILE"
	EnvService           = "TESTTRACE_SERVICE"
	EnvLogLevel          = "TESTTRACE_LOG_LEVEL"
)

// FromEnv overlays environment variables on cfg. Unset variables leave cfg untouched.
// TESTTRACE_TAGS is a comma separated list of key=value tokens.
func FromEnv(cfg Config) Config {
	if v := os.Getenv(EnvDisable); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.DisableTracing = b
		}
	}
	if v := os.Getenv(EnvCollector); v != "" {
		cfg.CollectorEndpoint = v
	}
	if v := os.Getenv(EnvCollectorProtocol); v != "" {
		cfg.CollectorProtocol = v
	}
	if v := os.Getenv(EnvTags); v != "" {
		for _, token := range strings.Split(v, ",") {
			if token = strings.TrimSpace(token); token != "" {
				cfg.Tags = append(cfg.Tags, token)
			}
		}
	}
	if v := os.Getenv(EnvFile); v != "" {
		cfg.TraceFile = v
	}
	if v := os.Getenv(EnvService); v != "" {
		cfg.ServiceName = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	return cfg
}

// Validate checks the collector settings. A disabled configuration is always valid.
func (c Config) Validate() error {
	if c.DisableTracing {
		return nil
	}

	var errs []error
	switch c.protocol() {
	case ProtocolZipkin, ProtocolOTLP:
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownProtocol, c.CollectorProtocol))
	}

	if c.CollectorPort < 0 || c.CollectorPort > 65535 {
		errs = append(errs, fmt.Errorf("%w: %d", ErrInvalidPort, c.CollectorPort))
	}

	return errors.Join(errs...)
}

// UsesCollector reports whether spans are pushed to a remote collector
func (c Config) UsesCollector() bool {
	return c.CollectorEndpoint != ""
}

// Protocol returns the normalized collector protocol
func (c Config) Protocol() string {
	return c.protocol()
}

func (c Config) protocol() string {
	if c.CollectorProtocol == "" {
		return ProtocolZipkin
	}
	return strings.ToLower(c.CollectorProtocol)
}

// CollectorAddress returns host:port for the collector, filling in the protocol default port
func (c Config) CollectorAddress() string {
	endpoint := c.CollectorEndpoint
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		endpoint = u.Host
	}

	if _, _, err := net.SplitHostPort(endpoint); err == nil {
		return endpoint
	}

	port := c.CollectorPort
	if port == 0 {
		port = DefaultZipkinPort
		if c.protocol() == ProtocolOTLP {
			port = DefaultOTLPPort
		}
	}
	return net.JoinHostPort(endpoint, strconv.Itoa(port))
}

// CollectorURL returns the zipkin ingestion URL, for example http://zipkin:9411/api/v2/spans.
// A full URL in CollectorEndpoint is returned as is.
func (c Config) CollectorURL() string {
	if u, err := url.Parse(c.CollectorEndpoint); err == nil && u.Scheme != "" && u.Host != "" {
		if u.Path == "" {
			u.Path = c.collectorPath()
		}
		return u.String()
	}
	return "http://" + c.CollectorAddress() + c.collectorPath()
}

func (c Config) collectorPath() string {
	if c.CollectorPath == "" {
		return DefaultZipkinPath
	}
	if !strings.HasPrefix(c.CollectorPath, "/") {
		return "/" + c.CollectorPath
	}
	return c.CollectorPath
}
