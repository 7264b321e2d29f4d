package config

import (
	"flag"
	"strings"
)

// Flag names. They live in the "trace." namespace so they can be registered on a
// test binary's flag.CommandLine next to the -test.* flags.
const (
	FlagDisable           = "trace.disable"
	FlagCollector         = "trace.collector"
	FlagCollectorProtocol = "trace.collector-protocol"
	FlagCollectorPort     = "trace.collector-port"
	FlagCollectorPath     = "trace.collector-path"
	FlagTag               = "trace.tag"
	FlagFile              = "trace.file"
	FlagService           = "trace.service"
	FlagConfig            = "trace.config"
	FlagLogLevel          = "trace.log-level"
)

// stringList is a repeatable string flag
type stringList []string

func (s *stringList) String() string {
	if s == nil {
		return ""
	}
	return strings.Join(*s, ",")
}

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// Flags holds the values of the tracing flags registered on a flag set
type Flags struct {
	fs         *flag.FlagSet
	values     Config
	tags       stringList
	configFile string
}

// RegisterFlags registers the tracing flags on fs
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	def := Default()

	fs.BoolVar(&f.values.DisableTracing, FlagDisable, false, "If set, no trace of the test run is exported.")
	fs.StringVar(&f.values.CollectorEndpoint, FlagCollector, "", "Address of the trace collector to export to. Empty writes to the local trace file.")
	fs.StringVar(&f.values.CollectorProtocol, FlagCollectorProtocol, def.CollectorProtocol, "Collector protocol: zipkin or otlp.")
	fs.IntVar(&f.values.CollectorPort, FlagCollectorPort, 0, "Collector port used when the address has none (default 9411 for zipkin, 4317 for otlp).")
	fs.StringVar(&f.values.CollectorPath, FlagCollectorPath, def.CollectorPath, "Zipkin ingestion path.")
	fs.Var(&f.tags, FlagTag, "Tag to append to test spans as key=value. Repeatable.")
	fs.StringVar(&f.values.TraceFile, FlagFile, def.TraceFile, "Local file spans are appended to.")
	fs.StringVar(&f.values.ServiceName, FlagService, def.ServiceName, "Service name reported to the collector.")
	fs.StringVar(&f.configFile, FlagConfig, "", "YAML file with tracing configuration.")
	fs.StringVar(&f.values.LogLevel, FlagLogLevel, def.LogLevel, "Log level: debug, info, warn or error.")

	return f
}

// Resolve merges defaults, the YAML file, the environment and the flags that were
// explicitly set, in that order of precedence. Must be called after parsing.
func (f *Flags) Resolve() (Config, error) {
	set := make(map[string]bool)
	f.fs.Visit(func(fl *flag.Flag) {
		set[fl.Name] = true
	})
	return f.ResolveWith(func(name string) bool { return set[name] })
}

// ResolveWith is Resolve for flag sets parsed by something else, such as a
// cobra command the flags were added to. isSet reports whether the named flag
// was given on the command line.
func (f *Flags) ResolveWith(isSet func(name string) bool) (Config, error) {
	cfg := Default()
	if f.configFile != "" {
		loaded, err := LoadFile(f.configFile)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	cfg = FromEnv(cfg)

	f.fs.VisitAll(func(fl *flag.Flag) {
		if !isSet(fl.Name) {
			return
		}
		switch fl.Name {
		case FlagDisable:
			cfg.DisableTracing = f.values.DisableTracing
		case FlagCollector:
			cfg.CollectorEndpoint = f.values.CollectorEndpoint
		case FlagCollectorProtocol:
			cfg.CollectorProtocol = f.values.CollectorProtocol
		case FlagCollectorPort:
			cfg.CollectorPort = f.values.CollectorPort
		case FlagCollectorPath:
			cfg.CollectorPath = f.values.CollectorPath
		case FlagTag:
			cfg.Tags = append(cfg.Tags, f.tags...)
		case FlagFile:
			cfg.TraceFile = f.values.TraceFile
		case FlagService:
			cfg.ServiceName = f.values.ServiceName
		case FlagLogLevel:
			cfg.LogLevel = f.values.LogLevel
		}
	})

	return cfg, cfg.Validate()
}
