package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/tikz/gcreplay/config"
	"github.com/tikz/gcreplay/dmsviz"
)

// Options holds the run configuration and the logging flags.
type Options struct {
	Config    config.Config
	LogLevel  string
	LogFormat string
}

// newFlagSet returns a FlagSet with ContinueOnError and a usage header.
func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), `%s: prepare dms-viz configurations from structures and DMS measurements

Usage of %s:
`, name, name)
		fs.PrintDefaults()
	}
	return fs
}

// ParseArgs registers and parses all flags on top of base, which carries the
// defaults and the environment.
func ParseArgs(fs *flag.FlagSet, argv []string, base config.Config) (Options, error) {
	opt := Options{Config: base}
	cfg := &opt.Config
	var help bool

	// Input / output
	fs.StringVar(&cfg.InputDir, "input-dir", cfg.InputDir, "input directory with *.pdb structures and a *.csv measurement table [*]")
	fs.StringVar(&cfg.OutputDir, "output-dir", cfg.OutputDir, "output directory or s3://bucket/prefix for dmsviz-jsons/ and metadata/")
	fs.StringVar(&cfg.TempDir, "temp-dir", cfg.TempDir, "directory for intermediate files and the summary")
	fs.StringVar(&cfg.MetricFile, "metric-file", cfg.MetricFile, "measurement table (default: first *.csv in --input-dir)")

	// Chains
	heavy := fs.String("chain-id", strings.Join(cfg.HeavyChains, ","), "heavy chain ids, comma separated")
	light := fs.String("light-chain-id", strings.Join(cfg.LightChains, ","), "light chain ids, comma separated")
	fs.BoolVar(&cfg.ExcludeHetero, "exclude-hetero", cfg.ExcludeHetero, "leave HETATM residues out of site maps")

	// Metrics
	groupsFile := fs.String("metric-groups", "", "YAML file with the metric groups (default: built-in binding/expression groups)")
	colors := fs.String("colors", strings.Join(cfg.Palette, ","), "base color palette, comma separated #RRGGBB")
	fs.IntVar(&cfg.VariantsPerPosition, "variants-per-position", cfg.VariantsPerPosition, "required rows per position in the measurement table (0 = not checked)")

	// configure-dms-viz
	defaultTool := strings.Join(cfg.Tool, " ")
	if defaultTool == "" {
		defaultTool = strings.Join(dmsviz.DefaultProgram, " ")
	}
	tool := fs.String("tool", defaultTool, "configure-dms-viz command")
	extra := fs.String("extra-options", strings.Join(cfg.ExtraOptions, " "), "extra options passed to every configure-dms-viz run")

	// Bookkeeping
	fs.StringVar(&cfg.Catalog, "catalog", cfg.Catalog, "SQLite path or postgres:// DSN receiving the summary records")
	fs.StringVar(&cfg.MetricsFile, "metrics-file", cfg.MetricsFile, "write run metrics in Prometheus text format to this file")

	// Logging
	fs.StringVar(&opt.LogLevel, "log-level", "info", "log level: debug | info | warn | error")
	fs.StringVar(&opt.LogFormat, "log-format", "text", "log format: text | json | logfmt")
	fs.BoolVar(&help, "h", false, "show this help message")

	if err := fs.Parse(argv); err != nil {
		return opt, err
	}
	if help {
		fs.Usage()
		return opt, flag.ErrHelp
	}
	if fs.NArg() > 0 {
		return opt, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	cfg.HeavyChains = splitList(*heavy)
	cfg.LightChains = splitList(*light)
	cfg.Tool = strings.Fields(*tool)
	cfg.ExtraOptions = strings.Fields(*extra)

	cfg.Palette = nil
	for _, c := range splitList(*colors) {
		color, err := dmsviz.ParseColor(c)
		if err != nil {
			return opt, err
		}
		cfg.Palette = append(cfg.Palette, color)
	}

	if *groupsFile != "" {
		groups, err := config.LoadMetricGroups(*groupsFile)
		if err != nil {
			return opt, err
		}
		cfg.MetricGroups = groups
	}

	if _, err := log.ParseLevel(opt.LogLevel); err != nil {
		return opt, fmt.Errorf("invalid --log-level %q", opt.LogLevel)
	}
	switch opt.LogFormat {
	case "text", "json", "logfmt":
	default:
		return opt, fmt.Errorf("invalid --log-format %q", opt.LogFormat)
	}

	if cfg.InputDir == "" {
		return opt, errors.New("--input-dir is required")
	}
	return opt, cfg.Validate()
}

// NewLogger returns a logger writing to w with the level and format of opt.
func NewLogger(w io.Writer, opt Options) *log.Logger {
	logger := log.NewWithOptions(w, log.Options{ReportTimestamp: true})
	if level, err := log.ParseLevel(opt.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	switch opt.LogFormat {
	case "json":
		logger.SetFormatter(log.JSONFormatter)
	case "logfmt":
		logger.SetFormatter(log.LogfmtFormatter)
	default:
		logger.SetFormatter(log.TextFormatter)
	}
	return logger
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
