// Package config holds the run configuration of the pipeline and the metric
// groups it renders.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// MetricGroup is a named set of conditions rendered together in one dms-viz configuration.
type MetricGroup struct {
	ID         string   `yaml:"id"`
	Name       string   `yaml:"name"`
	Conditions []string `yaml:"conditions"`
}

// DefaultMetricGroups are the groups rendered for the CGG binding / expression tables, in order.
var DefaultMetricGroups = []MetricGroup{
	{ID: "binding", Name: "Binding", Conditions: []string{"bind_CGG"}},
	{ID: "expression", Name: "Expression", Conditions: []string{"expr"}},
	{ID: "metric", Name: "Binding/Expression", Conditions: []string{"bind_CGG", "expr"}},
	{ID: "delta", Name: "Binding/Expression: Delta Change Relative to Wildtype", Conditions: []string{"delta_bind_CGG", "delta_expr"}},
	{ID: "n_bc", Name: "Binding/Expression: Number of Barcodes", Conditions: []string{"n_bc_bind_CGG", "n_bc_expr"}},
	{ID: "n_libs", Name: "Binding/Expression: Number of Libraries", Conditions: []string{"n_libs_bind_CGG", "n_libs_expr"}},
	{ID: "single_nt", Name: "Binding/Expression: Mutation by Single Nucleotide Change", Conditions: []string{"single_nt"}},
}

// Config is the configuration of a pipeline run.
type Config struct {
	// InputDir holds the *.pdb structures and the *.csv measurement table. Required.
	InputDir string
	// MetricFile overrides the measurement table; default is the first *.csv in InputDir.
	MetricFile string
	// TempDir receives every intermediate file and the summary. Default "_temp".
	TempDir string
	// OutputDir, when set, receives dmsviz-jsons/ and metadata/. A local
	// directory or s3://bucket/prefix.
	OutputDir string

	// HeavyChains and LightChains are the chains rendered. Defaults ["H"] and ["L"].
	HeavyChains []string
	LightChains []string

	// MetricGroups are rendered in order for every chain. Default DefaultMetricGroups.
	MetricGroups []MetricGroup
	// Conditions are the condition columns read from the measurement table.
	// Default: every condition named by MetricGroups.
	Conditions []string

	// VariantsPerPosition, when positive, requires every position of the
	// measurement table to have exactly that many rows. 0 disables the check.
	VariantsPerPosition int
	// ExcludeHetero leaves HETATM residues out of residue tables.
	ExcludeHetero bool

	// Tool is the configure-dms-viz command. Default "configure-dms-viz format".
	Tool []string
	// ExtraOptions are appended to every configure-dms-viz invocation.
	ExtraOptions []string
	// Palette is the base color palette. Default dmsviz.DefaultPalette.
	Palette []string

	// Catalog, when set, is a SQLite path or Postgres DSN receiving the summary records.
	Catalog string
	// MetricsFile, when set, receives run metrics in Prometheus text format.
	MetricsFile string

	// S3 settings used when OutputDir is an s3:// URL.
	S3Region    string
	S3Endpoint  string
	S3PathStyle bool
	// Static S3 credentials. Without an access key the AWS default chain is used.
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3SessionToken    string
}

// Default returns a configuration with every default applied.
func Default() Config {
	return Config{
		TempDir:      "_temp",
		HeavyChains:  []string{"H"},
		LightChains:  []string{"L"},
		MetricGroups: append([]MetricGroup(nil), DefaultMetricGroups...),
	}
}

// FocalChains returns the heavy and light chains, each chain once, in order.
func (c Config) FocalChains() []string {
	var out []string
	seen := make(map[string]bool)
	for _, chain := range append(append([]string(nil), c.HeavyChains...), c.LightChains...) {
		if !seen[chain] {
			seen[chain] = true
			out = append(out, chain)
		}
	}
	return out
}

// ConditionColumns returns Conditions, or every condition named by the metric groups in first-seen order.
func (c Config) ConditionColumns() []string {
	if len(c.Conditions) > 0 {
		return c.Conditions
	}
	var out []string
	seen := make(map[string]bool)
	for _, g := range c.MetricGroups {
		for _, cond := range g.Conditions {
			if !seen[cond] {
				seen[cond] = true
				out = append(out, cond)
			}
		}
	}
	return out
}

// Validate checks the configuration for missing or inconsistent values.
func (c Config) Validate() error {
	if c.InputDir == "" {
		return errors.New("input directory is required")
	}
	info, err := os.Stat(c.InputDir)
	if err != nil {
		return fmt.Errorf("input directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("input directory %s is not a directory", c.InputDir)
	}
	if c.TempDir == "" {
		return errors.New("temporary directory is required")
	}
	if len(c.FocalChains()) == 0 {
		return errors.New("at least one chain is required")
	}
	if c.VariantsPerPosition < 0 {
		return fmt.Errorf("variants per position must not be negative, got %d", c.VariantsPerPosition)
	}
	return ValidateGroups(c.MetricGroups)
}

// ValidateGroups checks that groups are non-empty, have unique ids and list conditions.
func ValidateGroups(groups []MetricGroup) error {
	if len(groups) == 0 {
		return errors.New("no metric groups")
	}
	seen := make(map[string]bool)
	for i, g := range groups {
		if strings.TrimSpace(g.ID) == "" {
			return fmt.Errorf("metric group %d: empty id", i+1)
		}
		if strings.ContainsAny(g.ID, `/\.`) {
			return fmt.Errorf("metric group %s: id must not contain path separators or dots", g.ID)
		}
		if seen[g.ID] {
			return fmt.Errorf("metric group %s: duplicate id", g.ID)
		}
		seen[g.ID] = true
		if len(g.Conditions) == 0 {
			return fmt.Errorf("metric group %s: no conditions", g.ID)
		}
	}
	return nil
}

// LoadMetricGroups reads an ordered list of metric groups from a YAML file.
// Groups without a name are named after their id.
func LoadMetricGroups(path string) ([]MetricGroup, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metric groups: %w", err)
	}

	var groups []MetricGroup
	if err := yaml.Unmarshal(raw, &groups); err != nil {
		return nil, fmt.Errorf("parse metric groups %s: %w", path, err)
	}
	for i := range groups {
		if groups[i].Name == "" {
			groups[i].Name = groups[i].ID
		}
	}
	if err := ValidateGroups(groups); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return groups, nil
}

// Environment variables read by ApplyEnv.
const (
	EnvTool        = "GCREPLAY_TOOL"
	EnvTempDir     = "GCREPLAY_TEMP_DIR"
	EnvCatalog     = "GCREPLAY_CATALOG"
	EnvS3Region    = "GCREPLAY_S3_REGION"
	EnvS3Endpoint  = "GCREPLAY_S3_ENDPOINT"
	EnvS3PathStyle = "GCREPLAY_S3_PATH_STYLE"

	EnvAWSAccessKeyID     = "AWS_ACCESS_KEY_ID"
	EnvAWSSecretAccessKey = "AWS_SECRET_ACCESS_KEY"
	EnvAWSSessionToken    = "AWS_SESSION_TOKEN"
)

// LoadEnv loads variables from the given .env files, or ./.env when none is
// given, without overriding variables already set. Missing files are ignored.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv fills c from GCREPLAY_* and AWS credential environment variables.
// Flags parsed later take precedence.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvTool); v != "" {
		c.Tool = strings.Fields(v)
	}
	if v := os.Getenv(EnvTempDir); v != "" {
		c.TempDir = v
	}
	if v := os.Getenv(EnvCatalog); v != "" {
		c.Catalog = v
	}
	if v := os.Getenv(EnvS3Region); v != "" {
		c.S3Region = v
	}
	if v := os.Getenv(EnvS3Endpoint); v != "" {
		c.S3Endpoint = v
	}
	c.S3PathStyle = c.S3PathStyle || strings.EqualFold(os.Getenv(EnvS3PathStyle), "true")

	if v := os.Getenv(EnvAWSAccessKeyID); v != "" {
		c.S3AccessKeyID = v
		c.S3SecretAccessKey = os.Getenv(EnvAWSSecretAccessKey)
		c.S3SessionToken = os.Getenv(EnvAWSSessionToken)
	}
}
