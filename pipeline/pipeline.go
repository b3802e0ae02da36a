// Package pipeline runs the whole preparation: it reads the structures and the
// measurement table of an input directory, writes one site map per chain and
// one metric table per metric group, and drives configure-dms-viz for each.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/tikz/gcreplay/blob"
	"github.com/tikz/gcreplay/catalog"
	"github.com/tikz/gcreplay/config"
	"github.com/tikz/gcreplay/dmsviz"
	"github.com/tikz/gcreplay/metric"
	"github.com/tikz/gcreplay/pdb"
	"github.com/tikz/gcreplay/sitemap"
	"github.com/tikz/gcreplay/summary"
)

// MetricColumn is the column of the metric tables plotted by dms-viz.
const MetricColumn = "factor"

// Recorder stores summary records outside the temporary directory.
type Recorder interface {
	Record(ctx context.Context, runID string, records []summary.Record) error
}

// Deps are the collaborators of a run. Nil fields are built from the configuration.
type Deps struct {
	Logger   *log.Logger
	Tool     *dmsviz.Tool
	Store    blob.Store
	Recorder Recorder
	// RunID tags catalog rows and log lines. Default: a random UUID.
	RunID string
}

// ErrNoStructures is returned when the input directory holds no *.pdb file.
var ErrNoStructures = errors.New("no structure files found")

// ErrNoMetricFile is returned when no measurement table is found.
var ErrNoMetricFile = errors.New("no measurement table found")

type run struct {
	cfg      config.Config
	log      *log.Logger
	tool     *dmsviz.Tool
	store    blob.Store
	recorder Recorder
	runID    string
	metrics  *runMetrics

	structures []*pdb.PDB
	allChains  []string
	tables     map[string]metric.Long
	sequences  map[string][]string
}

// Run executes the pipeline and returns the summary of every dms-viz
// configuration written. A failed configure-dms-viz invocation is logged and
// skipped; any other error aborts the run.
func Run(ctx context.Context, cfg config.Config, deps Deps) (summary.Table, error) {
	var table summary.Table
	if err := cfg.Validate(); err != nil {
		return table, fmt.Errorf("config: %w", err)
	}

	r := &run{
		cfg:      cfg,
		log:      deps.Logger,
		tool:     deps.Tool,
		store:    deps.Store,
		recorder: deps.Recorder,
		runID:    deps.RunID,
		metrics:  newRunMetrics(),
	}
	if r.log == nil {
		r.log = log.Default()
	}
	if r.runID == "" {
		r.runID = uuid.NewString()
	}
	r.log = r.log.With("run", r.runID)

	if r.tool == nil {
		tool, err := dmsviz.New(cfg.Tool)
		if err != nil {
			return table, err
		}
		tool.Extra = cfg.ExtraOptions
		r.tool = tool
	}
	if r.store == nil && cfg.OutputDir != "" {
		store, err := blob.Open(ctx, cfg.OutputDir, blob.S3Config{
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			PathStyle:       cfg.S3PathStyle,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			SessionToken:    cfg.S3SessionToken,
		})
		if err != nil {
			return table, fmt.Errorf("open output %s: %w", cfg.OutputDir, err)
		}
		r.store = store
	}
	if r.recorder == nil && cfg.Catalog != "" {
		c, err := catalog.Open(ctx, cfg.Catalog)
		if err != nil {
			return table, fmt.Errorf("open catalog: %w", err)
		}
		defer c.Close()
		r.recorder = c
	}

	start := time.Now()
	table, err := r.execute(ctx)
	r.metrics.duration.Set(time.Since(start).Seconds())
	if cfg.MetricsFile != "" {
		if werr := r.metrics.write(cfg.MetricsFile); werr != nil {
			r.log.Warn("cannot write metrics", "path", cfg.MetricsFile, "err", werr)
		}
	}
	return table, err
}

func (r *run) execute(ctx context.Context) (summary.Table, error) {
	var table summary.Table

	if err := os.MkdirAll(r.cfg.TempDir, 0o755); err != nil {
		return table, fmt.Errorf("create temporary directory: %w", err)
	}

	if err := r.loadStructures(); err != nil {
		return table, err
	}
	if err := r.loadMetrics(); err != nil {
		return table, err
	}
	r.reportSequences()

	focal := r.cfg.FocalChains()
	excluded := ExcludedChains(r.allChains, focal)
	for _, structure := range r.structures {
		for _, chain := range focal {
			if !structure.HasChain(chain) {
				continue
			}
			var err error
			table, err = r.processChain(ctx, table, structure, chain, excluded)
			if err != nil {
				return table, err
			}

			if err := table.Save(r.cfg.TempDir); err != nil {
				return table, fmt.Errorf("save summary: %w", err)
			}
			if r.recorder != nil {
				if err := r.recorder.Record(ctx, r.runID, table.Records()); err != nil {
					return table, fmt.Errorf("record summary: %w", err)
				}
			}
		}
	}

	if err := table.Save(r.cfg.TempDir); err != nil {
		return table, fmt.Errorf("save summary: %w", err)
	}
	if r.store != nil {
		if err := r.publish(ctx); err != nil {
			return table, fmt.Errorf("publish: %w", err)
		}
	}

	r.log.Info("run finished", "configurations", table.Len())
	return table, nil
}

// loadStructures parses every structure of the input directory and collects
// the union of their chains.
func (r *run) loadStructures() error {
	paths, err := filepath.Glob(filepath.Join(r.cfg.InputDir, "*.pdb"))
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("%w in %s", ErrNoStructures, r.cfg.InputDir)
	}
	sort.Strings(paths)

	seen := make(map[string]bool)
	for _, path := range paths {
		structure, err := pdb.NewPDBFromFile(path)
		if err != nil {
			return err
		}
		structure.ExcludeHetero = r.cfg.ExcludeHetero
		r.structures = append(r.structures, structure)

		for _, chain := range structure.ChainIDs() {
			if !seen[chain] {
				seen[chain] = true
				r.allChains = append(r.allChains, chain)
			}
			r.addSequence(chain, pdb.Sequence(structure.ResidueTable(chain)))
		}
		r.log.Debug("loaded structure", "pdbid", structure.ID, "chains", structure.ChainIDs())
	}
	r.metrics.structures.Set(float64(len(r.structures)))
	r.log.Info("loaded structures", "count", len(r.structures), "chains", r.allChains)
	return nil
}

func (r *run) metricFile() (string, error) {
	if r.cfg.MetricFile != "" {
		return r.cfg.MetricFile, nil
	}
	paths, err := filepath.Glob(filepath.Join(r.cfg.InputDir, "*.csv"))
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", fmt.Errorf("%w in %s", ErrNoMetricFile, r.cfg.InputDir)
	}
	sort.Strings(paths)
	return paths[0], nil
}

// loadMetrics reshapes the measurement table once per focal chain.
func (r *run) loadMetrics() error {
	path, err := r.metricFile()
	if err != nil {
		return err
	}

	r.tables = make(map[string]metric.Long)
	for _, chain := range r.cfg.FocalChains() {
		wide, err := metric.LoadWide(path, r.cfg.ConditionColumns())
		if err != nil {
			return err
		}
		wide.MarkWildtype()
		if err := wide.FilterChains([]string{chain}, r.cfg.VariantsPerPosition); err != nil {
			return fmt.Errorf("%s chain %s: %w", path, chain, err)
		}
		r.tables[chain] = wide.Melt()
		r.addSequence(chain, wide.WildtypeSequence())
		r.log.Debug("loaded measurements", "chain", chain, "rows", len(wide.Rows))
	}
	return nil
}

// processChain renders every metric group of one structure chain and returns
// the summary extended with the configurations that succeeded.
func (r *run) processChain(ctx context.Context, table summary.Table, structure *pdb.PDB, chain string, excluded []string) (summary.Table, error) {
	logger := r.log.With("pdbid", structure.ID, "chain", chain)

	residues := structure.ResidueTable(chain)
	sitemapPath := sitemap.SitemapPath(r.cfg.TempDir, structure.ID, chain)
	if err := sitemap.WriteSitemapFile(sitemapPath, sitemap.FromResidues(residues), 0); err != nil {
		return table, fmt.Errorf("write site map %s: %w", sitemapPath, err)
	}
	residueLabels := sitemap.ResidueLabels(residues)

	for _, group := range r.cfg.MetricGroups {
		if err := ctx.Err(); err != nil {
			return table, err
		}
		glog := logger.With("metric", group.ID)

		rows := r.tables[chain].FilterConditions(group.Conditions)
		conditions := rows.Conditions()

		rec := sitemap.Reconcile(residueLabels, rows.Labels())
		r.metrics.omittedSites.Add(float64(len(rec.Omitted)))
		if len(rec.Omitted) > 0 {
			glog.Info("omitted sites", "count", len(rec.Omitted), "sites", rec.Omitted)
		}
		rows = sitemap.Restrict(rows, rec.Shared)
		if len(rows) == 0 {
			r.metrics.configurations.WithLabelValues(outcomeSkipped).Inc()
			glog.Warn("no measurements on structure sites, skipping")
			continue
		}

		metricPath := sitemap.MetricPath(r.cfg.TempDir, structure.ID, chain, group.ID)
		if err := sitemap.WriteMetricFile(metricPath, rows, 0); err != nil {
			return table, fmt.Errorf("write metric table %s: %w", metricPath, err)
		}

		name := fmt.Sprintf("%s :: %s :: %s", structure.ID, chain, group.Name)
		req := dmsviz.Request{
			Name:           name,
			Colors:         dmsviz.Palette(r.cfg.Palette, len(conditions)),
			Metric:         MetricColumn,
			StructurePath:  structure.LocalPath,
			IncludedChains: []string{chain},
			ExcludedChains: excluded,
			MetricPath:     metricPath,
			SitemapPath:    sitemapPath,
			OutputPath:     sitemap.DMSVizPath(r.cfg.TempDir, structure.ID, chain, group.ID),
		}

		start := time.Now()
		err := r.tool.Configure(ctx, req)
		r.metrics.toolDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			var invErr *dmsviz.InvocationError
			if !errors.As(err, &invErr) || ctx.Err() != nil {
				return table, err
			}
			r.metrics.configurations.WithLabelValues(outcomeFailure).Inc()
			glog.Error("configure-dms-viz failed", "err", err)
			continue
		}

		r.metrics.configurations.WithLabelValues(outcomeSuccess).Inc()
		glog.Info("configure-dms-viz completed", "output", req.OutputPath)
		table = table.Append(summary.Record{
			DMSVizFile:     filepath.Base(req.OutputPath),
			PDBFile:        filepath.Base(structure.LocalPath),
			PDBID:          structure.ID,
			ChainID:        chain,
			MetricID:       group.ID,
			MetricFullName: group.Name,
			Description:    name,
		})
	}
	return table, nil
}

// ExcludedChains returns the chains of all that are not focal, in order.
func ExcludedChains(all, focal []string) []string {
	var out []string
	for _, chain := range all {
		isFocal := false
		for _, f := range focal {
			if chain == f {
				isFocal = true
				break
			}
		}
		if !isFocal {
			out = append(out, chain)
		}
	}
	return out
}
