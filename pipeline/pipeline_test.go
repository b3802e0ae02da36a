package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/tikz/gcreplay/blob"
	"github.com/tikz/gcreplay/config"
	"github.com/tikz/gcreplay/dmsviz"
	"github.com/tikz/gcreplay/metric"
	"github.com/tikz/gcreplay/summary"
)

var heavy = []string{"GLU", "VAL", "GLN", "LEU", "GLN", "GLU", "SER", "GLY", "PRO", "GLY"}
var light = []string{"ASP", "ILE", "VAL", "MET", "THR", "GLN", "SER", "PRO"}

// writeStructure writes a single model structure with one CA atom per residue.
func writeStructure(t *testing.T, path string, chains map[string][]string, order ...string) {
	t.Helper()
	var b strings.Builder
	serial := 0
	for _, chain := range order {
		for i, res := range chains[chain] {
			serial++
			fmt.Fprintf(&b, "ATOM  %5d  CA  %3s %1s%4d    %8.3f%8.3f%8.3f  1.00 20.00           C\n",
				serial, res, chain, i+1, float64(i), 1.0, 2.0)
		}
		b.WriteString("TER\n")
	}
	b.WriteString("END\n")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
}

// writeMeasurements writes one row per position 1..n of chain H.
func writeMeasurements(t *testing.T, path string, n int) {
	t.Helper()
	var b strings.Builder
	b.WriteString("site,position,position_IMGT,chain,wildtype,mutant,bind_CGG,expr\n")
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "%d,%d,%d.0,H,E,A,%.1f,%.1f\n", i, i, i, float64(i)/10, -float64(i)/10)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
}

// fakeTool stands in for configure-dms-viz: it fails when the name
// contains "fail" and writes "{}" to --output otherwise.
func fakeTool(t *testing.T) *dmsviz.Tool {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake tool is a shell script")
	}
	script := `#!/bin/sh
out=""
name=""
while [ $# -gt 0 ]; do
  case "$1" in
    --output) out="$2"; shift ;;
    --name) name="$2"; shift ;;
  esac
  shift
done
case "$name" in
  *fail*) echo "cannot format" >&2; exit 1 ;;
esac
echo '{}' > "$out"
`
	path := filepath.Join(t.TempDir(), "configure-dms-viz")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	tool, err := dmsviz.New([]string{path})
	if err != nil {
		t.Fatal(err)
	}
	return tool
}

type fakeRecorder struct {
	calls   int
	records []summary.Record
}

func (f *fakeRecorder) Record(ctx context.Context, runID string, records []summary.Record) error {
	f.calls++
	f.records = records
	return nil
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	input := t.TempDir()
	writeStructure(t, filepath.Join(input, "2hlx.pdb"), map[string][]string{"H": heavy, "L": light, "A": {"GLY"}}, "H", "L", "A")
	writeMeasurements(t, filepath.Join(input, "cgg_dms.csv"), 10)

	cfg := config.Default()
	cfg.InputDir = input
	cfg.TempDir = filepath.Join(t.TempDir(), "_temp")
	cfg.MetricsFile = filepath.Join(t.TempDir(), "gcreplay.prom")
	cfg.MetricGroups = []config.MetricGroup{
		{ID: "binding", Name: "Binding", Conditions: []string{"bind_CGG"}},
		{ID: "broken", Name: "Expression that will fail", Conditions: []string{"expr"}},
		{ID: "metric", Name: "Binding/Expression", Conditions: []string{"bind_CGG", "expr"}},
	}
	return cfg
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	n := 0
	s := bufio.NewScanner(f)
	for s.Scan() {
		n++
	}
	return n
}

func TestRun(t *testing.T) {
	cfg := testConfig(t)
	store := blob.NewMemory()
	recorder := &fakeRecorder{}

	table, err := Run(context.Background(), cfg, Deps{
		Logger:   log.New(io.Discard),
		Tool:     fakeTool(t),
		Store:    store,
		Recorder: recorder,
		RunID:    "test-run",
	})
	if err != nil {
		t.Fatal(err)
	}

	// chain H: 10 residues, 10 measured sites
	if n := countLines(t, filepath.Join(cfg.TempDir, "2hlx.H.sitemap.csv")); n != 11 {
		t.Errorf("expected 10 site map rows, got %d", n-1)
	}
	if n := countLines(t, filepath.Join(cfg.TempDir, "2hlx.H.metric.csv")); n != 21 {
		t.Errorf("expected 20 metric rows, got %d", n-1)
	}
	if n := countLines(t, filepath.Join(cfg.TempDir, "2hlx.H.binding.csv")); n != 11 {
		t.Errorf("expected 10 binding rows, got %d", n-1)
	}

	// chain L has no measurements and is skipped, chain A is not focal
	if _, err := os.Stat(filepath.Join(cfg.TempDir, "2hlx.L.binding.csv")); !os.IsNotExist(err) {
		t.Errorf("expected no metric table for chain L, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.TempDir, "2hlx.A.sitemap.csv")); !os.IsNotExist(err) {
		t.Errorf("expected no site map for chain A, got %v", err)
	}

	// the failing group does not stop the next one
	var ids []string
	for _, r := range table.Records() {
		ids = append(ids, r.ChainID+"/"+r.MetricID)
	}
	if want := []string{"H/binding", "H/metric"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("expected %v, got %v", want, ids)
	}
	rec := table.Records()[1]
	want := summary.Record{
		DMSVizFile:     "2hlx.H.metric.dmsviz.json",
		PDBFile:        "2hlx.pdb",
		PDBID:          "2hlx",
		ChainID:        "H",
		MetricID:       "metric",
		MetricFullName: "Binding/Expression",
		Description:    "2hlx :: H :: Binding/Expression",
	}
	if rec != want {
		t.Errorf("expected %+v, got %+v", want, rec)
	}

	// summary files hold one row per successful configuration
	f, err := os.Open(filepath.Join(cfg.TempDir, summary.JSONFile))
	if err != nil {
		t.Fatal(err)
	}
	saved, err := summary.ReadJSON(f)
	f.Close()
	if err != nil {
		t.Fatal(err)
	}
	if saved.Len() != 2 {
		t.Errorf("expected 2 saved records, got %d", saved.Len())
	}
	if n := countLines(t, filepath.Join(cfg.TempDir, summary.CSVFile)); n != 3 {
		t.Errorf("expected 2 summary csv rows, got %d", n-1)
	}

	if recorder.calls != 2 || len(recorder.records) != 2 {
		t.Errorf("expected 2 recorder calls with 2 records, got %d calls and %d records", recorder.calls, len(recorder.records))
	}

	ctx := context.Background()
	jsons, _ := store.List(ctx, DMSVizPrefix+"/")
	if len(jsons) != 2 {
		t.Errorf("expected 2 published dms-viz files, got %d", len(jsons))
	}
	meta, _ := store.List(ctx, MetadataPrefix+"/")
	if len(meta) != 2 {
		t.Errorf("expected summary csv and json, got %d files", len(meta))
	}

	prom, err := os.ReadFile(cfg.MetricsFile)
	if err != nil {
		t.Fatal(err)
	}
	for _, line := range []string{
		`gcreplay_configurations_total{outcome="success"} 2`,
		`gcreplay_configurations_total{outcome="failure"} 1`,
		`gcreplay_configurations_total{outcome="skipped"} 3`,
		`gcreplay_structures 1`,
	} {
		if !strings.Contains(string(prom), line) {
			t.Errorf("expected metrics to contain %q", line)
		}
	}
}

func TestRunHeteroResidues(t *testing.T) {
	cfg := testConfig(t)
	cfg.MetricGroups = cfg.MetricGroups[:1]
	cfg.MetricsFile = ""

	// a water after the last residue of chain H
	path := filepath.Join(cfg.InputDir, "2hlx.pdb")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	water := "HETATM  100  O   HOH H 201       9.000   9.000   9.000  1.00 20.00           O\n"
	raw = []byte(strings.Replace(string(raw), "TER\n", water+"TER\n", 1))
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Run(context.Background(), cfg, Deps{Logger: log.New(io.Discard), Tool: fakeTool(t)}); err != nil {
		t.Fatal(err)
	}
	sitemapPath := filepath.Join(cfg.TempDir, "2hlx.H.sitemap.csv")
	if n := countLines(t, sitemapPath); n != 12 {
		t.Errorf("expected 11 site map rows with the water, got %d", n-1)
	}
	data, err := os.ReadFile(sitemapPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(string(data), "11,11,201\n") {
		t.Errorf("expected the water as last site, got\n%s", data)
	}
	// the water has no measurements
	if n := countLines(t, filepath.Join(cfg.TempDir, "2hlx.H.binding.csv")); n != 11 {
		t.Errorf("expected 10 binding rows, got %d", n-1)
	}

	cfg.ExcludeHetero = true
	cfg.TempDir = filepath.Join(t.TempDir(), "_temp")
	if _, err := Run(context.Background(), cfg, Deps{Logger: log.New(io.Discard), Tool: fakeTool(t)}); err != nil {
		t.Fatal(err)
	}
	if n := countLines(t, filepath.Join(cfg.TempDir, "2hlx.H.sitemap.csv")); n != 11 {
		t.Errorf("expected 10 site map rows without the water, got %d", n-1)
	}
}

func TestRunPublishesToDirectory(t *testing.T) {
	cfg := testConfig(t)
	cfg.OutputDir = t.TempDir()
	cfg.MetricsFile = ""

	if _, err := Run(context.Background(), cfg, Deps{Logger: log.New(io.Discard), Tool: fakeTool(t)}); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{
		filepath.Join(cfg.OutputDir, DMSVizPrefix, "2hlx.H.binding.dmsviz.json"),
		filepath.Join(cfg.OutputDir, MetadataPrefix, summary.CSVFile),
		filepath.Join(cfg.OutputDir, MetadataPrefix, summary.JSONFile),
	} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("expected %s: %v", p, err)
		}
	}
}

func TestRunCatalog(t *testing.T) {
	cfg := testConfig(t)
	cfg.Catalog = filepath.Join(t.TempDir(), "catalog.db")

	if _, err := Run(context.Background(), cfg, Deps{Logger: log.New(io.Discard), Tool: fakeTool(t), RunID: "r1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(cfg.Catalog); err != nil {
		t.Errorf("expected catalog database: %v", err)
	}
}

func TestRunErrors(t *testing.T) {
	quiet := Deps{Logger: log.New(io.Discard)}

	t.Run("no structures", func(t *testing.T) {
		cfg := config.Default()
		cfg.InputDir = t.TempDir()
		cfg.TempDir = filepath.Join(t.TempDir(), "_temp")
		deps := quiet
		deps.Tool = fakeTool(t)
		if _, err := Run(context.Background(), cfg, deps); !errors.Is(err, ErrNoStructures) {
			t.Errorf("expected ErrNoStructures, got %v", err)
		}
	})

	t.Run("no measurements", func(t *testing.T) {
		cfg := testConfig(t)
		os.Remove(filepath.Join(cfg.InputDir, "cgg_dms.csv"))
		deps := quiet
		deps.Tool = fakeTool(t)
		if _, err := Run(context.Background(), cfg, deps); !errors.Is(err, ErrNoMetricFile) {
			t.Errorf("expected ErrNoMetricFile, got %v", err)
		}
	})

	t.Run("missing condition column", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.MetricGroups = append(cfg.MetricGroups, config.MetricGroup{ID: "delta", Name: "Delta", Conditions: []string{"delta_expr"}})
		deps := quiet
		deps.Tool = fakeTool(t)
		_, err := Run(context.Background(), cfg, deps)
		var shapeErr *metric.ShapeError
		if !errors.As(err, &shapeErr) {
			t.Errorf("expected *metric.ShapeError, got %v", err)
		}
	})

	t.Run("irregular blocks", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.VariantsPerPosition = 20
		deps := quiet
		deps.Tool = fakeTool(t)
		if _, err := Run(context.Background(), cfg, deps); !errors.Is(err, metric.ErrIrregularBlocks) {
			t.Errorf("expected ErrIrregularBlocks, got %v", err)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		cfg := testConfig(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		deps := quiet
		deps.Tool = fakeTool(t)
		if _, err := Run(ctx, cfg, deps); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestExcludedChains(t *testing.T) {
	got := ExcludedChains([]string{"H", "L", "A", "B"}, []string{"H", "L"})
	if want := []string{"A", "B"}; !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if got := ExcludedChains([]string{"H"}, []string{"H"}); len(got) != 0 {
		t.Errorf("expected no excluded chains, got %v", got)
	}
}

func TestCompareSequences(t *testing.T) {
	mismatches := CompareSequences(map[string][]string{
		"H": {"EVQLQ", "EVQLQ", "EVKLX"},
		"L": {"DIV"},
	})
	if len(mismatches) != 2 {
		t.Fatalf("expected 2 mismatches, got %d", len(mismatches))
	}
	m := mismatches[0]
	if m.Chain != "H" || m.Mask != "EV-L-" {
		t.Errorf("unexpected mismatch %+v", m)
	}
	if want := []string{"Q", "K", "X"}; !reflect.DeepEqual(m.Codes(), want) {
		t.Errorf("expected codes %v, got %v", want, m.Codes())
	}

	if got := mask("ABC", "AB"); got != "AB-" {
		t.Errorf("expected AB-, got %s", got)
	}
	if len(CompareSequences(map[string][]string{"H": {"A", "A"}})) != 0 {
		t.Error("expected equal sequences to match")
	}
}
