// Package sitemap reconciles structural residue identifiers with measured
// positions and writes the site map and metric tables read by dms-viz.
package sitemap

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/tikz/gcreplay/metric"
	"github.com/tikz/gcreplay/pdb"
)

// Entry maps a sequential site to its label in the structure numbering.
type Entry struct {
	SequentialSite int
	ReferenceSite  int
	ProteinSite    string
}

// AssertionError reports an export that does not satisfy a requested row count.
type AssertionError struct {
	Table string
	Rows  int
	Want  int
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s has %d rows, at least %d required", e.Table, e.Rows, e.Want)
}

// Reconciliation is the outcome of matching two sets of site labels.
type Reconciliation struct {
	Shared  []string // labels present in both sets
	Omitted []string // labels present in only one set
}

// Reconcile intersects two sets of site labels. The result does not depend on
// argument order and both slices are sorted.
func Reconcile(a, b []string) Reconciliation {
	inA := make(map[string]bool, len(a))
	for _, s := range a {
		inA[s] = true
	}
	inB := make(map[string]bool, len(b))
	for _, s := range b {
		inB[s] = true
	}

	var r Reconciliation
	for s := range inA {
		if inB[s] {
			r.Shared = append(r.Shared, s)
		} else {
			r.Omitted = append(r.Omitted, s)
		}
	}
	for s := range inB {
		if !inA[s] {
			r.Omitted = append(r.Omitted, s)
		}
	}
	sortLabels(r.Shared)
	sortLabels(r.Omitted)
	return r
}

// sortLabels orders labels numerically when they start with a number, so 9 < 10 < 10A < 11.
func sortLabels(labels []string) {
	sort.Slice(labels, func(i, j int) bool {
		ni, si := splitLabel(labels[i])
		nj, sj := splitLabel(labels[j])
		if ni != nj {
			return ni < nj
		}
		return si < sj
	})
}

func splitLabel(label string) (int64, string) {
	end := 0
	if end < len(label) && label[end] == '-' {
		end++
	}
	for end < len(label) && label[end] >= '0' && label[end] <= '9' {
		end++
	}
	n, err := strconv.ParseInt(label[:end], 10, 64)
	if err != nil {
		return math.MaxInt64, label
	}
	return n, label[end:]
}

// ResidueLabels returns the residue identifiers of a residue table.
func ResidueLabels(residues []pdb.Residue) []string {
	labels := make([]string, len(residues))
	for i, res := range residues {
		labels[i] = res.ID
	}
	return labels
}

// Restrict keeps the rows whose structural position is one of the shared
// labels and renumbers their sites as 1..K, in order of the original site.
func Restrict(rows metric.Long, shared []string) metric.Long {
	keep := make(map[string]bool, len(shared))
	for _, s := range shared {
		keep[s] = true
	}

	var out metric.Long
	sites := make(map[int]bool)
	for _, row := range rows {
		if keep[row.PositionIMGT] {
			out = append(out, row)
			sites[row.Site] = true
		}
	}

	ordered := make([]int, 0, len(sites))
	for s := range sites {
		ordered = append(ordered, s)
	}
	sort.Ints(ordered)
	dense := make(map[int]int, len(ordered))
	for i, s := range ordered {
		dense[s] = i + 1
	}
	for i := range out {
		out[i].Site = dense[out[i].Site]
	}
	return out
}

// FromResidues builds a site map with one entry per residue, in table order.
func FromResidues(residues []pdb.Residue) []Entry {
	entries := make([]Entry, len(residues))
	for i, res := range residues {
		entries[i] = Entry{
			SequentialSite: i + 1,
			ReferenceSite:  i + 1,
			ProteinSite:    pdb.ResidueID(res.Number, res.Insertion),
		}
	}
	return entries
}

// WriteSitemap writes the site map as CSV. A positive truncate keeps only
// the first truncate entries and requires the map to be at least that long.
func WriteSitemap(w io.Writer, entries []Entry, truncate int) error {
	if truncate > 0 {
		if len(entries) < truncate {
			return &AssertionError{Table: "sitemap", Rows: len(entries), Want: truncate}
		}
		entries = entries[:truncate]
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"sequential_site", "reference_site", "protein_site"}); err != nil {
		return err
	}
	for _, e := range entries {
		if err := cw.Write([]string{strconv.Itoa(e.SequentialSite), strconv.Itoa(e.ReferenceSite), e.ProteinSite}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// MetricHeader is the header of the exported metric table.
var MetricHeader = append(append([]string(nil), metric.IDColumns...), "condition", "factor")

// WriteMetric writes the long metric table as CSV. Missing factors are written
// as empty cells. A positive minRows requires at least that many rows.
func WriteMetric(w io.Writer, rows metric.Long, minRows int) error {
	if minRows > 0 && len(rows) < minRows {
		return &AssertionError{Table: "metric table", Rows: len(rows), Want: minRows}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(MetricHeader); err != nil {
		return err
	}
	for _, r := range rows {
		factor := ""
		if !r.Missing() {
			factor = strconv.FormatFloat(r.Factor, 'g', -1, 64)
		}
		err := cw.Write([]string{
			strconv.Itoa(r.Site),
			strconv.Itoa(r.Position),
			r.PositionIMGT,
			r.Chain,
			r.Wildtype,
			r.Mutant,
			r.Condition,
			factor,
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSitemapFile writes the site map to path, replacing any existing file.
func WriteSitemapFile(path string, entries []Entry, truncate int) error {
	return writeFile(path, func(w io.Writer) error { return WriteSitemap(w, entries, truncate) })
}

// WriteMetricFile writes the metric table to path, replacing any existing file.
func WriteMetricFile(path string, rows metric.Long, minRows int) error {
	return writeFile(path, func(w io.Writer) error { return WriteMetric(w, rows, minRows) })
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

// SitemapPath returns the site map location for a structure chain.
func SitemapPath(dir, pdbID, chain string) string {
	return filepath.Join(dir, pdbID+"."+chain+".sitemap.csv")
}

// MetricPath returns the metric table location for a structure chain and metric group.
func MetricPath(dir, pdbID, chain, group string) string {
	return filepath.Join(dir, pdbID+"."+chain+"."+group+".csv")
}

// DMSVizPath returns the dms-viz output location for a structure chain and metric group.
func DMSVizPath(dir, pdbID, chain, group string) string {
	return filepath.Join(dir, pdbID+"."+chain+"."+group+".dmsviz.json")
}
