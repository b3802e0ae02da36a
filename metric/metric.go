// Package metric loads deep mutational scanning measurements from wide tables,
// one column per measurement condition, and reshapes them into long form.
package metric

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// Identifier columns every measurement table must carry.
const (
	ColSite         = "site"
	ColPosition     = "position"
	ColPositionIMGT = "position_IMGT"
	ColChain        = "chain"
	ColWildtype     = "wildtype"
	ColMutant       = "mutant"
)

// IDColumns lists the identifier columns in output order.
var IDColumns = []string{ColSite, ColPosition, ColPositionIMGT, ColChain, ColWildtype, ColMutant}

// DefaultConditions are the condition columns of the CGG binding / expression tables.
var DefaultConditions = []string{
	"single_nt",
	"bind_CGG", "delta_bind_CGG", "n_bc_bind_CGG", "n_libs_bind_CGG",
	"expr", "delta_expr", "n_bc_expr", "n_libs_expr",
}

// WildtypeMutant is the mutant label given to rows where the mutant equals the wildtype.
const WildtypeMutant = "-"

// ShapeError reports a table that does not have the expected layout.
type ShapeError struct {
	Line   int // 1-based line in the input, 0 when not tied to a line
	Column string
	Reason string
}

func (e *ShapeError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("metric table line %d, column %s: %s", e.Line, e.Column, e.Reason)
	}
	return fmt.Sprintf("metric table column %s: %s", e.Column, e.Reason)
}

// ErrIrregularBlocks is returned when rows of a position are not laid out as a single block.
var ErrIrregularBlocks = errors.New("irregular position blocks")

// WideRow is a single row of a wide measurement table.
type WideRow struct {
	Site         int
	Position     int
	PositionIMGT string
	Chain        string
	Wildtype     string
	Mutant       string
	Values       []float64 // one per condition, NaN when missing
}

// Wide is a measurement table with one value column per condition.
type Wide struct {
	Conditions []string
	Rows       []WideRow
}

// LoadWide reads a wide measurement table from a CSV file.
func LoadWide(path string, conditions []string) (*Wide, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open metric table: %w", err)
	}
	defer f.Close()

	w, err := ReadWide(f, conditions)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return w, nil
}

// ReadWide parses a wide measurement table. The header must contain the
// identifier columns and every requested condition; other columns are ignored.
func ReadWide(r io.Reader, conditions []string) (*Wide, error) {
	if len(conditions) == 0 {
		conditions = DefaultConditions
	}

	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	header, err := cr.Read()
	if err == io.EOF {
		return nil, &ShapeError{Column: ColSite, Reason: "empty table"}
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}
	lookup := func(name string) (int, error) {
		i, ok := index[name]
		if !ok {
			return 0, &ShapeError{Column: name, Reason: "missing column"}
		}
		return i, nil
	}

	ids := make([]int, len(IDColumns))
	for i, name := range IDColumns {
		if ids[i], err = lookup(name); err != nil {
			return nil, err
		}
	}
	values := make([]int, len(conditions))
	for i, name := range conditions {
		if values[i], err = lookup(name); err != nil {
			return nil, err
		}
	}

	w := &Wide{Conditions: append([]string(nil), conditions...)}
	line := 1
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		line++

		row := WideRow{
			PositionIMGT: normalizeLabel(record[ids[2]]),
			Chain:        strings.TrimSpace(record[ids[3]]),
			Wildtype:     strings.TrimSpace(record[ids[4]]),
			Mutant:       strings.TrimSpace(record[ids[5]]),
			Values:       make([]float64, len(conditions)),
		}
		if row.Site, err = parseInt(record[ids[0]]); err != nil {
			return nil, &ShapeError{Line: line, Column: ColSite, Reason: err.Error()}
		}
		if row.Position, err = parseInt(record[ids[1]]); err != nil {
			return nil, &ShapeError{Line: line, Column: ColPosition, Reason: err.Error()}
		}
		if row.PositionIMGT == "" {
			return nil, &ShapeError{Line: line, Column: ColPositionIMGT, Reason: "empty label"}
		}
		for i, col := range values {
			if row.Values[i], err = parseFactor(record[col]); err != nil {
				return nil, &ShapeError{Line: line, Column: conditions[i], Reason: err.Error()}
			}
		}
		w.Rows = append(w.Rows, row)
	}

	return w, nil
}

// MarkWildtype relabels the mutant of rows where it equals the wildtype as WildtypeMutant.
func (w *Wide) MarkWildtype() {
	for i := range w.Rows {
		if w.Rows[i].Wildtype == w.Rows[i].Mutant {
			w.Rows[i].Mutant = WildtypeMutant
		}
	}
}

// FilterChains keeps the rows of the given chains and renumbers sites as a
// dense 1..P sequence, one site per position. Rows of a position must be
// contiguous; when variantsPerPosition is positive every position must also
// have exactly that many rows. Violations return ErrIrregularBlocks.
func (w *Wide) FilterChains(chains []string, variantsPerPosition int) error {
	keep := make(map[string]bool, len(chains))
	for _, c := range chains {
		keep[c] = true
	}

	rows := w.Rows[:0:0]
	for _, row := range w.Rows {
		if keep[row.Chain] {
			rows = append(rows, row)
		}
	}

	seen := make(map[int]bool)
	site, start := 0, 0
	checkBlock := func(end int) error {
		if variantsPerPosition > 0 && end-start != variantsPerPosition {
			return fmt.Errorf("%w: position %d has %d rows, expected %d",
				ErrIrregularBlocks, rows[start].Position, end-start, variantsPerPosition)
		}
		return nil
	}
	for i := range rows {
		if i == 0 || rows[i].Position != rows[i-1].Position {
			if i > 0 {
				if err := checkBlock(i); err != nil {
					return err
				}
			}
			if seen[rows[i].Position] {
				return fmt.Errorf("%w: position %d appears in more than one block",
					ErrIrregularBlocks, rows[i].Position)
			}
			seen[rows[i].Position] = true
			site++
			start = i
		}
		rows[i].Site = site
	}
	if len(rows) > 0 {
		if err := checkBlock(len(rows)); err != nil {
			return err
		}
	}

	w.Rows = rows
	return nil
}

// Melt reshapes the table to long form, one row per wide row and condition.
// Rows are ordered by condition, then by their order in the wide table.
func (w *Wide) Melt() Long {
	long := make(Long, 0, len(w.Rows)*len(w.Conditions))
	for c, condition := range w.Conditions {
		for _, row := range w.Rows {
			long = append(long, Row{
				Site:         row.Site,
				Position:     row.Position,
				PositionIMGT: row.PositionIMGT,
				Chain:        row.Chain,
				Wildtype:     row.Wildtype,
				Mutant:       row.Mutant,
				Condition:    condition,
				Factor:       row.Values[c],
			})
		}
	}
	return long
}

// WildtypeSequence returns the wildtype one letter codes of the table, one per position in order.
func (w *Wide) WildtypeSequence() string {
	var b strings.Builder
	for i, row := range w.Rows {
		if i == 0 || row.Position != w.Rows[i-1].Position {
			b.WriteString(row.Wildtype)
		}
	}
	return b.String()
}

func parseInt(s string) (int, error) {
	s = strings.TrimSpace(s)
	if i, err := strconv.Atoi(s); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) {
		return 0, fmt.Errorf("not an integer: %q", s)
	}
	return int(f), nil
}

func parseFactor(s string) (float64, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "na", "nan", "null":
		return math.NaN(), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	return f, nil
}

// normalizeLabel trims the label and drops the fraction of integral numbers, so "12.0" reads as "12".
func normalizeLabel(s string) string {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == math.Trunc(f) && !math.IsInf(f, 0) {
		return strconv.FormatInt(int64(f), 10)
	}
	return s
}
