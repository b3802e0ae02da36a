package metric

import "math"

// Row is one measurement of one site under one condition.
type Row struct {
	Site         int
	Position     int
	PositionIMGT string
	Chain        string
	Wildtype     string
	Mutant       string
	Condition    string
	Factor       float64 // NaN when missing
}

// Missing reports whether the row has no factor value.
func (r Row) Missing() bool { return math.IsNaN(r.Factor) }

// Long is a measurement table in long form.
type Long []Row

// FilterConditions returns the rows measured under one of the named conditions.
// No names keeps every row.
func (l Long) FilterConditions(names []string) Long {
	if len(names) == 0 {
		return append(Long(nil), l...)
	}
	keep := make(map[string]bool, len(names))
	for _, n := range names {
		keep[n] = true
	}

	var out Long
	for _, row := range l {
		if keep[row.Condition] {
			out = append(out, row)
		}
	}
	return out
}

// Conditions returns the distinct conditions in order of appearance.
func (l Long) Conditions() []string {
	var out []string
	seen := make(map[string]bool)
	for _, row := range l {
		if !seen[row.Condition] {
			seen[row.Condition] = true
			out = append(out, row.Condition)
		}
	}
	return out
}

// Labels returns the distinct structural position labels in order of appearance.
func (l Long) Labels() []string {
	var out []string
	seen := make(map[string]bool)
	for _, row := range l {
		if !seen[row.PositionIMGT] {
			seen[row.PositionIMGT] = true
			out = append(out, row.PositionIMGT)
		}
	}
	return out
}
