// Package summary accumulates the records describing every dms-viz
// configuration produced by a run and persists them as CSV and JSON.
package summary

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// File names written by Save.
const (
	CSVFile  = "summary.csv"
	JSONFile = "summary.json"
)

// Record describes one dms-viz configuration.
type Record struct {
	DMSVizFile     string `json:"dmsviz_filepath"`
	PDBFile        string `json:"pdb_filepath"`
	PDBID          string `json:"pdbid"`
	ChainID        string `json:"chainid"`
	MetricID       string `json:"metricid"`
	MetricFullName string `json:"metric_full_name"`
	Description    string `json:"description"`
}

// Header is the CSV header, matching the JSON keys.
var Header = []string{"dmsviz_filepath", "pdb_filepath", "pdbid", "chainid", "metricid", "metric_full_name", "description"}

func (r Record) fields() []string {
	return []string{r.DMSVizFile, r.PDBFile, r.PDBID, r.ChainID, r.MetricID, r.MetricFullName, r.Description}
}

// Table is an append-only list of records. The zero value is empty and ready to use.
type Table struct {
	records []Record
}

// Append returns a table with r added at the end. The receiver is left unchanged.
func (t Table) Append(r Record) Table {
	records := make([]Record, len(t.records), len(t.records)+1)
	copy(records, t.records)
	return Table{records: append(records, r)}
}

// Len returns the number of records.
func (t Table) Len() int { return len(t.records) }

// Records returns a copy of the records.
func (t Table) Records() []Record {
	return append([]Record(nil), t.records...)
}

// WriteCSV writes the table as CSV with a header row.
func (t Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range t.records {
		if err := cw.Write(r.fields()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes the table as a JSON array of records followed by a newline.
func (t Table) WriteJSON(w io.Writer) error {
	records := t.records
	if records == nil {
		records = []Record{}
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", raw)
	return err
}

// Save writes summary.csv and summary.json to dir, replacing earlier versions.
func (t Table) Save(dir string) error {
	if err := writeFile(filepath.Join(dir, CSVFile), t.WriteCSV); err != nil {
		return fmt.Errorf("write summary CSV: %w", err)
	}
	if err := writeFile(filepath.Join(dir, JSONFile), t.WriteJSON); err != nil {
		return fmt.Errorf("write summary JSON: %w", err)
	}
	return nil
}

// ReadJSON reads a table written by WriteJSON.
func ReadJSON(r io.Reader) (Table, error) {
	var records []Record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return Table{}, err
	}
	return Table{records: records}, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
