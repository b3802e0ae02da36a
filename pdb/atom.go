package pdb

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Atom represents a single atom in the structure.
// It contains all the columns from an ATOM or HETATM record in a PDB file.
type Atom struct {
	// PDB columns for the ATOM tag
	Hetero        bool
	Number        int64
	Name          string
	AltLoc        string
	Residue       string
	Chain         string
	ResidueNumber int64
	Insertion     string
	X             float64
	Y             float64
	Z             float64
	Occupancy     float64
	BFactor       float64
	Element       string
	Charge        string
}

// recordWidth is the full width of a coordinate record; shorter lines are padded.
const recordWidth = 80

// extractATMRecords extracts ATOM and HETATM records of the first model.
func extractATMRecords(raw []byte) ([]*Atom, error) {
	var atoms []*Atom

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	n := 0
	for scanner.Scan() {
		n++
		line := scanner.Text()
		if strings.HasPrefix(line, "ENDMDL") {
			break
		}
		if !strings.HasPrefix(line, "ATOM") && !strings.HasPrefix(line, "HETATM") {
			continue
		}

		atom, err := parseAtom(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		atoms = append(atoms, atom)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return atoms, nil
}

// parseAtom parses a single coordinate record.
// https://www.wwpdb.org/documentation/file-format-content/format33/sect9.html#ATOM
func parseAtom(line string) (*Atom, error) {
	if len(line) < 54 {
		return nil, fmt.Errorf("coordinate record too short (%d columns)", len(line))
	}
	if len(line) < recordWidth {
		line += strings.Repeat(" ", recordWidth-len(line))
	}

	var atom Atom
	var err error

	atom.Hetero = strings.HasPrefix(line, "HETATM")
	atom.Name = strings.TrimSpace(line[12:16])
	atom.AltLoc = strings.TrimSpace(line[16:17])
	atom.Residue = strings.TrimSpace(line[17:20])
	atom.Chain = line[21:22]
	atom.Insertion = strings.TrimSpace(line[26:27])
	atom.Element = strings.TrimSpace(line[76:78])
	atom.Charge = strings.TrimSpace(line[78:80])

	// Serial numbers overflow the column in large structures, so they are best effort.
	atom.Number, _ = strconv.ParseInt(strings.TrimSpace(line[6:11]), 10, 64)

	if atom.ResidueNumber, err = strconv.ParseInt(strings.TrimSpace(line[22:26]), 10, 64); err != nil {
		return nil, fmt.Errorf("residue number: %w", err)
	}
	if atom.X, err = parseFloat(line[30:38]); err != nil {
		return nil, fmt.Errorf("x coordinate: %w", err)
	}
	if atom.Y, err = parseFloat(line[38:46]); err != nil {
		return nil, fmt.Errorf("y coordinate: %w", err)
	}
	if atom.Z, err = parseFloat(line[46:54]); err != nil {
		return nil, fmt.Errorf("z coordinate: %w", err)
	}
	atom.Occupancy, _ = parseFloat(line[54:60])
	atom.BFactor, _ = parseFloat(line[60:66])

	return &atom, nil
}

func parseFloat(field string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(field), 64)
}
