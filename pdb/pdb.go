package pdb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PDB represents a single parsed structure file.
type PDB struct {
	ID          string `json:"id"`          // structure identifier, the file name up to the first dot
	TotalLength int64  `json:"totalLength"` // total length as sum of residues of all chains in the structure

	Atoms     []*Atom  `json:"-"`         // ATOM records in the structure
	HetAtoms  []*Atom  `json:"-"`         // HETATM records in the structure
	HetGroups []string `json:"hetGroups"` // HET groups in the structure

	// ExcludeHetero makes ResidueTable leave out HETATM residues.
	ExcludeHetero bool `json:"-"`

	RawPDB    []byte `json:"-"` // PDB file raw data
	LocalPath string `json:"-"` // local path for the PDB file

	chainOrder []string
	chains     map[string][]*Residue
}

// NewPDBFromRaw constructs a new instance from raw bytes, extracting the ATOM and HETATM records.
func NewPDBFromRaw(raw []byte) (*PDB, error) {
	pdb := PDB{RawPDB: raw}

	err := pdb.ExtractResidues()
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	return &pdb, nil
}

// NewPDBFromFile reads and parses a local PDB file.
func NewPDBFromFile(path string) (*PDB, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read PDB file: %w", err)
	}

	pdb, err := NewPDBFromRaw(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	pdb.ID = FileID(path)
	pdb.LocalPath = path

	return pdb, nil
}

// FileID returns the structure identifier for a path: the base name up to the first dot.
func FileID(path string) string {
	return strings.SplitN(filepath.Base(path), ".", 2)[0]
}

// ExtractResidues extracts data from the ATOM and HETATM records and groups them into chains.
func (pdb *PDB) ExtractResidues() error {
	records, err := extractATMRecords(pdb.RawPDB)
	if err != nil {
		return fmt.Errorf("extract ATOM records: %w", err)
	}

	pdb.Atoms, pdb.HetAtoms, pdb.HetGroups = nil, nil, nil
	for _, atom := range records {
		if !atom.Hetero {
			pdb.Atoms = append(pdb.Atoms, atom)
			continue
		}
		pdb.HetAtoms = append(pdb.HetAtoms, atom)
		if !contains(pdb.HetGroups, atom.Residue) {
			pdb.HetGroups = append(pdb.HetGroups, atom.Residue)
		}
	}
	if len(pdb.Atoms) == 0 {
		return errors.New("atoms not found")
	}

	pdb.extractChains(records)
	return nil
}

// ChainIDs returns the chain identifiers in order of appearance.
func (pdb *PDB) ChainIDs() []string {
	return append([]string(nil), pdb.chainOrder...)
}

// HasChain reports whether the structure contains the given chain.
func (pdb *PDB) HasChain(chain string) bool {
	_, ok := pdb.chains[chain]
	return ok
}

// ResidueTable lists the residues of the given chains, or of every chain when none is given,
// in file order. Sites are numbered from 1 and restart on every chain.
func (pdb *PDB) ResidueTable(chains ...string) []Residue {
	var table []Residue
	for _, chain := range pdb.chainOrder {
		if len(chains) > 0 && !contains(chains, chain) {
			continue
		}
		site := 0
		for _, res := range pdb.chains[chain] {
			if res.Hetero && pdb.ExcludeHetero {
				continue
			}
			site++
			row := *res
			row.Site = site
			table = append(table, row)
		}
	}
	return table
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
