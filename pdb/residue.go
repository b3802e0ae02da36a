package pdb

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var residueNames = [...][3]string{
	{"Alanine", "Ala", "A"},
	{"Arginine", "Arg", "R"},
	{"Asparagine", "Asn", "N"},
	{"Aspartic acid", "Asp", "D"},
	{"Cysteine", "Cys", "C"},
	{"Glutamic acid", "Glu", "E"},
	{"Glutamine", "Gln", "Q"},
	{"Glycine", "Gly", "G"},
	{"Histidine", "His", "H"},
	{"Isoleucine", "Ile", "I"},
	{"Leucine", "Leu", "L"},
	{"Lysine", "Lys", "K"},
	{"Methionine", "Met", "M"},
	{"Phenylalanine", "Phe", "F"},
	{"Proline", "Pro", "P"},
	{"Serine", "Ser", "S"},
	{"Threonine", "Thr", "T"},
	{"Tryptophan", "Trp", "W"},
	{"Tyrosine", "Tyr", "Y"},
	{"Valine", "Val", "V"},
}

const (
	// UnknownCode is the one letter code given to any non-standard residue.
	UnknownCode = "X"
	// NoInsertion marks a residue without insertion code.
	NoInsertion = "-"
)

// ErrUnknownCode is returned by ShortToLong for codes outside the 20 standard aminoacids.
var ErrUnknownCode = errors.New("unknown aminoacid code")

var (
	long2short = make(map[string]string, len(residueNames))
	short2long = make(map[string]string, len(residueNames))
)

func init() {
	for _, res := range residueNames {
		long := strings.ToUpper(res[1])
		long2short[long] = res[2]
		short2long[res[2]] = long
	}
}

// LongToShort maps a three letter residue name (ALA) to its one letter code (A).
// Names outside the standard aminoacids map to UnknownCode.
func LongToShort(name string) string {
	if short, ok := long2short[strings.ToUpper(strings.TrimSpace(name))]; ok {
		return short
	}
	return UnknownCode
}

// ShortToLong maps a one letter code (A) to its three letter residue name (ALA).
// Unlike LongToShort it never substitutes: UnknownCode and any other
// non-standard code return an error wrapping ErrUnknownCode.
func ShortToLong(code string) (string, error) {
	if long, ok := short2long[strings.ToUpper(code)]; ok {
		return long, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCode, code)
}

// IsAminoacid returns true if the given letter is an aminoacid, false otherwise.
func IsAminoacid(letter string) bool {
	_, ok := short2long[letter]
	return ok
}

// Residue represents a single residue from the PDB structure.
type Residue struct {
	Site      int     `json:"site"`     // sequential position in its chain, starting at 1
	Chain     string  `json:"chainid"`  // chain identifier
	ID        string  `json:"res_id"`   // residue number followed by the insertion code, if any
	Number    int64   `json:"res_num"`  // residue sequence number
	Insertion string  `json:"res_ins"`  // insertion code or NoInsertion
	Name3     string  `json:"aa_long"`  // residue name as found in the file
	Name1     string  `json:"aa_short"` // one letter code or UnknownCode
	Hetero    bool    `json:"-"`
	Atoms     []*Atom `json:"-"`
}

// NewResidue constructs a new residue given a chain, residue number, insertion code and residue name.
func NewResidue(chain string, number int64, insertion string, name string) *Residue {
	insertion = strings.TrimSpace(insertion)
	if insertion == "" {
		insertion = NoInsertion
	}

	return &Residue{
		Chain:     chain,
		ID:        ResidueID(number, insertion),
		Number:    number,
		Insertion: insertion,
		Name3:     name,
		Name1:     LongToShort(name),
	}
}

// ResidueID returns the residue label used for matching structural numbering, i.e. 100 or 100A.
func ResidueID(number int64, insertion string) string {
	id := strconv.FormatInt(number, 10)
	if insertion != NoInsertion {
		id += insertion
	}
	return id
}

type residueKey struct {
	chain     string
	number    int64
	insertion string
	hetero    bool
}

// extractChains groups atoms into residues, keeping the order of appearance
// of both chains and residues.
func (pdb *PDB) extractChains(atoms []*Atom) {
	pdb.chainOrder = nil
	pdb.chains = make(map[string][]*Residue)

	index := make(map[residueKey]*Residue)
	for _, atom := range atoms {
		key := residueKey{atom.Chain, atom.ResidueNumber, atom.Insertion, atom.Hetero}
		res, ok := index[key]
		if !ok {
			if _, seen := pdb.chains[atom.Chain]; !seen {
				pdb.chainOrder = append(pdb.chainOrder, atom.Chain)
			}
			res = NewResidue(atom.Chain, atom.ResidueNumber, atom.Insertion, atom.Residue)
			res.Hetero = atom.Hetero
			index[key] = res
			pdb.chains[atom.Chain] = append(pdb.chains[atom.Chain], res)
		}
		res.Atoms = append(res.Atoms, atom)
	}

	pdb.TotalLength = 0
	for _, residues := range pdb.chains {
		pdb.TotalLength += int64(len(residues))
	}
}

// Sequence returns the one letter sequence of the given residues.
func Sequence(residues []Residue) string {
	var b strings.Builder
	for _, res := range residues {
		b.WriteString(res.Name1)
	}
	return b.String()
}
