package pipeline

import (
	"sort"
	"strings"

	"github.com/tikz/gcreplay/pdb"
)

// SequenceMismatch is a pair of one letter sequences of the same chain that differ.
type SequenceMismatch struct {
	Chain  string
	First  string
	Second string
	// Mask repeats the shared letters and has '-' where the sequences differ.
	Mask string
}

// Codes returns the distinct one letter codes found at differing positions, in order.
func (m SequenceMismatch) Codes() []string {
	var codes []string
	seen := make(map[string]bool)
	add := func(seq string, i int) {
		if i >= len(seq) {
			return
		}
		c := seq[i : i+1]
		if !seen[c] {
			seen[c] = true
			codes = append(codes, c)
		}
	}
	for i := range m.Mask {
		if m.Mask[i] == '-' {
			add(m.First, i)
			add(m.Second, i)
		}
	}
	return codes
}

// CompareSequences compares every pair of sequences of each chain and returns
// the pairs that differ, ordered by chain. Sequences of different length
// differ on every position past the shorter one.
func CompareSequences(seqs map[string][]string) []SequenceMismatch {
	chains := make([]string, 0, len(seqs))
	for chain := range seqs {
		chains = append(chains, chain)
	}
	sort.Strings(chains)

	var out []SequenceMismatch
	for _, chain := range chains {
		list := seqs[chain]
		for i := 0; i < len(list); i++ {
			for j := i + 1; j < len(list); j++ {
				if list[i] == list[j] {
					continue
				}
				out = append(out, SequenceMismatch{
					Chain:  chain,
					First:  list[i],
					Second: list[j],
					Mask:   mask(list[i], list[j]),
				})
			}
		}
	}
	return out
}

func mask(a, b string) string {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	var sb strings.Builder
	for k := 0; k < n; k++ {
		if k < len(a) && k < len(b) && a[k] == b[k] {
			sb.WriteByte(a[k])
		} else {
			sb.WriteByte('-')
		}
	}
	return sb.String()
}

func (r *run) addSequence(chain, seq string) {
	if seq == "" {
		return
	}
	if r.sequences == nil {
		r.sequences = make(map[string][]string)
	}
	r.sequences[chain] = append(r.sequences[chain], seq)
}

// reportSequences logs the chains whose structure and measurement sequences
// disagree. Disagreements never stop the run.
func (r *run) reportSequences() {
	mismatches := CompareSequences(r.sequences)
	for _, m := range mismatches {
		var names []string
		for _, code := range m.Codes() {
			name, err := pdb.ShortToLong(code)
			if err != nil {
				r.log.Warn("cannot expand residue code", "chain", m.Chain, "err", err)
				continue
			}
			names = append(names, name)
		}
		r.log.Warn("sequences differ", "chain", m.Chain, "first", m.First, "second", m.Second, "mask", m.Mask, "residues", names)
	}
	r.log.Info("sequence check", "all_equal", len(mismatches) == 0)
}
