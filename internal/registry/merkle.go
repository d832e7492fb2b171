package registry

import (
	"arkavo.org/accesscore/internal/chain"
)

// Scheme selects how leaves and internal nodes are hashed.
type Scheme uint8

const (
	// SchemeLegacy hashes internal nodes as H(left ‖ right) and uses the leaf
	// as is. Bit-compatible with roots published by existing attribute issuers.
	SchemeLegacy Scheme = iota
	// SchemeDomainSeparated hashes leaves as H(0x00 ‖ leaf) and internal nodes
	// as H(0x01 ‖ left ‖ right).
	SchemeDomainSeparated
)

// MaxProofDepth bounds the number of levels a proof may climb.
const MaxProofDepth = 64

const (
	leafPrefix = 0x00
	nodePrefix = 0x01
)

func (s Scheme) String() string {
	switch s {
	case SchemeLegacy:
		return "legacy"
	case SchemeDomainSeparated:
		return "domain-separated"
	default:
		return "unknown"
	}
}

// ParseScheme maps a configuration value to a Scheme.
func ParseScheme(s string) (Scheme, bool) {
	switch s {
	case "", "legacy":
		return SchemeLegacy, true
	case "domain-separated", "domain_separated":
		return SchemeDomainSeparated, true
	}
	return 0, false
}

func (s Scheme) leaf(l chain.Hash) chain.Hash {
	if s == SchemeDomainSeparated {
		return chain.Blake2([]byte{leafPrefix}, l.Bytes())
	}
	return l
}

func (s Scheme) node(left, right chain.Hash) chain.Hash {
	if s == SchemeDomainSeparated {
		return chain.Blake2([]byte{nodePrefix}, left.Bytes(), right.Bytes())
	}
	return chain.Blake2(left.Bytes(), right.Bytes())
}

// VerifyMerkleProof reports whether leaf climbs to root along path. indices[k]
// is 0 when the current node is the left child at level k and 1 when it is
// the right child. Length mismatch, any other index value, or a path deeper
// than MaxProofDepth yields false. The function is pure.
func VerifyMerkleProof(scheme Scheme, leaf chain.Hash, path []chain.Hash, indices []byte, root chain.Hash) bool {
	if len(path) != len(indices) || len(path) > MaxProofDepth {
		return false
	}
	current := scheme.leaf(leaf)
	for k, sibling := range path {
		switch indices[k] {
		case 0:
			current = scheme.node(current, sibling)
		case 1:
			current = scheme.node(sibling, current)
		default:
			return false
		}
	}
	return current == root
}

// BuildMerkleTree computes the root over leaves and one proof per leaf, with
// siblings ordered leaf-to-root. An odd node at the end of a level is paired
// with itself. Returns the zero hash and no proofs for an empty input.
func BuildMerkleTree(scheme Scheme, leaves []chain.Hash) (chain.Hash, []AttributeProof) {
	if len(leaves) == 0 {
		return chain.Hash{}, nil
	}
	layer := make([]chain.Hash, len(leaves))
	for i, l := range leaves {
		layer[i] = scheme.leaf(l)
	}
	layers := [][]chain.Hash{layer}
	for len(layer) > 1 {
		next := make([]chain.Hash, 0, (len(layer)+1)/2)
		for i := 0; i < len(layer); i += 2 {
			left := layer[i]
			right := left
			if i+1 < len(layer) {
				right = layer[i+1]
			}
			next = append(next, scheme.node(left, right))
		}
		layer = next
		layers = append(layers, layer)
	}

	proofs := make([]AttributeProof, len(leaves))
	for leafIdx := range leaves {
		p := AttributeProof{AttributeHash: leaves[leafIdx], ProofPath: []chain.Hash{}, ProofIndices: []byte{}}
		idx := leafIdx
		for l := 0; l < len(layers)-1; l++ {
			row := layers[l]
			sib := idx ^ 1
			if sib >= len(row) {
				sib = idx
			}
			p.ProofPath = append(p.ProofPath, row[sib])
			p.ProofIndices = append(p.ProofIndices, byte(idx&1))
			idx /= 2
		}
		proofs[leafIdx] = p
	}
	return layer[0], proofs
}
