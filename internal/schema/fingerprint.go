package schema

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// FingerprintSize is the length of a schema fingerprint in bytes.
const FingerprintSize = 8

// Fingerprint identifies a schema by a 64-bit FNV-1a hash of its type path
// and structure. Collisions are not detected.
type Fingerprint [FingerprintSize]byte

// FNV-1a 64 parameters.
const (
	fnvBasis uint64 = 0xcbf29ce484222325
	fnvPrime uint64 = 0x00000100000001b3
)

func (f Fingerprint) String() string { return hex.EncodeToString(f[:]) }

// MarshalText implements encoding.TextMarshaler.
func (f Fingerprint) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

// ParseFingerprint parses 16 hex digits.
func ParseFingerprint(s string) (Fingerprint, error) {
	var f Fingerprint
	b, err := hex.DecodeString(s)
	if err != nil {
		return f, fmt.Errorf("schema: fingerprint %q: %w", s, err)
	}
	if len(b) != FingerprintSize {
		return f, fmt.Errorf("schema: fingerprint %q: want %d bytes, got %d", s, FingerprintSize, len(b))
	}
	copy(f[:], b)
	return f, nil
}

// FingerprintOf hashes n under the empty type path.
func FingerprintOf(n *Node) Fingerprint { return FingerprintPath("", n) }

// FingerprintPath hashes path followed by the structure of n. Every node
// contributes its Kind byte then its children in order; struct, enum,
// field and variant names are hashed as raw UTF-8.
func FingerprintPath(path string, n *Node) Fingerprint {
	h := hashBytes(fnvBasis, []byte(path))
	h = hashNode(h, n)
	var f Fingerprint
	binary.LittleEndian.PutUint64(f[:], h)
	return f
}

func hashBytes(state uint64, b []byte) uint64 {
	for _, c := range b {
		state ^= uint64(c)
		state *= fnvPrime
	}
	return state
}

func hashByte(state uint64, c byte) uint64 {
	state ^= uint64(c)
	return state * fnvPrime
}

func hashNode(state uint64, n *Node) uint64 {
	if n == nil {
		return state
	}
	state = hashByte(state, byte(n.Kind))
	switch n.Kind {
	case KindOption, KindSeq:
		state = hashNode(state, n.Elem)
	case KindTuple:
		for _, e := range n.Elems {
			state = hashNode(state, e)
		}
	case KindMap:
		state = hashNode(state, n.Key)
		state = hashNode(state, n.Val)
	case KindStruct:
		state = hashBytes(state, []byte(n.Name))
		state = hashShape(state, n.Body)
	case KindEnum:
		state = hashBytes(state, []byte(n.Name))
		for _, v := range n.Variants {
			state = hashBytes(state, []byte(v.Name))
			state = hashShape(state, v.Body)
		}
	}
	return state
}

func hashShape(state uint64, s *Shape) uint64 {
	if s == nil {
		return state
	}
	state = hashByte(state, byte(s.Kind))
	switch s.Kind {
	case ShapeNewtype:
		state = hashNode(state, s.Newtype)
	case ShapeTuple:
		for _, e := range s.Elems {
			state = hashNode(state, e)
		}
	case ShapeStruct:
		for _, f := range s.Fields {
			state = hashBytes(state, []byte(f.Name))
			state = hashNode(state, f.Type)
		}
	}
	return state
}
