// Package hashing implements content-addressing for contracts and
// predicates: content_addr(x) = sha256(canonical_bytes(x)).
package hashing

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"

	"github.com/essential-contributions/essential-core/core/types"
)

// ContentAddress hashes an already-canonical byte slice into a 32-byte
// content address. Canonicalization of concrete types happens in the
// Predicate/Contract helpers below.
func ContentAddress(canonical []byte) types.ContentAddress {
	return types.ContentAddress(sha256.Sum256(canonical))
}

// Predicate returns the content address of a single predicate: the hash
// of its state-read and constraint programs in declared order.
func Predicate(p types.Predicate) types.ContentAddress {
	h := sha256.New()
	writeUint64(h, uint64(len(p.StateRead)))
	for _, prog := range p.StateRead {
		writeBytes(h, prog)
	}
	writeUint64(h, uint64(len(p.Constraints)))
	for _, prog := range p.Constraints {
		writeBytes(h, prog)
	}
	h.Write([]byte{byte(p.Directive.Kind)})
	writeBytes(h, p.Directive.Code)
	var out types.ContentAddress
	copy(out[:], h.Sum(nil))
	return out
}

// Contract returns the content address of a contract: the hash over its
// predicates' content addresses in sorted order, plus salt. Sorting by
// predicate content address is the canonical form; insertion enforces
// that predicates already arrive sorted (see core/storage).
func Contract(c types.Contract) types.ContentAddress {
	cas := make([]types.ContentAddress, len(c.Predicates))
	for i, p := range c.Predicates {
		cas[i] = Predicate(p)
	}
	sort.Slice(cas, func(i, j int) bool {
		return lessCA(cas[i], cas[j])
	})
	h := sha256.New()
	for _, ca := range cas {
		h.Write(ca[:])
	}
	var saltBytes [8]byte
	binary.BigEndian.PutUint64(saltBytes[:], uint64(c.Salt))
	h.Write(saltBytes[:])
	var out types.ContentAddress
	copy(out[:], h.Sum(nil))
	return out
}

// PredicateAddresses returns the content addresses of every predicate in
// c, in the same order as c.Predicates (not the sorted canonical order
// used by Contract).
func PredicateAddresses(c types.Contract) []types.ContentAddress {
	out := make([]types.ContentAddress, len(c.Predicates))
	for i, p := range c.Predicates {
		out[i] = Predicate(p)
	}
	return out
}

// IsSortedByAddress reports whether a contract's predicates are already
// in ascending content-address order, the invariant enforced on insert.
func IsSortedByAddress(c types.Contract) bool {
	cas := PredicateAddresses(c)
	for i := 1; i < len(cas); i++ {
		if lessCA(cas[i-1], cas[i]) {
			continue
		}
		if cas[i-1] == cas[i] {
			continue
		}
		return false
	}
	return true
}

// Solution returns the content address of a solution: the hash of its
// canonical form (solution data in declared order).
func Solution(s types.Solution) types.ContentAddress {
	h := sha256.New()
	writeUint64(h, uint64(len(s.Data)))
	for _, d := range s.Data {
		h.Write(d.PredicateToSolve.Contract[:])
		h.Write(d.PredicateToSolve.Predicate[:])
		writeUint64(h, uint64(len(d.DecisionVariables)))
		for _, dv := range d.DecisionVariables {
			if dv.Transient != nil {
				h.Write([]byte{1})
				writeUint64(h, uint64(dv.Transient.DataIndex))
				writeUint64(h, uint64(dv.Transient.VarIndex))
			} else {
				h.Write([]byte{0})
				writeUint64(h, uint64(dv.Value))
			}
		}
		writeUint64(h, uint64(len(d.StateMutations)))
		for _, m := range d.StateMutations {
			writeKey(h, m.Key)
			writeValue(h, m.Value)
		}
		writeUint64(h, uint64(len(d.TransientData)))
		for _, t := range d.TransientData {
			writeKey(h, t.Key)
			writeValue(h, t.Value)
		}
	}
	var out types.ContentAddress
	copy(out[:], h.Sum(nil))
	return out
}

func lessCA(a, b types.ContentAddress) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func writeUint64(h interface{ Write([]byte) (int, error) }, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	h.Write(b[:])
}

func writeBytes(h interface{ Write([]byte) (int, error) }, b []byte) {
	writeUint64(h, uint64(len(b)))
	h.Write(b)
}

func writeKey(h interface{ Write([]byte) (int, error) }, k types.Key) {
	writeUint64(h, uint64(len(k)))
	for _, w := range k {
		writeUint64(h, uint64(w))
	}
}

func writeValue(h interface{ Write([]byte) (int, error) }, v types.Value) {
	writeUint64(h, uint64(len(v)))
	for _, w := range v {
		writeUint64(h, uint64(w))
	}
}
