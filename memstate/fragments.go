// Package memstate implements the interval-based state the replay
// engine needs to answer "what do we know about this memory, and from
// where": the fragment store (contiguous spans of memory with known
// value state, with an exact overwrite history for undo) and the
// known-region map (address ranges the recorded program referenced but
// did not allocate itself).
package memstate

import (
	"fmt"
	"sort"

	"golang.org/x/exp/slices"
)

// OverwriteKind distinguishes the four ways adding a new fragment can
// affect a fragment already present.
type OverwriteKind uint8

const (
	OverwriteReplace OverwriteKind = iota
	OverwriteSplitFragment
	OverwriteTrimLeft
	OverwriteTrimRight
)

func (k OverwriteKind) String() string {
	switch k {
	case OverwriteReplace:
		return "replace"
	case OverwriteSplitFragment:
		return "split"
	case OverwriteTrimLeft:
		return "trim-left"
	case OverwriteTrimRight:
		return "trim-right"
	default:
		return fmt.Sprintf("OverwriteKind(%d)", k)
	}
}

// Fragment is a contiguous span of memory the engine has recorded value
// state for, tagged with the event-stream offset of the write that
// produced it so replay can recover the actual bytes on demand.
type Fragment struct {
	Address    uint64
	Length     uint64
	StateOff   int64 // offset of the State{Untyped,Typed} record that wrote it
	ThreadTime uint64
}

func (f Fragment) last() uint64 { return f.Address + f.Length - 1 }

// Overwrite records one fragment that was fully or partially displaced
// by an Add, and how, so the navigator can reconstruct it exactly on
// move_backward.
type Overwrite struct {
	Kind OverwriteKind
	// Old is the fragment exactly as it existed before this Add: for
	// Replace and TrimRight it is also exactly how to restore it (its
	// Address never moved); for Split and TrimLeft, part of Old's
	// address range is now occupied by a fragment that starts at
	// Boundary, which Undo must remove or shrink away before Old can
	// be written back in full.
	Old      Fragment
	Boundary uint64
}

// Store holds a collection of non-overlapping Fragments over the address
// space, implemented as a slice kept sorted by Address. A
// std::map<uintptr_t, Fragment> becomes a sorted slice plus binary
// search here, the same substitution perfsession.Ranges makes for
// sorted, non-overlapping range lookups.
type Store struct {
	frags []Fragment
}

// indexOf returns the index of the first fragment with Address >= addr,
// i.e. the slice-insertion point for a fragment beginning at addr.
func (s *Store) indexOf(addr uint64) int {
	return sort.Search(len(s.frags), func(i int) bool {
		return s.frags[i].Address >= addr
	})
}

// Add inserts a new fragment at [address, address+length), clearing
// away (and reporting) whatever it overwrites. This is a direct
// transliteration of TraceMemoryState::add/clear from the original
// engine: clear first, then insert the new fragment uncontested.
func (s *Store) Add(address, length uint64, stateOff int64, threadTime uint64) []Overwrite {
	overwritten := s.Clear(address, length)
	frag := Fragment{Address: address, Length: length, StateOff: stateOff, ThreadTime: threadTime}
	i := s.indexOf(address)
	s.frags = slices.Insert(s.frags, i, frag)
	return overwritten
}

// Clear removes all fragment coverage over [address, address+length),
// trimming or splitting any fragment that only partially overlaps, and
// returns what was overwritten in address order.
func (s *Store) Clear(address, length uint64) []Overwrite {
	if length == 0 {
		return nil
	}
	last := address + length - 1
	var out []Overwrite

	i := s.indexOf(address)

	// Does the fragment immediately before i overlap our start?
	if i > 0 {
		prev := &s.frags[i-1]
		if prev.last() >= address {
			switch {
			case prev.last() > last: // split
				right := *prev
				right.Address = last + 1
				right.Length = prev.last() - last
				old := *prev
				prev.Length = address - prev.Address
				s.frags = slices.Insert(s.frags, i, right)
				out = append(out, Overwrite{Kind: OverwriteSplitFragment, Old: old, Boundary: last + 1})
				i++ // right is now at index i; advance past it below
			default: // right-trim
				old := *prev
				prev.Length = address - prev.Address
				out = append(out, Overwrite{Kind: OverwriteTrimRight, Old: old})
			}
		}
	}

	// Recompute i: the first fragment with Address >= address.
	i = s.indexOf(address)
	for i < len(s.frags) {
		f := s.frags[i]
		if f.Address > last {
			break
		}
		if f.last() <= last {
			out = append(out, Overwrite{Kind: OverwriteReplace, Old: f})
			s.frags = slices.Delete(s.frags, i, i+1)
			continue
		}
		// Left-trim: the fragment extends past our range on the right.
		old := f
		s.frags[i].Address = last + 1
		s.frags[i].Length = f.last() - last
		out = append(out, Overwrite{Kind: OverwriteTrimLeft, Old: old, Boundary: last + 1})
		break
	}

	return out
}

// Undo reverses a single Overwrite produced by a prior Add/Clear,
// restoring the fragment store to the state it had immediately before
// that overwrite. Overwrites must be undone in reverse of the order
// they were produced in (last-applied, first-undone), so that backward
// replay exactly inverts forward replay.
func (s *Store) Undo(ow Overwrite) {
	switch ow.Kind {
	case OverwriteReplace:
		i := s.indexOf(ow.Old.Address)
		s.frags = slices.Insert(s.frags, i, ow.Old)
	case OverwriteSplitFragment:
		// The split left a shrunk fragment at Old.Address untouched in
		// place and a new right-hand remainder starting at Boundary;
		// undoing removes the remainder and restores Old in full.
		if j := s.indexOf(ow.Boundary); j < len(s.frags) && s.frags[j].Address == ow.Boundary {
			s.frags = slices.Delete(s.frags, j, j+1)
		}
		if i := s.indexOf(ow.Old.Address); i < len(s.frags) && s.frags[i].Address == ow.Old.Address {
			s.frags[i] = ow.Old
		}
	case OverwriteTrimLeft:
		// The trim left the fragment's remainder starting at Boundary;
		// undoing removes that remainder and reinserts Old at its
		// original (smaller) address.
		if idx := s.indexOf(ow.Boundary); idx < len(s.frags) && s.frags[idx].Address == ow.Boundary {
			s.frags = slices.Delete(s.frags, idx, idx+1)
		}
		i := s.indexOf(ow.Old.Address)
		s.frags = slices.Insert(s.frags, i, ow.Old)
	case OverwriteTrimRight:
		idx := s.indexOf(ow.Old.Address)
		if idx < len(s.frags) && s.frags[idx].Address == ow.Old.Address {
			s.frags[idx] = ow.Old
		}
	}
}

// ContainsKnown reports whether every byte in [address, address+length)
// is covered by some fragment, i.e. hasKnownState from the original.
func (s *Store) ContainsKnown(address, length uint64) bool {
	if length == 0 {
		return true
	}
	last := address + length - 1
	i := s.indexOf(address)
	if i == len(s.frags) || s.frags[i].Address != address {
		if i == 0 || s.frags[i-1].last() < address {
			return false
		}
		i--
	}
	// Walk forward through adjacent fragments until last is covered.
	for {
		f := s.frags[i]
		if f.last() >= last {
			return true
		}
		i++
		if i == len(s.frags) || s.frags[i].Address != f.last()+1 {
			return false
		}
	}
}

// Containing returns the fragment covering address, if any.
func (s *Store) Containing(address uint64) (Fragment, bool) {
	i := s.indexOf(address)
	if i < len(s.frags) && s.frags[i].Address == address {
		return s.frags[i], true
	}
	if i > 0 && s.frags[i-1].last() >= address {
		return s.frags[i-1], true
	}
	return Fragment{}, false
}

// Fragments returns the store's fragments in address order. The
// returned slice must not be mutated by the caller.
func (s *Store) Fragments() []Fragment { return s.frags }
