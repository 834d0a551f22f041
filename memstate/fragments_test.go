package memstate

import "testing"

func TestStoreAddNoOverlap(t *testing.T) {
	var s Store
	s.Add(0x100, 16, 0, 0)
	s.Add(0x200, 16, 0, 0)

	if !s.ContainsKnown(0x100, 16) {
		t.Error("expected [0x100, 0x110) to be known")
	}
	if !s.ContainsKnown(0x200, 16) {
		t.Error("expected [0x200, 0x210) to be known")
	}
	if s.ContainsKnown(0x110, 1) {
		t.Error("expected gap between fragments to be unknown")
	}
}

func TestStoreAddReplace(t *testing.T) {
	var s Store
	s.Add(0x100, 16, 0, 0)
	ow := s.Add(0x100, 16, 1, 1)
	if len(ow) != 1 || ow[0].Kind != OverwriteReplace {
		t.Fatalf("expected a single Replace overwrite, got %#v", ow)
	}
	if len(s.Fragments()) != 1 {
		t.Fatalf("expected exactly one fragment after replace, got %d", len(s.Fragments()))
	}
}

func TestStoreAddSplit(t *testing.T) {
	var s Store
	s.Add(0x100, 16, 0, 0)      // [0x100, 0x110)
	ow := s.Add(0x104, 4, 1, 1) // [0x104, 0x108) carved out of the middle

	if len(ow) != 1 || ow[0].Kind != OverwriteSplitFragment {
		t.Fatalf("expected a single Split overwrite, got %#v", ow)
	}
	if !s.ContainsKnown(0x100, 4) {
		t.Error("expected left remainder [0x100,0x104) to still be known")
	}
	if !s.ContainsKnown(0x108, 8) {
		t.Error("expected right remainder [0x108,0x110) to still be known")
	}
	if !s.ContainsKnown(0x104, 4) {
		t.Error("expected new fragment [0x104,0x108) to be known")
	}
}

func TestStoreTrimRight(t *testing.T) {
	var s Store
	s.Add(0x100, 16, 0, 0) // [0x100, 0x110)

	ow := s.Add(0x108, 16, 1, 1) // overlaps right half and extends past it
	found := false
	for _, o := range ow {
		if o.Kind == OverwriteTrimRight {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a TrimRight overwrite, got %#v", ow)
	}
	if !s.ContainsKnown(0x100, 8) {
		t.Error("expected [0x100,0x108) to remain known after right-trim")
	}
}

func TestStoreAddSplitThenUndo(t *testing.T) {
	var s Store
	s.Add(0x100, 16, 0, 0)      // [0x100, 0x110)
	ow := s.Add(0x104, 4, 1, 1) // splits into [0x100,0x104) and [0x108,0x110) around new [0x104,0x108)

	// Mirror applyBackward: remove the fragment the forward step added,
	// then undo every overwrite it produced, in reverse.
	s.Clear(0x104, 4)
	for i := len(ow) - 1; i >= 0; i-- {
		s.Undo(ow[i])
	}

	if !s.ContainsKnown(0x100, 16) {
		t.Fatal("expected split to be fully undone")
	}
	if len(s.Fragments()) != 1 {
		t.Fatalf("expected exactly one fragment after undo, got %d: %#v", len(s.Fragments()), s.Fragments())
	}
}

func TestStoreTrimLeftThenUndo(t *testing.T) {
	var s Store
	s.Add(0x200, 16, 0, 0) // [0x200, 0x210)
	// Clear region starts before the fragment and ends inside it,
	// consuming the fragment's head and leaving its tail in place.
	ow := s.Add(0x1f8, 16, 1, 1) // [0x1f8, 0x208)
	if len(ow) != 1 || ow[0].Kind != OverwriteTrimLeft {
		t.Fatalf("expected a single TrimLeft overwrite, got %#v", ow)
	}
	if !s.ContainsKnown(0x208, 8) {
		t.Error("expected [0x208,0x210) to remain known after left-trim")
	}

	s.Clear(0x1f8, 16)
	for i := len(ow) - 1; i >= 0; i-- {
		s.Undo(ow[i])
	}

	if !s.ContainsKnown(0x200, 16) {
		t.Fatal("expected trim-left to be fully undone")
	}
	if len(s.Fragments()) != 1 {
		t.Fatalf("expected exactly one fragment after undo, got %d: %#v", len(s.Fragments()), s.Fragments())
	}
}

func TestStoreClearThenUndo(t *testing.T) {
	var s Store
	s.Add(0x100, 16, 0, 0)
	ow := s.Clear(0x100, 16)
	if s.ContainsKnown(0x100, 16) {
		t.Fatal("expected memory to be unknown after Clear")
	}
	for i := len(ow) - 1; i >= 0; i-- {
		s.Undo(ow[i])
	}
	if !s.ContainsKnown(0x100, 16) {
		t.Fatal("expected Undo to restore known state")
	}
}

func TestKnownRegionsLookup(t *testing.T) {
	var k KnownRegions
	k.Add(0x1000, 0x1000, PermissionReadOnly)

	if p, ok := k.Lookup(0x1500); !ok || p != PermissionReadOnly {
		t.Fatalf("Lookup(0x1500) = %v, %v; want ReadOnly, true", p, ok)
	}
	if _, ok := k.Lookup(0x3000); ok {
		t.Fatal("expected 0x3000 to be outside any known region")
	}

	k.Remove(0x1000)
	if _, ok := k.Lookup(0x1500); ok {
		t.Fatal("expected region to be gone after Remove")
	}
}

func TestAllocationsRoundTrip(t *testing.T) {
	var a Allocations
	a.Add(0x2000, 64, 10)

	alloc, ok := a.Lookup(0x2000)
	if !ok || alloc.Size != 64 {
		t.Fatalf("Lookup(0x2000) = %#v, %v", alloc, ok)
	}

	if _, ok := a.Containing(0x2010); !ok {
		t.Fatal("expected 0x2010 to fall within the live allocation")
	}

	removed, ok := a.Remove(0x2000)
	if !ok {
		t.Fatal("expected Remove to find the allocation")
	}
	if _, ok := a.Lookup(0x2000); ok {
		t.Fatal("expected allocation to be gone after Remove")
	}

	a.Restore(removed)
	if _, ok := a.Lookup(0x2000); !ok {
		t.Fatal("expected Restore to bring the allocation back")
	}
}
