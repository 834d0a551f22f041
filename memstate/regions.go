package memstate

import "sort"

// Permission describes what a known region may be used for: memory the
// engine is aware of (e.g. a static global, the stack, or a memory-mapped
// region) but did not itself allocate via Malloc.
type Permission uint8

const (
	PermissionNone Permission = iota
	PermissionReadOnly
	PermissionWriteOnly
	PermissionReadWrite
)

func (p Permission) String() string {
	switch p {
	case PermissionNone:
		return "none"
	case PermissionReadOnly:
		return "read-only"
	case PermissionWriteOnly:
		return "write-only"
	case PermissionReadWrite:
		return "read-write"
	default:
		return "invalid"
	}
}

type region struct {
	address, length uint64
	perm            Permission
}

// KnownRegions is a set of disjoint address ranges with associated
// access permissions, used to validate accesses to memory the recorded
// program did not allocate itself. Modeled on perfsession.Ranges's sorted
// interval-range helper, specialized from an arbitrary-value range map to
// one storing only a Permission.
type KnownRegions struct {
	rs []region
}

// Add registers [address, address+length) with perm. Add is undefined
// if the range overlaps a region already present.
func (k *KnownRegions) Add(address, length uint64, perm Permission) {
	i := sort.Search(len(k.rs), func(i int) bool {
		return k.rs[i].address >= address
	})
	k.rs = append(k.rs, region{})
	copy(k.rs[i+1:], k.rs[i:])
	k.rs[i] = region{address: address, length: length, perm: perm}
}

// Remove deletes the region beginning exactly at address, returning its
// length and permission so a backward-replaying navigator can restore
// it exactly (the trace's KnownRegionRemove record carries only the
// address, not the extent it covered).
func (k *KnownRegions) Remove(address uint64) (length uint64, perm Permission, ok bool) {
	i := sort.Search(len(k.rs), func(i int) bool {
		return k.rs[i].address >= address
	})
	if i < len(k.rs) && k.rs[i].address == address {
		r := k.rs[i]
		k.rs = append(k.rs[:i], k.rs[i+1:]...)
		return r.length, r.perm, true
	}
	return 0, PermissionNone, false
}

// Lookup returns the permission in effect at address, and whether
// address falls within any known region at all.
func (k *KnownRegions) Lookup(address uint64) (Permission, bool) {
	i := sort.Search(len(k.rs), func(i int) bool {
		return address < k.rs[i].address+k.rs[i].length
	})
	if i < len(k.rs) && k.rs[i].address <= address {
		return k.rs[i].perm, true
	}
	return PermissionNone, false
}

// Allocation is one live dynamic allocation (malloc), keyed by address.
type Allocation struct {
	Address               uint64
	Size                  uint64
	AllocatingInstruction uint32
}

// Allocations is the address-keyed table of currently-live dynamic
// allocations, mirroring the original engine's DynamicAllocation
// tracking. Unlike KnownRegions and the fragment Store, allocations
// never overlap or split, so a plain map suffices here — the sorted-
// slice treatment is reserved for types that need range containment.
type Allocations struct {
	byAddr map[uint64]Allocation
}

// Add records a new allocation. The caller is responsible for ensuring
// address is not already live; per the engine's invariants, a malloc of
// an address already on the table never happens for a well-formed trace.
func (a *Allocations) Add(address, size uint64, instr uint32) {
	if a.byAddr == nil {
		a.byAddr = make(map[uint64]Allocation)
	}
	a.byAddr[address] = Allocation{Address: address, Size: size, AllocatingInstruction: instr}
}

// Remove deletes the allocation at address, returning it so the caller
// (a backward-replaying navigator reversing a Free) can restore it.
func (a *Allocations) Remove(address uint64) (Allocation, bool) {
	alloc, ok := a.byAddr[address]
	if ok {
		delete(a.byAddr, address)
	}
	return alloc, ok
}

// Restore re-adds an allocation previously removed by Remove, used when
// undoing a Free during backward replay.
func (a *Allocations) Restore(alloc Allocation) {
	if a.byAddr == nil {
		a.byAddr = make(map[uint64]Allocation)
	}
	a.byAddr[alloc.Address] = alloc
}

// Lookup returns the live allocation at address, if any.
func (a *Allocations) Lookup(address uint64) (Allocation, bool) {
	alloc, ok := a.byAddr[address]
	return alloc, ok
}

// Containing returns the live allocation whose range [Address,
// Address+Size) contains address, if any. This is a linear scan: the
// original engine's own dynamic allocation lookup by containment is
// likewise a fallback path used only for misbehaving-program
// diagnostics, not the steady-state hot path.
func (a *Allocations) Containing(address uint64) (Allocation, bool) {
	for _, alloc := range a.byAddr {
		if address >= alloc.Address && address < alloc.Address+alloc.Size {
			return alloc, true
		}
	}
	return Allocation{}, false
}
