// Package pmap simulates the hardware page table. Entries carry the same
// present/writable/user/accessed/dirty bits the MMU would maintain; the
// table itself is a flat index from page-aligned virtual address to entry.
package pmap

import "sync"

import "defs"
import "mem"

// Pte_t is a page table entry: frame address bits plus flag bits.
type Pte_t uintptr

// PTE_P marks a page as present.
const PTE_P Pte_t = 1 << 0

// PTE_W marks a page writable.
const PTE_W Pte_t = 1 << 1

// PTE_U marks a page user-accessible.
const PTE_U Pte_t = 1 << 2

// PTE_A is set by the MMU when the page is accessed.
const PTE_A Pte_t = 1 << 5

// PTE_D is set by the MMU when the page is written.
const PTE_D Pte_t = 1 << 6

// PTE_ADDR extracts the frame address bits of a PTE.
const PTE_ADDR Pte_t = Pte_t(defs.PGMASK)

// Pml4_t is a per-process top-level page table.
type Pml4_t struct {
	sync.Mutex
	entries map[uintptr]Pte_t
}

// Mkpml4 allocates an empty page table.
func Mkpml4() *Pml4_t {
	p := &Pml4_t{}
	p.entries = make(map[uintptr]Pte_t)
	return p
}

func (p *Pml4_t) pte(va uintptr) (Pte_t, bool) {
	pte, ok := p.entries[defs.Pgrounddown(va)]
	return pte, ok
}

// Set_page installs a mapping from va to the frame at pa. It returns
// false if a present mapping already occupies va.
func (p *Pml4_t) Set_page(va uintptr, pa mem.Pa_t, writable bool) bool {
	p.Lock()
	defer p.Unlock()
	va = defs.Pgrounddown(va)
	if old, ok := p.entries[va]; ok && old&PTE_P != 0 {
		return false
	}
	pte := Pte_t(pa)&PTE_ADDR | PTE_P | PTE_U
	if writable {
		pte |= PTE_W
	}
	p.entries[va] = pte
	return true
}

// Clear_page removes the mapping for va and invalidates it. Clearing an
// absent mapping is a no-op.
func (p *Pml4_t) Clear_page(va uintptr) {
	p.Lock()
	defer p.Unlock()
	delete(p.entries, defs.Pgrounddown(va))
}

// Lookup returns the frame mapped at va, if present.
func (p *Pml4_t) Lookup(va uintptr) (mem.Pa_t, bool) {
	p.Lock()
	defer p.Unlock()
	pte, ok := p.pte(va)
	if !ok || pte&PTE_P == 0 {
		return 0, false
	}
	return mem.Pa_t(pte & PTE_ADDR), true
}

// Is_mapped reports whether va has a present mapping.
func (p *Pml4_t) Is_mapped(va uintptr) bool {
	_, ok := p.Lookup(va)
	return ok
}

// Is_writable reports whether the present mapping at va permits writes.
func (p *Pml4_t) Is_writable(va uintptr) bool {
	p.Lock()
	defer p.Unlock()
	pte, ok := p.pte(va)
	return ok && pte&PTE_P != 0 && pte&PTE_W != 0
}

// Is_accessed reports the accessed bit for va.
func (p *Pml4_t) Is_accessed(va uintptr) bool {
	p.Lock()
	defer p.Unlock()
	pte, ok := p.pte(va)
	return ok && pte&PTE_A != 0
}

// Set_accessed sets or clears the accessed bit for va.
func (p *Pml4_t) Set_accessed(va uintptr, b bool) {
	p.Lock()
	defer p.Unlock()
	va = defs.Pgrounddown(va)
	pte, ok := p.entries[va]
	if !ok {
		return
	}
	if b {
		pte |= PTE_A
	} else {
		pte &^= PTE_A
	}
	p.entries[va] = pte
}

// Is_dirty reports the dirty bit for va.
func (p *Pml4_t) Is_dirty(va uintptr) bool {
	p.Lock()
	defer p.Unlock()
	pte, ok := p.pte(va)
	return ok && pte&PTE_D != 0
}

// Set_dirty sets or clears the dirty bit for va.
func (p *Pml4_t) Set_dirty(va uintptr, b bool) {
	p.Lock()
	defer p.Unlock()
	va = defs.Pgrounddown(va)
	pte, ok := p.entries[va]
	if !ok {
		return
	}
	if b {
		pte |= PTE_D
	} else {
		pte &^= PTE_D
	}
	p.entries[va] = pte
}

// Access records a load or store against the present mapping at va the
// way the MMU would: the accessed bit is set, and the dirty bit too on a
// store. It returns the mapped frame, or false when va is not present or
// the store is not permitted.
func (p *Pml4_t) Access(va uintptr, write bool) (mem.Pa_t, bool) {
	p.Lock()
	defer p.Unlock()
	key := defs.Pgrounddown(va)
	pte, ok := p.entries[key]
	if !ok || pte&PTE_P == 0 {
		return 0, false
	}
	if write && pte&PTE_W == 0 {
		return 0, false
	}
	pte |= PTE_A
	if write {
		pte |= PTE_D
	}
	p.entries[key] = pte
	return mem.Pa_t(pte & PTE_ADDR), true
}
