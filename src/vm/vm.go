// Package vm implements the virtual memory core: lazy page
// materialization, the page fault path, stack growth, memory-mapped
// files, and eviction to a swap device shared by every process.
package vm

import "fmt"

import "bdev"
import "defs"
import "frame"
import "mem"
import "pmap"
import "swap"

var vm_debug = false

// POOLBASE is the physical address of the first user frame.
const POOLBASE mem.Pa_t = 0x100000

// Vm_init brings up the process-wide VM state: the physical frame pool,
// the frame table, and the swap table. The tables outlive every
// process.
func Vm_init(poolpages int, swapdisk bdev.Disk_i) {
	mem.Phys_init(POOLBASE, poolpages)
	frame.Ftable_init(mem.Physmem)
	swap.Swap_init(swapdisk)
}

// Trapframe_t carries the user register state the fault path inspects.
type Trapframe_t struct {
	Rsp uintptr
}

// Vm_t represents a process address space: the hardware page table, the
// supplemental page table, and the list of mapping heads.
type Vm_t struct {
	Pml4  *pmap.Pml4_t
	Spt   Spt_t
	Tf    Trapframe_t
	mmaps Pagelist_t
}

// Mkvm allocates an empty address space.
func Mkvm() *Vm_t {
	as := &Vm_t{}
	as.Pml4 = pmap.Mkpml4()
	as.Spt.Init()
	as.mmaps.Init()
	return as
}

// Vm_alloc_page_with_initializer reserves a pending page at va that
// will become ttype on its first touch, running init over aux to fill
// the frame. It fails on collision or exhausted allocation and leaks
// nothing.
func (as *Vm_t) Vm_alloc_page_with_initializer(ttype defs.Pgtype_t, va uintptr,
	writable bool, init Init_t, aux *Lsargs_t) bool {
	if as.Spt.Find(va) != nil {
		return false
	}
	pg := mkuninit(as, ttype, va, writable, init, aux)
	return as.Spt.Insert(pg)
}

// Vm_alloc_page reserves a pending page with no initializer.
func (as *Vm_t) Vm_alloc_page(ttype defs.Pgtype_t, va uintptr, writable bool) bool {
	return as.Vm_alloc_page_with_initializer(ttype, va, writable, nil, nil)
}

// Vm_claim_page reserves an anonymous writable page at va if the
// address is free and materializes it immediately.
func (as *Vm_t) Vm_claim_page(va uintptr) bool {
	va = defs.Pgrounddown(va)
	pg := as.Spt.Find(va)
	if pg == nil {
		if !as.Vm_alloc_page(defs.VM_ANON, va, true) {
			return false
		}
		pg = as.Spt.Find(va)
	}
	return as.Do_claim(pg)
}

// vm_get_frame obtains a frame for a page: a fresh one from the pool,
// or, when the pool is dry, the clock victim's after its page has been
// written out. The frame table lock is never held across the victim's
// I/O.
func vm_get_frame() *frame.Frame_t {
	pa, ok := mem.Physmem.Palloc()
	if !ok {
		vic := frame.Ftbl.Victim()
		if vm_debug {
			fmt.Printf("evict %#x\n", vic.Pa)
		}
		if !vic.Pg.Swapout() {
			panic("victim swapout failed")
		}
		frame.Ftbl.Unregister(vic)
		pa = vic.Pa
		// the next owner expects a zeroed frame
		*mem.Physmem.Dmap(pa) = mem.Bytepg_t{}
		Vmstats.Evictions.Inc()
	}
	f := &frame.Frame_t{Pa: pa}
	frame.Ftbl.Register(f)
	return f
}

// Do_claim materializes pg: obtain a frame, link it, install the
// hardware mapping, and run the variant's swap-in. The mapping is
// observable before swap-in completes.
func (as *Vm_t) Do_claim(pg *Page_t) bool {
	if pg.frame != nil {
		// another thread of this process already materialized it
		return true
	}
	f := vm_get_frame()
	f.Pg = pg
	pg.frame = f
	if !as.Pml4.Set_page(pg.va, f.Pa, pg.writable) {
		panic("page table install failed")
	}
	return pg.ops.swapin(pg, mem.Physmem.Dmap(f.Pa))
}

// stack_should_grow applies the stack heuristic: the address lies in
// the legal stack window and the current stack pointer's page is itself
// not yet mapped.
func (as *Vm_t) stack_should_grow(tf *Trapframe_t, addr uintptr) bool {
	if addr < defs.USERSTACK-defs.MAXSTACK || addr >= defs.USERSTACK {
		return false
	}
	return !as.Pml4.Is_mapped(defs.Pgrounddown(tf.Rsp))
}

// stack_growth claims anonymous stack pages from va up to the first
// address that is already reserved.
func (as *Vm_t) stack_growth(va uintptr) bool {
	for ; va < defs.USERSTACK && as.Spt.Find(va) == nil; va += uintptr(defs.PGSIZE) {
		if !as.Vm_alloc_page(defs.VM_ANON|defs.VM_MARKER_0, va, true) {
			return false
		}
		if !as.Do_claim(as.Spt.Find(va)) {
			return false
		}
	}
	Vmstats.Stackgrows.Inc()
	return true
}

// Try_handle_fault resolves a CPU page fault at addr. It returns false
// when the access is illegal and the process should be killed.
func (as *Vm_t) Try_handle_fault(tf *Trapframe_t, addr uintptr,
	user, write, notpresent bool) bool {
	Vmstats.Faults.Inc()
	if !notpresent && write {
		// write to a present page: write protection is out of scope
		Vmstats.Faultfails.Inc()
		return false
	}
	va := defs.Pgrounddown(addr)
	pg := as.Spt.Find(va)
	if pg == nil {
		if as.stack_should_grow(tf, addr) && as.stack_growth(va) {
			return true
		}
		Vmstats.Faultfails.Inc()
		return false
	}
	if !as.Do_claim(pg) {
		Vmstats.Faultfails.Inc()
		return false
	}
	return true
}
