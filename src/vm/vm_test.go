package vm

import "testing"

import "github.com/stretchr/testify/assert"

import "bdev"
import "defs"
import "fdops"
import "mem"
import "swap"

const pg = uintptr(defs.PGSIZE)

func boot(poolpages, swapslots int) {
	Vm_init(poolpages, bdev.MkMemdisk(swapslots*defs.SEC_PER_PG))
}

func mkfile(n int, b uint8) *fdops.Memfile_t {
	data := make([]uint8, n)
	for i := range data {
		data[i] = b
	}
	return fdops.MkMemfile(data)
}

func TestLazyFileLoad(t *testing.T) {
	boot(8, 16)
	as := Mkvm()
	f := mkfile(5000, 'A')

	addr, err := as.Do_mmap(0x10000, 5000, true, f, 0)
	assert.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, uintptr(0x10000), addr)

	// no fault yet: both pages pending, neither resident
	assert.Equal(t, 2, as.Spt.Len())
	for _, p := range as.Spt.Pages() {
		assert.Equal(t, defs.VM_UNINIT, defs.VM_TYPE(p.Type()))
		assert.False(t, p.Resident())
	}

	v, rerr := as.Userreadn(0x10000, 1)
	assert.Equal(t, defs.Err_t(0), rerr)
	assert.Equal(t, int('A'), v)

	first := as.Spt.Find(0x10000)
	second := as.Spt.Find(0x10000 + pg)
	assert.Equal(t, defs.VM_FILE, defs.VM_TYPE(first.Type()))
	assert.True(t, first.Resident())
	// the second page was never touched and stays pending
	assert.Equal(t, defs.VM_UNINIT, defs.VM_TYPE(second.Type()))
	assert.False(t, second.Resident())
}

func TestStackGrowth(t *testing.T) {
	boot(8, 16)
	as := Mkvm()
	as.Tf.Rsp = 0x4747F000

	ok := as.Try_handle_fault(&as.Tf, 0x4747F000, true, true, true)
	assert.True(t, ok)

	p := as.Spt.Find(0x4747F000)
	assert.NotNil(t, p)
	assert.True(t, p.Resident())
	assert.Equal(t, defs.VM_ANON, defs.VM_TYPE(p.Type()))
	assert.NotZero(t, p.Type()&defs.VM_MARKER_0)

	// fresh stack memory reads zero
	v, err := as.Userreadn(0x4747F000, 8)
	assert.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, 0, v)
}

func TestStackWindowRejected(t *testing.T) {
	boot(8, 16)
	as := Mkvm()
	as.Tf.Rsp = 0x4747F000

	// below the 1 MiB window
	below := defs.USERSTACK - defs.MAXSTACK - pg
	assert.False(t, as.Try_handle_fault(&as.Tf, below, true, true, true))
	// unrelated address entirely
	assert.False(t, as.Try_handle_fault(&as.Tf, 0x30000000, true, false, true))
}

func TestWriteToPresentFails(t *testing.T) {
	boot(8, 16)
	as := Mkvm()
	f := mkfile(defs.PGSIZE, 'r')
	_, merr := as.Do_mmap(0x10000, defs.PGSIZE, false, f, 0)
	assert.Equal(t, defs.Err_t(0), merr)

	// materialize read-only, then store into it
	_, err := as.Userreadn(0x10000, 1)
	assert.Equal(t, defs.Err_t(0), err)
	// the hardware mapping carries the recorded protection
	assert.True(t, as.Pml4.Is_mapped(0x10000))
	assert.False(t, as.Pml4.Is_writable(0x10000))
	err = as.Userwriten(0x10000, 1, 7)
	assert.Equal(t, -defs.EFAULT, err)
}

func TestEvictionCycle(t *testing.T) {
	boot(4, 64)
	as := Mkvm()
	base := uintptr(0x10000000)

	evictions := Vmstats.Evictions.Get()
	for i := 0; i < 5; i++ {
		va := base + uintptr(i)*pg
		assert.True(t, as.Vm_alloc_page(defs.VM_ANON, va, true))
		assert.Equal(t, defs.Err_t(0), as.Userwriten(va, 1, 0x50+i))
	}
	// the fifth touch had to reclaim a frame
	assert.Greater(t, Vmstats.Evictions.Get(), evictions)

	swapped := 0
	for _, p := range as.Spt.Pages() {
		if !p.Resident() {
			assert.True(t, p.anon.swapped)
			assert.True(t, swap.Swp.Slot_used(p.anon.slot))
			swapped++
		}
	}
	assert.Equal(t, 1, swapped)

	// every page's contents survive restoration via the fault path
	for i := 0; i < 5; i++ {
		v, err := as.Userreadn(base+uintptr(i)*pg, 1)
		assert.Equal(t, defs.Err_t(0), err)
		assert.Equal(t, 0x50+i, v)
	}
}

func TestSwapIdempotence(t *testing.T) {
	boot(2, 64)
	as := Mkvm()
	va := uintptr(0x10000000)

	pattern := make([]uint8, defs.PGSIZE)
	for i := range pattern {
		pattern[i] = uint8(i*7 + 3)
	}
	assert.True(t, as.Vm_alloc_page(defs.VM_ANON, va, true))
	assert.Equal(t, defs.Err_t(0), as.K2user(pattern, va))

	// push the page out by touching others
	for i := 1; i <= 2; i++ {
		ova := va + uintptr(i)*pg
		assert.True(t, as.Vm_alloc_page(defs.VM_ANON, ova, true))
		assert.Equal(t, defs.Err_t(0), as.Userwriten(ova, 1, i))
	}
	assert.False(t, as.Spt.Find(va).Resident())

	got := make([]uint8, defs.PGSIZE)
	assert.Equal(t, defs.Err_t(0), as.User2k(got, va))
	assert.Equal(t, pattern, got)
}

func TestDirtyMunmapWriteback(t *testing.T) {
	boot(8, 16)
	as := Mkvm()
	f := mkfile(3*defs.PGSIZE, 0)
	addr := uintptr(0x20000000)

	_, merr := as.Do_mmap(addr, 3*defs.PGSIZE, true, f, 0)
	assert.Equal(t, defs.Err_t(0), merr)

	wbs := Vmstats.Writebacks.Get()
	assert.Equal(t, defs.Err_t(0), as.Userwriten(addr+0x1500, 1, 0xAB))
	assert.Equal(t, defs.Err_t(0), as.Do_munmap(addr))

	// only the written page went back to the file
	assert.Equal(t, wbs+1, Vmstats.Writebacks.Get())
	data := f.Readall(3 * defs.PGSIZE)
	assert.Equal(t, uint8(0xAB), data[0x1500])
	data[0x1500] = 0
	assert.Equal(t, make([]uint8, 3*defs.PGSIZE), data)
	assert.Equal(t, 0, as.Spt.Len())
}

func TestCleanUnmapIsIOFree(t *testing.T) {
	boot(8, 16)
	as := Mkvm()
	f := mkfile(2*defs.PGSIZE, 'c')
	addr := uintptr(0x20000000)

	_, merr := as.Do_mmap(addr, 2*defs.PGSIZE, true, f, 0)
	assert.Equal(t, defs.Err_t(0), merr)
	_, err := as.Userreadn(addr, 1)
	assert.Equal(t, defs.Err_t(0), err)

	wbs := Vmstats.Writebacks.Get()
	assert.Equal(t, defs.Err_t(0), as.Do_munmap(addr))
	assert.Equal(t, wbs, Vmstats.Writebacks.Get())
}

func TestMmapRoundTrip(t *testing.T) {
	boot(8, 16)
	as := Mkvm()
	const length = 5000
	f := mkfile(length, 'A')
	addr := uintptr(0x20000000)

	_, merr := as.Do_mmap(addr, length, true, f, 0)
	assert.Equal(t, defs.Err_t(0), merr)

	image := make([]uint8, length)
	for i := range image {
		image[i] = uint8(i % 253)
	}
	assert.Equal(t, defs.Err_t(0), as.K2user(image, addr))
	assert.Equal(t, defs.Err_t(0), as.Do_munmap(addr))

	assert.Equal(t, image, f.Readall(length))
}

func TestDoubleMmapRejected(t *testing.T) {
	boot(8, 16)
	as := Mkvm()
	f := mkfile(2*defs.PGSIZE, 'x')
	addr := uintptr(0x20000000)

	_, merr := as.Do_mmap(addr, 2*defs.PGSIZE, true, f, 0)
	assert.Equal(t, defs.Err_t(0), merr)
	_, merr = as.Do_mmap(addr+pg, defs.PGSIZE, true, f, 0)
	assert.Equal(t, -defs.EEXIST, merr)

	// the first mapping is intact
	assert.Equal(t, 2, as.Spt.Len())
	v, err := as.Userreadn(addr+pg, 1)
	assert.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, int('x'), v)
}

func TestMmapArgumentChecks(t *testing.T) {
	boot(8, 16)
	as := Mkvm()
	f := mkfile(defs.PGSIZE, 'x')

	_, err := as.Do_mmap(0x20000123, defs.PGSIZE, true, f, 0)
	assert.Equal(t, -defs.EINVAL, err)
	_, err = as.Do_mmap(0x20000000, defs.PGSIZE, true, f, 100)
	assert.Equal(t, -defs.EINVAL, err)
	_, err = as.Do_mmap(0x20000000, 0, true, f, 0)
	assert.Equal(t, -defs.EINVAL, err)
	assert.Equal(t, -defs.EINVAL, as.Do_munmap(0x20000000))
}

func TestForkCopyThenDiverge(t *testing.T) {
	boot(8, 16)
	parent := Mkvm()
	va := uintptr(0x10000000)

	assert.True(t, parent.Vm_alloc_page(defs.VM_ANON, va, true))
	assert.Equal(t, defs.Err_t(0), parent.Userwriten(va, 1, 0x11))

	child := Mkvm()
	assert.True(t, Spt_copy(child, parent))

	cv, err := child.Userreadn(va, 1)
	assert.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, 0x11, cv)

	assert.Equal(t, defs.Err_t(0), child.Userwriten(va, 1, 0x22))

	pv, err := parent.Userreadn(va, 1)
	assert.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, 0x11, pv)
	cv, _ = child.Userreadn(va, 1)
	assert.Equal(t, 0x22, cv)
}

func TestForkCopiesLazyAndMapped(t *testing.T) {
	boot(8, 16)
	parent := Mkvm()
	f := mkfile(2*defs.PGSIZE, 'm')
	addr := uintptr(0x20000000)

	_, merr := parent.Do_mmap(addr, 2*defs.PGSIZE, true, f, 0)
	assert.Equal(t, defs.Err_t(0), merr)
	// touch only the first page; the second stays pending in the child too
	_, err := parent.Userreadn(addr, 1)
	assert.Equal(t, defs.Err_t(0), err)

	child := Mkvm()
	assert.True(t, Spt_copy(child, parent))

	cfirst := child.Spt.Find(addr)
	csecond := child.Spt.Find(addr + pg)
	assert.Equal(t, defs.VM_FILE, defs.VM_TYPE(cfirst.Type()))
	assert.True(t, cfirst.Resident())
	assert.Equal(t, defs.VM_UNINIT, defs.VM_TYPE(csecond.Type()))
	assert.Equal(t, defs.VM_FILE, Page_get_type(csecond))

	// the child's mapping is on its own unmap list
	assert.Equal(t, 1, child.mmaps.Len())
	v, _ := child.Userreadn(addr+pg, 1)
	assert.Equal(t, int('m'), v)
}

func TestForkCopiesSwappedPages(t *testing.T) {
	boot(2, 64)
	parent := Mkvm()
	base := uintptr(0x10000000)

	for i := 0; i < 3; i++ {
		va := base + uintptr(i)*pg
		assert.True(t, parent.Vm_alloc_page(defs.VM_ANON, va, true))
		assert.Equal(t, defs.Err_t(0), parent.Userwriten(va, 1, 0x60+i))
	}
	// at least one parent page now lives in swap
	assert.False(t, parent.Spt.Find(base).Resident())

	child := Mkvm()
	assert.True(t, Spt_copy(child, parent))
	for i := 0; i < 3; i++ {
		v, err := child.Userreadn(base+uintptr(i)*pg, 1)
		assert.Equal(t, defs.Err_t(0), err)
		assert.Equal(t, 0x60+i, v)
	}
}

func TestSptKillReleasesEverything(t *testing.T) {
	boot(4, 64)
	as := Mkvm()
	base := uintptr(0x10000000)

	for i := 0; i < 6; i++ {
		va := base + uintptr(i)*pg
		assert.True(t, as.Vm_alloc_page(defs.VM_ANON, va, true))
		assert.Equal(t, defs.Err_t(0), as.Userwriten(va, 1, i))
	}
	f := mkfile(defs.PGSIZE, 0)
	addr := uintptr(0x20000000)
	_, merr := as.Do_mmap(addr, defs.PGSIZE, true, f, 0)
	assert.Equal(t, defs.Err_t(0), merr)
	assert.Equal(t, defs.Err_t(0), as.Userwriten(addr, 1, 0x77))

	Spt_kill(as)

	assert.Equal(t, 0, as.Spt.Len())
	assert.Equal(t, 0, as.mmaps.Len())
	// every frame and every swap slot went back
	assert.Equal(t, 4, mem.Physmem.Pgcount())
	for i := 0; i < swap.Swp.Slots(); i++ {
		assert.False(t, swap.Swp.Slot_used(i))
	}
	// exit flushed the dirty mapped page
	assert.Equal(t, uint8(0x77), f.Readall(1)[0])
}

func TestAllocCollision(t *testing.T) {
	boot(8, 16)
	as := Mkvm()
	va := uintptr(0x10000000)
	assert.True(t, as.Vm_alloc_page(defs.VM_ANON, va, true))
	assert.False(t, as.Vm_alloc_page(defs.VM_ANON, va, true))
}

func TestClaimIsIdempotentWhenResident(t *testing.T) {
	boot(8, 16)
	as := Mkvm()
	va := uintptr(0x10000000)
	assert.True(t, as.Vm_claim_page(va))
	p := as.Spt.Find(va)
	pa := p.Frame_pa()
	// resident pages are mapped at their frame with the recorded
	// protection
	mapped, ok := as.Pml4.Lookup(va)
	assert.True(t, ok)
	assert.Equal(t, pa, mapped)
	assert.True(t, as.Pml4.Is_writable(va))
	assert.True(t, as.Do_claim(p))
	assert.Equal(t, pa, p.Frame_pa())
}
