// Package frame tracks which page owns each physical frame and selects
// eviction victims with the clock policy.
package frame

import "sync"

import "mem"

// Page_i is the view of a resident page the clock needs: its accessed
// bit and its eviction entry point. Implemented by vm's page descriptor.
type Page_i interface {
	Accessed() bool
	Clear_accessed()
	Swapout() bool
}

// Frame_t describes one physical frame owned by a page.
type Frame_t struct {
	Pa mem.Pa_t
	Pg Page_i
}

// Ftable_t is the registry of frames currently owning a page. arr is
// indexed by frame number; ptr is the clock hand.
type Ftable_t struct {
	sync.Mutex
	arr  []*Frame_t
	ptr  int
	phys *mem.Physmem_t
}

// Ftbl is the global frame table instance.
var Ftbl = &Ftable_t{}

// Ftable_init sizes the table to the physical pool. It must run after
// Phys_init.
func Ftable_init(phys *mem.Physmem_t) *Ftable_t {
	ft := Ftbl
	ft.Lock()
	defer ft.Unlock()
	ft.phys = phys
	ft.arr = make([]*Frame_t, phys.Pool_pages())
	ft.ptr = 0
	return ft
}

// Register records f as the owner of its frame slot.
func (ft *Ftable_t) Register(f *Frame_t) {
	idx := ft.phys.Pa2idx(f.Pa)
	ft.Lock()
	defer ft.Unlock()
	if ft.arr[idx] != nil {
		panic("frame slot occupied")
	}
	ft.arr[idx] = f
}

// Unregister clears the slot for f. The frame must be registered.
func (ft *Ftable_t) Unregister(f *Frame_t) {
	idx := ft.phys.Pa2idx(f.Pa)
	ft.Lock()
	defer ft.Unlock()
	if ft.arr[idx] != f {
		panic("unregister of foreign frame")
	}
	ft.arr[idx] = nil
}

// Lookup returns the frame registered for pa, or nil.
func (ft *Ftable_t) Lookup(pa mem.Pa_t) *Frame_t {
	idx := ft.phys.Pa2idx(pa)
	ft.Lock()
	defer ft.Unlock()
	return ft.arr[idx]
}

// Victim selects the next eviction victim with the clock policy: a
// frame whose page's accessed bit is clear is taken; a set bit buys the
// page one more sweep. The caller performs the eviction itself after
// this returns, so no I/O happens under the table lock.
func (ft *Ftable_t) Victim() *Frame_t {
	ft.Lock()
	defer ft.Unlock()
	n := len(ft.arr)
	// two sweeps: the first may only clear accessed bits
	for i := 0; i < 2*n; i++ {
		f := ft.arr[ft.ptr]
		ft.ptr = (ft.ptr + 1) % n
		if f == nil || f.Pg == nil {
			// empty slot, or a frame still being claimed
			continue
		}
		if f.Pg.Accessed() {
			f.Pg.Clear_accessed()
			continue
		}
		return f
	}
	panic("no victim in full frame table")
}
