package vm

import "defs"
import "mem"
import "swap"

// anonops_t implements the operations of anonymous pages: their
// contents move between frames and swap slots.
type anonops_t struct{}

func (anonops_t) ttype() defs.Pgtype_t {
	return defs.VM_ANON
}

// swapin restores the page from its swap slot into the new frame and
// gives the slot back.
func (anonops_t) swapin(pg *Page_t, dst *mem.Bytepg_t) bool {
	a := pg.anon
	if !a.swapped {
		panic("anon swapin without slot")
	}
	swap.Swp.Read_slot(a.slot, dst)
	swap.Swp.Release(a.slot)
	a.slot = -1
	a.swapped = false
	Vmstats.Swapins.Inc()
	return true
}

// swapout writes the frame contents to a fresh swap slot, records it on
// the descriptor, and severs the mapping so the frame can be reused.
func (anonops_t) swapout(pg *Page_t) bool {
	a := pg.anon
	if pg.frame == nil {
		panic("swapout of non-resident page")
	}
	slot := swap.Swp.Acquire()
	swap.Swp.Write_slot(slot, mem.Physmem.Dmap(pg.frame.Pa))
	a.slot = slot
	a.swapped = true
	pg.frame = nil
	pg.pml4.Clear_page(pg.va)
	Vmstats.Swapouts.Inc()
	return true
}

// destroy gives back the swap slot if the page is swapped out. The
// frame, if any, is released by the common teardown.
func (anonops_t) destroy(pg *Page_t) {
	a := pg.anon
	if a.swapped {
		swap.Swp.Release(a.slot)
		a.slot = -1
		a.swapped = false
	}
}
