package vm

import "defs"
import "frame"
import "mem"
import "pmap"

// Init_t is a lazy initializer run on the first touch of a page, after
// the frame is mapped. It returns false to fail the fault.
type Init_t func(pg *Page_t, aux *Lsargs_t) bool

// uninit_t is the payload of a page whose first touch is still pending:
// the initializer pair plus the tag the page will transition to.
type uninit_t struct {
	init  Init_t
	aux   *Lsargs_t
	ttype defs.Pgtype_t
}

// anon_t is the payload of an anonymous page.
type anon_t struct {
	init    Init_t
	aux     *Lsargs_t
	slot    int
	swapped bool
}

// file_t is the payload of a file-backed page. aux records the file
// segment the page shadows.
type file_t struct {
	init Init_t
	aux  *Lsargs_t
}

// Page_t describes one reserved virtual page. A page starts UNINIT and
// is rewritten in place into its anonymous or file-backed form on the
// first fault.
type Page_t struct {
	va       uintptr
	ttype    defs.Pgtype_t
	writable bool
	ops      pgops_i
	frame    *frame.Frame_t
	// the owning process's page table; the process owns it, not the page
	pml4   *pmap.Pml4_t
	owner  *Vm_t
	uninit *uninit_t
	anon   *anon_t
	file   *file_t
}

// Va returns the page's virtual address.
func (pg *Page_t) Va() uintptr {
	return pg.va
}

// Writable reports whether the page was reserved writable.
func (pg *Page_t) Writable() bool {
	return pg.writable
}

// Resident reports whether the page currently owns a frame.
func (pg *Page_t) Resident() bool {
	return pg.frame != nil
}

// Type returns the page's current tag including marker flags.
func (pg *Page_t) Type() defs.Pgtype_t {
	return pg.ttype
}

// Frame_pa returns the physical address of the owning frame. The page
// must be resident.
func (pg *Page_t) Frame_pa() mem.Pa_t {
	if pg.frame == nil {
		panic("page not resident")
	}
	return pg.frame.Pa
}

// Page_get_type reports the eventual base tag of a page: for an UNINIT
// page the tag it will transition to, otherwise its current tag.
func Page_get_type(pg *Page_t) defs.Pgtype_t {
	if defs.VM_TYPE(pg.ttype) == defs.VM_UNINIT {
		return defs.VM_TYPE(pg.uninit.ttype)
	}
	return defs.VM_TYPE(pg.ttype)
}

// Accessed implements frame.Page_i for the clock sweep.
func (pg *Page_t) Accessed() bool {
	return pg.pml4.Is_accessed(pg.va)
}

// Clear_accessed implements frame.Page_i.
func (pg *Page_t) Clear_accessed() {
	pg.pml4.Set_accessed(pg.va, false)
}

// Swapout implements frame.Page_i: write the page out through its
// variant and sever the frame link.
func (pg *Page_t) Swapout() bool {
	return pg.ops.swapout(pg)
}

// destroy releases everything the page owns: the variant's swap slot,
// the mapping-list membership, then the frame and its hardware mapping.
// The descriptor itself is dropped by the caller.
func (pg *Page_t) destroy() {
	pg.ops.destroy(pg)
	pg.owner.mmaps.Remove(pg)
	if pg.frame != nil {
		frame.Ftbl.Unregister(pg.frame)
		mem.Physmem.Pfree(pg.frame.Pa)
		pg.frame = nil
		pg.pml4.Clear_page(pg.va)
	}
}

// pgops_i is the per-variant operations set.
type pgops_i interface {
	swapin(pg *Page_t, dst *mem.Bytepg_t) bool
	swapout(pg *Page_t) bool
	destroy(pg *Page_t)
	ttype() defs.Pgtype_t
}

var uninitops uninitops_t
var anonops anonops_t
var fileops fileops_t

// mkuninit builds a pending page that will become ttype on first touch.
func mkuninit(as *Vm_t, ttype defs.Pgtype_t, va uintptr, writable bool,
	init Init_t, aux *Lsargs_t) *Page_t {
	if defs.VM_TYPE(ttype) == defs.VM_UNINIT {
		panic("uninit page cannot target uninit")
	}
	if va&defs.PGOFFSET != 0 {
		panic("page va not aligned")
	}
	pg := &Page_t{}
	pg.va = va
	pg.ttype = ttype &^ 7
	pg.writable = writable
	pg.ops = uninitops
	pg.pml4 = as.Pml4
	pg.owner = as
	pg.uninit = &uninit_t{init: init, aux: aux, ttype: ttype}
	return pg
}

type uninitops_t struct{}

func (uninitops_t) ttype() defs.Pgtype_t {
	return defs.VM_UNINIT
}

// swapin on an UNINIT page is the first touch: rewrite the descriptor
// into its eventual form, then run the user-supplied initializer to
// populate the freshly mapped frame.
func (uninitops_t) swapin(pg *Page_t, dst *mem.Bytepg_t) bool {
	u := pg.uninit
	pg.uninit = nil
	var ok bool
	switch defs.VM_TYPE(u.ttype) {
	case defs.VM_ANON:
		ok = anon_initializer(pg, u)
	case defs.VM_FILE:
		ok = file_backed_initializer(pg, u)
	default:
		panic("wut")
	}
	if !ok {
		return false
	}
	if u.init != nil && !u.init(pg, u.aux) {
		return false
	}
	Vmstats.Lazyinits.Inc()
	return true
}

func (uninitops_t) swapout(pg *Page_t) bool {
	panic("swapout of uninit page")
}

func (uninitops_t) destroy(pg *Page_t) {
}

// anon_initializer rewrites pg in place into its anonymous form.
func anon_initializer(pg *Page_t, u *uninit_t) bool {
	pg.ops = anonops
	pg.ttype = defs.VM_ANON | (u.ttype &^ 7)
	pg.anon = &anon_t{init: u.init, aux: u.aux, slot: -1}
	return true
}

// file_backed_initializer rewrites pg in place into its file-backed
// form.
func file_backed_initializer(pg *Page_t, u *uninit_t) bool {
	if u.aux == nil {
		return false
	}
	pg.ops = fileops
	pg.ttype = defs.VM_FILE | (u.ttype &^ 7)
	pg.file = &file_t{init: u.init, aux: u.aux}
	return true
}
