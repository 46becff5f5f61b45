package vm

import "defs"
import "mem"

// variant_init returns the initializer pair currently recorded on pg,
// whatever its form.
func (pg *Page_t) variant_init() (Init_t, *Lsargs_t) {
	switch defs.VM_TYPE(pg.ttype) {
	case defs.VM_UNINIT:
		return pg.uninit.init, pg.uninit.aux
	case defs.VM_ANON:
		return pg.anon.init, pg.anon.aux
	case defs.VM_FILE:
		return pg.file.init, pg.file.aux
	}
	panic("wut")
}

// Spt_copy duplicates src's address space into dst for fork: every
// reservation is recreated lazily with a deep copy of its typed
// payload, and pages src has already materialized are materialized in
// dst and their bytes copied. Fork duplicates memory eagerly; there is
// no sharing between the two spaces afterwards.
func Spt_copy(dst, src *Vm_t) bool {
	for _, pg := range src.Spt.Pages() {
		ot := Page_get_type(pg) | (pg.ttype &^ 7)
		init, aux := pg.variant_init()
		if !dst.Vm_alloc_page_with_initializer(ot, pg.va, pg.writable,
			init, aux.copy()) {
			return false
		}
		npg := dst.Spt.Find(pg.va)
		if defs.VM_TYPE(pg.ttype) != defs.VM_UNINIT {
			// stage through a buffer: materializing the child page may
			// evict the parent's frame
			if pg.frame == nil {
				if !src.Do_claim(pg) {
					return false
				}
			}
			buf := *mem.Physmem.Dmap(pg.frame.Pa)
			if !dst.Do_claim(npg) {
				return false
			}
			*mem.Physmem.Dmap(npg.frame.Pa) = buf
		}
		if src.mmaps.Contains(pg) {
			dst.mmaps.PushBack(npg)
		}
	}
	return true
}

// Spt_kill tears down an exiting process's address space: every mapping
// is unmapped first so dirty file pages reach their files, then the
// remaining reservations are destroyed, returning frames and swap
// slots.
func Spt_kill(as *Vm_t) {
	for {
		head := as.mmaps.FrontPage()
		if head == nil {
			break
		}
		if as.Do_munmap(head.Va()) != 0 {
			panic("mapping head went missing")
		}
	}
	for _, pg := range as.Spt.Pages() {
		as.Spt.Remove(pg)
	}
}
