package vm

import "defs"
import "fdops"
import "mem"
import "util"

// Lsargs_t describes the file segment behind one file-backed page: the
// file, the page's offset in it, how many bytes to read and zero on a
// load, and the byte length of the whole mapping (meaningful on the
// mapping's head page).
type Lsargs_t struct {
	File      fdops.Mfile_i
	Off       int
	Readbytes int
	Zerobytes int
	Seglen    int
}

func (ls *Lsargs_t) copy() *Lsargs_t {
	if ls == nil {
		return nil
	}
	c := *ls
	return &c
}

// Mmap_lazy_load populates a freshly mapped frame from the page's file
// segment and zeroes the tail.
func Mmap_lazy_load(pg *Page_t, aux *Lsargs_t) bool {
	dst := mem.Physmem.Dmap(pg.frame.Pa)
	fdops.Flock.Lock()
	n := aux.File.Read(dst[:aux.Readbytes], aux.Off)
	fdops.Flock.Unlock()
	for i := n; i < defs.PGSIZE; i++ {
		dst[i] = 0
	}
	return true
}

// fileops_t implements the operations of file-backed pages: loads
// re-read the file, eviction writes dirty bytes back to it.
type fileops_t struct{}

func (fileops_t) ttype() defs.Pgtype_t {
	return defs.VM_FILE
}

// swapin re-reads the saved file segment into the new frame.
func (fileops_t) swapin(pg *Page_t, dst *mem.Bytepg_t) bool {
	aux := pg.file.aux
	fdops.Flock.Lock()
	n := aux.File.Read(dst[:aux.Readbytes], aux.Off)
	fdops.Flock.Unlock()
	for i := n; i < defs.PGSIZE; i++ {
		dst[i] = 0
	}
	Vmstats.Swapins.Inc()
	return true
}

// swapout drops the resident copy, writing it back to the file first
// when the hardware says it was modified. Clean pages cost no I/O.
func (fileops_t) swapout(pg *Page_t) bool {
	if pg.frame == nil {
		panic("swapout of non-resident page")
	}
	if pg.pml4.Is_dirty(pg.va) {
		writeback(pg)
	}
	pg.frame = nil
	pg.pml4.Clear_page(pg.va)
	return true
}

// destroy has no file-specific resources to release; writeback is the
// unmap path's job, not destroy's.
func (fileops_t) destroy(pg *Page_t) {
}

// writeback copies the page's meaningful bytes to the backing file at
// the recorded offset. The page must be resident.
func writeback(pg *Page_t) {
	aux := pg.file.aux
	src := mem.Physmem.Dmap(pg.frame.Pa)
	fdops.Flock.Lock()
	aux.File.Write_at(src[:aux.Readbytes], aux.Off)
	fdops.Flock.Unlock()
	Vmstats.Writebacks.Inc()
}

// Do_mmap maps length bytes of file starting at offset into the address
// space at addr, one lazy file-backed page per covered page. It returns
// the mapping address, or an error code when the arguments are
// malformed, the range collides with existing pages, or allocation is
// exhausted.
func (as *Vm_t) Do_mmap(addr uintptr, length int, writable bool,
	file fdops.Mfile_i, offset int) (uintptr, defs.Err_t) {
	if addr == 0 || addr&defs.PGOFFSET != 0 {
		return 0, -defs.EINVAL
	}
	if offset < 0 || offset%defs.PGSIZE != 0 {
		return 0, -defs.EINVAL
	}
	if length <= 0 || file == nil {
		return 0, -defs.EINVAL
	}
	npages := util.Roundup(length, defs.PGSIZE) / defs.PGSIZE
	for i := 0; i < npages; i++ {
		if as.Spt.Find(addr+uintptr(i*defs.PGSIZE)) != nil {
			return 0, -defs.EEXIST
		}
	}
	remaining := length
	for i := 0; i < npages; i++ {
		rb := util.Min(remaining, defs.PGSIZE)
		aux := &Lsargs_t{
			File:      file,
			Off:       offset + i*defs.PGSIZE,
			Readbytes: rb,
			Zerobytes: defs.PGSIZE - rb,
			Seglen:    length,
		}
		va := addr + uintptr(i*defs.PGSIZE)
		if !as.Vm_alloc_page_with_initializer(defs.VM_FILE, va, writable,
			Mmap_lazy_load, aux) {
			return 0, -defs.ENOMEM
		}
		remaining -= rb
	}
	head := as.Spt.Find(addr)
	as.mmaps.PushBack(head)
	Vmstats.Mmaps.Inc()
	return addr, 0
}

// mmaplen returns the mapping length recorded on a head page.
func (pg *Page_t) mmaplen() int {
	switch defs.VM_TYPE(pg.ttype) {
	case defs.VM_UNINIT:
		return pg.uninit.aux.Seglen
	case defs.VM_FILE:
		return pg.file.aux.Seglen
	}
	panic("mmap length of non-file page")
}

// Do_munmap dismantles the mapping whose head page sits at addr,
// writing dirty resident pages back to the file. Only the contiguous
// segment starting at addr is affected; addr must name a mapping head.
func (as *Vm_t) Do_munmap(addr uintptr) defs.Err_t {
	head := as.Spt.Find(addr)
	if head == nil || head.va != addr {
		return -defs.EINVAL
	}
	if Page_get_type(head) != defs.VM_FILE {
		return -defs.EINVAL
	}
	remaining := head.mmaplen()
	for va := addr; remaining > 0; va += uintptr(defs.PGSIZE) {
		pg := as.Spt.Find(va)
		if pg != nil {
			if defs.VM_TYPE(pg.ttype) == defs.VM_FILE && pg.frame != nil &&
				as.Pml4.Is_dirty(pg.va) {
				writeback(pg)
			}
			as.Spt.Remove(pg)
		}
		remaining -= defs.PGSIZE
	}
	Vmstats.Munmaps.Inc()
	return 0
}
