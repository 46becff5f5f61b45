package vm

import "container/list"
import "sort"

import "defs"
import "hashtable"

// Spt_t is the supplemental page table: the per-process index from
// page-aligned virtual address to page descriptor. It is touched only
// by threads of the owning process.
type Spt_t struct {
	pages *hashtable.Hashtable_t[uintptr, *Page_t]
}

const sptbuckets = 512

// Init prepares an empty table.
func (spt *Spt_t) Init() {
	spt.pages = hashtable.MkHash[uintptr, *Page_t](sptbuckets)
}

// Find returns the page covering va, or nil.
func (spt *Spt_t) Find(va uintptr) *Page_t {
	pg, ok := spt.pages.Get(defs.Pgrounddown(va))
	if !ok {
		return nil
	}
	return pg
}

// Insert adds pg to the table. It fails when the address is already
// reserved; an existing page is never overwritten.
func (spt *Spt_t) Insert(pg *Page_t) bool {
	_, ok := spt.pages.Set(pg.va, pg)
	return ok
}

// Remove drops pg from the index and destroys it.
func (spt *Spt_t) Remove(pg *Page_t) {
	spt.pages.Del(pg.va)
	pg.destroy()
}

// Len returns the number of reserved pages.
func (spt *Spt_t) Len() int {
	return spt.pages.Size()
}

// Pages returns every page ordered by ascending virtual address.
func (spt *Spt_t) Pages() []*Page_t {
	elems := spt.pages.Elems()
	sort.Slice(elems, func(i, j int) bool {
		return elems[i].Key < elems[j].Key
	})
	ret := make([]*Page_t, 0, len(elems))
	for _, e := range elems {
		ret = append(ret, e.Value)
	}
	return ret
}

// Pagelist_t tracks a process's mapping head pages.
type Pagelist_t struct {
	l *list.List
	e *list.Element // iterator
}

// Init prepares an empty list.
func (pl *Pagelist_t) Init() {
	pl.l = list.New()
}

// Len returns the number of pages on the list.
func (pl *Pagelist_t) Len() int {
	return pl.l.Len()
}

// PushBack appends a page to the list.
func (pl *Pagelist_t) PushBack(pg *Page_t) {
	pl.l.PushBack(pg)
}

// FrontPage resets the iterator and returns the first page, or nil.
func (pl *Pagelist_t) FrontPage() *Page_t {
	if pl.l.Front() == nil {
		return nil
	}
	pl.e = pl.l.Front()
	return pl.e.Value.(*Page_t)
}

// NextPage advances the iterator and returns the next page, or nil.
func (pl *Pagelist_t) NextPage() *Page_t {
	if pl.e == nil {
		return nil
	}
	pl.e = pl.e.Next()
	if pl.e == nil {
		return nil
	}
	return pl.e.Value.(*Page_t)
}

// Contains reports whether pg is on the list.
func (pl *Pagelist_t) Contains(pg *Page_t) bool {
	for e := pl.l.Front(); e != nil; e = e.Next() {
		if e.Value.(*Page_t) == pg {
			return true
		}
	}
	return false
}

// Remove drops pg from the list if present.
func (pl *Pagelist_t) Remove(pg *Page_t) {
	var next *list.Element
	for e := pl.l.Front(); e != nil; e = next {
		next = e.Next()
		if e.Value.(*Page_t) == pg {
			pl.l.Remove(e)
		}
	}
}

// Apply calls f for each page on the list.
func (pl *Pagelist_t) Apply(f func(*Page_t)) {
	for pg := pl.FrontPage(); pg != nil; pg = pl.NextPage() {
		f(pg)
	}
}
