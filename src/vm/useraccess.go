package vm

import "defs"
import "mem"

// The helpers below simulate user-mode memory accesses: each one walks
// the hardware table the way the MMU would, maintaining accessed and
// dirty bits, and enters the fault path on a miss.

// Userdmap8 returns a byte view of the page holding user address va,
// faulting it in if needed. When k2u is set the access is a store.
func (as *Vm_t) Userdmap8(va uintptr, k2u bool) ([]uint8, defs.Err_t) {
	voff := va & defs.PGOFFSET
	pa, ok := as.Pml4.Access(va, k2u)
	if !ok {
		notpresent := !as.Pml4.Is_mapped(va)
		if !as.Try_handle_fault(&as.Tf, va, true, k2u, notpresent) {
			return nil, -defs.EFAULT
		}
		pa, ok = as.Pml4.Access(va, k2u)
		if !ok {
			return nil, -defs.EFAULT
		}
	}
	pg := mem.Physmem.Dmap(pa)
	return pg[voff:], 0
}

// Userreadn reads n little-endian bytes at user address va.
func (as *Vm_t) Userreadn(va uintptr, n int) (int, defs.Err_t) {
	if n <= 0 || n > 8 {
		panic("large n")
	}
	ret := 0
	for i := 0; i < n; {
		src, err := as.Userdmap8(va+uintptr(i), false)
		if err != 0 {
			return 0, err
		}
		for j := 0; j < len(src) && i < n; j, i = j+1, i+1 {
			ret |= int(src[j]) << (8 * uint(i))
		}
	}
	return ret, 0
}

// Userwriten stores n little-endian bytes of val at user address va.
func (as *Vm_t) Userwriten(va uintptr, n, val int) defs.Err_t {
	if n <= 0 || n > 8 {
		panic("large n")
	}
	for i := 0; i < n; {
		dst, err := as.Userdmap8(va+uintptr(i), true)
		if err != 0 {
			return err
		}
		for j := 0; j < len(dst) && i < n; j, i = j+1, i+1 {
			dst[j] = uint8(val >> (8 * uint(i)))
		}
	}
	return 0
}

// User2k copies len(dst) bytes from user address uva into dst.
func (as *Vm_t) User2k(dst []uint8, uva uintptr) defs.Err_t {
	cnt := 0
	for len(dst) != 0 {
		src, err := as.Userdmap8(uva+uintptr(cnt), false)
		if err != 0 {
			return err
		}
		did := copy(dst, src)
		dst = dst[did:]
		cnt += did
	}
	return 0
}

// K2user copies src into the user address space starting at uva.
func (as *Vm_t) K2user(src []uint8, uva uintptr) defs.Err_t {
	cnt := 0
	for len(src) != 0 {
		dst, err := as.Userdmap8(uva+uintptr(cnt), true)
		if err != 0 {
			return err
		}
		did := copy(dst, src)
		src = src[did:]
		cnt += did
	}
	return 0
}
