// Package bdev provides the block device interface the swap path sits
// on, plus a RAM-backed device and a file-backed device.
package bdev

import "fmt"
import "os"
import "sync"

import "github.com/pkg/errors"

import "defs"

var bdev_debug = false

// Disk_i represents a fixed-size sector device.
type Disk_i interface {
	// Read copies sector s into buf. len(buf) must be SECTSZ.
	Read(s int, buf []uint8)
	// Write copies buf into sector s. len(buf) must be SECTSZ.
	Write(s int, buf []uint8)
	// Size returns the device capacity in sectors.
	Size() int
}

func checksect(s, size int, buf []uint8) {
	if s < 0 || s >= size {
		panic("sector out of range")
	}
	if len(buf) != defs.SECTSZ {
		panic("bad sector buffer")
	}
}

// memdisk_t is a RAM-backed disk used by tests and the demo workload.
type memdisk_t struct {
	sync.Mutex
	data []uint8
}

// MkMemdisk creates a RAM-backed disk with the given number of sectors.
func MkMemdisk(sectors int) Disk_i {
	if sectors <= 0 {
		panic("empty disk")
	}
	return &memdisk_t{data: make([]uint8, sectors*defs.SECTSZ)}
}

func (md *memdisk_t) Read(s int, buf []uint8) {
	checksect(s, md.Size(), buf)
	md.Lock()
	defer md.Unlock()
	copy(buf, md.data[s*defs.SECTSZ:(s+1)*defs.SECTSZ])
}

func (md *memdisk_t) Write(s int, buf []uint8) {
	checksect(s, md.Size(), buf)
	md.Lock()
	defer md.Unlock()
	copy(md.data[s*defs.SECTSZ:(s+1)*defs.SECTSZ], buf)
}

func (md *memdisk_t) Size() int {
	return len(md.data) / defs.SECTSZ
}

// filedisk_t simulates a disk backed by a file.
type filedisk_t struct {
	sync.Mutex
	f       *os.File
	sectors int
}

// MkFiledisk opens path as a sector device of the given size, growing
// the file if needed.
func MkFiledisk(path string, sectors int) (Disk_i, error) {
	if sectors <= 0 {
		return nil, errors.Errorf("bad disk size %d", sectors)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't open backing file %s", path)
	}
	if err := f.Truncate(int64(sectors * defs.SECTSZ)); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "couldn't size backing file")
	}
	return &filedisk_t{f: f, sectors: sectors}, nil
}

func (fd *filedisk_t) seek(s int) {
	_, err := fd.f.Seek(int64(s*defs.SECTSZ), 0)
	if err != nil {
		panic(err)
	}
}

// Read services a sector read. The lock makes seek followed by read
// atomic.
func (fd *filedisk_t) Read(s int, buf []uint8) {
	checksect(s, fd.sectors, buf)
	fd.Lock()
	defer fd.Unlock()
	fd.seek(s)
	n, err := fd.f.Read(buf)
	if n != defs.SECTSZ || err != nil {
		panic(err)
	}
}

func (fd *filedisk_t) Write(s int, buf []uint8) {
	checksect(s, fd.sectors, buf)
	if bdev_debug {
		fmt.Printf("bdev_write %v\n", s)
	}
	fd.Lock()
	defer fd.Unlock()
	fd.seek(s)
	n, err := fd.f.Write(buf)
	if n != defs.SECTSZ || err != nil {
		panic(err)
	}
}

func (fd *filedisk_t) Size() int {
	return fd.sectors
}
