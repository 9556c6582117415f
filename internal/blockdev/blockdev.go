// Package blockdev defines the sector-addressed storage capability ext2
// is built on, per spec.md §1: "the VirtIO-MMIO block driver (consumed
// only as a BlockDevice capability)... treated as given boundaries."
// Grounded on biscuit's fs.Disk_i (biscuit/src/fs/blk.go), simplified
// from biscuit's async Bdev_req_t/AckCh request queue to the synchronous
// read_block/write_block contract spec §4.12 names, since this module
// owns no interrupt-driven VirtIO queue to make async plausible.
package blockdev

// SectorSize is the device's native sector size, per spec §4.12.
const SectorSize = 512

// Device is the capability ext2's block cache is built over.
type Device interface {
	ReadBlock(sector int, buf []byte)
	WriteBlock(sector int, buf []byte)
	SectorCount() int
}

// Ram is an in-memory Device, standing in for the real VirtIO-MMIO
// driver in tests, the way biscuit's tests construct a fake Disk_i.
type Ram struct {
	sectors [][SectorSize]byte
}

func NewRam(nsectors int) *Ram {
	return &Ram{sectors: make([][SectorSize]byte, nsectors)}
}

func (r *Ram) ReadBlock(sector int, buf []byte) {
	copy(buf, r.sectors[sector][:])
}

func (r *Ram) WriteBlock(sector int, buf []byte) {
	copy(r.sectors[sector][:], buf)
}

func (r *Ram) SectorCount() int { return len(r.sectors) }
