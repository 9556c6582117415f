// Package blockcache implements C12 over a blockdev.Device, presenting
// 4 KiB blocks assembled from the device's sectors. Grounded on
// biscuit's Bdev_block_t cache-entry shape (biscuit/src/fs/blk.go),
// replacing its async disk-request/ack-channel machinery with the
// synchronous sync-on-dirty contract spec.md §4.12 specifies, and its
// unbounded cache with the fixed-size refcount-gated eviction spec §4.12
// requires.
package blockcache

import (
	"sync"

	"rv39kernel/internal/blockdev"
	"rv39kernel/internal/irqlock"
	"rv39kernel/internal/klog"
	"rv39kernel/internal/stats"
)

const (
	BlockSize       = 4096
	sectorsPerBlock = BlockSize / blockdev.SectorSize
	maxCached       = 32
)

// Block is one cached 4 KiB block: a buffer, its id, a dirty flag, and a
// back-pointer to the device it was read from, per spec §4.12.
type Block struct {
	mu    sync.Mutex
	id    int
	dev   blockdev.Device
	data  [BlockSize]byte
	dirty bool
	refs  int
}

func newBlock(dev blockdev.Device, id int) *Block {
	b := &Block{id: id, dev: dev}
	for i := 0; i < sectorsPerBlock; i++ {
		dev.ReadBlock(id*sectorsPerBlock+i, b.data[i*blockdev.SectorSize:(i+1)*blockdev.SectorSize])
	}
	return b
}

// Sync writes the block back if dirty.
func (b *Block) Sync() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.syncLocked()
}

func (b *Block) syncLocked() {
	if !b.dirty {
		return
	}
	for i := 0; i < sectorsPerBlock; i++ {
		b.dev.WriteBlock(b.id*sectorsPerBlock+i, b.data[i*blockdev.SectorSize:(i+1)*blockdev.SectorSize])
	}
	b.dirty = false
}

// With interprets the block's bytes at offset as a T and invokes f for
// reading, per spec §4.12's "closure fn(&T) -> V" contract. Go has no
// direct analogue of interpreting arbitrary bytes as a generic T without
// unsafe, so callers pass accessor closures operating on the raw byte
// slice instead; With just serializes access and exposes the slice.
func (b *Block) With(f func(data *[BlockSize]byte)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f(&b.data)
}

// WithMut is like With but marks the block dirty, per spec §4.12's
// "fn(&mut T) -> V... mutation sets dirty".
func (b *Block) WithMut(f func(data *[BlockSize]byte)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f(&b.data)
	b.dirty = true
}

// Manager bounds the set of live Blocks at maxCached, evicting an entry
// with no other holder on a miss, per spec §4.12.
type Manager struct {
	irqlock.Mutex
	dev    blockdev.Device
	blocks map[int]*Block
	order  []int // access order, oldest first, for eviction candidate scanning
}

func NewManager(dev blockdev.Device) *Manager {
	return &Manager{dev: dev, blocks: make(map[int]*Block)}
}

// Get returns the cached block for id, loading and possibly evicting to
// make room, per spec §4.12.
func (m *Manager) Get(id int) *Block {
	m.Lock()
	defer m.Unlock()
	if b, ok := m.blocks[id]; ok {
		stats.Kernel.CacheHits.Inc()
		b.mu.Lock()
		b.refs++
		b.mu.Unlock()
		m.touch(id)
		return b
	}
	stats.Kernel.CacheMisses.Inc()
	if len(m.blocks) >= maxCached {
		m.evictLocked()
	}
	b := newBlock(m.dev, id)
	b.refs = 1
	m.blocks[id] = b
	m.order = append(m.order, id)
	return b
}

// Put releases a holder's reference, obtained from Get.
func (m *Manager) Put(b *Block) {
	b.mu.Lock()
	b.refs--
	b.mu.Unlock()
}

func (m *Manager) touch(id int) {
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.order = append(m.order, id)
}

// evictLocked drops the least recently used block that no caller holds
// (refs == 0: every Get on it has been paired with a Put); panics if none
// is evictable, per spec §4.12's "if none, panic."
func (m *Manager) evictLocked() {
	for i, id := range m.order {
		b := m.blocks[id]
		b.mu.Lock()
		evictable := b.refs == 0
		b.mu.Unlock()
		if evictable {
			stats.Kernel.CacheEvictions.Inc()
			b.Sync()
			delete(m.blocks, id)
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
	klog.Fatal("blockcache: cache full, no evictable block")
}

// Flush syncs every cached block, per spec §4.12 and §6's shutdown
// flush requirement.
func (m *Manager) Flush() {
	m.Lock()
	defer m.Unlock()
	for _, b := range m.blocks {
		b.Sync()
	}
}
