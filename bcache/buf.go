package bcache

import (
	"github.com/tchajed/goose/machine/disk"

	"github.com/mit-pdos/go-lfs/common"
)

// A Buf is exclusive ownership of one cached disk block.
//
// Data aliases the cached copy of the block, so writes through Data are seen
// by the next holder. The holder must call Release exactly once; until then
// every other Read or Zero of the same block waits.
type Buf struct {
	Blkno    common.Bnum
	Data     disk.Block
	dirty    bool
	released bool
	c        *Cache
}

func (buf *Buf) IsDirty() bool {
	return buf.dirty
}

// SetDirty marks the block as modified; it stays pinned in the cache until a
// Flush writes it out.
func (buf *Buf) SetDirty() {
	buf.dirty = true
}

func (buf *Buf) Release() {
	if buf.released {
		panic("bcache: double release")
	}
	buf.released = true
	buf.c.release(buf)
}
