// Package bcache is the block cache every metadata access goes through.
//
// Read and Zero return a locked *Buf for one block; the caller releases it
// with Buf.Release when done. Dirty blocks are pinned in memory until Flush
// writes them to the disk, which is how a segment is committed. Clean blocks
// are evicted when the cache grows past its limit.
package bcache

import (
	"fmt"
	"sync/atomic"

	"github.com/tchajed/goose/machine/disk"

	"github.com/mit-pdos/go-lfs/common"
	"github.com/mit-pdos/go-lfs/lockmap"
	"github.com/mit-pdos/go-lfs/util"
)

type Cache struct {
	dev   uint32
	d     disk.Disk
	locks *lockmap.LockMap
	tbl   *table
	nheld uint64 // outstanding Bufs, updated atomically
}

// MkCache caches blocks of d, known as device dev, keeping roughly max clean
// blocks around.
func MkCache(dev uint32, d disk.Disk, max uint64) *Cache {
	return &Cache{
		dev:   dev,
		d:     d,
		locks: lockmap.MkLockMap(),
		tbl:   mkTable(max),
	}
}

func (c *Cache) Dev() uint32 {
	return c.dev
}

func (c *Cache) Disk() disk.Disk {
	return c.d
}

func (c *Cache) mkBuf(bn common.Bnum, e *entry) *Buf {
	atomic.AddUint64(&c.nheld, 1)
	return &Buf{Blkno: bn, Data: e.data, c: c}
}

// Read returns block bn of device dev, reading it from disk on a miss.
func (c *Cache) Read(dev uint32, bn common.Bnum) *Buf {
	if dev != c.dev {
		panic(fmt.Errorf("bcache: read of dev %d from cache for dev %d", dev, c.dev))
	}
	c.locks.Acquire(bn)
	e := c.tbl.pin(bn)
	if e == nil {
		util.DPrintf(10, "bcache: fill %d\n", bn)
		e = c.tbl.insertPin(bn, c.d.Read(bn))
	}
	return c.mkBuf(bn, e)
}

// Zero returns block bn with all-zero contents, without reading the disk.
// The returned Buf is already dirty.
func (c *Cache) Zero(bn common.Bnum) *Buf {
	c.locks.Acquire(bn)
	e := c.tbl.pin(bn)
	if e == nil {
		e = c.tbl.insertPin(bn, make(disk.Block, disk.BlockSize))
	} else {
		for i := range e.data {
			e.data[i] = 0
		}
	}
	b := c.mkBuf(bn, e)
	b.SetDirty()
	return b
}

func (c *Cache) release(b *Buf) {
	c.tbl.unpin(b.Blkno, b.dirty)
	atomic.AddUint64(&c.nheld, ^uint64(0))
	c.locks.Release(b.Blkno)
}

// Flush writes the dirty blocks among bns to disk and issues a barrier.
func (c *Cache) Flush(bns []common.Bnum) {
	for _, bn := range bns {
		c.locks.Acquire(bn)
		blk, dirty := c.tbl.clean(bn)
		if dirty {
			util.DPrintf(10, "bcache: write back %d\n", bn)
			c.d.Write(bn, blk)
		}
		c.locks.Release(bn)
	}
	c.d.Barrier()
}

// NHeld reports the number of Bufs that have not been released.
func (c *Cache) NHeld() uint64 {
	return atomic.LoadUint64(&c.nheld)
}

// NCached reports the number of blocks in the cache.
func (c *Cache) NCached() uint64 {
	return c.tbl.len()
}
