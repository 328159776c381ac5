// Package imap maps inode numbers to the disk block currently holding each
// inode.
//
// The map is itself a sequence of imap blocks living in the log. Because the
// log is never overwritten in place, updating a mapping may move the imap
// block that holds it; Imap keeps the address table saying where each imap
// block lives now, and that table is what checkpoints persist.
//
// Imap does no locking of its own. Get and GetEmptyInum may run concurrently
// with each other, but a caller must hold its file system's writer lock
// around Set, excluding every other Imap call, so that no one reads an
// address-table slot while Set is moving that block.
package imap

import (
	"fmt"
	"math"

	"github.com/mit-pdos/go-lfs/bcache"
	"github.com/mit-pdos/go-lfs/common"
	"github.com/mit-pdos/go-lfs/util"
)

// BlockCache reads device blocks. The returned Buf is exclusively held until
// released.
type BlockCache interface {
	Read(dev uint32, bn common.Bnum) *bcache.Buf
}

// Segment supplies the place to write an updated imap block.
//
// GetOrAddImapBlock returns ok=false when the segment has no room. Otherwise
// newAddr is NULLBNUM if buf is the copy of imap block idx already written in
// this round, or the address of a fresh block that idx is moving to.
type Segment interface {
	GetOrAddImapBlock(idx uint64) (buf *bcache.Buf, newAddr common.Bnum, ok bool)
}

type Super interface {
	NInodes() uint64
}

type Imap struct {
	dev   uint32
	addr  []common.Bnum
	cache BlockCache
	sb    Super
}

// MkImap builds the imap from an address table recovered at mount time.
// Every slot must name a real block; the table is copied.
func MkImap(dev uint32, addr []common.Bnum, cache BlockCache, sb Super) *Imap {
	if uint64(len(addr)) == 0 || uint64(len(addr)) > common.MAXIMAPSIZE {
		panic(fmt.Errorf("imap: bad size %d", len(addr)))
	}
	for i, a := range addr {
		if a == common.NULLBNUM {
			panic(fmt.Errorf("imap: block %d has no address", i))
		}
	}
	imap := &Imap{
		dev:   dev,
		addr:  append([]common.Bnum(nil), addr...),
		cache: cache,
		sb:    sb,
	}
	util.DPrintf(1, "MkImap: dev %d, %d blocks\n", dev, len(addr))
	return imap
}

// blockNo returns the imap block holding inum's mapping and the entry within
// that block.
func blockNo(inum common.Inum) (uint64, uint64) {
	return uint64(inum) / common.NENTRY, uint64(inum) % common.NENTRY
}

func (imap *Imap) readBlock(i uint64) *bcache.Buf {
	return imap.cache.Read(imap.dev, imap.addr[i])
}

func (imap *Imap) checkInum(inum common.Inum) {
	if uint64(inum) >= imap.sb.NInodes() || uint64(inum) >= imap.capacity() {
		panic(fmt.Errorf("imap: invalid inum %d", inum))
	}
}

func (imap *Imap) capacity() uint64 {
	return uint64(len(imap.addr)) * common.NENTRY
}

// GetEmptyInum returns the smallest inode number without a mapping.
//
// This is a linear scan over every imap block, so a full map costs
// imapSize*NENTRY entry reads; the table cannot grow past its format-time
// size.
func (imap *Imap) GetEmptyInum() (common.Inum, bool) {
	limit := util.Min(imap.sb.NInodes(), imap.capacity())
	for i := uint64(0); i*common.NENTRY < limit; i++ {
		buf := imap.readBlock(i)
		blk := decodeImapBlock(buf.Data)
		buf.Release()
		for j, e := range blk.entry {
			inum := i*common.NENTRY + uint64(j)
			if inum >= limit {
				break
			}
			if e == 0 {
				return common.Inum(inum), true
			}
		}
	}
	return common.NULLINUM, false
}

// Get returns the block holding inum, or NULLBNUM if inum is unmapped.
func (imap *Imap) Get(inum common.Inum) common.Bnum {
	imap.checkInum(inum)
	i, off := blockNo(inum)
	buf := imap.readBlock(i)
	v := getEntry(buf.Data, off)
	buf.Release()
	return common.Bnum(v)
}

// Set maps inum to bn, writing the updated imap block into seg.
//
// Returns false, changing nothing, if seg has no room for the imap block.
// Assumes caller holds the file system's writer lock.
func (imap *Imap) Set(inum common.Inum, bn common.Bnum, seg Segment) bool {
	imap.checkInum(inum)
	if bn > math.MaxUint32 {
		panic(fmt.Errorf("imap: block %d does not fit an entry", bn))
	}
	i, off := blockNo(inum)
	buf, newAddr, ok := seg.GetOrAddImapBlock(i)
	if !ok {
		util.DPrintf(5, "imap.Set: no room for imap block %d\n", i)
		return false
	}
	if newAddr != common.NULLBNUM {
		old := imap.readBlock(i)
		copy(buf.Data, old.Data)
		old.Release()
		util.DPrintf(5, "imap.Set: move imap block %d from %d to %d\n",
			i, imap.addr[i], newAddr)
		imap.addr[i] = newAddr
	}
	putEntry(buf.Data, off, uint32(bn))
	buf.SetDirty()
	buf.Release()
	return true
}

// Addrs returns a copy of the address table, for checkpointing.
func (imap *Imap) Addrs() []common.Bnum {
	return append([]common.Bnum(nil), imap.addr...)
}

func (imap *Imap) Dev() uint32 {
	return imap.dev
}
