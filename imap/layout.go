package imap

import (
	"fmt"

	"github.com/tchajed/goose/machine/disk"
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-lfs/common"
)

// An on-disk imap block is NENTRY little-endian uint32s and nothing else.
// Entry k of imap block i holds the disk block of inode i*NENTRY+k, or 0 if
// the inode has no mapping.
type imapBlock struct {
	entry []uint32
}

func checkOffset(blk disk.Block, off uint64) {
	if uint64(len(blk)) != disk.BlockSize {
		panic(fmt.Errorf("imap: block is %d bytes", len(blk)))
	}
	if off >= common.NENTRY {
		panic(fmt.Errorf("imap: entry %d out of range", off))
	}
}

func getEntry(blk disk.Block, off uint64) uint32 {
	checkOffset(blk, off)
	dec := marshal.NewDec(blk[off*4 : off*4+4])
	return dec.GetInt32()
}

func putEntry(blk disk.Block, off uint64, v uint32) {
	checkOffset(blk, off)
	enc := marshal.NewEnc(4)
	enc.PutInt32(v)
	copy(blk[off*4:off*4+4], enc.Finish())
}

func decodeImapBlock(blk disk.Block) *imapBlock {
	if uint64(len(blk)) != disk.BlockSize {
		panic(fmt.Errorf("imap: block is %d bytes", len(blk)))
	}
	dec := marshal.NewDec(blk)
	entry := make([]uint32, common.NENTRY)
	for i := range entry {
		entry[i] = dec.GetInt32()
	}
	return &imapBlock{entry: entry}
}

func (b *imapBlock) encode() disk.Block {
	enc := marshal.NewEnc(disk.BlockSize)
	for _, e := range b.entry {
		enc.PutInt32(e)
	}
	return enc.Finish()
}
