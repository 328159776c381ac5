// Package super reads and writes the superblock and the checkpoint regions.
//
// Disk layout:
//
//	block 0                superblock (geometry and file system id)
//	blocks 1, 2            checkpoint regions, written alternately
//	blocks 3 ...           nsegs segments of segSize blocks each
//
// The superblock is written once by mkfs. A checkpoint records where every
// imap block lives and where the log head is; recovery picks the newest
// checkpoint that decodes, so a crash while writing one leaves the previous
// one intact.
package super

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tchajed/goose/machine/disk"
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-lfs/common"
	"github.com/mit-pdos/go-lfs/util"
)

const MAGIC uint64 = 0x4c46532d494d4150

var (
	ErrBadMagic = errors.New("super: not an lfs superblock")
	ErrGeometry = errors.New("super: bad geometry")
)

type FsSuper struct {
	NumInodes uint64
	ImapSize  uint64
	SegSize   uint64
	NSegs     uint64
	Id        uuid.UUID
}

// MkFsSuper lays out a new file system with room for ninodes inodes.
func MkFsSuper(ninodes uint64, segSize uint64, nsegs uint64) (*FsSuper, error) {
	sb := &FsSuper{
		NumInodes: ninodes,
		ImapSize:  util.RoundUp(ninodes, common.NENTRY),
		SegSize:   segSize,
		NSegs:     nsegs,
		Id:        uuid.New(),
	}
	if err := sb.check(); err != nil {
		return nil, err
	}
	return sb, nil
}

func (sb *FsSuper) check() error {
	if sb.NumInodes == 0 || sb.ImapSize == 0 || sb.ImapSize > common.MAXIMAPSIZE {
		return fmt.Errorf("%w: %d inodes in %d imap blocks", ErrGeometry,
			sb.NumInodes, sb.ImapSize)
	}
	if sb.ImapSize*common.NENTRY < sb.NumInodes {
		return fmt.Errorf("%w: imap too small", ErrGeometry)
	}
	if sb.SegSize < 2 || sb.NSegs == 0 {
		return fmt.Errorf("%w: %d segments of %d blocks", ErrGeometry,
			sb.NSegs, sb.SegSize)
	}
	// block numbers are stored in 32-bit imap entries
	if sb.NSegs > (1<<32-1-common.SEGSTART)/sb.SegSize {
		return fmt.Errorf("%w: disk too large", ErrGeometry)
	}
	return nil
}

func (sb *FsSuper) NInodes() uint64 {
	return sb.NumInodes
}

// NBlocks is the number of disk blocks the file system spans.
func (sb *FsSuper) NBlocks() uint64 {
	return common.SEGSTART + sb.NSegs*sb.SegSize
}

// SegAddr is the first block of segment i.
func (sb *FsSuper) SegAddr(i uint64) common.Bnum {
	return common.SEGSTART + i*sb.SegSize
}

func (sb *FsSuper) encode() disk.Block {
	enc := marshal.NewEnc(disk.BlockSize)
	enc.PutInt(MAGIC)
	enc.PutInt(sb.NumInodes)
	enc.PutInt(sb.ImapSize)
	enc.PutInt(sb.SegSize)
	enc.PutInt(sb.NSegs)
	enc.PutBytes(sb.Id[:])
	return enc.Finish()
}

func decodeSuper(blk disk.Block) (*FsSuper, error) {
	dec := marshal.NewDec(blk)
	if dec.GetInt() != MAGIC {
		return nil, ErrBadMagic
	}
	sb := &FsSuper{}
	sb.NumInodes = dec.GetInt()
	sb.ImapSize = dec.GetInt()
	sb.SegSize = dec.GetInt()
	sb.NSegs = dec.GetInt()
	copy(sb.Id[:], dec.GetBytes(uint64(len(sb.Id))))
	if err := sb.check(); err != nil {
		return nil, err
	}
	return sb, nil
}

func WriteSuper(d disk.Disk, sb *FsSuper) {
	d.Write(common.SUPERBLK, sb.encode())
	d.Barrier()
}

func ReadSuper(d disk.Disk) (*FsSuper, error) {
	sb, err := decodeSuper(d.Read(common.SUPERBLK))
	if err != nil {
		return nil, err
	}
	if d.Size() < sb.NBlocks() {
		return nil, fmt.Errorf("%w: need %d blocks, disk has %d", ErrGeometry,
			sb.NBlocks(), d.Size())
	}
	util.DPrintf(1, "ReadSuper: %s, %d inodes, %d segments\n",
		sb.Id, sb.NumInodes, sb.NSegs)
	return sb, nil
}
