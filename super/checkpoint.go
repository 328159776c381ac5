package super

import (
	"errors"
	"hash/crc32"

	"github.com/google/uuid"
	"github.com/tchajed/goose/machine/disk"
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-lfs/common"
	"github.com/mit-pdos/go-lfs/util"
)

const CKPTMAGIC uint64 = 0x4c46532d434b5054

// the checksum sits in the header, after the fixed fields
const crcOff uint64 = 56

var ErrNoCheckpoint = errors.New("super: no valid checkpoint")

// Checkpoint is the state needed to mount: where each imap block lives and
// where the log continues.
type Checkpoint struct {
	Seq       uint64
	Seg       uint64 // active segment
	SegNext   uint64 // blocks in use in the active segment
	ImapAddrs []common.Bnum
}

func (ck *Checkpoint) encode(id uuid.UUID) disk.Block {
	enc := marshal.NewEnc(disk.BlockSize)
	enc.PutInt(CKPTMAGIC)
	enc.PutInt(ck.Seq)
	enc.PutBytes(id[:])
	enc.PutInt(ck.Seg)
	enc.PutInt(ck.SegNext)
	enc.PutInt(uint64(len(ck.ImapAddrs)))
	enc.PutInt32(0) // crc
	enc.PutBytes(make([]byte, common.CKPTHDR-crcOff-4))
	for _, a := range ck.ImapAddrs {
		enc.PutInt32(uint32(a))
	}
	blk := enc.Finish()
	putCrc(blk, crc32.ChecksumIEEE(blk))
	return blk
}

func putCrc(blk disk.Block, crc uint32) {
	enc := marshal.NewEnc(4)
	enc.PutInt32(crc)
	copy(blk[crcOff:crcOff+4], enc.Finish())
}

func decodeCheckpoint(blk disk.Block, sb *FsSuper) (*Checkpoint, bool) {
	crcDec := marshal.NewDec(blk[crcOff : crcOff+4])
	crc := crcDec.GetInt32()
	zeroed := util.CloneByteSlice(blk)
	putCrc(zeroed, 0)
	if crc32.ChecksumIEEE(zeroed) != crc {
		return nil, false
	}
	dec := marshal.NewDec(blk)
	if dec.GetInt() != CKPTMAGIC {
		return nil, false
	}
	ck := &Checkpoint{Seq: dec.GetInt()}
	var id uuid.UUID
	copy(id[:], dec.GetBytes(uint64(len(id))))
	if id != sb.Id {
		return nil, false
	}
	ck.Seg = dec.GetInt()
	ck.SegNext = dec.GetInt()
	n := dec.GetInt()
	if n != sb.ImapSize || ck.Seg >= sb.NSegs || ck.SegNext > sb.SegSize {
		return nil, false
	}
	dec.GetBytes(common.CKPTHDR - crcOff)
	for i := uint64(0); i < n; i++ {
		ck.ImapAddrs = append(ck.ImapAddrs, common.Bnum(dec.GetInt32()))
	}
	return ck, true
}

func ckptSlot(seq uint64) common.Bnum {
	if seq%2 == 0 {
		return common.CKPTBLK0
	}
	return common.CKPTBLK1
}

// WriteCheckpoint persists ck over the older of the two checkpoint regions.
// The blocks ck refers to must already be on disk.
func WriteCheckpoint(d disk.Disk, sb *FsSuper, ck *Checkpoint) {
	if uint64(len(ck.ImapAddrs)) != sb.ImapSize {
		panic("WriteCheckpoint: address table has wrong size")
	}
	util.DPrintf(1, "WriteCheckpoint: seq %d seg %d next %d\n",
		ck.Seq, ck.Seg, ck.SegNext)
	d.Write(ckptSlot(ck.Seq), ck.encode(sb.Id))
	d.Barrier()
}

// ReadCheckpoint returns the newest valid checkpoint.
func ReadCheckpoint(d disk.Disk, sb *FsSuper) (*Checkpoint, error) {
	var newest *Checkpoint
	for _, bn := range []common.Bnum{common.CKPTBLK0, common.CKPTBLK1} {
		ck, ok := decodeCheckpoint(d.Read(bn), sb)
		if !ok {
			util.DPrintf(1, "ReadCheckpoint: block %d invalid\n", bn)
			continue
		}
		if newest == nil || ck.Seq > newest.Seq {
			newest = ck
		}
	}
	if newest == nil {
		return nil, ErrNoCheckpoint
	}
	return newest, nil
}
