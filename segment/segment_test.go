package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tchajed/goose/machine/disk"

	"github.com/mit-pdos/go-lfs/bcache"
	"github.com/mit-pdos/go-lfs/common"
)

func mkSeg(size uint64) (disk.Disk, *bcache.Cache, *Segment) {
	d := disk.NewMemDisk(100)
	c := bcache.MkCache(1, d, 32)
	return d, c, MkSegment(c, 10, size, 0)
}

func TestAbsorbImapBlock(t *testing.T) {
	assert := assert.New(t)
	_, c, s := mkSeg(4)

	buf, addr, ok := s.GetOrAddImapBlock(3)
	assert.True(ok)
	assert.Equal(common.Bnum(10), addr)
	buf.Data[0] = 1
	buf.Release()

	buf, addr, ok = s.GetOrAddImapBlock(3)
	assert.True(ok)
	assert.Equal(common.NULLBNUM, addr, "same round reuses the block")
	assert.Equal(byte(1), buf.Data[0])
	buf.Release()

	buf, addr, ok = s.GetOrAddImapBlock(4)
	assert.True(ok)
	assert.Equal(common.Bnum(11), addr)
	buf.Release()

	assert.Equal(uint64(2), s.Next())
	assert.Equal(uint64(0), c.NHeld())
}

func TestCommitStartsNewRound(t *testing.T) {
	assert := assert.New(t)
	d, _, s := mkSeg(4)

	buf, _, _ := s.GetOrAddImapBlock(0)
	buf.Data[0] = 7
	buf.SetDirty()
	buf.Release()
	s.Commit()
	assert.Equal(byte(7), d.Read(10)[0], "commit writes the round")

	buf, addr, ok := s.GetOrAddImapBlock(0)
	assert.True(ok)
	assert.Equal(common.Bnum(11), addr, "committed block must move")
	buf.Release()
}

func TestFull(t *testing.T) {
	assert := assert.New(t)
	_, _, s := mkSeg(2)

	bn, ok := s.AppendBlock([]byte{1, 2, 3})
	assert.True(ok)
	assert.Equal(common.Bnum(10), bn)
	buf, _, ok := s.GetOrAddImapBlock(0)
	assert.True(ok)
	buf.Release()
	assert.True(s.Full())

	_, ok = s.AppendBlock([]byte{1})
	assert.False(ok)
	_, _, ok = s.GetOrAddImapBlock(1)
	assert.False(ok)

	buf, addr, ok := s.GetOrAddImapBlock(0)
	assert.True(ok, "absorbing needs no space")
	assert.Equal(common.NULLBNUM, addr)
	buf.Release()
}

func TestAppendBlock(t *testing.T) {
	assert := assert.New(t)
	d, _, s := mkSeg(3)
	bn, ok := s.AppendBlock([]byte{9, 8})
	assert.True(ok)
	s.Commit()
	blk := d.Read(bn)
	assert.Equal(byte(9), blk[0])
	assert.Equal(byte(8), blk[1])
	assert.Equal(byte(0), blk[2])
	assert.Panics(func() { s.AppendBlock(make([]byte, disk.BlockSize+1)) })
}
