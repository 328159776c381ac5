package lfs

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"github.com/tchajed/goose/machine/disk"

	"github.com/mit-pdos/go-lfs/common"
	"github.com/mit-pdos/go-lfs/config"
	"github.com/mit-pdos/go-lfs/super"
)

func mkCfg(inodes uint64, segBlocks uint64, segments uint64) *config.Format {
	cfg := config.Default()
	cfg.Inodes = inodes
	cfg.SegBlocks = segBlocks
	cfg.Segments = segments
	cfg.CacheBlocks = 64
	return cfg
}

func inode(b byte) []byte {
	return []byte{b, b + 1, b + 2}
}

type LfsSuite struct {
	suite.Suite
	d  disk.Disk
	fs *Lfs
}

func (suite *LfsSuite) mkfs(cfg *config.Format) {
	suite.d = disk.NewMemDisk(cfg.DiskBlocks())
	suite.Require().Nil(Mkfs(suite.d, cfg))
	suite.mount()
}

func (suite *LfsSuite) mount() {
	fs, err := Mount(suite.d, 1, 64)
	suite.Require().Nil(err)
	suite.fs = fs
}

func (suite *LfsSuite) SetupTest() {
	suite.mkfs(mkCfg(2*common.NENTRY, 8, 16))
}

func (suite *LfsSuite) TearDownTest() {
	suite.Equal(uint64(0), suite.fs.cache.NHeld(), "leaked buffers")
}

func (suite *LfsSuite) readInode(inum common.Inum) []byte {
	data, ok, err := suite.fs.ReadInode(inum)
	suite.Nil(err)
	if !ok {
		return nil
	}
	return data[:3]
}

func TestLfs(t *testing.T) {
	suite.Run(t, new(LfsSuite))
}

func (suite *LfsSuite) TestAllocReadWrite() {
	fs := suite.fs
	i0, err := fs.AllocInode(inode(1))
	suite.Nil(err)
	suite.Equal(common.Inum(0), i0)
	i1, err := fs.AllocInode(inode(2))
	suite.Nil(err)
	suite.Equal(common.Inum(1), i1)

	suite.Equal(inode(1), suite.readInode(i0))
	suite.Equal(inode(2), suite.readInode(i1))
	suite.Nil(suite.readInode(2), "never written")

	suite.Nil(fs.WriteInode(i0, inode(7)))
	suite.Equal(inode(7), suite.readInode(i0))
}

func (suite *LfsSuite) TestFreeReusesNumber() {
	fs := suite.fs
	for i := 0; i < 3; i++ {
		_, err := fs.AllocInode(inode(byte(i)))
		suite.Nil(err)
	}
	suite.Nil(fs.FreeInode(1))
	suite.Nil(suite.readInode(1))
	inum, err := fs.AllocInode(inode(9))
	suite.Nil(err)
	suite.Equal(common.Inum(1), inum)
}

func (suite *LfsSuite) TestRemountAfterShutdown() {
	fs := suite.fs
	for i := 0; i < 40; i++ {
		suite.Nil(fs.WriteInode(common.Inum(i*50), inode(byte(i))))
	}
	fs.Shutdown()
	suite.mount()
	for i := 0; i < 40; i++ {
		suite.Equal(inode(byte(i)), suite.readInode(common.Inum(i*50)), "inode %d", i*50)
	}
}

func (suite *LfsSuite) TestCrashLosesUncheckpointed() {
	fs := suite.fs
	suite.Nil(fs.WriteInode(3, inode(1)))
	fs.Checkpoint()
	suite.Nil(fs.WriteInode(3, inode(2)))
	suite.Nil(fs.WriteInode(4, inode(2)))
	suite.Equal(inode(2), suite.readInode(3))

	// drop fs without a checkpoint
	suite.mount()
	suite.Equal(inode(1), suite.readInode(3))
	suite.Nil(suite.readInode(4))

	// the log continues where the checkpoint left it
	suite.Nil(suite.fs.WriteInode(4, inode(5)))
	suite.fs.Shutdown()
	suite.mount()
	suite.Equal(inode(1), suite.readInode(3))
	suite.Equal(inode(5), suite.readInode(4))
}

func (suite *LfsSuite) TestRotation() {
	fs := suite.fs
	for i := 0; i < 30; i++ {
		suite.Nil(fs.WriteInode(common.Inum(i%5), inode(byte(i))))
	}
	suite.Greater(fs.segno, uint64(0), "should have left segment 0")
	for i := 25; i < 30; i++ {
		suite.Equal(inode(byte(i)), suite.readInode(common.Inum(i%5)))
	}

	ck, err := super.ReadCheckpoint(suite.d, fs.sb)
	suite.Nil(err)
	suite.Equal(fs.segno, ck.Seg, "rotation checkpoints the log head")
}

func (suite *LfsSuite) TestNoSpace() {
	suite.mkfs(mkCfg(10, 4, 2))
	fs := suite.fs
	var last byte
	var err error
	for i := 1; i < 20; i++ {
		err = fs.WriteInode(0, inode(byte(i)))
		if err != nil {
			break
		}
		last = byte(i)
	}
	suite.True(errors.Is(err, ErrNoSpace))
	suite.Equal(byte(5), last)
	suite.Equal(inode(last), suite.readInode(0), "failed writes change nothing")

	suite.mount()
	suite.Equal(inode(last), suite.readInode(0))
}

func (suite *LfsSuite) TestNoInodes() {
	suite.mkfs(mkCfg(3, 8, 8))
	fs := suite.fs
	for i := 0; i < 3; i++ {
		_, err := fs.AllocInode(inode(1))
		suite.Nil(err)
	}
	_, err := fs.AllocInode(inode(1))
	suite.Equal(ErrNoInodes, err)
}

func (suite *LfsSuite) TestBadArguments() {
	fs := suite.fs
	n := common.Inum(fs.NInodes())
	suite.True(errors.Is(fs.WriteInode(n, inode(1)), ErrBadInum))
	suite.True(errors.Is(fs.FreeInode(n), ErrBadInum))
	_, _, err := fs.ReadInode(n)
	suite.True(errors.Is(err, ErrBadInum))
	suite.Equal(ErrTooBig, fs.WriteInode(0, make([]byte, disk.BlockSize+1)))
}

func (suite *LfsSuite) TestConcurrentReadersAndWriter() {
	fs := suite.fs
	for i := 0; i < 10; i++ {
		suite.Nil(fs.WriteInode(common.Inum(i), inode(byte(i))))
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			fs.WriteInode(common.Inum(100+i%7), inode(byte(i)))
		}
	}()
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := 0; r < 20; r++ {
				for i := 0; i < 10; i++ {
					data, ok, err := fs.ReadInode(common.Inum(i))
					if err != nil || !ok || data[0] != byte(i) {
						suite.Fail("bad read", "inode %d", i)
					}
				}
			}
		}()
	}
	wg.Wait()
}

func TestMountBlankDisk(t *testing.T) {
	_, err := Mount(disk.NewMemDisk(100), 1, 16)
	assert.True(t, errors.Is(err, super.ErrBadMagic))
}

func TestMkfsDiskTooSmall(t *testing.T) {
	cfg := mkCfg(10, 8, 8)
	err := Mkfs(disk.NewMemDisk(cfg.DiskBlocks()-1), cfg)
	assert.NotNil(t, err)
}
