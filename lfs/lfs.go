// Package lfs ties the inode map to the log: it formats and mounts a disk,
// serializes updates under one writer lock, rotates segments when one fills
// up, and writes checkpoints.
//
// Each inode occupies one block in the log. Writing an inode appends a new
// version of that block and points the imap at it; the imap block holding
// the mapping is written to the log as well. Nothing is durable until the
// next checkpoint, which Shutdown and segment rotation take implicitly.
//
// There is no cleaner: once the last segment fills, writes fail with
// ErrNoSpace.
package lfs

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tchajed/goose/machine/disk"

	"github.com/mit-pdos/go-lfs/bcache"
	"github.com/mit-pdos/go-lfs/common"
	"github.com/mit-pdos/go-lfs/config"
	"github.com/mit-pdos/go-lfs/imap"
	"github.com/mit-pdos/go-lfs/segment"
	"github.com/mit-pdos/go-lfs/super"
	"github.com/mit-pdos/go-lfs/util"
)

var (
	ErrNoSpace  = errors.New("lfs: log is full")
	ErrNoInodes = errors.New("lfs: no free inodes")
	ErrBadInum  = errors.New("lfs: inode number out of range")
	ErrTooBig   = errors.New("lfs: inode larger than a block")
)

type Lfs struct {
	// mu is the writer lock: Set and anything touching the segment take it
	// exclusively, lookups share it.
	mu    *sync.RWMutex
	d     disk.Disk
	sb    *super.FsSuper
	cache *bcache.Cache
	imap  *imap.Imap
	seg   *segment.Segment
	segno uint64
	seq   uint64 // of the last checkpoint written
}

// Mkfs formats d according to cfg. The imap starts out all zero, written as
// the first blocks of segment 0.
func Mkfs(d disk.Disk, cfg *config.Format) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	sb, err := super.MkFsSuper(cfg.Inodes, cfg.SegBlocks, cfg.Segments)
	if err != nil {
		return err
	}
	if d.Size() < sb.NBlocks() {
		return fmt.Errorf("lfs: mkfs needs %d blocks, disk has %d",
			sb.NBlocks(), d.Size())
	}
	cache := bcache.MkCache(0, d, cfg.CacheBlocks)
	seg := segment.MkSegment(cache, sb.SegAddr(0), sb.SegSize, 0)
	addrs := make([]common.Bnum, sb.ImapSize)
	for i := range addrs {
		bn, ok := seg.AppendBlock(nil)
		if !ok {
			panic("mkfs: imap does not fit in a segment")
		}
		addrs[i] = bn
	}
	seg.Commit()
	super.WriteSuper(d, sb)
	super.WriteCheckpoint(d, sb, &super.Checkpoint{
		Seq:       1,
		Seg:       0,
		SegNext:   seg.Next(),
		ImapAddrs: addrs,
	})
	util.DPrintf(1, "Mkfs: %s, %d inodes, %d imap blocks\n",
		sb.Id, sb.NumInodes, sb.ImapSize)
	return nil
}

// Mount recovers the file system on d from its newest checkpoint. dev
// identifies d in the block cache.
func Mount(d disk.Disk, dev uint32, cacheBlocks uint64) (*Lfs, error) {
	sb, err := super.ReadSuper(d)
	if err != nil {
		return nil, fmt.Errorf("lfs: mount: %w", err)
	}
	ck, err := super.ReadCheckpoint(d, sb)
	if err != nil {
		return nil, fmt.Errorf("lfs: mount: %w", err)
	}
	cache := bcache.MkCache(dev, d, cacheBlocks)
	fs := &Lfs{
		mu:    new(sync.RWMutex),
		d:     d,
		sb:    sb,
		cache: cache,
		imap:  imap.MkImap(dev, ck.ImapAddrs, cache, sb),
		seg:   segment.MkSegment(cache, sb.SegAddr(ck.Seg), sb.SegSize, ck.SegNext),
		segno: ck.Seg,
		seq:   ck.Seq,
	}
	util.DPrintf(1, "Mount: checkpoint %d, segment %d at %d\n",
		ck.Seq, ck.Seg, ck.SegNext)
	return fs, nil
}

func (fs *Lfs) NInodes() uint64 {
	return fs.sb.NumInodes
}

func (fs *Lfs) checkInum(inum common.Inum) error {
	if uint64(inum) >= fs.sb.NumInodes {
		return fmt.Errorf("%w: %d", ErrBadInum, inum)
	}
	return nil
}

// checkpoint commits the active segment and records the imap and log head.
//
// Assumes caller holds fs.mu for writing
func (fs *Lfs) checkpoint() {
	fs.seg.Commit()
	fs.seq += 1
	super.WriteCheckpoint(fs.d, fs.sb, &super.Checkpoint{
		Seq:       fs.seq,
		Seg:       fs.segno,
		SegNext:   fs.seg.Next(),
		ImapAddrs: fs.imap.Addrs(),
	})
}

// rotate checkpoints and moves the log head to the next segment.
//
// Assumes caller holds fs.mu for writing
func (fs *Lfs) rotate() error {
	if fs.segno+1 >= fs.sb.NSegs {
		fs.checkpoint()
		return ErrNoSpace
	}
	fs.seg.Commit()
	fs.segno += 1
	fs.seg = segment.MkSegment(fs.cache, fs.sb.SegAddr(fs.segno), fs.sb.SegSize, 0)
	util.DPrintf(3, "rotate: segment %d\n", fs.segno)
	fs.checkpoint()
	return nil
}

// setMapping retries imap.Set once in a fresh segment.
//
// Assumes caller holds fs.mu for writing
func (fs *Lfs) setMapping(inum common.Inum, bn common.Bnum) error {
	if fs.imap.Set(inum, bn, fs.seg) {
		return nil
	}
	if err := fs.rotate(); err != nil {
		return err
	}
	if !fs.imap.Set(inum, bn, fs.seg) {
		return ErrNoSpace
	}
	return nil
}

// appendInode writes data as the new version of inum.
//
// Assumes caller holds fs.mu for writing
func (fs *Lfs) appendInode(inum common.Inum, data []byte) error {
	if uint64(len(data)) > disk.BlockSize {
		return ErrTooBig
	}
	bn, ok := fs.seg.AppendBlock(data)
	if !ok {
		if err := fs.rotate(); err != nil {
			return err
		}
		bn, ok = fs.seg.AppendBlock(data)
		if !ok {
			return ErrNoSpace
		}
	}
	return fs.setMapping(inum, bn)
}

// AllocInode picks the lowest free inode number and writes data as its
// first version.
func (fs *Lfs) AllocInode(data []byte) (common.Inum, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	inum, ok := fs.imap.GetEmptyInum()
	if !ok {
		return common.NULLINUM, ErrNoInodes
	}
	if err := fs.appendInode(inum, data); err != nil {
		return common.NULLINUM, err
	}
	util.DPrintf(5, "AllocInode: %d\n", inum)
	return inum, nil
}

func (fs *Lfs) WriteInode(inum common.Inum, data []byte) error {
	if err := fs.checkInum(inum); err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.appendInode(inum, data)
}

// FreeInode drops inum's mapping; its number becomes allocatable again.
func (fs *Lfs) FreeInode(inum common.Inum) error {
	if err := fs.checkInum(inum); err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.setMapping(inum, common.NULLBNUM)
}

// ReadInode returns the current block of inum, or false if it has none.
func (fs *Lfs) ReadInode(inum common.Inum) ([]byte, bool, error) {
	if err := fs.checkInum(inum); err != nil {
		return nil, false, err
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	bn := fs.imap.Get(inum)
	if bn == common.NULLBNUM {
		return nil, false, nil
	}
	buf := fs.cache.Read(fs.imap.Dev(), bn)
	data := util.CloneByteSlice(buf.Data)
	buf.Release()
	return data, true, nil
}

// Checkpoint makes every completed update durable.
func (fs *Lfs) Checkpoint() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.checkpoint()
}

func (fs *Lfs) Shutdown() {
	util.DPrintf(1, "Shutdown\n")
	fs.Checkpoint()
}
