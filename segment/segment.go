// Package segment implements the append-only segment that new and moved
// blocks are written to.
//
//  The layout of a segment:
//  [ committed blocks | written this round | free ]
//   ^                  ^                    ^      ^
//   start              start+committed      next   start+size
//
// Blocks written this round are dirty in the block cache. An imap block
// written this round is absorbed: later updates to the same imap block reuse
// it instead of taking a new slot. Commit writes the round to disk and starts
// a new round, after which an update to any imap block moves it again, so a
// committed block is never written twice.
//
// A Segment is not safe for concurrent use; the file system's writer lock
// covers it.
package segment

import (
	"github.com/tchajed/goose/machine/disk"

	"github.com/mit-pdos/go-lfs/bcache"
	"github.com/mit-pdos/go-lfs/common"
	"github.com/mit-pdos/go-lfs/util"
)

type Segment struct {
	cache   *bcache.Cache
	start   common.Bnum
	size    uint64
	next    uint64
	imapPos map[uint64]common.Bnum // imap block -> its block in this round
	written []common.Bnum
}

// MkSegment opens the segment of size blocks at start, with the first next
// blocks already in use.
func MkSegment(cache *bcache.Cache, start common.Bnum, size uint64, next uint64) *Segment {
	if next > size {
		panic("segment: next past end")
	}
	return &Segment{
		cache:   cache,
		start:   start,
		size:    size,
		next:    next,
		imapPos: make(map[uint64]common.Bnum),
	}
}

func (s *Segment) Start() common.Bnum {
	return s.start
}

func (s *Segment) Size() uint64 {
	return s.size
}

// Next is the number of blocks in use.
func (s *Segment) Next() uint64 {
	return s.next
}

func (s *Segment) NFree() uint64 {
	return s.size - s.next
}

func (s *Segment) Full() bool {
	return s.next == s.size
}

func (s *Segment) alloc() (common.Bnum, bool) {
	if s.Full() {
		return common.NULLBNUM, false
	}
	bn := s.start + s.next
	s.next += 1
	s.written = append(s.written, bn)
	return bn, true
}

// GetOrAddImapBlock returns a held buffer for imap block idx. See
// imap.Segment for the meaning of the results.
func (s *Segment) GetOrAddImapBlock(idx uint64) (*bcache.Buf, common.Bnum, bool) {
	bn, ok := s.imapPos[idx]
	if ok {
		util.DPrintf(5, "segment: absorb imap block %d at %d\n", idx, bn)
		return s.cache.Read(s.cache.Dev(), bn), common.NULLBNUM, true
	}
	bn, ok = s.alloc()
	if !ok {
		return nil, common.NULLBNUM, false
	}
	util.DPrintf(5, "segment: add imap block %d at %d\n", idx, bn)
	s.imapPos[idx] = bn
	return s.cache.Zero(bn), bn, true
}

// AppendBlock writes data (at most one block, zero-padded) to the next free
// block.
func (s *Segment) AppendBlock(data []byte) (common.Bnum, bool) {
	if uint64(len(data)) > disk.BlockSize {
		panic("segment: data larger than a block")
	}
	bn, ok := s.alloc()
	if !ok {
		return common.NULLBNUM, false
	}
	buf := s.cache.Zero(bn)
	copy(buf.Data, data)
	buf.Release()
	return bn, true
}

// Commit writes every block of this round to disk and starts a new round.
func (s *Segment) Commit() {
	util.DPrintf(3, "segment %d: commit %d blocks, %d/%d used\n",
		s.start, len(s.written), s.next, s.size)
	s.cache.Flush(s.written)
	s.written = nil
	s.imapPos = make(map[uint64]common.Bnum)
}
