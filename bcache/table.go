package bcache

import (
	"sync"

	"github.com/tchajed/goose/machine/disk"

	"github.com/mit-pdos/go-lfs/common"
	"github.com/mit-pdos/go-lfs/util"
)

type entry struct {
	data  disk.Block
	dirty bool
	refs  uint64
}

type tableShard struct {
	mu      *sync.Mutex
	entries map[common.Bnum]*entry
}

// table is the set of cached blocks, sharded by block number.
type table struct {
	shards   []*tableShard
	perShard uint64
}

const NSHARD uint64 = 31

func mkTable(max uint64) *table {
	var shards []*tableShard
	for i := uint64(0); i < NSHARD; i++ {
		shards = append(shards, &tableShard{
			mu:      new(sync.Mutex),
			entries: make(map[common.Bnum]*entry),
		})
	}
	perShard := util.RoundUp(max, NSHARD)
	if perShard == 0 {
		perShard = 1
	}
	return &table{shards: shards, perShard: perShard}
}

func (t *table) shard(bn common.Bnum) *tableShard {
	return t.shards[bn%NSHARD]
}

// pin returns the cached entry for bn with its reference count bumped, or nil
// on a miss.
func (t *table) pin(bn common.Bnum) *entry {
	s := t.shard(bn)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[bn]
	if !ok {
		return nil
	}
	e.refs += 1
	return e
}

// insertPin caches blk for bn, pinned once. The caller holds the block lock
// for bn, so no other entry for bn can appear concurrently.
func (t *table) insertPin(bn common.Bnum, blk disk.Block) *entry {
	s := t.shard(bn)
	s.mu.Lock()
	defer s.mu.Unlock()
	e := &entry{data: blk, refs: 1}
	s.entries[bn] = e
	t.evict(s)
	return e
}

// evict drops clean, unreferenced entries while s is over its share.
//
// Assumes caller holds s.mu
func (t *table) evict(s *tableShard) {
	for bn, e := range s.entries {
		if uint64(len(s.entries)) <= t.perShard {
			break
		}
		if e.refs == 0 && !e.dirty {
			util.DPrintf(10, "bcache: evict %d\n", bn)
			delete(s.entries, bn)
		}
	}
}

func (t *table) unpin(bn common.Bnum, dirty bool) {
	s := t.shard(bn)
	s.mu.Lock()
	e := s.entries[bn]
	e.refs -= 1
	if dirty {
		e.dirty = true
	}
	s.mu.Unlock()
}

// clean marks bn clean and returns its data if it was dirty.
func (t *table) clean(bn common.Bnum) (disk.Block, bool) {
	s := t.shard(bn)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[bn]
	if !ok || !e.dirty {
		return nil, false
	}
	e.dirty = false
	return e.data, true
}

func (t *table) len() uint64 {
	var n uint64
	for _, s := range t.shards {
		s.mu.Lock()
		n += uint64(len(s.entries))
		s.mu.Unlock()
	}
	return n
}
