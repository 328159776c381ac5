// Package lockmap hands out exclusive ownership of disk blocks.
//
// It behaves as if there were one lock per block number: Acquire(bn) blocks
// until no one else holds bn. Only locks that are held or waited on take up
// memory; block numbers are spread over NSHARD shards so that unrelated
// blocks rarely contend on the same mutex.
package lockmap

import (
	"sync"

	"github.com/mit-pdos/go-lfs/common"
)

type blockLock struct {
	held    bool
	waiters uint64
	cond    *sync.Cond
}

type lockShard struct {
	mu    *sync.Mutex
	locks map[common.Bnum]*blockLock
}

func mkLockShard() *lockShard {
	return &lockShard{
		mu:    new(sync.Mutex),
		locks: make(map[common.Bnum]*blockLock),
	}
}

func (s *lockShard) acquire(bn common.Bnum) {
	s.mu.Lock()
	l, ok := s.locks[bn]
	if !ok {
		l = &blockLock{cond: sync.NewCond(s.mu)}
		s.locks[bn] = l
	}
	for l.held {
		l.waiters += 1
		l.cond.Wait()
		l.waiters -= 1
	}
	l.held = true
	s.mu.Unlock()
}

func (s *lockShard) release(bn common.Bnum) {
	s.mu.Lock()
	l, ok := s.locks[bn]
	if !ok || !l.held {
		panic("lockmap: release of unheld block")
	}
	l.held = false
	if l.waiters > 0 {
		l.cond.Signal()
	} else {
		delete(s.locks, bn)
	}
	s.mu.Unlock()
}

func (s *lockShard) isHeld(bn common.Bnum) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[bn]
	return ok && l.held
}

const NSHARD uint64 = 43

type LockMap struct {
	shards []*lockShard
}

func MkLockMap() *LockMap {
	var shards []*lockShard
	for i := uint64(0); i < NSHARD; i++ {
		shards = append(shards, mkLockShard())
	}
	return &LockMap{shards: shards}
}

func (lmap *LockMap) Acquire(bn common.Bnum) {
	lmap.shards[bn%NSHARD].acquire(bn)
}

func (lmap *LockMap) Release(bn common.Bnum) {
	lmap.shards[bn%NSHARD].release(bn)
}

// IsHeld is racy by nature and only meant for assertions and tests.
func (lmap *LockMap) IsHeld(bn common.Bnum) bool {
	return lmap.shards[bn%NSHARD].isHeld(bn)
}
