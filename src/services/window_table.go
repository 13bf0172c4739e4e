package services

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/hyperio-mc/agent-talk/src/models"
)

// DefaultShardCount is the number of shards a WindowTable uses by default
const DefaultShardCount = 64

// windowSlot holds one entry behind its own lock.
// A dead slot has been removed from its shard and must not be reused.
type windowSlot struct {
	mu    sync.Mutex
	entry models.RateWindowEntry
	dead  bool
}

type windowShard struct {
	mu    sync.RWMutex
	slots map[string]*windowSlot
}

// WindowTable is a sharded concurrent map of rate window entries.
// Updates to one key are serialized by that key's slot lock; different keys
// never contend beyond a brief shard lookup.
type WindowTable struct {
	shards []*windowShard
}

// NewWindowTable creates a table with shardCount shards
func NewWindowTable(shardCount int) *WindowTable {
	if shardCount <= 0 {
		shardCount = DefaultShardCount
	}
	t := &WindowTable{shards: make([]*windowShard, shardCount)}
	for i := range t.shards {
		t.shards[i] = &windowShard{slots: make(map[string]*windowSlot)}
	}
	return t
}

func (t *WindowTable) shardFor(key string) *windowShard {
	return t.shards[xxhash.Sum64String(key)%uint64(len(t.shards))]
}

func (t *WindowTable) lookup(key string) *windowSlot {
	sh := t.shardFor(key)
	sh.mu.RLock()
	s := sh.slots[key]
	sh.mu.RUnlock()
	return s
}

func (t *WindowTable) loadOrCreate(key string) *windowSlot {
	if s := t.lookup(key); s != nil {
		return s
	}

	sh := t.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if s, ok := sh.slots[key]; ok {
		return s
	}
	s := &windowSlot{entry: models.RateWindowEntry{ScopeKey: key}}
	sh.slots[key] = s
	return s
}

// unlink removes s from its shard. The caller holds s.mu.
func (t *WindowTable) unlink(key string, s *windowSlot) {
	s.dead = true
	sh := t.shardFor(key)
	sh.mu.Lock()
	if sh.slots[key] == s {
		delete(sh.slots, key)
	}
	sh.mu.Unlock()
}

// Update runs fn on the entry for key while holding the key's lock.
// A new entry has Count 0 and a zero WindowStart. If fn returns true the
// entry is removed after fn returns.
func (t *WindowTable) Update(key string, fn func(e *models.RateWindowEntry) (remove bool)) {
	for {
		s := t.loadOrCreate(key)
		s.mu.Lock()
		if s.dead {
			// Lost a race with Sweep or Delete; pick up the replacement slot.
			s.mu.Unlock()
			continue
		}
		if fn(&s.entry) {
			t.unlink(key, s)
		}
		s.mu.Unlock()
		return
	}
}

// Get returns a copy of the entry for key without creating one
func (t *WindowTable) Get(key string) (models.RateWindowEntry, bool) {
	s := t.lookup(key)
	if s == nil {
		return models.RateWindowEntry{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dead {
		return models.RateWindowEntry{}, false
	}
	return s.entry, true
}

// Delete removes the entry for key if present
func (t *WindowTable) Delete(key string) {
	s := t.lookup(key)
	if s == nil {
		return
	}
	s.mu.Lock()
	if !s.dead {
		t.unlink(key, s)
	}
	s.mu.Unlock()
}

// Len returns the number of live entries
func (t *WindowTable) Len() int {
	n := 0
	for _, sh := range t.shards {
		sh.mu.RLock()
		n += len(sh.slots)
		sh.mu.RUnlock()
	}
	return n
}

// Sweep removes every entry for which expired returns true and reports how
// many were removed. Each shard is only read-locked while its slot pointers
// are copied; every removal then takes the locks for that single entry.
func (t *WindowTable) Sweep(expired func(e *models.RateWindowEntry) bool) int {
	removed := 0
	type candidate struct {
		key  string
		slot *windowSlot
	}

	for _, sh := range t.shards {
		sh.mu.RLock()
		candidates := make([]candidate, 0, len(sh.slots))
		for k, s := range sh.slots {
			candidates = append(candidates, candidate{key: k, slot: s})
		}
		sh.mu.RUnlock()

		for _, c := range candidates {
			c.slot.mu.Lock()
			if !c.slot.dead && expired(&c.slot.entry) {
				t.unlink(c.key, c.slot)
				removed++
			}
			c.slot.mu.Unlock()
		}
	}

	return removed
}
