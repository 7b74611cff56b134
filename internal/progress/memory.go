package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

type memoryEntry struct {
	data    []byte
	expires time.Time
}

// MemoryPublisher keeps snapshots in process. It is used when no Redis is
// configured and in tests. Snapshots are stored serialised so readers never
// share memory with the writer. Expired snapshots are dropped when read and
// by a sweep that Publish runs at most once per TTL.
type MemoryPublisher struct {
	mu        sync.Mutex
	entries   map[string]memoryEntry
	ttl       time.Duration
	now       func() time.Time
	nextSweep time.Time
}

func NewMemoryPublisher(ttl time.Duration) *MemoryPublisher {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryPublisher{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (p *MemoryPublisher) Publish(_ context.Context, jobID string, s Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	if !now.Before(p.nextSweep) {
		p.sweepLocked(now)
	}
	p.entries[Key(jobID)] = memoryEntry{data: data, expires: now.Add(p.ttl)}
	return nil
}

func (p *MemoryPublisher) sweepLocked(now time.Time) {
	for key, entry := range p.entries {
		if !now.Before(entry.expires) {
			delete(p.entries, key)
		}
	}
	p.nextSweep = now.Add(p.ttl)
}

func (p *MemoryPublisher) Read(_ context.Context, jobID string) (Snapshot, error) {
	p.mu.Lock()
	entry, ok := p.entries[Key(jobID)]
	if ok && !p.now().Before(entry.expires) {
		delete(p.entries, Key(jobID))
		ok = false
	}
	p.mu.Unlock()

	if !ok {
		return Snapshot{}, ErrNoSnapshot
	}
	var s Snapshot
	if err := json.Unmarshal(entry.data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode progress for job %s: %w", jobID, err)
	}
	return s, nil
}

func (p *MemoryPublisher) Delete(_ context.Context, jobID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, Key(jobID))
	return nil
}
