package sit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/golang/glog"
	"github.com/jellydator/ttlcache/v3"
)

const cacheShardCount = 32

type SnapshotCacheSettings struct {
	BackfillTimeout time.Duration
	// how long a confirmed-absent id suppresses further backfill calls.
	// a lookup error is not negative-cached so the next frame retries.
	MissTtl      time.Duration
	MissCapacity uint64
}

func DefaultSnapshotCacheSettings() *SnapshotCacheSettings {
	return &SnapshotCacheSettings{
		BackfillTimeout: 5 * time.Second,
		MissTtl:         30 * time.Second,
		MissCapacity:    4096,
	}
}

// cacheEntry is a single-flight slot. The inserter runs the backfill; every
// other caller for the same id waits on `loaded`. After `loaded` closes the
// snapshot field is immutable (nil for a dropped load).
type cacheEntry struct {
	loaded   chan struct{}
	snapshot Snapshot
}

type cacheShard struct {
	mutex   sync.RWMutex
	entries map[string]*cacheEntry
}

type kindMap struct {
	shards [cacheShardCount]cacheShard
}

func newKindMap() *kindMap {
	kindMap := &kindMap{}
	for i := range kindMap.shards {
		kindMap.shards[i].entries = map[string]*cacheEntry{}
	}
	return kindMap
}

func (self *kindMap) shard(id string) *cacheShard {
	return &self.shards[xxhash.Sum64String(id)%cacheShardCount]
}

// SnapshotCache holds the always-current projection of live entities, one
// sharded concurrent map per kind. All mutation goes through Apply/Evict.
type SnapshotCache struct {
	ctx      context.Context
	records  Records
	settings *SnapshotCacheSettings

	kinds   map[EntityKind]*kindMap
	missing *ttlcache.Cache[string, struct{}]
}

func NewSnapshotCacheWithDefaults(ctx context.Context, records Records) *SnapshotCache {
	return NewSnapshotCache(ctx, records, DefaultSnapshotCacheSettings())
}

func NewSnapshotCache(ctx context.Context, records Records, settings *SnapshotCacheSettings) *SnapshotCache {
	missing := ttlcache.New[string, struct{}](
		ttlcache.WithTTL[string, struct{}](settings.MissTtl),
		ttlcache.WithCapacity[string, struct{}](settings.MissCapacity),
	)
	go missing.Start()
	go func() {
		<-ctx.Done()
		missing.Stop()
	}()

	return &SnapshotCache{
		ctx:      ctx,
		records:  records,
		settings: settings,
		kinds: map[EntityKind]*kindMap{
			EntityKindServer:       newKindMap(),
			EntityKindJourney:      newKindMap(),
			EntityKindDispatchPost: newKindMap(),
		},
		missing: missing,
	}
}

// Warm pre-lists active snapshots for every kind so early wildcard
// subscribers replay from a full cache instead of a herd of per-id backfills.
func (self *SnapshotCache) Warm(ctx context.Context) error {
	for _, kind := range []EntityKind{EntityKindServer, EntityKindDispatchPost, EntityKindJourney} {
		snapshots, err := self.records.FindAllActiveSnapshots(ctx, kind)
		if err != nil {
			return fmt.Errorf("warm %s: %w", kind, err)
		}
		for _, snapshot := range snapshots {
			self.seed(snapshot)
		}
		glog.Infof("[sc]warm %s n=%d\n", kind, len(snapshots))
	}
	return nil
}

func (self *SnapshotCache) seed(snapshot Snapshot) {
	shard := self.kinds[snapshot.EntityKind()].shard(snapshot.EntityId())
	entry := &cacheEntry{
		loaded:   make(chan struct{}),
		snapshot: snapshot,
	}
	close(entry.loaded)

	shard.mutex.Lock()
	defer shard.mutex.Unlock()
	if _, ok := shard.entries[snapshot.EntityId()]; !ok {
		shard.entries[snapshot.EntityId()] = entry
	}
}

// Apply merges one update frame into the cache.
// ADD/UPDATE lazily backfill unknown ids; a dropped backfill drops the frame.
// REMOVE evicts and returns the removed snapshot, or nil if absent.
func (self *SnapshotCache) Apply(frame *UpdateFrame) Snapshot {
	switch frame.Kind {
	case UpdateKindRemove:
		return self.Evict(frame.EntityKind, frame.EntityId)
	default:
		snapshot := self.getOrLoad(frame.EntityKind, frame.EntityId, frame.Kind == UpdateKindAdd)
		if snapshot == nil {
			return nil
		}
		patchSnapshot(snapshot, frame)
		return snapshot
	}
}

func (self *SnapshotCache) Get(kind EntityKind, id string) Snapshot {
	shard := self.kinds[kind].shard(id)
	shard.mutex.RLock()
	entry, ok := shard.entries[id]
	shard.mutex.RUnlock()
	if !ok {
		return nil
	}
	select {
	case <-entry.loaded:
		return entry.snapshot
	default:
		// backfill in flight
		return nil
	}
}

func (self *SnapshotCache) List(kind EntityKind) []Snapshot {
	snapshots := []Snapshot{}
	for i := range self.kinds[kind].shards {
		shard := &self.kinds[kind].shards[i]
		shard.mutex.RLock()
		for _, entry := range shard.entries {
			select {
			case <-entry.loaded:
				if entry.snapshot != nil {
					snapshots = append(snapshots, entry.snapshot)
				}
			default:
			}
		}
		shard.mutex.RUnlock()
	}
	return snapshots
}

func (self *SnapshotCache) Evict(kind EntityKind, id string) Snapshot {
	shard := self.kinds[kind].shard(id)
	shard.mutex.Lock()
	entry, ok := shard.entries[id]
	delete(shard.entries, id)
	shard.mutex.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-entry.loaded:
		return entry.snapshot
	default:
		// eviction raced an in-flight backfill. The loader notices the
		// missing entry and discards its result
		return nil
	}
}

func (self *SnapshotCache) missKey(kind EntityKind, id string) string {
	return string(kind) + "/" + id
}

func (self *SnapshotCache) getOrLoad(kind EntityKind, id string, authoritative bool) Snapshot {
	missKey := self.missKey(kind, id)
	if authoritative {
		// an ADD is an upstream assertion that the entity exists again.
		// invalidate the negative entry instead of suppressing the backfill
		self.missing.Delete(missKey)
	} else if self.missing.Has(missKey) {
		return nil
	}

	shard := self.kinds[kind].shard(id)
	shard.mutex.Lock()
	if entry, ok := shard.entries[id]; ok {
		shard.mutex.Unlock()
		<-entry.loaded
		return entry.snapshot
	}
	entry := &cacheEntry{
		loaded: make(chan struct{}),
	}
	shard.entries[id] = entry
	shard.mutex.Unlock()

	defer close(entry.loaded)

	backfillCtx, cancel := context.WithTimeout(self.ctx, self.settings.BackfillTimeout)
	defer cancel()
	snapshot, err := self.records.FindSnapshotById(backfillCtx, kind, id)

	shard.mutex.Lock()
	defer shard.mutex.Unlock()

	if err != nil {
		// transient lookup failure. Drop the frame, leave no trace so the
		// next frame for the id retries
		if shard.entries[id] == entry {
			delete(shard.entries, id)
		}
		glog.V(2).Infof("[sc]backfill error %s %s = %s\n", kind, shortId(id), err)
		return nil
	}
	if snapshot == nil {
		// confirmed absence. A normal race outcome, not an error:
		// a REMOVE can beat a stale ADD/UPDATE upstream
		if shard.entries[id] == entry {
			delete(shard.entries, id)
		}
		self.missing.Set(missKey, struct{}{}, ttlcache.DefaultTTL)
		glog.V(2).Infof("[sc]backfill miss %s %s\n", kind, shortId(id))
		return nil
	}
	if shard.entries[id] != entry {
		// evicted while loading. REMOVE wins
		return nil
	}
	entry.snapshot = snapshot
	return snapshot
}
