package sit

import (
	"context"
	"time"

	"github.com/golang/glog"
)

type CacheMaintenanceSettings struct {
	Interval     time.Duration
	QueryTimeout time.Duration
}

func DefaultCacheMaintenanceSettings() *CacheMaintenanceSettings {
	return &CacheMaintenanceSettings{
		Interval:     60 * time.Second,
		QueryTimeout: 10 * time.Second,
	}
}

// CacheMaintenanceJob periodically diffs the snapshot cache against the
// system of record and evicts drift. The ingestion path can die between an
// entity's last real UPDATE and its REMOVE; without this job those entries
// would misinform every newly joining subscriber forever.
//
// Only journeys are subject to drift: servers and dispatch posts are a
// small fixed population whose removal frames are not tied to the volatile
// part of the ingestion path.
type CacheMaintenanceJob struct {
	ctx    context.Context
	cancel context.CancelFunc

	records  Records
	cache    *SnapshotCache
	manager  *SessionManager
	settings *CacheMaintenanceSettings
}

func NewCacheMaintenanceJobWithDefaults(
	ctx context.Context,
	records Records,
	cache *SnapshotCache,
	manager *SessionManager,
) *CacheMaintenanceJob {
	return NewCacheMaintenanceJob(ctx, records, cache, manager, DefaultCacheMaintenanceSettings())
}

func NewCacheMaintenanceJob(
	ctx context.Context,
	records Records,
	cache *SnapshotCache,
	manager *SessionManager,
	settings *CacheMaintenanceSettings,
) *CacheMaintenanceJob {
	cancelCtx, cancel := context.WithCancel(ctx)
	job := &CacheMaintenanceJob{
		ctx:      cancelCtx,
		cancel:   cancel,
		records:  records,
		cache:    cache,
		manager:  manager,
		settings: settings,
	}
	go job.run()
	return job
}

func (self *CacheMaintenanceJob) run() {
	ticker := time.NewTicker(self.settings.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-self.ctx.Done():
			return
		case <-ticker.C:
			self.reconcile()
		}
	}
}

// reconcile evicts every cached journey absent from ground truth, routing a
// synthetic REMOVE through the normal publish path so subscribers observe
// the removal exactly as if ingestion had sent it. Eviction happens only
// after a successful ground-truth read; a failed query leaves the cache
// untouched until the next tick.
func (self *CacheMaintenanceJob) reconcile() {
	queryCtx, cancel := context.WithTimeout(self.ctx, self.settings.QueryTimeout)
	defer cancel()

	active, err := self.records.FindAllActiveSnapshots(queryCtx, EntityKindJourney)
	if err != nil {
		glog.Infof("[mx]ground truth query error = %s\n", err)
		return
	}

	activeIds := map[string]bool{}
	for _, snapshot := range active {
		activeIds[snapshot.EntityId()] = true
	}

	evicted := 0
	for _, snapshot := range self.cache.List(EntityKindJourney) {
		if activeIds[snapshot.EntityId()] {
			continue
		}
		self.manager.Publish(NewJourneyUpdateFrame(
			UpdateKindRemove,
			snapshot.EntityId(),
			snapshot.EntityServerId(),
			nil,
		))
		evicted += 1
	}
	if 0 < evicted {
		glog.Infof("[mx]evicted stale journeys n=%d\n", evicted)
	}
}

func (self *CacheMaintenanceJob) Close() {
	self.cancel()
}
