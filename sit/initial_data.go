package sit

import (
	"github.com/golang/glog"
)

// InitialDataSender replays cached state to a just-accepted subscription as
// synthesized ADD frames, so a new subscriber starts consistent before the
// delta stream. journey-details never gets a replay: detail updates are
// diffs with no standalone snapshot representation.
type InitialDataSender struct {
	cache *SnapshotCache
}

func NewInitialDataSender(cache *SnapshotCache) *InitialDataSender {
	return &InitialDataSender{
		cache: cache,
	}
}

func (self *InitialDataSender) Send(session *ClientSession, frameKind FrameKind, serverId string, dataId string) {
	if frameKind == FrameKindJourneyDetails {
		return
	}
	kind := frameKind.EntityKind()

	if dataId == WildcardDataId {
		n := 0
		for _, snapshot := range self.cache.List(kind) {
			if snapshot.EntityServerId() != serverId {
				continue
			}
			self.push(session, frameKind, snapshot)
			n += 1
		}
		glog.V(2).Infof("[id]%s replay %s %s n=%d\n", shortId(session.Id()), frameKind, shortId(serverId), n)
		return
	}

	if snapshot := self.cache.Get(kind, dataId); snapshot != nil {
		self.push(session, frameKind, snapshot)
	}
}

func (self *InitialDataSender) push(session *ClientSession, frameKind FrameKind, snapshot Snapshot) {
	message, err := marshalEnvelope(frameKind, UpdateKindAdd, snapshot.Data())
	if err != nil {
		glog.Warningf("[id]serialize %s error = %s\n", frameKind, err)
		return
	}
	if err := session.Enqueue(message); err != nil {
		glog.Warningf("[id]%s %s error = %s\n", shortId(session.Id()), frameKind, err)
	}
}
