package sit

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"golang.org/x/exp/maps"
)

type SessionManagerSettings struct {
	PingInterval    time.Duration
	LivenessTimeout time.Duration
	StatsInterval   time.Duration
}

func DefaultSessionManagerSettings() *SessionManagerSettings {
	return &SessionManagerSettings{
		PingInterval:    15 * time.Second,
		LivenessTimeout: 30 * time.Second,
		StatsInterval:   60 * time.Second,
	}
}

// SessionManager is the process-wide session registry and the fan-out path.
// it is constructed explicitly and passed to anything that publishes;
// there is no package-level singleton.
type SessionManager struct {
	ctx    context.Context
	cancel context.CancelFunc

	cache    *SnapshotCache
	settings *SessionManagerSettings
	stats    *publishStats

	mutex    sync.Mutex
	sessions map[string]*ClientSession
}

func NewSessionManagerWithDefaults(ctx context.Context, cache *SnapshotCache) *SessionManager {
	return NewSessionManager(ctx, cache, DefaultSessionManagerSettings())
}

func NewSessionManager(ctx context.Context, cache *SnapshotCache, settings *SessionManagerSettings) *SessionManager {
	cancelCtx, cancel := context.WithCancel(ctx)
	manager := &SessionManager{
		ctx:      cancelCtx,
		cancel:   cancel,
		cache:    cache,
		settings: settings,
		stats:    newPublishStats(),
		sessions: map[string]*ClientSession{},
	}
	go manager.run()
	return manager
}

func (self *SessionManager) run() {
	ticker := time.NewTicker(self.settings.PingInterval)
	defer ticker.Stop()
	statsTicker := time.NewTicker(self.settings.StatsInterval)
	defer statsTicker.Stop()

	for {
		select {
		case <-self.ctx.Done():
			return
		case <-ticker.C:
			self.sweep()
		case <-statsTicker.C:
			self.stats.log(self.Count())
		}
	}
}

// Register transitions the session to Active and makes it visible to
// fan-out. The session owns its removal via the close callback, which makes
// registry removal idempotent.
func (self *SessionManager) Register(session *ClientSession) {
	session.activate(func(closed *ClientSession) {
		self.Unregister(closed.Id())
	})

	self.mutex.Lock()
	self.sessions[session.Id()] = session
	count := len(self.sessions)
	self.mutex.Unlock()

	// a session closed between activate and insert ran its close callback
	// against a registry that did not contain it yet
	if state := session.State(); state == SessionStateClosing || state == SessionStateClosed {
		self.Unregister(session.Id())
		return
	}

	glog.V(1).Infof("[sm]register %s sessions=%d\n", shortId(session.Id()), count)
}

func (self *SessionManager) Unregister(sessionId string) {
	self.mutex.Lock()
	_, ok := self.sessions[sessionId]
	delete(self.sessions, sessionId)
	count := len(self.sessions)
	self.mutex.Unlock()

	if ok {
		glog.V(1).Infof("[sm]unregister %s sessions=%d\n", shortId(sessionId), count)
	}
}

func (self *SessionManager) Count() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return len(self.sessions)
}

func (self *SessionManager) snapshotSessions() []*ClientSession {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return maps.Values(self.sessions)
}

// Publish applies one update frame to the snapshot cache and fans the result
// out to every matching session. One journey frame can yield up to two
// published frames: the position stream and, when the frame carries an event
// diff, the detail stream.
func (self *SessionManager) Publish(frame *UpdateFrame) {
	startTime := time.Now()

	snapshot := self.cache.Apply(frame)

	switch frame.Kind {
	case UpdateKindRemove:
		// fan out removal by identity whether or not the cache held it
		removed := &RemovedData{
			Id:       frame.EntityId,
			ServerId: frame.ServerId,
		}
		self.fanOut(primaryFrameKind(frame.EntityKind), UpdateKindRemove, frame.ServerId, frame.EntityId, removed)
		if frame.EntityKind == EntityKindJourney {
			self.fanOut(FrameKindJourneyDetails, UpdateKindRemove, frame.ServerId, frame.EntityId, removed)
		}
	default:
		if snapshot == nil {
			// dropped by the cache (backfill miss or in-flight eviction)
			self.stats.addDropped()
			return
		}
		self.fanOut(primaryFrameKind(frame.EntityKind), frame.Kind, frame.ServerId, frame.EntityId, snapshot.Data())
		if frame.EntityKind == EntityKindJourney && frame.Journey != nil && frame.Journey.Event != nil {
			event := frame.Journey.Event
			self.fanOut(FrameKindJourneyDetails, frame.Kind, frame.ServerId, frame.EntityId, &JourneyEventData{
				JourneyId:   frame.EntityId,
				ServerId:    frame.ServerId,
				EventId:     event.EventId,
				StopPlaceId: event.StopPlaceId,
				Canceled:    event.Canceled,
				ActualTime:  event.ActualTime,
			})
		}
	}

	self.stats.addPublish(time.Since(startTime))
}

func primaryFrameKind(kind EntityKind) FrameKind {
	switch kind {
	case EntityKindServer:
		return FrameKindServers
	case EntityKindDispatchPost:
		return FrameKindDispatchPosts
	default:
		return FrameKindJourneyPositions
	}
}

// fanOut serializes once per frame kind and enqueues to every matching
// session. Per-session failures are isolated and never abort the iteration.
func (self *SessionManager) fanOut(frameKind FrameKind, updateKind UpdateKind, serverId string, dataId string, data any) {
	message, err := marshalEnvelope(frameKind, updateKind, data)
	if err != nil {
		glog.Warningf("[fo]serialize %s error = %s\n", frameKind, err)
		return
	}

	for _, session := range self.snapshotSessions() {
		registration := session.registration(frameKind)
		if registration == nil {
			continue
		}
		if !registration.Matches(serverId, dataId) {
			continue
		}
		if err := session.Enqueue(message); err != nil {
			glog.Warningf("[fo]%s %s %s error = %s\n", frameKind, shortId(dataId), shortId(session.Id()), err)
			continue
		}
		self.stats.addSend()
	}
}

// sweep pings every active session and closes any whose liveness ack is
// stale or whose transport is no longer open. This is the sole cancellation
// mechanism for abandoned sessions.
func (self *SessionManager) sweep() {
	now := time.Now()
	for _, session := range self.snapshotSessions() {
		if !session.transport.IsOpen() {
			glog.Infof("[sm]close %s transport not open\n", shortId(session.Id()))
			session.Close(websocket.CloseGoingAway, "transport not open")
			continue
		}
		if self.settings.LivenessTimeout < now.Sub(session.LastAck()) {
			glog.Infof("[sm]close %s liveness timeout\n", shortId(session.Id()))
			session.Close(websocket.CloseGoingAway, "liveness timeout")
			continue
		}
		if err := session.ping(); err != nil {
			glog.V(2).Infof("[sm]ping %s error = %s\n", shortId(session.Id()), err)
		}
	}
}

// Drain closes every session. Used on process shutdown.
func (self *SessionManager) Drain() {
	for _, session := range self.snapshotSessions() {
		session.Close(websocket.CloseGoingAway, "shutting down")
	}
	self.cancel()
}
