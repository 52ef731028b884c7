package sit

import (
	"sync"
)

// WildcardDataId subscribes to every data id under a server id.
// there is no cross-server wildcard
const WildcardDataId = "+"

// SubscriptionRegistration is the filter state for one (session, frame kind)
// pair. Owned exclusively by its session; fan-out only calls Matches.
type SubscriptionRegistration struct {
	mutex sync.RWMutex
	// server id -> set of data id tokens (possibly the wildcard)
	serverDataIds map[string]map[string]struct{}
}

func NewSubscriptionRegistration() *SubscriptionRegistration {
	return &SubscriptionRegistration{
		serverDataIds: map[string]map[string]struct{}{},
	}
}

// Subscribe is idempotent. It reports whether the registration changed so
// the caller replays initial data at most once per logical subscription.
func (self *SubscriptionRegistration) Subscribe(serverId string, dataId string) bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	dataIds, ok := self.serverDataIds[serverId]
	if !ok {
		dataIds = map[string]struct{}{}
		self.serverDataIds[serverId] = dataIds
	}
	if _, ok := dataIds[dataId]; ok {
		return false
	}
	dataIds[dataId] = struct{}{}
	return true
}

func (self *SubscriptionRegistration) Unsubscribe(serverId string, dataId string) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	dataIds, ok := self.serverDataIds[serverId]
	if !ok {
		return
	}
	delete(dataIds, dataId)
	if len(dataIds) == 0 {
		delete(self.serverDataIds, serverId)
	}
}

func (self *SubscriptionRegistration) Matches(serverId string, dataId string) bool {
	self.mutex.RLock()
	defer self.mutex.RUnlock()

	dataIds, ok := self.serverDataIds[serverId]
	if !ok {
		return false
	}
	if _, ok := dataIds[WildcardDataId]; ok {
		return true
	}
	_, ok = dataIds[dataId]
	return ok
}
