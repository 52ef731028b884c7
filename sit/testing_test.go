package sit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// deterministic version-5 uuids for test entities
func testId(name string) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(name)).String()
}

func testJourneyData(id string, serverId string) *JourneyData {
	driverSteamId := "76561198000000001"
	return &JourneyData{
		Id:            id,
		ServerId:      serverId,
		Category:      "EIP",
		Number:        "3527",
		Line:          "E30",
		Speed:         10,
		Position:      &GeoPosition{Latitude: 50.25, Longitude: 19.01},
		DriverSteamId: &driverSteamId,
		NextSignal:    &SignalInfo{Id: "KZ_R", DistanceMeters: 850},
	}
}

// testRecords is an in-memory system of record with injectable failures
type testRecords struct {
	mutex sync.Mutex

	servers       map[string]*ServerData
	journeys      map[string]*JourneyData
	dispatchPosts map[string]*DispatchPostData

	err       error
	findDelay time.Duration
	findCalls int
}

func newTestRecords() *testRecords {
	return &testRecords{
		servers:       map[string]*ServerData{},
		journeys:      map[string]*JourneyData{},
		dispatchPosts: map[string]*DispatchPostData{},
	}
}

func (self *testRecords) setServer(data *ServerData) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.servers[data.Id] = data
}

func (self *testRecords) setJourney(data *JourneyData) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.journeys[data.Id] = data
}

func (self *testRecords) setDispatchPost(data *DispatchPostData) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.dispatchPosts[data.Id] = data
}

func (self *testRecords) removeJourney(id string) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	delete(self.journeys, id)
}

func (self *testRecords) setErr(err error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.err = err
}

func (self *testRecords) calls() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.findCalls
}

func (self *testRecords) FindSnapshotById(ctx context.Context, kind EntityKind, id string) (Snapshot, error) {
	self.mutex.Lock()
	self.findCalls += 1
	err := self.err
	delay := self.findDelay
	var snapshot Snapshot
	switch kind {
	case EntityKindServer:
		if data, ok := self.servers[id]; ok {
			copied := *data
			snapshot = NewServerSnapshot(&copied)
		}
	case EntityKindJourney:
		if data, ok := self.journeys[id]; ok {
			copied := *data
			snapshot = NewJourneySnapshot(&copied)
		}
	case EntityKindDispatchPost:
		if data, ok := self.dispatchPosts[id]; ok {
			copied := *data
			snapshot = NewDispatchPostSnapshot(&copied)
		}
	}
	self.mutex.Unlock()

	if 0 < delay {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (self *testRecords) FindAllActiveSnapshots(ctx context.Context, kind EntityKind) ([]Snapshot, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	if self.err != nil {
		return nil, self.err
	}
	snapshots := []Snapshot{}
	switch kind {
	case EntityKindServer:
		for _, data := range self.servers {
			copied := *data
			snapshots = append(snapshots, NewServerSnapshot(&copied))
		}
	case EntityKindJourney:
		for _, data := range self.journeys {
			copied := *data
			snapshots = append(snapshots, NewJourneySnapshot(&copied))
		}
	case EntityKindDispatchPost:
		for _, data := range self.dispatchPosts {
			copied := *data
			snapshots = append(snapshots, NewDispatchPostSnapshot(&copied))
		}
	}
	return snapshots, nil
}

// testTransport is an in-memory session transport
type testTransport struct {
	mutex      sync.Mutex
	messages   [][]byte
	pings      int
	open       bool
	failWrites bool
}

func newTestTransport() *testTransport {
	return &testTransport{
		open: true,
	}
}

func (self *testTransport) WriteText(message []byte, deadline time.Time) error {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	if self.failWrites {
		return fmt.Errorf("transport closed")
	}
	self.messages = append(self.messages, append([]byte{}, message...))
	return nil
}

func (self *testTransport) Ping(deadline time.Time) error {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.pings += 1
	return nil
}

func (self *testTransport) Close(code int, reason string, deadline time.Time) error {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.open = false
	return nil
}

func (self *testTransport) IsOpen() bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.open
}

func (self *testTransport) Messages() [][]byte {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	messages := make([][]byte, len(self.messages))
	copy(messages, self.messages)
	return messages
}

func (self *testTransport) PingCount() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.pings
}

// waitForMessages polls until the transport delivered at least n messages
func (self *testTransport) waitForMessages(t *testing.T, n int, timeout time.Duration) [][]byte {
	endTime := time.Now().Add(timeout)
	for {
		messages := self.Messages()
		if n <= len(messages) {
			return messages
		}
		if endTime.Before(time.Now()) {
			t.Fatalf("timeout waiting for %d messages, have %d", n, len(messages))
			return messages
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	endTime := time.Now().Add(timeout)
	for !condition() {
		if endTime.Before(time.Now()) {
			t.Fatalf("timeout waiting for condition")
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func registerTestSession(manager *SessionManager) (*ClientSession, *testTransport) {
	transport := newTestTransport()
	session := NewClientSessionWithDefaults(context.Background(), transport)
	manager.Register(session)
	return session, transport
}
