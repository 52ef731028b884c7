package sit

import (
	"slices"
	"sync"
)

// Snapshot is the current in-memory projection of one live entity. Identity
// fields are set once at construction. Live fields mutate only through the
// owning cache's apply path, under the snapshot's own lock; readers take
// consistent copies via the Data accessor. Last-write-wins per field.
type Snapshot interface {
	EntityKind() EntityKind
	EntityId() string
	// the owning server id. For a server entity this is its own id.
	EntityServerId() string
	// Data returns a copy of identity plus live fields for serialization.
	Data() any
}

type ServerData struct {
	Id     string `json:"id"`
	Code   string `json:"code"`
	Region string `json:"region"`
	Online bool   `json:"online"`
}

type ServerSnapshot struct {
	// identity
	id     string
	code   string
	region string

	mutex  sync.Mutex
	online bool
}

func NewServerSnapshot(data *ServerData) *ServerSnapshot {
	return &ServerSnapshot{
		id:     data.Id,
		code:   data.Code,
		region: data.Region,
		online: data.Online,
	}
}

func (self *ServerSnapshot) EntityKind() EntityKind {
	return EntityKindServer
}

func (self *ServerSnapshot) EntityId() string {
	return self.id
}

func (self *ServerSnapshot) EntityServerId() string {
	return self.id
}

func (self *ServerSnapshot) patch(p *ServerPatch) {
	if p == nil {
		return
	}
	self.mutex.Lock()
	defer self.mutex.Unlock()
	if p.Online != nil {
		self.online = *p.Online
	}
}

func (self *ServerSnapshot) Data() any {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return &ServerData{
		Id:     self.id,
		Code:   self.code,
		Region: self.region,
		Online: self.online,
	}
}

type JourneyData struct {
	Id            string       `json:"id"`
	ServerId      string       `json:"serverId"`
	Category      string       `json:"category"`
	Number        string       `json:"number"`
	Line          string       `json:"line"`
	Speed         float64      `json:"speed"`
	Position      *GeoPosition `json:"position,omitempty"`
	DriverSteamId *string      `json:"driverSteamId,omitempty"`
	NextSignal    *SignalInfo  `json:"nextSignal,omitempty"`
}

type JourneySnapshot struct {
	// identity
	id       string
	serverId string
	category string
	number   string
	line     string

	mutex         sync.Mutex
	speed         float64
	position      *GeoPosition
	driverSteamId *string
	nextSignal    *SignalInfo
}

func NewJourneySnapshot(data *JourneyData) *JourneySnapshot {
	snapshot := &JourneySnapshot{
		id:       data.Id,
		serverId: data.ServerId,
		category: data.Category,
		number:   data.Number,
		line:     data.Line,
		speed:    data.Speed,
	}
	if data.Position != nil {
		position := *data.Position
		snapshot.position = &position
	}
	if data.DriverSteamId != nil {
		driverSteamId := *data.DriverSteamId
		snapshot.driverSteamId = &driverSteamId
	}
	if data.NextSignal != nil {
		nextSignal := *data.NextSignal
		snapshot.nextSignal = &nextSignal
	}
	return snapshot
}

func (self *JourneySnapshot) EntityKind() EntityKind {
	return EntityKindJourney
}

func (self *JourneySnapshot) EntityId() string {
	return self.id
}

func (self *JourneySnapshot) EntityServerId() string {
	return self.serverId
}

func (self *JourneySnapshot) patch(p *JourneyPatch) {
	if p == nil {
		return
	}
	self.mutex.Lock()
	defer self.mutex.Unlock()
	if p.Speed != nil {
		self.speed = *p.Speed
	}
	if p.Position != nil {
		position := *p.Position
		self.position = &position
	}
	if p.DriverSteamId != nil {
		driverSteamId := *p.DriverSteamId
		self.driverSteamId = &driverSteamId
	}
	if p.NextSignal != nil {
		nextSignal := *p.NextSignal
		self.nextSignal = &nextSignal
	}
	// p.Event is a pass-through diff for the journey-details stream.
	// it is not part of the snapshot.
}

func (self *JourneySnapshot) Data() any {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	data := &JourneyData{
		Id:       self.id,
		ServerId: self.serverId,
		Category: self.category,
		Number:   self.number,
		Line:     self.line,
		Speed:    self.speed,
	}
	if self.position != nil {
		position := *self.position
		data.Position = &position
	}
	if self.driverSteamId != nil {
		driverSteamId := *self.driverSteamId
		data.DriverSteamId = &driverSteamId
	}
	if self.nextSignal != nil {
		nextSignal := *self.nextSignal
		data.NextSignal = &nextSignal
	}
	return data
}

type DispatchPostData struct {
	Id                 string   `json:"id"`
	ServerId           string   `json:"serverId"`
	Name               string   `json:"name"`
	Point              string   `json:"point"`
	Difficulty         int      `json:"difficulty"`
	DispatcherSteamIds []string `json:"dispatcherSteamIds"`
}

type DispatchPostSnapshot struct {
	// identity
	id         string
	serverId   string
	name       string
	point      string
	difficulty int

	mutex              sync.Mutex
	dispatcherSteamIds []string
}

func NewDispatchPostSnapshot(data *DispatchPostData) *DispatchPostSnapshot {
	return &DispatchPostSnapshot{
		id:                 data.Id,
		serverId:           data.ServerId,
		name:               data.Name,
		point:              data.Point,
		difficulty:         data.Difficulty,
		dispatcherSteamIds: slices.Clone(data.DispatcherSteamIds),
	}
}

func (self *DispatchPostSnapshot) EntityKind() EntityKind {
	return EntityKindDispatchPost
}

func (self *DispatchPostSnapshot) EntityId() string {
	return self.id
}

func (self *DispatchPostSnapshot) EntityServerId() string {
	return self.serverId
}

func (self *DispatchPostSnapshot) patch(p *DispatchPostPatch) {
	if p == nil {
		return
	}
	self.mutex.Lock()
	defer self.mutex.Unlock()
	if p.DispatcherSteamIds != nil {
		self.dispatcherSteamIds = slices.Clone(*p.DispatcherSteamIds)
	}
}

func (self *DispatchPostSnapshot) Data() any {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return &DispatchPostData{
		Id:                 self.id,
		ServerId:           self.serverId,
		Name:               self.name,
		Point:              self.point,
		Difficulty:         self.difficulty,
		DispatcherSteamIds: slices.Clone(self.dispatcherSteamIds),
	}
}

// patchSnapshot merges present frame fields into the snapshot.
// the tag switch is the single dispatch point for payload variants.
func patchSnapshot(snapshot Snapshot, frame *UpdateFrame) {
	switch frame.EntityKind {
	case EntityKindServer:
		if server, ok := snapshot.(*ServerSnapshot); ok {
			server.patch(frame.Server)
		}
	case EntityKindJourney:
		if journey, ok := snapshot.(*JourneySnapshot); ok {
			journey.patch(frame.Journey)
		}
	case EntityKindDispatchPost:
		if dispatchPost, ok := snapshot.(*DispatchPostSnapshot); ok {
			dispatchPost.patch(frame.DispatchPost)
		}
	}
}
