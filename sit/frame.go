package sit

import (
	"encoding/json"
	"time"
)

type UpdateKind string

const (
	UpdateKindAdd    UpdateKind = "ADD"
	UpdateKindUpdate UpdateKind = "UPDATE"
	UpdateKindRemove UpdateKind = "REMOVE"
)

type GeoPosition struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type SignalInfo struct {
	Id             string  `json:"id"`
	DistanceMeters float64 `json:"distanceMeters"`
}

// patch payloads are sparse. A nil field means "unchanged", never "clear".

type ServerPatch struct {
	Online *bool `json:"online,omitempty"`
}

type JourneyPatch struct {
	Speed         *float64     `json:"speed,omitempty"`
	Position      *GeoPosition `json:"position,omitempty"`
	DriverSteamId *string      `json:"driverSteamId,omitempty"`
	NextSignal    *SignalInfo  `json:"nextSignal,omitempty"`
	// present when the source event carried a timetable-event diff.
	// fans out additionally under the journey-details kind
	Event *JourneyEventPatch `json:"event,omitempty"`
}

type JourneyEventPatch struct {
	EventId     string     `json:"eventId"`
	StopPlaceId *string    `json:"stopPlaceId,omitempty"`
	Canceled    *bool      `json:"canceled,omitempty"`
	ActualTime  *time.Time `json:"actualTime,omitempty"`
}

type DispatchPostPatch struct {
	DispatcherSteamIds *[]string `json:"dispatcherSteamIds,omitempty"`
}

// UpdateFrame is a tagged union over the three entity kinds. Exactly one of
// the patch fields matching `EntityKind` is set for ADD/UPDATE; REMOVE frames
// carry identity only.
type UpdateFrame struct {
	Kind       UpdateKind `json:"kind"`
	EntityKind EntityKind `json:"entityKind"`
	EntityId   string     `json:"entityId"`
	ServerId   string     `json:"serverId"`

	Server       *ServerPatch       `json:"server,omitempty"`
	Journey      *JourneyPatch      `json:"journey,omitempty"`
	DispatchPost *DispatchPostPatch `json:"dispatchPost,omitempty"`
}

func NewServerUpdateFrame(kind UpdateKind, serverId string, patch *ServerPatch) *UpdateFrame {
	return &UpdateFrame{
		Kind:       kind,
		EntityKind: EntityKindServer,
		EntityId:   serverId,
		ServerId:   serverId,
		Server:     patch,
	}
}

func NewJourneyUpdateFrame(kind UpdateKind, journeyId string, serverId string, patch *JourneyPatch) *UpdateFrame {
	return &UpdateFrame{
		Kind:       kind,
		EntityKind: EntityKindJourney,
		EntityId:   journeyId,
		ServerId:   serverId,
		Journey:    patch,
	}
}

func NewDispatchPostUpdateFrame(kind UpdateKind, dispatchPostId string, serverId string, patch *DispatchPostPatch) *UpdateFrame {
	return &UpdateFrame{
		Kind:         kind,
		EntityKind:   EntityKindDispatchPost,
		EntityId:     dispatchPostId,
		ServerId:     serverId,
		DispatchPost: patch,
	}
}

// Envelope is the outbound wire format, one json text message per update.
type Envelope struct {
	FrameKind  FrameKind  `json:"frameKind"`
	UpdateKind UpdateKind `json:"updateKind"`
	Data       any        `json:"data"`
}

func marshalEnvelope(frameKind FrameKind, updateKind UpdateKind, data any) ([]byte, error) {
	return json.Marshal(&Envelope{
		FrameKind:  frameKind,
		UpdateKind: updateKind,
		Data:       data,
	})
}

// RemovedData is the payload of a REMOVE envelope. Identity only.
type RemovedData struct {
	Id       string `json:"id"`
	ServerId string `json:"serverId"`
}

// JourneyEventData is the journey-details payload. It is a diff with no
// standalone snapshot representation, which is why detail subscriptions get
// no initial replay.
type JourneyEventData struct {
	JourneyId   string     `json:"journeyId"`
	ServerId    string     `json:"serverId"`
	EventId     string     `json:"eventId"`
	StopPlaceId *string    `json:"stopPlaceId,omitempty"`
	Canceled    *bool      `json:"canceled,omitempty"`
	ActualTime  *time.Time `json:"actualTime,omitempty"`
}
