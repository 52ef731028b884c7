package sit

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// EntityKind tags the variant of a snapshot or update frame payload.
// Routing switches on this tag; there is no type-hierarchy dispatch.
type EntityKind string

const (
	EntityKindServer       EntityKind = "server"
	EntityKindJourney      EntityKind = "journey"
	EntityKindDispatchPost EntityKind = "dispatch-post"
)

// FrameKind is a registration name on the wire. Journeys publish under two
// kinds: the position stream and the detail (event diff) stream.
type FrameKind string

const (
	FrameKindServers          FrameKind = "servers"
	FrameKindDispatchPosts    FrameKind = "dispatch-posts"
	FrameKindJourneyDetails   FrameKind = "journey-details"
	FrameKindJourneyPositions FrameKind = "journey-positions"
)

const frameKindCount = 4

func (self FrameKind) index() int {
	switch self {
	case FrameKindServers:
		return 0
	case FrameKindDispatchPosts:
		return 1
	case FrameKindJourneyDetails:
		return 2
	case FrameKindJourneyPositions:
		return 3
	default:
		return -1
	}
}

func (self FrameKind) EntityKind() EntityKind {
	switch self {
	case FrameKindServers:
		return EntityKindServer
	case FrameKindDispatchPosts:
		return EntityKindDispatchPost
	default:
		return EntityKindJourney
	}
}

func ParseFrameKind(frameKindStr string) (FrameKind, error) {
	frameKind := FrameKind(frameKindStr)
	if frameKind.index() < 0 {
		return "", fmt.Errorf("unknown frame kind %s", frameKindStr)
	}
	return frameKind, nil
}

// server and data ids are uuid strings. Server ids are derived upstream as
// version-5 uuids, which the inbound protocol enforces.

func ValidateServerId(serverId string) error {
	parsed, err := uuid.Parse(serverId)
	if err != nil {
		return err
	}
	if parsed.Version() != 5 {
		return fmt.Errorf("server id must be a version-5 uuid: %s", serverId)
	}
	return nil
}

func ValidateDataId(dataId string) error {
	_, err := uuid.Parse(dataId)
	return err
}

// session ids are ulids so registry logs sort by connection time
func NewSessionId() string {
	return ulid.Make().String()
}
