package sit

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func testEndpoint(ctx context.Context, records *testRecords) (*Endpoint, *SessionManager, *SnapshotCache) {
	manager, cache := testManager(ctx, records)
	sender := NewInitialDataSender(cache)
	endpoint := NewEndpointWithDefaults(ctx, manager, sender)
	return endpoint, manager, cache
}

func TestInitialDataWildcardReplay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverId := testId("server-eu1")
	otherServerId := testId("server-eu2")

	records := newTestRecords()
	records.setJourney(testJourneyData(testId("journey-1"), serverId))
	records.setJourney(testJourneyData(testId("journey-2"), serverId))
	records.setJourney(testJourneyData(testId("journey-other"), otherServerId))

	endpoint, manager, cache := testEndpoint(ctx, records)
	assert.Equal(t, nil, cache.Warm(ctx))

	session, transport := registerTestSession(manager)

	subscribe := fmt.Sprintf("sit-events/subscribe/journey-positions/v1/%s/+", serverId)
	assert.Equal(t, nil, endpoint.handleMessage(session, subscribe))

	// one ADD per cached journey on the subscribed server, none from others
	messages := transport.waitForMessages(t, 2, 1*time.Second)
	for _, message := range messages {
		frameKind, updateKind, raw := decodeEnvelope(t, message)
		assert.Equal(t, FrameKindJourneyPositions, frameKind)
		assert.Equal(t, UpdateKindAdd, updateKind)
		var data JourneyData
		assert.Equal(t, nil, json.Unmarshal(raw, &data))
		assert.Equal(t, serverId, data.ServerId)
	}

	// a duplicate subscribe does not replay again
	assert.Equal(t, nil, endpoint.handleMessage(session, subscribe))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, len(transport.Messages()))
}

func TestInitialDataSpecificId(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverId := testId("server-eu1")
	journeyId := testId("journey-1")

	records := newTestRecords()
	records.setJourney(testJourneyData(journeyId, serverId))
	records.setJourney(testJourneyData(testId("journey-2"), serverId))

	endpoint, manager, cache := testEndpoint(ctx, records)
	assert.Equal(t, nil, cache.Warm(ctx))

	session, transport := registerTestSession(manager)

	subscribe := fmt.Sprintf("sit-events/subscribe/journey-positions/v1/%s/%s", serverId, journeyId)
	assert.Equal(t, nil, endpoint.handleMessage(session, subscribe))

	messages := transport.waitForMessages(t, 1, 1*time.Second)
	_, updateKind, raw := decodeEnvelope(t, messages[0])
	assert.Equal(t, UpdateKindAdd, updateKind)
	var data JourneyData
	assert.Equal(t, nil, json.Unmarshal(raw, &data))
	assert.Equal(t, journeyId, data.Id)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, len(transport.Messages()))
}

func TestInitialDataNoReplayForJourneyDetails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverId := testId("server-eu1")

	records := newTestRecords()
	records.setJourney(testJourneyData(testId("journey-1"), serverId))

	endpoint, manager, cache := testEndpoint(ctx, records)
	assert.Equal(t, nil, cache.Warm(ctx))

	session, transport := registerTestSession(manager)

	subscribe := fmt.Sprintf("sit-events/subscribe/journey-details/v1/%s/+", serverId)
	assert.Equal(t, nil, endpoint.handleMessage(session, subscribe))

	// detail updates are diffs with no standalone snapshot: no replay
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, len(transport.Messages()))
}

func TestHandleMessageProtocol(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverId := testId("server-eu1")
	journeyId := testId("journey-1")

	records := newTestRecords()
	endpoint, manager, _ := testEndpoint(ctx, records)
	session, transport := registerTestSession(manager)

	// out-of-band liveness probe
	assert.Equal(t, nil, endpoint.handleMessage(session, "ping"))
	messages := transport.waitForMessages(t, 1, 1*time.Second)
	assert.Equal(t, "pong", string(messages[0]))

	// unsubscribe of an absent subscription is accepted
	unsubscribe := fmt.Sprintf("sit-events/unsubscribe/servers/v1/%s/+", serverId)
	assert.Equal(t, nil, endpoint.handleMessage(session, unsubscribe))

	// malformed messages are fatal, no partial-parse tolerance
	malformed := []string{
		"",
		"garbage",
		"sit-events/subscribe/journey-positions/v1",
		fmt.Sprintf("sit-events/subscribe/unknown-kind/v1/%s/+", serverId),
		fmt.Sprintf("sit-events/subscribe/journey-positions/v2/%s/+", serverId),
		fmt.Sprintf("sit-events/subscribe/journey-positions/v1/not-a-uuid-aaaaaaaaaaaaaaaaaaaaaaaa/%s", journeyId),
		// a version-4 server id fails the format check
		fmt.Sprintf("sit-events/subscribe/journey-positions/v1/01234567-89ab-4def-8123-456789abcdef/%s", journeyId),
	}
	for _, message := range malformed {
		assert.NotEqual(t, nil, endpoint.handleMessage(session, message))
	}

	// bounded message length
	long := fmt.Sprintf("sit-events/subscribe/journey-positions/v1/%s/+", serverId)
	for MaxInboundMessageLength >= len(long) {
		long += "x"
	}
	assert.NotEqual(t, nil, endpoint.handleMessage(session, long))
}
