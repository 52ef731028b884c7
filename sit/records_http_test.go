package sit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecordsTestServer(t *testing.T, journeys map[string]*JourneyData) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/journeys/by-id/", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Path[len("/journeys/by-id/"):]
		data, ok := journeys[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		require.NoError(t, json.NewEncoder(w).Encode(data))
	})
	mux.HandleFunc("/journeys/active", func(w http.ResponseWriter, r *http.Request) {
		active := []*JourneyData{}
		for _, data := range journeys {
			active = append(active, data)
		}
		require.NoError(t, json.NewEncoder(w).Encode(active))
	})
	mux.HandleFunc("/servers/active", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	return httptest.NewServer(mux)
}

func TestRecordsApiFindById(t *testing.T) {
	serverId := testId("server-eu1")
	journeyId := testId("journey-1")
	journeys := map[string]*JourneyData{
		journeyId: testJourneyData(journeyId, serverId),
	}

	server := newRecordsTestServer(t, journeys)
	defer server.Close()

	api := NewRecordsApi(server.URL)
	ctx := context.Background()

	snapshot, err := api.FindSnapshotById(ctx, EntityKindJourney, journeyId)
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	assert.Equal(t, EntityKindJourney, snapshot.EntityKind())
	assert.Equal(t, journeyId, snapshot.EntityId())
	assert.Equal(t, serverId, snapshot.EntityServerId())

	data := snapshot.Data().(*JourneyData)
	assert.Equal(t, journeys[journeyId], data)
}

func TestRecordsApiFindByIdAbsent(t *testing.T) {
	server := newRecordsTestServer(t, map[string]*JourneyData{})
	defer server.Close()

	api := NewRecordsApi(server.URL)

	// a 404 is a confirmed absence, not an error
	snapshot, err := api.FindSnapshotById(context.Background(), EntityKindJourney, testId("journey-missing"))
	require.NoError(t, err)
	assert.Nil(t, snapshot)
}

func TestRecordsApiFindAllActive(t *testing.T) {
	serverId := testId("server-eu1")
	journeys := map[string]*JourneyData{
		testId("journey-1"): testJourneyData(testId("journey-1"), serverId),
		testId("journey-2"): testJourneyData(testId("journey-2"), serverId),
	}

	server := newRecordsTestServer(t, journeys)
	defer server.Close()

	api := NewRecordsApi(server.URL)

	snapshots, err := api.FindAllActiveSnapshots(context.Background(), EntityKindJourney)
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
}

func TestRecordsApiServerError(t *testing.T) {
	server := newRecordsTestServer(t, map[string]*JourneyData{})
	defer server.Close()

	api := NewRecordsApi(server.URL)

	_, err := api.FindAllActiveSnapshots(context.Background(), EntityKindServer)
	require.Error(t, err)
}
