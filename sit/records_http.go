package sit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const defaultRecordsHttpTimeout = 10 * time.Second
const defaultRecordsHttpConnectTimeout = 5 * time.Second
const defaultRecordsHttpTlsTimeout = 5 * time.Second

// see https://medium.com/@nate510/don-t-use-go-s-default-http-client-4804cb19f779
func defaultRecordsClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultRecordsHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultRecordsHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultRecordsHttpTimeout,
	}
}

// RecordsApi reads authoritative entity state over the internal http api.
type RecordsApi struct {
	apiUrl string
	client *http.Client
}

func NewRecordsApi(apiUrl string) *RecordsApi {
	return &RecordsApi{
		apiUrl: apiUrl,
		client: defaultRecordsClient(),
	}
}

func kindPath(kind EntityKind) string {
	switch kind {
	case EntityKindServer:
		return "servers"
	case EntityKindJourney:
		return "journeys"
	case EntityKindDispatchPost:
		return "dispatch-posts"
	default:
		return ""
	}
}

func (self *RecordsApi) FindSnapshotById(ctx context.Context, kind EntityKind, id string) (Snapshot, error) {
	url := fmt.Sprintf("%s/%s/by-id/%s", self.apiUrl, kindPath(kind), id)
	body, found, err := self.get(ctx, url)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return decodeSnapshot(kind, body)
}

func (self *RecordsApi) FindAllActiveSnapshots(ctx context.Context, kind EntityKind) ([]Snapshot, error) {
	url := fmt.Sprintf("%s/%s/active", self.apiUrl, kindPath(kind))
	body, found, err := self.get(ctx, url)
	if err != nil {
		return nil, err
	}
	if !found {
		return []Snapshot{}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, err
	}
	snapshots := make([]Snapshot, 0, len(items))
	for _, item := range items {
		snapshot, err := decodeSnapshot(kind, item)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, nil
}

func (self *RecordsApi) get(ctx context.Context, url string) ([]byte, bool, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	response, err := self.client.Do(request)
	if err != nil {
		return nil, false, err
	}
	defer response.Body.Close()

	switch response.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(response.Body)
		if err != nil {
			return nil, false, err
		}
		return body, true, nil
	case http.StatusNotFound:
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("records api status %d for %s", response.StatusCode, url)
	}
}

func decodeSnapshot(kind EntityKind, body []byte) (Snapshot, error) {
	switch kind {
	case EntityKindServer:
		var data ServerData
		if err := json.Unmarshal(body, &data); err != nil {
			return nil, err
		}
		return NewServerSnapshot(&data), nil
	case EntityKindJourney:
		var data JourneyData
		if err := json.Unmarshal(body, &data); err != nil {
			return nil, err
		}
		return NewJourneySnapshot(&data), nil
	case EntityKindDispatchPost:
		var data DispatchPostData
		if err := json.Unmarshal(body, &data); err != nil {
			return nil, err
		}
		return NewDispatchPostSnapshot(&data), nil
	default:
		return nil, fmt.Errorf("unknown entity kind %s", kind)
	}
}
