package stopfeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"github.com/oriru-app/oriru-core/internal/geo"
)

func TestUnavailableNeverKnows(t *testing.T) {
	n, ok := Unavailable{}.RemainingStops(context.Background(), "L1", "stop-1", geo.Sample{})
	if ok || n != 0 {
		t.Errorf("RemainingStops() = (%d, %v), want (0, false)", n, ok)
	}
}

func TestStaticAnswersByStop(t *testing.T) {
	feed := Static{Remaining: map[string]int{"stop-1": 3}}

	if n, ok := feed.RemainingStops(context.Background(), "L1", "stop-1", geo.Sample{}); !ok || n != 3 {
		t.Errorf("known stop = (%d, %v), want (3, true)", n, ok)
	}
	if _, ok := feed.RemainingStops(context.Background(), "L1", "stop-9", geo.Sample{}); ok {
		t.Error("unknown stop reported ok")
	}
}

// riderSample is co-located with the test vehicle so proximity matching
// always boards it.
var riderSample = geo.Sample{
	Latitude:  41.3874,
	Longitude: 2.1686,
	Timestamp: time.Now(),
}

// testFeed builds a feed with one vehicle on route L1 at the rider's
// position, mid-trip, with the given stop IDs still ahead.
func testFeed(t *testing.T, stopsAhead ...string) []byte {
	t.Helper()

	updates := make([]*gtfs.TripUpdate_StopTimeUpdate, 0, len(stopsAhead))
	for _, id := range stopsAhead {
		updates = append(updates, &gtfs.TripUpdate_StopTimeUpdate{
			StopId: proto.String(id),
		})
	}

	msg := &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{GtfsRealtimeVersion: proto.String("2.0")},
		Entity: []*gtfs.FeedEntity{
			{
				Id: proto.String("vehicle-1"),
				Vehicle: &gtfs.VehiclePosition{
					Trip: &gtfs.TripDescriptor{
						TripId:  proto.String("trip-1"),
						RouteId: proto.String("L1"),
					},
					Position: &gtfs.Position{
						Latitude:  proto.Float32(float32(riderSample.Latitude)),
						Longitude: proto.Float32(float32(riderSample.Longitude)),
					},
				},
			},
			{
				Id: proto.String("update-1"),
				TripUpdate: &gtfs.TripUpdate{
					Trip:           &gtfs.TripDescriptor{TripId: proto.String("trip-1")},
					StopTimeUpdate: updates,
				},
			},
		},
	}

	body, err := proto.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal feed: %v", err)
	}
	return body
}

func serveFeed(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGTFSRTCountsInclusive(t *testing.T) {
	srv := serveFeed(t, testFeed(t, "s1", "s2", "target"))
	feed := NewGTFSRT(srv.URL, "", 0, nil)

	n, ok := feed.RemainingStops(context.Background(), "L1", "target", riderSample)
	if !ok || n != 3 {
		t.Errorf("RemainingStops() = (%d, %v), want (3, true)", n, ok)
	}
}

func TestGTFSRTTargetIsNextStop(t *testing.T) {
	srv := serveFeed(t, testFeed(t, "target", "later"))
	feed := NewGTFSRT(srv.URL, "", 0, nil)

	n, ok := feed.RemainingStops(context.Background(), "L1", "target", riderSample)
	if !ok || n != 1 {
		t.Errorf("RemainingStops() = (%d, %v), want (1, true)", n, ok)
	}
}

func TestGTFSRTTargetNotOnTrip(t *testing.T) {
	srv := serveFeed(t, testFeed(t, "s1", "s2"))
	feed := NewGTFSRT(srv.URL, "", 0, nil)

	if _, ok := feed.RemainingStops(context.Background(), "L1", "elsewhere", riderSample); ok {
		t.Error("stop missing from trip reported ok")
	}
}

func TestGTFSRTWrongRouteHoldsBack(t *testing.T) {
	srv := serveFeed(t, testFeed(t, "target"))
	feed := NewGTFSRT(srv.URL, "", 0, nil)

	// Vehicle is on L1; a rider asking about L2 must not board it.
	if _, ok := feed.RemainingStops(context.Background(), "L2", "target", riderSample); ok {
		t.Error("vehicle on another route reported ok")
	}
}

func TestGTFSRTNoNearbyVehicle(t *testing.T) {
	srv := serveFeed(t, testFeed(t, "target"))
	feed := NewGTFSRT(srv.URL, "", 0, nil)

	far := riderSample
	far.Latitude += 0.1 // ~11 km north, well past the boarding radius

	if _, ok := feed.RemainingStops(context.Background(), "L1", "target", far); ok {
		t.Error("distant vehicle reported ok")
	}
}

func TestGTFSRTFetchErrorReportsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	feed := NewGTFSRT(srv.URL, "", 0, nil)

	if _, ok := feed.RemainingStops(context.Background(), "L1", "target", riderSample); ok {
		t.Error("upstream error reported ok")
	}
}

func TestGTFSRTReusesFreshFeed(t *testing.T) {
	fetches := 0
	body := testFeed(t, "target")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fetches++
		w.Write(body)
	}))
	defer srv.Close()
	feed := NewGTFSRT(srv.URL, "", time.Minute, nil)

	for i := 0; i < 3; i++ {
		if _, ok := feed.RemainingStops(context.Background(), "L1", "target", riderSample); !ok {
			t.Fatalf("pass %d reported unavailable", i)
		}
	}
	if fetches != 1 {
		t.Errorf("upstream fetched %d times within max age, want 1", fetches)
	}
}

func TestGTFSRTSendsAPIKey(t *testing.T) {
	var gotKey string
	body := testFeed(t, "target")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		w.Write(body)
	}))
	defer srv.Close()

	feed := NewGTFSRT(srv.URL, "secret", 0, nil)
	feed.RemainingStops(context.Background(), "L1", "target", riderSample)

	if gotKey != "secret" {
		t.Errorf("X-API-Key = %q, want %q", gotKey, "secret")
	}
}
