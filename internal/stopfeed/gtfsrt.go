package stopfeed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"github.com/oriru-app/oriru-core/internal/geo"
)

const (
	feedTimeout = 15 * time.Second
	// feedMaxAge bounds how long a fetched feed is reused before refetching.
	feedMaxAge = 30 * time.Second
	// maxVehicleDistanceMeters is how far the rider may be from a reported
	// vehicle position and still be assumed to be on board that vehicle.
	maxVehicleDistanceMeters = 300
)

// GTFSRT answers remaining-stop queries from a GTFS-realtime feed carrying
// vehicle positions and trip updates. The rider's trip is inferred by
// proximity: the nearest in-progress vehicle on the requested route within
// maxVehicleDistanceMeters.
type GTFSRT struct {
	url    string
	apiKey string
	maxAge time.Duration
	client *http.Client
	logger *slog.Logger

	mu        sync.Mutex
	feed      *gtfs.FeedMessage
	fetchedAt time.Time
}

// NewGTFSRT creates a feed client for one GTFS-realtime endpoint. apiKey may
// be empty; maxAge <= 0 uses the default reuse window.
func NewGTFSRT(url, apiKey string, maxAge time.Duration, logger *slog.Logger) *GTFSRT {
	if logger == nil {
		logger = slog.Default()
	}
	if maxAge <= 0 {
		maxAge = feedMaxAge
	}
	return &GTFSRT{
		url:    url,
		apiKey: apiKey,
		maxAge: maxAge,
		client: &http.Client{Timeout: feedTimeout},
		logger: logger,
	}
}

// RemainingStops counts the stop time updates left on the rider's inferred
// trip until stopID. Any uncertainty — fetch error, no nearby vehicle, the
// target stop missing from the trip — reports ok=false.
func (g *GTFSRT) RemainingStops(ctx context.Context, lineID, stopID string, sample geo.Sample) (int, bool) {
	feed, err := g.currentFeed(ctx)
	if err != nil {
		g.logger.Warn("stop feed fetch failed", "line", lineID, "error", err)
		return 0, false
	}

	tripID, ok := g.nearestTrip(feed, lineID, sample)
	if !ok {
		return 0, false
	}
	return g.countRemaining(feed, tripID, stopID)
}

// currentFeed returns the cached feed when fresh, refetching otherwise.
func (g *GTFSRT) currentFeed(ctx context.Context) (*gtfs.FeedMessage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.feed != nil && time.Since(g.fetchedAt) < g.maxAge {
		return g.feed, nil
	}

	feed, err := g.fetch(ctx)
	if err != nil {
		return nil, err
	}
	g.feed = feed
	g.fetchedAt = time.Now()
	return feed, nil
}

func (g *GTFSRT) fetch(ctx context.Context) (*gtfs.FeedMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if g.apiKey != "" {
		req.Header.Set("X-API-Key", g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read feed body: %w", err)
	}

	feed := &gtfs.FeedMessage{}
	if err := proto.Unmarshal(body, feed); err != nil {
		return nil, fmt.Errorf("parse protobuf: %w", err)
	}
	return feed, nil
}

// nearestTrip finds the trip of the closest vehicle on the route. ok is
// false when no vehicle on the route is within the boarding radius.
func (g *GTFSRT) nearestTrip(feed *gtfs.FeedMessage, lineID string, sample geo.Sample) (string, bool) {
	bestDist := float64(maxVehicleDistanceMeters)
	bestTrip := ""

	for _, entity := range feed.Entity {
		v := entity.GetVehicle()
		if v == nil || v.Position == nil || v.Trip == nil {
			continue
		}
		if lineID != "" && v.Trip.GetRouteId() != lineID {
			continue
		}
		d := geo.Distance(sample.Latitude, sample.Longitude,
			float64(v.Position.GetLatitude()), float64(v.Position.GetLongitude()))
		if d < bestDist {
			bestDist = d
			bestTrip = v.Trip.GetTripId()
		}
	}
	return bestTrip, bestTrip != ""
}

// countRemaining counts future stop time updates on the trip up to and
// including the target stop, so "target is the next stop" reports 1. A
// target not on the trip reports ok=false.
func (g *GTFSRT) countRemaining(feed *gtfs.FeedMessage, tripID, stopID string) (int, bool) {
	for _, entity := range feed.Entity {
		tu := entity.GetTripUpdate()
		if tu == nil || tu.Trip.GetTripId() != tripID {
			continue
		}
		now := time.Now().Unix()
		remaining := 0
		for _, stu := range tu.StopTimeUpdate {
			// Skip stops already passed.
			if arr := stu.GetArrival(); arr != nil && arr.GetTime() > 0 && arr.GetTime() < now {
				continue
			}
			remaining++
			if stu.GetStopId() == stopID {
				return remaining, true
			}
		}
		return 0, false // trip found but target stop not on it
	}
	return 0, false
}
