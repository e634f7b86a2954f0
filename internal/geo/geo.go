// Package geo provides best-effort coordinate and weather auto-fill for
// observation records.
//
// Lookups go over HTTP to device-local services (a GPS bridge and a
// weather endpoint). Every failure degrades to manual entry: the record is
// submitted unannotated and a warning is logged. Nothing here ever blocks
// or fails a submit.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/sitesense/fieldsync/internal/queue"
	"github.com/sitesense/fieldsync/internal/record"
)

// lastCoordsKey is the client_state key caching the last known position.
const lastCoordsKey = "last_known_coords"

// Coordinates is a WGS84 position.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Weather is the conditions snapshot attached to observations.
type Weather struct {
	Conditions string  `json:"conditions"`
	TempC      float64 `json:"temp_c"`
}

// Config holds resolver configuration.
type Config struct {
	// LocatorURL returns the device position as JSON. Empty disables
	// coordinate lookup.
	LocatorURL string

	// WeatherURL returns conditions for ?lat=&lon=. Empty disables
	// weather lookup.
	WeatherURL string

	// Timeout bounds a single lookup (default: 3s).
	Timeout time.Duration

	// Logger for degraded lookups.
	Logger *log.Logger
}

// Resolver performs coordinate and weather lookups with a last-known
// fallback persisted in the queue's key/value store.
type Resolver struct {
	config Config
	client *http.Client
	db     *queue.DB
}

// NewResolver creates a Resolver. db may be nil, disabling the
// last-known cache.
func NewResolver(config Config, db *queue.DB) *Resolver {
	if config.Timeout <= 0 {
		config.Timeout = 3 * time.Second
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[geo] ", log.LstdFlags)
	}
	return &Resolver{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		db:     db,
	}
}

// Locate returns the current device position. On success the position is
// cached as the last known one.
func (r *Resolver) Locate(ctx context.Context) (*Coordinates, error) {
	if r.config.LocatorURL == "" {
		return nil, fmt.Errorf("coordinate lookup disabled")
	}

	var coords Coordinates
	if err := r.getJSON(ctx, r.config.LocatorURL, &coords); err != nil {
		return nil, fmt.Errorf("coordinate lookup failed: %w", err)
	}

	if r.db != nil {
		data, _ := json.Marshal(coords)
		if err := r.db.SetState(lastCoordsKey, string(data)); err != nil {
			r.config.Logger.Printf("Warning: failed to cache position: %v", err)
		}
	}
	return &coords, nil
}

// LastKnown returns the most recently cached position.
func (r *Resolver) LastKnown() (*Coordinates, bool) {
	if r.db == nil {
		return nil, false
	}
	value, err := r.db.GetState(lastCoordsKey)
	if err != nil {
		return nil, false
	}
	var coords Coordinates
	if err := json.Unmarshal([]byte(value), &coords); err != nil {
		return nil, false
	}
	return &coords, true
}

// WeatherAt returns current conditions at the given position.
func (r *Resolver) WeatherAt(ctx context.Context, coords Coordinates) (*Weather, error) {
	if r.config.WeatherURL == "" {
		return nil, fmt.Errorf("weather lookup disabled")
	}

	u, err := url.Parse(r.config.WeatherURL)
	if err != nil {
		return nil, fmt.Errorf("invalid weather URL: %w", err)
	}
	q := u.Query()
	q.Set("lat", strconv.FormatFloat(coords.Latitude, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(coords.Longitude, 'f', -1, 64))
	u.RawQuery = q.Encode()

	var w Weather
	if err := r.getJSON(ctx, u.String(), &w); err != nil {
		return nil, fmt.Errorf("weather lookup failed: %w", err)
	}
	return &w, nil
}

// Annotate fills latitude, longitude, and weather into an observation
// payload when the operator left them empty.
//
// Annotation is best-effort: a failed position lookup falls back to the
// last known position, and a missing fallback leaves the fields empty for
// manual entry. The record is always returned usable.
func (r *Resolver) Annotate(ctx context.Context, rec *record.PendingRecord) {
	if rec.Kind != record.KindObservation || len(rec.Payload) == 0 {
		return
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		return
	}

	if _, ok := payload["latitude"]; ok {
		return // operator supplied a position, leave it alone
	}

	coords, err := r.Locate(ctx)
	if err != nil {
		r.config.Logger.Printf("Warning: %v; using last known position", err)
		cached, ok := r.LastKnown()
		if !ok {
			r.config.Logger.Println("No last known position; leaving coordinates for manual entry")
			return
		}
		coords = cached
	}

	payload["latitude"] = coords.Latitude
	payload["longitude"] = coords.Longitude

	if w, err := r.WeatherAt(ctx, *coords); err == nil {
		payload["weather"] = w
	} else {
		r.config.Logger.Printf("Warning: %v", err)
	}

	annotated, err := json.Marshal(payload)
	if err != nil {
		return
	}
	rec.Payload = annotated
}

// getJSON fetches a URL and decodes the JSON response into out.
func (r *Resolver) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
