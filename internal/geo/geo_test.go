package geo

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sitesense/fieldsync/internal/queue"
	"github.com/sitesense/fieldsync/internal/record"
)

func setupTestDB(t *testing.T) *queue.DB {
	t.Helper()

	db, err := queue.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.InitSchema(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}
	return db
}

func testLogger() *log.Logger {
	return log.New(os.Stderr, "[test] ", 0)
}

func locatorServer(t *testing.T, lat, lon float64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Coordinates{Latitude: lat, Longitude: lon})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func weatherServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("lat") == "" || r.URL.Query().Get("lon") == "" {
			http.Error(w, "missing position", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(Weather{Conditions: "overcast", TempC: 12.5})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLocateCachesLastKnown(t *testing.T) {
	db := setupTestDB(t)
	srv := locatorServer(t, 47.61, -122.33)

	r := NewResolver(Config{LocatorURL: srv.URL, Logger: testLogger()}, db)

	coords, err := r.Locate(context.Background())
	if err != nil {
		t.Fatalf("Locate failed: %v", err)
	}
	if coords.Latitude != 47.61 || coords.Longitude != -122.33 {
		t.Errorf("coords = %+v", coords)
	}

	cached, ok := r.LastKnown()
	if !ok {
		t.Fatal("expected cached position")
	}
	if cached.Latitude != 47.61 {
		t.Errorf("cached latitude = %v", cached.Latitude)
	}
}

func TestAnnotateFillsPositionAndWeather(t *testing.T) {
	db := setupTestDB(t)
	locator := locatorServer(t, 47.61, -122.33)
	weather := weatherServer(t)

	r := NewResolver(Config{
		LocatorURL: locator.URL,
		WeatherURL: weather.URL,
		Logger:     testLogger(),
	}, db)

	rec := &record.PendingRecord{
		Kind:      record.KindObservation,
		Payload:   json.RawMessage(`{"site":"bldg-4"}`),
		CreatedAt: time.Now(),
	}
	r.Annotate(context.Background(), rec)

	var payload map[string]interface{}
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		t.Fatalf("annotated payload not JSON: %v", err)
	}
	if payload["latitude"] != 47.61 {
		t.Errorf("latitude = %v", payload["latitude"])
	}
	if payload["site"] != "bldg-4" {
		t.Error("original fields must survive annotation")
	}
	w, ok := payload["weather"].(map[string]interface{})
	if !ok {
		t.Fatalf("weather = %v", payload["weather"])
	}
	if w["conditions"] != "overcast" {
		t.Errorf("conditions = %v", w["conditions"])
	}
}

func TestAnnotateRespectsManualPosition(t *testing.T) {
	locator := locatorServer(t, 1, 1)
	r := NewResolver(Config{LocatorURL: locator.URL, Logger: testLogger()}, nil)

	original := `{"site":"bldg-4","latitude":10.5,"longitude":20.5}`
	rec := &record.PendingRecord{
		Kind:    record.KindObservation,
		Payload: json.RawMessage(original),
	}
	r.Annotate(context.Background(), rec)

	if string(rec.Payload) != original {
		t.Errorf("payload changed despite manual position: %s", rec.Payload)
	}
}

func TestAnnotateFallsBackToLastKnown(t *testing.T) {
	db := setupTestDB(t)

	// Seed the cache, then point the resolver at a dead locator.
	seed := locatorServer(t, 47.61, -122.33)
	if _, err := NewResolver(Config{LocatorURL: seed.URL, Logger: testLogger()}, db).Locate(context.Background()); err != nil {
		t.Fatalf("seed Locate failed: %v", err)
	}

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close()

	r := NewResolver(Config{LocatorURL: dead.URL, Logger: testLogger()}, db)
	rec := &record.PendingRecord{
		Kind:    record.KindObservation,
		Payload: json.RawMessage(`{"site":"bldg-4"}`),
	}
	r.Annotate(context.Background(), rec)

	var payload map[string]interface{}
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload["latitude"] != 47.61 {
		t.Errorf("expected last known latitude, got %v", payload["latitude"])
	}
}

func TestAnnotateDegradesToManualEntry(t *testing.T) {
	db := setupTestDB(t)

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close()

	r := NewResolver(Config{LocatorURL: dead.URL, Logger: testLogger()}, db)
	original := `{"site":"bldg-4"}`
	rec := &record.PendingRecord{
		Kind:    record.KindObservation,
		Payload: json.RawMessage(original),
	}
	r.Annotate(context.Background(), rec)

	// No lookup, no cache: the payload is untouched and still submittable.
	if string(rec.Payload) != original {
		t.Errorf("payload = %s, want unchanged", rec.Payload)
	}
}

func TestAnnotateIgnoresNonObservations(t *testing.T) {
	locator := locatorServer(t, 1, 1)
	r := NewResolver(Config{LocatorURL: locator.URL, Logger: testLogger()}, nil)

	original := `{"client":"acme"}`
	rec := &record.PendingRecord{
		Kind:    record.KindSurvey,
		Payload: json.RawMessage(original),
	}
	r.Annotate(context.Background(), rec)

	if string(rec.Payload) != original {
		t.Errorf("survey payload changed: %s", rec.Payload)
	}
}

func TestWeatherAtSendsPosition(t *testing.T) {
	weather := weatherServer(t)
	r := NewResolver(Config{WeatherURL: weather.URL, Logger: testLogger()}, nil)

	w, err := r.WeatherAt(context.Background(), Coordinates{Latitude: 47.61, Longitude: -122.33})
	if err != nil {
		t.Fatalf("WeatherAt failed: %v", err)
	}
	if w.Conditions != "overcast" || w.TempC != 12.5 {
		t.Errorf("weather = %+v", w)
	}
}
