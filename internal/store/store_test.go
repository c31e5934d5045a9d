package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/i474232898/agro-weather/internal/weather"
)

type testStore interface {
	weather.Store
	weather.OwnerDirectory
	SaveOwner(ctx context.Context, o weather.Owner) error
}

// forEachStore runs fn against every store implementation available in the
// test environment. PostgreSQL runs only when TEST_DATABASE_URL is set.
func forEachStore(t *testing.T, maxAge time.Duration, fn func(t *testing.T, s testStore)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore(maxAge))
	})

	t.Run("sqlite", func(t *testing.T) {
		s, err := NewSQLiteStore(":memory:", maxAge)
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})

	t.Run("postgres", func(t *testing.T) {
		dsn := os.Getenv("TEST_DATABASE_URL")
		if dsn == "" {
			t.Skip("TEST_DATABASE_URL not set")
		}
		ctx := context.Background()
		s, err := NewPostgresStore(ctx, dsn, maxAge)
		if err != nil {
			t.Fatalf("open postgres: %v", err)
		}
		t.Cleanup(s.Close)
		if _, err := s.pool.Exec(ctx, `TRUNCATE owners, locations, observations`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		fn(t, s)
	})
}

var baseTime = time.Date(2026, 10, 15, 8, 30, 0, 0, time.UTC)

func testLocation(id, owner string, primary bool) weather.WeatherLocation {
	return weather.WeatherLocation{
		ID:               id,
		OwnerID:          owner,
		Address:          "Plovdiv, BG",
		Latitude:         42.1354,
		Longitude:        24.7453,
		Country:          "BG",
		Region:           "Plovdiv",
		ClimateZone:      "continental",
		AgriculturalZone: "temperate",
		CropSuitable:     true,
		Primary:          primary,
		CreatedAt:        baseTime,
		UpdatedAt:        baseTime,
	}
}

func testObservation(loc string, day int, hour *int, dt weather.DataType, temp float64) weather.Observation {
	ts := time.Date(2026, 10, day, 12, 0, 0, 0, time.FixedZone("", 3*3600))
	return weather.Observation{
		LocationID:   loc,
		Provider:     "openmeteo",
		DataType:     dt,
		Date:         weather.DateOf(ts),
		Hour:         hour,
		Timestamp:    ts,
		Temperature:  temp,
		Humidity:     60,
		Condition:    weather.ConditionClear,
		Description:  "Clear sky",
		QualityScore: 95,
		Raw:          json.RawMessage(`{"t":1}`),
		CreatedAt:    time.Now().UTC(),
	}
}

func TestOwners(t *testing.T) {
	forEachStore(t, 0, func(t *testing.T, s testStore) {
		ctx := context.Background()
		owner := weather.Owner{ID: "o1", Name: "Ivan", City: "Plovdiv", Country: "BG"}
		if err := s.SaveOwner(ctx, owner); err != nil {
			t.Fatalf("save owner: %v", err)
		}

		owner.City = "Varna"
		if err := s.SaveOwner(ctx, owner); err != nil {
			t.Fatalf("update owner: %v", err)
		}

		got, err := s.GetOwner(ctx, "o1")
		if err != nil {
			t.Fatalf("get owner: %v", err)
		}
		if got != owner {
			t.Fatalf("expected %+v, got %+v", owner, got)
		}

		if _, err := s.GetOwner(ctx, "missing"); !errors.Is(err, weather.ErrLocationNotFound) {
			t.Fatalf("expected ErrLocationNotFound, got %v", err)
		}
		if err := s.SaveOwner(ctx, weather.Owner{Name: "anonymous"}); err == nil {
			t.Fatal("expected error for owner without id")
		}
	})
}

func TestLocations(t *testing.T) {
	forEachStore(t, 0, func(t *testing.T, s testStore) {
		ctx := context.Background()
		saved, err := s.SaveLocation(ctx, testLocation("l1", "o1", true))
		if err != nil {
			t.Fatalf("save location: %v", err)
		}

		got, err := s.GetLocation(ctx, "l1")
		if err != nil {
			t.Fatalf("get location: %v", err)
		}
		if got.Address != saved.Address || got.Latitude != saved.Latitude || !got.CreatedAt.Equal(baseTime) || !got.Primary {
			t.Fatalf("unexpected round trip %+v", got)
		}

		primary, err := s.PrimaryLocation(ctx, "o1")
		if err != nil || primary.ID != "l1" {
			t.Fatalf("expected primary l1, got %+v (%v)", primary, err)
		}

		byCoords, err := s.FindLocationByCoordinates(ctx, 42.1354, 24.7453)
		if err != nil || byCoords.ID != "l1" {
			t.Fatalf("expected l1 by coordinates, got %+v (%v)", byCoords, err)
		}

		if _, err := s.GetLocation(ctx, "nope"); !errors.Is(err, weather.ErrLocationNotFound) {
			t.Fatalf("expected ErrLocationNotFound, got %v", err)
		}
		if _, err := s.PrimaryLocation(ctx, "o2"); !errors.Is(err, weather.ErrLocationNotFound) {
			t.Fatalf("expected ErrLocationNotFound, got %v", err)
		}
		if _, err := s.FindLocationByCoordinates(ctx, 1, 1); !errors.Is(err, weather.ErrLocationNotFound) {
			t.Fatalf("expected ErrLocationNotFound, got %v", err)
		}
		if _, err := s.SaveLocation(ctx, weather.WeatherLocation{}); err == nil {
			t.Fatal("expected error for location without id")
		}
	})
}

func TestSavePrimaryDemotesOthers(t *testing.T) {
	forEachStore(t, 0, func(t *testing.T, s testStore) {
		ctx := context.Background()
		for _, l := range []weather.WeatherLocation{
			testLocation("l1", "o1", true),
			testLocation("other-owner", "o2", true),
			testLocation("l2", "o1", true),
		} {
			if _, err := s.SaveLocation(ctx, l); err != nil {
				t.Fatalf("save %s: %v", l.ID, err)
			}
		}

		primary, err := s.PrimaryLocation(ctx, "o1")
		if err != nil || primary.ID != "l2" {
			t.Fatalf("expected l2 to be primary, got %+v (%v)", primary, err)
		}
		l1, err := s.GetLocation(ctx, "l1")
		if err != nil || l1.Primary {
			t.Fatalf("expected l1 to be demoted, got %+v (%v)", l1, err)
		}
		other, err := s.PrimaryLocation(ctx, "o2")
		if err != nil || other.ID != "other-owner" {
			t.Fatalf("other owner's primary must be untouched, got %+v (%v)", other, err)
		}

		all, err := s.ListLocations(ctx)
		if err != nil {
			t.Fatalf("list locations: %v", err)
		}
		ids := make([]string, 0, len(all))
		for _, l := range all {
			ids = append(ids, l.ID)
		}
		if strings.Join(ids, ",") != "l1,l2,other-owner" {
			t.Fatalf("unexpected locations %v", ids)
		}
	})
}

func TestVerifiedLocationKeepsCoordinates(t *testing.T) {
	forEachStore(t, 0, func(t *testing.T, s testStore) {
		ctx := context.Background()
		loc := testLocation("l1", "o1", true)
		loc.Verified = true
		if _, err := s.SaveLocation(ctx, loc); err != nil {
			t.Fatalf("save: %v", err)
		}

		update := loc
		update.Latitude, update.Longitude = 43.2141, 27.9147
		update.Address = "Varna, BG"
		update.AgriculturalZone = "cold"
		update.UpdatedAt = baseTime.Add(time.Hour)

		merged, err := s.SaveLocation(ctx, update)
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		got, err := s.GetLocation(ctx, "l1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		for _, l := range []weather.WeatherLocation{merged, got} {
			if l.Latitude != 42.1354 || l.Longitude != 24.7453 || l.Address != "Plovdiv, BG" {
				t.Fatalf("verified coordinates changed: %+v", l)
			}
			if l.AgriculturalZone != "cold" || !l.UpdatedAt.Equal(update.UpdatedAt) {
				t.Fatalf("derived fields not updated: %+v", l)
			}
		}
	})
}

func TestUnverifiedLocationIsReplaced(t *testing.T) {
	forEachStore(t, 0, func(t *testing.T, s testStore) {
		ctx := context.Background()
		if _, err := s.SaveLocation(ctx, testLocation("l1", "o1", true)); err != nil {
			t.Fatalf("save: %v", err)
		}

		update := testLocation("l1", "o1", true)
		update.Latitude, update.Longitude = 43.2141, 27.9147
		update.Verified = true
		update.CreatedAt = baseTime.Add(24 * time.Hour)

		got, err := s.SaveLocation(ctx, update)
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if got.Latitude != 43.2141 || !got.Verified {
			t.Fatalf("expected new coordinates, got %+v", got)
		}
		if !got.CreatedAt.Equal(baseTime) {
			t.Fatalf("creation time must be preserved, got %s", got.CreatedAt)
		}
	})
}

func TestObservationUpsertKey(t *testing.T) {
	forEachStore(t, 0, func(t *testing.T, s testStore) {
		ctx := context.Background()
		obs := []weather.Observation{
			testObservation("l1", 15, nil, weather.DataTypeForecast, 20),
			testObservation("l1", 15, weather.HourPtr(12), weather.DataTypeForecast, 21),
			testObservation("l1", 15, nil, weather.DataTypeHistorical, 19),
			testObservation("l1", 16, nil, weather.DataTypeForecast, 22),
			testObservation("l2", 15, nil, weather.DataTypeForecast, 18),
		}
		if err := s.UpsertObservations(ctx, obs); err != nil {
			t.Fatalf("upsert: %v", err)
		}

		// Same key, new values.
		replacement := testObservation("l1", 15, nil, weather.DataTypeForecast, 25)
		replacement.Provider = "weatherapi"
		if err := s.UpsertObservations(ctx, []weather.Observation{replacement}); err != nil {
			t.Fatalf("upsert replacement: %v", err)
		}

		all, err := s.ListObservations(ctx, weather.ObservationQuery{})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(all) != 5 {
			t.Fatalf("expected 5 observations, got %d", len(all))
		}

		got, err := s.ListObservations(ctx, weather.ObservationQuery{
			LocationID: "l1",
			DataType:   weather.DataTypeForecast,
			DailyOnly:  true,
		})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 daily forecasts, got %d", len(got))
		}
		first := got[0]
		if first.Temperature != 25 || first.Provider != "weatherapi" {
			t.Fatalf("expected replaced values, got %+v", first)
		}
		if first.Hour != nil || !first.Date.Equal(time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)) {
			t.Fatalf("unexpected key fields: date=%s hour=%v", first.Date, first.Hour)
		}
		if !first.Timestamp.Equal(replacement.Timestamp) || string(first.Raw) != `{"t":1}` {
			t.Fatalf("unexpected payload fields: ts=%s raw=%s", first.Timestamp, first.Raw)
		}
		if first.Condition != weather.ConditionClear || first.QualityScore != 95 {
			t.Fatalf("unexpected condition fields %+v", first)
		}
		if got[1].Date.Day() != 16 {
			t.Fatalf("expected date ordering, got %s second", got[1].Date)
		}

		hourly, err := s.ListObservations(ctx, weather.ObservationQuery{LocationID: "l1", DataType: weather.DataTypeForecast})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(hourly) != 3 {
			t.Fatalf("expected 3 forecast rows including hourly, got %d", len(hourly))
		}
	})
}

func TestListObservationsCreatedSince(t *testing.T) {
	forEachStore(t, 0, func(t *testing.T, s testStore) {
		ctx := context.Background()
		old := testObservation("l1", 14, nil, weather.DataTypeForecast, 10)
		old.CreatedAt = time.Now().Add(-6 * time.Hour).UTC()
		fresh := testObservation("l1", 15, nil, weather.DataTypeForecast, 11)

		if err := s.UpsertObservations(ctx, []weather.Observation{old, fresh}); err != nil {
			t.Fatalf("upsert: %v", err)
		}

		got, err := s.ListObservations(ctx, weather.ObservationQuery{
			LocationID:   "l1",
			CreatedSince: time.Now().Add(-3 * time.Hour),
		})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(got) != 1 || got[0].Temperature != 11 {
			t.Fatalf("expected only the fresh row, got %+v", got)
		}
	})
}

func TestRetention(t *testing.T) {
	forEachStore(t, time.Hour, func(t *testing.T, s testStore) {
		ctx := context.Background()
		stale := testObservation("l1", 14, nil, weather.DataTypeForecast, 10)
		stale.CreatedAt = time.Now().Add(-2 * time.Hour).UTC()
		fresh := testObservation("l1", 15, nil, weather.DataTypeForecast, 11)

		if err := s.UpsertObservations(ctx, []weather.Observation{stale, fresh}); err != nil {
			t.Fatalf("upsert: %v", err)
		}

		got, err := s.ListObservations(ctx, weather.ObservationQuery{})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(got) != 1 || got[0].Date.Day() != 15 {
			t.Fatalf("expected the stale row to be dropped, got %+v", got)
		}
	})
}

func TestMemoryStoreCountsUpserts(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := s.UpsertObservations(ctx, nil); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	if s.UpsertCalls() != 3 {
		t.Fatalf("expected 3 upsert calls, got %d", s.UpsertCalls())
	}
}

func TestListObservationsSQL(t *testing.T) {
	q := weather.ObservationQuery{
		LocationID:   "l1",
		DataType:     weather.DataTypeForecast,
		CreatedSince: baseTime,
		DailyOnly:    true,
	}

	query, args := listObservationsSQL(dollarNumbers, q)
	want := "WHERE location_id = $1 AND data_type = $2 AND created_at >= $3 AND hour = $4 ORDER BY"
	if !strings.Contains(query, want) {
		t.Fatalf("unexpected query %s", query)
	}
	if len(args) != 4 || args[0] != "l1" || args[2] != baseTime.UnixNano() || args[3] != dailyHour {
		t.Fatalf("unexpected args %v", args)
	}

	query, args = listObservationsSQL(questionMarks, weather.ObservationQuery{})
	if strings.Contains(query, "WHERE") || len(args) != 0 {
		t.Fatalf("expected an unfiltered query, got %s %v", query, args)
	}
}

func TestUpsertObservationSQL(t *testing.T) {
	query := upsertObservationSQL(dollarNumbers)
	if !strings.Contains(query, "$24)") {
		t.Fatalf("expected 24 placeholders: %s", query)
	}
	if strings.Contains(query, "location_id = excluded.location_id") {
		t.Fatalf("key columns must not be updated: %s", query)
	}
	if !strings.Contains(query, "weather_condition = excluded.weather_condition") {
		t.Fatalf("missing payload update: %s", query)
	}
}
