package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/i474232898/agro-weather/internal/weather"
)

// SQLiteStore persists owners, locations and observations in a single SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	maxAge time.Duration
}

// NewSQLiteStore opens (and migrates) the database at path. Use ":memory:" for tests.
func NewSQLiteStore(path string, maxAge time.Duration) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	s := &SQLiteStore{db: db, maxAge: maxAge}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error while migrating database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS owners (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			street TEXT NOT NULL DEFAULT '',
			city TEXT NOT NULL DEFAULT '',
			region TEXT NOT NULL DEFAULT '',
			postal_code TEXT NOT NULL DEFAULT '',
			country TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS locations (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL DEFAULT '',
			address TEXT NOT NULL DEFAULT '',
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			country TEXT NOT NULL DEFAULT '',
			region TEXT NOT NULL DEFAULT '',
			climate_zone TEXT NOT NULL DEFAULT '',
			agricultural_zone TEXT NOT NULL DEFAULT '',
			crop_suitable INTEGER NOT NULL DEFAULT 0,
			verified INTEGER NOT NULL DEFAULT 0,
			is_primary INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS observations (
			location_id TEXT NOT NULL,
			date TEXT NOT NULL,
			hour INTEGER NOT NULL,
			data_type TEXT NOT NULL,
			provider TEXT NOT NULL,
			ts TEXT NOT NULL,
			temperature REAL,
			temperature_min REAL,
			temperature_max REAL,
			feels_like REAL,
			humidity REAL,
			pressure REAL,
			wind_speed REAL,
			wind_direction REAL,
			wind_gust REAL,
			rainfall REAL,
			precip_probability REAL,
			snow REAL,
			weather_condition TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			icon TEXT NOT NULL DEFAULT '',
			quality_score INTEGER NOT NULL,
			raw BLOB,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (location_id, date, hour, data_type)
		);

		CREATE INDEX IF NOT EXISTS idx_locations_owner ON locations(owner_id);
		CREATE INDEX IF NOT EXISTS idx_locations_coords ON locations(latitude, longitude);
		CREATE INDEX IF NOT EXISTS idx_observations_created ON observations(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveOwner(ctx context.Context, o weather.Owner) error {
	if o.ID == "" {
		return fmt.Errorf("owner id is required")
	}
	if _, err := s.db.ExecContext(ctx, upsertOwnerSQL(questionMarks), ownerArgs(o)...); err != nil {
		return fmt.Errorf("save owner %s: %w", o.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetOwner(ctx context.Context, ownerID string) (weather.Owner, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ownerColumns+` FROM owners WHERE id = ?`, ownerID)
	o, err := scanOwner(row)
	if errors.Is(err, sql.ErrNoRows) {
		return o, fmt.Errorf("%w: owner %s", weather.ErrLocationNotFound, ownerID)
	}
	if err != nil {
		return o, fmt.Errorf("get owner %s: %w", ownerID, err)
	}
	return o, nil
}

func (s *SQLiteStore) GetLocation(ctx context.Context, id string) (weather.WeatherLocation, error) {
	return s.queryLocation(ctx, id, `SELECT `+locationColumns+` FROM locations WHERE id = ?`, id)
}

func (s *SQLiteStore) PrimaryLocation(ctx context.Context, ownerID string) (weather.WeatherLocation, error) {
	return s.queryLocation(ctx, "primary of owner "+ownerID,
		`SELECT `+locationColumns+` FROM locations WHERE owner_id = ? AND is_primary = 1 LIMIT 1`, ownerID)
}

func (s *SQLiteStore) FindLocationByCoordinates(ctx context.Context, lat, lon float64) (weather.WeatherLocation, error) {
	return s.queryLocation(ctx, fmt.Sprintf("%f,%f", lat, lon),
		`SELECT `+locationColumns+` FROM locations WHERE latitude = ? AND longitude = ?
		 ORDER BY created_at LIMIT 1`, lat, lon)
}

func (s *SQLiteStore) queryLocation(ctx context.Context, what, query string, args ...any) (weather.WeatherLocation, error) {
	l, err := scanLocation(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return l, fmt.Errorf("%w: %s", weather.ErrLocationNotFound, what)
	}
	if err != nil {
		return l, fmt.Errorf("query location %s: %w", what, err)
	}
	return l, nil
}

// SaveLocation merges loc into any stored row and demotes the owner's other
// primary locations, all in one transaction.
func (s *SQLiteStore) SaveLocation(ctx context.Context, loc weather.WeatherLocation) (weather.WeatherLocation, error) {
	if loc.ID == "" {
		return weather.WeatherLocation{}, fmt.Errorf("location id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return weather.WeatherLocation{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	existing, err := scanLocation(tx.QueryRowContext(ctx, `SELECT `+locationColumns+` FROM locations WHERE id = ?`, loc.ID))
	switch {
	case err == nil:
		loc = weather.MergeLocation(existing, loc)
	case !errors.Is(err, sql.ErrNoRows):
		return weather.WeatherLocation{}, fmt.Errorf("load location %s: %w", loc.ID, err)
	}

	if loc.Primary && loc.OwnerID != "" {
		if _, err := tx.ExecContext(ctx,
			`UPDATE locations SET is_primary = 0 WHERE owner_id = ? AND id <> ? AND is_primary = 1`,
			loc.OwnerID, loc.ID); err != nil {
			return weather.WeatherLocation{}, fmt.Errorf("demote primary locations: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, upsertLocationSQL(questionMarks), locationArgs(loc)...); err != nil {
		return weather.WeatherLocation{}, fmt.Errorf("upsert location %s: %w", loc.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return weather.WeatherLocation{}, fmt.Errorf("commit location %s: %w", loc.ID, err)
	}
	return loc, nil
}

func (s *SQLiteStore) ListLocations(ctx context.Context) ([]weather.WeatherLocation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+locationColumns+` FROM locations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	defer rows.Close()

	var out []weather.WeatherLocation
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// UpsertObservations writes all observations in one transaction keyed by
// (location, date, hour, type) and then applies age retention.
func (s *SQLiteStore) UpsertObservations(ctx context.Context, obs []weather.Observation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertObservationSQL(questionMarks))
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, o := range obs {
		if _, err := stmt.ExecContext(ctx, observationArgs(o)...); err != nil {
			return fmt.Errorf("upsert observation %s/%s: %w", o.LocationID, o.Key().Date, err)
		}
	}

	if s.maxAge > 0 {
		cutoff := time.Now().Add(-s.maxAge).UnixNano()
		if _, err := tx.ExecContext(ctx, `DELETE FROM observations WHERE created_at < ?`, cutoff); err != nil {
			return fmt.Errorf("apply retention: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListObservations(ctx context.Context, q weather.ObservationQuery) ([]weather.Observation, error) {
	query, args := listObservationsSQL(questionMarks, q)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list observations: %w", err)
	}
	defer rows.Close()

	var out []weather.Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
