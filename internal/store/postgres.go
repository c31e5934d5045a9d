package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/i474232898/agro-weather/internal/weather"
)

const postgresSchema = `
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
	latitude DOUBLE PRECISION NOT NULL,
	longitude DOUBLE PRECISION NOT NULL,
	country TEXT NOT NULL DEFAULT '',
	region TEXT NOT NULL DEFAULT '',
	climate_zone TEXT NOT NULL DEFAULT '',
	agricultural_zone TEXT NOT NULL DEFAULT '',
	crop_suitable BOOLEAN NOT NULL DEFAULT FALSE,
	verified BOOLEAN NOT NULL DEFAULT FALSE,
	is_primary BOOLEAN NOT NULL DEFAULT FALSE,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS observations (
	location_id TEXT NOT NULL,
	date TEXT NOT NULL,
	hour INTEGER NOT NULL,
	data_type TEXT NOT NULL,
	provider TEXT NOT NULL,
	ts TEXT NOT NULL,
	temperature DOUBLE PRECISION,
	temperature_min DOUBLE PRECISION,
	temperature_max DOUBLE PRECISION,
	feels_like DOUBLE PRECISION,
	humidity DOUBLE PRECISION,
	pressure DOUBLE PRECISION,
	wind_speed DOUBLE PRECISION,
	wind_direction DOUBLE PRECISION,
	wind_gust DOUBLE PRECISION,
	rainfall DOUBLE PRECISION,
	precip_probability DOUBLE PRECISION,
	snow DOUBLE PRECISION,
	weather_condition TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	icon TEXT NOT NULL DEFAULT '',
	quality_score INTEGER NOT NULL,
	raw BYTEA,
	created_at BIGINT NOT NULL,
	PRIMARY KEY (location_id, date, hour, data_type)
);

CREATE INDEX IF NOT EXISTS idx_locations_owner ON locations(owner_id);
CREATE INDEX IF NOT EXISTS idx_locations_coords ON locations(latitude, longitude);
CREATE INDEX IF NOT EXISTS idx_observations_created ON observations(created_at);
`

// PostgresStore is the pgx-backed store for multi-instance deployments.
type PostgresStore struct {
	pool   *pgxpool.Pool
	maxAge time.Duration
}

func NewPostgresStore(ctx context.Context, dsn string, maxAge time.Duration) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	return &PostgresStore{pool: pool, maxAge: maxAge}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) SaveOwner(ctx context.Context, o weather.Owner) error {
	if o.ID == "" {
		return fmt.Errorf("owner id is required")
	}
	if _, err := s.pool.Exec(ctx, upsertOwnerSQL(dollarNumbers), ownerArgs(o)...); err != nil {
		return fmt.Errorf("save owner %s: %w", o.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetOwner(ctx context.Context, ownerID string) (weather.Owner, error) {
	o, err := scanOwner(s.pool.QueryRow(ctx, `SELECT `+ownerColumns+` FROM owners WHERE id = $1`, ownerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return o, fmt.Errorf("%w: owner %s", weather.ErrLocationNotFound, ownerID)
	}
	if err != nil {
		return o, fmt.Errorf("get owner %s: %w", ownerID, err)
	}
	return o, nil
}

func (s *PostgresStore) GetLocation(ctx context.Context, id string) (weather.WeatherLocation, error) {
	return s.queryLocation(ctx, id, `SELECT `+locationColumns+` FROM locations WHERE id = $1`, id)
}

func (s *PostgresStore) PrimaryLocation(ctx context.Context, ownerID string) (weather.WeatherLocation, error) {
	return s.queryLocation(ctx, "primary of owner "+ownerID,
		`SELECT `+locationColumns+` FROM locations WHERE owner_id = $1 AND is_primary LIMIT 1`, ownerID)
}

func (s *PostgresStore) FindLocationByCoordinates(ctx context.Context, lat, lon float64) (weather.WeatherLocation, error) {
	return s.queryLocation(ctx, fmt.Sprintf("%f,%f", lat, lon),
		`SELECT `+locationColumns+` FROM locations WHERE latitude = $1 AND longitude = $2
		 ORDER BY created_at LIMIT 1`, lat, lon)
}

func (s *PostgresStore) queryLocation(ctx context.Context, what, query string, args ...any) (weather.WeatherLocation, error) {
	l, err := scanLocation(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return l, fmt.Errorf("%w: %s", weather.ErrLocationNotFound, what)
	}
	if err != nil {
		return l, fmt.Errorf("query location %s: %w", what, err)
	}
	return l, nil
}

func (s *PostgresStore) SaveLocation(ctx context.Context, loc weather.WeatherLocation) (weather.WeatherLocation, error) {
	if loc.ID == "" {
		return weather.WeatherLocation{}, fmt.Errorf("location id is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return weather.WeatherLocation{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	existing, err := scanLocation(tx.QueryRow(ctx,
		`SELECT `+locationColumns+` FROM locations WHERE id = $1 FOR UPDATE`, loc.ID))
	switch {
	case err == nil:
		loc = weather.MergeLocation(existing, loc)
	case !errors.Is(err, pgx.ErrNoRows):
		return weather.WeatherLocation{}, fmt.Errorf("load location %s: %w", loc.ID, err)
	}

	batch := &pgx.Batch{}
	if loc.Primary && loc.OwnerID != "" {
		batch.Queue(`UPDATE locations SET is_primary = FALSE WHERE owner_id = $1 AND id <> $2 AND is_primary`,
			loc.OwnerID, loc.ID)
	}
	batch.Queue(upsertLocationSQL(dollarNumbers), locationArgs(loc)...)
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return weather.WeatherLocation{}, fmt.Errorf("upsert location %s: %w", loc.ID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return weather.WeatherLocation{}, fmt.Errorf("commit location %s: %w", loc.ID, err)
	}
	return loc, nil
}

func (s *PostgresStore) ListLocations(ctx context.Context) ([]weather.WeatherLocation, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+locationColumns+` FROM locations ORDER BY id`)
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

func (s *PostgresStore) UpsertObservations(ctx context.Context, obs []weather.Observation) error {
	query := upsertObservationSQL(dollarNumbers)
	batch := &pgx.Batch{}
	for _, o := range obs {
		batch.Queue(query, observationArgs(o)...)
	}
	if s.maxAge > 0 {
		batch.Queue(`DELETE FROM observations WHERE created_at < $1`, time.Now().Add(-s.maxAge).UnixNano())
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert observation: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) ListObservations(ctx context.Context, q weather.ObservationQuery) ([]weather.Observation, error) {
	query, args := listObservationsSQL(dollarNumbers, q)
	rows, err := s.pool.Query(ctx, query, args...)
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
