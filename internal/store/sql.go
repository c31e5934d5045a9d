package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/i474232898/agro-weather/internal/weather"
)

// Column layouts and statements shared by the SQLite and PostgreSQL stores.
// Only placeholder syntax and a few column types differ between them.

const ownerColumns = "id, name, street, city, region, postal_code, country"

const locationColumns = "id, owner_id, address, latitude, longitude, country, region, climate_zone, " +
	"agricultural_zone, crop_suitable, verified, is_primary, created_at, updated_at"

var observationColumns = []string{
	"location_id", "date", "hour", "data_type", "provider", "ts",
	"temperature", "temperature_min", "temperature_max", "feels_like", "humidity", "pressure",
	"wind_speed", "wind_direction", "wind_gust",
	"rainfall", "precip_probability", "snow",
	"weather_condition", "description", "icon", "quality_score", "raw", "created_at",
}

// dailyHour is stored in place of a NULL hour so the natural key stays unique.
const dailyHour = -1

type placeholder func(i int) string

func questionMarks(int) string   { return "?" }
func dollarNumbers(i int) string { return fmt.Sprintf("$%d", i) }

func placeholders(ph placeholder, from, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = ph(from + i)
	}
	return strings.Join(parts, ", ")
}

func upsertOwnerSQL(ph placeholder) string {
	return `INSERT INTO owners (` + ownerColumns + `) VALUES (` + placeholders(ph, 1, 7) + `)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, street = excluded.street, city = excluded.city,
		region = excluded.region, postal_code = excluded.postal_code, country = excluded.country`
}

func upsertLocationSQL(ph placeholder) string {
	return `INSERT INTO locations (` + locationColumns + `) VALUES (` + placeholders(ph, 1, 14) + `)
		ON CONFLICT (id) DO UPDATE SET owner_id = excluded.owner_id, address = excluded.address,
		latitude = excluded.latitude, longitude = excluded.longitude, country = excluded.country,
		region = excluded.region, climate_zone = excluded.climate_zone,
		agricultural_zone = excluded.agricultural_zone, crop_suitable = excluded.crop_suitable,
		verified = excluded.verified, is_primary = excluded.is_primary, updated_at = excluded.updated_at`
}

func upsertObservationSQL(ph placeholder) string {
	var sets []string
	for _, c := range observationColumns[4:] {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	return `INSERT INTO observations (` + strings.Join(observationColumns, ", ") + `)
		VALUES (` + placeholders(ph, 1, len(observationColumns)) + `)
		ON CONFLICT (location_id, date, hour, data_type) DO UPDATE SET ` + strings.Join(sets, ", ")
}

// listObservationsSQL builds the filtered select and its arguments.
func listObservationsSQL(ph placeholder, q weather.ObservationQuery) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, ph(len(args))))
	}
	if q.LocationID != "" {
		add("location_id = %s", q.LocationID)
	}
	if q.DataType != "" {
		add("data_type = %s", string(q.DataType))
	}
	if !q.CreatedSince.IsZero() {
		add("created_at >= %s", q.CreatedSince.UnixNano())
	}
	if q.DailyOnly {
		add("hour = %s", dailyHour)
	}

	query := `SELECT ` + strings.Join(observationColumns, ", ") + ` FROM observations`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY location_id, date, hour, data_type`
	return query, args
}

type scanner interface {
	Scan(dest ...any) error
}

func ownerArgs(o weather.Owner) []any {
	return []any{o.ID, o.Name, o.Street, o.City, o.Region, o.PostalCode, o.Country}
}

func scanOwner(sc scanner) (weather.Owner, error) {
	var o weather.Owner
	err := sc.Scan(&o.ID, &o.Name, &o.Street, &o.City, &o.Region, &o.PostalCode, &o.Country)
	return o, err
}

func locationArgs(l weather.WeatherLocation) []any {
	return []any{
		l.ID, l.OwnerID, l.Address, l.Latitude, l.Longitude, l.Country, l.Region,
		l.ClimateZone, l.AgriculturalZone, l.CropSuitable, l.Verified, l.Primary,
		l.CreatedAt.UnixNano(), l.UpdatedAt.UnixNano(),
	}
}

func scanLocation(sc scanner) (weather.WeatherLocation, error) {
	var (
		l                weather.WeatherLocation
		created, updated int64
	)
	err := sc.Scan(&l.ID, &l.OwnerID, &l.Address, &l.Latitude, &l.Longitude, &l.Country, &l.Region,
		&l.ClimateZone, &l.AgriculturalZone, &l.CropSuitable, &l.Verified, &l.Primary, &created, &updated)
	if err != nil {
		return l, err
	}
	l.CreatedAt = time.Unix(0, created).UTC()
	l.UpdatedAt = time.Unix(0, updated).UTC()
	return l, nil
}

func observationArgs(o weather.Observation) []any {
	k := o.Key()
	var raw []byte
	if len(o.Raw) > 0 {
		raw = []byte(o.Raw)
	}
	return []any{
		k.LocationID, k.Date, k.Hour, string(k.DataType), o.Provider, o.Timestamp.Format(time.RFC3339Nano),
		o.Temperature, o.TemperatureMin, o.TemperatureMax, o.FeelsLike, o.Humidity, o.Pressure,
		o.WindSpeed, o.WindDirection, o.WindGust,
		o.Rainfall, o.PrecipProbability, o.Snow,
		string(o.Condition), o.Description, o.Icon, o.QualityScore, raw, o.CreatedAt.UnixNano(),
	}
}

func scanObservation(sc scanner) (weather.Observation, error) {
	var (
		o                  weather.Observation
		date, ts, dt, cond string
		hour               int
		raw                []byte
		created            int64
	)
	err := sc.Scan(&o.LocationID, &date, &hour, &dt, &o.Provider, &ts,
		&o.Temperature, &o.TemperatureMin, &o.TemperatureMax, &o.FeelsLike, &o.Humidity, &o.Pressure,
		&o.WindSpeed, &o.WindDirection, &o.WindGust,
		&o.Rainfall, &o.PrecipProbability, &o.Snow,
		&cond, &o.Description, &o.Icon, &o.QualityScore, &raw, &created)
	if err != nil {
		return o, err
	}

	if o.Date, err = time.Parse("2006-01-02", date); err != nil {
		return o, fmt.Errorf("parse date %q: %w", date, err)
	}
	if o.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
		return o, fmt.Errorf("parse timestamp %q: %w", ts, err)
	}
	if hour != dailyHour {
		o.Hour = weather.HourPtr(hour)
	}
	o.DataType = weather.DataType(dt)
	o.Condition = weather.Condition(cond)
	if len(raw) > 0 {
		o.Raw = raw
	}
	o.CreatedAt = time.Unix(0, created).UTC()
	return o, nil
}
