package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aqfield/aqfield/internal/airquality"
	"github.com/aqfield/aqfield/internal/spatial"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS stations (
  code TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  city TEXT NOT NULL,
  lat  DOUBLE PRECISION NOT NULL,
  lon  DOUBLE PRECISION NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_stations_city ON stations (city)`,
	`CREATE TABLE IF NOT EXISTS readings (
  station_code TEXT NOT NULL,
  pollutant    TEXT NOT NULL,
  observed_at  TIMESTAMPTZ NOT NULL,
  value        DOUBLE PRECISION
)`,
	`CREATE INDEX IF NOT EXISTS idx_readings_lookup ON readings (pollutant, observed_at, station_code)`,
	`CREATE TABLE IF NOT EXISTS grid_runs (
  run_id       TEXT PRIMARY KEY,
  city         TEXT NOT NULL,
  pollutant    TEXT NOT NULL,
  run_date     DATE NOT NULL,
  mode         TEXT NOT NULL,
  cell_size    DOUBLE PRECISION NOT NULL,
  power        DOUBLE PRECISION NOT NULL,
  metric       TEXT NOT NULL,
  min_lat      DOUBLE PRECISION NOT NULL,
  min_lon      DOUBLE PRECISION NOT NULL,
  max_lat      DOUBLE PRECISION NOT NULL,
  max_lon      DOUBLE PRECISION NOT NULL,
  qualified    TEXT[] NOT NULL,
  out_of_range INTEGER NOT NULL,
  computed_at  TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS grid_cells (
  run_id TEXT NOT NULL REFERENCES grid_runs (run_id) ON DELETE CASCADE,
  idx    INTEGER NOT NULL,
  lat    DOUBLE PRECISION NOT NULL,
  lon    DOUBLE PRECISION NOT NULL,
  value  DOUBLE PRECISION,
  PRIMARY KEY (run_id, idx)
)`,
}

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Migrate creates the tables if they don't exist.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// ListStations returns the stations of a city sorted by code.
func (r *PostgresRepository) ListStations(ctx context.Context, city string) ([]airquality.Station, error) {
	query := `
		SELECT code, name, city, lat, lon
		FROM stations
		WHERE $1 = '' OR city = $1
		ORDER BY code
	`

	rows, err := r.pool.Query(ctx, query, city)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stations []airquality.Station
	for rows.Next() {
		var s airquality.Station
		if err := rows.Scan(&s.Code, &s.Name, &s.City, &s.Lat, &s.Lon); err != nil {
			return nil, err
		}
		stations = append(stations, s)
	}
	return stations, rows.Err()
}

// UpsertStations creates or replaces stations by code in a single batch.
func (r *PostgresRepository) UpsertStations(ctx context.Context, stations []airquality.Station) error {
	if len(stations) == 0 {
		return nil
	}

	query := `
		INSERT INTO stations (code, name, city, lat, lon)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name,
			city = EXCLUDED.city,
			lat = EXCLUDED.lat,
			lon = EXCLUDED.lon
	`

	batch := &pgx.Batch{}
	for _, s := range stations {
		batch.Queue(query, s.Code, s.Name, s.City, s.Lat, s.Lon)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range stations {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert station: %w", err)
		}
	}
	return nil
}

// ListReadings returns the readings matching q ordered by timestamp.
func (r *PostgresRepository) ListReadings(ctx context.Context, q ReadingQuery) ([]airquality.Reading, error) {
	query := `
		SELECT r.station_code, r.pollutant, r.observed_at, r.value
		FROM readings r
		JOIN stations s ON s.code = r.station_code
		WHERE r.pollutant = $1
			AND ($2 = '' OR s.city = $2)
			AND ($3::timestamptz IS NULL OR r.observed_at >= $3)
			AND ($4::timestamptz IS NULL OR r.observed_at < $4)
			AND (cardinality($5::text[]) = 0 OR r.station_code = ANY($5))
		ORDER BY r.observed_at, r.station_code
	`

	stations := q.Stations
	if stations == nil {
		stations = []string{}
	}

	rows, err := r.pool.Query(ctx, query, string(q.Pollutant), q.City, nullableTime(q.From), nullableTime(q.To), stations)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []airquality.Reading
	for rows.Next() {
		var (
			reading   airquality.Reading
			pollutant string
			value     *float64
		)
		if err := rows.Scan(&reading.StationCode, &pollutant, &reading.Timestamp, &value); err != nil {
			return nil, err
		}
		reading.Pollutant = airquality.Pollutant(pollutant)
		reading.Value = fromNullable(value)
		readings = append(readings, reading)
	}
	return readings, rows.Err()
}

// InsertReadings streams readings into the readings table with COPY.
func (r *PostgresRepository) InsertReadings(ctx context.Context, readings []airquality.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	_, err := r.pool.CopyFrom(
		ctx,
		pgx.Identifier{"readings"},
		[]string{"station_code", "pollutant", "observed_at", "value"},
		pgx.CopyFromSlice(len(readings), func(i int) ([]any, error) {
			rd := readings[i]
			return []any{rd.StationCode, string(rd.Pollutant), rd.Timestamp, toNullable(rd.Value)}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy readings: %w", err)
	}
	return nil
}

// SaveGrid stores a grid run and its cells in one transaction.
func (r *PostgresRepository) SaveGrid(ctx context.Context, grid *GridRecord) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM grid_runs WHERE run_id = $1`, grid.RunID); err != nil {
		return fmt.Errorf("replace grid run: %w", err)
	}

	query := `
		INSERT INTO grid_runs (
			run_id, city, pollutant, run_date, mode, cell_size, power, metric,
			min_lat, min_lon, max_lat, max_lon, qualified, out_of_range, computed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	qualified := grid.Qualified
	if qualified == nil {
		qualified = []string{}
	}

	_, err = tx.Exec(ctx, query,
		grid.RunID,
		grid.City,
		string(grid.Pollutant),
		grid.Date,
		string(grid.Mode),
		grid.CellSize,
		grid.Power,
		string(grid.Metric),
		grid.Box.MinLat,
		grid.Box.MinLon,
		grid.Box.MaxLat,
		grid.Box.MaxLon,
		qualified,
		grid.OutOfRange,
		grid.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("insert grid run: %w", err)
	}

	_, err = tx.CopyFrom(
		ctx,
		pgx.Identifier{"grid_cells"},
		[]string{"run_id", "idx", "lat", "lon", "value"},
		pgx.CopyFromSlice(len(grid.Cells), func(i int) ([]any, error) {
			c := grid.Cells[i]
			return []any{grid.RunID, i, c.Lat, c.Lon, toNullable(c.Value)}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy grid cells: %w", err)
	}

	return tx.Commit(ctx)
}

// GetGrid returns a stored grid run with its cells in lattice order.
func (r *PostgresRepository) GetGrid(ctx context.Context, runID string) (*GridRecord, error) {
	query := `
		SELECT
			run_id, city, pollutant, run_date, mode, cell_size, power, metric,
			min_lat, min_lon, max_lat, max_lon, qualified, out_of_range, computed_at
		FROM grid_runs
		WHERE run_id = $1
	`

	var (
		grid      GridRecord
		pollutant string
		mode      string
		metric    string
	)

	err := r.pool.QueryRow(ctx, query, runID).Scan(
		&grid.RunID,
		&grid.City,
		&pollutant,
		&grid.Date,
		&mode,
		&grid.CellSize,
		&grid.Power,
		&metric,
		&grid.Box.MinLat,
		&grid.Box.MinLon,
		&grid.Box.MaxLat,
		&grid.Box.MaxLon,
		&grid.Qualified,
		&grid.OutOfRange,
		&grid.ComputedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGridNotFound
		}
		return nil, err
	}
	grid.Pollutant = airquality.Pollutant(pollutant)
	grid.Mode = airquality.ValueMode(mode)
	grid.Metric = spatial.Metric(metric)

	rows, err := r.pool.Query(ctx, `SELECT lat, lon, value FROM grid_cells WHERE run_id = $1 ORDER BY idx`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cell  spatial.Cell
			value *float64
		)
		if err := rows.Scan(&cell.Lat, &cell.Lon, &value); err != nil {
			return nil, err
		}
		cell.Value = fromNullable(value)
		grid.Cells = append(grid.Cells, cell)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &grid, nil
}

// Ping checks the connection pool.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// toNullable maps the absent marker to SQL NULL.
func toNullable(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

func fromNullable(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
