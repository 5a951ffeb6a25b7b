package db

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/oceanquery/argo-ingest/internal/models"
)

// Querier is the subset of pgx execution methods the store writes through.
// Both *pgxpool.Pool and pgx.Tx satisfy it, so the same upsert code runs
// inside or outside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Store wraps database access for the ingestion pipeline.
type Store struct {
	pool      *pgxpool.Pool
	batchSize int
	log       *logrus.Entry
}

// New creates a Store backed by a pgx pool sized to poolSize connections.
func New(ctx context.Context, databaseURL string, poolSize, batchSize int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parsing database url")
	}
	if poolSize > 0 {
		cfg.MaxConns = int32(poolSize)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "creating connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "connecting to database")
	}

	return &Store{
		pool:      pool,
		batchSize: batchSize,
		log:       logrus.WithField("component", "store"),
	}, nil
}

// Close releases the pool resources.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Pool exposes the underlying pool for transaction scoping.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

const upsertFloatSQL = `INSERT INTO argo_floats
	(float_id, platform_number, project_name, pi_name, institution, status,
	 deployment_date, last_contact_date, last_latitude, last_longitude,
	 total_profiles, first_profile_date, last_profile_date, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NOW(),NOW())
ON CONFLICT (float_id) DO UPDATE
SET last_contact_date = EXCLUDED.last_contact_date,
    total_profiles = EXCLUDED.total_profiles,
    status = EXCLUDED.status,
    last_profile_date = EXCLUDED.last_profile_date,
    updated_at = NOW()`

// UpsertFloats bulk-writes float records. On conflict only the mutable
// fields are refreshed; creation-time metadata is left untouched.
func (s *Store) UpsertFloats(ctx context.Context, q Querier, floats []*models.FloatRow) (int, error) {
	if len(floats) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, f := range floats {
		batch.Queue(upsertFloatSQL,
			f.FloatID, f.PlatformNumber, f.ProjectName, f.PIName, f.Institution,
			f.Status, f.DeploymentDate, f.LastContact, f.LastLatitude,
			f.LastLongitude, f.TotalProfiles, f.FirstProfile, f.LastProfile)
	}

	count, err := s.drainBatch(ctx, q, batch, len(floats))
	if err != nil {
		return count, errors.Wrap(err, "upserting floats")
	}
	s.log.WithField("floats", count).Debug("upserted float records")
	return count, nil
}

const upsertProfileSQL = `INSERT INTO argo_profiles
	(profile_id, float_id, cycle_number, data_mode, latitude, longitude,
	 measurement_date, data_points, max_pressure, min_pressure, quality_flag,
	 created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW(),NOW())
ON CONFLICT (profile_id) DO UPDATE
SET data_mode = EXCLUDED.data_mode,
    data_points = EXCLUDED.data_points,
    max_pressure = EXCLUDED.max_pressure,
    min_pressure = EXCLUDED.min_pressure,
    quality_flag = EXCLUDED.quality_flag,
    updated_at = NOW()`

// UpsertProfiles bulk-writes profile records keyed by profile id.
func (s *Store) UpsertProfiles(ctx context.Context, q Querier, profiles []*models.ProfileRow) (int, error) {
	if len(profiles) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, p := range profiles {
		batch.Queue(upsertProfileSQL,
			p.ProfileID, p.FloatID, p.CycleNumber, p.DataMode, p.Latitude,
			p.Longitude, p.MeasurementDate, p.DataPoints, p.MaxPressure,
			p.MinPressure, p.QualityFlag)
	}

	count, err := s.drainBatch(ctx, q, batch, len(profiles))
	if err != nil {
		return count, errors.Wrap(err, "upserting profiles")
	}
	s.log.WithField("profiles", count).Debug("upserted profile records")
	return count, nil
}

const upsertMeasurementSQL = `INSERT INTO argo_measurements
	(profile_id, pressure, depth, pressure_qc,
	 temperature, temperature_qc, temperature_adjusted, temperature_adjusted_qc,
	 salinity, salinity_qc, salinity_adjusted, salinity_adjusted_qc,
	 oxygen, oxygen_qc, chlorophyll_a, chlorophyll_a_qc)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
ON CONFLICT (profile_id, pressure) DO UPDATE
SET depth = EXCLUDED.depth,
    pressure_qc = EXCLUDED.pressure_qc,
    temperature = EXCLUDED.temperature,
    temperature_qc = EXCLUDED.temperature_qc,
    temperature_adjusted = EXCLUDED.temperature_adjusted,
    temperature_adjusted_qc = EXCLUDED.temperature_adjusted_qc,
    salinity = EXCLUDED.salinity,
    salinity_qc = EXCLUDED.salinity_qc,
    salinity_adjusted = EXCLUDED.salinity_adjusted,
    salinity_adjusted_qc = EXCLUDED.salinity_adjusted_qc,
    oxygen = EXCLUDED.oxygen,
    oxygen_qc = EXCLUDED.oxygen_qc,
    chlorophyll_a = EXCLUDED.chlorophyll_a,
    chlorophyll_a_qc = EXCLUDED.chlorophyll_a_qc`

// UpsertMeasurements writes measurement rows in fixed-size batches to bound
// memory and statement size. Conflicting rows (same profile and pressure)
// have every scientific field refreshed, so delayed-mode reprocessing
// overwrites real-time values.
func (s *Store) UpsertMeasurements(ctx context.Context, q Querier, rows []*models.MeasurementRow) (int, error) {
	total := 0
	for _, chunk := range chunkMeasurements(rows, s.batchSize) {
		batch := &pgx.Batch{}
		for _, m := range chunk {
			batch.Queue(upsertMeasurementSQL,
				m.ProfileID, m.Pressure, m.Depth, m.PressureQC,
				m.Temperature, m.TemperatureQC, m.TemperatureAdjusted, m.TemperatureAdjustedQC,
				m.Salinity, m.SalinityQC, m.SalinityAdjusted, m.SalinityAdjustedQC,
				m.Oxygen, m.OxygenQC, m.ChlorophyllA, m.ChlorophyllAQC)
		}
		count, err := s.drainBatch(ctx, q, batch, len(chunk))
		total += count
		if err != nil {
			return total, errors.Wrap(err, "upserting measurements")
		}
	}
	if total > 0 {
		s.log.WithField("measurements", total).Debug("upserted measurement records")
	}
	return total, nil
}

// PersistBatch writes an entity batch in referential order:
// floats, then profiles, then measurements.
func (s *Store) PersistBatch(ctx context.Context, q Querier, batch *models.EntityBatch) (floats, profiles, measurements int, err error) {
	if floats, err = s.UpsertFloats(ctx, q, batch.Floats); err != nil {
		return
	}
	if profiles, err = s.UpsertProfiles(ctx, q, batch.Profiles); err != nil {
		return
	}
	measurements, err = s.UpsertMeasurements(ctx, q, batch.Measurements)
	return
}

// drainBatch sends a pgx batch and sums affected rows.
func (s *Store) drainBatch(ctx context.Context, q Querier, batch *pgx.Batch, n int) (int, error) {
	res := q.SendBatch(ctx, batch)
	defer res.Close()

	count := 0
	for i := 0; i < n; i++ {
		tag, err := res.Exec()
		if err != nil {
			return count, err
		}
		count += int(tag.RowsAffected())
	}
	return count, nil
}

const getFloatSQL = `
SELECT float_id, platform_number, project_name, pi_name, institution, status,
       deployment_date, last_contact_date, last_latitude, last_longitude,
       total_profiles, first_profile_date, last_profile_date
FROM argo_floats
WHERE float_id = $1`

// GetFloat loads a float's persisted record, or nil when unknown.
func (s *Store) GetFloat(ctx context.Context, floatID string) (*models.FloatRow, error) {
	var row models.FloatRow
	err := s.pool.QueryRow(ctx, getFloatSQL, floatID).Scan(
		&row.FloatID, &row.PlatformNumber, &row.ProjectName, &row.PIName,
		&row.Institution, &row.Status, &row.DeploymentDate, &row.LastContact,
		&row.LastLatitude, &row.LastLongitude, &row.TotalProfiles,
		&row.FirstProfile, &row.LastProfile)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "loading float %s", floatID)
	}
	return &row, nil
}

const insertLogSQL = `INSERT INTO ingestion_log
	(filename, file_path, status, records_processed, records_inserted,
	 error_message, run_id, started_at, completed_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

// LogIngestion appends one audit row describing a file outcome. A failure
// to log is reported locally and swallowed: it must never fail the
// ingestion it describes.
func (s *Store) LogIngestion(ctx context.Context, row models.IngestionLogRow) {
	if row.FileName == "" {
		row.FileName = filepath.Base(row.FilePath)
	}
	_, err := s.pool.Exec(ctx, insertLogSQL,
		row.FileName, row.FilePath, row.Status, row.RecordsProcessed,
		row.RecordsInserted, row.ErrorMessage, row.RunID, row.StartedAt,
		row.CompletedAt)
	if err != nil {
		s.log.WithError(err).WithField("file", row.FilePath).
			Error("error logging ingestion result")
	}
}

const latestIngestionSQL = `
SELECT filename, file_path, status, records_processed, records_inserted,
       error_message, run_id, started_at, completed_at
FROM ingestion_log
WHERE file_path = $1
ORDER BY started_at DESC
LIMIT 1`

// LatestIngestion returns the newest audit row for a file, or nil when the
// file was never processed.
func (s *Store) LatestIngestion(ctx context.Context, filePath string) (*models.IngestionLogRow, error) {
	var row models.IngestionLogRow
	err := s.pool.QueryRow(ctx, latestIngestionSQL, filePath).Scan(
		&row.FileName, &row.FilePath, &row.Status, &row.RecordsProcessed,
		&row.RecordsInserted, &row.ErrorMessage, &row.RunID, &row.StartedAt,
		&row.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "loading ingestion status for %s", filePath)
	}
	return &row, nil
}

// DateExtent is the observed profile time range.
type DateExtent struct {
	MinDate time.Time `json:"min_date"`
	MaxDate time.Time `json:"max_date"`
}

// GeoExtent is the observed geographic envelope of profiles.
type GeoExtent struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLon float64 `json:"max_lon"`
}

// RecentIngestion is one entry of the recent-activity report.
type RecentIngestion struct {
	FilePath        string    `json:"file_path"`
	RecordsInserted int       `json:"records_inserted"`
	IngestedAt      time.Time `json:"ingested_at"`
}

// Stats summarizes the database contents for operational visibility.
type Stats struct {
	FloatCount       int64 `json:"float_count"`
	ProfileCount     int64 `json:"profile_count"`
	MeasurementCount int64 `json:"measurement_count"`
	IngestionLogs    int64 `json:"ingestion_log_count"`

	DateRange        *DateExtent       `json:"date_range,omitempty"`
	GeographicBounds *GeoExtent        `json:"geographic_bounds,omitempty"`
	RecentIngestions []RecentIngestion `json:"recent_ingestions,omitempty"`
}

// DatabaseStats computes row counts, temporal and geographic extents, and
// recent ingestion activity.
func (s *Store) DatabaseStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	counts := map[string]*int64{
		"argo_floats":       &stats.FloatCount,
		"argo_profiles":     &stats.ProfileCount,
		"argo_measurements": &stats.MeasurementCount,
		"ingestion_log":     &stats.IngestionLogs,
	}
	for table, dst := range counts {
		if err := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(dst); err != nil {
			return nil, errors.Wrapf(err, "counting %s", table)
		}
	}

	var minDate, maxDate *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT MIN(measurement_date), MAX(measurement_date) FROM argo_profiles`).
		Scan(&minDate, &maxDate)
	if err != nil {
		return nil, errors.Wrap(err, "computing date range")
	}
	if minDate != nil && maxDate != nil {
		stats.DateRange = &DateExtent{MinDate: *minDate, MaxDate: *maxDate}
	}

	var minLat, maxLat, minLon, maxLon *float64
	err = s.pool.QueryRow(ctx,
		`SELECT MIN(latitude), MAX(latitude), MIN(longitude), MAX(longitude) FROM argo_profiles`).
		Scan(&minLat, &maxLat, &minLon, &maxLon)
	if err != nil {
		return nil, errors.Wrap(err, "computing geographic bounds")
	}
	if minLat != nil {
		stats.GeographicBounds = &GeoExtent{
			MinLat: *minLat, MaxLat: *maxLat, MinLon: *minLon, MaxLon: *maxLon,
		}
	}

	rows, err := s.pool.Query(ctx, `
SELECT file_path, records_inserted, COALESCE(completed_at, started_at)
FROM ingestion_log
WHERE status = 'success'
ORDER BY started_at DESC
LIMIT 10`)
	if err != nil {
		return nil, errors.Wrap(err, "loading recent ingestions")
	}
	defer rows.Close()
	for rows.Next() {
		var r RecentIngestion
		if err := rows.Scan(&r.FilePath, &r.RecordsInserted, &r.IngestedAt); err != nil {
			return nil, err
		}
		stats.RecentIngestions = append(stats.RecentIngestions, r)
	}

	return stats, rows.Err()
}

// Optimize refreshes planner statistics and reclaims space where permitted.
// VACUUM requires table ownership, so its failure is reported but not fatal.
func (s *Store) Optimize(ctx context.Context) (map[string]bool, error) {
	tables := []string{"argo_floats", "argo_profiles", "argo_measurements"}
	results := make(map[string]bool)

	for _, table := range tables {
		if _, err := s.pool.Exec(ctx, "ANALYZE "+table); err != nil {
			return results, errors.Wrapf(err, "analyzing %s", table)
		}
		results[table+"_analyzed"] = true
	}

	for _, table := range tables {
		if _, err := s.pool.Exec(ctx, "VACUUM ANALYZE "+table); err != nil {
			s.log.WithError(err).WithField("table", table).
				Warn("could not vacuum table, may require ownership")
			results["vacuum_skipped"] = true
			break
		}
		results[table+"_vacuumed"] = true
	}

	s.log.Info("database optimization completed")
	return results, nil
}

// CleanupLogs removes audit rows older than the given number of days and
// returns the deleted count.
func (s *Store) CleanupLogs(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM ingestion_log WHERE started_at < $1`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "cleaning up ingestion logs")
	}
	s.log.WithField("deleted", tag.RowsAffected()).Info("cleaned up old ingestion log entries")
	return tag.RowsAffected(), nil
}

// chunkMeasurements splits rows into batches of at most size elements.
func chunkMeasurements(rows []*models.MeasurementRow, size int) [][]*models.MeasurementRow {
	if len(rows) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(rows)
	}
	chunks := make([][]*models.MeasurementRow, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		chunks = append(chunks, rows[start:end])
	}
	return chunks
}
