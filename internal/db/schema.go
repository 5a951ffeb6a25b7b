package db

import (
	"context"

	"github.com/pkg/errors"
)

// Schema bootstrap. Mirrors the deployed migrations so the CLI can run
// against an empty database.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS argo_floats (
		float_id           TEXT PRIMARY KEY,
		platform_number    TEXT,
		project_name       TEXT,
		pi_name            TEXT,
		institution        TEXT,
		status             TEXT NOT NULL DEFAULT 'active',
		deployment_date    TIMESTAMPTZ,
		last_contact_date  TIMESTAMPTZ,
		last_latitude      DOUBLE PRECISION,
		last_longitude     DOUBLE PRECISION,
		total_profiles     INTEGER NOT NULL DEFAULT 0,
		first_profile_date TIMESTAMPTZ,
		last_profile_date  TIMESTAMPTZ,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS argo_profiles (
		profile_id       TEXT PRIMARY KEY,
		float_id         TEXT NOT NULL REFERENCES argo_floats(float_id),
		cycle_number     INTEGER NOT NULL CHECK (cycle_number >= 0),
		data_mode        TEXT NOT NULL DEFAULT 'R',
		latitude         DOUBLE PRECISION NOT NULL CHECK (latitude >= -90 AND latitude <= 90),
		longitude        DOUBLE PRECISION NOT NULL CHECK (longitude >= -180 AND longitude <= 180),
		measurement_date TIMESTAMPTZ NOT NULL,
		data_points      INTEGER NOT NULL DEFAULT 0,
		max_pressure     DOUBLE PRECISION,
		min_pressure     DOUBLE PRECISION,
		quality_flag     TEXT NOT NULL DEFAULT 'A',
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS argo_measurements (
		id                       BIGSERIAL PRIMARY KEY,
		profile_id               TEXT NOT NULL REFERENCES argo_profiles(profile_id),
		pressure                 DOUBLE PRECISION NOT NULL CHECK (pressure >= 0),
		depth                    DOUBLE PRECISION,
		pressure_qc              TEXT,
		temperature              DOUBLE PRECISION,
		temperature_qc           TEXT,
		temperature_adjusted     DOUBLE PRECISION,
		temperature_adjusted_qc  TEXT,
		salinity                 DOUBLE PRECISION,
		salinity_qc              TEXT,
		salinity_adjusted        DOUBLE PRECISION,
		salinity_adjusted_qc     TEXT,
		oxygen                   DOUBLE PRECISION,
		oxygen_qc                TEXT,
		chlorophyll_a            DOUBLE PRECISION,
		chlorophyll_a_qc         TEXT,
		UNIQUE (profile_id, pressure)
	)`,
	`CREATE TABLE IF NOT EXISTS ingestion_log (
		id                BIGSERIAL PRIMARY KEY,
		filename          TEXT NOT NULL,
		file_path         TEXT NOT NULL,
		status            TEXT NOT NULL,
		records_processed INTEGER NOT NULL DEFAULT 0,
		records_inserted  INTEGER NOT NULL DEFAULT 0,
		error_message     TEXT,
		run_id            TEXT,
		started_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		completed_at      TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS ix_profiles_float_cycle ON argo_profiles (float_id, cycle_number)`,
	`CREATE INDEX IF NOT EXISTS ix_profiles_date ON argo_profiles (measurement_date)`,
	`CREATE INDEX IF NOT EXISTS ix_profiles_location ON argo_profiles (latitude, longitude)`,
	`CREATE INDEX IF NOT EXISTS ix_measurements_profile_pressure ON argo_measurements (profile_id, pressure)`,
	`CREATE INDEX IF NOT EXISTS ix_ingestion_log_path ON ingestion_log (file_path, started_at DESC)`,
}

// EnsureSchema creates the ingestion tables and indexes when absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return errors.Wrap(err, "ensuring schema")
		}
	}
	return nil
}
