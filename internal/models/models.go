package models

import (
	"fmt"
	"math"
	"time"
)

// Profile is a single decoded Argo profile (one float dive cycle). Per-level
// slices are parallel: index i refers to the same pressure level in all of
// them, with NaN marking a missing value and "" a missing QC flag.
type Profile struct {
	FloatID     string
	CycleNumber int
	ProfileID   string
	DataMode    string

	Latitude        float64
	Longitude       float64
	MeasurementTime time.Time

	PlatformNumber string
	ProjectName    string
	PIName         string

	Pressure   []float64
	PressureQC []string

	Temperature           []float64
	TemperatureQC         []string
	TemperatureAdjusted   []float64
	TemperatureAdjustedQC []string

	Salinity           []float64
	SalinityQC         []string
	SalinityAdjusted   []float64
	SalinityAdjustedQC []string

	Oxygen   []float64
	OxygenQC []string

	Chlorophyll   []float64
	ChlorophyllQC []string

	PositionQC string
	DateQC     string
}

// Levels returns the number of pressure levels carried by the profile.
func (p *Profile) Levels() int {
	return len(p.Pressure)
}

// ValidPressureLevels counts levels with a finite pressure value.
func (p *Profile) ValidPressureLevels() int {
	n := 0
	for _, v := range p.Pressure {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

// FloatRow is the persisted representation of a physical float. Pointer
// fields map to nullable columns, following the store's scan conventions.
type FloatRow struct {
	FloatID        string     `json:"float_id"`
	PlatformNumber *string    `json:"platform_number,omitempty"`
	ProjectName    *string    `json:"project_name,omitempty"`
	PIName         *string    `json:"pi_name,omitempty"`
	Institution    *string    `json:"institution,omitempty"`
	Status         string     `json:"status"`
	DeploymentDate *time.Time `json:"deployment_date,omitempty"`
	LastContact    *time.Time `json:"last_contact_date,omitempty"`
	LastLatitude   *float64   `json:"last_latitude,omitempty"`
	LastLongitude  *float64   `json:"last_longitude,omitempty"`
	TotalProfiles  int        `json:"total_profiles"`
	FirstProfile   *time.Time `json:"first_profile_date,omitempty"`
	LastProfile    *time.Time `json:"last_profile_date,omitempty"`
}

// ProfileRow is the persisted representation of one dive cycle.
type ProfileRow struct {
	ProfileID       string    `json:"profile_id"`
	FloatID         string    `json:"float_id"`
	CycleNumber     int       `json:"cycle_number"`
	DataMode        string    `json:"data_mode"`
	Latitude        float64   `json:"latitude"`
	Longitude       float64   `json:"longitude"`
	MeasurementDate time.Time `json:"measurement_date"`
	DataPoints      int       `json:"data_points"`
	MaxPressure     *float64  `json:"max_pressure,omitempty"`
	MinPressure     *float64  `json:"min_pressure,omitempty"`
	QualityFlag     string    `json:"quality_flag"`
}

// MeasurementRow is one pressure level of one profile.
type MeasurementRow struct {
	ProfileID string  `json:"profile_id"`
	Pressure  float64 `json:"pressure"`
	Depth     float64 `json:"depth"`

	PressureQC *string `json:"pressure_qc,omitempty"`

	Temperature           *float64 `json:"temperature,omitempty"`
	TemperatureQC         *string  `json:"temperature_qc,omitempty"`
	TemperatureAdjusted   *float64 `json:"temperature_adjusted,omitempty"`
	TemperatureAdjustedQC *string  `json:"temperature_adjusted_qc,omitempty"`

	Salinity           *float64 `json:"salinity,omitempty"`
	SalinityQC         *string  `json:"salinity_qc,omitempty"`
	SalinityAdjusted   *float64 `json:"salinity_adjusted,omitempty"`
	SalinityAdjustedQC *string  `json:"salinity_adjusted_qc,omitempty"`

	Oxygen   *float64 `json:"oxygen,omitempty"`
	OxygenQC *string  `json:"oxygen_qc,omitempty"`

	ChlorophyllA   *float64 `json:"chlorophyll_a,omitempty"`
	ChlorophyllAQC *string  `json:"chlorophyll_a_qc,omitempty"`
}

// HasScience reports whether the row carries at least one scientific reading
// besides pressure. Rows without one are not persisted.
func (m *MeasurementRow) HasScience() bool {
	return m.Temperature != nil || m.TemperatureAdjusted != nil ||
		m.Salinity != nil || m.SalinityAdjusted != nil ||
		m.Oxygen != nil || m.ChlorophyllA != nil
}

// EntityBatch groups the three entity lists produced by the mapper for one
// file, in the order they must be written.
type EntityBatch struct {
	Floats       []*FloatRow
	Profiles     []*ProfileRow
	Measurements []*MeasurementRow
}

// IngestionLogRow is one audit-trail entry describing a file outcome.
type IngestionLogRow struct {
	FileName         string     `json:"filename"`
	FilePath         string     `json:"file_path"`
	Status           string     `json:"status"`
	RecordsProcessed int        `json:"records_processed"`
	RecordsInserted  int        `json:"records_inserted"`
	ErrorMessage     *string    `json:"error_message,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	RunID            string     `json:"run_id,omitempty"`
}

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// FileMetadata captures whole-file diagnostics gathered during parsing.
type FileMetadata struct {
	GlobalAttributes map[string]any `json:"global_attributes,omitempty"`
	Dimensions       map[string]int `json:"dimensions,omitempty"`
	Variables        []string       `json:"variables,omitempty"`
}

// FileResult is the outcome of processing a single file. Errors and Warnings
// may be non-empty even when Success is true.
type FileResult struct {
	FilePath         string        `json:"file_path"`
	Success          bool          `json:"success"`
	RecordsProcessed int           `json:"records_processed"`
	RecordsInserted  int           `json:"records_inserted"`
	RecordsSkipped   int           `json:"records_skipped"`
	Errors           []string      `json:"errors,omitempty"`
	Warnings         []string      `json:"warnings,omitempty"`
	ProcessingTime   time.Duration `json:"-"`
	FileSize         int64         `json:"file_size,omitempty"`
	Metadata         *FileMetadata `json:"metadata,omitempty"`

	// Profiles carries the decoded profiles on success. It is consumed by
	// the mapper and never serialized.
	Profiles []*Profile `json:"-"`
}

// Errorf appends a formatted error to the result.
func (r *FileResult) Errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Warnf appends a formatted warning to the result.
func (r *FileResult) Warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Summary aggregates one ingestion run.
type Summary struct {
	RunID           string    `json:"run_id"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationSeconds float64   `json:"duration_seconds"`

	FilesDiscovered int `json:"files_discovered"`
	FilesProcessed  int `json:"files_processed"`
	FilesSuccessful int `json:"files_successful"`
	FilesFailed     int `json:"files_failed"`
	FilesSkipped    int `json:"files_skipped"`

	TotalRecordsProcessed int `json:"total_records_processed"`
	TotalRecordsInserted  int `json:"total_records_inserted"`
	TotalRecordsSkipped   int `json:"total_records_skipped"`

	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`

	FilesPerSecond   float64 `json:"files_per_second"`
	RecordsPerSecond float64 `json:"records_per_second"`
}
