package mapper

import (
	"context"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/oceanquery/argo-ingest/internal/config"
	"github.com/oceanquery/argo-ingest/internal/models"
)

// maxNameLen caps free-text metadata columns.
const maxNameLen = 200

// FloatLookup resolves a float's persisted record, returning nil when the
// float has never been seen. The store satisfies this.
type FloatLookup interface {
	GetFloat(ctx context.Context, floatID string) (*models.FloatRow, error)
}

// Mapper converts parsed profiles into the three persisted entity shapes.
//
// The float cache is per-Mapper and not synchronized: the orchestrator
// builds one Mapper per file so concurrent workers never share one.
type Mapper struct {
	cfg    config.Config
	lookup FloatLookup
	cache  map[string]*models.FloatRow
	log    *logrus.Entry
}

// New returns a mapper with an empty float cache.
func New(cfg config.Config, lookup FloatLookup) *Mapper {
	return &Mapper{
		cfg:    cfg,
		lookup: lookup,
		cache:  make(map[string]*models.FloatRow),
		log:    logrus.WithField("component", "mapper"),
	}
}

// ClearCache drops the per-run float cache.
func (m *Mapper) ClearCache() {
	m.cache = make(map[string]*models.FloatRow)
}

// MapProfiles maps a batch of accepted profiles to entity lists. Profiles
// that fail to map are logged and skipped; the remainder still map.
func (m *Mapper) MapProfiles(ctx context.Context, profiles []*models.Profile) *models.EntityBatch {
	batch := &models.EntityBatch{}
	seenFloats := make(map[string]struct{})

	m.log.WithField("profiles", len(profiles)).Debug("mapping profiles to entities")

	for _, profile := range profiles {
		floatRow, err := m.reconcileFloat(ctx, profile)
		if err != nil {
			m.log.WithError(err).WithField("profile_id", profile.ProfileID).
				Error("error mapping profile, skipping")
			continue
		}

		if _, dup := seenFloats[floatRow.FloatID]; !dup {
			seenFloats[floatRow.FloatID] = struct{}{}
			batch.Floats = append(batch.Floats, floatRow)
		}

		batch.Profiles = append(batch.Profiles, buildProfileRow(profile))
		batch.Measurements = append(batch.Measurements, buildMeasurements(profile)...)
	}

	m.log.WithFields(logrus.Fields{
		"floats":       len(batch.Floats),
		"profiles":     len(batch.Profiles),
		"measurements": len(batch.Measurements),
	}).Debug("mapped entities")

	return batch
}

// reconcileFloat returns the run-local float record for the profile's float,
// creating or updating it. Lookups hit storage once per unique float id per
// run; later sightings mutate the cached record.
//
// Re-mapping an already-persisted profile increments TotalProfiles again;
// callers must de-duplicate profiles before re-mapping to keep the counter
// exact.
func (m *Mapper) reconcileFloat(ctx context.Context, profile *models.Profile) (*models.FloatRow, error) {
	if cached, ok := m.cache[profile.FloatID]; ok {
		m.updateFloat(cached, profile)
		return cached, nil
	}

	existing, err := m.lookup.GetFloat(ctx, profile.FloatID)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		t := profile.MeasurementTime
		existing = &models.FloatRow{
			FloatID:        profile.FloatID,
			PlatformNumber: optString(profile.PlatformNumber),
			ProjectName:    optString(truncate(profile.ProjectName, maxNameLen)),
			PIName:         optString(truncate(profile.PIName, maxNameLen)),
			Status:         "active",
			DeploymentDate: &t,
			LastContact:    &t,
			TotalProfiles:  1,
			FirstProfile:   &t,
			LastProfile:    &t,
		}
		m.log.WithField("float_id", profile.FloatID).Debug("created new float record")
	} else {
		m.updateFloat(existing, profile)
		m.log.WithField("float_id", profile.FloatID).Debug("updated existing float record")
	}

	m.cache[profile.FloatID] = existing
	return existing, nil
}

// updateFloat folds one more sighting into an existing float record. The
// last-known position moves only for strictly newer profiles; the profile
// counter and first/last dates always advance.
func (m *Mapper) updateFloat(row *models.FloatRow, profile *models.Profile) {
	t := profile.MeasurementTime

	if row.LastContact == nil || t.After(*row.LastContact) {
		lat, lon := profile.Latitude, profile.Longitude
		row.LastContact = &t
		row.LastLatitude = &lat
		row.LastLongitude = &lon
	}

	row.TotalProfiles++

	if row.FirstProfile == nil || t.Before(*row.FirstProfile) {
		row.FirstProfile = &t
	}
	if row.LastProfile == nil || t.After(*row.LastProfile) {
		row.LastProfile = &t
	}
}

// buildProfileRow derives the persisted profile row, with level count and
// pressure bounds computed over the finite-pressure mask.
func buildProfileRow(profile *models.Profile) *models.ProfileRow {
	row := &models.ProfileRow{
		ProfileID:       profile.ProfileID,
		FloatID:         profile.FloatID,
		CycleNumber:     profile.CycleNumber,
		DataMode:        profile.DataMode,
		Latitude:        profile.Latitude,
		Longitude:       profile.Longitude,
		MeasurementDate: profile.MeasurementTime,
		QualityFlag:     "B",
	}
	if profile.PositionQC == config.QCGoodData {
		row.QualityFlag = "A"
	}

	minP, maxP := math.Inf(1), math.Inf(-1)
	for _, p := range profile.Pressure {
		if math.IsNaN(p) {
			continue
		}
		row.DataPoints++
		if p < minP {
			minP = p
		}
		if p > maxP {
			maxP = p
		}
	}
	if row.DataPoints > 0 {
		row.MinPressure = &minP
		row.MaxPressure = &maxP
	}

	return row
}

// buildMeasurements emits one row per finite-pressure level. A row carrying
// pressure but no scientific reading is discarded.
func buildMeasurements(profile *models.Profile) []*models.MeasurementRow {
	if profile.Pressure == nil {
		return nil
	}

	rows := make([]*models.MeasurementRow, 0, len(profile.Pressure))

	for i, pressure := range profile.Pressure {
		if math.IsNaN(pressure) {
			continue
		}

		row := &models.MeasurementRow{
			ProfileID: profile.ProfileID,
			Pressure:  pressure,
			Depth:     PressureToDepth(pressure),
		}
		if qc := flagAt(profile.PressureQC, i); qc != "" {
			row.PressureQC = &qc
		}

		applyParameters(row, profile, i)

		if row.HasScience() {
			rows = append(rows, row)
		}
	}

	return rows
}

// applyParameters copies each scientific field and its QC flag onto the row
// when the level's value is finite. The bindings table makes the set of
// mapped parameters a compile-time concern.
func applyParameters(row *models.MeasurementRow, profile *models.Profile, i int) {
	bindings := []struct {
		values []float64
		qc     []string
		set    func(*models.MeasurementRow, float64)
		setQC  func(*models.MeasurementRow, string)
	}{
		{profile.Temperature, profile.TemperatureQC,
			func(m *models.MeasurementRow, v float64) { m.Temperature = &v },
			func(m *models.MeasurementRow, s string) { m.TemperatureQC = &s }},
		{profile.TemperatureAdjusted, profile.TemperatureAdjustedQC,
			func(m *models.MeasurementRow, v float64) { m.TemperatureAdjusted = &v },
			func(m *models.MeasurementRow, s string) { m.TemperatureAdjustedQC = &s }},
		{profile.Salinity, profile.SalinityQC,
			func(m *models.MeasurementRow, v float64) { m.Salinity = &v },
			func(m *models.MeasurementRow, s string) { m.SalinityQC = &s }},
		{profile.SalinityAdjusted, profile.SalinityAdjustedQC,
			func(m *models.MeasurementRow, v float64) { m.SalinityAdjusted = &v },
			func(m *models.MeasurementRow, s string) { m.SalinityAdjustedQC = &s }},
		{profile.Oxygen, profile.OxygenQC,
			func(m *models.MeasurementRow, v float64) { m.Oxygen = &v },
			func(m *models.MeasurementRow, s string) { m.OxygenQC = &s }},
		{profile.Chlorophyll, profile.ChlorophyllQC,
			func(m *models.MeasurementRow, v float64) { m.ChlorophyllA = &v },
			func(m *models.MeasurementRow, s string) { m.ChlorophyllAQC = &s }},
	}

	for _, b := range bindings {
		if b.values == nil || i >= len(b.values) || math.IsNaN(b.values[i]) {
			continue
		}
		b.set(row, b.values[i])
		if qc := flagAt(b.qc, i); qc != "" {
			b.setQC(row, qc)
		}
	}
}

// PressureToDepth converts pressure (dbar) to depth (meters) with the
// linear approximation depth = pressure / 1.025. Profile pressure statistics
// never depend on this value.
func PressureToDepth(pressure float64) float64 {
	return pressure / 1.025
}

// QCStats summarizes temperature QC flags for one profile.
type QCStats struct {
	Total        int `json:"total_measurements"`
	Good         int `json:"good_quality"`
	Questionable int `json:"questionable_quality"`
	Bad          int `json:"bad_quality"`
	Missing      int `json:"missing_qc"`
}

// QCStatistics tallies the profile's temperature QC flags.
func QCStatistics(profile *models.Profile) QCStats {
	stats := QCStats{Total: len(profile.Pressure)}
	for _, flag := range profile.TemperatureQC {
		switch flag {
		case config.QCGoodData, config.QCProbablyGood:
			stats.Good++
		case config.QCBadDataCorrectable:
			stats.Questionable++
		case config.QCBadData:
			stats.Bad++
		default:
			stats.Missing++
		}
	}
	return stats
}

func flagAt(qc []string, i int) string {
	if i < len(qc) {
		return qc[i]
	}
	return ""
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// truncate caps s at n runes so a multi-byte character is never split into
// invalid UTF-8.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
