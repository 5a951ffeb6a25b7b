package netcdf

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"

	"github.com/oceanquery/argo-ingest/internal/config"
	"github.com/oceanquery/argo-ingest/internal/models"
)

// dataset is the slice of api.Group the parser reads from. It exists so
// profile decoding can be exercised against in-memory fixtures.
type dataset interface {
	ListVariables() []string
	GetVariable(name string) (*api.Variable, error)
	Attributes() api.AttributeMap
}

// fileReader wraps an open dataset with a presence set so optional
// variables can be probed without spurious lookup errors.
type fileReader struct {
	ds   dataset
	vars map[string]struct{}
}

func newFileReader(ds dataset) *fileReader {
	vars := make(map[string]struct{})
	for _, name := range ds.ListVariables() {
		vars[name] = struct{}{}
	}
	return &fileReader{ds: ds, vars: vars}
}

func (f *fileReader) has(name string) bool {
	_, ok := f.vars[name]
	return ok
}

// variable returns the named variable, or nil when absent or unreadable.
func (f *fileReader) variable(name string) *api.Variable {
	if !f.has(name) {
		return nil
	}
	v, err := f.ds.GetVariable(name)
	if err != nil {
		return nil
	}
	return v
}

func (f *fileReader) stringValue(name string, idx int, fallback string) string {
	v := f.variable(name)
	if v == nil {
		return fallback
	}
	s, ok := stringAt(v.Values, idx)
	if !ok || s == "" {
		return fallback
	}
	return s
}

// Parser decodes Argo NetCDF files into profiles, applying the configured
// validation and filtering rules.
type Parser struct {
	cfg config.Config
	log *logrus.Entry
}

// NewParser returns a parser bound to the given configuration.
func NewParser(cfg config.Config) *Parser {
	return &Parser{
		cfg: cfg,
		log: logrus.WithField("component", "parser"),
	}
}

// ParseFile opens and decodes a single file. The returned result always
// carries the record counts and any errors or warnings; Profiles is
// populated on success.
func (p *Parser) ParseFile(path string) *models.FileResult {
	result := &models.FileResult{FilePath: path}
	if info, err := os.Stat(path); err == nil {
		result.FileSize = info.Size()
	}

	start := time.Now()
	defer func() {
		result.ProcessingTime = time.Since(start)
	}()

	p.log.WithField("file", path).Info("parsing file")

	group, err := netcdf.Open(path)
	if err != nil {
		result.Errorf("error parsing file %s: %v", path, err)
		return result
	}
	defer group.Close()

	p.parseDataset(group, result)
	return result
}

// parseDataset decodes every profile in an open dataset into the result.
func (p *Parser) parseDataset(ds dataset, result *models.FileResult) {
	reader := newFileReader(ds)

	missing := p.missingRequired(reader)
	if len(missing) > 0 {
		result.Errorf("missing required variables: %v", missing)
		return
	}

	result.Metadata = fileMetadata(reader)

	lat := reader.variable("LATITUDE")
	if lat == nil {
		result.Errorf("cannot read LATITUDE variable")
		return
	}
	nProf := sliceLen(lat.Values)

	p.log.WithFields(logrus.Fields{
		"file":     result.FilePath,
		"profiles": nProf,
	}).Debug("decoding profiles")

	budgetExceeded := false
	for idx := 0; idx < nProf; idx++ {
		profile, err := p.decodeProfile(reader, idx)
		if err != nil {
			result.Errorf("error parsing profile %d: %v", idx, err)
			result.RecordsSkipped++
			if len(result.Errors) >= p.cfg.MaxErrorsPerFile {
				p.log.WithField("file", result.FilePath).
					Error("too many errors, stopping file processing")
				budgetExceeded = true
				break
			}
			continue
		}
		if profile == nil {
			result.RecordsSkipped++
			continue
		}
		if !p.validateProfile(profile, result) {
			result.RecordsSkipped++
			if len(result.Errors) >= p.cfg.MaxErrorsPerFile {
				p.log.WithField("file", result.FilePath).
					Error("too many errors, stopping file processing")
				budgetExceeded = true
				break
			}
			continue
		}
		result.Profiles = append(result.Profiles, profile)
	}

	result.RecordsProcessed = len(result.Profiles)
	result.Success = !budgetExceeded
}

// missingRequired returns the required variables absent from the file.
func (p *Parser) missingRequired(reader *fileReader) []string {
	missing := make([]string, 0)
	for _, name := range p.cfg.Validation.RequiredVariables {
		if !reader.has(name) {
			missing = append(missing, name)
		}
	}
	return missing
}

// fileMetadata captures global attributes, dimension sizes, and the variable
// list for diagnostics.
func fileMetadata(reader *fileReader) *models.FileMetadata {
	meta := &models.FileMetadata{
		GlobalAttributes: make(map[string]any),
		Dimensions:       make(map[string]int),
	}

	if attrs := reader.ds.Attributes(); attrs != nil {
		for _, key := range attrs.Keys() {
			if val, has := attrs.Get(key); has {
				meta.GlobalAttributes["global_"+key] = val
			}
		}
	}

	meta.Variables = reader.ds.ListVariables()

	if lat := reader.variable("LATITUDE"); lat != nil {
		meta.Dimensions[profileDimension] = sliceLen(lat.Values)
	}
	if pres := reader.variable("PRES"); pres != nil {
		if row := floatRow(pres.Values, 0, fillValueOf(pres)); row != nil {
			meta.Dimensions["N_LEVELS"] = len(row)
		}
	}

	return meta
}

// decodeProfile decodes profile idx. A nil, nil return means the profile was
// dropped for a non-finite timestamp.
func (p *Parser) decodeProfile(reader *fileReader, idx int) (*models.Profile, error) {
	floatID := reader.stringValue("PLATFORM_NUMBER", idx, "")
	if floatID == "" {
		return nil, fmt.Errorf("missing platform number")
	}

	cycleVar := reader.variable("CYCLE_NUMBER")
	if cycleVar == nil {
		return nil, fmt.Errorf("missing CYCLE_NUMBER variable")
	}
	cycle, ok := intAt(cycleVar.Values, idx)
	if !ok {
		return nil, fmt.Errorf("missing cycle number")
	}

	dataMode := reader.stringValue("DATA_MODE", idx, config.DataModeRealTime)

	latVar := reader.variable("LATITUDE")
	lonVar := reader.variable("LONGITUDE")
	if latVar == nil || lonVar == nil {
		return nil, fmt.Errorf("missing position")
	}
	lat, latOK := floatAt(latVar.Values, idx)
	lon, lonOK := floatAt(lonVar.Values, idx)
	if !latOK || !lonOK {
		return nil, fmt.Errorf("missing position")
	}

	juldVar := reader.variable("JULD")
	if juldVar == nil {
		return nil, fmt.Errorf("missing julian day")
	}
	juld, ok := floatAt(juldVar.Values, idx)
	if !ok {
		return nil, fmt.Errorf("missing julian day")
	}
	if math.IsNaN(juld) || math.IsInf(juld, 0) || juld == defaultFillValue {
		p.log.WithFields(logrus.Fields{
			"float_id": floatID,
			"cycle":    cycle,
		}).Warn("invalid date for profile, dropping")
		return nil, nil
	}

	profile := &models.Profile{
		FloatID:         floatID,
		CycleNumber:     cycle,
		ProfileID:       fmt.Sprintf("%s_%d", floatID, cycle),
		DataMode:        dataMode,
		Latitude:        lat,
		Longitude:       lon,
		MeasurementTime: JulianToTime(juld),
		PlatformNumber:  floatID,
		ProjectName:     reader.stringValue("PROJECT_NAME", idx, ""),
		PIName:          reader.stringValue("PI_NAME", idx, ""),
	}

	p.decodeMeasurements(reader, idx, profile)

	profile.PositionQC = reader.stringValue("POSITION_QC", idx, "")
	profile.DateQC = reader.stringValue("JULD_QC", idx, "")

	return profile, nil
}

// decodeMeasurements fills the profile's per-level arrays for every variable
// present in the file. The dispatch table keeps variable names bound to
// typed destinations so an unknown parameter cannot slip through at runtime.
func (p *Parser) decodeMeasurements(reader *fileReader, idx int, profile *models.Profile) {
	targets := []struct {
		name   string
		values *[]float64
		qc     *[]string
	}{
		{"PRES", &profile.Pressure, &profile.PressureQC},
		{"TEMP", &profile.Temperature, &profile.TemperatureQC},
		{"TEMP_ADJUSTED", &profile.TemperatureAdjusted, &profile.TemperatureAdjustedQC},
		{"PSAL", &profile.Salinity, &profile.SalinityQC},
		{"PSAL_ADJUSTED", &profile.SalinityAdjusted, &profile.SalinityAdjustedQC},
		{"DOXY", &profile.Oxygen, &profile.OxygenQC},
		{"CHLA", &profile.Chlorophyll, &profile.ChlorophyllQC},
	}

	for _, t := range targets {
		v := reader.variable(t.name)
		if v == nil {
			continue
		}
		row := floatRow(v.Values, idx, fillValueOf(v))
		if row == nil {
			continue
		}
		*t.values = row

		if qv := reader.variable(t.name + "_QC"); qv != nil {
			*t.qc = qcRow(qv.Values, idx, len(row))
		}
	}
}

// validateProfile applies validation and filtering rules. Hard failures are
// recorded on the result; configured filters reject silently, matching the
// skip accounting of the run summary.
func (p *Parser) validateProfile(profile *models.Profile, result *models.FileResult) bool {
	rules := p.cfg.Validation
	errs := make([]string, 0)

	if !rules.Latitude.Contains(profile.Latitude) {
		errs = append(errs, fmt.Sprintf("latitude %v out of bounds", profile.Latitude))
	}
	if !rules.Longitude.Contains(profile.Longitude) {
		errs = append(errs, fmt.Sprintf("longitude %v out of bounds", profile.Longitude))
	}

	if profile.MeasurementTime.Before(rules.MinDate) || profile.MeasurementTime.After(rules.MaxDate) {
		errs = append(errs, fmt.Sprintf("date %s out of range", profile.MeasurementTime.Format(time.RFC3339)))
	}

	if len(errs) > 0 {
		for _, e := range errs {
			result.Errorf("profile %s: %s", profile.ProfileID, e)
		}
		return false
	}

	if gb := p.cfg.GeographicBounds; gb != nil {
		if profile.Latitude < gb.LatMin || profile.Latitude > gb.LatMax ||
			profile.Longitude < gb.LonMin || profile.Longitude > gb.LonMax {
			return false
		}
	}

	if dr := p.cfg.DateRange; dr != nil {
		if profile.MeasurementTime.Before(dr.Start) || profile.MeasurementTime.After(dr.End) {
			return false
		}
	}

	if !p.cfg.AcceptsDataMode(profile.DataMode) {
		return false
	}

	if profile.Temperature != nil && !anyInBounds(profile.Temperature, rules.Temperature) {
		result.Warnf("profile %s: no valid temperature measurements", profile.ProfileID)
	}
	if profile.Salinity != nil && !anyInBounds(profile.Salinity, rules.Salinity) {
		result.Warnf("profile %s: no valid salinity measurements", profile.ProfileID)
	}

	return true
}

// anyInBounds reports whether at least one finite value falls inside b.
func anyInBounds(values []float64, b config.Bounds) bool {
	for _, v := range values {
		if !math.IsNaN(v) && b.Contains(v) {
			return true
		}
	}
	return false
}
