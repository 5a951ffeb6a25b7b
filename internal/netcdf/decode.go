package netcdf

import (
	"math"
	"strings"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
)

// defaultFillValue is the Argo convention for missing numeric values when a
// variable declares no _FillValue attribute.
const defaultFillValue = 99999.0

// sliceLen returns the outer length of a decoded variable's values.
func sliceLen(values any) int {
	switch v := values.(type) {
	case []float64:
		return len(v)
	case []float32:
		return len(v)
	case []int64:
		return len(v)
	case []int32:
		return len(v)
	case []int16:
		return len(v)
	case []int8:
		return len(v)
	case [][]float64:
		return len(v)
	case [][]float32:
		return len(v)
	case []string:
		return len(v)
	case string:
		return len(v)
	default:
		return 0
	}
}

// floatAt extracts element idx from a one-dimensional numeric variable.
func floatAt(values any, idx int) (float64, bool) {
	switch v := values.(type) {
	case []float64:
		if idx < len(v) {
			return v[idx], true
		}
	case []float32:
		if idx < len(v) {
			return float64(v[idx]), true
		}
	case []int64:
		if idx < len(v) {
			return float64(v[idx]), true
		}
	case []int32:
		if idx < len(v) {
			return float64(v[idx]), true
		}
	case []int16:
		if idx < len(v) {
			return float64(v[idx]), true
		}
	case []int8:
		if idx < len(v) {
			return float64(v[idx]), true
		}
	}
	return 0, false
}

// intAt extracts element idx from a one-dimensional integer variable.
func intAt(values any, idx int) (int, bool) {
	f, ok := floatAt(values, idx)
	if !ok || math.IsNaN(f) {
		return 0, false
	}
	return int(f), true
}

// stringAt extracts element idx from a character variable. Character arrays
// dimensioned (N_PROF, STRLEN) decode as []string; a 1-D character variable
// such as DATA_MODE decodes as a single string with one byte per profile.
// The result is whitespace- and NUL-trimmed.
func stringAt(values any, idx int) (string, bool) {
	switch v := values.(type) {
	case []string:
		if idx < len(v) {
			return trimDecoded(v[idx]), true
		}
	case string:
		if idx < len(v) {
			return trimDecoded(string(v[idx])), true
		}
	case [][]string:
		// Per-character arrays must be reassembled, not truncated to the
		// first element.
		if idx < len(v) {
			return trimDecoded(strings.Join(v[idx], "")), true
		}
	}
	return "", false
}

// floatRow extracts row idx of a two-dimensional numeric variable as
// float64, applying the fill value as NaN.
func floatRow(values any, idx int, fill float64) []float64 {
	switch v := values.(type) {
	case [][]float64:
		if idx >= len(v) {
			return nil
		}
		row := make([]float64, len(v[idx]))
		for i, x := range v[idx] {
			row[i] = maskFill(x, fill)
		}
		return row
	case [][]float32:
		if idx >= len(v) {
			return nil
		}
		row := make([]float64, len(v[idx]))
		for i, x := range v[idx] {
			row[i] = maskFill(float64(x), fill)
		}
		return row
	case []float64:
		// Single-profile files collapse the profile dimension.
		if idx != 0 {
			return nil
		}
		row := make([]float64, len(v))
		for i, x := range v {
			row[i] = maskFill(x, fill)
		}
		return row
	case []float32:
		if idx != 0 {
			return nil
		}
		row := make([]float64, len(v))
		for i, x := range v {
			row[i] = maskFill(float64(x), fill)
		}
		return row
	}
	return nil
}

// qcRow extracts the per-level QC flags for row idx, one single-character
// string per level. Levels beyond the stored flags yield "".
func qcRow(values any, idx int, levels int) []string {
	var raw string
	switch v := values.(type) {
	case []string:
		if idx < len(v) {
			raw = v[idx]
		}
	case string:
		if idx == 0 {
			raw = v
		}
	case [][]string:
		if idx < len(v) {
			flags := make([]string, levels)
			for i := 0; i < levels && i < len(v[idx]); i++ {
				flags[i] = trimDecoded(v[idx][i])
			}
			return flags
		}
	}

	flags := make([]string, levels)
	for i := 0; i < levels && i < len(raw); i++ {
		flags[i] = trimDecoded(string(raw[i]))
	}
	return flags
}

// fillValueOf reads a variable's declared _FillValue, falling back to the
// Argo default.
func fillValueOf(v *api.Variable) float64 {
	if v == nil || v.Attributes == nil {
		return defaultFillValue
	}
	raw, has := v.Attributes.Get("_FillValue")
	if !has {
		return defaultFillValue
	}
	if f, ok := floatAt(raw, 0); ok {
		return f
	}
	switch fv := raw.(type) {
	case float64:
		return fv
	case float32:
		return float64(fv)
	case int32:
		return float64(fv)
	}
	return defaultFillValue
}

func maskFill(v, fill float64) float64 {
	if v == fill || math.IsInf(v, 0) {
		return math.NaN()
	}
	return v
}

func trimDecoded(s string) string {
	return strings.TrimSpace(strings.Trim(s, "\x00"))
}
