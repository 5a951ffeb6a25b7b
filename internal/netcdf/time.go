package netcdf

import (
	"math"
	"time"
)

// argoEpoch is the reference date for Argo julian-day timestamps.
var argoEpoch = time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC)

// JulianToTime converts an Argo julian day (days since 1950-01-01 UTC) to a
// timestamp, rounded to whole seconds.
func JulianToTime(days float64) time.Time {
	seconds := math.Round(days * 86400)
	return argoEpoch.Add(time.Duration(seconds) * time.Second)
}

// TimeToJulian converts a timestamp back to an Argo julian day. It is the
// inverse of JulianToTime at second resolution.
func TimeToJulian(t time.Time) float64 {
	return t.Sub(argoEpoch).Seconds() / 86400
}
