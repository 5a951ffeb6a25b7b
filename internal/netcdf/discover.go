package netcdf

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/sirupsen/logrus"

	"github.com/batchatco/go-native-netcdf/netcdf"
)

// coreVariables is the minimal set a file must expose to be worth a full
// parse. The parser enforces the full required set afterwards.
var coreVariables = []string{"LATITUDE", "LONGITUDE", "JULD"}

// profileDimension is the dimension indexing profiles within a file.
const profileDimension = "N_PROF"

// Discover enumerates files under root matching any of the glob patterns.
// Patterns may contain `**`. The result is deduplicated and sorted.
func Discover(root string, patterns []string) ([]string, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("input directory %s: %w", root, err)
	}

	fsys := os.DirFS(root)
	seen := make(map[string]struct{})
	files := make([]string, 0)

	for _, pattern := range patterns {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid file pattern %q: %w", pattern, err)
		}
		for _, match := range matches {
			full := filepath.Join(root, match)
			info, err := os.Stat(full)
			if err != nil || info.IsDir() {
				continue
			}
			if _, dup := seen[full]; dup {
				continue
			}
			seen[full] = struct{}{}
			files = append(files, full)
		}
	}

	sort.Strings(files)
	logrus.WithFields(logrus.Fields{
		"root":  root,
		"files": len(files),
	}).Info("discovered profile files")
	return files, nil
}

// Prevalidate runs a cheap structural check before the expensive full parse:
// the file must exist, be non-empty, open as NetCDF, and expose the profile
// dimension and core position/time variables. It reports reasons instead of
// failing so callers can decide between skip and abort.
func Prevalidate(path string) (bool, []string) {
	var reasons []string

	info, err := os.Stat(path)
	if err != nil {
		reasons = append(reasons, fmt.Sprintf("file does not exist: %s", path))
		return false, reasons
	}
	if info.Size() == 0 {
		reasons = append(reasons, fmt.Sprintf("file is empty: %s", path))
		return false, reasons
	}

	group, err := netcdf.Open(path)
	if err != nil {
		reasons = append(reasons, fmt.Sprintf("cannot open NetCDF file: %v", err))
		return false, reasons
	}
	defer group.Close()

	available := make(map[string]struct{})
	for _, name := range group.ListVariables() {
		available[name] = struct{}{}
	}

	missing := make([]string, 0)
	for _, name := range coreVariables {
		if _, ok := available[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		reasons = append(reasons, fmt.Sprintf("missing core variables: %v", missing))
		return false, reasons
	}

	// The profile dimension is checked through a core variable's shape so
	// the probe stays cheap.
	v, err := group.GetVariable("LATITUDE")
	if err != nil {
		reasons = append(reasons, fmt.Sprintf("cannot read LATITUDE: %v", err))
		return false, reasons
	}
	hasProfDim := false
	for _, dim := range v.Dimensions {
		if dim == profileDimension {
			hasProfDim = true
			break
		}
	}
	if !hasProfDim {
		reasons = append(reasons, fmt.Sprintf("missing required dimension: %s", profileDimension))
	}

	return len(reasons) == 0, reasons
}
