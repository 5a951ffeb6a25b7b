package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanquery/argo-ingest/internal/config"
	"github.com/oceanquery/argo-ingest/internal/db"
	"github.com/oceanquery/argo-ingest/internal/models"
)

// fakePersister records persistence traffic in memory. It is safe for the
// parallel-worker tests.
type fakePersister struct {
	mu sync.Mutex

	floats     map[string]*models.FloatRow
	latest     map[string]*models.IngestionLogRow
	persistErr error

	persisted []*models.EntityBatch
	logs      []models.IngestionLogRow
}

func newFakePersister() *fakePersister {
	return &fakePersister{
		floats: make(map[string]*models.FloatRow),
		latest: make(map[string]*models.IngestionLogRow),
	}
}

func (f *fakePersister) GetFloat(_ context.Context, floatID string) (*models.FloatRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.floats[floatID], nil
}

func (f *fakePersister) Persist(_ context.Context, _ string, batch *models.EntityBatch) (int, int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.persistErr != nil {
		return 0, 0, 0, f.persistErr
	}
	f.persisted = append(f.persisted, batch)
	return len(batch.Floats), len(batch.Profiles), len(batch.Measurements), nil
}

func (f *fakePersister) LogIngestion(_ context.Context, row models.IngestionLogRow) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, row)
}

func (f *fakePersister) LatestIngestion(_ context.Context, filePath string) (*models.IngestionLogRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest[filePath], nil
}

func (f *fakePersister) DatabaseStats(context.Context) (*db.Stats, error) {
	return &db.Stats{FloatCount: 2, ProfileCount: 10, MeasurementCount: 500}, nil
}

func (f *fakePersister) Optimize(context.Context) (map[string]bool, error) {
	return map[string]bool{"analyze": true, "vacuum": true}, nil
}

func (f *fakePersister) CleanupLogs(context.Context, int) (int64, error) {
	return 4, nil
}

func (f *fakePersister) loggedStatuses() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	statuses := make(map[string]string, len(f.logs))
	for _, row := range f.logs {
		statuses[row.FilePath] = row.Status
	}
	return statuses
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.MaxWorkers = 1
	return cfg
}

func parsedProfile(floatID string, cycle int) *models.Profile {
	return &models.Profile{
		FloatID:         floatID,
		CycleNumber:     cycle,
		ProfileID:       floatID + "_1",
		DataMode:        config.DataModeRealTime,
		Latitude:        -30.0,
		Longitude:       15.0,
		MeasurementTime: time.Date(2020, 3, 15, 0, 0, 0, 0, time.UTC),
		Pressure:        []float64{5, 10},
		Temperature:     []float64{18.0, 17.5},
	}
}

// goodParse fakes a successful parse producing n profiles.
func goodParse(n int) func(path string) *models.FileResult {
	return func(path string) *models.FileResult {
		result := &models.FileResult{FilePath: path, Success: true, RecordsProcessed: n}
		for i := 0; i < n; i++ {
			result.Profiles = append(result.Profiles, parsedProfile("5904297", i+1))
		}
		return result
	}
}

func newTestService(store Persister, cfg config.Config) *Service {
	s := New(cfg, store)
	s.prevalidate = func(string) (bool, []string) { return true, nil }
	s.parseFile = goodParse(2)
	s.discover = func(string, []string) ([]string, error) { return nil, nil }
	return s
}

func TestIngestFileSuccess(t *testing.T) {
	store := newFakePersister()
	s := newTestService(store, testConfig())

	result := s.IngestFile(context.Background(), "/data/a.nc", false)

	assert.True(t, result.Success)
	assert.Equal(t, 2, result.RecordsProcessed)
	assert.Equal(t, 2, result.RecordsInserted)
	require.Len(t, store.persisted, 1)
	assert.Len(t, store.persisted[0].Profiles, 2)

	require.Len(t, store.logs, 1)
	row := store.logs[0]
	assert.Equal(t, models.StatusSuccess, row.Status)
	assert.Equal(t, "/data/a.nc", row.FilePath)
	require.NotNil(t, row.CompletedAt)
	assert.NotEmpty(t, row.RunID)
}

func TestIngestFileDryRun(t *testing.T) {
	store := newFakePersister()
	s := newTestService(store, testConfig())

	result := s.IngestFile(context.Background(), "/data/a.nc", true)

	// A dry run reports the same records but writes nothing, not even the
	// audit row.
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.RecordsProcessed)
	assert.Equal(t, 0, result.RecordsInserted)
	assert.Empty(t, store.persisted)
	assert.Empty(t, store.logs)
}

func TestIngestFilePrevalidationFailure(t *testing.T) {
	store := newFakePersister()
	s := newTestService(store, testConfig())
	s.prevalidate = func(string) (bool, []string) {
		return false, []string{"file is empty: /data/a.nc"}
	}

	result := s.IngestFile(context.Background(), "/data/a.nc", false)

	assert.False(t, result.Success)
	assert.Contains(t, result.Errors, "file is empty: /data/a.nc")
	assert.Empty(t, store.persisted)
	require.Len(t, store.logs, 1)
	assert.Equal(t, models.StatusFailed, store.logs[0].Status)
	require.NotNil(t, store.logs[0].ErrorMessage)
}

func TestIngestFileNoProfiles(t *testing.T) {
	store := newFakePersister()
	s := newTestService(store, testConfig())
	s.parseFile = goodParse(0)

	result := s.IngestFile(context.Background(), "/data/a.nc", false)

	assert.False(t, result.Success)
	assert.Contains(t, result.Errors, "no valid profiles found in file")
	assert.Empty(t, store.persisted)
}

func TestIngestFilePersistFailure(t *testing.T) {
	store := newFakePersister()
	store.persistErr = errors.New("connection refused")
	s := newTestService(store, testConfig())

	result := s.IngestFile(context.Background(), "/data/a.nc", false)

	assert.False(t, result.Success)
	assert.Equal(t, 0, result.RecordsInserted)
	require.Len(t, store.logs, 1)
	assert.Equal(t, models.StatusFailed, store.logs[0].Status)
}

func TestIngestDirectory(t *testing.T) {
	store := newFakePersister()
	s := newTestService(store, testConfig())
	s.discover = func(root string, patterns []string) ([]string, error) {
		return []string{"/data/a.nc", "/data/b.nc", "/data/c.nc"}, nil
	}

	summary, err := s.IngestDirectory(context.Background(), "/data", nil, false)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.FilesDiscovered)
	assert.Equal(t, 3, summary.FilesProcessed)
	assert.Equal(t, 3, summary.FilesSuccessful)
	assert.Equal(t, 0, summary.FilesFailed)
	assert.Equal(t, 6, summary.TotalRecordsProcessed)
	assert.Equal(t, 6, summary.TotalRecordsInserted)
	assert.NotEmpty(t, summary.RunID)
}

func TestIngestDirectoryContinuesPastFailures(t *testing.T) {
	store := newFakePersister()
	s := newTestService(store, testConfig())
	s.discover = func(string, []string) ([]string, error) {
		return []string{"/data/a.nc", "/data/bad.nc", "/data/c.nc"}, nil
	}
	good := goodParse(2)
	s.parseFile = func(path string) *models.FileResult {
		if path == "/data/bad.nc" {
			result := &models.FileResult{FilePath: path}
			result.Errorf("error parsing file %s: truncated", path)
			return result
		}
		return good(path)
	}

	summary, err := s.IngestDirectory(context.Background(), "/data", nil, false)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.FilesProcessed)
	assert.Equal(t, 2, summary.FilesSuccessful)
	assert.Equal(t, 1, summary.FilesFailed)
	assert.Len(t, summary.Errors, 1)

	statuses := store.loggedStatuses()
	assert.Equal(t, models.StatusFailed, statuses["/data/bad.nc"])
	assert.Equal(t, models.StatusSuccess, statuses["/data/a.nc"])
}

func TestParallelMatchesSequentialAggregates(t *testing.T) {
	files := []string{"/data/a.nc", "/data/b.nc", "/data/c.nc", "/data/d.nc", "/data/e.nc"}

	run := func(workers int) *models.Summary {
		cfg := testConfig()
		cfg.MaxWorkers = workers
		s := newTestService(newFakePersister(), cfg)
		s.discover = func(string, []string) ([]string, error) { return files, nil }

		summary, err := s.IngestDirectory(context.Background(), "/data", nil, false)
		require.NoError(t, err)
		return summary
	}

	sequential := run(1)
	parallel := run(4)

	assert.Equal(t, sequential.FilesProcessed, parallel.FilesProcessed)
	assert.Equal(t, sequential.FilesSuccessful, parallel.FilesSuccessful)
	assert.Equal(t, sequential.FilesFailed, parallel.FilesFailed)
	assert.Equal(t, sequential.TotalRecordsProcessed, parallel.TotalRecordsProcessed)
	assert.Equal(t, sequential.TotalRecordsInserted, parallel.TotalRecordsInserted)
}

func TestResumeSkipsSuccessfulFiles(t *testing.T) {
	store := newFakePersister()
	store.latest["/data/done.nc"] = &models.IngestionLogRow{
		FilePath: "/data/done.nc",
		Status:   models.StatusSuccess,
	}
	store.latest["/data/failed.nc"] = &models.IngestionLogRow{
		FilePath: "/data/failed.nc",
		Status:   models.StatusFailed,
	}

	s := newTestService(store, testConfig())
	s.discover = func(string, []string) ([]string, error) {
		return []string{"/data/done.nc", "/data/failed.nc", "/data/new.nc"}, nil
	}

	summary, err := s.Resume(context.Background(), "/data", false)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.FilesDiscovered)
	assert.Equal(t, 1, summary.FilesSkipped)
	assert.Equal(t, 2, summary.FilesProcessed)
	assert.Equal(t, 2, summary.FilesSuccessful)

	statuses := store.loggedStatuses()
	assert.NotContains(t, statuses, "/data/done.nc")
	assert.Contains(t, statuses, "/data/failed.nc")
	assert.Contains(t, statuses, "/data/new.nc")
}

func TestStatistics(t *testing.T) {
	cfg := testConfig()
	s := newTestService(newFakePersister(), cfg)
	s.discover = func(string, []string) ([]string, error) {
		return []string{"/data/a.nc", "/data/b.nc"}, nil
	}

	// Before anything runs the processing section is all zeroes.
	stats, err := s.Statistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ProcessingStats{}, stats.Processing)
	assert.Equal(t, int64(2), stats.Database.FloatCount)
	assert.Equal(t, cfg.BatchSize, stats.Configuration["batch_size"])

	_, err = s.IngestDirectory(context.Background(), "/data", nil, false)
	require.NoError(t, err)

	stats, err = s.Statistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ProcessingStats{
		FilesProcessed:   2,
		FilesSuccessful:  2,
		RecordsProcessed: 4,
		RecordsInserted:  4,
	}, stats.Processing)
}

func TestCleanupAndOptimize(t *testing.T) {
	s := newTestService(newFakePersister(), testConfig())

	results, err := s.CleanupAndOptimize(context.Background(), 30)
	require.NoError(t, err)

	assert.Equal(t, int64(4), results["cleaned_logs"])
	assert.Equal(t, map[string]bool{"analyze": true, "vacuum": true}, results["optimization"])
}
