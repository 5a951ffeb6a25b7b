package ingest

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/oceanquery/argo-ingest/internal/config"
	"github.com/oceanquery/argo-ingest/internal/db"
	"github.com/oceanquery/argo-ingest/internal/mapper"
	"github.com/oceanquery/argo-ingest/internal/models"
	"github.com/oceanquery/argo-ingest/internal/netcdf"
)

// Persister is the persistence surface the orchestrator needs. The
// db-backed implementation wraps the store and transaction manager; tests
// substitute fakes.
type Persister interface {
	mapper.FloatLookup

	// Persist writes one file's entity batch transactionally, retrying
	// transient failures, and reports affected row counts.
	Persist(ctx context.Context, name string, batch *models.EntityBatch) (floats, profiles, measurements int, err error)

	LogIngestion(ctx context.Context, row models.IngestionLogRow)
	LatestIngestion(ctx context.Context, filePath string) (*models.IngestionLogRow, error)
	DatabaseStats(ctx context.Context) (*db.Stats, error)
	Optimize(ctx context.Context) (map[string]bool, error)
	CleanupLogs(ctx context.Context, days int) (int64, error)
}

// Service drives the per-file pipeline (prevalidate, parse, map, persist,
// log) across a discovered file set, sequentially or with a bounded worker
// pool.
type Service struct {
	cfg   config.Config
	store Persister
	runID string
	log   *logrus.Entry

	// Seams overridden in tests; production wiring uses the netcdf package.
	parseFile   func(path string) *models.FileResult
	prevalidate func(path string) (bool, []string)
	discover    func(root string, patterns []string) ([]string, error)

	procMu     sync.Mutex
	processing ProcessingStats
}

// New creates an ingestion service over the given persistence backend.
func New(cfg config.Config, store Persister) *Service {
	parser := netcdf.NewParser(cfg)
	runID := uuid.NewString()
	return &Service{
		cfg:         cfg,
		store:       store,
		runID:       runID,
		log:         logrus.WithFields(logrus.Fields{"component": "ingest", "run_id": runID}),
		parseFile:   parser.ParseFile,
		prevalidate: netcdf.Prevalidate,
		discover:    netcdf.Discover,
	}
}

// IngestFile runs the complete per-file sequence for one file. It is the
// single implementation behind directory ingestion, resume, and the
// single-file command.
func (s *Service) IngestFile(ctx context.Context, path string, dryRun bool) *models.FileResult {
	result := s.ingestFile(ctx, path, dryRun)

	s.procMu.Lock()
	s.processing.FilesProcessed++
	if result.Success {
		s.processing.FilesSuccessful++
	} else {
		s.processing.FilesFailed++
	}
	s.processing.RecordsProcessed += result.RecordsProcessed
	s.processing.RecordsInserted += result.RecordsInserted
	s.procMu.Unlock()

	return result
}

func (s *Service) ingestFile(ctx context.Context, path string, dryRun bool) *models.FileResult {
	started := time.Now().UTC()
	s.log.WithField("file", path).Info("ingesting file")

	if ok, reasons := s.prevalidate(path); !ok {
		result := &models.FileResult{FilePath: path, Errors: reasons}
		s.logOutcome(ctx, result, started)
		return result
	}

	result := s.parseFile(path)
	if !result.Success {
		s.logOutcome(ctx, result, started)
		return result
	}

	if len(result.Profiles) == 0 {
		result.Errorf("no valid profiles found in file")
		result.Success = false
		s.logOutcome(ctx, result, started)
		return result
	}

	if dryRun {
		s.log.WithFields(logrus.Fields{
			"file":     path,
			"profiles": len(result.Profiles),
		}).Info("dry run, skipping database writes")
		return result
	}

	// One mapper per file keeps the float cache off shared state.
	m := mapper.New(s.cfg, s.store)
	batch := m.MapProfiles(ctx, result.Profiles)

	_, profilesInserted, measurementsInserted, err := s.store.Persist(ctx, filepath.Base(path), batch)
	if err != nil {
		result.Errorf("database error for %s: %v", path, err)
		result.Success = false
	} else {
		result.RecordsInserted = profilesInserted
		s.log.WithFields(logrus.Fields{
			"file":         path,
			"profiles":     profilesInserted,
			"measurements": measurementsInserted,
		}).Info("successfully ingested file")
	}

	s.logOutcome(ctx, result, started)
	return result
}

// IngestDirectory discovers and processes every matching file under the
// directory. An empty directory falls back to the configured input
// directory; empty patterns fall back to the configured patterns.
func (s *Service) IngestDirectory(ctx context.Context, directory string, patterns []string, dryRun bool) (*models.Summary, error) {
	if directory == "" {
		directory = s.cfg.InputDirectory
	}
	if len(patterns) == 0 {
		patterns = s.cfg.FilePatterns
	}

	start := time.Now().UTC()
	s.log.WithFields(logrus.Fields{
		"directory": directory,
		"dry_run":   dryRun,
	}).Info("starting ingestion")

	files, err := s.discover(directory, patterns)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		s.log.WithField("directory", directory).Warn("no profile files found")
	}

	summary := s.processFiles(ctx, files, dryRun, start)
	summary.FilesDiscovered = len(files)
	return summary, nil
}

// Resume reprocesses only files whose latest audit entry is not a success.
func (s *Service) Resume(ctx context.Context, directory string, dryRun bool) (*models.Summary, error) {
	if directory == "" {
		directory = s.cfg.InputDirectory
	}

	start := time.Now().UTC()

	all, err := s.discover(directory, s.cfg.FilePatterns)
	if err != nil {
		return nil, err
	}

	pending := make([]string, 0, len(all))
	skipped := 0
	for _, path := range all {
		status, err := s.store.LatestIngestion(ctx, path)
		if err != nil {
			return nil, err
		}
		if status != nil && status.Status == models.StatusSuccess {
			s.log.WithField("file", path).Debug("skipping already processed file")
			skipped++
			continue
		}
		pending = append(pending, path)
	}

	s.log.WithFields(logrus.Fields{
		"pending": len(pending),
		"skipped": skipped,
	}).Info("resuming ingestion")

	summary := s.processFiles(ctx, pending, dryRun, start)
	summary.FilesDiscovered = len(all)
	summary.FilesSkipped = skipped
	return summary, nil
}

// processFiles runs the per-file sequence over the file set and aggregates
// a run summary. Sequential and parallel execution share the aggregation,
// so both produce identical counts for the same inputs.
func (s *Service) processFiles(ctx context.Context, files []string, dryRun bool, start time.Time) *models.Summary {
	var results []*models.FileResult
	if s.cfg.MaxWorkers > 1 && len(files) > 1 {
		results = s.processParallel(ctx, files, dryRun)
	} else {
		results = s.processSequential(ctx, files, dryRun)
	}
	return s.summarize(results, start)
}

func (s *Service) processSequential(ctx context.Context, files []string, dryRun bool) []*models.FileResult {
	results := make([]*models.FileResult, 0, len(files))
	for _, path := range files {
		results = append(results, s.IngestFile(ctx, path, dryRun))
	}
	return results
}

// processParallel fans the per-file sequence out over a bounded worker
// pool. Results are collected as workers finish; no cross-file ordering is
// promised.
func (s *Service) processParallel(ctx context.Context, files []string, dryRun bool) []*models.FileResult {
	jobs := make(chan string)
	out := make(chan *models.FileResult)

	var wg sync.WaitGroup
	for w := 0; w < s.cfg.MaxWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				out <- s.IngestFile(ctx, path, dryRun)
			}
		}()
	}

	go func() {
		for _, path := range files {
			jobs <- path
		}
		close(jobs)
		wg.Wait()
		close(out)
	}()

	results := make([]*models.FileResult, 0, len(files))
	for result := range out {
		results = append(results, result)
	}
	return results
}

// summarize folds per-file results into the run summary.
func (s *Service) summarize(results []*models.FileResult, start time.Time) *models.Summary {
	end := time.Now().UTC()
	summary := &models.Summary{
		RunID:           s.runID,
		StartTime:       start,
		EndTime:         end,
		DurationSeconds: end.Sub(start).Seconds(),
	}

	for _, r := range results {
		summary.FilesProcessed++
		if r.Success {
			summary.FilesSuccessful++
		} else {
			summary.FilesFailed++
		}
		summary.TotalRecordsProcessed += r.RecordsProcessed
		summary.TotalRecordsInserted += r.RecordsInserted
		summary.TotalRecordsSkipped += r.RecordsSkipped
		summary.Errors = append(summary.Errors, r.Errors...)
		summary.Warnings = append(summary.Warnings, r.Warnings...)
	}

	if summary.DurationSeconds > 0 {
		summary.FilesPerSecond = float64(summary.FilesProcessed) / summary.DurationSeconds
		summary.RecordsPerSecond = float64(summary.TotalRecordsProcessed) / summary.DurationSeconds
	}

	s.log.WithFields(logrus.Fields{
		"successful": summary.FilesSuccessful,
		"failed":     summary.FilesFailed,
		"inserted":   summary.TotalRecordsInserted,
	}).Info("ingestion completed")

	return summary
}

// logOutcome writes the audit row for a finished file. Failures inside
// LogIngestion are swallowed by the store.
func (s *Service) logOutcome(ctx context.Context, result *models.FileResult, started time.Time) {
	row := models.IngestionLogRow{
		FilePath:         result.FilePath,
		Status:           models.StatusFailed,
		RecordsProcessed: result.RecordsProcessed,
		RecordsInserted:  result.RecordsInserted,
		StartedAt:        started,
		RunID:            s.runID,
	}
	if result.Success {
		row.Status = models.StatusSuccess
		completed := time.Now().UTC()
		row.CompletedAt = &completed
	}
	if len(result.Errors) > 0 {
		msg := strings.Join(capStrings(result.Errors, 10), "\n")
		row.ErrorMessage = &msg
	}
	s.store.LogIngestion(ctx, row)
}

// ProcessingStats accumulates file outcomes over the service's lifetime.
// A fresh process reports zeroes until it ingests something.
type ProcessingStats struct {
	FilesProcessed   int `json:"files_processed"`
	FilesSuccessful  int `json:"files_successful"`
	FilesFailed      int `json:"files_failed"`
	RecordsProcessed int `json:"records_processed"`
	RecordsInserted  int `json:"records_inserted"`
}

// Statistics bundles processing counters and database statistics with the
// effective configuration.
type Statistics struct {
	Processing    ProcessingStats `json:"processing_stats"`
	Database      *db.Stats       `json:"database_stats"`
	Configuration map[string]any  `json:"configuration"`
}

// Statistics reports processing counters, database statistics, and the
// configuration in effect.
func (s *Service) Statistics(ctx context.Context) (*Statistics, error) {
	dbStats, err := s.store.DatabaseStats(ctx)
	if err != nil {
		return nil, err
	}

	s.procMu.Lock()
	processing := s.processing
	s.procMu.Unlock()

	return &Statistics{
		Processing: processing,
		Database:   dbStats,
		Configuration: map[string]any{
			"batch_size":      s.cfg.BatchSize,
			"max_workers":     s.cfg.MaxWorkers,
			"input_directory": s.cfg.InputDirectory,
			"file_patterns":   s.cfg.FilePatterns,
		},
	}, nil
}

// CleanupAndOptimize removes old audit rows and refreshes planner
// statistics. Invoked explicitly, never as part of an ingestion run.
func (s *Service) CleanupAndOptimize(ctx context.Context, cleanupDays int) (map[string]any, error) {
	cleaned, err := s.store.CleanupLogs(ctx, cleanupDays)
	if err != nil {
		return nil, err
	}
	optimization, err := s.store.Optimize(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"cleaned_logs": cleaned,
		"optimization": optimization,
	}, nil
}

func capStrings(values []string, n int) []string {
	if len(values) > n {
		return values[:n]
	}
	return values
}
