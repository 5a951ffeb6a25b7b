package db

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanquery/argo-ingest/internal/models"
)

// fakeQuerier captures the batches the store sends so tests can assert on
// the queued statements without a live database.
type fakeQuerier struct {
	batches []*pgx.Batch
}

func (q *fakeQuerier) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}

func (q *fakeQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, nil
}

func (q *fakeQuerier) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

func (q *fakeQuerier) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	q.batches = append(q.batches, b)
	return &fakeBatchResults{}
}

type fakeBatchResults struct{}

func (r *fakeBatchResults) Exec() (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (r *fakeBatchResults) Query() (pgx.Rows, error) { return nil, nil }
func (r *fakeBatchResults) QueryRow() pgx.Row        { return nil }
func (r *fakeBatchResults) Close() error             { return nil }

func testStore(batchSize int) *Store {
	return &Store{batchSize: batchSize, log: logrus.WithField("component", "store")}
}

// queuedSQL returns the statements of every batch in send order.
func (q *fakeQuerier) queuedSQL() []string {
	var out []string
	for _, b := range q.batches {
		for _, qq := range b.QueuedQueries {
			out = append(out, qq.SQL)
		}
	}
	return out
}

// conflictClause returns the text from ON CONFLICT onward, the part that
// decides what a re-ingestion refreshes.
func conflictClause(t *testing.T, sql string) string {
	t.Helper()
	i := strings.Index(sql, "ON CONFLICT")
	require.GreaterOrEqual(t, i, 0, "statement must resolve conflicts, not plainly insert")
	return sql[i:]
}

func sampleFloat(id string) *models.FloatRow {
	now := time.Date(2020, 3, 15, 0, 0, 0, 0, time.UTC)
	return &models.FloatRow{
		FloatID:       id,
		Status:        "active",
		LastContact:   &now,
		TotalProfiles: 1,
		FirstProfile:  &now,
		LastProfile:   &now,
	}
}

func TestUpsertFloatsRefreshesOnlyMutableColumns(t *testing.T) {
	q := &fakeQuerier{}
	store := testStore(100)

	count, err := store.UpsertFloats(context.Background(), q,
		[]*models.FloatRow{sampleFloat("5904297"), sampleFloat("5904298")})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	stmts := q.queuedSQL()
	require.Len(t, stmts, 2)

	clause := conflictClause(t, stmts[0])
	assert.Contains(t, clause, "(float_id)")
	assert.Contains(t, clause, "DO UPDATE")

	// Only the sighting-mutable fields are refreshed.
	assert.Contains(t, clause, "last_contact_date = EXCLUDED.last_contact_date")
	assert.Contains(t, clause, "total_profiles = EXCLUDED.total_profiles")
	assert.Contains(t, clause, "status = EXCLUDED.status")
	assert.Contains(t, clause, "last_profile_date = EXCLUDED.last_profile_date")

	// Creation-time metadata and position survive re-ingestion untouched.
	assert.NotContains(t, clause, "first_profile_date")
	assert.NotContains(t, clause, "deployment_date")
	assert.NotContains(t, clause, "platform_number")
	assert.NotContains(t, clause, "project_name")
	assert.NotContains(t, clause, "pi_name")
	assert.NotContains(t, clause, "institution")
	assert.NotContains(t, clause, "last_latitude")
	assert.NotContains(t, clause, "last_longitude")
	assert.NotContains(t, clause, "created_at")
}

func TestUpsertProfilesRefreshesDerivedColumns(t *testing.T) {
	q := &fakeQuerier{}
	store := testStore(100)

	maxP, minP := 1500.0, 5.0
	count, err := store.UpsertProfiles(context.Background(), q, []*models.ProfileRow{{
		ProfileID:       "5904297_1",
		FloatID:         "5904297",
		CycleNumber:     1,
		DataMode:        "D",
		Latitude:        -35.2,
		Longitude:       18.9,
		MeasurementDate: time.Date(2020, 3, 15, 0, 0, 0, 0, time.UTC),
		DataPoints:      42,
		MaxPressure:     &maxP,
		MinPressure:     &minP,
		QualityFlag:     "A",
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	stmts := q.queuedSQL()
	require.Len(t, stmts, 1)

	clause := conflictClause(t, stmts[0])
	assert.Contains(t, clause, "(profile_id)")
	assert.Contains(t, clause, "data_mode = EXCLUDED.data_mode")
	assert.Contains(t, clause, "data_points = EXCLUDED.data_points")
	assert.Contains(t, clause, "max_pressure = EXCLUDED.max_pressure")
	assert.Contains(t, clause, "min_pressure = EXCLUDED.min_pressure")
	assert.Contains(t, clause, "quality_flag = EXCLUDED.quality_flag")

	// Identity and position are fixed at creation.
	assert.NotContains(t, clause, "latitude")
	assert.NotContains(t, clause, "longitude")
	assert.NotContains(t, clause, "cycle_number")
	assert.NotContains(t, clause, "measurement_date")
	assert.NotContains(t, clause, "float_id = EXCLUDED")
}

func TestUpsertMeasurementsConflictTargetAndBatching(t *testing.T) {
	q := &fakeQuerier{}
	store := testStore(3)

	rows := make([]*models.MeasurementRow, 7)
	temp := 15.0
	for i := range rows {
		rows[i] = &models.MeasurementRow{
			ProfileID:   "5904297_1",
			Pressure:    float64(i * 10),
			Depth:       float64(i*10) / 1.025,
			Temperature: &temp,
		}
	}

	count, err := store.UpsertMeasurements(context.Background(), q, rows)
	require.NoError(t, err)
	assert.Equal(t, 7, count)

	// batch_size 3 splits 7 rows into 3 sends.
	require.Len(t, q.batches, 3)
	assert.Len(t, q.batches[0].QueuedQueries, 3)
	assert.Len(t, q.batches[2].QueuedQueries, 1)

	clause := conflictClause(t, q.queuedSQL()[0])
	assert.Contains(t, clause, "(profile_id, pressure)")

	// Re-ingestion refreshes every scientific field, including the adjusted
	// variants delayed-mode reprocessing rewrites.
	for _, column := range []string{
		"depth", "pressure_qc",
		"temperature", "temperature_qc", "temperature_adjusted", "temperature_adjusted_qc",
		"salinity", "salinity_qc", "salinity_adjusted", "salinity_adjusted_qc",
		"oxygen", "oxygen_qc", "chlorophyll_a", "chlorophyll_a_qc",
	} {
		assert.Contains(t, clause, column+" = EXCLUDED."+column)
	}
}

func TestPersistBatchWritesInReferentialOrder(t *testing.T) {
	batch := &models.EntityBatch{
		Floats:   []*models.FloatRow{sampleFloat("5904297")},
		Profiles: []*models.ProfileRow{{ProfileID: "5904297_1", FloatID: "5904297"}},
		Measurements: []*models.MeasurementRow{
			{ProfileID: "5904297_1", Pressure: 5},
			{ProfileID: "5904297_1", Pressure: 10},
		},
	}

	run := func() (*fakeQuerier, [3]int) {
		q := &fakeQuerier{}
		floats, profiles, measurements, err := testStore(100).PersistBatch(context.Background(), q, batch)
		require.NoError(t, err)
		return q, [3]int{floats, profiles, measurements}
	}

	q, counts := run()
	assert.Equal(t, [3]int{1, 1, 2}, counts)

	stmts := q.queuedSQL()
	require.Len(t, stmts, 4)
	assert.Contains(t, stmts[0], "INSERT INTO argo_floats")
	assert.Contains(t, stmts[1], "INSERT INTO argo_profiles")
	assert.Contains(t, stmts[2], "INSERT INTO argo_measurements")

	// A second persist of the same batch issues the same conflict-resolving
	// statements, never bare inserts.
	q2, counts2 := run()
	assert.Equal(t, counts, counts2)
	for _, sql := range q2.queuedSQL() {
		assert.Contains(t, sql, "ON CONFLICT")
		assert.Contains(t, sql, "DO UPDATE")
	}
	assert.Equal(t, stmts, q2.queuedSQL())
}
