package ingest

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/oceanquery/argo-ingest/internal/db"
	"github.com/oceanquery/argo-ingest/internal/models"
)

// dbPersister adapts the store and transaction manager to the Persister
// surface: each file's batch is written inside one retried transaction.
type dbPersister struct {
	store *db.Store
	tx    *db.TxManager
}

// NewPersister wires the store and transaction manager into a Persister.
func NewPersister(store *db.Store, tx *db.TxManager) Persister {
	return &dbPersister{store: store, tx: tx}
}

func (p *dbPersister) Persist(ctx context.Context, name string, batch *models.EntityBatch) (floats, profiles, measurements int, err error) {
	err = p.tx.WithRetry(ctx, "persist "+name, func(ctx context.Context) error {
		return p.tx.WithTransaction(ctx, name, func(tx pgx.Tx) error {
			var txErr error
			floats, profiles, measurements, txErr = p.store.PersistBatch(ctx, tx, batch)
			return txErr
		})
	})
	return
}

func (p *dbPersister) GetFloat(ctx context.Context, floatID string) (*models.FloatRow, error) {
	return p.store.GetFloat(ctx, floatID)
}

func (p *dbPersister) LogIngestion(ctx context.Context, row models.IngestionLogRow) {
	p.store.LogIngestion(ctx, row)
}

func (p *dbPersister) LatestIngestion(ctx context.Context, filePath string) (*models.IngestionLogRow, error) {
	return p.store.LatestIngestion(ctx, filePath)
}

func (p *dbPersister) DatabaseStats(ctx context.Context) (*db.Stats, error) {
	return p.store.DatabaseStats(ctx)
}

func (p *dbPersister) Optimize(ctx context.Context) (map[string]bool, error) {
	return p.store.Optimize(ctx)
}

func (p *dbPersister) CleanupLogs(ctx context.Context, days int) (int64, error) {
	return p.store.CleanupLogs(ctx, days)
}
