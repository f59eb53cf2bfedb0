package postgresstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"relay/internal/logging"
	"relay/internal/workflow"

	"github.com/jackc/pgx/v5/pgxpool"
)

const workflowTable = "workflows"

// Store implements a Postgres-backed remote workflow store. The pipeline
// reads from it; rows are written by whatever front end mirrors user-created
// workflows to the database.
type Store struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

var _ workflow.RemoteStore = (*Store)(nil)

// Pool exposes the underlying connection pool so other sinks can share the
// same database connection.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// New constructs a Postgres-backed workflow store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:   pool,
		logger: logging.NewComponentLogger("WorkflowPostgresStore"),
	}
}

// Connect opens a pool and verifies connectivity.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(pool), nil
}

// EnsureSchema creates the workflow table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("workflow store not initialized")
	}

	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    id TEXT PRIMARY KEY,
    source TEXT NOT NULL,
    source_account TEXT NOT NULL DEFAULT 'Any',
    destination TEXT NOT NULL,
    destination_account TEXT NOT NULL DEFAULT '',
    instructions TEXT NOT NULL DEFAULT '',
    geo_latitude DOUBLE PRECISION,
    geo_longitude DOUBLE PRECISION,
    geo_radius_meters DOUBLE PRECISION,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    photo_baseline_ts BIGINT NOT NULL DEFAULT 0,
    photo_last_processed_ts BIGINT NOT NULL DEFAULT 0,
    photo_bootstrap_count INT NOT NULL DEFAULT 0,
    photo_person_name TEXT NOT NULL DEFAULT '',
    photo_person_embeddings JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_workflows_source ON %s (source) WHERE active;
`, workflowTable, workflowTable)

	_, err := s.pool.Exec(ctx, query)
	return err
}

// Load returns all active remote workflows. Rows that fail normalization are
// skipped with a warning rather than failing the whole load.
func (s *Store) Load(ctx context.Context) ([]workflow.Workflow, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("workflow store not initialized")
	}

	query := fmt.Sprintf(`
SELECT id, source, source_account, destination, destination_account,
       instructions, geo_latitude, geo_longitude, geo_radius_meters,
       active, photo_baseline_ts, photo_last_processed_ts,
       photo_bootstrap_count, photo_person_name, photo_person_embeddings,
       created_at
FROM %s
WHERE active`, workflowTable)

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query workflows: %w", err)
	}
	defer rows.Close()

	var workflows []workflow.Workflow
	for rows.Next() {
		var (
			id, source, sourceAccount          string
			destination, destinationAccount    string
			instructions, personName           string
			geoLat, geoLng, geoRadius          *float64
			active                             bool
			baselineTs, lastProcessedTs        int64
			bootstrapCount                     int
			embeddings                         []byte
			createdAt                          time.Time
		)
		if err := rows.Scan(
			&id, &source, &sourceAccount, &destination, &destinationAccount,
			&instructions, &geoLat, &geoLng, &geoRadius,
			&active, &baselineTs, &lastProcessedTs,
			&bootstrapCount, &personName, &embeddings, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan workflow row: %w", err)
		}

		sourceKind, err := workflow.ParseSource(source)
		if err != nil {
			s.logger.Warn("skipping remote workflow %s: %v", id, err)
			continue
		}
		destinationKind, err := workflow.ParseDestination(destination)
		if err != nil {
			s.logger.Warn("skipping remote workflow %s: %v", id, err)
			continue
		}

		var embeds [][]float32
		if len(embeddings) > 0 {
			if err := json.Unmarshal(embeddings, &embeds); err != nil {
				s.logger.Warn("workflow %s has malformed embeddings, ignoring them: %v", id, err)
				embeds = nil
			}
		}

		workflows = append(workflows, workflow.Workflow{
			ID:                   id,
			Source:               sourceKind,
			SourceAccount:        sourceAccount,
			Destination:          destinationKind,
			DestinationAccount:   destinationAccount,
			Instructions:         instructions,
			GeoLatitude:          geoLat,
			GeoLongitude:         geoLng,
			GeoRadiusMeters:      geoRadius,
			Active:               active,
			CreatedAt:            createdAt,
			PhotoBaselineTs:      baselineTs,
			PhotoLastProcessedTs: lastProcessedTs,
			PhotoBootstrapCount:  bootstrapCount,
			PhotoPersonName:      personName,
			PhotoPersonEmbeds:    embeds,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workflow rows: %w", err)
	}
	return workflows, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}
