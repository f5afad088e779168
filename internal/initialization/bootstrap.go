package initialization

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/neurondb/NeuronGateway/internal/db"
	"github.com/neurondb/NeuronGateway/internal/logging"
)

// Bootstrap prepares the profile store before the gateway starts accepting connections
type Bootstrap struct {
	database *sql.DB
	queries  *db.Queries
	logger   *logging.Logger
	retry    RetryConfig
}

func NewBootstrap(database *sql.DB, queries *db.Queries, logger *logging.Logger) *Bootstrap {
	return &Bootstrap{
		database: database,
		queries:  queries,
		logger:   logger,
		retry:    DefaultRetryConfig(),
	}
}

// WithRetry overrides the retry policy
func (b *Bootstrap) WithRetry(cfg RetryConfig) *Bootstrap {
	b.retry = cfg
	return b
}

// Initialize waits for the database, then applies the schema
func (b *Bootstrap) Initialize(ctx context.Context) error {
	metrics := NewBootstrapMetrics()
	defer func() {
		metrics.Finish()
		metrics.LogMetrics(b.logger)
	}()

	b.logger.Info("Starting application bootstrap sequence", nil)

	stepStart := time.Now()
	err := Retry(ctx, b.logger, b.retry, "database ping", func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return b.database.PingContext(pingCtx)
	})
	metrics.TrackStep("database", time.Since(stepStart), err == nil)
	if err != nil {
		return fmt.Errorf("database unavailable: %w", err)
	}

	stepStart = time.Now()
	err = Retry(ctx, b.logger, b.retry, "apply schema", b.queries.EnsureSchema)
	metrics.TrackStep("schema", time.Since(stepStart), err == nil)
	if err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	b.logger.Info("Application bootstrap completed successfully", nil)
	return nil
}
