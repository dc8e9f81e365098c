package backend

import (
	"context"
	"fmt"
	"log/slog"

	"tally/internal/storage/memory"
	"tally/internal/storage/postgres"
	"tally/internal/storage/sqlite"
)

// Factory creates storage repositories from backend configuration.
type Factory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{logger: logger}
}

// CreateBackend constructs the repository named by the config.
func (f *Factory) CreateBackend(ctx context.Context, config Config) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLiteBackend:
		return f.createSQLiteBackend(config)
	case PostgresBackend:
		return f.createPostgresBackend(ctx, config)
	case MemoryBackend:
		return f.createMemoryBackend()
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *Factory) createSQLiteBackend(config Config) (*Result, error) {
	repo, err := sqlite.New(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)

	return &Result{Repository: repo, Cleanup: repo.Close}, nil
}

func (f *Factory) createPostgresBackend(ctx context.Context, config Config) (*Result, error) {
	repo, err := postgres.New(ctx, config.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Postgres repository: %w", err)
	}

	f.logger.Info("Initialized Postgres backend")

	return &Result{Repository: repo, Cleanup: repo.Close}, nil
}

func (f *Factory) createMemoryBackend() (*Result, error) {
	repo := memory.New()

	f.logger.Info("Initialized memory backend")

	return &Result{Repository: repo, Cleanup: repo.Close}, nil
}
