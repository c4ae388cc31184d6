package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"fintrack/internal/amqp"
	ledgermem "fintrack/internal/ledger/memory"
	"fintrack/internal/sheets"
	gsheet "fintrack/internal/sheets/google"
	sheetmem "fintrack/internal/sheets/memory"
	"fintrack/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{logger: logger}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLiteBackend:
		repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		f.logger.InfoContext(ctx, "Initialized SQLite backend", "db_path", config.SQLiteDBPath)
		return f.withPublisher(repo, config), nil
	case PostgresBackend:
		repo, err := storage.NewPostgresRepository(config.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL repository: %w", err)
		}
		f.logger.InfoContext(ctx, "Initialized PostgreSQL backend")
		return f.withPublisher(repo, config), nil
	case MemoryBackend:
		store := ledgermem.New()
		f.logger.InfoContext(ctx, "Initialized memory backend, data is lost on restart")
		return &BackendResult{
			Store:    store,
			Accounts: store,
			Cleanup:  func() error { return nil },
		}, nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

// withPublisher attaches the optional AMQP client. An unreachable broker at
// startup disables ledger events instead of failing the backend.
func (f *DefaultFactory) withPublisher(repo *storage.Repository, config Config) *BackendResult {
	result := &BackendResult{
		Store:      repo,
		Accounts:   repo,
		Pinger:     repo,
		Repository: repo,
	}

	var client *amqp.Client
	if config.AMQPURL != "" {
		var err error
		client, err = amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP client, continuing without ledger events", "error", err)
		} else {
			f.logger.Info("Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
			result.Publisher = client
		}
	}

	result.Cleanup = func() error {
		var errs []error
		if client != nil {
			if err := client.Close(); err != nil {
				errs = append(errs, fmt.Errorf("amqp: %w", err))
			}
		}
		if err := repo.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
		return errors.Join(errs...)
	}
	return result
}

// CreateMirror returns the Google Sheets mirror when a spreadsheet is
// configured and an in-memory mirror otherwise.
func (f *DefaultFactory) CreateMirror(ctx context.Context, config Config) (sheets.TransactionMirror, error) {
	if config.GoogleSpreadsheetID == "" {
		f.logger.WarnContext(ctx, "No spreadsheet configured, mirroring to memory only")
		return sheetmem.New(), nil
	}
	cli, err := gsheet.New(ctx, gsheet.Config{
		SpreadsheetID:   config.GoogleSpreadsheetID,
		SheetName:       config.GoogleSheetName,
		CredentialsJSON: config.GoogleServiceAccountJSON,
		CredentialsFile: config.GoogleServiceAccountFile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}
	f.logger.InfoContext(ctx, "Initialized Google Sheets mirror", "sheet", config.GoogleSheetName)
	return cli, nil
}
