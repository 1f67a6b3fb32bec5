package store

import (
	"context"

	"github.com/bcrosbie/evalboard/internal/domain"
)

// EvalStore is the persistence contract used by the service layer.
// Results are unique on (model_id, dataset_key, date). Selections are keyed
// by model name and always replaced as a whole snapshot.
type EvalStore interface {
	Load(ctx context.Context) error
	Close() error

	ListResults(ctx context.Context, filter domain.ResultFilter) ([]domain.TestResult, error)
	UpsertResult(ctx context.Context, result domain.TestResult) error

	ListSelections(ctx context.Context) (map[string][]string, error)
	ReplaceSelections(ctx context.Context, selections map[string][]string) error
}

// New builds the store named by driver.
func New(driver, dataFile, databaseURL, sqlitePath string) (EvalStore, error) {
	switch driver {
	case "", "file":
		return NewFileStore(dataFile), nil
	case "postgres":
		return NewPostgresStore(databaseURL)
	case "sqlite":
		return NewSQLiteStore(sqlitePath)
	default:
		return nil, domain.InvalidArgument("unknown STORE_DRIVER " + driver + " (use file, postgres, or sqlite)")
	}
}
