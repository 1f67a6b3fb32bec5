package store

import (
	"context"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/jmoiron/sqlx"
	"github.com/segmentio/encoding/json"
	_ "modernc.org/sqlite"

	"github.com/bcrosbie/evalboard/internal/domain"
)

// SQLiteStore keeps results in a local SQLite file. It suits single-node
// deployments where running Postgres is not worth it.
type SQLiteStore struct {
	db *sqlx.DB
}

type resultRow struct {
	ModelID     string  `db:"model_id"`
	DatasetKey  string  `db:"dataset_key"`
	DatasetName string  `db:"dataset_name"`
	Metric      string  `db:"metric"`
	Score       float64 `db:"score"`
	Date        string  `db:"date"`
	Subset      string  `db:"subset"`
	Num         int     `db:"num"`
	CreatedAt   string  `db:"created_at"`
	UpdatedAt   string  `db:"updated_at"`
}

type selectionRow struct {
	ModelName   string `db:"model_name"`
	DatasetKeys string `db:"dataset_keys"`
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, domain.InvalidArgument("SQLITE_PATH is required when STORE_DRIVER=sqlite")
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, domain.Internal("failed to open sqlite database", err)
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) error {
	statements := []string{
		`PRAGMA journal_mode=WAL`,
		`CREATE TABLE IF NOT EXISTS identity_eval (
			model_id     TEXT    NOT NULL,
			dataset_key  TEXT    NOT NULL,
			dataset_name TEXT    NOT NULL DEFAULT '',
			metric       TEXT    NOT NULL DEFAULT '',
			score        REAL    NOT NULL,
			date         TEXT    NOT NULL,
			subset       TEXT    NOT NULL DEFAULT '',
			num          INTEGER NOT NULL DEFAULT 0,
			created_at   TEXT    NOT NULL,
			updated_at   TEXT    NOT NULL,
			UNIQUE (model_id, dataset_key, date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_identity_eval_date ON identity_eval (date)`,
		`CREATE TABLE IF NOT EXISTS eval_model_selections (
			model_name   TEXT PRIMARY KEY,
			dataset_keys TEXT NOT NULL DEFAULT '[]'
		)`,
	}
	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return domain.Internal("failed to prepare sqlite schema", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ListResults(ctx context.Context, filter domain.ResultFilter) ([]domain.TestResult, error) {
	query := `SELECT model_id, dataset_key, dataset_name, metric, score, date, subset, num, created_at, updated_at FROM identity_eval`
	args := []any{}
	conditions := []string{}
	if strings.TrimSpace(filter.ModelID) != "" {
		args = append(args, filter.ModelID)
		conditions = append(conditions, "model_id = ?")
	}
	if strings.TrimSpace(filter.DatasetKey) != "" {
		args = append(args, filter.DatasetKey)
		conditions = append(conditions, "dataset_key = ?")
	}
	if filter.From != nil {
		args = append(args, filter.From.String())
		conditions = append(conditions, "date >= ?")
	}
	if filter.To != nil {
		args = append(args, filter.To.String())
		conditions = append(conditions, "date <= ?")
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY date ASC, model_id DESC, dataset_key ASC"

	rows := []resultRow{}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, domain.Internal("failed to list eval results", err)
	}

	items := make([]domain.TestResult, 0, len(rows))
	for _, row := range rows {
		date, err := civil.ParseDate(row.Date)
		if err != nil {
			return nil, domain.Internal("stored result date is invalid", err)
		}
		items = append(items, domain.TestResult{
			ModelID:     row.ModelID,
			DatasetKey:  row.DatasetKey,
			DatasetName: row.DatasetName,
			Metric:      row.Metric,
			Score:       row.Score,
			Date:        date,
			Subset:      row.Subset,
			Num:         row.Num,
			CreatedAt:   row.CreatedAt,
			UpdatedAt:   row.UpdatedAt,
		})
	}
	return items, nil
}

func (s *SQLiteStore) UpsertResult(ctx context.Context, result domain.TestResult) error {
	row := resultRow{
		ModelID:     result.ModelID,
		DatasetKey:  result.DatasetKey,
		DatasetName: result.DatasetName,
		Metric:      result.Metric,
		Score:       result.Score,
		Date:        result.Date.String(),
		Subset:      result.Subset,
		Num:         result.Num,
		CreatedAt:   result.CreatedAt,
		UpdatedAt:   result.UpdatedAt,
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO identity_eval (
			model_id, dataset_key, dataset_name, metric, score, date, subset, num, created_at, updated_at
		) VALUES (
			:model_id, :dataset_key, :dataset_name, :metric, :score, :date, :subset, :num, :created_at, :updated_at
		)
		ON CONFLICT (model_id, dataset_key, date) DO UPDATE
		SET dataset_name = excluded.dataset_name,
		    metric = excluded.metric,
		    score = excluded.score,
		    subset = excluded.subset,
		    num = excluded.num,
		    updated_at = excluded.updated_at
	`, row)
	if err != nil {
		return domain.Internal("failed to upsert eval result", err)
	}
	return nil
}

func (s *SQLiteStore) ListSelections(ctx context.Context) (map[string][]string, error) {
	rows := []selectionRow{}
	if err := s.db.SelectContext(ctx, &rows, `SELECT model_name, dataset_keys FROM eval_model_selections ORDER BY model_name`); err != nil {
		return nil, domain.Internal("failed to list model selections", err)
	}
	out := make(map[string][]string, len(rows))
	for _, row := range rows {
		keys := []string{}
		if err := json.Unmarshal([]byte(row.DatasetKeys), &keys); err != nil {
			return nil, domain.Internal("stored dataset_keys are not a JSON array", err)
		}
		out[row.ModelName] = keys
	}
	return out, nil
}

func (s *SQLiteStore) ReplaceSelections(ctx context.Context, selections map[string][]string) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Internal("failed to begin selection transaction", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM eval_model_selections`); err != nil {
		return domain.Internal("failed to clear model selections", err)
	}
	for name, keys := range selections {
		if keys == nil {
			keys = []string{}
		}
		raw, marshalErr := json.Marshal(keys)
		if marshalErr != nil {
			err = marshalErr
			return domain.Internal("failed to encode dataset keys", err)
		}
		if _, err = tx.NamedExecContext(ctx,
			`INSERT INTO eval_model_selections (model_name, dataset_keys) VALUES (:model_name, :dataset_keys)`,
			selectionRow{ModelName: name, DatasetKeys: string(raw)},
		); err != nil {
			return domain.Internal("failed to insert model selection", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return domain.Internal("failed to commit model selections", err)
	}
	return nil
}
