package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/segmentio/encoding/json"

	"github.com/bcrosbie/evalboard/internal/domain"
)

type PostgresStore struct {
	db  *sql.DB
	dsn string
}

const (
	defaultDBMaxOpenConns    = 25
	defaultDBMaxIdleConns    = 10
	defaultDBConnMaxLifetime = 30 * time.Minute
	defaultDBConnMaxIdleTime = 5 * time.Minute
	defaultDBPingTimeout     = 5 * time.Second
)

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, domain.InvalidArgument("DATABASE_URL is required when STORE_DRIVER=postgres")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, domain.Internal("failed to open postgres connection", err)
	}
	db.SetMaxOpenConns(defaultDBMaxOpenConns)
	db.SetMaxIdleConns(defaultDBMaxIdleConns)
	db.SetConnMaxLifetime(defaultDBConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultDBConnMaxIdleTime)

	return &PostgresStore{db: db, dsn: dsn}, nil
}

func (s *PostgresStore) Load(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, defaultDBPingTimeout)
	defer cancel()
	if err := s.db.PingContext(pingCtx); err != nil {
		return domain.Unavailable("failed to connect to postgres", err)
	}
	return s.verifySchemaReady(ctx)
}

func (s *PostgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) verifySchemaReady(ctx context.Context) error {
	for _, tableName := range []string{"identity_eval", "eval_model_selections"} {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT to_regclass($1) IS NOT NULL`, "public."+tableName).Scan(&exists); err != nil {
			return domain.Internal("failed to verify database schema", err)
		}
		if !exists {
			return domain.FailedPrecondition(fmt.Sprintf("required table %q is missing; run migrations (MIGRATE_ON_START=true) before starting evalboard", tableName))
		}
	}
	return nil
}

func (s *PostgresStore) ListResults(ctx context.Context, filter domain.ResultFilter) ([]domain.TestResult, error) {
	query := `
		SELECT model_id, dataset_key, dataset_name, metric, score, date, subset, num, created_at, updated_at
		FROM identity_eval
	`
	args := []any{}
	conditions := []string{}

	if strings.TrimSpace(filter.ModelID) != "" {
		args = append(args, filter.ModelID)
		conditions = append(conditions, fmt.Sprintf("model_id = $%d", len(args)))
	}
	if strings.TrimSpace(filter.DatasetKey) != "" {
		args = append(args, filter.DatasetKey)
		conditions = append(conditions, fmt.Sprintf("dataset_key = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, filter.From.String())
		conditions = append(conditions, fmt.Sprintf("date >= $%d::date", len(args)))
	}
	if filter.To != nil {
		args = append(args, filter.To.String())
		conditions = append(conditions, fmt.Sprintf("date <= $%d::date", len(args)))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY date ASC, model_id DESC, dataset_key ASC "

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Internal("failed to list eval results", err)
	}
	defer rows.Close()

	items := []domain.TestResult{}
	for rows.Next() {
		var item domain.TestResult
		var date, createdAt, updatedAt time.Time
		if err := rows.Scan(
			&item.ModelID,
			&item.DatasetKey,
			&item.DatasetName,
			&item.Metric,
			&item.Score,
			&date,
			&item.Subset,
			&item.Num,
			&createdAt,
			&updatedAt,
		); err != nil {
			return nil, domain.Internal("failed to decode eval result row", err)
		}
		item.Date = civil.DateOf(date)
		item.CreatedAt = formatTime(createdAt)
		item.UpdatedAt = formatTime(updatedAt)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal("failed to iterate eval result rows", err)
	}
	return items, nil
}

func (s *PostgresStore) UpsertResult(ctx context.Context, result domain.TestResult) error {
	createdAt, err := parseTimestamp(result.CreatedAt)
	if err != nil {
		return domain.Internal("result created_at is invalid", err)
	}
	updatedAt, err := parseTimestamp(result.UpdatedAt)
	if err != nil {
		return domain.Internal("result updated_at is invalid", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO identity_eval (
			model_id, dataset_key, dataset_name, metric, score, date, subset, num, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6::date, $7, $8, $9, $10)
		ON CONFLICT (model_id, dataset_key, date) DO UPDATE
		SET dataset_name = EXCLUDED.dataset_name,
		    metric = EXCLUDED.metric,
		    score = EXCLUDED.score,
		    subset = EXCLUDED.subset,
		    num = EXCLUDED.num,
		    updated_at = EXCLUDED.updated_at
	`, result.ModelID, result.DatasetKey, result.DatasetName, result.Metric, result.Score, result.Date.String(),
		result.Subset, result.Num, createdAt, updatedAt)
	if err != nil {
		return domain.Internal("failed to upsert eval result", err)
	}
	return nil
}

func (s *PostgresStore) ListSelections(ctx context.Context) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT model_name, dataset_keys FROM eval_model_selections ORDER BY model_name`)
	if err != nil {
		return nil, domain.Internal("failed to list model selections", err)
	}
	defer rows.Close()

	out := map[string][]string{}
	for rows.Next() {
		var name string
		var raw []byte
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, domain.Internal("failed to decode model selection row", err)
		}
		keys := []string{}
		if err := json.Unmarshal(raw, &keys); err != nil {
			return nil, domain.Internal("stored dataset_keys are not a JSON array", err)
		}
		out[name] = keys
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal("failed to iterate model selection rows", err)
	}
	return out, nil
}

func (s *PostgresStore) ReplaceSelections(ctx context.Context, selections map[string][]string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
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
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO eval_model_selections (model_name, dataset_keys, updated_at)
			VALUES ($1, $2::jsonb, NOW())
		`, name, string(raw)); err != nil {
			return domain.Internal("failed to insert model selection", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return domain.Internal("failed to commit model selections", err)
	}
	return nil
}

func parseTimestamp(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Now().UTC(), nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

func formatTime(value time.Time) string {
	return value.UTC().Format(time.RFC3339Nano)
}
