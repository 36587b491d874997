package storage

// sqlite.go: índice de runs de backtest.
//
// Los artefactos pesados de cada run (decisiones diarias, trades, métricas)
// viven en el directorio JSON del run; aquí solo se guarda el resumen para
// poder listar y comparar runs sin reabrir esos ficheros. Una fila por run,
// con upsert por id.

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/alejandrodnm/moebot/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
-- Una fila por run de backtest completado
CREATE TABLE IF NOT EXISTS runs (
    id              TEXT PRIMARY KEY,
    started_at      DATETIME NOT NULL,
    start_date      DATETIME NOT NULL,
    end_date        DATETIME NOT NULL,
    tickers         TEXT     NOT NULL,
    initial_capital REAL     NOT NULL DEFAULT 0,
    final_value     REAL     NOT NULL DEFAULT 0,
    total_return    REAL     NOT NULL DEFAULT 0,
    sharpe_ratio    REAL     NOT NULL DEFAULT 0,
    max_drawdown    REAL     NOT NULL DEFAULT 0,
    total_decisions INTEGER  NOT NULL DEFAULT 0,
    success_rate    REAL     NOT NULL DEFAULT 0,
    output_dir      TEXT     NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
`

// SQLiteRunStore implementa ports.RunStore usando SQLite (pure Go, sin CGo).
type SQLiteRunStore struct {
	db *sql.DB
}

// NewSQLiteRunStore abre (o crea) la base de datos en la ruta dada y aplica
// el schema.
func NewSQLiteRunStore(path string) (*SQLiteRunStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteRunStore: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteRunStore: apply schema: %w", err)
	}

	return &SQLiteRunStore{db: db}, nil
}

// SaveRun hace upsert del resumen por id; reintentar un guardado no duplica
// la fila.
func (s *SQLiteRunStore) SaveRun(ctx context.Context, summary domain.RunSummary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs
			(id, started_at, start_date, end_date, tickers, initial_capital,
			 final_value, total_return, sharpe_ratio, max_drawdown,
			 total_decisions, success_rate, output_dir)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			final_value  = excluded.final_value,
			total_return = excluded.total_return,
			sharpe_ratio = excluded.sharpe_ratio,
			max_drawdown = excluded.max_drawdown,
			total_decisions = excluded.total_decisions,
			success_rate = excluded.success_rate,
			output_dir   = excluded.output_dir
	`,
		summary.ID,
		summary.StartedAt.UTC().Format(time.RFC3339),
		summary.StartDate.UTC().Format(time.RFC3339),
		summary.EndDate.UTC().Format(time.RFC3339),
		strings.Join(summary.Tickers, ","),
		summary.InitialCapital,
		summary.FinalValue,
		summary.TotalReturn,
		summary.SharpeRatio,
		summary.MaxDrawdown,
		summary.TotalDecisions,
		summary.SuccessRate,
		summary.OutputDir,
	)
	if err != nil {
		return fmt.Errorf("storage.SaveRun: upsert %s: %w", summary.ID, err)
	}
	return nil
}

// RecentRuns devuelve hasta limit resúmenes, el más nuevo primero.
func (s *SQLiteRunStore) RecentRuns(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, start_date, end_date, tickers, initial_capital,
		       final_value, total_return, sharpe_ratio, max_drawdown,
		       total_decisions, success_rate, output_dir
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.RecentRuns: query: %w", err)
	}
	defer rows.Close()

	var runs []domain.RunSummary
	for rows.Next() {
		var summary domain.RunSummary
		var startedAt, startDate, endDate, tickers string

		if err := rows.Scan(
			&summary.ID,
			&startedAt,
			&startDate,
			&endDate,
			&tickers,
			&summary.InitialCapital,
			&summary.FinalValue,
			&summary.TotalReturn,
			&summary.SharpeRatio,
			&summary.MaxDrawdown,
			&summary.TotalDecisions,
			&summary.SuccessRate,
			&summary.OutputDir,
		); err != nil {
			return nil, fmt.Errorf("storage.RecentRuns: scan row: %w", err)
		}

		summary.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		summary.StartDate, _ = time.Parse(time.RFC3339, startDate)
		summary.EndDate, _ = time.Parse(time.RFC3339, endDate)
		if tickers != "" {
			summary.Tickers = strings.Split(tickers, ",")
		}
		runs = append(runs, summary)
	}

	return runs, rows.Err()
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteRunStore) Close() error {
	return s.db.Close()
}
