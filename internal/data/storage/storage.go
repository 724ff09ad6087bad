package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/songzhibin97/shannon/internal/models"

	_ "github.com/lib/pq"
)

type PostgresStorage struct {
	db *sql.DB
}

func NewPostgresStorage(ctx context.Context, connStr string) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStorage{db: db}

	if err := s.initTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}

	return s, nil
}

// SaveSnapshot implements SnapshotStorage interface
func (s *PostgresStorage) SaveSnapshot(ctx context.Context, snap *models.PortfolioSnapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.QueryRowContext(ctx, `
        INSERT INTO portfolio_snapshots (
            taken_at, exchange, total_value, entropy, proposed_entropy, orders
        ) VALUES (
            $1, $2, $3, $4, $5, $6
        ) RETURNING id
    `,
		snap.TakenAt,
		snap.Exchange,
		snap.TotalValue,
		snap.Entropy,
		snap.ProposedEntropy,
		snap.Orders,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	for _, h := range snap.Holdings {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO snapshot_holdings (
                snapshot_id, symbol, amount, price, value
            ) VALUES (
                $1, $2, $3, $4, $5
            )
        `, id, h.Symbol, h.Amount, h.Price, h.Value)
		if err != nil {
			return fmt.Errorf("failed to save holding %s: %w", h.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// GetSnapshots implements SnapshotStorage interface
func (s *PostgresStorage) GetSnapshots(ctx context.Context, exchange string, start, end time.Time) ([]models.PortfolioSnapshot, error) {
	query := `
        SELECT p.id, p.taken_at, p.exchange, p.total_value, p.entropy,
               p.proposed_entropy, p.orders, h.symbol, h.amount, h.price, h.value
        FROM portfolio_snapshots p
        LEFT JOIN snapshot_holdings h ON h.snapshot_id = p.id
        WHERE p.exchange = $1 AND p.taken_at BETWEEN $2 AND $3
        ORDER BY p.taken_at ASC, p.id ASC, h.id ASC
    `

	rows, err := s.db.QueryContext(ctx, query, exchange, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var (
		result []models.PortfolioSnapshot
		lastID int64 = -1
	)
	for rows.Next() {
		var (
			id     int64
			snap   models.PortfolioSnapshot
			symbol sql.NullString
			amount sql.NullFloat64
			price  sql.NullFloat64
			value  sql.NullFloat64
		)
		err := rows.Scan(
			&id,
			&snap.TakenAt,
			&snap.Exchange,
			&snap.TotalValue,
			&snap.Entropy,
			&snap.ProposedEntropy,
			&snap.Orders,
			&symbol,
			&amount,
			&price,
			&value,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}

		if id != lastID {
			result = append(result, snap)
			lastID = id
		}
		if symbol.Valid {
			cur := &result[len(result)-1]
			cur.Holdings = append(cur.Holdings, models.Holding{
				Symbol: symbol.String,
				Amount: amount.Float64,
				Price:  price.Float64,
				Value:  value.Float64,
			})
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshot rows: %w", err)
	}

	return result, nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

func (s *PostgresStorage) initTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS portfolio_snapshots (
			id BIGSERIAL PRIMARY KEY,
			taken_at TIMESTAMPTZ NOT NULL,
			exchange VARCHAR(50) NOT NULL,
			total_value NUMERIC(28, 8),
			entropy DOUBLE PRECISION,
			proposed_entropy DOUBLE PRECISION,
			orders INT NOT NULL DEFAULT 0
		)`,

		`CREATE INDEX IF NOT EXISTS portfolio_snapshots_exchange_taken_at
			ON portfolio_snapshots (exchange, taken_at)`,

		`CREATE TABLE IF NOT EXISTS snapshot_holdings (
			id BIGSERIAL PRIMARY KEY,
			snapshot_id BIGINT NOT NULL REFERENCES portfolio_snapshots (id) ON DELETE CASCADE,
			symbol VARCHAR(20) NOT NULL,
			amount NUMERIC(28, 8),
			price NUMERIC(28, 8),
			value NUMERIC(28, 8)
		)`,
	}

	for _, query := range queries {
		_, err := s.db.ExecContext(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

// NopStorage drops every snapshot. It is used when no database is configured.
type NopStorage struct{}

func (NopStorage) SaveSnapshot(context.Context, *models.PortfolioSnapshot) error { return nil }

func (NopStorage) GetSnapshots(context.Context, string, time.Time, time.Time) ([]models.PortfolioSnapshot, error) {
	return nil, nil
}

func (NopStorage) Close() error { return nil }
