package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stockmeta/internal/models"
	"github.com/stockmeta/internal/types"
)

// TransactionRepository handles the append-only credit ledger. Entries are
// never updated or deleted.
type TransactionRepository struct {
	db *PostgresDB
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *PostgresDB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Create appends a ledger entry
func (r *TransactionRepository) Create(ctx context.Context, tx *models.Transaction) error {
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	tx.CreatedAt = time.Now()

	query := `
		INSERT INTO transactions (id, user_id, type, amount, balance_after,
			job_id, slip_id, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		tx.ID,
		tx.UserID,
		tx.Type,
		tx.Amount,
		tx.BalanceAfter,
		tx.JobID,
		tx.SlipID,
		tx.Description,
		tx.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}

	return nil
}

// ListByUser returns a user's ledger entries, newest first, optionally
// filtered by type.
func (r *TransactionRepository) ListByUser(ctx context.Context, userID string, txType types.TransactionType, limit, offset int) ([]*models.Transaction, error) {
	query := `
		SELECT id, user_id, type, amount, balance_after, job_id, slip_id,
			description, created_at
		FROM transactions
		WHERE user_id = $1 AND ($2 = '' OR type = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.db.Pool().Query(ctx, query, userID, string(txType), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []*models.Transaction
	for rows.Next() {
		var tx models.Transaction
		err := rows.Scan(
			&tx.ID,
			&tx.UserID,
			&tx.Type,
			&tx.Amount,
			&tx.BalanceAfter,
			&tx.JobID,
			&tx.SlipID,
			&tx.Description,
			&tx.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, &tx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return txs, nil
}

// CountByUser returns the number of ledger entries for a user
func (r *TransactionRepository) CountByUser(ctx context.Context, userID string) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM transactions WHERE user_id = $1`

	err := r.db.Pool().QueryRow(ctx, query, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	return count, nil
}

// SumByTypeSince sums ledger amounts of one type since the given time
func (r *TransactionRepository) SumByTypeSince(ctx context.Context, txType types.TransactionType, since time.Time) (int64, error) {
	var sum int64
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE type = $1 AND created_at >= $2
	`

	err := r.db.Pool().QueryRow(ctx, query, txType, since).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum transactions: %w", err)
	}

	return sum, nil
}
