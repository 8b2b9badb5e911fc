package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stockmeta/internal/models"
	"github.com/stockmeta/internal/types"
)

// ErrNotFound is returned when a row does not exist
var ErrNotFound = errors.New("not found")

// ErrConditionFailed is returned when a conditional update matched no rows
// even though the target row exists.
var ErrConditionFailed = errors.New("condition failed")

// UserRepository handles user data persistence. Credit mutations are single
// atomic UPDATE statements so concurrent reservations can never observe or
// produce a stale balance.
type UserRepository struct {
	db *PostgresDB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *PostgresDB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, email, password_hash, full_name, credits, status,
		hardware_id, app_version, total_topup_baht, total_credits_used,
		created_at, last_login, last_active`

// Create creates a new user
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.Status == "" {
		user.Status = types.StatusActive
	}

	now := time.Now()
	user.CreatedAt = now
	user.LastLogin = now
	user.LastActive = now

	query := `
		INSERT INTO users (id, email, password_hash, full_name, credits, status,
			hardware_id, app_version, total_topup_baht, total_credits_used,
			created_at, last_login, last_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.FullName,
		user.Credits,
		user.Status,
		user.HardwareID,
		user.AppVersion,
		user.TotalTopupBaht,
		user.TotalCreditsUsed,
		user.CreatedAt,
		user.LastLogin,
		user.LastActive,
	)

	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

func scanUser(row pgx.Row) (*models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.FullName,
		&user.Credits,
		&user.Status,
		&user.HardwareID,
		&user.AppVersion,
		&user.TotalTopupBaht,
		&user.TotalCreditsUsed,
		&user.CreatedAt,
		&user.LastLogin,
		&user.LastActive,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, userColumns)

	user, err := scanUser(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// GetByEmail retrieves a user by email
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE email = $1`, userColumns)

	user, err := scanUser(r.db.Pool().QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", email, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// ExistsByEmail checks if a user exists by email
func (r *UserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`

	err := r.db.Pool().QueryRow(ctx, query, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check user existence by email: %w", err)
	}

	return exists, nil
}

// List retrieves all users with pagination
func (r *UserRepository) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM users
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, userColumns)

	rows, err := r.db.Pool().Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	return users, nil
}

// Count returns the total number of users
func (r *UserRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM users`

	err := r.db.Pool().QueryRow(ctx, query).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}

	return count, nil
}

// UpdateStatus updates a user's account standing
func (r *UserRepository) UpdateStatus(ctx context.Context, userID string, status types.UserStatus) error {
	query := `UPDATE users SET status = $2 WHERE id = $1`

	result, err := r.db.Pool().Exec(ctx, query, userID, status)
	if err != nil {
		return fmt.Errorf("failed to update user status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}

	return nil
}

// RecordLogin updates the device binding and login timestamps. The binding is
// replaced rather than enforced; a changed hardware ID is surfaced to the
// caller for auditing.
func (r *UserRepository) RecordLogin(ctx context.Context, userID, hardwareID, appVersion string) error {
	query := `
		UPDATE users
		SET hardware_id = $2, app_version = $3, last_login = $4, last_active = $4
		WHERE id = $1
	`

	result, err := r.db.Pool().Exec(ctx, query, userID, hardwareID, appVersion, time.Now())
	if err != nil {
		return fmt.Errorf("failed to record login: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}

	return nil
}

// TouchLastActive updates the last-active timestamp
func (r *UserRepository) TouchLastActive(ctx context.Context, userID string) error {
	query := `UPDATE users SET last_active = $2 WHERE id = $1`

	_, err := r.db.Pool().Exec(ctx, query, userID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to touch last active: %w", err)
	}

	return nil
}

// ReserveCredits atomically debits a reservation from an active account with
// sufficient balance. The WHERE clause is the whole concurrency story: two
// racing reservations both decrement or one of them matches no rows.
// Returns the balance after the debit.
func (r *UserRepository) ReserveCredits(ctx context.Context, userID string, cost int64) (int64, error) {
	query := `
		UPDATE users
		SET credits = credits - $2, last_active = $3
		WHERE id = $1 AND status = 'active' AND credits >= $2
		RETURNING credits
	`

	var balance int64
	err := r.db.Pool().QueryRow(ctx, query, userID, cost, time.Now()).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrConditionFailed
		}
		return 0, fmt.Errorf("failed to reserve credits: %w", err)
	}

	return balance, nil
}

// AddCredits atomically credits an account and returns the new balance. Used
// for refunds and bonus grants; amount must be positive.
func (r *UserRepository) AddCredits(ctx context.Context, userID string, amount int64) (int64, error) {
	query := `
		UPDATE users
		SET credits = credits + $2
		WHERE id = $1
		RETURNING credits
	`

	var balance int64
	err := r.db.Pool().QueryRow(ctx, query, userID, amount).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("user %s: %w", userID, ErrNotFound)
		}
		return 0, fmt.Errorf("failed to add credits: %w", err)
	}

	return balance, nil
}

// RecordTopup atomically credits a verified top-up and bumps the lifetime
// totals. Returns the new balance.
func (r *UserRepository) RecordTopup(ctx context.Context, userID string, amountBaht, credits int64) (int64, error) {
	query := `
		UPDATE users
		SET credits = credits + $2, total_topup_baht = total_topup_baht + $3
		WHERE id = $1
		RETURNING credits
	`

	var balance int64
	err := r.db.Pool().QueryRow(ctx, query, userID, credits, amountBaht).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("user %s: %w", userID, ErrNotFound)
		}
		return 0, fmt.Errorf("failed to record topup: %w", err)
	}

	return balance, nil
}

// RecordUsage bumps the lifetime usage counter after a finalized job
func (r *UserRepository) RecordUsage(ctx context.Context, userID string, usedCredits int64) error {
	query := `
		UPDATE users
		SET total_credits_used = total_credits_used + $2
		WHERE id = $1
	`

	_, err := r.db.Pool().Exec(ctx, query, userID, usedCredits)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}

	return nil
}

// GetBalance returns just the credit balance for a user
func (r *UserRepository) GetBalance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	query := `SELECT credits FROM users WHERE id = $1`

	err := r.db.Pool().QueryRow(ctx, query, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("user %s: %w", userID, ErrNotFound)
		}
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}

	return balance, nil
}

// CountCreatedSince counts users registered at or after the given time
func (r *UserRepository) CountCreatedSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM users WHERE created_at >= $1`

	err := r.db.Pool().QueryRow(ctx, query, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count new users: %w", err)
	}

	return count, nil
}
