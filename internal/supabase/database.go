package supabase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"
	"virtual-tryon-backend/internal/ledger"
	"virtual-tryon-backend/internal/models"
)

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(ctx context.Context, connectionString string) (*DatabaseClient, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

// NewDatabaseClientFromDB wraps an existing handle, e.g. a sqlmock connection.
func NewDatabaseClientFromDB(db *sql.DB) *DatabaseClient {
	return &DatabaseClient{db: db}
}

func (d *DatabaseClient) DB() *sql.DB {
	return d.db
}

func (d *DatabaseClient) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DatabaseClient) Close() error {
	return d.db.Close()
}

const walletColumns = `user_id, credits, total_earned, total_spent, created_at, updated_at`

func scanWallet(row interface{ Scan(...any) error }) (*models.Wallet, error) {
	var w models.Wallet
	if err := row.Scan(&w.UserID, &w.Credits, &w.TotalEarned, &w.TotalSpent, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	return &w, nil
}

// EnsureWallet creates the wallet with the starting balance if it does not
// exist yet. The grant is logged as a bonus transaction in the same
// database transaction.
func (d *DatabaseClient) EnsureWallet(ctx context.Context, userID uuid.UUID, startingCredits int) (*models.Wallet, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	wallet, err := scanWallet(tx.QueryRowContext(ctx, `
		INSERT INTO wallets (user_id, credits, total_earned, total_spent)
		VALUES ($1, $2, $2, 0)
		ON CONFLICT (user_id) DO NOTHING
		RETURNING `+walletColumns, userID, startingCredits))

	switch {
	case errors.Is(err, sql.ErrNoRows):
		wallet, err = scanWallet(tx.QueryRowContext(ctx, `
			SELECT `+walletColumns+` FROM wallets WHERE user_id = $1
		`, userID))
		if err != nil {
			return nil, fmt.Errorf("failed to get wallet: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	case startingCredits > 0:
		if err := insertTransaction(ctx, tx, userID, models.TransactionBonus, startingCredits,
			0, wallet.Credits, "welcome credits", uuid.NullUUID{}); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit wallet: %w", err)
	}
	return wallet, nil
}

// DebitWallet decrements the balance only if it covers amount. The guard
// and the write are one statement, so concurrent debits serialize on the
// row lock and none can drive the balance negative.
func (d *DatabaseClient) DebitWallet(ctx context.Context, userID uuid.UUID, amount int, description string, relatedJobID uuid.NullUUID) (*models.Wallet, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	wallet, err := scanWallet(tx.QueryRowContext(ctx, `
		UPDATE wallets
		SET credits = credits - $2, total_spent = total_spent + $2, updated_at = NOW()
		WHERE user_id = $1 AND credits >= $2
		RETURNING `+walletColumns, userID, amount))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrInsufficientCredits
	}
	if err != nil {
		return nil, fmt.Errorf("failed to debit wallet: %w", err)
	}

	if err := insertTransaction(ctx, tx, userID, models.TransactionDeduct, -amount,
		wallet.Credits+amount, wallet.Credits, description, relatedJobID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit debit: %w", err)
	}
	return wallet, nil
}

// RefundWallet credits the wallet back. The unique refund index on
// related_job_id rejects a second refund for the same job, which rolls the
// balance change back with it.
func (d *DatabaseClient) RefundWallet(ctx context.Context, userID uuid.UUID, amount int, description string, relatedJobID uuid.NullUUID) (*models.Wallet, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	wallet, err := scanWallet(tx.QueryRowContext(ctx, `
		UPDATE wallets
		SET credits = credits + $2, total_spent = GREATEST(total_spent - $2, 0), updated_at = NOW()
		WHERE user_id = $1
		RETURNING `+walletColumns, userID, amount))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to refund wallet: %w", err)
	}

	err = insertTransaction(ctx, tx, userID, models.TransactionRefund, amount,
		wallet.Credits-amount, wallet.Credits, description, relatedJobID)
	if isUniqueViolation(err) {
		return nil, ledger.ErrAlreadyRefunded
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit refund: %w", err)
	}
	return wallet, nil
}

func (d *DatabaseClient) GrantCredits(ctx context.Context, userID uuid.UUID, amount int, txType, description string) (*models.Wallet, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	wallet, err := scanWallet(tx.QueryRowContext(ctx, `
		UPDATE wallets
		SET credits = credits + $2, total_earned = total_earned + $2, updated_at = NOW()
		WHERE user_id = $1
		RETURNING `+walletColumns, userID, amount))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to grant credits: %w", err)
	}

	if err := insertTransaction(ctx, tx, userID, txType, amount,
		wallet.Credits-amount, wallet.Credits, description, uuid.NullUUID{}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit grant: %w", err)
	}
	return wallet, nil
}

func (d *DatabaseClient) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]models.CreditTransaction, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, user_id, type, amount, credits_before, credits_after, description, related_job_id, created_at
		FROM credit_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []models.CreditTransaction
	for rows.Next() {
		var t models.CreditTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Type, &t.Amount, &t.CreditsBefore,
			&t.CreditsAfter, &t.Description, &t.RelatedJobID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return txs, nil
}

func insertTransaction(ctx context.Context, tx *sql.Tx, userID uuid.UUID, txType string, amount, before, after int, description string, relatedJobID uuid.NullUUID) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions
			(id, user_id, type, amount, credits_before, credits_after, description, related_job_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, uuid.New(), userID, txType, amount, before, after, description, relatedJobID)
	if err != nil {
		if isUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("failed to record %s transaction: %w", txType, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pgerrcode.UniqueViolation
}
