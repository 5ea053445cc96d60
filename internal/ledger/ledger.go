// Package ledger keeps the per-user credit balance and its append-only
// transaction log.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"virtual-tryon-backend/internal/models"
)

var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInvalidAmount       = errors.New("amount must be positive")
	// ErrAlreadyRefunded is returned when a refund for the same job was
	// already recorded. The wallet is left untouched.
	ErrAlreadyRefunded = errors.New("job already refunded")
	ErrWalletNotFound  = errors.New("wallet not found")
)

// Store is the persistence the ledger needs. DebitWallet must check the
// balance and decrement it in a single conditional statement.
type Store interface {
	EnsureWallet(ctx context.Context, userID uuid.UUID, startingCredits int) (*models.Wallet, error)
	DebitWallet(ctx context.Context, userID uuid.UUID, amount int, description string, relatedJobID uuid.NullUUID) (*models.Wallet, error)
	RefundWallet(ctx context.Context, userID uuid.UUID, amount int, description string, relatedJobID uuid.NullUUID) (*models.Wallet, error)
	GrantCredits(ctx context.Context, userID uuid.UUID, amount int, txType, description string) (*models.Wallet, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]models.CreditTransaction, error)
}

type Ledger struct {
	store           Store
	startingCredits int
	logger          *zap.Logger
}

func New(store Store, startingCredits int, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		store:           store,
		startingCredits: startingCredits,
		logger:          logger.Named("ledger"),
	}
}

// Debit takes amount credits from the user's wallet or fails with
// ErrInsufficientCredits without changing anything.
func (l *Ledger) Debit(ctx context.Context, userID uuid.UUID, amount int, reason string, relatedJobID uuid.NullUUID) (*models.Wallet, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	if _, err := l.store.EnsureWallet(ctx, userID, l.startingCredits); err != nil {
		return nil, fmt.Errorf("failed to ensure wallet: %w", err)
	}

	wallet, err := l.store.DebitWallet(ctx, userID, amount, reason, relatedJobID)
	if err != nil {
		if errors.Is(err, ErrInsufficientCredits) {
			l.logger.Info("debit refused",
				zap.String("user_id", userID.String()),
				zap.Int("amount", amount),
			)
			return nil, err
		}
		return nil, fmt.Errorf("failed to debit wallet: %w", err)
	}

	l.logger.Info("credits debited",
		zap.String("user_id", userID.String()),
		zap.Int("amount", amount),
		zap.Int("balance", wallet.Credits),
		zap.String("job_id", nullUUIDString(relatedJobID)),
	)
	return wallet, nil
}

// Refund returns credits to the wallet. At most one refund is recorded per
// related job; a repeat returns ErrAlreadyRefunded.
func (l *Ledger) Refund(ctx context.Context, userID uuid.UUID, amount int, reason string, relatedJobID uuid.NullUUID) (*models.Wallet, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	wallet, err := l.store.RefundWallet(ctx, userID, amount, reason, relatedJobID)
	if err != nil {
		if errors.Is(err, ErrAlreadyRefunded) {
			l.logger.Warn("duplicate refund ignored",
				zap.String("user_id", userID.String()),
				zap.String("job_id", nullUUIDString(relatedJobID)),
			)
			return nil, err
		}
		return nil, fmt.Errorf("failed to refund wallet: %w", err)
	}

	l.logger.Info("credits refunded",
		zap.String("user_id", userID.String()),
		zap.Int("amount", amount),
		zap.Int("balance", wallet.Credits),
		zap.String("job_id", nullUUIDString(relatedJobID)),
	)
	return wallet, nil
}

// Grant adds purchased or bonus credits.
func (l *Ledger) Grant(ctx context.Context, userID uuid.UUID, amount int, txType, reason string) (*models.Wallet, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if txType != models.TransactionPurchase && txType != models.TransactionBonus {
		return nil, fmt.Errorf("unsupported grant type %q", txType)
	}

	if _, err := l.store.EnsureWallet(ctx, userID, l.startingCredits); err != nil {
		return nil, fmt.Errorf("failed to ensure wallet: %w", err)
	}

	wallet, err := l.store.GrantCredits(ctx, userID, amount, txType, reason)
	if err != nil {
		return nil, fmt.Errorf("failed to grant credits: %w", err)
	}
	return wallet, nil
}

// GetBalance returns the wallet, creating it with the starting balance on
// first access.
func (l *Ledger) GetBalance(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	wallet, err := l.store.EnsureWallet(ctx, userID, l.startingCredits)
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return wallet, nil
}

func (l *Ledger) History(ctx context.Context, userID uuid.UUID, limit int) ([]models.CreditTransaction, error) {
	switch {
	case limit <= 0:
		limit = 50
	case limit > 200:
		limit = 200
	}
	txs, err := l.store.ListTransactions(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txs, nil
}

func nullUUIDString(id uuid.NullUUID) string {
	if !id.Valid {
		return ""
	}
	return id.UUID.String()
}
