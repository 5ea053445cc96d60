package ledger_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"virtual-tryon-backend/internal/ledger"
	"virtual-tryon-backend/internal/memstore"
	"virtual-tryon-backend/internal/models"
)

func jobRef(id uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: id, Valid: true}
}

func TestLedger_GetBalanceCreatesWallet(t *testing.T) {
	store := memstore.New()
	l := ledger.New(store, 100, nil)
	userID := uuid.New()

	wallet, err := l.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 100, wallet.Credits)

	txs := store.Transactions(userID)
	require.Len(t, txs, 1)
	assert.Equal(t, models.TransactionBonus, txs[0].Type)
	assert.Equal(t, 100, txs[0].Amount)

	// second access does not grant again
	_, err = l.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	assert.Len(t, store.Transactions(userID), 1)
}

func TestLedger_Debit(t *testing.T) {
	store := memstore.New()
	l := ledger.New(store, 100, nil)
	userID := uuid.New()
	jobID := uuid.New()

	wallet, err := l.Debit(context.Background(), userID, 10, "try-on", jobRef(jobID))
	require.NoError(t, err)
	assert.Equal(t, 90, wallet.Credits)
	assert.Equal(t, 10, wallet.TotalSpent)

	txs := store.Transactions(userID)
	last := txs[len(txs)-1]
	assert.Equal(t, models.TransactionDeduct, last.Type)
	assert.Equal(t, -10, last.Amount)
	assert.Equal(t, 100, last.CreditsBefore)
	assert.Equal(t, 90, last.CreditsAfter)
	assert.Equal(t, jobRef(jobID), last.RelatedJobID)
}

func TestLedger_DebitInsufficient(t *testing.T) {
	store := memstore.New()
	l := ledger.New(store, 100, nil)
	userID := uuid.New()
	store.SetWallet(userID, 5)

	_, err := l.Debit(context.Background(), userID, 10, "try-on", jobRef(uuid.New()))
	assert.ErrorIs(t, err, ledger.ErrInsufficientCredits)

	wallet, err := l.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 5, wallet.Credits)
	assert.Empty(t, store.Transactions(userID))
}

func TestLedger_InvalidAmount(t *testing.T) {
	l := ledger.New(memstore.New(), 100, nil)
	userID := uuid.New()

	_, err := l.Debit(context.Background(), userID, 0, "x", uuid.NullUUID{})
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
	_, err = l.Refund(context.Background(), userID, -1, "x", uuid.NullUUID{})
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

func TestLedger_RefundOncePerJob(t *testing.T) {
	store := memstore.New()
	l := ledger.New(store, 100, nil)
	userID := uuid.New()
	jobID := uuid.New()

	_, err := l.Debit(context.Background(), userID, 10, "try-on", jobRef(jobID))
	require.NoError(t, err)

	wallet, err := l.Refund(context.Background(), userID, 10, "failed", jobRef(jobID))
	require.NoError(t, err)
	assert.Equal(t, 100, wallet.Credits)
	assert.Equal(t, 0, wallet.TotalSpent)

	_, err = l.Refund(context.Background(), userID, 10, "failed again", jobRef(jobID))
	assert.ErrorIs(t, err, ledger.ErrAlreadyRefunded)

	wallet, err = l.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 100, wallet.Credits)
}

// Debits racing on one wallet never overdraw it: exactly floor(B/C) win.
func TestLedger_ConcurrentDebits(t *testing.T) {
	store := memstore.New()
	l := ledger.New(store, 0, nil)
	userID := uuid.New()
	store.SetWallet(userID, 35)

	var (
		wg       sync.WaitGroup
		ok, fail int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Debit(context.Background(), userID, 10, "try-on", jobRef(uuid.New()))
			switch {
			case err == nil:
				atomic.AddInt32(&ok, 1)
			case errors.Is(err, ledger.ErrInsufficientCredits):
				atomic.AddInt32(&fail, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(3), ok)
	assert.Equal(t, int32(17), fail)

	wallet, err := l.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 5, wallet.Credits)
}

func TestLedger_Grant(t *testing.T) {
	l := ledger.New(memstore.New(), 100, nil)
	userID := uuid.New()

	wallet, err := l.Grant(context.Background(), userID, 50, models.TransactionPurchase, "top-up")
	require.NoError(t, err)
	assert.Equal(t, 150, wallet.Credits)

	_, err = l.Grant(context.Background(), userID, 50, models.TransactionRefund, "nope")
	assert.Error(t, err)
}

func TestLedger_HistoryNewestFirst(t *testing.T) {
	l := ledger.New(memstore.New(), 100, nil)
	userID := uuid.New()

	_, err := l.Debit(context.Background(), userID, 10, "first", jobRef(uuid.New()))
	require.NoError(t, err)
	_, err = l.Debit(context.Background(), userID, 5, "second", jobRef(uuid.New()))
	require.NoError(t, err)

	txs, err := l.History(context.Background(), userID, 0)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, "second", txs[0].Description)
	assert.Equal(t, models.TransactionBonus, txs[2].Type)

	txs, err = l.History(context.Background(), userID, 1)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}
