package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	TransactionDeduct   = "deduct"
	TransactionRefund   = "refund"
	TransactionPurchase = "purchase"
	TransactionBonus    = "bonus"
)

type Wallet struct {
	UserID      uuid.UUID
	Credits     int
	TotalEarned int
	TotalSpent  int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreditTransaction is append-only. Amount is negative for deductions.
type CreditTransaction struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	Type          string
	Amount        int
	CreditsBefore int
	CreditsAfter  int
	Description   string
	RelatedJobID  uuid.NullUUID
	CreatedAt     time.Time
}
