package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"virtual-tryon-backend/internal/models"
)

type WalletReader interface {
	GetBalance(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	History(ctx context.Context, userID uuid.UUID, limit int) ([]models.CreditTransaction, error)
}

type WalletHandler struct {
	ledger WalletReader
}

func NewWalletHandler(ledger WalletReader) *WalletHandler {
	return &WalletHandler{ledger: ledger}
}

// GetWallet godoc
// @Summary     Get the credit balance
// @Description Creates the wallet with the starting balance on first access.
// @Tags        wallet
// @Produce     json
// @Success     200 {object} models.WalletResponse
// @Security    Bearer
// @Router      /wallet [get]
func (h *WalletHandler) GetWallet(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	wallet, err := h.ledger.GetBalance(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.NewWalletResponse(wallet))
}

// ListTransactions godoc
// @Summary     List credit transactions, newest first
// @Tags        wallet
// @Produce     json
// @Param       limit query int false "Max rows (default 50)"
// @Success     200 {object} models.TransactionListResponse
// @Security    Bearer
// @Router      /wallet/transactions [get]
func (h *WalletHandler) ListTransactions(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	txs, err := h.ledger.History(c.Request.Context(), userID, queryInt(c, "limit", 50))
	if err != nil {
		respondError(c, err)
		return
	}

	resp := models.TransactionListResponse{Transactions: make([]models.TransactionResponse, 0, len(txs))}
	for i := range txs {
		resp.Transactions = append(resp.Transactions, models.NewTransactionResponse(&txs[i]))
	}
	c.JSON(http.StatusOK, resp)
}

type CreditGranter interface {
	Grant(ctx context.Context, userID uuid.UUID, amount int, txType, reason string) (*models.Wallet, error)
}

// AdminHandler serves operator endpoints behind the admin key.
type AdminHandler struct {
	ledger CreditGranter
}

func NewAdminHandler(ledger CreditGranter) *AdminHandler {
	return &AdminHandler{ledger: ledger}
}

// GrantCredits godoc
// @Summary     Top up a user's wallet
// @Tags        admin
// @Accept      json
// @Produce     json
// @Param       user_id path string                     true "User ID"
// @Param       request body models.GrantCreditsRequest true "Grant"
// @Success     200 {object} models.WalletResponse
// @Failure     400 {object} models.ErrorResponse
// @Router      /admin/wallets/{user_id}/credits [post]
func (h *AdminHandler) GrantCredits(c *gin.Context) {
	userID, ok := pathUUID(c, "user_id")
	if !ok {
		return
	}

	var req models.GrantCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request body", Message: err.Error()})
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "manual " + req.Type
	}

	wallet, err := h.ledger.Grant(c.Request.Context(), userID, req.Amount, req.Type, reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.NewWalletResponse(wallet))
}
