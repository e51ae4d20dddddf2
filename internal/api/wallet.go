package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"tradedesk/internal/ledger"
	"tradedesk/internal/monitor"
)

type mutationRequest struct {
	Amount      string `json:"amount"`
	Description string `json:"description"`
	Reference   string `json:"reference"`
}

type mutationFunc func(ctx context.Context, walletID string, amount decimal.Decimal, description, reference string) (*ledger.Wallet, *ledger.Entry, error)

// getWallet returns the caller's wallet, creating it lazily on first reference.
func (s *Server) getWallet(c *gin.Context) {
	wallet, err := s.Engine.GetOrCreateWallet(c.Request.Context(), CurrentUserID(c), s.Currency)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, wallet.View())
}

// getWalletLedger returns the caller's audit trail, newest first.
func (s *Server) getWalletLedger(c *gin.Context) {
	ctx := c.Request.Context()
	wallet, err := s.Engine.GetOrCreateWallet(ctx, CurrentUserID(c), s.Currency)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	entries, err := s.Engine.Entries(ctx, wallet.ID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}

	views := make([]ledger.EntryView, 0, len(entries))
	for i := range entries {
		views = append(views, entries[i].View())
	}
	c.JSON(http.StatusOK, gin.H{
		"wallet_id": wallet.ID,
		"entries":   views,
	})
}

// creditWallet adds funds to the caller's wallet.
func (s *Server) creditWallet(c *gin.Context) {
	s.mutateWallet(c, s.Engine.Credit)
}

// debitWallet removes funds from the caller's wallet.
func (s *Server) debitWallet(c *gin.Context) {
	s.mutateWallet(c, s.Engine.Debit)
}

func (s *Server) mutateWallet(c *gin.Context, mutate mutationFunc) {
	var req mutationRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		s.Metrics.MutationRejected()
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_AMOUNT",
			"error": "amount must be a decimal string",
		})
		return
	}

	ctx := c.Request.Context()
	wallet, err := s.Engine.GetOrCreateWallet(ctx, CurrentUserID(c), s.Currency)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}

	timer := monitor.NewTimer(s.Metrics.LedgerLatency)
	updated, entry, err := mutate(ctx, wallet.ID, amount, req.Description, req.Reference)
	timer.Stop()
	if err != nil {
		s.Metrics.MutationRejected()
		s.walletError(c, err)
		return
	}
	s.Metrics.MutationApplied()

	c.JSON(http.StatusOK, gin.H{
		"wallet":      updated.View(),
		"transaction": entry.View(),
	})
}

// walletError maps ledger precondition failures to precise HTTP responses.
func (s *Server) walletError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_AMOUNT",
			"error": err.Error(),
		})
	case errors.Is(err, ledger.ErrWalletNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"code":  "WALLET_NOT_FOUND",
			"error": err.Error(),
		})
	case errors.Is(err, ledger.ErrWalletNotActive):
		c.JSON(http.StatusConflict, gin.H{
			"code":  "WALLET_NOT_ACTIVE",
			"error": err.Error(),
		})
	case errors.Is(err, ledger.ErrInsufficientBalance):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"code":  "INSUFFICIENT_BALANCE",
			"error": err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
	}
}

// freezeWallet suspends an active wallet.
func (s *Server) freezeWallet(c *gin.Context) {
	s.transitionWallet(c, s.Engine.Freeze, ledger.StatusFrozen)
}

// unfreezeWallet reactivates a frozen wallet.
func (s *Server) unfreezeWallet(c *gin.Context) {
	s.transitionWallet(c, s.Engine.Unfreeze, ledger.StatusActive)
}

// closeWallet permanently closes a wallet.
func (s *Server) closeWallet(c *gin.Context) {
	s.transitionWallet(c, s.Engine.Close, ledger.StatusClosed)
}

func (s *Server) transitionWallet(c *gin.Context, transition func(context.Context, string) error, target string) {
	walletID := c.Param("id")
	if err := transition(c.Request.Context(), walletID); err != nil {
		s.walletError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"wallet_id": walletID,
		"status":    target,
	})
}
