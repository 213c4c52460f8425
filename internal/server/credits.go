package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/mestredigital/creditos/internal/ledger/domain"
	"github.com/mestredigital/creditos/internal/usercontext"
	"github.com/mestredigital/creditos/pkg/db/pagination"
)

type consumeRequest struct {
	IdempotencyKey string         `json:"idempotency_key"`
	Amount         int64          `json:"amount"`
	ToolID         string         `json:"tool_id"`
	Description    string         `json:"description"`
	Metadata       map[string]any `json:"metadata"`
}

func (s *Server) GetBalance(c *gin.Context) {
	userID, ok := usercontext.UserIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	balance, err := s.ledgerSvc.GetBalance(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, balance)
}

func (s *Server) Consume(c *gin.Context) {
	userID, ok := usercontext.UserIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req consumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	amount, err := s.resolveAmount(req.Amount, req.ToolID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if toolID := strings.TrimSpace(req.ToolID); toolID != "" {
		c.Set("tool_id", toolID)
	}

	result, err := s.ledgerSvc.Consume(c.Request.Context(), ledgerdomain.ConsumeRequest{
		UserID:         userID,
		IdempotencyKey: req.IdempotencyKey,
		Amount:         amount,
		ToolID:         req.ToolID,
		Description:    req.Description,
		Metadata:       req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) ListTransactions(c *gin.Context) {
	userID, ok := usercontext.UserIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.ledgerSvc.ListTransactions(c.Request.Context(), ledgerdomain.ListTransactionsRequest{
		Pagination: page,
		UserID:     userID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// resolveAmount prefers an explicit amount; otherwise the charge comes from
// the server-side tool cost catalog so clients cannot pick their own price.
func (s *Server) resolveAmount(amount int64, toolID string) (int64, error) {
	if amount > 0 {
		return amount, nil
	}
	if amount < 0 {
		return 0, ledgerdomain.ErrInvalidAmount
	}

	toolID = strings.TrimSpace(toolID)
	if toolID == "" {
		return 0, ledgerdomain.ErrInvalidAmount
	}
	cost, ok := s.toolCosts.CostFor(toolID)
	if !ok {
		return 0, newValidationError("tool_id", "unknown_tool", "unknown tool")
	}
	if cost <= 0 {
		return 0, newValidationError("tool_id", "free_tool", "tool is free and not billable")
	}
	return cost, nil
}
