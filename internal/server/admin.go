package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/mestredigital/creditos/internal/audit/domain"
	"github.com/mestredigital/creditos/internal/audit/masking"
	ledgerdomain "github.com/mestredigital/creditos/internal/ledger/domain"
	"github.com/mestredigital/creditos/pkg/db/pagination"
)

type adminCreditRequest struct {
	IdempotencyKey string         `json:"idempotency_key"`
	Amount         int64          `json:"amount"`
	Kind           string         `json:"kind"`
	Description    string         `json:"description"`
	ReversalOf     string         `json:"reversal_of"`
	Metadata       map[string]any `json:"metadata"`
}

type auditLogQuery struct {
	pagination.Pagination
	Action     string `form:"action"`
	TargetType string `form:"target_type"`
	TargetID   string `form:"target_id"`
	ActorType  string `form:"actor_type"`
	StartAt    string `form:"start_at"`
	EndAt      string `form:"end_at"`
}

// AdminCredit adds funds to a user account: purchases reported by the
// payment platform, promotional bonuses, support refunds.
func (s *Server) AdminCredit(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))

	var req adminCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.ledgerSvc.Credit(c.Request.Context(), ledgerdomain.CreditRequest{
		UserID:         userID,
		IdempotencyKey: req.IdempotencyKey,
		Amount:         req.Amount,
		Kind:           ledgerdomain.TransactionKind(strings.ToLower(strings.TrimSpace(req.Kind))),
		Description:    req.Description,
		ReversalOf:     req.ReversalOf,
		Metadata:       masking.MaskJSON(req.Metadata),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

type accessDaysRequest struct {
	Days int64 `json:"days"`
}

// AdminGrantAccessDays tops up the account's prepaid access days, typically
// when the subscription platform reports a renewal.
func (s *Server) AdminGrantAccessDays(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))

	var req accessDaysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	total, err := s.ledgerSvc.GrantAccessDays(c.Request.Context(), userID, req.Days)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":          userID,
		"access_days_bank": total,
	})
}

func (s *Server) AdminListTransactions(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))

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

func (s *Server) AdminListAuditLogs(c *gin.Context) {
	var query auditLogQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	startAt, err := parseTimeParam(query.StartAt)
	if err != nil {
		AbortWithError(c, newValidationError("start_at", "invalid_timestamp", "expected RFC3339"))
		return
	}
	endAt, err := parseTimeParam(query.EndAt)
	if err != nil {
		AbortWithError(c, newValidationError("end_at", "invalid_timestamp", "expected RFC3339"))
		return
	}

	resp, err := s.auditSvc.List(c.Request.Context(), auditdomain.ListAuditLogRequest{
		Pagination: query.Pagination,
		Action:     query.Action,
		TargetType: query.TargetType,
		TargetID:   query.TargetID,
		ActorType:  query.ActorType,
		StartAt:    startAt,
		EndAt:      endAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
