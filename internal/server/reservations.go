package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	reservationdomain "github.com/mestredigital/creditos/internal/reservation/domain"
	"github.com/mestredigital/creditos/internal/usercontext"
)

type reserveRequest struct {
	IdempotencyKey string         `json:"idempotency_key"`
	Amount         int64          `json:"amount"`
	ToolID         string         `json:"tool_id"`
	Description    string         `json:"description"`
	Metadata       map[string]any `json:"metadata"`
}

func (s *Server) CreateReservation(c *gin.Context) {
	userID, ok := usercontext.UserIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req reserveRequest
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

	result, err := s.reservationSvc.Reserve(c.Request.Context(), reservationdomain.ReserveRequest{
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

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

func (s *Server) CommitReservation(c *gin.Context) {
	userID, ok := usercontext.UserIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	id, err := parseReservationID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.reservationSvc.Commit(c.Request.Context(), userID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) ReleaseReservation(c *gin.Context) {
	userID, ok := usercontext.UserIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	id, err := parseReservationID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	released, err := s.reservationSvc.Release(c.Request.Context(), userID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"reservation": released})
}

func (s *Server) ListReservations(c *gin.Context) {
	ctx := c.Request.Context()
	userID, ok := usercontext.UserIDFromContext(ctx)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	holds, err := s.reservationSvc.ListActive(ctx, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	balance, err := s.ledgerSvc.GetBalance(ctx, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reservations": holds,
		"balance":      balance,
	})
}

func parseReservationID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, reservationdomain.ErrReservationNotFound
	}
	return id, nil
}
