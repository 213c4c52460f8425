package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/mestredigital/creditos/internal/audit/domain"
	"github.com/mestredigital/creditos/internal/auditcontext"
	"github.com/mestredigital/creditos/internal/usercontext"
)

const (
	headerUserID = "X-User-ID"
	headerAPIKey = "X-API-Key"
)

// UserRequired resolves the caller identity set by the platform gateway.
func (s *Server) UserRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(headerUserID))
		if userID == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := usercontext.WithUserID(c.Request.Context(), userID)
		ctx = auditcontext.WithActor(ctx, string(auditdomain.ActorTypeUser), userID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// AdminRequired guards back-office routes with the configured API key.
// The key is compared as a SHA-256 digest in constant time.
func (s *Server) AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		configured := strings.TrimSpace(s.cfg.AdminAPIKeyHash)
		if configured == "" {
			AbortWithError(c, ErrNotFound)
			return
		}

		key := strings.TrimSpace(c.GetHeader(headerAPIKey))
		if key == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		digest := sha256.Sum256([]byte(key))
		hash := hex.EncodeToString(digest[:])
		if subtle.ConstantTimeCompare([]byte(hash), []byte(strings.ToLower(configured))) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := auditcontext.WithActor(c.Request.Context(), string(auditdomain.ActorTypeAdmin), "backoffice")
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// ConsumeRateLimit throttles debit traffic per user. Redis being down does
// not take the ledger down with it.
func (s *Server) ConsumeRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.consumeLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		userID, _ := usercontext.UserIDFromContext(ctx)
		result, err := s.consumeLimiter.AllowUser(ctx, userID)
		if err != nil {
			s.obsMetrics.RecordRateLimitDenied(ctx, c.FullPath(), "limiter_error")
			c.Next()
			return
		}
		if !result.Allowed {
			s.obsMetrics.RecordRateLimitDenied(ctx, c.FullPath(), "user_rate")
			if result.RetryAfter > 0 {
				c.Header("Retry-After", formatRetryAfter(result.RetryAfter))
			}
			AbortWithError(c, ErrTooManyRequests)
			return
		}

		s.obsMetrics.RecordRateLimitAllowed(ctx, c.FullPath())
		c.Next()
	}
}
