package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"alcyxob/coaching-engine/internal/domain"
	"alcyxob/coaching-engine/internal/service"
)

// Constants for context keys
const (
	ContextPrincipalKey = "principal"
	ContextRequestIDKey = "requestID"
)

const requestIDMaxLen = 64

// RequestID reuses the caller's X-Request-ID or generates one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader("X-Request-ID")
		if rid == "" || len(rid) > requestIDMaxLen {
			rid = uuid.NewString()
		}
		c.Set(ContextRequestIDKey, rid)
		c.Header("X-Request-ID", rid)
		c.Next()
	}
}

// RequestLogger logs one line per request. Errors attached with c.Error are
// included, so 500s carry their cause without leaking it to the client.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("requestId", c.GetString(ContextRequestIDKey)),
			zap.Duration("latency", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.ByType(gin.ErrorTypePrivate).String()))
		}

		switch {
		case status >= 500:
			log.Error("request failed", fields...)
		case status >= 400:
			log.Warn("request rejected", fields...)
		default:
			log.Info("request handled", fields...)
		}
	}
}

// TokenParser turns a bearer token into the caller's principal.
type TokenParser interface {
	ParseToken(token string) (domain.Principal, error)
}

// AuthMiddleware creates a Gin middleware for JWT authentication.
func AuthMiddleware(tokens TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortWithError(c, http.StatusUnauthorized, "Authorization header is missing")
			return
		}

		// Expecting "Bearer <token>"
		parts := strings.Fields(authHeader)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			abortWithError(c, http.StatusUnauthorized, "Authorization header format must be Bearer {token}")
			return
		}

		principal, err := tokens.ParseToken(parts[1])
		if err != nil {
			abortWithError(c, http.StatusUnauthorized, err.Error())
			return
		}

		c.Set(ContextPrincipalKey, principal)
		c.Next()
	}
}

// Helper to return JSON error response and abort request
func abortWithError(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, gin.H{"error": message})
}

// RoleMiddleware creates middleware to check if user has the required role(s).
// Must run AFTER AuthMiddleware.
func RoleMiddleware(allowedRoles ...domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := principalFromContext(c)
		if !ok {
			abortWithError(c, http.StatusInternalServerError, "User principal not found in context")
			return
		}
		for _, allowed := range allowedRoles {
			if principal.Role == allowed {
				c.Next()
				return
			}
		}
		abortWithError(c, http.StatusForbidden, fmt.Sprintf("Access denied: Role '%s' does not have permission", principal.Role))
	}
}

func principalFromContext(c *gin.Context) (domain.Principal, bool) {
	raw, exists := c.Get(ContextPrincipalKey)
	if !exists {
		return domain.Principal{}, false
	}
	p, ok := raw.(domain.Principal)
	return p, ok
}

// mustPrincipal aborts with 401 when the principal is missing.
func mustPrincipal(c *gin.Context) (domain.Principal, bool) {
	p, ok := principalFromContext(c)
	if !ok {
		abortWithError(c, http.StatusUnauthorized, "Unable to identify user from token.")
	}
	return p, ok
}

var (
	notFoundErrors = []error{
		service.ErrEnrollmentNotFound,
		service.ErrTemplateNotFound,
		service.ErrExecutionNotFound,
		service.ErrAvailabilityNotFound,
		service.ErrBookingNotFound,
		service.ErrCreditNotFound,
		service.ErrSnapshotNotFound,
		service.ErrItemNotFound,
		service.ErrExportUnavailable,
	}
	forbiddenErrors = []error{
		service.ErrEnrollmentNotOwned,
		service.ErrExecutionNotOwned,
		service.ErrBookingNotOwned,
		service.ErrCreditNotOwned,
		service.ErrTemplateNotOwned,
		service.ErrItemAccessDenied,
	}
	conflictErrors = []error{
		service.ErrUserAlreadyExists,
		service.ErrAlreadyEnrolled,
		service.ErrEnrollmentClosed,
		service.ErrEnrollmentNotArchivable,
		service.ErrBookingAlreadyCancelled,
		service.ErrCreditTypeMismatch,
	}
	unauthorizedErrors = []error{
		service.ErrAuthenticationFailed,
		service.ErrInvalidToken,
	}
)

func isAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// respondError maps service and domain errors onto HTTP status codes.
// Anything unrecognized is a 500 with a generic message.
func respondError(c *gin.Context, err error) {
	switch {
	case domain.IsValidation(err):
		abortWithError(c, http.StatusBadRequest, err.Error())
	case domain.IsConflict(err), isAny(err, conflictErrors):
		abortWithError(c, http.StatusConflict, err.Error())
	case isAny(err, notFoundErrors):
		abortWithError(c, http.StatusNotFound, err.Error())
	case isAny(err, forbiddenErrors):
		abortWithError(c, http.StatusForbidden, err.Error())
	case isAny(err, unauthorizedErrors):
		abortWithError(c, http.StatusUnauthorized, err.Error())
	default:
		_ = c.Error(err)
		abortWithError(c, http.StatusInternalServerError, "An unexpected error occurred")
	}
}
