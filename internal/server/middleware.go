package server

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	contextAccountIDKey = "account_id"
	contextSubjectKey   = "subject"
)

func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	log = log.Named("http.access")
	return func(c *gin.Context) {
		start := time.Now()
		requestID := ensureRequestID(c)
		c.Next()

		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("error", c.Errors.Last().Error()))
		}

		switch {
		case c.Writer.Status() >= 500:
			log.Error("request", fields...)
		case c.Writer.Status() >= 400:
			log.Warn("request", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}

// ensureRequestID honors a caller-supplied correlation id and mints one
// otherwise. The id is echoed back so clients can quote it in reports.
func ensureRequestID(c *gin.Context) string {
	requestID := strings.TrimSpace(c.GetHeader("X-Request-Id"))
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Writer.Header().Set("X-Request-Id", requestID)
	return requestID
}

// AuthRequired verifies the bearer token and upserts the caller's
// account, so every authenticated handler sees a local account id.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		identity, err := s.verifier.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			AbortWithError(c, err)
			return
		}

		account, err := s.accountSvc.Ensure(c.Request.Context(), identity.Subject, identity.Email)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(contextAccountIDKey, account.ID)
		c.Set(contextSubjectKey, identity.Subject)
		c.Next()
	}
}

func accountID(c *gin.Context) (snowflake.ID, bool) {
	value, ok := c.Get(contextAccountIDKey)
	if !ok {
		return 0, false
	}
	id, ok := value.(snowflake.ID)
	return id, ok && id != 0
}
