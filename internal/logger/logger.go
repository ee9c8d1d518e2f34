package logger

import (
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CorrelationIDHeader carries the request correlation id in and out of the API.
const CorrelationIDHeader = "X-Correlation-ID"

const correlationIDKey = "correlationID"

// Init builds the process logger from LOG_LEVEL and LOG_FORMAT and installs it
// as the zap global.
func Init() (*zap.Logger, error) {
	var cfg zap.Config
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "console") {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	level := zapcore.InfoLevel
	if raw := strings.TrimSpace(os.Getenv("LOG_LEVEL")); raw != "" {
		if err := level.UnmarshalText([]byte(raw)); err != nil {
			return nil, err
		}
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	logg, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logg)
	return logg, nil
}

// Middleware assigns a correlation id to every request and writes one access
// log line per request.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(CorrelationIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(correlationIDKey, id)
		c.Header(CorrelationIDHeader, id)

		start := time.Now()
		c.Next()

		zap.L().Info("http request",
			zap.String("correlation_id", id),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// CorrelationID returns the id assigned by Middleware, or "" outside it.
func CorrelationID(c *gin.Context) string {
	if v, ok := c.Get(correlationIDKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// With returns l enriched with the request correlation id.
func With(l *zap.Logger, c *gin.Context) *zap.Logger {
	if id := CorrelationID(c); id != "" {
		return l.With(zap.String("correlation_id", id))
	}
	return l
}
