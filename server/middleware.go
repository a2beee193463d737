package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"fluxserve/fluxruntime"
	"fluxserve/logging"
	"fluxserve/shutdown"
)

const (
	headerRequestID = "X-Request-ID"
	headerAPIKey    = "X-API-Key"
	ctxRequestID    = "request_id"
)

// requestID accepts a client-supplied UUID or assigns a new one, echoes it
// in the response and attaches it to the request context for the Service.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(headerRequestID, id)
		c.Request = c.Request.WithContext(fluxruntime.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// requestLogger logs every finished request except skipPaths. 5xx is
// logged at error, 4xx at warn.
func requestLogger(logger *zap.Logger, skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if skip[c.Request.URL.Path] {
			return
		}

		fields := logging.RequestFields(c.GetString(ctxRequestID), c.Request.Method,
			c.Request.URL.Path, c.Writer.Status(), time.Since(start))
		fields = append(fields, zap.String("client_ip", c.ClientIP()))
		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			logger.Error("http request", fields...)
		case status >= http.StatusBadRequest:
			logger.Warn("http request", fields...)
		default:
			logger.Info("http request", fields...)
		}
	}
}

// trackRequests registers each request with the shutdown tracker and turns
// requests away once shutdown has begun.
func trackRequests(tracker *shutdown.OperationTracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tracker == nil {
			c.Next()
			return
		}
		if !tracker.Start() {
			writeError(c, http.StatusServiceUnavailable, kindUnavailable, "server is shutting down", 0)
			c.Abort()
			return
		}
		defer tracker.Done()
		c.Next()
	}
}

// apiKeyAuth accepts "Authorization: Bearer <key>" or "X-API-Key: <key>".
func apiKeyAuth(v *apiKeyVerifier, limiter *RateLimiter, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ok, wait := limiter.Allow(ip); !ok {
			c.Header("Retry-After", strconv.Itoa(int(wait.Round(time.Second).Seconds())))
			writeError(c, http.StatusTooManyRequests, kindUnauthorized, "too many failed attempts", 0)
			c.Abort()
			return
		}

		if err := v.Verify(apiKeyFrom(c)); err != nil {
			limiter.RecordFailure(ip)
			logger.Warn("api key rejected",
				zap.String("request_id", c.GetString(ctxRequestID)),
				zap.String("client_ip", ip),
			)
			writeError(c, http.StatusUnauthorized, kindUnauthorized, "missing or invalid api key", 0)
			c.Abort()
			return
		}
		limiter.Reset(ip)
		c.Next()
	}
}

func apiKeyFrom(c *gin.Context) string {
	if key := c.GetHeader(headerAPIKey); key != "" {
		return key
	}
	auth := c.GetHeader("Authorization")
	if scheme, key, ok := strings.Cut(auth, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(key)
	}
	return ""
}
