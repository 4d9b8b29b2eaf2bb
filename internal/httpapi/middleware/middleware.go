package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tanmaysingewar/betterindex/internal/auth"
	"github.com/tanmaysingewar/betterindex/internal/logger"
	"github.com/tanmaysingewar/betterindex/internal/quota"
)

const (
	UserIDKey   = "user_id"
	IdentityKey = "identity"

	requestIDHeader = "X-Request-ID"
	deviceIDHeader  = "X-Device-ID"
)

func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDHeader, rid)
		c.Header(requestIDHeader, rid)
		c.Next()
	}
}

func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("panic recovered path=%s err=%v", c.Request.URL.Path, r)
				if !c.Writer.Written() {
					c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
						"code":    50000,
						"message": "internal error",
						"data":    nil,
					})
				} else {
					c.Abort()
				}
			}
		}()
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// AuthRequired rejects requests without a valid bearer token.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 40101, "message": "unauthorized", "data": nil})
			return
		}
		claims, err := auth.VerifyJWT(token, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 40102, "message": "invalid token", "data": nil})
			return
		}
		c.Set(UserIDKey, claims.UserID)
		c.Set(IdentityKey, quota.Identity{
			ID:            fmt.Sprintf("user:%d", claims.UserID),
			Authenticated: true,
		})
		c.Next()
	}
}

// Identity resolves the caller to either an authenticated identity (valid
// bearer token) or an anonymous per-device identity (X-Device-ID). Requests
// carrying neither cannot be attributed a quota window and are rejected.
func Identity(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := bearerToken(c); token != "" {
			claims, err := auth.VerifyJWT(token, secret)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 40102, "message": "invalid token", "data": nil})
				return
			}
			c.Set(UserIDKey, claims.UserID)
			c.Set(IdentityKey, quota.Identity{
				ID:            fmt.Sprintf("user:%d", claims.UserID),
				Authenticated: true,
			})
			c.Next()
			return
		}

		device := strings.TrimSpace(c.GetHeader(deviceIDHeader))
		if device == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 40103, "message": "sign in or supply a device id", "data": nil})
			return
		}
		c.Set(IdentityKey, quota.Identity{ID: "anon:" + device})
		c.Next()
	}
}

// CallerIdentity fetches the identity placed by Identity or AuthRequired.
func CallerIdentity(c *gin.Context) (quota.Identity, bool) {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return quota.Identity{}, false
	}
	id, ok := v.(quota.Identity)
	return id, ok
}
