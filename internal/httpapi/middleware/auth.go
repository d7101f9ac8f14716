package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"chat-relay/internal/common"
)

const (
	UserIDKey   = "user_id"
	TenantIDKey = "tenant_id"
)

// Claims is what the authentication collaborator signs: the user id in the
// subject plus the active tenant membership. The service trusts these as
// given.
type Claims struct {
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if authHeader == "" {
			common.Fail(c, http.StatusUnauthorized, 40101, "missing authorization header")
			c.Abort()
			return
		}

		const prefix = "Bearer "
		if !strings.HasPrefix(authHeader, prefix) {
			common.Fail(c, http.StatusUnauthorized, 40101, "invalid authorization scheme")
			c.Abort()
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
		claims := &Claims{}
		parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		})
		if err != nil || !parsed.Valid || claims.Subject == "" {
			common.Fail(c, http.StatusUnauthorized, 40102, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(UserIDKey, claims.Subject)
		c.Set(TenantIDKey, claims.TenantID)
		c.Next()
	}
}

// NewToken mints a token the middleware accepts; used by tests and local
// tooling.
func NewToken(secret, userID, tenantID string, ttl time.Duration) (string, error) {
	claims := Claims{
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func Identity(c *gin.Context) (userID, tenantID string, ok bool) {
	uid, uok := c.Get(UserIDKey)
	tid, tok := c.Get(TenantIDKey)
	if !uok || !tok {
		return "", "", false
	}
	userID, uok = uid.(string)
	tenantID, tok = tid.(string)
	return userID, tenantID, uok && tok
}
