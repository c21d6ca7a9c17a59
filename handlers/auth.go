package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"mollie-ideal/logging"
)

const (
	// CustomerKey is the gin context key holding the authenticated customer id
	CustomerKey = "customer_id"
	// SessionCookie carries the customer token on browser redirects back from the bank
	SessionCookie = "customer_token"
)

// CustomerSession resolves the customer from a Bearer token or the session
// cookie. Requests without a valid token continue anonymously.
func CustomerSession(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := bearerToken(c.GetHeader("Authorization"))
		if tokenStr == "" {
			tokenStr, _ = c.Cookie(SessionCookie)
		}
		if tokenStr == "" || secret == "" {
			c.Next()
			return
		}

		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			logging.FromContext(c.Request.Context()).Warn("Ignoring invalid customer token", zap.Error(err))
			c.Next()
			return
		}

		if sub, err := token.Claims.GetSubject(); err == nil && sub != "" {
			c.Set(CustomerKey, sub)
		}
		c.Next()
	}
}

func bearerToken(header string) string {
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// SignCustomerToken issues the HS256 token CustomerSession accepts
func SignCustomerToken(secret, customerID string) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": customerID}).SignedString([]byte(secret))
}
