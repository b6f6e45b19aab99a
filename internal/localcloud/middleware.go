package localcloud

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"
)

const bearerPrefix = "Bearer "

var (
	ErrMissingAuthHeader = errors.New("missing authorization header")
	ErrInvalidAuthFormat = errors.New("invalid authorization header format")
	ErrEmptyToken        = errors.New("empty token")
)

func setCurrentUser(c *gin.Context, user *User) {
	c.Set("user", user)
}

func currentUser(c *gin.Context) (*User, bool) {
	value, exists := c.Get("user")
	if !exists {
		return nil, false
	}

	user, ok := value.(*User)
	return user, ok
}

func extractBearerToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", ErrMissingAuthHeader
	}

	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return "", ErrInvalidAuthFormat
	}

	token := strings.TrimPrefix(authHeader, bearerPrefix)
	if token == "" {
		return "", ErrEmptyToken
	}

	return token, nil
}

// authMiddleware validates the access token and loads the account behind it
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := extractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			s.logger.Warn().Err(err).Msg("Rejected unauthenticated request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing or malformed authorization header",
				"code":  "MISSING_AUTH",
			})
			return
		}

		claims, err := parseAccessToken(s.secret, token)
		if err != nil {
			// Expired tokens are routine; the client refreshes and retries
			if errors.Is(err, jwt.ErrTokenExpired) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "access token expired",
					"code":  "TOKEN_EXPIRED",
				})
				return
			}
			s.logger.Warn().Err(err).Msg("Failed to validate access token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid access token",
				"code":  "INVALID_TOKEN",
			})
			return
		}

		var user User
		if err := s.db.Where("id = ?", claims.Subject).First(&user).Error; err != nil {
			s.logger.Warn().Err(err).Str("user_id", claims.Subject).Msg("Token for unknown user")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "no account found with this email",
				"code":  "USER_NOT_FOUND",
			})
			return
		}

		setCurrentUser(c, &user)

		c.Next()
	}
}
