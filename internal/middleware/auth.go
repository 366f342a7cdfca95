package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"chirpchat/internal/auth"
	"chirpchat/internal/models"
)

const (
	UserIDKey    = "userID"
	UserEmailKey = "userEmail"
)

// SessionVerifier resolves a bearer token to a session.
type SessionVerifier interface {
	Verify(token string) (auth.Session, error)
}

// UserSyncer stores the profile carried by a session.
type UserSyncer interface {
	UpsertUser(ctx context.Context, user models.User) error
}

// Auth validates the bearer token, syncs the session's profile into the user
// store and exposes the user id and email on the gin context.
func Auth(verifier SessionVerifier, users UserSyncer, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		token := auth.BearerToken(header)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		session, err := verifier.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		if err := users.UpsertUser(c.Request.Context(), models.User{
			ID:    session.UserID,
			Name:  session.Name,
			Email: session.Email,
			Image: session.Image,
		}); err != nil {
			logger.Error().Err(err).Str("user_id", session.UserID).Msg("user sync failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to load session user"})
			return
		}

		c.Set(UserIDKey, session.UserID)
		c.Set(UserEmailKey, session.Email)
		c.Next()
	}
}

// UserID returns the authenticated user id, or "" outside Auth.
func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}
