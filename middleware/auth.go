package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Zoro-chi/FoodOrderingApp/backend"
	"github.com/Zoro-chi/FoodOrderingApp/models"
)

// Context keys set by Auth.
const (
	UserIDKey      = "userId"
	RoleKey        = "role"
	AccessTokenKey = "accessToken"
)

// ProfileLookup resolves the role stored on the user's profile row.
type ProfileLookup interface {
	GetProfile(ctx context.Context, id string) (*models.Profile, error)
}

// Auth verifies the backend's HS256 access tokens.
type Auth struct {
	secret   []byte
	profiles ProfileLookup
	log      logrus.FieldLogger
}

func NewAuth(secret string, profiles ProfileLookup, log logrus.FieldLogger) *Auth {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Auth{
		secret:   []byte(secret),
		profiles: profiles,
		log:      log.WithField("component", "auth"),
	}
}

// Handler requires a bearer token. Websocket clients may pass it as the
// access_token query parameter instead.
func (a *Auth) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(a.secret) == 0 {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Authentication is not configured"})
			return
		}

		tokenString := c.GetHeader("Authorization")
		if len(tokenString) > 7 && strings.EqualFold(tokenString[:7], "Bearer ") {
			tokenString = tokenString[7:]
		}
		if tokenString == "" {
			tokenString = c.Query("access_token")
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token required"})
			return
		}

		claims, err := a.parse(tokenString)
		if err != nil {
			a.log.WithError(err).Debug("token rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		userID, _ := claims["sub"].(string)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token has no subject"})
			return
		}

		c.Set(UserIDKey, userID)
		c.Set(RoleKey, string(a.role(c.Request.Context(), userID, claims)))
		c.Set(AccessTokenKey, tokenString)
		c.Next()
	}
}

func (a *Auth) parse(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// role prefers the profile group and falls back to the role claim.
func (a *Auth) role(ctx context.Context, userID string, claims jwt.MapClaims) models.Group {
	if a.profiles != nil {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		p, err := a.profiles.GetProfile(ctx, userID)
		switch {
		case err == nil:
			if p.IsAdmin() {
				return models.GroupAdmin
			}
			return models.GroupUser
		case !errors.Is(err, backend.ErrNotFound):
			a.log.WithError(err).WithField("user_id", userID).Warn("profile lookup failed")
		}
	}

	if role, _ := claims["role"].(string); strings.EqualFold(role, string(models.GroupAdmin)) {
		return models.GroupAdmin
	}
	return models.GroupUser
}

func AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAdmin(c) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Access denied: admin only"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// UserID is the authenticated caller, or "" before Auth ran.
func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

func IsAdmin(c *gin.Context) bool {
	return c.GetString(RoleKey) == string(models.GroupAdmin)
}

func AccessToken(c *gin.Context) string {
	return c.GetString(AccessTokenKey)
}
