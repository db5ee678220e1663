package middleware

import (
	"net/http"

	"example.com/ricechain/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Header names set by the upstream identity provider.
const (
	HeaderUserID   = "X-User-Id"
	HeaderUserRole = "X-User-Role"
)

const actorKey = "actor"

// Identity resolves the acting user from the identity headers and stores it
// on the request context. Requests without a valid id and role are rejected.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := uuid.Parse(c.GetHeader(HeaderUserID))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid user id"})
			return
		}

		role := models.Role(c.GetHeader(HeaderUserRole))
		if !role.Valid() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid user role"})
			return
		}

		c.Set(actorKey, models.Actor{ID: userID, Role: role})
		c.Next()
	}
}

// ActorFrom returns the actor resolved by the Identity middleware.
func ActorFrom(c *gin.Context) models.Actor {
	actor, _ := c.Get(actorKey)
	a, _ := actor.(models.Actor)
	return a
}
