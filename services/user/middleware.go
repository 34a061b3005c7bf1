package user

import (
	"net/http"

	"opsdesk/pkg/errutil"

	"github.com/gin-gonic/gin"
)

// Authentication itself lives in an external collaborator; this service
// trusts the identity header it forwards.
const identityHeader = "X-User-ID"

// Actor resolves the acting user from the identity header and stores it on
// the request context for handlers downstream.
func Actor(repo Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(identityHeader)
		if id == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errutil.Unauthorized("missing identity header").(errutil.BaseError).JSON())
			return
		}

		u, err := repo.GetByID(c.Request.Context(), id)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, errutil.Internal("failed to resolve acting user", errutil.WithErr(err)).(errutil.BaseError).JSON())
			return
		}
		if u == nil || !u.IsActive {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errutil.Unauthorized("unknown or inactive user").(errutil.BaseError).JSON())
			return
		}

		c.Set(contextKey, *u)
		c.Next()
	}
}

const contextKey = "opsdesk.actor"

// FromContext returns the acting user placed on the gin context by Actor.
func FromContext(c *gin.Context) (User, bool) {
	v, ok := c.Get(contextKey)
	if !ok {
		return User{}, false
	}
	u, ok := v.(User)
	return u, ok
}
