package middleware

import (
	"errors"
	"net/http"

	"opsdesk/pkg/errutil"

	"github.com/gin-gonic/gin"
)

// Error renders the last error pushed onto the gin context as a JSON body,
// mapping domain errors to their HTTP status.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		err := c.Errors.Last()
		if err == nil || c.Writer.Written() {
			return
		}

		var base errutil.BaseError
		if errors.As(err.Err, &base) {
			c.JSON(base.Code.HTTPStatus(), base.JSON())
			return
		}

		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    errutil.StatusInternal,
				"message": err.Error(),
			},
		})
	}
}
