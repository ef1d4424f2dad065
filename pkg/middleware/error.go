package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"affiliate-finance/pkg/errutil"
)

// Error maps errors attached to the gin context onto HTTP responses.
// Handlers push domain errors with c.Error and return; anything that is not
// a BaseError becomes a generic 500.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		var be errutil.BaseError
		if errors.As(last.Err, &be) {
			c.JSON(be.Code.HTTPStatus(), be.JSON())
			return
		}

		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{"code": errutil.StatusInternal, "message": "internal error"},
		})
	}
}
