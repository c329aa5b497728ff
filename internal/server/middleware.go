package server

import (
	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/folio/internal/observability/context"
)

const contextUserIDKey = "user_id"

// ClientInfo records caller address and agent for audit entries.
func ClientInfo() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := obscontext.WithClient(c.Request.Context(), obscontext.Client{
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
