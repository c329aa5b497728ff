package server

import (
	"github.com/gin-gonic/gin"
)

// authorizeOrgAction gates a route on the casbin policy for object/action in
// the caller's tenant.
func (s *Server) authorizeOrgAction(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.authzSvc.Authorize(c.Request.Context(), object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}
