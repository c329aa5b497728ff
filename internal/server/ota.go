package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	otadomain "github.com/smallbiznis/folio/internal/ota/domain"
)

func (s *Server) ListOTAProviders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.otaSvc.ListProviders(c.Request.Context())})
}

func (s *Server) ListOTACredentials(c *gin.Context) {
	items, err := s.otaSvc.ListCredentials(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) UpsertOTACredential(c *gin.Context) {
	var req otadomain.UpsertCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	view, err := s.otaSvc.UpsertCredential(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": view})
}

func (s *Server) DeleteOTACredential(c *gin.Context) {
	if err := s.otaSvc.DeleteCredential(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) ListOTAMappings(c *gin.Context) {
	items, err := s.otaSvc.ListMappings(c.Request.Context(), otadomain.ListMappingRequest{
		CredentialID: strings.TrimSpace(c.Query("credentialId")),
		Kind:         strings.TrimSpace(c.Query("kind")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) UpsertOTAMapping(c *gin.Context) {
	var req otadomain.UpsertMappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	mapping, err := s.otaSvc.UpsertMapping(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": mapping})
}

func (s *Server) DeleteOTAMapping(c *gin.Context) {
	if err := s.otaSvc.DeleteMapping(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PushARI resolves provider codes for an availability push. The push itself
// is made by the sync worker.
func (s *Server) PushARI(c *gin.Context) {
	var req otadomain.ResolveARIRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resolved, err := s.otaSvc.ResolveARI(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"mapped": resolved}})
}
