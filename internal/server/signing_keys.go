package server

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type signingKeyResponse struct {
	KeyID     string    `json:"keyId"`
	Algorithm string    `json:"algorithm"`
	PublicKey string    `json:"publicKey"`
	Current   bool      `json:"current"`
	CreatedAt time.Time `json:"createdAt"`
}

// ListSigningKeys exposes the public half of every registered key so
// exported invoices can be checked offline.
func (s *Server) ListSigningKeys(c *gin.Context) {
	keys, err := s.signingSvc.ListKeys(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	current := s.signingSvc.CurrentKeyID()
	items := make([]signingKeyResponse, 0, len(keys))
	for _, key := range keys {
		items = append(items, signingKeyResponse{
			KeyID:     key.KeyID,
			Algorithm: key.Algorithm,
			PublicKey: base64.StdEncoding.EncodeToString(key.PublicKey),
			Current:   key.KeyID == current,
			CreatedAt: key.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}
