package server

import (
	"encoding/base64"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	invoicedomain "github.com/smallbiznis/folio/internal/invoice/domain"
	"github.com/smallbiznis/folio/internal/verification"
)

const rateLimitReasonClientRate = "client-rate"

// VerifyRateLimit throttles the unauthenticated verification routes per
// client address.
func (s *Server) VerifyRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.verifyLimiter == nil || !s.verifyLimiter.Enabled() {
			c.Next()
			return
		}

		decision := s.verifyLimiter.Allow(c.Request.Context(), c.ClientIP())
		if !decision.Allowed {
			s.obsMetrics.RecordRateLimitDenied(c.Request.Context(), c.FullPath(), rateLimitReasonClientRate)
			if decision.RetryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(math.Ceil(decision.RetryAfter.Seconds()))))
			}
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}

func (s *Server) VerifyInvoice(c *gin.Context) {
	result, err := s.verifySvc.VerifyByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, invoicedomain.ErrInvoiceNotFound) {
			c.JSON(http.StatusNotFound, verification.Result{})
			return
		}
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type verifyRawRequest struct {
	Payload string `json:"payload" form:"payload"`
	SigB64  string `json:"sigB64" form:"sigB64"`
}

// VerifyRaw checks a caller supplied payload and base64 signature against
// the current key. Both GET query and POST JSON forms are accepted.
func (s *Server) VerifyRaw(c *gin.Context) {
	var req verifyRawRequest
	var err error
	if c.Request.Method == http.MethodPost {
		err = c.ShouldBindJSON(&req)
	} else {
		err = c.ShouldBindQuery(&req)
	}
	if err != nil || req.Payload == "" || strings.TrimSpace(req.SigB64) == "" {
		c.JSON(http.StatusBadRequest, verification.Result{})
		return
	}

	signature, err := decodeSignature(req.SigB64)
	if err != nil {
		// undecodable signatures are simply invalid
		signature = nil
	}

	c.JSON(http.StatusOK, s.verifySvc.VerifyRaw(c.Request.Context(), []byte(req.Payload), signature))
}

// decodeSignature accepts standard and URL-safe base64, padded or not.
func decodeSignature(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if decoded, err := enc.DecodeString(raw); err == nil {
			return decoded, nil
		}
	}
	return nil, errors.New("invalid_signature_encoding")
}
