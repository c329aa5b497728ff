package server

import (
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/folio/internal/orgcontext"
)

var (
	errInvalidToken  = errors.New("invalid token")
	errMissingTenant = errors.New("missing tid in claims")
	errMissingUser   = errors.New("missing uid in claims")
)

// Claims are issued by the session service in front of this one.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tid"`
	UserID   string `json:"uid"`
	Role     string `json:"role"`
}

// TokenVerifier validates HS256 bearer tokens.
type TokenVerifier struct {
	secret []byte
	issuer string
}

func NewTokenVerifier(secret, issuer string) *TokenVerifier {
	return &TokenVerifier{
		secret: []byte(secret),
		issuer: strings.TrimSpace(issuer),
	}
}

func (v *TokenVerifier) Verify(raw string) (*Claims, error) {
	if len(v.secret) == 0 {
		return nil, errInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, errInvalidToken
	}
	if strings.TrimSpace(claims.TenantID) == "" {
		return nil, errMissingTenant
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return nil, errMissingUser
	}
	return claims, nil
}

// AuthRequired resolves tenant and actor from the bearer token. The tenant
// is never taken from a header or the request body.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		claims, err := s.tokens.Verify(raw)
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		orgID, err := snowflake.ParseString(strings.TrimSpace(claims.TenantID))
		if err != nil || orgID == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := orgcontext.WithOrgID(c.Request.Context(), orgID)
		ctx = orgcontext.WithActor(ctx, orgcontext.Actor{UserID: claims.UserID, Role: claims.Role})
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextUserIDKey, claims.UserID)
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
