// Package sign issues and verifies HMAC-signed JWTs and provides a dispatcher stage that
// authenticates the token gateways forward in request metadata.
package sign

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/njavilas2015/onbbu/pkg/core"
)

const logPrefix = "sign:sign"

// DefaultTTL is the token lifetime used when none is configured (360 days).
const DefaultTTL = 360 * 24 * time.Hour

// InvalidTokenMessage is the message of every rejected token.
const InvalidTokenMessage = "Unauthorized, Invalid Token"

// ClaimsKey is the payload field the Authenticate stage stores verified claims under.
const ClaimsKey = "claims"

// Signer signs and verifies tokens with one secret.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// New creates a Signer. A non-positive ttl means DefaultTTL.
func New(secret string, ttl time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, fmt.Errorf("%s - secret key is empty", logPrefix)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// SignToken signs claims with the default lifetime.
func (s *Signer) SignToken(claims map[string]interface{}) (string, error) {
	return s.SignTokenTTL(claims, s.ttl)
}

// SignTokenTTL signs claims, setting iat to now and exp to now+ttl.
func (s *Signer) SignTokenTTL(claims map[string]interface{}, ttl time.Duration) (string, error) {
	now := s.now()
	mc := jwt.MapClaims{}
	for k, v := range claims {
		mc[k] = v
	}
	mc["iat"] = now.Unix()
	mc["exp"] = now.Add(ttl).Unix()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, mc).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("%s - failed to sign token: %w", logPrefix, err)
	}
	return token, nil
}

// Claims verifies token and returns its claims. exp and iat are formatted as RFC 3339.
func (s *Signer) Claims(token string) (map[string]interface{}, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return nil, core.NewNotAuthenticatedError(InvalidTokenMessage)
	}

	parsed, err := jwt.Parse(token, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return nil, core.NewNotAuthenticatedError(InvalidTokenMessage)
	}
	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, core.NewNotAuthenticatedError(InvalidTokenMessage)
	}

	out := make(map[string]interface{}, len(mc))
	for k, v := range mc {
		out[k] = v
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		out["exp"] = exp.UTC().Format(time.RFC3339)
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		out["iat"] = iat.UTC().Format(time.RFC3339)
	}
	return out, nil
}

// VerifyToken answers with the claims on success or {not authenticated, "Unauthorized,
// Invalid Token"} otherwise.
func (s *Signer) VerifyToken(token string) *core.Response {
	claims, err := s.Claims(token)
	if err != nil {
		return core.Fail(core.StatusNotAuthenticated, InvalidTokenMessage)
	}
	return core.Success(claims)
}

// Authenticate is a contract stage. It reads metaData.token from a gateway request payload,
// verifies it and stores the claims under ClaimsKey.
func (s *Signer) Authenticate(_ context.Context, payload interface{}) (interface{}, error) {
	m, ok := payload.(map[string]interface{})
	if !ok {
		return nil, core.NewNotAuthenticatedError(InvalidTokenMessage)
	}
	meta, _ := m["metaData"].(map[string]interface{})
	token, _ := meta["token"].(string)

	claims, err := s.Claims(token)
	if err != nil {
		return nil, err
	}
	m[ClaimsKey] = claims
	return m, nil
}
