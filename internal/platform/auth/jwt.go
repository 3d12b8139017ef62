package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

// JWTVerifier verifies HS256 tokens signed with a shared secret.
type JWTVerifier struct {
	secret []byte
	issuer string
	parser *jwt.Parser
}

// NewJWTVerifier constructs a verifier. When issuer is non-empty the iss claim must match it.
func NewJWTVerifier(secret, issuer string) (*JWTVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: jwt secret is required")
	}
	return &JWTVerifier{
		secret: []byte(secret),
		issuer: strings.TrimSpace(issuer),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithJSONNumber()),
	}, nil
}

// Verify checks signature, expiry and issuer.
func (v *JWTVerifier) Verify(_ context.Context, token string) (Claims, error) {
	if v == nil {
		return nil, errors.New("auth: jwt verifier not initialised")
	}
	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		var ve *jwt.ValidationError
		if errors.As(err, &ve) && ve.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return nil, fmt.Errorf("%w: unexpected issuer", ErrTokenInvalid)
	}
	return Claims(claims), nil
}
