package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/angelmondragon/packfinderz-cart/pkg/config"
)

var jwtSigningMethod = jwt.SigningMethodHS256

// ErrTokenRequired is returned for blank tokens.
var ErrTokenRequired = errors.New("token is required")

// ParseBearer reads the registered claims of a bearer token at now.
//
// With a configured secret the signature, issuer and expiry are verified.
// Without one the token is decoded unverified and only its expiry is
// checked; tokens that are not JWTs are treated as opaque and never expire.
func ParseBearer(cfg config.JWTConfig, token string, now time.Time) (*jwt.RegisteredClaims, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return nil, ErrTokenRequired
	}

	claims := &jwt.RegisteredClaims{}
	if cfg.VerifySignature() {
		opts := []jwt.ParserOption{
			jwt.WithValidMethods([]string{jwtSigningMethod.Alg()}),
			jwt.WithTimeFunc(func() time.Time { return now }),
		}
		if cfg.Issuer != "" {
			opts = append(opts, jwt.WithIssuer(cfg.Issuer))
		}
		_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
			if t.Method != jwtSigningMethod {
				return nil, fmt.Errorf("unexpected signing method %s", t.Header["alg"])
			}
			return []byte(cfg.Secret), nil
		}, opts...)
		if err != nil {
			return nil, err
		}
		return claims, nil
	}

	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return &jwt.RegisteredClaims{}, nil
	}
	if claims.ExpiresAt != nil && !now.Before(claims.ExpiresAt.Time) {
		return nil, jwt.ErrTokenExpired
	}
	return claims, nil
}
