package httpapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "restfile"

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
)

// Claims are the claims carried by an API token.
type Claims struct {
	jwt.RegisteredClaims
}

// MintToken signs an HS256 token for subject. A zero ttl produces a token
// without expiry.
func MintToken(secret, subject string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", errors.New("token secret is empty")
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   tokenIssuer,
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken checks signature, algorithm, issuer and expiry.
func VerifyToken(secret, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func bearerToken(ctx *app.RequestContext) (string, error) {
	header := strings.TrimSpace(string(ctx.GetHeader("Authorization")))
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(header[len(prefix):]), nil
}

// authMiddleware rejects requests without a valid bearer token. An empty
// secret disables authentication.
func authMiddleware(secret string) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		if secret == "" {
			ctx.Next(c)
			return
		}
		raw, err := bearerToken(ctx)
		if err != nil {
			writeErrorBody(ctx, consts.StatusUnauthorized, "missing_token", err.Error())
			ctx.Abort()
			return
		}
		if _, err := VerifyToken(secret, raw); err != nil {
			writeErrorBody(ctx, consts.StatusUnauthorized, "invalid_token", err.Error())
			ctx.Abort()
			return
		}
		ctx.Next(c)
	}
}
