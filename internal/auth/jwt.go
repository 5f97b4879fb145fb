package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

type ctxKey string

const (
	CtxUserID ctxKey = "uid"
	CtxEmail  ctxKey = "email"
	CtxRole   ctxKey = "role"
)

// TokenTTL is the bearer token lifetime minted on Login.
const TokenTTL = 2 * time.Hour

// JWTCfg holds JWT signing configuration. Only HS256 with a shared secret is
// supported; there is no upstream identity provider in this system.
type JWTCfg struct {
	HS256Secret string
}

// Claims is the payload minted by Login and consumed by Middleware.
type Claims struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Mint signs a bearer token carrying {uid, email, role} with a 2-hour expiry.
func Mint(cfg JWTCfg, uid, email, role string) (string, error) {
	if cfg.HS256Secret == "" {
		return "", errors.New("HS256 secret not configured")
	}
	now := time.Now()
	claims := Claims{
		UID:   uid,
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString([]byte(cfg.HS256Secret))
}

// ValidateToken validates a bearer token and returns its claims.
func ValidateToken(tokenString string, cfg JWTCfg) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.New("token is empty")
	}
	if cfg.HS256Secret == "" {
		return nil, errors.New("HS256 secret not configured")
	}

	claims := &Claims{}
	t, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(cfg.HS256Secret), nil
	})
	if err != nil || !t.Valid {
		return nil, fmt.Errorf("jwt validation failed: %w", err)
	}
	if claims.UID == "" {
		return nil, errors.New("missing uid claim")
	}
	return claims, nil
}

// Middleware requires a valid bearer token and attaches its claims to the
// request context.
func Middleware(cfg JWTCfg) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := ""
			if h := r.Header.Get("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
				tok = h[7:]
			}

			claims, err := ValidateToken(tok, cfg)
			if err != nil {
				log.Warn().Err(err).Msg("jwt validation failed")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), CtxUserID, claims.UID)
			ctx = context.WithValue(ctx, CtxEmail, claims.Email)
			ctx = context.WithValue(ctx, CtxRole, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserID extracts the authenticated uid from request context.
func UserID(ctx context.Context) string {
	if v := ctx.Value(CtxUserID); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Email extracts the authenticated email from request context.
func Email(ctx context.Context) string {
	if v := ctx.Value(CtxEmail); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Role extracts the authenticated role from request context.
func Role(ctx context.Context) string {
	if v := ctx.Value(CtxRole); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
