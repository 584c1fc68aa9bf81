package middleware

import (
	"strings"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v4"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/opendatahub/api/transport"
	"github.com/fastygo/opendatahub/domain"
)

const principalKey = "principal"

// Principal is the caller as established by the bearer token.
type Principal struct {
	Authenticated bool
	User          string
	Roles         []string
}

// PrincipalFrom returns the principal attached by JWTAuth or OptionalJWT; anonymous when none.
func PrincipalFrom(ctx *fasthttp.RequestCtx) Principal {
	if p, ok := ctx.UserValue(principalKey).(Principal); ok {
		return p
	}
	return Principal{}
}

// Option tunes token validation.
type Option func(*validation)

type validation struct {
	issuer string
}

// WithIssuer rejects tokens whose iss claim differs; an empty issuer disables the check.
func WithIssuer(issuer string) Option {
	return func(v *validation) { v.issuer = issuer }
}

// JWTAuth rejects requests without a valid token.
func JWTAuth(secret string, logger *zap.Logger, opts ...Option) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return authenticate(secret, true, logger, opts)
}

// OptionalJWT lets anonymous requests through; a token that is present must be valid.
func OptionalJWT(secret string, logger *zap.Logger, opts ...Option) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return authenticate(secret, false, logger, opts)
}

func authenticate(secret string, required bool, logger *zap.Logger, opts []Option) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	var v validation
	for _, opt := range opts {
		opt(&v)
	}
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			tokenString := extractToken(ctx)
			if tokenString == "" {
				if required {
					unauthorized(ctx)
					return
				}
				next(ctx)
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				logger.Warn("invalid jwt token", zap.Error(err))
				unauthorized(ctx)
				return
			}

			p := Principal{Authenticated: true}
			if claims, ok := token.Claims.(jwt.MapClaims); ok {
				if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
					logger.Warn("jwt issuer rejected", zap.Any("iss", claims["iss"]))
					unauthorized(ctx)
					return
				}
				p.User = subject(claims)
				p.Roles = roles(claims)
			}
			if p.User != "" {
				ctx.Request.Header.Set("X-User-ID", p.User)
			}
			ctx.SetUserValue(principalKey, p)
			next(ctx)
		}
	}
}

// unauthorized answers 401 with the error envelope the handlers use.
func unauthorized(ctx *fasthttp.RequestCtx) {
	env := transport.NewError(string(domain.ErrUnauthorized.Code), domain.ErrUnauthorized.Message, nil)
	body, _ := json.Marshal(env)
	ctx.SetStatusCode(fasthttp.StatusUnauthorized)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

func subject(claims jwt.MapClaims) string {
	for _, key := range []string{"preferred_username", "sub", "user_id"} {
		if v, ok := claims[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// roles reads a top level "roles" claim and the realm_access.roles claim of identity providers.
func roles(claims jwt.MapClaims) []string {
	var out []string
	out = appendStrings(out, claims["roles"])
	if realm, ok := claims["realm_access"].(map[string]interface{}); ok {
		out = appendStrings(out, realm["roles"])
	}
	return out
}

func appendStrings(out []string, v interface{}) []string {
	list, ok := v.([]interface{})
	if !ok {
		return out
	}
	for _, item := range list {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func extractToken(ctx *fasthttp.RequestCtx) string {
	header := string(ctx.Request.Header.Peek("Authorization"))
	if header == "" {
		return ""
	}
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return header
}
