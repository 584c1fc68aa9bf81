package middleware

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

const secret = "test-secret"

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func serve(mw func(fasthttp.RequestHandler) fasthttp.RequestHandler, auth string) (*fasthttp.RequestCtx, *Principal) {
	var seen *Principal
	h := mw(func(ctx *fasthttp.RequestCtx) {
		p := PrincipalFrom(ctx)
		seen = &p
	})
	ctx := &fasthttp.RequestCtx{}
	if auth != "" {
		ctx.Request.Header.Set("Authorization", auth)
	}
	h(ctx)
	return ctx, seen
}

func TestJWTAuth(t *testing.T) {
	valid := signed(t, jwt.MapClaims{
		"sub":          "editor@example.org",
		"exp":          time.Now().Add(time.Hour).Unix(),
		"roles":        []string{"Event_Create"},
		"realm_access": map[string]interface{}{"roles": []string{"Event_Read_eq(Source,'lts')"}},
	})
	expired := signed(t, jwt.MapClaims{"sub": "x", "exp": time.Now().Add(-time.Hour).Unix()})

	tests := []struct {
		name     string
		mw       func(fasthttp.RequestHandler) fasthttp.RequestHandler
		auth     string
		status   int
		reached  bool
		authUser string
	}{
		{"required without token", JWTAuth(secret, nil), "", fasthttp.StatusUnauthorized, false, ""},
		{"required with token", JWTAuth(secret, nil), "Bearer " + valid, fasthttp.StatusOK, true, "editor@example.org"},
		{"expired", JWTAuth(secret, nil), "Bearer " + expired, fasthttp.StatusUnauthorized, false, ""},
		{"optional anonymous", OptionalJWT(secret, nil), "", fasthttp.StatusOK, true, ""},
		{"optional rejects garbage", OptionalJWT(secret, nil), "Bearer nope", fasthttp.StatusUnauthorized, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, p := serve(tt.mw, tt.auth)
			assert.Equal(t, tt.status, ctx.Response.StatusCode())
			if !tt.reached {
				assert.Nil(t, p)
				return
			}
			require.NotNil(t, p)
			assert.Equal(t, tt.authUser, p.User)
			assert.Equal(t, tt.authUser != "", p.Authenticated)
		})
	}

	_, p := serve(JWTAuth(secret, nil), "Bearer "+valid)
	require.NotNil(t, p)
	assert.Equal(t, []string{"Event_Create", "Event_Read_eq(Source,'lts')"}, p.Roles)
}

func TestJWTIssuer(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()
	trusted := signed(t, jwt.MapClaims{"sub": "a", "iss": "https://auth.example.org/realms/noi", "exp": exp})
	foreign := signed(t, jwt.MapClaims{"sub": "a", "iss": "https://evil.example.org", "exp": exp})
	mw := JWTAuth(secret, nil, WithIssuer("https://auth.example.org/realms/noi"))

	ctx, p := serve(mw, "Bearer "+trusted)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	require.NotNil(t, p)

	ctx, p = serve(mw, "Bearer "+foreign)
	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())
	assert.Nil(t, p)

	ctx, _ = serve(JWTAuth(secret, nil, WithIssuer("")), "Bearer "+foreign)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
}

func TestUnauthorizedBody(t *testing.T) {
	ctx, _ := serve(JWTAuth(secret, nil), "")
	require.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())
	assert.Equal(t, "application/json", string(ctx.Response.Header.ContentType()))
	assert.JSONEq(t, `{"status":"error","code":"UNAUTHORIZED","error":"unauthorized"}`, string(ctx.Response.Body()))
}
