package middleware

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/rail-ticketing/internal/config"
	"github.com/iliyamo/rail-ticketing/internal/logging"
	"github.com/iliyamo/rail-ticketing/internal/utils"
)

const secret = "test-secret"

func bearer(t *testing.T, userID uint64, role string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, userID, role, time.Hour)
	require.NoError(t, err)
	return "Bearer " + tok.Token
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func whoami(c echo.Context) error {
	id, _ := UserID(c)
	return c.JSON(http.StatusOK, echo.Map{"id": id, "role": Role(c)})
}

func TestJWTAuth(t *testing.T) {
	e := echo.New()
	e.GET("/me", whoami, JWTAuth(secret))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", bearer(t, 7, RolePassenger))
	rec := serve(e, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":7,"role":"PASSENGER"}`, rec.Body.String())

	t.Run("missing header", func(t *testing.T) {
		rec := serve(e, httptest.NewRequest(http.MethodGet, "/me", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		tok, err := utils.NewAccessToken("other", 7, RolePassenger, time.Hour)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+tok.Token)
		assert.Equal(t, http.StatusUnauthorized, serve(e, req).Code)
	})

	t.Run("expired", func(t *testing.T) {
		tok, err := utils.NewAccessToken(secret, 7, RolePassenger, -time.Minute)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+tok.Token)
		assert.Equal(t, http.StatusUnauthorized, serve(e, req).Code)
	})
}

func TestSubjectID(t *testing.T) {
	tests := []struct {
		in   interface{}
		want uint64
		ok   bool
	}{
		{"12", 12, true},
		{float64(12), 12, true},
		{"0", 0, false},
		{"abc", 0, false},
		{float64(1.5), 0, false},
		{float64(-3), 0, false},
		{nil, 0, false},
	}
	for _, tt := range tests {
		got, ok := subjectID(tt.in)
		assert.Equal(t, tt.ok, ok, "%v", tt.in)
		assert.Equal(t, tt.want, got, "%v", tt.in)
	}
}

func TestRequireRole(t *testing.T) {
	e := echo.New()
	e.POST("/verify", whoami, JWTAuth(secret), RequireRole(RoleConductor, RoleAdmin))

	for role, want := range map[string]int{
		RoleConductor: http.StatusOK,
		RoleAdmin:     http.StatusOK,
		RolePassenger: http.StatusForbidden,
		"":            http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodPost, "/verify", nil)
		req.Header.Set("Authorization", bearer(t, 3, role))
		assert.Equal(t, want, serve(e, req).Code, "role %q", role)
	}
}

func TestMiddlewarePassesThroughWithoutRedis(t *testing.T) {
	e := echo.New()
	calls := 0
	h := func(c echo.Context) error {
		calls++
		return c.String(http.StatusOK, "ok")
	}
	e.GET("/s/:id", h,
		NewRedisCache(config.CacheConfig{Enabled: true, Methods: map[string]bool{"GET": true}}, nil),
		NewTokenBucket(config.RateLimitConfig{Enabled: true, Capacity: 1}, nil),
	)
	for i := 0; i < 3; i++ {
		rec := serve(e, httptest.NewRequest(http.MethodGet, "/s/1", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("X-Cache"))
	}
	assert.Equal(t, 3, calls)
}

func TestBuildRateKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/schedules/9/book", nil)
	req.Header.Set(echo.HeaderXRealIP, "10.0.0.1")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/v1/schedules/:id/book")

	cfg := config.RateLimitConfig{Prefix: "rl", KeyStrategy: "user_route"}
	assert.Equal(t, "rl:user:anon:route:POST /v1/schedules/:id/book", buildRateKey(cfg, c))

	c.Set(userIDKey, uint64(5))
	assert.Equal(t, "rl:user:5:route:POST /v1/schedules/:id/book", buildRateKey(cfg, c))

	cfg.KeyStrategy = "ip"
	assert.Equal(t, "rl:ip:10.0.0.1", buildRateKey(cfg, c))

	cfg.KeyStrategy = ""
	assert.Equal(t, "rl:ip:10.0.0.1:user:5:route:POST /v1/schedules/:id/book", buildRateKey(cfg, c))
}

func TestParseBucket(t *testing.T) {
	allowed, remaining, retry, ok := parseBucket([]interface{}{int64(0), int64(0), int64(1500)})
	require.True(t, ok)
	assert.False(t, allowed)
	assert.Zero(t, remaining)
	assert.Equal(t, 2, retryAfterSeconds(retry))

	allowed, remaining, _, ok = parseBucket([]interface{}{int64(1), int64(4), int64(0)})
	require.True(t, ok)
	assert.True(t, allowed)
	assert.Equal(t, int64(4), remaining)

	_, _, _, ok = parseBucket("nope")
	assert.False(t, ok)
}

func TestCacheKeySeparatesSchedules(t *testing.T) {
	e := echo.New()
	cfg := config.CacheConfig{Prefix: "cache"}
	key := func(target string) string {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, target, nil), httptest.NewRecorder())
		c.SetPath("/v1/schedules/:id")
		return cacheKeyFrom(cfg, c)
	}
	assert.NotEqual(t, key("/v1/schedules/1"), key("/v1/schedules/2"))
	assert.NotEqual(t, key("/v1/schedules/1?x=1"), key("/v1/schedules/1"))
	assert.Equal(t, key("/v1/schedules/1"), key("/v1/schedules/1"))
	assert.Regexp(t, `^cache:[0-9a-f]{40}$`, key("/v1/schedules/1"))
}

func TestPayloadCodec(t *testing.T) {
	hdr := http.Header{"Content-Type": {"application/json"}}
	bs, err := encodePayload(http.StatusOK, hdr, []byte(`{"a":1}`))
	require.NoError(t, err)

	status, got, body, ok := decodePayload(bs)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, hdr, got)
	assert.Equal(t, `{"a":1}`, string(body))

	_, _, _, ok = decodePayload(bs[:6])
	assert.False(t, ok)
	_, _, _, ok = decodePayload(append([]byte{0, 0, 0, 200, 0, 0, 1, 0}, '{'))
	assert.False(t, ok)
}

func TestCaptureWriterLimit(t *testing.T) {
	rec := httptest.NewRecorder()
	cw := &captureWriter{ResponseWriter: rec, status: http.StatusOK, limit: 4}
	_, _ = cw.Write([]byte("abc"))
	assert.False(t, cw.truncated())
	_, _ = cw.Write([]byte("def"))
	assert.True(t, cw.truncated())
	assert.Equal(t, "abcd", cw.buf.String())
	assert.Equal(t, "abcdef", rec.Body.String())
}

func TestRequestLogger(t *testing.T) {
	var out bytes.Buffer
	log := logrus.New()
	log.SetOutput(&out)
	log.SetFormatter(&logrus.JSONFormatter{})

	var seen *logrus.Entry
	e := echo.New()
	e.Use(RequestLogger(log))
	e.GET("/x", func(c echo.Context) error {
		seen = logging.FromContext(c.Request().Context())
		return echo.NewHTTPError(http.StatusNotFound, "nope")
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(echo.HeaderXRequestID, "rid-1")
	rec := serve(e, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "rid-1", rec.Header().Get(echo.HeaderXRequestID))
	require.NotNil(t, seen)
	assert.Equal(t, "rid-1", seen.Data["request_id"])
	assert.Contains(t, out.String(), `"status":404`)
	assert.Contains(t, out.String(), `"request_id":"rid-1"`)
	assert.NotNil(t, logging.FromContext(context.Background()))
}
