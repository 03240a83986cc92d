package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/staybook/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerReadTokenPrefersBearer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewManager(config.Config{})

	for _, tc := range []struct {
		name   string
		header string
		cookie string
		want   string
		ok     bool
	}{
		{name: "none"},
		{name: "cookie", cookie: "c-token", want: "c-token", ok: true},
		{name: "bearer", header: "Bearer b-token", cookie: "c-token", want: "b-token", ok: true},
		{name: "empty bearer falls back", header: "Bearer  ", cookie: "c-token", want: "c-token", ok: true},
		{name: "other scheme", header: "Basic xyz"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				c.Request.Header.Set("Authorization", tc.header)
			}
			if tc.cookie != "" {
				c.Request.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: tc.cookie})
			}

			got, ok := m.ReadToken(c)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestManagerSetWritesHTTPOnlyCookie(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.Config{}
	cfg.Auth.CookieSecure = true
	m := NewManager(cfg)
	now := time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	resp := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(resp)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
	m.Set(c, "tok", now.Add(time.Hour))

	cookies := resp.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, DefaultCookieName, cookies[0].Name)
	assert.Equal(t, "tok", cookies[0].Value)
	assert.Equal(t, 3600, cookies[0].MaxAge)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)
	assert.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)
}
