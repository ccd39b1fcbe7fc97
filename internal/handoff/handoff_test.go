package handoff

import (
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRedirect(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		ok   bool
	}{
		{"empty means no redirect", "", true},
		{"allowed https host", "https://ag1.q37fh758g.click/dashboard", true},
		{"allowed host with query", "https://ag3.q37fh758g.click/?tab=1", true},
		{"localhost http", "http://localhost:3000/cb", true},
		{"localhost https", "https://localhost:3000/cb", true},
		{"http on production host", "http://ag1.q37fh758g.click/", false},
		{"unknown host", "https://evil.example.com/", false},
		{"suffix spoof", "https://ag1.q37fh758g.click.evil.com/", false},
		{"prefix spoof", "https://evilag1.q37fh758g.click/", false},
		{"userinfo trick", "https://ag1.q37fh758g.click@evil.com/", false},
		{"javascript scheme", "javascript:alert(1)", false},
		{"scheme-relative", "//evil.example.com/", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := ValidateRedirect(tt.raw)
			if tt.ok {
				require.NoError(t, err)
				if tt.raw == "" {
					assert.Nil(t, u)
				} else {
					require.NotNil(t, u)
				}
				return
			}
			require.ErrorIs(t, err, ErrRedirectNotAllowed)
		})
	}
}

func TestProjectForRedirect(t *testing.T) {
	for raw, want := range map[string]string{
		"https://ag1.q37fh758g.click/": "creative_center",
		"https://ag2.q37fh758g.click/": "retention_center",
		"https://ag3.q37fh758g.click/": "traffic_center",
		"http://localhost:3000/":       "creative_center",
	} {
		u, err := ValidateRedirect(raw)
		require.NoError(t, err)
		project, err := ProjectForRedirect(u)
		require.NoError(t, err)
		assert.Equal(t, want, project, raw)
	}

	// ag4 is a valid landing host but has no project scope.
	u, err := ValidateRedirect("https://ag4.q37fh758g.click/")
	require.NoError(t, err)
	_, err = ProjectForRedirect(u)
	require.ErrorIs(t, err, ErrNoProject)
}

func TestAppendToken(t *testing.T) {
	u, err := url.Parse("https://ag1.q37fh758g.click/dash?tab=2#top")
	require.NoError(t, err)

	out := AppendToken(u, "tok-123")
	parsed, err := url.Parse(out)
	require.NoError(t, err)
	assert.Equal(t, "tok-123", parsed.Query().Get(TokenParam))
	assert.Equal(t, "2", parsed.Query().Get("tab"))
	assert.Equal(t, "top", parsed.Fragment)
	// Source URL untouched.
	assert.Empty(t, u.Query().Get(TokenParam))
}

func TestSessionCookie(t *testing.T) {
	rec := httptest.NewRecorder()
	SetSessionCookie(rec, "sess-token", false)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, SessionCookie, c.Name)
	assert.Equal(t, "sess-token", c.Value)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, 7*24*3600, c.MaxAge)

	t.Run("dev mode drops secure", func(t *testing.T) {
		rec := httptest.NewRecorder()
		SetSessionCookie(rec, "sess-token", true)
		assert.False(t, rec.Result().Cookies()[0].Secure)
	})

	t.Run("clear expires", func(t *testing.T) {
		rec := httptest.NewRecorder()
		ClearSessionCookie(rec, false)
		assert.Less(t, rec.Result().Cookies()[0].MaxAge, 0)
	})
}

func TestAccessCookie(t *testing.T) {
	target, err := url.Parse("https://ag2.q37fh758g.click/")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	SetAccessCookie(rec, target, "acc-token")

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, AccessCookie, c.Name)
	assert.Equal(t, "q37fh758g.click", c.Domain)
	assert.True(t, c.Secure)
	assert.Equal(t, 3600, c.MaxAge)

	t.Run("skipped for localhost", func(t *testing.T) {
		local, err := url.Parse("http://localhost:3000/")
		require.NoError(t, err)
		rec := httptest.NewRecorder()
		SetAccessCookie(rec, local, "acc-token")
		assert.Empty(t, rec.Result().Cookies())
	})
}
