package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                "/",
		"/metrics":                        "/metrics",
		"/v1/users/abc/status":            "/v1/users/:id/status",
		"/v1/users/abc/assignments":       "/v1/users/:id/assignments",
		"/v1/roles/abc/permissions":       "/v1/roles/:id/permissions",
		"/v1/roles/abc/extra":             "/v1/roles/abc/extra",
		"/v1/auth/request-code":           "/v1/auth/request-code",
		"/v1/auth/verify-code?redirect=x": "/v1/auth/verify-code",
		"/v1/invitations":                 "/v1/invitations",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
