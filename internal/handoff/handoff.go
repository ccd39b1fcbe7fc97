// Package handoff implements the cross-domain single sign-on hop: it
// validates post-login redirect targets against a fixed allow-list, maps
// a target host to its project scope and carries the access token over
// in a query parameter plus a parent-domain cookie.
package handoff

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// TokenParam is the query parameter the target application reads the
	// access token from on first load.
	TokenParam = "ac_token"

	// SessionCookie holds the auth-center session token on the auth
	// domain itself.
	SessionCookie = "auth-session"
	sessionMaxAge = 7 * 24 * time.Hour

	// AccessCookie carries the project access token across subdomains of
	// the parent domain.
	AccessCookie = "ac_access"
	accessMaxAge = time.Hour

	// ParentDomain scopes AccessCookie to every project subdomain.
	ParentDomain = ".q37fh758g.click"

	// AuthOrigin is the public origin of the auth center itself, used in
	// the discovery documents.
	AuthOrigin = "https://ag4.q37fh758g.click"
)

// allowedHosts are the only redirect targets login will hand a token to.
// localhost is for development and is the only host exempt from the
// https requirement.
var allowedHosts = map[string]bool{
	"ag1.q37fh758g.click": true,
	"ag2.q37fh758g.click": true,
	"ag3.q37fh758g.click": true,
	"ag4.q37fh758g.click": true,
	"localhost":           true,
}

// hostProjects maps a redirect host to the project scope its token is
// minted for. Hosts missing here are allowed to receive the user but not
// a token.
var hostProjects = map[string]string{
	"ag1.q37fh758g.click": "creative_center",
	"ag2.q37fh758g.click": "retention_center",
	"ag3.q37fh758g.click": "traffic_center",
}

var (
	// ErrRedirectNotAllowed rejects a redirect target outside the
	// allow-list or with a forbidden scheme.
	ErrRedirectNotAllowed = errors.New("handoff: redirect target not allowed")

	// ErrNoProject means the target host has no project scope mapped.
	ErrNoProject = errors.New("handoff: no project for redirect host")
)

// ValidateRedirect parses raw and enforces the allow-list. The host must
// match exactly (no suffix tricks) and the scheme must be https, except
// for localhost where http is tolerated. An empty raw is valid and means
// no redirect.
func ValidateRedirect(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedirectNotAllowed, err)
	}
	host := hostOnly(u.Host)
	if !allowedHosts[host] {
		return nil, ErrRedirectNotAllowed
	}
	switch u.Scheme {
	case "https":
	case "http":
		if host != "localhost" {
			return nil, ErrRedirectNotAllowed
		}
	default:
		return nil, ErrRedirectNotAllowed
	}
	return u, nil
}

// ProjectForRedirect maps the redirect target to the project scope to
// mint a token for. localhost defaults to the first project so local
// frontends can test the full flow.
func ProjectForRedirect(u *url.URL) (string, error) {
	host := hostOnly(u.Host)
	if host == "localhost" {
		return "creative_center", nil
	}
	project, ok := hostProjects[host]
	if !ok {
		return "", ErrNoProject
	}
	return project, nil
}

// AppendToken returns the redirect URL with the access token added as
// the TokenParam query parameter, preserving existing query and
// fragment.
func AppendToken(u *url.URL, accessToken string) string {
	out := *u
	q := out.Query()
	q.Set(TokenParam, accessToken)
	out.RawQuery = q.Encode()
	return out.String()
}

// SetSessionCookie sets the auth-domain session cookie. The Secure flag
// is dropped in dev mode so plain-http localhost setups work.
func SetSessionCookie(w http.ResponseWriter, token string, devMode bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(sessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   !devMode,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie.
func ClearSessionCookie(w http.ResponseWriter, devMode bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   !devMode,
		SameSite: http.SameSiteLaxMode,
	})
}

// SetAccessCookie sets the cross-domain access cookie on the parent
// domain so sibling project apps can pick the token up without a hop.
// Skipped for localhost targets, where the parent domain does not apply.
func SetAccessCookie(w http.ResponseWriter, target *url.URL, accessToken string) {
	if hostOnly(target.Host) == "localhost" {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     AccessCookie,
		Value:    accessToken,
		Domain:   ParentDomain,
		Path:     "/",
		MaxAge:   int(accessMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearAccessCookie expires the cross-domain access cookie.
func ClearAccessCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     AccessCookie,
		Value:    "",
		Domain:   ParentDomain,
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

// Projects lists every project scope a token can be minted for.
func Projects() []string {
	return []string{"creative_center", "retention_center", "traffic_center"}
}

// Origins lists the browser origins allowed to call the API with
// credentials, derived from the same allow-list as redirects.
func Origins() []string {
	out := make([]string, 0, len(allowedHosts)+2)
	for host := range allowedHosts {
		if host == "localhost" {
			continue
		}
		out = append(out, "https://"+host)
	}
	out = append(out, "http://localhost:3000", "http://localhost:5173")
	return out
}

// hostOnly strips an optional port from a URL host.
func hostOnly(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(host)
}
