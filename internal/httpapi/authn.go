package httpapi

import (
	"errors"
	"net/http"

	"authcenter.org/internal/authority"
	"authcenter.org/internal/handoff"
	"authcenter.org/internal/permission"
)

// requireSession resolves the session cookie into a fresh user record.
// Writes the error response itself and returns nil when the request must
// not proceed.
func (a *API) requireSession(w http.ResponseWriter, r *http.Request) *authority.User {
	cookie, err := r.Cookie(handoff.SessionCookie)
	if err != nil || cookie.Value == "" {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return nil
	}
	u, err := a.authority.ResolveSession(r.Context(), cookie.Value)
	if err != nil {
		switch {
		case errors.Is(err, authority.ErrDisabled):
			writeError(w, r, http.StatusForbidden, "account disabled")
		case errors.Is(err, authority.ErrAccessDenied):
			writeError(w, r, http.StatusUnauthorized, "invalid session")
		default:
			writeError(w, r, http.StatusInternalServerError, "authentication error")
		}
		return nil
	}
	return u
}

// ensurePermissions checks the session user holds every listed permission
// in any scope. Lacking a permission is an authorization failure, kept
// distinct from the authentication failures above.
func (a *API) ensurePermissions(w http.ResponseWriter, r *http.Request, keys ...string) *authority.User {
	u := a.requireSession(w, r)
	if u == nil {
		return nil
	}
	granted, err := a.authority.Permissions(r.Context(), u.ID, "")
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "authentication error")
		return nil
	}
	for _, key := range keys {
		if !permission.HasPermission(granted, key) {
			writeError(w, r, http.StatusForbidden, "insufficient permissions")
			return nil
		}
	}
	return u
}
