package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"authcenter.org/internal/audit"
	"authcenter.org/internal/authority"
	"authcenter.org/internal/handoff"
	"authcenter.org/internal/logincode"
	"authcenter.org/internal/obs"
	"authcenter.org/internal/telegram"
	"authcenter.org/internal/token"
)

type requestCodeRequest struct {
	Username string `json:"username"`
}

type verifyCodeRequest struct {
	Username string `json:"username"`
	Code     string `json:"code"`
	Redirect string `json:"redirect,omitempty"`
}

type telegramLoginRequest struct {
	telegram.LoginData
	Redirect string `json:"redirect,omitempty"`
}

type loginResponse struct {
	Success  bool               `json:"success"`
	User     token.UserSnapshot `json:"user"`
	Redirect string             `json:"redirect,omitempty"`
}

type projectTokenRequest struct {
	Project string `json:"project"`
}

type verifyTokenRequest struct {
	Token string `json:"token"`
}

type verifyTokenResponse struct {
	Valid       bool                `json:"valid"`
	User        *token.UserSnapshot `json:"user,omitempty"`
	Project     string              `json:"project,omitempty"`
	Permissions []string            `json:"permissions,omitempty"`
	Error       string              `json:"error,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (a *API) handleRequestCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req requestCodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	err := a.codes.Request(r.Context(), req.Username, clientIP(r))
	if err != nil {
		var limited *logincode.RateLimitedError
		switch {
		case errors.Is(err, authority.ErrInvalidInput):
			writeError(w, r, http.StatusBadRequest, "username is required")
		case errors.As(err, &limited):
			retry := int(time.Until(limited.RetryAt).Seconds()) + 1
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			writeError(w, r, http.StatusTooManyRequests, "too many code requests, try again later")
		case errors.Is(err, logincode.ErrDelivery):
			// Generic by design: must not reveal whether the handle exists.
			writeError(w, r, http.StatusBadRequest, "could not send code")
		default:
			writeError(w, r, http.StatusServiceUnavailable, "could not send code")
		}
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.code.requested", map[string]any{
		"username": authority.NormalizeUsername(req.Username),
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req verifyCodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	chatID, err := a.codes.Verify(r.Context(), req.Username, req.Code)
	if err != nil {
		a.writeCodeVerifyError(w, r, err)
		return
	}

	profile := authority.Profile{
		TelegramID: chatID,
		ChatID:     chatID,
		Username:   req.Username,
	}
	a.completeLogin(w, r, "code", profile, req.Redirect)
}

func (a *API) handleTelegramLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req telegramLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.verifier.Verify(req.LoginData); err != nil {
		switch {
		case errors.Is(err, telegram.ErrNotConfigured):
			// Config fault, not a failed verification.
			writeError(w, r, http.StatusServiceUnavailable, "telegram login is not configured")
		default:
			obs.ObserveLogin("widget", "denied")
			writeError(w, r, http.StatusUnauthorized, "telegram authentication failed")
		}
		return
	}

	profile := authority.Profile{
		TelegramID: req.ID,
		ChatID:     req.ID,
		Username:   req.Username,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		PhotoURL:   req.PhotoURL,
	}
	a.completeLogin(w, r, "widget", profile, req.Redirect)
}

// completeLogin admits the verified identity, sets the session cookie and
// performs the optional cross-domain handoff.
func (a *API) completeLogin(w http.ResponseWriter, r *http.Request, method string, profile authority.Profile, redirect string) {
	target, err := handoff.ValidateRedirect(redirect)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "redirect target not allowed")
		return
	}

	u, err := a.authority.Admit(r.Context(), profile)
	if err != nil {
		switch {
		case errors.Is(err, authority.ErrDisabled), errors.Is(err, authority.ErrAccessDenied):
			obs.ObserveLogin(method, "denied")
			writeError(w, r, http.StatusForbidden, "access denied")
		case errors.Is(err, authority.ErrInvalidInput):
			writeError(w, r, http.StatusBadRequest, err.Error())
		default:
			obs.ObserveLogin(method, "error")
			writeError(w, r, http.StatusInternalServerError, "login failed")
		}
		return
	}

	session, err := a.authority.IssueSession(u)
	if err != nil {
		obs.ObserveLogin(method, "error")
		writeError(w, r, http.StatusInternalServerError, "login failed")
		return
	}
	handoff.SetSessionCookie(w, session, a.devMode)

	resp := loginResponse{Success: true}
	role, err := a.authority.RoleForProject(r.Context(), u.ID, authority.GlobalProject)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "login failed")
		return
	}
	resp.User = authority.Snapshot(u, role)

	if target != nil {
		project, err := handoff.ProjectForRedirect(target)
		if err != nil {
			// A landing host without a scope gets the user but no token.
			resp.Redirect = target.String()
		} else {
			pair, err := a.authority.IssueProjectToken(r.Context(), u, project)
			if err != nil {
				writeError(w, r, http.StatusInternalServerError, "login failed")
				return
			}
			handoff.SetAccessCookie(w, target, pair.AccessToken)
			resp.Redirect = handoff.AppendToken(target, pair.AccessToken)
		}
	}

	obs.ObserveLogin(method, "success")
	_ = audit.LogEvent(audit.WithUserID(r.Context(), u.ID), "auth.login", map[string]any{
		"method": method,
	})
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) writeCodeVerifyError(w http.ResponseWriter, r *http.Request, err error) {
	var invalid *logincode.InvalidCodeError
	switch {
	case errors.Is(err, authority.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "username and code are required")
	case errors.As(err, &invalid):
		obs.ObserveLogin("code", "denied")
		payload := map[string]any{
			"error":             "invalid code",
			"attemptsRemaining": invalid.Remaining,
		}
		if rid := RequestIDFromContext(r.Context()); rid != "" {
			payload["request_id"] = rid
		}
		writeJSON(w, http.StatusUnauthorized, payload)
	case errors.Is(err, logincode.ErrLocked):
		obs.ObserveLogin("code", "denied")
		writeError(w, r, http.StatusUnauthorized, "too many attempts, request a new code")
	case errors.Is(err, logincode.ErrNoCode):
		obs.ObserveLogin("code", "denied")
		writeError(w, r, http.StatusUnauthorized, "no code found, request a new one")
	default:
		obs.ObserveLogin("code", "error")
		writeError(w, r, http.StatusInternalServerError, "verification failed")
	}
}

func (a *API) handleProjectToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	u := a.requireSession(w, r)
	if u == nil {
		return
	}
	var req projectTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Project = strings.TrimSpace(req.Project)
	if req.Project == "" {
		writeError(w, r, http.StatusBadRequest, "project is required")
		return
	}

	pair, err := a.authority.IssueProjectToken(r.Context(), u, req.Project)
	if err != nil {
		handleAuthorityError(w, r, err)
		return
	}
	_ = audit.LogEvent(audit.WithUserID(r.Context(), u.ID), "auth.token.issued", map[string]any{
		"project": req.Project,
	})
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleVerifyToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req verifyTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		writeError(w, r, http.StatusBadRequest, "token is required")
		return
	}

	// Verification failures are a result value here, not an HTTP error:
	// downstream services poll this endpoint and branch on valid.
	claims, err := a.tokens.VerifyAccess(req.Token)
	if err != nil {
		writeJSON(w, http.StatusOK, verifyTokenResponse{
			Valid: false,
			Error: "invalid token",
		})
		return
	}
	user := claims.User()
	writeJSON(w, http.StatusOK, verifyTokenResponse{
		Valid:       true,
		User:        &user,
		Project:     claims.Project,
		Permissions: claims.Permissions,
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, r, http.StatusBadRequest, "refreshToken is required")
		return
	}

	pair, err := a.tokens.Refresh(req.RefreshToken)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	handoff.ClearSessionCookie(w, a.devMode)
	handoff.ClearAccessCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	u := a.requireSession(w, r)
	if u == nil {
		return
	}
	roles, err := a.authority.RoleNames(r.Context(), u.ID)
	if err != nil {
		handleAuthorityError(w, r, err)
		return
	}
	perms, err := a.authority.Permissions(r.Context(), u.ID, "")
	if err != nil {
		handleAuthorityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":        u,
		"roles":       roles,
		"permissions": perms,
	})
}

// handleProjects lists the projects the user can enter, with the
// effective role and permissions per project.
func (a *API) handleProjects(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	u := a.requireSession(w, r)
	if u == nil {
		return
	}

	type projectEntry struct {
		ID          string   `json:"id"`
		Role        string   `json:"role"`
		Permissions []string `json:"permissions"`
	}
	out := make([]projectEntry, 0, len(handoff.Projects()))
	for _, project := range handoff.Projects() {
		perms, err := a.authority.Permissions(r.Context(), u.ID, project)
		if err != nil {
			handleAuthorityError(w, r, err)
			return
		}
		if len(perms) == 0 {
			continue
		}
		role, err := a.authority.RoleForProject(r.Context(), u.ID, project)
		if err != nil {
			handleAuthorityError(w, r, err)
			return
		}
		out = append(out, projectEntry{ID: project, Role: role, Permissions: perms})
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": out})
}
