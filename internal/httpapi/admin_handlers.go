package httpapi

import (
	"net/http"
	"strings"
	"time"

	"authcenter.org/internal/audit"
	"authcenter.org/internal/authority"
	"authcenter.org/internal/permission"
)

type setStatusRequest struct {
	Status string `json:"status"`
}

type createRoleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

type updateRolePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

type assignRoleRequest struct {
	Project string `json:"project"`
	RoleID  string `json:"role_id"`
}

type createInvitationRequest struct {
	Username  string     `json:"username"`
	Project   string     `json:"project"`
	RoleID    string     `json:"role_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type roleResponse struct {
	*authority.Role
	Permissions []string `json:"permissions"`
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.ensurePermissions(w, r, "auth:users:read") == nil {
		return
	}
	users, err := a.authority.ListUsers(r.Context())
	if err != nil {
		handleAuthorityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	userID := parts[0]
	switch parts[1] {
	case "status":
		a.handleUserStatus(w, r, userID)
	case "assignments":
		a.handleUserAssignments(w, r, userID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUserStatus(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	admin := a.ensurePermissions(w, r, "auth:users:update")
	if admin == nil {
		return
	}
	var req setStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.authority.SetUserStatus(r.Context(), userID, authority.Status(req.Status)); err != nil {
		handleAuthorityError(w, r, err)
		return
	}
	_ = audit.LogEvent(audit.WithUserID(r.Context(), admin.ID), "admin.user.status", map[string]any{
		"target_user_id": userID,
		"status":         req.Status,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUserAssignments(w http.ResponseWriter, r *http.Request, userID string) {
	admin := a.ensurePermissions(w, r, "auth:users:update")
	if admin == nil {
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req assignRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.authority.AssignRole(r.Context(), userID, req.Project, req.RoleID); err != nil {
			handleAuthorityError(w, r, err)
			return
		}
		_ = audit.LogEvent(audit.WithUserID(r.Context(), admin.ID), "admin.user.assign_role", map[string]any{
			"target_user_id": userID,
			"project":        req.Project,
			"role_id":        req.RoleID,
		})
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		project := strings.TrimSpace(r.URL.Query().Get("project"))
		if project == "" {
			writeError(w, r, http.StatusBadRequest, "project is required")
			return
		}
		if err := a.authority.RemoveAssignment(r.Context(), userID, project); err != nil {
			handleAuthorityError(w, r, err)
			return
		}
		_ = audit.LogEvent(audit.WithUserID(r.Context(), admin.ID), "admin.user.remove_role", map[string]any{
			"target_user_id": userID,
			"project":        project,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodDelete)
	}
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if a.ensurePermissions(w, r, "auth:roles:read") == nil {
			return
		}
		roles, perms, err := a.authority.ListRoles(r.Context())
		if err != nil {
			handleAuthorityError(w, r, err)
			return
		}
		out := make([]roleResponse, 0, len(roles))
		for _, role := range roles {
			keys := perms[role.ID]
			if keys == nil {
				keys = []string{}
			}
			out = append(out, roleResponse{Role: role, Permissions: keys})
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"roles":   out,
			"catalog": permission.Catalog,
		})
	case http.MethodPost:
		admin := a.ensurePermissions(w, r, "auth:roles:create")
		if admin == nil {
			return
		}
		var req createRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.authority.CreateRole(r.Context(), req.Name, req.Description, req.Permissions)
		if err != nil {
			handleAuthorityError(w, r, err)
			return
		}
		_ = audit.LogEvent(audit.WithUserID(r.Context(), admin.ID), "admin.role.create", map[string]any{
			"role_id": role.ID,
			"name":    role.Name,
		})
		writeJSON(w, http.StatusCreated, role)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/roles/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "permissions" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	admin := a.ensurePermissions(w, r, "auth:roles:update", "auth:permissions:assign")
	if admin == nil {
		return
	}
	var req updateRolePermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	roleID := parts[0]
	if err := a.authority.SetRolePermissions(r.Context(), roleID, req.Permissions); err != nil {
		handleAuthorityError(w, r, err)
		return
	}
	_ = audit.LogEvent(audit.WithUserID(r.Context(), admin.ID), "admin.role.permissions", map[string]any{
		"role_id": roleID,
		"count":   len(req.Permissions),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleInvitations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if a.ensurePermissions(w, r, "auth:invitations:read") == nil {
			return
		}
		invs, err := a.authority.ListInvitations(r.Context())
		if err != nil {
			handleAuthorityError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"invitations": invs})
	case http.MethodPost:
		admin := a.ensurePermissions(w, r, "auth:invitations:create")
		if admin == nil {
			return
		}
		var req createInvitationRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		var expiresAt time.Time
		if req.ExpiresAt != nil {
			expiresAt = *req.ExpiresAt
		}
		inv, err := a.authority.CreateInvitation(r.Context(), req.Username, req.Project, req.RoleID, expiresAt)
		if err != nil {
			handleAuthorityError(w, r, err)
			return
		}
		_ = audit.LogEvent(audit.WithUserID(r.Context(), admin.ID), "admin.invitation.create", map[string]any{
			"invitation_id": inv.ID,
			"username":      inv.Username,
			"project":       inv.Project,
		})
		writeJSON(w, http.StatusCreated, inv)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}
