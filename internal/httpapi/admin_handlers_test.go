package httpapi

import (
	"net/http"
	"testing"
	"time"
)

func TestAdminFlow(t *testing.T) {
	api := newTestAPI(t)
	api.loginWithCode("alice", 111) // bootstrap Super Admin

	// Create a role with validated permissions.
	resp := api.post("/v1/roles", map[string]any{
		"name":        "Traffic Viewer",
		"description": "Read-only traffic access",
		"permissions": []string{"traffic:campaigns:read", "traffic:analytics:read"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create role status: %d", resp.StatusCode)
	}
	role := decode[map[string]any](t, resp)
	roleID, _ := role["id"].(string)
	if roleID == "" {
		t.Fatal("expected role id")
	}

	// Malformed permission keys are rejected, not silently stored.
	resp = api.post("/v1/roles", map[string]any{
		"name":        "Broken",
		"permissions": []string{"traffic:campaigns"},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed permission, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Invite bob into traffic_center with the new role.
	resp = api.post("/v1/invitations", map[string]any{
		"username": "@Bob",
		"project":  "traffic_center",
		"role_id":  roleID,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create invitation status: %d", resp.StatusCode)
	}
	inv := decode[map[string]any](t, resp)
	if inv["username"] != "bob" || inv["status"] != "PENDING" {
		t.Fatalf("unexpected invitation: %v", inv)
	}

	// Bob logs in through the code flow and redeems the invitation.
	bobClient := api.freshClient(t)
	bobClient.loginWithCode("bob", 222)

	resp = bobClient.get("/v1/auth/me")
	me := decode[map[string]any](t, resp)
	perms, _ := me["permissions"].([]any)
	if len(perms) != 2 {
		t.Fatalf("expected 2 permissions for bob, got %v", perms)
	}

	// Bob lacks admin permissions.
	resp = bobClient.get("/v1/users")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for bob, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Alice lists users and sees both.
	resp = api.get("/v1/users")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list users status: %d", resp.StatusCode)
	}
	users := decode[map[string][]map[string]any](t, resp)
	if len(users["users"]) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users["users"]))
	}

	// Disable bob; his session stops working immediately.
	var bobID string
	for _, u := range users["users"] {
		if u["username"] == "bob" {
			bobID, _ = u["id"].(string)
		}
	}
	if bobID == "" {
		t.Fatal("bob not found in user list")
	}
	resp = api.put("/v1/users/"+bobID+"/status", map[string]any{"status": "DISABLED"})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("set status code: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = bobClient.get("/v1/auth/me")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for disabled bob, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAdminRejectsAnonymous(t *testing.T) {
	api := newTestAPI(t)

	for _, path := range []string{"/v1/users", "/v1/roles", "/v1/invitations"} {
		resp := api.get(path)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestSystemRoleIsImmutable(t *testing.T) {
	api := newTestAPI(t)
	api.loginWithCode("alice", 111)

	resp := api.get("/v1/roles")
	roles := decode[map[string]any](t, resp)
	list, _ := roles["roles"].([]any)
	var superID string
	for _, raw := range list {
		role, _ := raw.(map[string]any)
		if role["name"] == "Super Admin" {
			superID, _ = role["id"].(string)
		}
	}
	if superID == "" {
		t.Fatal("Super Admin role not listed")
	}

	resp = api.put("/v1/roles/"+superID+"/permissions", map[string]any{
		"permissions": []string{"traffic:campaigns:read"},
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for system role, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestInvitationExpiryValidation(t *testing.T) {
	api := newTestAPI(t)
	api.loginWithCode("alice", 111)

	resp := api.post("/v1/roles", map[string]any{"name": "Viewer"})
	role := decode[map[string]any](t, resp)
	roleID, _ := role["id"].(string)

	expired := time.Now().Add(-time.Hour)
	resp = api.post("/v1/invitations", map[string]any{
		"username":   "carol",
		"project":    "creative_center",
		"role_id":    roleID,
		"expires_at": expired,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create invitation status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	// The expired invitation does not admit carol.
	carol := api.freshClient(t)
	resp = carol.post("/v1/auth/request-code", map[string]any{"username": "carol"})
	resp.Body.Close()
	code := api.bot.codeFor(t, 333)
	resp = carol.post("/v1/auth/verify-code", map[string]any{
		"username": "carol",
		"code":     code,
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for expired invitation, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}
