package permission

// Definition describes one entry of the builtin permission catalog.
type Definition struct {
	Key         string
	Name        string
	Description string
}

// Catalog maps a project scope to the permissions it defines. Seeded into
// storage by cmd/migrate; the dashboard reads it to render role editors.
var Catalog = map[string][]Definition{
	"creative_center": {
		{Key: "creative:agents:create", Name: "Create AI Agents", Description: "Create AI agents"},
		{Key: "creative:agents:read", Name: "View AI Agents", Description: "View AI agents"},
		{Key: "creative:agents:update", Name: "Edit AI Agents", Description: "Edit AI agents"},
		{Key: "creative:agents:delete", Name: "Delete AI Agents", Description: "Delete AI agents"},
		{Key: "creative:chat:send", Name: "Send Chat Messages", Description: "Send chat messages"},
		{Key: "creative:memory:read", Name: "View Memory", Description: "View agent memory"},
		{Key: "creative:memory:write", Name: "Edit Memory", Description: "Edit agent memory"},
		{Key: "creative:historical:import", Name: "Import Historical", Description: "Import historical data"},
		{Key: "creative:historical:read", Name: "View Historical", Description: "View historical data"},
	},
	"traffic_center": {
		{Key: "traffic:campaigns:create", Name: "Create Campaigns", Description: "Create ad campaigns"},
		{Key: "traffic:campaigns:read", Name: "View Campaigns", Description: "View campaigns"},
		{Key: "traffic:campaigns:update", Name: "Edit Campaigns", Description: "Edit campaigns"},
		{Key: "traffic:campaigns:delete", Name: "Delete Campaigns", Description: "Delete campaigns"},
		{Key: "traffic:adsets:create", Name: "Create Ad Sets", Description: "Create ad sets"},
		{Key: "traffic:adsets:read", Name: "View Ad Sets", Description: "View ad sets"},
		{Key: "traffic:adsets:update", Name: "Edit Ad Sets", Description: "Edit ad sets"},
		{Key: "traffic:analytics:read", Name: "View Analytics", Description: "View analytics"},
	},
	"retention_center": {
		{Key: "retention:leads:create", Name: "Create Leads", Description: "Create leads"},
		{Key: "retention:leads:read", Name: "View Leads", Description: "View leads"},
		{Key: "retention:leads:update", Name: "Edit Leads", Description: "Edit leads"},
		{Key: "retention:leads:delete", Name: "Delete Leads", Description: "Delete leads"},
		{Key: "retention:campaigns:create", Name: "Create Email Campaigns", Description: "Create email campaigns"},
		{Key: "retention:campaigns:read", Name: "View Email Campaigns", Description: "View email campaigns"},
		{Key: "retention:campaigns:update", Name: "Edit Email Campaigns", Description: "Edit email campaigns"},
	},
	"global": {
		{Key: "auth:users:read", Name: "View Users", Description: "View users"},
		{Key: "auth:users:update", Name: "Edit Users", Description: "Edit users"},
		{Key: "auth:users:delete", Name: "Delete Users", Description: "Delete/disable users"},
		{Key: "auth:roles:create", Name: "Create Roles", Description: "Create roles"},
		{Key: "auth:roles:read", Name: "View Roles", Description: "View roles"},
		{Key: "auth:roles:update", Name: "Edit Roles", Description: "Edit roles"},
		{Key: "auth:roles:delete", Name: "Delete Roles", Description: "Delete roles"},
		{Key: "auth:permissions:read", Name: "View Permissions", Description: "View permissions"},
		{Key: "auth:permissions:assign", Name: "Assign Permissions", Description: "Assign permissions to roles"},
		{Key: "auth:invitations:create", Name: "Create Invitations", Description: "Invite new users"},
		{Key: "auth:invitations:read", Name: "View Invitations", Description: "View invitations"},
	},
}

// All returns every catalog key across all scopes.
func All() []string {
	var keys []string
	for _, defs := range Catalog {
		for _, d := range defs {
			keys = append(keys, d.Key)
		}
	}
	return Dedupe(keys)
}
