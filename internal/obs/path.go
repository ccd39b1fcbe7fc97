package obs

import "strings"

// CanonicalPath collapses resource identifiers in known routes so metric
// label cardinality stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 3 && parts[0] == "v1" {
		switch parts[1] {
		case "users":
			if len(parts) == 4 && parts[3] == "status" {
				return "/v1/users/:id/status"
			}
			if len(parts) == 4 && parts[3] == "assignments" {
				return "/v1/users/:id/assignments"
			}
		case "roles":
			if len(parts) == 4 && parts[3] == "permissions" {
				return "/v1/roles/:id/permissions"
			}
		}
	}
	return path
}
