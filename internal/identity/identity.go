// Package identity authenticates callers of the ledger API.
//
// It provides:
//   - TokenIssuer : issues and verifies HS256 JWT bearer tokens carrying a role
//   - RequireToken: Gin middleware enforcing a valid bearer token
//   - RequireRole : Gin middleware restricting a route to a set of roles
package identity

// Roles understood by the ledger API.
const (
	RoleAdmin       = "admin"
	RoleStaff       = "staff"
	RoleAuditor     = "auditor"
	RoleCoordinator = "coordinator"
	RoleExaminer    = "examiner"
	RoleSupervisor  = "supervisor"
	RoleStudent     = "student"
	// RoleService is held by backend producers that append records.
	RoleService = "service"
)

var knownRoles = map[string]bool{
	RoleAdmin:       true,
	RoleStaff:       true,
	RoleAuditor:     true,
	RoleCoordinator: true,
	RoleExaminer:    true,
	RoleSupervisor:  true,
	RoleStudent:     true,
	RoleService:     true,
}

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool { return knownRoles[role] }
