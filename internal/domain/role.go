package domain

// Project roles in ascending rank order.
const (
	RoleViewer      = "viewer"
	RoleContributor = "contributor"
	RoleAdmin       = "admin"
	RoleOwner       = "owner"

	// RoleAuthenticated is a pseudo-role satisfied by any logged-in user.
	RoleAuthenticated = "authenticated"
)

var roleRanks = map[string]int{
	RoleViewer:      1,
	RoleContributor: 2,
	RoleAdmin:       3,
	RoleOwner:       4,
}

// RoleRank returns the numeric rank of a role, or 0 when unknown.
func RoleRank(role string) int {
	return roleRanks[role]
}

// Behaviors applied when an unauthorized viewer hits private content.
const (
	BehaviorNotFound      = "not_found"
	BehaviorRedirectLogin = "redirect_login"
)
