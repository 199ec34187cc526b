package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleSuperAdmin = "SUPER_ADMIN"
	RoleRestaurant = "RESTAURANT"
	RoleScreen     = "SCREEN"
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

// IsDeviceRole reports whether role belongs to a restaurant or screen device,
// whose tokens must be bound to a party id.
func IsDeviceRole(role string) bool { return role == RoleRestaurant || role == RoleScreen }

// CanActAs reports whether a caller may act on behalf of (partyType, partyID).
// Party types share their names with the device roles.
func CanActAs(role, tokenPartyID, partyType, partyID string) bool {
	if IsSuperAdmin(role) {
		return true
	}
	return IsDeviceRole(role) && role == partyType && tokenPartyID != "" && tokenPartyID == partyID
}
