package campus

import (
	"github.com/google/uuid"

	"github.com/eas-attendance/backend/internal/models"
)

// PermissionSet is a user's derived campus access rights. Resolved once from
// role and home campus, then consumed as data; never branched on by role again.
type PermissionSet struct {
	CanSwitchCampuses         bool        `json:"can_switch_campuses"`
	CanAccessMultipleCampuses bool        `json:"can_access_multiple_campuses"`
	IsSuperAdmin              bool        `json:"is_super_admin"`
	IsCampusAdmin             bool        `json:"is_campus_admin"`
	AllCampuses               bool        `json:"all_campuses"` // super_admin: accessible set is every campus
	AccessibleCampusIDs       []uuid.UUID `json:"accessible_campus_ids,omitempty"`
}

// ResolvePermissions derives a user's permission set. Pure function of role
// and home campus; must be re-run after any role or home campus change.
func ResolvePermissions(user *models.User) PermissionSet {
	switch user.Role {
	case models.RoleSuperAdmin:
		return PermissionSet{
			CanSwitchCampuses:         true,
			CanAccessMultipleCampuses: true,
			IsSuperAdmin:              true,
			AllCampuses:               true,
		}
	case models.RoleCampusAdmin:
		return PermissionSet{
			CanSwitchCampuses:   true,
			IsCampusAdmin:       true,
			AccessibleCampusIDs: []uuid.UUID{user.CampusID},
		}
	default: // student, organizer
		return PermissionSet{
			AccessibleCampusIDs: []uuid.UUID{user.CampusID},
		}
	}
}

// Allows reports whether campusID is in the accessible set.
func (p PermissionSet) Allows(campusID uuid.UUID) bool {
	if p.AllCampuses {
		return true
	}
	for _, id := range p.AccessibleCampusIDs {
		if id == campusID {
			return true
		}
	}
	return false
}
