package campus

import (
	"testing"

	"github.com/google/uuid"

	"github.com/eas-attendance/backend/internal/models"
)

func TestResolvePermissions(t *testing.T) {
	home := uuid.New()
	other := uuid.New()

	cases := []struct {
		name          string
		role          models.Role
		canSwitch     bool
		allowsHome    bool
		allowsOther   bool
		isSuperAdmin  bool
		isCampusAdmin bool
	}{
		{"student", models.RoleStudent, false, true, false, false, false},
		{"organizer", models.RoleOrganizer, false, true, false, false, false},
		{"campus_admin", models.RoleCampusAdmin, true, true, false, false, true},
		{"super_admin", models.RoleSuperAdmin, true, true, true, true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			user := &models.User{ID: uuid.New(), Role: tc.role, CampusID: home}
			p := ResolvePermissions(user)
			if p.CanSwitchCampuses != tc.canSwitch {
				t.Errorf("CanSwitchCampuses = %v, want %v", p.CanSwitchCampuses, tc.canSwitch)
			}
			if got := p.Allows(home); got != tc.allowsHome {
				t.Errorf("Allows(home) = %v, want %v", got, tc.allowsHome)
			}
			if got := p.Allows(other); got != tc.allowsOther {
				t.Errorf("Allows(other) = %v, want %v", got, tc.allowsOther)
			}
			if p.IsSuperAdmin != tc.isSuperAdmin {
				t.Errorf("IsSuperAdmin = %v, want %v", p.IsSuperAdmin, tc.isSuperAdmin)
			}
			if p.IsCampusAdmin != tc.isCampusAdmin {
				t.Errorf("IsCampusAdmin = %v, want %v", p.IsCampusAdmin, tc.isCampusAdmin)
			}
		})
	}
}

func TestResolvePermissionsReRunAfterRoleChange(t *testing.T) {
	home := uuid.New()
	other := uuid.New()
	user := &models.User{ID: uuid.New(), Role: models.RoleSuperAdmin, CampusID: home}

	before := ResolvePermissions(user)
	if !before.Allows(other) {
		t.Fatal("super_admin should access any campus")
	}

	user.Role = models.RoleStudent
	after := ResolvePermissions(user)
	if after.Allows(other) {
		t.Error("demoted user kept cross-campus access")
	}
	if !after.Allows(home) {
		t.Error("demoted user lost home campus access")
	}
}
