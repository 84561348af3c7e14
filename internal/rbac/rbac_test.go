package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		role   Role
		action Action
		want   bool
	}{
		{RoleViewer, ActionRead, true},
		{RoleViewer, ActionPropose, false},
		{RoleViewer, ActionModerate, false},
		{RoleMember, ActionRead, true},
		{RoleMember, ActionPropose, true},
		{RoleMember, ActionModerate, false},
		{RoleModerator, ActionPropose, true},
		{RoleModerator, ActionModerate, true},
		{RoleModerator, ActionAdmin, false},
		{RoleAdmin, ActionModerate, true},
		{RoleAdmin, ActionAdmin, true},
		{Role("ghost"), ActionRead, false},
	}
	for _, tc := range cases {
		if got := Can(tc.role, tc.action); got != tc.want {
			t.Errorf("Can(%s, %s) = %v, want %v", tc.role, tc.action, got, tc.want)
		}
	}
}

func TestNormalizeUnknownRolesFallToViewer(t *testing.T) {
	if got := Normalize("superuser"); got != RoleViewer {
		t.Errorf("Normalize(superuser) = %s, want viewer", got)
	}
	if got := Normalize("moderator"); got != RoleModerator {
		t.Errorf("Normalize(moderator) = %s, want moderator", got)
	}
	if got := Normalize(""); got != RoleViewer {
		t.Errorf("Normalize(empty) = %s, want viewer", got)
	}
}
