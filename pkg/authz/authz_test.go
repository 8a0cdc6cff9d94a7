package authz

import (
	"testing"
	"time"

	"github.com/openedc/ledgercore/pkg/fault"
)

func grantedContext(role Role, sites ...string) Context {
	return Context{
		ActorID:    "actor-1",
		ActiveRole: role,
		Granted: []Assignment{
			{ActorID: "actor-1", Role: role, GrantedAt: time.Now().UTC(), GrantedBy: "admin-1", Active: true},
		},
		SiteScopes: sites,
	}
}

func TestParseRoleRoundTrip(t *testing.T) {
	for _, role := range []Role{RoleInvestigator, RoleCoordinator, RoleMonitor, RoleAuditor, RoleAdministrator} {
		parsed, err := ParseRole(role.String())
		if err != nil {
			t.Fatalf("ParseRole(%s) failed: %v", role, err)
		}
		if parsed != role {
			t.Errorf("ParseRole(%s) = %v, want %v", role, parsed, role)
		}
	}
	if _, err := ParseRole("superuser"); !fault.IsKind(err, fault.Validation) {
		t.Errorf("unknown role should be a Validation fault, got %v", err)
	}
}

func TestContextValidate(t *testing.T) {
	t.Run("active role in granted set", func(t *testing.T) {
		if err := grantedContext(RoleInvestigator, "SiteA").Validate(); err != nil {
			t.Errorf("unexpected rejection: %v", err)
		}
	})

	t.Run("no assignments at all", func(t *testing.T) {
		ctx := Context{ActorID: "actor-1", ActiveRole: RoleInvestigator}
		if err := ctx.Validate(); !fault.IsKind(err, fault.Authorization) {
			t.Errorf("want Authorization fault, got %v", err)
		}
	})

	t.Run("revoked assignment fails next validation", func(t *testing.T) {
		ctx := grantedContext(RoleInvestigator, "SiteA")
		ctx.Granted[0].Active = false
		if err := ctx.Validate(); !fault.IsKind(err, fault.Authorization) {
			t.Errorf("want Authorization fault after revocation, got %v", err)
		}
	})

	t.Run("active role outside granted set", func(t *testing.T) {
		ctx := grantedContext(RoleMonitor, "SiteA")
		ctx.ActiveRole = RoleAuditor
		if err := ctx.Validate(); !fault.IsKind(err, fault.Authorization) {
			t.Errorf("want Authorization fault, got %v", err)
		}
	})
}

func TestRowScoping(t *testing.T) {
	t.Run("site-scoped role sees only assigned sites", func(t *testing.T) {
		ctx := grantedContext(RoleInvestigator, "SiteA")
		if !ctx.CanSeeScope("SiteA") {
			t.Error("investigator must see assigned site")
		}
		if ctx.CanSeeScope("SiteB") {
			t.Error("investigator must not see other sites")
		}
	})

	t.Run("global role bypasses the site lookup", func(t *testing.T) {
		ctx := grantedContext(RoleAuditor) // no site scopes at all
		if !ctx.CanSeeScope("SiteA") || !ctx.CanSeeScope("SiteZ") {
			t.Error("auditor must see every scope")
		}
	})

	t.Run("administrator sees no subject data", func(t *testing.T) {
		ctx := grantedContext(RoleAdministrator, "SiteA")
		if ctx.CanSeeScope("SiteA") {
			t.Error("administrator must not see subject data rows")
		}
	})
}

func TestAuthorizeAppend(t *testing.T) {
	cases := []struct {
		name  string
		ctx   Context
		scope string
		allow bool
	}{
		{"investigator in scope", grantedContext(RoleInvestigator, "SiteA"), "SiteA", true},
		{"coordinator in scope", grantedContext(RoleCoordinator, "SiteA"), "SiteA", true},
		{"investigator out of scope", grantedContext(RoleInvestigator, "SiteA"), "SiteB", false},
		{"monitor is read-only", grantedContext(RoleMonitor, "SiteA"), "SiteA", false},
		{"auditor is read-only", grantedContext(RoleAuditor), "SiteA", false},
		{"administrator writes no data", grantedContext(RoleAdministrator), "SiteA", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.ctx.AuthorizeAppend(tc.scope)
			if tc.allow && err != nil {
				t.Errorf("unexpected rejection: %v", err)
			}
			if !tc.allow && !fault.IsKind(err, fault.Authorization) {
				t.Errorf("want Authorization fault, got %v", err)
			}
		})
	}
}

func TestAuthorizeRoleChange(t *testing.T) {
	if err := grantedContext(RoleAdministrator).AuthorizeRoleChange(); err != nil {
		t.Errorf("administrator rejected: %v", err)
	}
	for _, role := range []Role{RoleInvestigator, RoleCoordinator, RoleMonitor, RoleAuditor} {
		if err := grantedContext(role, "SiteA").AuthorizeRoleChange(); !fault.IsKind(err, fault.Authorization) {
			t.Errorf("%s should not manage roles, got %v", role, err)
		}
	}
}

func TestScopingIsExhaustive(t *testing.T) {
	// Every declared role must map to a deliberate scoping strategy; the
	// zero value falls through to ScopeNone.
	want := map[Role]Scoping{
		RoleInvestigator:  ScopeSites,
		RoleCoordinator:   ScopeSites,
		RoleMonitor:       ScopeSites,
		RoleAuditor:       ScopeGlobal,
		RoleAdministrator: ScopeNone,
		roleInvalid:       ScopeNone,
	}
	for role, scoping := range want {
		if got := role.Scoping(); got != scoping {
			t.Errorf("%s scoping = %v, want %v", role, got, scoping)
		}
	}
}
