package access

import (
	"io"
	"log/slog"
	"testing"

	"github.com/bffless/bffless/internal/domain"
)

func boolPtr(v bool) *bool     { return &v }
func strPtr(v string) *string  { return &v }
func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestResolveAliasOverridesProjectVisibility(t *testing.T) {
	r := New(testLogger())
	projectID := "p1"
	mapping := &domain.DomainMapping{ID: "d1", Host: "site.example.com", ProjectID: &projectID}
	alias := &domain.Alias{ProjectID: projectID, Name: "main", IsPublic: boolPtr(false)}
	project := &domain.Project{ID: projectID, IsPublic: true}

	d := r.Resolve(mapping, alias, project)
	if d.IsPublic {
		t.Fatal("alias-level isPublic=false must win over public project")
	}
	if d.Source != SourceAlias {
		t.Fatalf("source = %q, want alias", d.Source)
	}
}

func TestResolveInheritsProjectDefaults(t *testing.T) {
	r := New(testLogger())
	project := &domain.Project{ID: "p1", IsPublic: true}

	d := r.Resolve(nil, &domain.Alias{ProjectID: "p1", Name: "main"}, project)
	if !d.IsPublic {
		t.Fatal("expected project visibility to apply")
	}
	if d.Source != SourceProject {
		t.Fatalf("source = %q, want project", d.Source)
	}
	if d.UnauthorizedBehavior != domain.BehaviorNotFound {
		t.Fatalf("unauthorized behavior = %q, want not_found default", d.UnauthorizedBehavior)
	}
	if d.RequiredRole != domain.RoleAuthenticated {
		t.Fatalf("required role = %q, want authenticated default", d.RequiredRole)
	}
}

func TestResolveFieldsComeFromDifferentLevels(t *testing.T) {
	r := New(testLogger())
	projectID := "p1"
	mapping := &domain.DomainMapping{
		ID:        "d1",
		ProjectID: &projectID,
		IsPublic:  boolPtr(false),
	}
	alias := &domain.Alias{
		ProjectID:    projectID,
		RequiredRole: strPtr(domain.RoleAdmin),
	}
	project := &domain.Project{
		ID:                   projectID,
		IsPublic:             true,
		UnauthorizedBehavior: domain.BehaviorRedirectLogin,
	}

	d := r.Resolve(mapping, alias, project)
	if d.IsPublic || d.Source != SourceDomain {
		t.Fatalf("visibility should come from domain: %+v", d)
	}
	if d.RequiredRole != domain.RoleAdmin {
		t.Fatalf("required role should come from alias, got %q", d.RequiredRole)
	}
	if d.UnauthorizedBehavior != domain.BehaviorRedirectLogin {
		t.Fatalf("behavior should come from project, got %q", d.UnauthorizedBehavior)
	}
}

func TestResolveRedirectDomainSkipsCascade(t *testing.T) {
	r := New(testLogger())
	mapping := &domain.DomainMapping{
		ID:         "d1",
		Host:       "old.example.com",
		DomainType: domain.DomainTypeRedirect,
		IsPublic:   boolPtr(false),
	}

	d := r.Resolve(mapping, nil, &domain.Project{ID: "p1"})
	if !d.IsPublic || d.Source != SourceDomain {
		t.Fatalf("redirect domains are always public from the domain level: %+v", d)
	}
}

func TestResolveOrphanDomainFailsOpen(t *testing.T) {
	r := New(testLogger())
	mapping := &domain.DomainMapping{ID: "d1", Host: "lost.example.com", DomainType: domain.DomainTypeCustom}

	d := r.Resolve(mapping, nil, &domain.Project{ID: "p1", IsPublic: false})
	if !d.IsPublic {
		t.Fatal("orphan non-redirect domain resolves public by policy")
	}
}

func TestMeetsRoleRequirement(t *testing.T) {
	cases := []struct {
		userRole *string
		required string
		want     bool
	}{
		{nil, domain.RoleAuthenticated, true},
		{nil, domain.RoleViewer, false},
		{strPtr(domain.RoleViewer), domain.RoleAdmin, false},
		{strPtr(domain.RoleOwner), domain.RoleViewer, true},
		{strPtr(domain.RoleContributor), domain.RoleContributor, true},
		{strPtr("bogus"), domain.RoleViewer, false},
	}
	for _, tc := range cases {
		got := MeetsRoleRequirement(tc.userRole, tc.required)
		if got != tc.want {
			t.Errorf("MeetsRoleRequirement(%v, %q) = %v, want %v", tc.userRole, tc.required, got, tc.want)
		}
	}
}
