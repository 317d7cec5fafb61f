package permission

import (
	"sort"
	"strings"
	"time"
)

// Role is an abstract workflow capability derived from organizational position.
type Role string

const (
	RoleRequestor         Role = "requestor"
	RoleApprover          Role = "approver"
	RoleAnalyzer          Role = "analyzer"
	RoleFinanceSpecialist Role = "finance_specialist"
	RoleHRSpecialist      Role = "hr_specialist"
)

// NormalizeRole lowercases and trims a role name.
func NormalizeRole(r Role) Role {
	return Role(strings.ToLower(strings.TrimSpace(string(r))))
}

// RoleSet is a set of roles.
type RoleSet map[Role]struct{}

// NewRoleSet builds a set from roles.
func NewRoleSet(roles ...Role) RoleSet {
	set := make(RoleSet, len(roles))
	set.Add(roles...)
	return set
}

// Add inserts roles into the set.
func (s RoleSet) Add(roles ...Role) {
	for _, r := range roles {
		if r = NormalizeRole(r); r != "" {
			s[r] = struct{}{}
		}
	}
}

// Has reports whether r is in the set.
func (s RoleSet) Has(r Role) bool {
	_, ok := s[NormalizeRole(r)]
	return ok
}

// Intersects reports whether any of roles is in the set.
func (s RoleSet) Intersects(roles []Role) bool {
	for _, r := range roles {
		if s.Has(r) {
			return true
		}
	}
	return false
}

// Sorted returns the roles in lexical order.
func (s RoleSet) Sorted() []Role {
	out := make([]Role, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Actor is the authenticated principal invoking an operation.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// GroupType distinguishes departments from teams.
type GroupType string

const (
	GroupDepartment GroupType = "department"
	GroupTeam       GroupType = "team"
)

// Group is an organizational unit a position belongs to.
type Group struct {
	ID   string    `json:"id,omitempty"`
	Name string    `json:"name"`
	Type GroupType `json:"type"`
}

// Designation is a title with a hierarchy level.
type Designation struct {
	Name  string `json:"name"`
	Level int    `json:"level"`
}

// Position binds a user to a designation inside a group.
type Position struct {
	Designation Designation `json:"designation"`
	Group       Group       `json:"group"`
}

// Hierarchy summarizes a user's positions.
type Hierarchy struct {
	MaxLevel    int      `json:"max_level"`
	MinLevel    int      `json:"min_level"`
	Departments []string `json:"departments,omitempty"`
	Teams       []string `json:"teams,omitempty"`
}

// OrgContext is the resolved organizational snapshot for one user in one organization.
type OrgContext struct {
	UserID         string     `json:"user_id"`
	OrganizationID string     `json:"organization_id"`
	Positions      []Position `json:"positions"`
	Hierarchy      Hierarchy  `json:"hierarchy"`
	Permissions    []string   `json:"permissions,omitempty"`
	ResolvedAt     time.Time  `json:"resolved_at"`
}

// Clone returns a deep copy.
func (o *OrgContext) Clone() *OrgContext {
	if o == nil {
		return nil
	}
	cp := *o
	cp.Positions = append([]Position(nil), o.Positions...)
	cp.Permissions = append([]string(nil), o.Permissions...)
	cp.Hierarchy.Departments = append([]string(nil), o.Hierarchy.Departments...)
	cp.Hierarchy.Teams = append([]string(nil), o.Hierarchy.Teams...)
	return &cp
}

// Summarize computes the hierarchy summary for positions.
func Summarize(positions []Position) Hierarchy {
	var h Hierarchy
	seenDept := map[string]bool{}
	seenTeam := map[string]bool{}
	for idx, p := range positions {
		if idx == 0 || p.Designation.Level > h.MaxLevel {
			h.MaxLevel = p.Designation.Level
		}
		if idx == 0 || p.Designation.Level < h.MinLevel {
			h.MinLevel = p.Designation.Level
		}
		name := strings.TrimSpace(p.Group.Name)
		if name == "" {
			continue
		}
		switch p.Group.Type {
		case GroupDepartment:
			if !seenDept[name] {
				seenDept[name] = true
				h.Departments = append(h.Departments, name)
			}
		case GroupTeam:
			if !seenTeam[name] {
				seenTeam[name] = true
				h.Teams = append(h.Teams, name)
			}
		}
	}
	sort.Strings(h.Departments)
	sort.Strings(h.Teams)
	return h
}
