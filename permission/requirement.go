package permission

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-workflow/predicate"
)

// ConditionKind tags a contextual condition.
type ConditionKind string

const (
	ConditionOwnership        ConditionKind = "ownership"
	ConditionSameOrganization ConditionKind = "same_organization"
	ConditionField            ConditionKind = "field"
	ConditionTimeWindow       ConditionKind = "time_window"
	ConditionCustom           ConditionKind = "custom"
)

// Condition is a contextual predicate evaluated against the workflow being acted on.
// Only the fields relevant to Kind are read.
type Condition struct {
	Kind   ConditionKind `json:"kind"`
	Field  string        `json:"field,omitempty"`
	Op     predicate.Op  `json:"op,omitempty"`
	Value  any           `json:"value,omitempty"`
	Within time.Duration `json:"within,omitempty"`
	Name   string        `json:"name,omitempty"`
}

// Ownership requires the actor to be the workflow creator.
func Ownership() Condition { return Condition{Kind: ConditionOwnership} }

// SameOrganization requires the actor's organization to match the workflow's.
func SameOrganization() Condition { return Condition{Kind: ConditionSameOrganization} }

// FieldCondition compares a workflow context field.
func FieldCondition(field string, op predicate.Op, value any) Condition {
	return Condition{Kind: ConditionField, Field: field, Op: op, Value: value}
}

// TimeWindow requires the timestamp at field to be no older than within.
func TimeWindow(field string, within time.Duration) Condition {
	return Condition{Kind: ConditionTimeWindow, Field: field, Within: within}
}

// Custom references a condition function registered on the Resolver.
func Custom(name string) Condition { return Condition{Kind: ConditionCustom, Name: name} }

// Validate checks that the fields required by Kind are present.
func (c Condition) Validate() error {
	switch c.Kind {
	case ConditionOwnership, ConditionSameOrganization:
		return nil
	case ConditionField:
		if strings.TrimSpace(c.Field) == "" {
			return fmt.Errorf("field condition requires field")
		}
		if !c.Op.Valid() {
			return fmt.Errorf("field condition %s has unknown operator %q", c.Field, c.Op)
		}
	case ConditionTimeWindow:
		if strings.TrimSpace(c.Field) == "" || c.Within <= 0 {
			return fmt.Errorf("time_window condition requires field and positive duration")
		}
	case ConditionCustom:
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("custom condition requires name")
		}
	default:
		return fmt.Errorf("unknown condition kind %q", c.Kind)
	}
	return nil
}

func (c Condition) String() string {
	switch c.Kind {
	case ConditionField:
		return predicate.Field(c.Field, c.Op, c.Value).String()
	case ConditionTimeWindow:
		return fmt.Sprintf("%s within %s", c.Field, c.Within)
	case ConditionCustom:
		return "custom:" + c.Name
	default:
		return string(c.Kind)
	}
}

// GroupConstraint restricts a permission to members of a department or team.
// An empty Name accepts any group of Type; an empty Type accepts any type.
type GroupConstraint struct {
	Name string    `json:"name,omitempty"`
	Type GroupType `json:"type,omitempty"`
}

// Requirement is a multi-dimensional permission descriptor: every populated dimension must pass.
type Requirement struct {
	Actors       []Role           `json:"actors,omitempty"`
	Group        *GroupConstraint `json:"group,omitempty"`
	Designations []string         `json:"designations,omitempty"`
	Conditions   []Condition      `json:"conditions,omitempty"`
}

// IsZero reports whether the requirement imposes nothing.
func (r Requirement) IsZero() bool {
	return len(r.Actors) == 0 && r.Group == nil && len(r.Designations) == 0 && len(r.Conditions) == 0
}

// Validate checks every condition.
func (r Requirement) Validate() error {
	for idx, c := range r.Conditions {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("condition[%d]: %w", idx, err)
		}
	}
	if r.Group != nil && r.Group.Type != "" && r.Group.Type != GroupDepartment && r.Group.Type != GroupTeam {
		return fmt.Errorf("unknown group type %q", r.Group.Type)
	}
	return nil
}

// Merge returns a requirement containing the dimensions of both.
// Group constraints cannot be merged; other's group wins when both are set.
func (r Requirement) Merge(other Requirement) Requirement {
	out := Requirement{
		Actors:       append(append([]Role(nil), r.Actors...), other.Actors...),
		Group:        r.Group,
		Designations: append(append([]string(nil), r.Designations...), other.Designations...),
		Conditions:   append(append([]Condition(nil), r.Conditions...), other.Conditions...),
	}
	if other.Group != nil {
		out.Group = other.Group
	}
	return out
}

// Fingerprint is a canonical key for the context-independent dimensions.
func (r Requirement) Fingerprint() string {
	actors := make([]string, 0, len(r.Actors))
	for _, a := range r.Actors {
		actors = append(actors, string(NormalizeRole(a)))
	}
	sort.Strings(actors)
	designations := make([]string, 0, len(r.Designations))
	for _, d := range r.Designations {
		designations = append(designations, strings.ToLower(strings.TrimSpace(d)))
	}
	sort.Strings(designations)
	group := "-"
	if r.Group != nil {
		group = strings.ToLower(strings.TrimSpace(r.Group.Name)) + "/" + string(r.Group.Type)
	}
	return "a=" + strings.Join(actors, ",") + "|g=" + group + "|d=" + strings.Join(designations, ",")
}
