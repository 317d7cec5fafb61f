package graph

import (
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-workflow/permission"
	"github.com/goliatone/go-workflow/predicate"
)

// Definition is the authoring and interchange form of a workflow type.
type Definition struct {
	ID          string            `json:"id" yaml:"id"`
	Name        string            `json:"name,omitempty" yaml:"name,omitempty"`
	Version     string            `json:"version,omitempty" yaml:"version,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Initial     string            `json:"initial,omitempty" yaml:"initial,omitempty"`
	States      []StateDefinition `json:"states" yaml:"states"`
}

// StateDefinition declares one state and its outbound transitions.
type StateDefinition struct {
	Name        string                 `json:"name" yaml:"name"`
	Label       string                 `json:"label,omitempty" yaml:"label,omitempty"`
	Description string                 `json:"description,omitempty" yaml:"description,omitempty"`
	Initial     bool                   `json:"initial,omitempty" yaml:"initial,omitempty"`
	Terminal    bool                   `json:"terminal,omitempty" yaml:"terminal,omitempty"`
	Permission  *PermissionDefinition  `json:"permission,omitempty" yaml:"permission,omitempty"`
	Validations []ValidationDefinition `json:"validations,omitempty" yaml:"validations,omitempty"`
	OnEnter     []string               `json:"on_enter,omitempty" yaml:"on_enter,omitempty"`
	OnExit      []string               `json:"on_exit,omitempty" yaml:"on_exit,omitempty"`
	Transitions []TransitionDefinition `json:"transitions,omitempty" yaml:"transitions,omitempty"`
	Metadata    map[string]any         `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// TransitionDefinition declares an edge. Actors is shorthand for Permission.Actors.
type TransitionDefinition struct {
	Target     string                `json:"target" yaml:"target"`
	Action     string                `json:"action,omitempty" yaml:"action,omitempty"`
	Label      string                `json:"label,omitempty" yaml:"label,omitempty"`
	Guards     []predicate.Expr      `json:"guards,omitempty" yaml:"guards,omitempty"`
	Actors     []permission.Role     `json:"actors,omitempty" yaml:"actors,omitempty"`
	Permission *PermissionDefinition `json:"permission,omitempty" yaml:"permission,omitempty"`
}

// ValidationDefinition declares an entry validation; Message is reported when Rule is false.
type ValidationDefinition struct {
	Message string         `json:"message" yaml:"message"`
	Rule    predicate.Expr `json:"rule" yaml:"rule"`
}

// PermissionDefinition is the authoring form of permission.Requirement.
type PermissionDefinition struct {
	Actors       []permission.Role     `json:"actors,omitempty" yaml:"actors,omitempty"`
	Group        *GroupDefinition      `json:"group,omitempty" yaml:"group,omitempty"`
	Designations []string              `json:"designations,omitempty" yaml:"designations,omitempty"`
	Conditions   []ConditionDefinition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// GroupDefinition is the authoring form of permission.GroupConstraint.
type GroupDefinition struct {
	Name string               `json:"name,omitempty" yaml:"name,omitempty"`
	Type permission.GroupType `json:"type,omitempty" yaml:"type,omitempty"`
}

// ConditionDefinition is the authoring form of permission.Condition; Within is a Go duration string.
type ConditionDefinition struct {
	Kind   permission.ConditionKind `json:"kind" yaml:"kind"`
	Field  string                   `json:"field,omitempty" yaml:"field,omitempty"`
	Op     predicate.Op             `json:"op,omitempty" yaml:"op,omitempty"`
	Value  any                      `json:"value,omitempty" yaml:"value,omitempty"`
	Within string                   `json:"within,omitempty" yaml:"within,omitempty"`
	Name   string                   `json:"name,omitempty" yaml:"name,omitempty"`
}

// Requirement converts the definition into a validated permission.Requirement.
func (p *PermissionDefinition) Requirement() (permission.Requirement, error) {
	var req permission.Requirement
	if p == nil {
		return req, nil
	}
	req.Actors = append(req.Actors, p.Actors...)
	req.Designations = append(req.Designations, p.Designations...)
	if p.Group != nil {
		req.Group = &permission.GroupConstraint{
			Name: strings.TrimSpace(p.Group.Name),
			Type: permission.GroupType(strings.ToLower(strings.TrimSpace(string(p.Group.Type)))),
		}
	}
	for idx, c := range p.Conditions {
		cond := permission.Condition{
			Kind:  permission.ConditionKind(strings.ToLower(strings.TrimSpace(string(c.Kind)))),
			Field: c.Field,
			Op:    predicate.NormalizeOp(c.Op),
			Value: c.Value,
			Name:  c.Name,
		}
		if within := strings.TrimSpace(c.Within); within != "" {
			d, err := time.ParseDuration(within)
			if err != nil {
				return req, fmt.Errorf("condition[%d] within: %w", idx, err)
			}
			cond.Within = d
		}
		req.Conditions = append(req.Conditions, cond)
	}
	if err := req.Validate(); err != nil {
		return req, err
	}
	return req, nil
}
