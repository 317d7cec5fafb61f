package permission

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-workflow/predicate"
)

// Dimension names the check that produced a denial.
type Dimension string

const (
	DimensionAuthentication Dimension = "authentication"
	DimensionRole           Dimension = "role"
	DimensionGroup          Dimension = "group"
	DimensionDesignation    Dimension = "designation"
	DimensionCondition      Dimension = "condition"
)

// Subject describes the workflow a permission is checked against.
type Subject struct {
	ID             string
	Type           string
	CreatedBy      string
	OrganizationID string
	Data           map[string]any
}

// CheckRequest bundles the inputs of a permission decision.
type CheckRequest struct {
	Actor       Actor
	Org         *OrgContext
	Requirement Requirement
	Subject     Subject
}

// Decision is the outcome of a permission check.
type Decision struct {
	Granted   bool      `json:"granted"`
	Dimension Dimension `json:"dimension,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Cached    bool      `json:"cached,omitempty"`
}

func grant() Decision { return Decision{Granted: true} }

func deny(dim Dimension, format string, args ...any) Decision {
	return Decision{Dimension: dim, Reason: fmt.Sprintf(format, args...)}
}

// ConditionFunc implements a custom condition referenced by name.
type ConditionFunc func(ctx context.Context, req CheckRequest) (bool, error)

// Resolver decides whether an actor satisfies a Requirement.
type Resolver struct {
	provider   Provider
	classifier RoleClassifier
	cache      *decisionCache
	window     time.Duration
	now        func() time.Time

	mu         sync.RWMutex
	conditions map[string]ConditionFunc
}

// ResolverOption customizes a Resolver.
type ResolverOption func(*Resolver)

// WithClassifier replaces the default keyword classifier.
func WithClassifier(c RoleClassifier) ResolverOption {
	return func(r *Resolver) {
		if c != nil {
			r.classifier = c
		}
	}
}

// WithDecisionWindow sets the decision cache bucket width.
func WithDecisionWindow(window time.Duration) ResolverOption {
	return func(r *Resolver) {
		if window > 0 {
			r.window = window
		}
	}
}

// WithClock sets the resolver time source, used by the cache and time windows.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// WithCondition registers a custom condition at construction time.
func WithCondition(name string, fn ConditionFunc) ResolverOption {
	return func(r *Resolver) {
		_ = r.RegisterCondition(name, fn)
	}
}

// NewResolver builds a resolver. Providers that are not already cached are
// wrapped in a CachedProvider sharing the resolver clock.
func NewResolver(provider Provider, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		classifier: NewKeywordClassifier(nil),
		window:     DefaultDecisionWindow,
		now:        time.Now,
		conditions: make(map[string]ConditionFunc),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.cache = newDecisionCache(r.window)
	switch p := provider.(type) {
	case nil:
	case *CachedProvider:
		r.provider = p
	default:
		r.provider = NewCachedProvider(p, WithProviderClock(r.now))
	}
	return r
}

// RegisterCondition stores a custom condition by name.
func (r *Resolver) RegisterCondition(name string, fn ConditionFunc) error {
	if name == "" || fn == nil {
		return fmt.Errorf("condition name and func required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.conditions[name]; exists {
		return fmt.Errorf("condition %s already registered", name)
	}
	r.conditions[name] = fn
	return nil
}

// Context resolves the organizational context for a user, failing closed.
func (r *Resolver) Context(ctx context.Context, userID, organizationID string) (*OrgContext, error) {
	if r.provider == nil {
		return nil, cloneProviderError("provider not configured", nil, userID, organizationID)
	}
	org, err := r.provider.GetContext(ctx, userID, organizationID)
	switch {
	case err != nil && IsProviderUnavailable(err):
		return nil, err
	case err != nil:
		return nil, cloneProviderError("failed to resolve organizational context", err, userID, organizationID)
	case org == nil:
		return nil, cloneProviderError("provider returned no context", nil, userID, organizationID)
	}
	return org, nil
}

// Roles derives the workflow roles an actor holds in org.
func (r *Resolver) Roles(actor Actor, org *OrgContext) RoleSet {
	set := NewRoleSet()
	if strings.TrimSpace(actor.ID) == "" {
		return set
	}
	set.Add(RoleRequestor)
	if org == nil {
		return set
	}
	for _, p := range org.Positions {
		set.Add(r.classifier.Classify(p)...)
	}
	return set
}

// HasPermission resolves org context for the actor and checks requirement.
func (r *Resolver) HasPermission(ctx context.Context, actor Actor, organizationID string, req Requirement, subject Subject) (bool, error) {
	org, err := r.Context(ctx, actor.ID, organizationID)
	if err != nil {
		return false, err
	}
	d, err := r.Check(ctx, CheckRequest{Actor: actor, Org: org, Requirement: req, Subject: subject})
	return d.Granted, err
}

// Check evaluates role, group, designation and contextual conditions, in that order.
func (r *Resolver) Check(ctx context.Context, req CheckRequest) (Decision, error) {
	if strings.TrimSpace(req.Actor.ID) == "" {
		return deny(DimensionAuthentication, "actor is not authenticated"), nil
	}
	if req.Org == nil {
		return deny(DimensionAuthentication, "organizational context missing"),
			cloneProviderError("organizational context missing", nil, req.Actor.ID, "")
	}

	now := r.now()
	fingerprint := req.Requirement.Fingerprint()
	static, hit := r.cache.get(req.Actor.ID, fingerprint, req.Org.OrganizationID, now)
	if hit {
		static.Cached = true
	} else {
		static = r.checkStatic(req)
		r.cache.put(req.Actor.ID, fingerprint, req.Org.OrganizationID, now, static)
	}
	if !static.Granted {
		return static, nil
	}

	for _, cond := range req.Requirement.Conditions {
		ok, err := r.evalCondition(ctx, cond, req, now)
		if err != nil {
			return deny(DimensionCondition, "%s: %v", cond, err), err
		}
		if !ok {
			return deny(DimensionCondition, "%s not satisfied", cond), nil
		}
	}
	return static, nil
}

// CacheStats reports decision cache counters.
func (r *Resolver) CacheStats() CacheStats {
	return r.cache.stats()
}

func (r *Resolver) checkStatic(req CheckRequest) Decision {
	reqm := req.Requirement
	if len(reqm.Actors) > 0 {
		roles := r.Roles(req.Actor, req.Org)
		if !roles.Intersects(reqm.Actors) {
			return deny(DimensionRole, "requires one of %v", reqm.Actors)
		}
	}
	if g := reqm.Group; g != nil && (g.Name != "" || g.Type != "") {
		if !matchesGroup(req.Org.Positions, *g) {
			return deny(DimensionGroup, "requires membership of %s %s", g.Type, g.Name)
		}
	}
	if len(reqm.Designations) > 0 {
		if !matchesDesignation(req.Org.Positions, reqm.Designations) {
			return deny(DimensionDesignation, "requires designation %v", reqm.Designations)
		}
	}
	return grant()
}

func matchesGroup(positions []Position, g GroupConstraint) bool {
	for _, p := range positions {
		if g.Type != "" && p.Group.Type != g.Type {
			continue
		}
		if g.Name != "" && !strings.EqualFold(strings.TrimSpace(p.Group.Name), strings.TrimSpace(g.Name)) {
			continue
		}
		return true
	}
	return false
}

func matchesDesignation(positions []Position, names []string) bool {
	for _, p := range positions {
		for _, name := range names {
			if strings.EqualFold(strings.TrimSpace(p.Designation.Name), strings.TrimSpace(name)) {
				return true
			}
		}
	}
	return false
}

func (r *Resolver) evalCondition(ctx context.Context, c Condition, req CheckRequest, now time.Time) (bool, error) {
	switch c.Kind {
	case ConditionOwnership:
		return req.Subject.CreatedBy != "" && req.Subject.CreatedBy == req.Actor.ID, nil
	case ConditionSameOrganization:
		return req.Subject.OrganizationID != "" && req.Subject.OrganizationID == req.Org.OrganizationID, nil
	case ConditionField:
		return predicate.Field(c.Field, c.Op, c.Value).Eval(ctx, predicate.Env{Data: req.Subject.Data})
	case ConditionTimeWindow:
		raw, ok := predicate.Lookup(req.Subject.Data, c.Field)
		if !ok {
			return false, nil
		}
		ts, ok := predicate.ToTime(raw)
		if !ok {
			return false, nil
		}
		return now.Sub(ts) <= c.Within, nil
	case ConditionCustom:
		r.mu.RLock()
		fn, ok := r.conditions[c.Name]
		r.mu.RUnlock()
		if !ok {
			return false, nil
		}
		return fn(ctx, req)
	default:
		return false, fmt.Errorf("unknown condition kind %q", c.Kind)
	}
}
