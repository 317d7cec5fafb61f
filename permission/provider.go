package permission

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	apperrors "github.com/goliatone/go-errors"
	"golang.org/x/sync/singleflight"
)

const ErrCodeProviderUnavailable = "WF_PROVIDER_UNAVAILABLE"

// DefaultContextTTL is how long a resolved organizational context is reused.
const DefaultContextTTL = 10 * time.Minute

// ErrProviderUnavailable is returned when organizational context cannot be resolved.
var ErrProviderUnavailable = apperrors.New("organizational context provider unavailable", apperrors.CategoryExternal).
	WithTextCode(ErrCodeProviderUnavailable)

// Provider resolves a user's positions within an organization.
type Provider interface {
	GetContext(ctx context.Context, userID, organizationID string) (*OrgContext, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, userID, organizationID string) (*OrgContext, error)

// GetContext calls the underlying function.
func (f ProviderFunc) GetContext(ctx context.Context, userID, organizationID string) (*OrgContext, error) {
	return f(ctx, userID, organizationID)
}

// StaticProvider serves positions from memory.
type StaticProvider struct {
	mu        sync.RWMutex
	positions map[string][]Position
}

// NewStaticProvider constructs an empty provider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{positions: make(map[string][]Position)}
}

// SetPositions replaces the positions of user in organization.
func (p *StaticProvider) SetPositions(userID, organizationID string, positions ...Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.positions[staticKey(userID, organizationID)] = append([]Position(nil), positions...)
}

// GetContext returns the stored positions. Unknown users resolve to an empty context.
func (p *StaticProvider) GetContext(_ context.Context, userID, organizationID string) (*OrgContext, error) {
	p.mu.RLock()
	positions := append([]Position(nil), p.positions[staticKey(userID, organizationID)]...)
	p.mu.RUnlock()
	return &OrgContext{
		UserID:         userID,
		OrganizationID: organizationID,
		Positions:      positions,
		Hierarchy:      Summarize(positions),
		ResolvedAt:     time.Now().UTC(),
	}, nil
}

func staticKey(userID, organizationID string) string {
	return strings.TrimSpace(userID) + "::" + strings.TrimSpace(organizationID)
}

type cachedContext struct {
	org       *OrgContext
	expiresAt time.Time
}

// CachedProvider memoizes contexts per (user, organization) for a fixed TTL and
// coalesces concurrent misses into one upstream call.
type CachedProvider struct {
	upstream Provider
	ttl      time.Duration
	now      func() time.Time

	mu        sync.Mutex
	entries   map[string]cachedContext
	nextSweep time.Time
	group     singleflight.Group
}

// CachedProviderOption customizes a CachedProvider.
type CachedProviderOption func(*CachedProvider)

// WithContextTTL overrides the cache expiry.
func WithContextTTL(ttl time.Duration) CachedProviderOption {
	return func(c *CachedProvider) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithProviderClock overrides the time source.
func WithProviderClock(now func() time.Time) CachedProviderOption {
	return func(c *CachedProvider) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCachedProvider wraps upstream with a TTL cache.
func NewCachedProvider(upstream Provider, opts ...CachedProviderOption) *CachedProvider {
	c := &CachedProvider{
		upstream: upstream,
		ttl:      DefaultContextTTL,
		now:      time.Now,
		entries:  make(map[string]cachedContext),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// GetContext returns a cached context or resolves it upstream.
// Upstream failures are wrapped as ErrProviderUnavailable and never cached.
func (c *CachedProvider) GetContext(ctx context.Context, userID, organizationID string) (*OrgContext, error) {
	if c == nil || c.upstream == nil {
		return nil, cloneProviderError("provider not configured", nil, userID, organizationID)
	}
	key := staticKey(userID, organizationID)
	now := c.now()

	c.mu.Lock()
	if entry, ok := c.entries[key]; ok {
		if now.Before(entry.expiresAt) {
			c.mu.Unlock()
			return entry.org.Clone(), nil
		}
		delete(c.entries, key)
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(key, func() (any, error) {
		org, err := c.upstream.GetContext(ctx, userID, organizationID)
		if err != nil {
			return nil, cloneProviderError("failed to resolve organizational context", err, userID, organizationID)
		}
		if org == nil {
			return nil, cloneProviderError("provider returned no context", nil, userID, organizationID)
		}
		org = org.Clone()
		if org.UserID == "" {
			org.UserID = userID
		}
		if org.OrganizationID == "" {
			org.OrganizationID = organizationID
		}
		c.store(key, org, c.now())
		return org, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*OrgContext).Clone(), nil
}

// store caches org and, at most once per TTL, drops every expired entry.
func (c *CachedProvider) store(key string, org *OrgContext, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !now.Before(c.nextSweep) {
		for k, entry := range c.entries {
			if !now.Before(entry.expiresAt) {
				delete(c.entries, k)
			}
		}
		c.nextSweep = now.Add(c.ttl)
	}
	c.entries[key] = cachedContext{org: org, expiresAt: now.Add(c.ttl)}
}

// Invalidate drops a cached context.
func (c *CachedProvider) Invalidate(userID, organizationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, staticKey(userID, organizationID))
}

// Len returns the number of cached contexts. Expired entries linger until they
// are read or swept.
func (c *CachedProvider) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func cloneProviderError(message string, source error, userID, organizationID string) *apperrors.Error {
	err := ErrProviderUnavailable.Clone()
	err.Message = message
	if source != nil {
		err.Source = source
	}
	return err.WithMetadata(map[string]any{
		"user_id":         userID,
		"organization_id": organizationID,
	})
}

// IsProviderUnavailable reports whether err carries the provider-unavailable code.
func IsProviderUnavailable(err error) bool {
	var ge *apperrors.Error
	return stderrors.As(err, &ge) && ge.TextCode == ErrCodeProviderUnavailable
}
