package rbac

import (
	"context"
	"slices"
	"strings"
)

// Capabilities is the typed permission set of one authenticated session. It
// is resolved once at login and never re-derived per handler.
type Capabilities struct {
	set map[string]struct{}
}

// NewCapabilities normalises permission names into a set.
func NewCapabilities(perms []string) Capabilities {
	set := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		p = normalize(p)
		if p == "" {
			continue
		}
		set[p] = struct{}{}
	}
	return Capabilities{set: set}
}

// Has reports whether perm is granted.
func (c Capabilities) Has(perm string) bool {
	_, ok := c.set[normalize(perm)]
	return ok
}

// HasAny reports whether at least one of perms is granted. An empty list is allowed.
func (c Capabilities) HasAny(perms ...string) bool {
	if len(perms) == 0 {
		return true
	}
	return slices.ContainsFunc(perms, c.Has)
}

// HasAll reports whether every perm is granted.
func (c Capabilities) HasAll(perms ...string) bool {
	for _, p := range perms {
		if !c.Has(p) {
			return false
		}
	}
	return true
}

// List returns granted permissions in sorted order.
func (c Capabilities) List() []string {
	out := make([]string, 0, len(c.set))
	for p := range c.set {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

func normalize(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}

type capabilitiesKey struct{}

// ContextWithCapabilities stores caps in ctx.
func ContextWithCapabilities(ctx context.Context, caps Capabilities) context.Context {
	return context.WithValue(ctx, capabilitiesKey{}, caps)
}

// CapabilitiesFromContext returns the capabilities attached by Middleware.Resolve.
func CapabilitiesFromContext(ctx context.Context) (Capabilities, bool) {
	caps, ok := ctx.Value(capabilitiesKey{}).(Capabilities)
	return caps, ok
}
