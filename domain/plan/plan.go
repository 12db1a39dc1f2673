// Package plan provides the subscription tier catalog and pure lookup functions.
package plan

import "sort"

// Names of the built-in tiers.
const (
	Starter    = "starter"
	Pro        = "pro"
	Enterprise = "enterprise"
)

// Limits is the immutable limit set of a tier (value type).
type Limits struct {
	RequestsPerMinute int64
	RequestsPerHour   int64
	RequestsPerDay    int64
	QuotaPerDay       int64
}

// Plan is a named tier with its limits.
type Plan struct {
	Name   string
	Limits Limits
}

// Defaults returns the built-in tier table.
func Defaults() []Plan {
	return []Plan{
		{Name: Starter, Limits: Limits{RequestsPerMinute: 10, RequestsPerHour: 100, RequestsPerDay: 1000, QuotaPerDay: 1000}},
		{Name: Pro, Limits: Limits{RequestsPerMinute: 50, RequestsPerHour: 1000, RequestsPerDay: 10000, QuotaPerDay: 10000}},
		{Name: Enterprise, Limits: Limits{RequestsPerMinute: 200, RequestsPerHour: 10000, RequestsPerDay: 100000, QuotaPerDay: 100000}},
	}
}

// Catalog maps plan names to limits. It is read-only after construction,
// so a single instance can be shared by every request.
type Catalog struct {
	plans    map[string]Limits
	fallback string
}

// NewCatalog builds a catalog from plans. fallback names the plan used for
// unrecognized names; if it is empty or unknown, "starter" is used, and if
// that is absent too, the first plan wins.
func NewCatalog(plans []Plan, fallback string) *Catalog {
	c := &Catalog{plans: make(map[string]Limits, len(plans))}
	for _, p := range plans {
		c.plans[p.Name] = p.Limits
	}

	switch {
	case c.has(fallback):
		c.fallback = fallback
	case c.has(Starter):
		c.fallback = Starter
	case len(plans) > 0:
		c.fallback = plans[0].Name
	}
	return c
}

// DefaultCatalog returns a catalog over the built-in tiers with starter as fallback.
func DefaultCatalog() *Catalog {
	return NewCatalog(Defaults(), Starter)
}

func (c *Catalog) has(name string) bool {
	if name == "" {
		return false
	}
	_, ok := c.plans[name]
	return ok
}

// Resolve returns the limits for name. Unknown names resolve to the fallback
// plan; resolved is the name actually used and found reports whether name
// itself was known.
func (c *Catalog) Resolve(name string) (limits Limits, resolved string, found bool) {
	if l, ok := c.plans[name]; ok {
		return l, name, true
	}
	return c.plans[c.fallback], c.fallback, false
}

// Limits is Resolve without the bookkeeping.
func (c *Catalog) Limits(name string) Limits {
	l, _, _ := c.Resolve(name)
	return l
}

// Fallback returns the name of the default plan.
func (c *Catalog) Fallback() string {
	return c.fallback
}

// List returns all plans sorted by daily quota, smallest first.
func (c *Catalog) List() []Plan {
	out := make([]Plan, 0, len(c.plans))
	for name, l := range c.plans {
		out = append(out, Plan{Name: name, Limits: l})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Limits.QuotaPerDay != out[j].Limits.QuotaPerDay {
			return out[i].Limits.QuotaPerDay < out[j].Limits.QuotaPerDay
		}
		return out[i].Name < out[j].Name
	})
	return out
}
