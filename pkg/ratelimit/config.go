package ratelimit

import (
	"fmt"
	"time"

	"github.com/platinummonkey/sitegate/pkg/auth"
)

// Tier is a named admission limit per window
type Tier struct {
	Name  string
	Limit int
}

// Tiers maps system roles to their admission tier
type Tiers map[auth.SystemRole]Tier

// DefaultTiers returns the per-minute limits for each system role
func DefaultTiers() Tiers {
	return Tiers{
		auth.RoleAdmin:      {Name: "ADMIN", Limit: 1000},
		auth.RoleStaff:      {Name: "STAFF", Limit: 600},
		auth.RoleContractor: {Name: "CONTRACTOR", Limit: 300},
		auth.RoleViewer:     {Name: "VIEWER", Limit: 120},
	}
}

// ForRole returns the tier for role. Unknown roles get the most restrictive tier.
func (t Tiers) ForRole(role auth.SystemRole) Tier {
	if tier, ok := t[role]; ok {
		return tier
	}
	return t.MostRestrictive()
}

// MostRestrictive returns the tier with the lowest limit
func (t Tiers) MostRestrictive() Tier {
	var lowest Tier
	found := false
	for _, tier := range t {
		if !found || tier.Limit < lowest.Limit {
			lowest = tier
			found = true
		}
	}
	if !found {
		return DefaultTiers()[auth.RoleViewer]
	}
	return lowest
}

// Config configures the limiter
type Config struct {
	// Window is the fixed window length shared by every tier
	Window time.Duration
	Tiers  Tiers

	// IPMultiplier scales the tier limit for the per-origin bucket
	IPMultiplier float64

	// Disabled admits everything. It exists for test environments only and
	// must never be set in production.
	Disabled bool

	// FailOpen admits requests when the bucket store errors
	FailOpen bool

	// SweepProbability is the chance that an Admit call also evicts stale buckets
	SweepProbability float64
	// EvictAfter is how long past its reset a bucket is kept
	EvictAfter time.Duration
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		Window:           time.Minute,
		Tiers:            DefaultTiers(),
		IPMultiplier:     1.5,
		SweepProbability: 0.01,
		EvictAfter:       5 * time.Minute,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}
	if c.IPMultiplier < 1 {
		return fmt.Errorf("rate limit IP multiplier must be at least 1")
	}
	if c.SweepProbability < 0 || c.SweepProbability > 1 {
		return fmt.Errorf("rate limit sweep probability must be between 0 and 1")
	}
	for role, tier := range c.Tiers {
		if tier.Limit <= 0 {
			return fmt.Errorf("rate limit for %s must be positive", role)
		}
	}
	return nil
}
