package domain

import (
	"time"

	"github.com/google/uuid"
)

// Tier is a tenant's subscription plan level.
type Tier string

const (
	TierTrial      Tier = "trial"
	TierStarter    Tier = "starter"
	TierGrowth     Tier = "growth"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierTrial, TierStarter, TierGrowth, TierPro, TierEnterprise:
		return true
	}
	return false
}

// AtLeastGrowth reports whether the tier unlocks the gated scan fields
// (GPU detection, owner attribution).
func (t Tier) AtLeastGrowth() bool {
	switch t {
	case TierGrowth, TierPro, TierEnterprise:
		return true
	}
	return false
}

// Cohort is a tier-derived grouping of tenants used to pace scheduled work.
type Cohort string

const (
	CohortHighValue Cohort = "HIGH_VALUE" // enterprise, pro: every 6 hours
	CohortActive    Cohort = "ACTIVE"     // growth: daily
	CohortDormant   Cohort = "DORMANT"    // starter, trial: weekly
)

// Tiers returns the tier predicate for the cohort.
func (c Cohort) Tiers() []Tier {
	switch c {
	case CohortHighValue:
		return []Tier{TierEnterprise, TierPro}
	case CohortActive:
		return []Tier{TierGrowth}
	case CohortDormant:
		return []Tier{TierStarter, TierTrial}
	}
	return nil
}

// CohortForTier maps a tier to its scheduling cohort.
func CohortForTier(t Tier) Cohort {
	switch t {
	case TierEnterprise, TierPro:
		return CohortHighValue
	case TierGrowth:
		return CohortActive
	default:
		return CohortDormant
	}
}

// RemediationMode controls what the remediation handler may do for a tenant.
type RemediationMode string

const (
	RemediationDisabled RemediationMode = "disabled"
	RemediationPlan     RemediationMode = "plan"    // record intended actions only
	RemediationExecute  RemediationMode = "execute" // actually apply allowed actions
)

// RemediationPolicy constrains automated remediation for a tenant.
type RemediationPolicy struct {
	Mode           RemediationMode
	AllowedActions []string // action tags, e.g. "delete_volume"
	MinConfidence  float64  // items below this confidence are never acted on
}

// Allows reports whether the policy permits acting on the given action tag
// with the given confidence.
func (p RemediationPolicy) Allows(action string, confidence float64) bool {
	if p.Mode == RemediationDisabled || p.Mode == "" {
		return false
	}
	if confidence < p.MinConfidence {
		return false
	}
	for _, a := range p.AllowedActions {
		if a == action {
			return true
		}
	}
	return false
}

// Tenant is an isolated customer organization, the unit of multi-tenancy and
// the key for row-level security.
type Tenant struct {
	ID          uuid.UUID
	Name        string
	Tier        Tier
	Status      string // active, suspended
	Remediation RemediationPolicy
	CreatedAt   time.Time
}

// Active reports whether the tenant participates in scheduled work.
func (t *Tenant) Active() bool {
	return t.Status == "active"
}
