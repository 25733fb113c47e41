package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Tier is the service level a project pays for.
type Tier string

const (
	TierEntry        Tier = "entry"
	TierArchive      Tier = "archive"
	TierXQuery       Tier = "xquery"
	TierHydraEntry   Tier = "hydra-entry"
	TierHydraArchive Tier = "hydra-archive"
)

func Tiers() []Tier {
	return []Tier{TierEntry, TierArchive, TierXQuery, TierHydraEntry, TierHydraArchive}
}

func ParseTier(s string) (Tier, error) {
	for _, t := range Tiers() {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown service tier %q", s)
}

// Family returns the lower (tier1) and upper (tier2) members of the tier's
// price ladder. Flat tiers are their own lower and upper bound.
func (t Tier) Family() (lower, upper Tier) {
	switch t {
	case TierEntry, TierArchive:
		return TierEntry, TierArchive
	case TierHydraEntry, TierHydraArchive:
		return TierHydraEntry, TierHydraArchive
	default:
		return t, t
	}
}

// Archive reports whether the tier is the upper rung of its family.
func (t Tier) Archive() bool {
	return t == TierArchive || t == TierHydraArchive
}

// TierTargets are the USD price points resolved for one tier selection.
// Selected is the target the client must reach; Tier1 and Tier2 decide the
// call allotment once a payment lands.
type TierTargets struct {
	Selected decimal.Decimal
	Tier1    decimal.Decimal
	Tier2    decimal.Decimal
}

// Offered is false when the node operator disabled the selected tier.
func (t TierTargets) Offered() bool { return !t.Selected.IsNegative() }

// Free is true when the selected tier costs nothing and activates at once.
func (t TierTargets) Free() bool { return t.Selected.IsZero() }
